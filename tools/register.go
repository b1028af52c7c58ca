package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"flowsheetmcp/dispatch"
)

// ServerName and ServerVersion identify the MCP server to clients.
const (
	ServerName    = "flowsheet-mcp"
	ServerVersion = "0.3.0"
)

// NewServer builds the MCP server with every tool registered. All handlers
// run through the dispatch queue so at most one touches the model at a time,
// solver calls included.
func NewServer(t *Toolbox, q *dispatch.Queue) *server.MCPServer {
	s := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	registerReadOnly(s, t, q)
	registerMutating(s, t, q)
	registerTransient(s, t, q)
	return s
}

// run executes a tool body on the queue and renders its result as indented
// JSON. Engine panics become an error field instead of killing the worker.
func run(q *dispatch.Queue, fn func() any) (*mcp.CallToolResult, error) {
	var out any
	err := q.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				out = map[string]any{"error": fmt.Sprintf("internal: %v", r)}
			}
		}()
		out = fn()
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(out), nil
}

func jsonResult(v any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultErrorf("encode result: %v", err)
	}
	return mcp.NewToolResultText(string(b))
}

func registerReadOnly(s *server.MCPServer, t *Toolbox, q *dispatch.Queue) {
	s.AddTool(mcp.NewTool(
		"flowsheet.model_summary",
		mcp.WithDescription("High-level model summary: degrees of freedom, variable and constraint counts."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return run(q, func() any { return t.ModelSummary() })
	})

	s.AddTool(mcp.NewTool(
		"flowsheet.list_models",
		mcp.WithDescription("Top-level block names, plus the flowsheet block's direct children when one exists."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return run(q, func() any { return t.ListModels() })
	})

	s.AddTool(mcp.NewTool(
		"flowsheet.fixed_variable_summary",
		mcp.WithDescription("Fixed variables grouped by block, sorted by (block, name), paginated."),
		mcp.WithNumber("limit", mcp.DefaultNumber(defaultPageSize), mcp.Description("page size, clamped to [1, 500]")),
		mcp.WithNumber("offset", mcp.DefaultNumber(0), mcp.Description("start index, clamped to >= 0")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := mcp.ParseInt(req, "limit", defaultPageSize)
		offset := mcp.ParseInt(req, "offset", 0)
		return run(q, func() any { return t.FixedVariableSummary(limit, offset) })
	})

	s.AddTool(mcp.NewTool(
		"flowsheet.list_variables",
		mcp.WithDescription("List variables with name/value/fixed/bounds, filtered and paginated."),
		mcp.WithString("pattern", mcp.Description("case-insensitive substring filter on names")),
		mcp.WithBoolean("only_unfixed", mcp.Description("return only variables with fixed == false")),
		mcp.WithNumber("limit", mcp.DefaultNumber(defaultPageSize), mcp.Description("page size, clamped to [1, 500]")),
		mcp.WithNumber("offset", mcp.DefaultNumber(0), mcp.Description("start index, clamped to >= 0")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pattern := mcp.ParseString(req, "pattern", "")
		onlyUnfixed := mcp.ParseBoolean(req, "only_unfixed", false)
		limit := mcp.ParseInt(req, "limit", defaultPageSize)
		offset := mcp.ParseInt(req, "offset", 0)
		return run(q, func() any { return t.ListVariables(pattern, onlyUnfixed, limit, offset) })
	})

	s.AddTool(mcp.NewTool(
		"flowsheet.list_constraints",
		mcp.WithDescription("List constraints with name/active/bounds, filtered and paginated."),
		mcp.WithString("pattern", mcp.Description("case-insensitive substring filter on names")),
		mcp.WithNumber("limit", mcp.DefaultNumber(defaultPageSize), mcp.Description("page size, clamped to [1, 500]")),
		mcp.WithNumber("offset", mcp.DefaultNumber(0), mcp.Description("start index, clamped to >= 0")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pattern := mcp.ParseString(req, "pattern", "")
		limit := mcp.ParseInt(req, "limit", defaultPageSize)
		offset := mcp.ParseInt(req, "offset", 0)
		return run(q, func() any { return t.ListConstraints(pattern, limit, offset) })
	})

	s.AddTool(mcp.NewTool(
		"flowsheet.top_constraint_residuals",
		mcp.WithDescription("Largest constraint residuals for feasibility triage, sorted descending."),
		mcp.WithNumber("n", mcp.DefaultNumber(50), mcp.Description("rows to return, clamped to [1, 500]")),
		mcp.WithString("pattern", mcp.Description("case-insensitive substring filter on names")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		n := mcp.ParseInt(req, "n", 50)
		pattern := mcp.ParseString(req, "pattern", "")
		return run(q, func() any { return t.TopConstraintResiduals(n, pattern) })
	})

	s.AddTool(mcp.NewTool(
		"flowsheet.run_diagnostics",
		mcp.WithDescription("Structural diagnostics report plus underconstrained and overconstrained set displays."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return run(q, func() any { return t.RunDiagnostics() })
	})

	s.AddTool(mcp.NewTool(
		"flowsheet.numerical_issues",
		mcp.WithDescription("Numerical diagnostics: extreme Jacobian entries, bound proximity, violated constraints."),
		mcp.WithNumber("tolerance", mcp.DefaultNumber(1e-4), mcp.Description("constraint violation tolerance")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tolerance := mcp.ParseFloat64(req, "tolerance", 1e-4)
		return run(q, func() any { return t.NumericalIssues(tolerance) })
	})

	s.AddTool(mcp.NewTool(
		"flowsheet.explain_infeasibility",
		mcp.WithDescription("Bound-violating variables and worst residuals at the current point."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return run(q, func() any { return t.ExplainInfeasibility() })
	})

	s.AddTool(mcp.NewTool(
		"flowsheet.dm_partition",
		mcp.WithDescription("Coarse Dulmage-Mendelsohn partition of active constraints and free variables."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return run(q, func() any { return t.DMPartition() })
	})

	s.AddTool(mcp.NewTool(
		"flowsheet.display_report",
		mcp.WithDescription("Render one named diagnostic report."),
		mcp.WithString("kind", mcp.Required(),
			mcp.Enum("structural", "numerical", "underconstrained", "overconstrained", "bounds", "residuals"),
			mcp.Description("which report to render")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		kind, err := req.RequireString("kind")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return run(q, func() any { return t.DisplayReport(kind) })
	})

	s.AddTool(mcp.NewTool(
		"flowsheet.near_parallel_constraints",
		mcp.WithDescription("Constraint pairs whose Jacobian rows are parallel within tolerance."),
		mcp.WithNumber("tolerance", mcp.DefaultNumber(1e-4), mcp.Description("1 - |cosine| threshold")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tolerance := mcp.ParseFloat64(req, "tolerance", 1e-4)
		return run(q, func() any { return t.NearParallelConstraints(tolerance) })
	})

	s.AddTool(mcp.NewTool(
		"flowsheet.ill_conditioning",
		mcp.WithDescription("Jacobian condition number certificate."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return run(q, func() any { return t.IllConditioning() })
	})

	s.AddTool(mcp.NewTool(
		"flowsheet.singular_value_analysis",
		mcp.WithDescription("Singular values, rank and null-space variables of the Jacobian."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return run(q, func() any { return t.SingularValueAnalysis() })
	})

	s.AddTool(mcp.NewTool(
		"flowsheet.degenerate_sets",
		mcp.WithDescription("Candidate irreducible degenerate constraint sets from near-zero singular values."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return run(q, func() any { return t.DegenerateSets() })
	})

	s.AddTool(mcp.NewTool(
		"flowsheet.flowsheet_report",
		mcp.WithDescription("Run each flowsheet child block's report and return the combined text."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return run(q, func() any { return t.FlowsheetReport() })
	})
}

func registerMutating(s *server.MCPServer, t *Toolbox, q *dispatch.Queue) {
	s.AddTool(mcp.NewTool(
		"flowsheet.fix_variables",
		mcp.WithDescription("Fix variables to values (persists until unfixed). Halts on the first non-variable path, keeping prior progress."),
		mcp.WithObject("values", mcp.Required(), mcp.Description("map of variable path to numeric value")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Values map[string]float64 `json:"values"`
		}
		if err := req.BindArguments(&args); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return run(q, func() any { return t.FixVariables(args.Values) })
	})

	s.AddTool(mcp.NewTool(
		"flowsheet.unfix_variables",
		mcp.WithDescription("Unfix variables (persists until re-fixed). Halts on the first non-variable path, keeping prior progress."),
		mcp.WithArray("paths", mcp.Required(), mcp.WithStringItems(), mcp.Description("variable paths to unfix")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Paths []string `json:"paths"`
		}
		if err := req.BindArguments(&args); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return run(q, func() any { return t.UnfixVariables(args.Paths) })
	})

	s.AddTool(mcp.NewTool(
		"flowsheet.set_constraints_active",
		mcp.WithDescription("Bulk activate or deactivate constraints."),
		mcp.WithArray("paths", mcp.Required(), mcp.WithStringItems(), mcp.Description("constraint paths")),
		mcp.WithBoolean("active", mcp.Required(), mcp.Description("true to activate, false to deactivate")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Paths  []string `json:"paths"`
			Active bool     `json:"active"`
		}
		if err := req.BindArguments(&args); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return run(q, func() any { return t.SetConstraintsActive(args.Paths, args.Active) })
	})

	s.AddTool(mcp.NewTool(
		"flowsheet.set_variable_bounds",
		mcp.WithDescription("Set or clear variable bounds. Per path: an omitted key leaves that bound untouched, an explicit null clears it, a number sets it."),
		mcp.WithObject("bounds", mcp.Required(), mcp.Description("map of variable path to {lower?, upper?}")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Bounds map[string]BoundSpec `json:"bounds"`
		}
		if err := req.BindArguments(&args); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return run(q, func() any { return t.SetVariableBounds(args.Bounds) })
	})
}

func registerTransient(s *server.MCPServer, t *Toolbox, q *dispatch.Queue) {
	s.AddTool(mcp.NewTool(
		"flowsheet.solve_one_point",
		mcp.WithDescription("Temporarily fix variables, solve once, restore prior fixed/value state on every outcome."),
		mcp.WithObject("values", mcp.Required(), mcp.Description("map of variable path to operating-point value")),
		mcp.WithString("solver", mcp.DefaultString(DefaultSolverName), mcp.Description("registered solver name")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Values map[string]float64 `json:"values"`
			Solver string             `json:"solver"`
		}
		if err := req.BindArguments(&args); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return run(q, func() any { return t.SolveOnePoint(ctx, args.Values, args.Solver) })
	})

	s.AddTool(mcp.NewTool(
		"flowsheet.solve_flowsheet",
		mcp.WithDescription("Solve the live model in place; solution state stays in the model."),
		mcp.WithString("solver", mcp.DefaultString(DefaultSolverName), mcp.Description("registered solver name")),
		mcp.WithBoolean("tee", mcp.Description("echo solver progress to the server log")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		solverName := mcp.ParseString(req, "solver", DefaultSolverName)
		tee := mcp.ParseBoolean(req, "tee", false)
		return run(q, func() any { return t.SolveFlowsheet(ctx, solverName, tee) })
	})

	s.AddTool(mcp.NewTool(
		"flowsheet.convergence_analysis",
		mcp.WithDescription("Sweep a uniform grid over each input's declared bounds and solve every point sequentially."),
		mcp.WithArray("inputs", mcp.Required(), mcp.WithStringItems(), mcp.Description("variable paths with both bounds set")),
		mcp.WithArray("sample_sizes", mcp.Required(), mcp.Description("samples per input, same length as inputs")),
		mcp.WithString("solver", mcp.DefaultString(DefaultSolverName), mcp.Description("registered solver name")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Inputs      []string `json:"inputs"`
			SampleSizes []int    `json:"sample_sizes"`
			Solver      string   `json:"solver"`
		}
		if err := req.BindArguments(&args); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return run(q, func() any { return t.ConvergenceAnalysis(ctx, args.Inputs, args.SampleSizes, args.Solver) })
	})

	s.AddTool(mcp.NewTool(
		"flowsheet.step_solve",
		mcp.WithDescription("Solve in capped-iteration steps, tracking expression values after each step, to watch convergence behavior."),
		mcp.WithArray("expressions", mcp.Required(), mcp.WithStringItems(), mcp.Description("variable or constraint paths to track")),
		mcp.WithNumber("max_iter", mcp.DefaultNumber(10), mcp.Description("maximum solver steps")),
		mcp.WithString("solver", mcp.DefaultString(DefaultSolverName), mcp.Description("registered solver name")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Expressions []string `json:"expressions"`
			MaxIter     int      `json:"max_iter"`
			Solver      string   `json:"solver"`
		}
		args.MaxIter = 10
		if err := req.BindArguments(&args); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return run(q, func() any { return t.StepSolve(ctx, args.Expressions, args.MaxIter, args.Solver) })
	})
}
