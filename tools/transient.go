package tools

import (
	"context"
	"fmt"
	"time"

	"flowsheetmcp/model"
	"flowsheetmcp/solver"
)

// undoLog is a typed record of reversible variable mutations. Entries are
// applied in strict reverse order inside a deferred restore, so the model
// reverts on every exit path: normal return, solver failure, or setup error.
type undoLog struct {
	entries []undoEntry
}

type undoEntry struct {
	v     *model.Var
	value float64
	fixed bool
}

func (l *undoLog) record(v *model.Var) {
	l.entries = append(l.entries, undoEntry{v: v, value: v.Value(), fixed: v.Fixed()})
}

// restore undoes every recorded mutation. A variable that was fixed before
// gets its prior value and fixed flag back; one that was free is unfixed
// again, its value left to whatever the solve produced.
func (l *undoLog) restore() {
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		e.v.Unfix()
		if e.fixed {
			e.v.Fix(e.value)
		}
	}
	l.entries = nil
}

// SolveResult reports one solver invocation. Success is true only on optimal
// termination with no error.
type SolveResult struct {
	Success     bool   `json:"success"`
	Termination string `json:"termination"`
	Message     string `json:"message,omitempty"`
	Iterations  int    `json:"iterations,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SolveOnePoint temporarily fixes the given variables, solves once, and
// restores the prior fixed/value state regardless of the outcome.
func (t *Toolbox) SolveOnePoint(ctx context.Context, values map[string]float64, solverName string) SolveResult {
	var und undoLog
	defer und.restore()

	for _, path := range sortedKeys(values) {
		comp, ok := t.m.Resolve(path)
		if !ok {
			return SolveResult{Error: fmt.Sprintf("component %s not found", path)}
		}
		v, ok := comp.(*model.Var)
		if !ok {
			return SolveResult{Error: fmt.Sprintf("component %s is not a fixable variable", path)}
		}
		und.record(v)
		v.Fix(values[path])
	}

	s, err := t.solverByName(solverName)
	if err != nil {
		return SolveResult{Error: err.Error()}
	}
	return t.runSolve(ctx, s, solver.Options{})
}

// SolveFlowsheet solves the live model in place; the solution state is left
// in the model.
func (t *Toolbox) SolveFlowsheet(ctx context.Context, solverName string, tee bool) SolveResult {
	s, err := t.solverByName(solverName)
	if err != nil {
		return SolveResult{Error: err.Error()}
	}
	return t.runSolve(ctx, s, solver.Options{Tee: tee})
}

func (t *Toolbox) runSolve(ctx context.Context, s solver.Solver, opts solver.Options) SolveResult {
	r, err := s.Solve(ctx, t.m, opts)
	res := SolveResult{
		Termination: string(r.Termination),
		Message:     r.Message,
		Iterations:  r.Iterations,
		Success:     err == nil && r.Termination == solver.Optimal,
	}
	if err != nil {
		res.Error = err.Error()
		t.log.Warn("solve failed", "err", err)
	}
	return res
}

// SweepSample is one operating point of a convergence analysis.
type SweepSample struct {
	Values         map[string]float64 `json:"values"`
	Success        bool               `json:"success"`
	Termination    string             `json:"termination"`
	Iterations     int                `json:"iterations"`
	ElapsedMS      float64            `json:"elapsed_ms"`
	NumericalIssue bool               `json:"numerical_issue"`
}

// SweepResult aggregates a convergence analysis run.
type SweepResult struct {
	Samples  []SweepSample `json:"samples"`
	NSamples int           `json:"n_samples"`
	NSuccess int           `json:"n_success"`
	Error    string        `json:"error,omitempty"`
}

// ConvergenceAnalysis samples a uniform grid over each input's declared
// [lower, upper] range, solves the cross product of points sequentially, and
// aggregates per-sample iterations, wall time and a numerical-issue flag. Any
// setup problem short-circuits before the first solve. Samples never run in
// parallel: each solve mutates the shared model and must finish before the
// next begins.
func (t *Toolbox) ConvergenceAnalysis(ctx context.Context, inputs []string, sampleSizes []int, solverName string) SweepResult {
	res := SweepResult{Samples: []SweepSample{}}
	if len(inputs) != len(sampleSizes) {
		res.Error = fmt.Sprintf("inputs and sample_sizes must have equal length (%d vs %d)", len(inputs), len(sampleSizes))
		return res
	}
	if len(inputs) == 0 {
		res.Error = "no inputs given"
		return res
	}

	s, err := t.solverByName(solverName)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	vars := make([]*model.Var, len(inputs))
	grids := make([][]float64, len(inputs))
	for i, path := range inputs {
		comp, ok := t.m.Resolve(path)
		if !ok {
			res.Error = fmt.Sprintf("component %s not found", path)
			return res
		}
		v, ok := comp.(*model.Var)
		if !ok {
			res.Error = fmt.Sprintf("component %s is not a variable", path)
			return res
		}
		lo, hi := v.Lower(), v.Upper()
		if lo == nil || hi == nil {
			res.Error = fmt.Sprintf("variable %s needs both bounds to define a sweep range", path)
			return res
		}
		n := sampleSizes[i]
		if n < 1 {
			res.Error = fmt.Sprintf("sample size for %s must be >= 1, got %d", path, n)
			return res
		}
		vars[i] = v
		grids[i] = uniformGrid(*lo, *hi, n)
	}

	// the swept inputs' prior fixed/value state comes back at the end; the
	// rest of the model keeps the last sample's solution
	var und undoLog
	for _, v := range vars {
		und.record(v)
	}
	defer und.restore()

	point := make([]int, len(inputs))
	for {
		sample := SweepSample{Values: make(map[string]float64, len(inputs))}
		for i, v := range vars {
			val := grids[i][point[i]]
			v.Fix(val)
			sample.Values[inputs[i]] = val
		}

		start := time.Now()
		r, serr := s.Solve(ctx, t.m, solver.Options{})
		sample.ElapsedMS = float64(time.Since(start).Microseconds()) / 1000
		sample.Termination = string(r.Termination)
		sample.Iterations = r.Iterations
		sample.Success = serr == nil && r.Termination == solver.Optimal
		sample.NumericalIssue = serr != nil || t.diag.QuickNumericalCheck()
		if sample.Success {
			res.NSuccess++
		}
		res.Samples = append(res.Samples, sample)

		if !nextPoint(point, grids) {
			break
		}
	}
	res.NSamples = len(res.Samples)
	return res
}

// uniformGrid returns n evenly spaced points over [lo, hi] inclusive; a
// single sample lands on the midpoint.
func uniformGrid(lo, hi float64, n int) []float64 {
	if n == 1 {
		return []float64{(lo + hi) / 2}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	return out
}

// nextPoint advances the mixed-radix counter over the grid cross product.
func nextPoint(point []int, grids [][]float64) bool {
	for i := len(point) - 1; i >= 0; i-- {
		point[i]++
		if point[i] < len(grids[i]) {
			return true
		}
		point[i] = 0
	}
	return false
}

// StepSolveResult tracks expression values across capped solver steps.
type StepSolveResult struct {
	// Values[k][s] is tracked expression k after step s.
	Values      [][]*float64 `json:"values"`
	Steps       int          `json:"steps"`
	Termination string       `json:"termination,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// StepSolve repeatedly solves with an increasing iteration cap, recording each
// tracked expression's value after every step, and stops at the first
// termination other than the iteration limit. Useful for watching how values
// drift while a difficult model converges. The model is solved in place.
func (t *Toolbox) StepSolve(ctx context.Context, expressions []string, maxIter int, solverName string) StepSolveResult {
	res := StepSolveResult{Values: [][]*float64{}}
	if maxIter < 1 {
		res.Error = fmt.Sprintf("max_iter must be >= 1, got %d", maxIter)
		return res
	}
	s, err := t.solverByName(solverName)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	tracked := make([]model.Expr, len(expressions))
	for i, path := range expressions {
		comp, ok := t.m.Resolve(path)
		if !ok {
			res.Error = fmt.Sprintf("component %s not found", path)
			return res
		}
		switch c := comp.(type) {
		case *model.Var:
			tracked[i] = c.Expr()
		case *model.Con:
			tracked[i] = c.Body()
		default:
			res.Error = fmt.Sprintf("component %s is not a variable or constraint", path)
			return res
		}
	}
	res.Values = make([][]*float64, len(tracked))
	for i := range res.Values {
		res.Values[i] = []*float64{}
	}

	for iter := 1; iter <= maxIter; iter++ {
		r, serr := s.Solve(ctx, t.m, solver.Options{MaxIter: iter})
		if serr != nil {
			res.Error = serr.Error()
			return res
		}
		for i, e := range tracked {
			res.Values[i] = append(res.Values[i], floatPtr(EvaluateExpr(e)))
		}
		res.Steps++
		res.Termination = string(r.Termination)
		if r.Termination != solver.MaxIterations {
			break
		}
	}
	return res
}
