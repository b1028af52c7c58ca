// Package tools implements the diagnostic tool set served over MCP: read-only
// model introspection, persistent fix/unfix/bounds/activation edits, and
// transient solve operations that restore model state on every exit path.
// Failures are data: every tool returns a structured result, with an "error"
// field when something went wrong, never a transport fault.
package tools

import (
	"fmt"
	"log/slog"
	"sort"

	"flowsheetmcp/diagnostics"
	"flowsheetmcp/model"
	"flowsheetmcp/solver"
)

// DefaultSolverName is used when a solve tool is called without a solver
// argument.
const DefaultSolverName = "newton"

// Toolbox holds the shared model and its collaborators. Methods are the tool
// implementations; they assume the dispatch queue serializes calls and take no
// lock themselves.
type Toolbox struct {
	m       *model.Model
	diag    *diagnostics.Engine
	solvers map[string]solver.Solver
	log     *slog.Logger
}

// NewToolbox wires a toolbox around the model. solvers maps solver names to
// implementations; log may be nil for a silent toolbox.
func NewToolbox(m *model.Model, solvers map[string]solver.Solver, log *slog.Logger) *Toolbox {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Toolbox{
		m:       m,
		diag:    diagnostics.New(m),
		solvers: solvers,
		log:     log,
	}
}

func (t *Toolbox) solverByName(name string) (solver.Solver, error) {
	if name == "" {
		name = DefaultSolverName
	}
	s, ok := t.solvers[name]
	if !ok {
		names := make([]string, 0, len(t.solvers))
		for n := range t.solvers {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown solver %q (available: %v)", name, names)
	}
	return s, nil
}

// sortedKeys gives map-input tools a deterministic processing order, which the
// fail-fast batch semantics depend on.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
