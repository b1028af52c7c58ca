// Package solver defines the nonlinear solve contract the tool layer calls
// into, plus a built-in dense Newton solver good enough to drive the demo
// flowsheets. Any solver returning a termination condition can be plugged in.
package solver

import (
	"context"

	"flowsheetmcp/model"
)

// Termination is the solver's exit condition. Optimal is the only condition
// the tool layer treats as success.
type Termination string

const (
	Optimal       Termination = "optimal"
	Infeasible    Termination = "infeasible"
	MaxIterations Termination = "maxIterations"
	Error         Termination = "error"
	Unknown       Termination = "unknown"
)

// Options tune a single solve call.
type Options struct {
	// MaxIter caps solver iterations; 0 means the solver's default.
	MaxIter int
	// Tol is the convergence tolerance on the residual norm; 0 means default.
	Tol float64
	// Tee echoes per-iteration progress to the solver's writer, if it has one.
	Tee bool
}

// Result carries the outcome of one solve.
type Result struct {
	Termination Termination
	Message     string
	Iterations  int
}

// Solver solves the model's active equality system in place, mutating free
// variable values. Implementations must not touch fixed flags or bounds.
type Solver interface {
	Solve(ctx context.Context, m *model.Model, opts Options) (Result, error)
}
