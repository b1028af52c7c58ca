package solver

import (
	"context"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/mat"

	"flowsheetmcp/model"
)

const (
	defaultMaxIter = 50
	defaultTol     = 1e-8
	fdStep         = 1e-7
	maxDampings    = 8
)

// Newton is a dense damped-Newton solver for square equality systems. The
// Jacobian comes from central finite differences, the linear step from an LU
// solve, and a step-halving line search keeps the residual norm decreasing.
type Newton struct {
	// Progress receives per-iteration lines when Options.Tee is set.
	Progress io.Writer
}

// NewNewton returns a Newton solver with no progress writer.
func NewNewton() *Newton { return &Newton{} }

func (n *Newton) Solve(ctx context.Context, m *model.Model, opts Options) (Result, error) {
	maxIter := opts.MaxIter
	if maxIter <= 0 {
		maxIter = defaultMaxIter
	}
	tol := opts.Tol
	if tol <= 0 {
		tol = defaultTol
	}

	vars := m.FreeVars()
	cons := m.ActiveCons()
	if len(vars) != len(cons) {
		return Result{
			Termination: Error,
			Message:     fmt.Sprintf("system is not square: %d free variables, %d active constraints", len(vars), len(cons)),
		}, nil
	}
	for _, c := range cons {
		if !c.IsEquality() {
			return Result{
				Termination: Error,
				Message:     fmt.Sprintf("constraint %s is not an equality; inequalities are unsupported", c.Path()),
			}, nil
		}
	}
	dim := len(vars)
	if dim == 0 {
		return Result{Termination: Optimal, Message: "empty system"}, nil
	}

	x := mat.NewVecDense(dim, nil)
	for i, v := range vars {
		val := v.Value()
		if math.IsNaN(val) {
			val = 1.0 // arbitrary finite start for undefined variables
		}
		x.SetVec(i, val)
	}

	f := mat.NewVecDense(dim, nil)
	jac := mat.NewDense(dim, dim, nil)
	step := mat.NewVecDense(dim, nil)

	setValues := func(v *mat.VecDense) {
		for i, fv := range vars {
			fv.SetValue(v.AtVec(i))
		}
	}
	residuals := func(out *mat.VecDense) error {
		for i, c := range cons {
			body := c.Body()()
			if math.IsNaN(body) || math.IsInf(body, 0) {
				return fmt.Errorf("constraint %s evaluated to a non-finite value", c.Path())
			}
			out.SetVec(i, body-*c.Lower())
		}
		return nil
	}

	setValues(x)
	if err := residuals(f); err != nil {
		return Result{Termination: Error, Message: err.Error()}, nil
	}
	norm := mat.Norm(f, math.Inf(1))

	for iter := 1; iter <= maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return Result{Termination: Error, Message: "solve cancelled", Iterations: iter - 1}, err
		}
		if norm <= tol {
			return Result{Termination: Optimal, Message: "converged", Iterations: iter - 1}, nil
		}

		if err := n.fillJacobian(jac, vars, cons, x); err != nil {
			return Result{Termination: Error, Message: err.Error(), Iterations: iter}, nil
		}
		if err := step.SolveVec(jac, f); err != nil {
			setValues(x)
			return Result{Termination: Error, Message: "singular Jacobian", Iterations: iter}, nil
		}

		// damped update: halve the step until the residual norm drops
		alpha := 1.0
		trial := mat.NewVecDense(dim, nil)
		improved := false
		for d := 0; d <= maxDampings; d++ {
			trial.AddScaledVec(x, -alpha, step)
			setValues(trial)
			if err := residuals(f); err == nil {
				if trialNorm := mat.Norm(f, math.Inf(1)); trialNorm < norm || trialNorm <= tol {
					x.CopyVec(trial)
					norm = trialNorm
					improved = true
					break
				}
			}
			alpha /= 2
		}
		if !improved {
			// accept the most damped step anyway and keep iterating
			x.CopyVec(trial)
			setValues(x)
			if err := residuals(f); err != nil {
				return Result{Termination: Error, Message: err.Error(), Iterations: iter}, nil
			}
			norm = mat.Norm(f, math.Inf(1))
		}

		if opts.Tee && n.Progress != nil {
			fmt.Fprintf(n.Progress, "iter %d residual %.3e alpha %.3g\n", iter, norm, alpha)
		}
	}

	setValues(x)
	if norm <= tol {
		return Result{Termination: Optimal, Message: "converged", Iterations: maxIter}, nil
	}
	return Result{
		Termination: MaxIterations,
		Message:     fmt.Sprintf("iteration limit %d reached, residual %.3e", maxIter, norm),
		Iterations:  maxIter,
	}, nil
}

func (n *Newton) fillJacobian(jac *mat.Dense, vars []*model.Var, cons []*model.Con, x *mat.VecDense) error {
	dim := len(vars)
	for j := 0; j < dim; j++ {
		base := x.AtVec(j)
		h := fdStep * math.Max(1, math.Abs(base))
		vars[j].SetValue(base + h)
		for i, c := range cons {
			jac.Set(i, j, c.Body()())
		}
		vars[j].SetValue(base - h)
		for i, c := range cons {
			plus := jac.At(i, j)
			minus := c.Body()()
			d := (plus - minus) / (2 * h)
			if math.IsNaN(d) || math.IsInf(d, 0) {
				vars[j].SetValue(base)
				return fmt.Errorf("non-finite Jacobian entry for constraint %s wrt %s", cons[i].Path(), vars[j].Path())
			}
			jac.Set(i, j, d)
		}
		vars[j].SetValue(base)
	}
	return nil
}
