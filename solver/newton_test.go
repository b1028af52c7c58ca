package solver

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowsheetmcp/model"
)

// quadraticModel pins x by x^2 == 4 with a positive start, converging to 2.
func quadraticModel() (*model.Model, *model.Var) {
	m := model.New()
	b := m.AddBlock("b")
	x := b.AddVar("x", 3)
	b.AddEq("square", model.Pow(x.Expr(), 2), 4)
	return m, x
}

func TestSolveQuadratic(t *testing.T) {
	m, x := quadraticModel()
	r, err := NewNewton().Solve(context.Background(), m, Options{})
	require.NoError(t, err)
	assert.Equal(t, Optimal, r.Termination)
	assert.Greater(t, r.Iterations, 0)
	assert.InDelta(t, 2.0, x.Value(), 1e-7)
}

func TestSolveCoupledSystem(t *testing.T) {
	// x + y == 10, x - y == 4  ->  x = 7, y = 3
	m := model.New()
	b := m.AddBlock("b")
	x := b.AddVar("x", 1)
	y := b.AddVar("y", 1)
	b.AddEq("sum", model.Sum(x.Expr(), y.Expr()), 10)
	b.AddEq("diff", model.Sub(x.Expr(), y.Expr()), 4)

	r, err := NewNewton().Solve(context.Background(), m, Options{})
	require.NoError(t, err)
	assert.Equal(t, Optimal, r.Termination)
	assert.InDelta(t, 7.0, x.Value(), 1e-7)
	assert.InDelta(t, 3.0, y.Value(), 1e-7)
}

func TestSolveNonSquare(t *testing.T) {
	m := model.New()
	b := m.AddBlock("b")
	x := b.AddVar("x", 1)
	b.AddVar("y", 1)
	b.AddEq("pin", x.Expr(), 2)

	r, err := NewNewton().Solve(context.Background(), m, Options{})
	require.NoError(t, err)
	assert.Equal(t, Error, r.Termination)
	assert.Contains(t, r.Message, "not square")
}

func TestSolveRejectsInequality(t *testing.T) {
	m := model.New()
	b := m.AddBlock("b")
	x := b.AddVar("x", 1)
	c := b.AddCon("floor", x.Expr())
	lo := 0.0
	c.SetLower(&lo)

	r, err := NewNewton().Solve(context.Background(), m, Options{})
	require.NoError(t, err)
	assert.Equal(t, Error, r.Termination)
	assert.Contains(t, r.Message, "inequalities are unsupported")
}

func TestSolveEmptySystem(t *testing.T) {
	m := model.New()
	b := m.AddBlock("b")
	b.AddVar("x", 1).Fix(1)

	r, err := NewNewton().Solve(context.Background(), m, Options{})
	require.NoError(t, err)
	assert.Equal(t, Optimal, r.Termination)
}

func TestSolveIterationCap(t *testing.T) {
	m, _ := quadraticModel()
	r, err := NewNewton().Solve(context.Background(), m, Options{MaxIter: 1})
	require.NoError(t, err)
	assert.Equal(t, MaxIterations, r.Termination)
	assert.Equal(t, 1, r.Iterations)
	assert.Contains(t, r.Message, "iteration limit")
}

func TestSolveUndefinedStart(t *testing.T) {
	m := model.New()
	b := m.AddBlock("b")
	x := b.AddVar("x", math.NaN())
	b.AddEq("pin", x.Expr(), 6)

	r, err := NewNewton().Solve(context.Background(), m, Options{})
	require.NoError(t, err)
	assert.Equal(t, Optimal, r.Termination)
	assert.InDelta(t, 6.0, x.Value(), 1e-7)
}

func TestSolveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m, _ := quadraticModel()
	r, err := NewNewton().Solve(ctx, m, Options{})
	require.Error(t, err)
	assert.Equal(t, Error, r.Termination)
}

func TestSolveTeeProgress(t *testing.T) {
	var buf strings.Builder
	n := &Newton{Progress: &buf}
	m, _ := quadraticModel()

	r, err := n.Solve(context.Background(), m, Options{Tee: true})
	require.NoError(t, err)
	assert.Equal(t, Optimal, r.Termination)
	assert.Contains(t, buf.String(), "iter 1 residual")
}
