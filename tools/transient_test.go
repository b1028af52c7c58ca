package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowsheetmcp/model"
	"flowsheetmcp/solver"
)

// fakeSolver returns a canned result and optionally mutates the model, so the
// restore semantics can be tested without real numerics.
type fakeSolver struct {
	result solver.Result
	err    error
	fn     func(m *model.Model)
	calls  int
	opts   []solver.Options
}

func (f *fakeSolver) Solve(_ context.Context, m *model.Model, opts solver.Options) (solver.Result, error) {
	f.calls++
	f.opts = append(f.opts, opts)
	if f.fn != nil {
		f.fn(m)
	}
	return f.result, f.err
}

func optimal() *fakeSolver {
	return &fakeSolver{result: solver.Result{Termination: solver.Optimal, Iterations: 3}}
}

func TestSolveOnePointRestoresFreeVariable(t *testing.T) {
	fake := optimal()
	tb := newTestToolbox(t, map[string]solver.Solver{"newton": fake})

	cVar, _ := tb.m.Resolve("fs.split.c")
	fake.fn = func(*model.Model) { cVar.(*model.Var).SetValue(42) }

	bVar, _ := tb.m.Resolve("fs.mixer.b")
	b := bVar.(*model.Var)
	require.False(t, b.Fixed())

	res := tb.SolveOnePoint(context.Background(), map[string]float64{"fs.mixer.b": 9}, "")
	assert.True(t, res.Success)
	assert.Equal(t, "optimal", res.Termination)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 1, fake.calls)

	assert.False(t, b.Fixed(), "a previously free variable is freed again")
	assert.Equal(t, 42.0, cVar.(*model.Var).Value(), "solution values outside the scan point persist")
}

func TestSolveOnePointRestoresFixedVariable(t *testing.T) {
	fake := optimal()
	tb := newTestToolbox(t, map[string]solver.Solver{"newton": fake})

	aVar, _ := tb.m.Resolve("fs.mixer.a")
	a := aVar.(*model.Var)
	require.True(t, a.Fixed())
	require.Equal(t, 2.0, a.Value())

	res := tb.SolveOnePoint(context.Background(), map[string]float64{"fs.mixer.a": 99}, "newton")
	assert.True(t, res.Success)

	assert.True(t, a.Fixed(), "a previously fixed variable stays fixed")
	assert.Equal(t, 2.0, a.Value(), "and gets its prior value back")
}

func TestSolveOnePointRestoresOnFailure(t *testing.T) {
	fake := &fakeSolver{result: solver.Result{Termination: solver.Error, Message: "singular"}, err: assert.AnError}
	tb := newTestToolbox(t, map[string]solver.Solver{"newton": fake})

	bVar, _ := tb.m.Resolve("fs.mixer.b")
	b := bVar.(*model.Var)

	res := tb.SolveOnePoint(context.Background(), map[string]float64{"fs.mixer.b": 9}, "newton")
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.False(t, b.Fixed(), "restore runs on the failure path too")
}

func TestSolveOnePointBadPath(t *testing.T) {
	fake := optimal()
	tb := newTestToolbox(t, map[string]solver.Solver{"newton": fake})

	res := tb.SolveOnePoint(context.Background(), map[string]float64{"fs.no.where": 1}, "newton")
	assert.Contains(t, res.Error, "fs.no.where")
	assert.Equal(t, 0, fake.calls, "setup failures never reach the solver")

	res = tb.SolveOnePoint(context.Background(), map[string]float64{"fs.mixer.sum": 1}, "newton")
	assert.Contains(t, res.Error, "not a fixable variable")
}

func TestSolveUnknownSolver(t *testing.T) {
	tb := newTestToolbox(t, map[string]solver.Solver{"newton": optimal()})
	res := tb.SolveFlowsheet(context.Background(), "ipopt", false)
	assert.Contains(t, res.Error, `unknown solver "ipopt"`)
}

func TestSolveFlowsheetLeavesStateInPlace(t *testing.T) {
	fake := optimal()
	tb := newTestToolbox(t, map[string]solver.Solver{"newton": fake})

	cVar, _ := tb.m.Resolve("fs.split.c")
	fake.fn = func(*model.Model) { cVar.(*model.Var).SetValue(4.5) }

	res := tb.SolveFlowsheet(context.Background(), "", true)
	assert.True(t, res.Success)
	assert.Equal(t, 4.5, cVar.(*model.Var).Value())
	require.Len(t, fake.opts, 1)
	assert.True(t, fake.opts[0].Tee)
}

func TestConvergenceAnalysisLengthMismatch(t *testing.T) {
	tb := newTestToolbox(t, map[string]solver.Solver{"newton": optimal()})
	res := tb.ConvergenceAnalysis(context.Background(), []string{"fs.mixer.b"}, []int{2, 3}, "")
	assert.Contains(t, res.Error, "equal length")
	assert.Empty(t, res.Samples)
}

func TestConvergenceAnalysisNeedsBounds(t *testing.T) {
	fake := optimal()
	tb := newTestToolbox(t, map[string]solver.Solver{"newton": fake})
	res := tb.ConvergenceAnalysis(context.Background(), []string{"fs.mixer.b"}, []int{2}, "")
	assert.Contains(t, res.Error, "both bounds")
	assert.Equal(t, 0, fake.calls)
}

func TestConvergenceAnalysisSweep(t *testing.T) {
	fake := optimal()
	tb := newTestToolbox(t, map[string]solver.Solver{"newton": fake})

	bVar, _ := tb.m.Resolve("fs.mixer.b")
	b := bVar.(*model.Var)
	lo, hi := 0.0, 10.0
	b.SetBounds(&lo, &hi)
	cVar, _ := tb.m.Resolve("fs.split.c")
	c := cVar.(*model.Var)
	clo, chi := 1.0, 3.0
	c.SetBounds(&clo, &chi)

	res := tb.ConvergenceAnalysis(context.Background(), []string{"fs.mixer.b", "fs.split.c"}, []int{3, 2}, "")
	assert.Empty(t, res.Error)
	assert.Equal(t, 6, res.NSamples, "the cross product of the per-input grids")
	assert.Equal(t, 6, res.NSuccess)
	assert.Equal(t, 6, fake.calls)

	first := res.Samples[0]
	assert.Equal(t, 0.0, first.Values["fs.mixer.b"])
	assert.Equal(t, 1.0, first.Values["fs.split.c"])
	last := res.Samples[5]
	assert.Equal(t, 10.0, last.Values["fs.mixer.b"])
	assert.Equal(t, 3.0, last.Values["fs.split.c"])

	assert.False(t, b.Fixed(), "swept inputs revert to their prior fixed state")
	assert.False(t, c.Fixed())
}

func TestUniformGrid(t *testing.T) {
	assert.Equal(t, []float64{5}, uniformGrid(0, 10, 1), "a single sample lands on the midpoint")
	assert.Equal(t, []float64{0, 5, 10}, uniformGrid(0, 10, 3))
}

func TestStepSolve(t *testing.T) {
	fake := &fakeSolver{}
	tb := newTestToolbox(t, map[string]solver.Solver{"newton": fake})
	fake.fn = func(*model.Model) {
		// converge on the third capped call
		if fake.calls < 3 {
			fake.result = solver.Result{Termination: solver.MaxIterations}
		} else {
			fake.result = solver.Result{Termination: solver.Optimal}
		}
	}

	res := tb.StepSolve(context.Background(), []string{"fs.mixer.b", "fs.split.gap"}, 10, "")
	assert.Empty(t, res.Error)
	assert.Equal(t, 3, res.Steps)
	assert.Equal(t, "optimal", res.Termination)
	require.Len(t, res.Values, 2)
	assert.Len(t, res.Values[0], 3, "one recorded value per step")
	assert.Len(t, res.Values[1], 3)

	require.Len(t, fake.opts, 3)
	for i, o := range fake.opts {
		assert.Equal(t, i+1, o.MaxIter, "each step raises the iteration cap by one")
	}
}

func TestStepSolveValidation(t *testing.T) {
	tb := newTestToolbox(t, map[string]solver.Solver{"newton": optimal()})

	res := tb.StepSolve(context.Background(), nil, 0, "")
	assert.Contains(t, res.Error, "max_iter")

	res = tb.StepSolve(context.Background(), []string{"fs.no.where"}, 5, "")
	assert.Contains(t, res.Error, "not found")

	res = tb.StepSolve(context.Background(), []string{"fs.mixer"}, 5, "")
	assert.Contains(t, res.Error, "not a variable or constraint")
}
