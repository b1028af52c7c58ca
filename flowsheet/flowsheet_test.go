package flowsheet

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowsheetmcp/model"
	"flowsheetmcp/solver"
)

func TestValveSolves(t *testing.T) {
	m := Valve()
	assert.Equal(t, 0, m.DegreesOfFreedom())

	r, err := solver.NewNewton().Solve(context.Background(), m, solver.Options{})
	require.NoError(t, err)
	require.Equal(t, solver.Optimal, r.Termination)

	flow, _ := m.Resolve("fs.valve.flow")
	want := 0.05 * 0.5 * math.Sqrt(201325-101325)
	assert.InDelta(t, want, flow.(*model.Var).Value(), 1e-6)
}

func TestBrokenValveIsOverspecified(t *testing.T) {
	m := BrokenValve()
	assert.Equal(t, -1, m.DegreesOfFreedom())

	flow, _ := m.Resolve("fs.valve.flow")
	assert.True(t, flow.(*model.Var).Fixed())
}

func TestHeaterLoopSolves(t *testing.T) {
	m := HeaterLoop()
	assert.Equal(t, 0, m.DegreesOfFreedom())

	r, err := solver.NewNewton().Solve(context.Background(), m, solver.Options{})
	require.NoError(t, err)
	require.Equal(t, solver.Optimal, r.Termination)

	get := func(path string) float64 {
		comp, ok := m.Resolve(path)
		require.True(t, ok, path)
		return comp.(*model.Var).Value()
	}

	wantTOut := 300 + 10000/(5*heatCapacity)
	assert.InDelta(t, wantTOut, get("fs.heater.outlet_temperature"), 1e-5)
	assert.InDelta(t, 2*101325, get("fs.compressor.outlet_pressure"), 1e-4)

	wantTComp := wantTOut * math.Pow(2, isentropicExp)
	assert.InDelta(t, wantTComp, get("fs.compressor.outlet_temperature"), 1e-4)
	wantWork := 5 * heatCapacity * (wantTComp - wantTOut)
	assert.InDelta(t, wantWork, get("fs.compressor.work"), 1e-3)
}

func TestReports(t *testing.T) {
	m := HeaterLoop()
	fs, ok := m.Child("fs")
	require.True(t, ok)
	for _, name := range []string{"heater", "compressor"} {
		child, ok := fs.Child(name)
		require.True(t, ok)
		text, err, has := child.Report()
		require.True(t, has)
		require.NoError(t, err)
		assert.NotEmpty(t, text)
	}
}

func TestBuilders(t *testing.T) {
	for name, build := range Builders {
		m := build()
		require.NotNil(t, m, name)
		_, ok := m.Child("fs")
		assert.True(t, ok, "%s has a flowsheet block", name)
	}
}
