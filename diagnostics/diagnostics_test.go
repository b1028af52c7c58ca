package diagnostics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowsheetmcp/flowsheet"
	"flowsheetmcp/model"
)

// parallelModel has two free variables pinned by two structurally identical
// rows: x + y == 1 and 2x + 2y == 3. The Jacobian is rank one.
func parallelModel() *model.Model {
	m := model.New()
	b := m.AddBlock("b")
	x := b.AddVar("x", 1)
	y := b.AddVar("y", 1)
	b.AddEq("row1", model.Sum(x.Expr(), y.Expr()), 1)
	b.AddEq("row2", model.Linear([]float64{2, 2}, []*model.Var{x, y}, 0), 3)
	return m
}

func TestPartitionSquareModel(t *testing.T) {
	e := New(flowsheet.Valve())
	p := e.Partition()
	assert.Empty(t, p.OverconstrainedCons)
	assert.Empty(t, p.UnderconstrainedVars)
	assert.Equal(t, []string{"fs.valve.flow_eq"}, p.SquareCons)
	assert.Equal(t, []string{"fs.valve.flow"}, p.SquareVars)
}

func TestPartitionOverconstrained(t *testing.T) {
	e := New(flowsheet.BrokenValve())
	p := e.Partition()
	assert.Equal(t, []string{"fs.valve.flow_eq"}, p.OverconstrainedCons,
		"an equation with every variable fixed cannot be matched")
	assert.Empty(t, p.SquareCons)
}

func TestPartitionUnderconstrained(t *testing.T) {
	m := model.New()
	b := m.AddBlock("b")
	x := b.AddVar("x", 1)
	b.AddVar("y", 1)
	b.AddEq("pin_x", x.Expr(), 2)

	p := New(m).Partition()
	assert.Equal(t, []string{"b.y"}, p.UnderconstrainedVars)
	assert.Equal(t, []string{"b.x"}, p.SquareVars)
	assert.Equal(t, []string{"b.pin_x"}, p.SquareCons)
}

func TestMaximumMatching(t *testing.T) {
	inc := buildIncidence(parallelModel())
	conMatch, varMatch := inc.maximumMatching()
	matched := 0
	for _, mj := range conMatch {
		if mj != -1 {
			matched++
		}
	}
	assert.Equal(t, 2, matched, "structural matching ignores numerical rank")
	for _, mi := range varMatch {
		assert.NotEqual(t, -1, mi)
	}
}

func TestStructuralIssuesReport(t *testing.T) {
	text, err := New(flowsheet.Valve()).StructuralIssues()
	require.NoError(t, err)
	assert.Contains(t, text, "degrees of freedom: 0")
	assert.Contains(t, text, "perfect matching")

	text, err = New(flowsheet.BrokenValve()).StructuralIssues()
	require.NoError(t, err)
	assert.Contains(t, text, "WARNING: structural singularity")
}

func TestStructuralIssuesInconsistentBounds(t *testing.T) {
	m := flowsheet.Valve()
	comp, _ := m.Resolve("fs.valve.flow")
	lo, hi := 5.0, 1.0
	comp.(*model.Var).SetBounds(&lo, &hi)

	text, err := New(m).StructuralIssues()
	require.NoError(t, err)
	assert.Contains(t, text, "inconsistent bounds")
}

func TestJacobianNothingToAnalyze(t *testing.T) {
	_, err := New(flowsheet.BrokenValve()).IllConditioning()
	require.Error(t, err, "zero free variables leaves nothing to differentiate")
	assert.Contains(t, err.Error(), "nothing to analyze")
}

func TestIllConditioningWellPosed(t *testing.T) {
	c, err := New(flowsheet.Valve()).IllConditioning()
	require.NoError(t, err)
	assert.False(t, c.IllConditioned)
	assert.True(t, c.ConditionNumber >= 1)
	assert.Contains(t, c.Certificate, "within")
}

func TestSingularSystemAnalyses(t *testing.T) {
	e := New(parallelModel())

	a, err := e.SingularValueAnalysis()
	require.NoError(t, err)
	assert.Equal(t, 1, a.Rank)
	assert.True(t, a.Underdetermined)
	assert.Equal(t, []string{"b.x", "b.y"}, a.NullspaceVariables)

	pairs, err := e.NearParallelConstraints(1e-4)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "b.row1", pairs[0].ConstraintA)
	assert.Equal(t, "b.row2", pairs[0].ConstraintB)
	assert.InDelta(t, 1.0, math.Abs(pairs[0].Cosine), 1e-6)

	sets, err := e.DegenerateSets()
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.ElementsMatch(t, []string{"b.row1", "b.row2"}, sets[0])

	assert.True(t, e.QuickNumericalCheck())
}

func TestQuickNumericalCheckHealthy(t *testing.T) {
	assert.False(t, New(flowsheet.Valve()).QuickNumericalCheck())
}

func TestDisplayReportKinds(t *testing.T) {
	e := New(flowsheet.HeaterLoop())
	for _, kind := range ReportKinds() {
		text, err := e.DisplayReport(kind)
		require.NoError(t, err, "kind %s", kind)
		assert.NotEmpty(t, text, "kind %s", kind)
	}

	_, err := e.DisplayReport("bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown report kind")
}

func TestExplainInfeasibility(t *testing.T) {
	m := flowsheet.Valve()
	comp, _ := m.Resolve("fs.valve.flow")
	comp.(*model.Var).SetValue(-3) // below its declared lower bound of 0

	text, err := New(m).ExplainInfeasibility()
	require.NoError(t, err)
	assert.Contains(t, text, "violates lower bound")
	assert.Contains(t, text, "residual")
}

func TestEngineRestoresValuesAfterAnalysis(t *testing.T) {
	m := flowsheet.Valve()
	comp, _ := m.Resolve("fs.valve.flow")
	v := comp.(*model.Var)
	v.SetValue(1.5)

	e := New(m)
	_, _ = e.IllConditioning()
	_ = e.Partition()
	assert.Equal(t, 1.5, v.Value(), "perturbations used for derivatives are undone")
}
