// Package diagnostics analyzes a model's structure and numerics: incidence
// matching, Dulmage-Mendelsohn partitioning, Jacobian conditioning and
// degeneracy. Reports come back as plain text or as component-name lists; the
// engine never mutates the model beyond transient evaluation perturbations it
// always undoes.
package diagnostics

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"flowsheetmcp/model"
)

// Engine runs structural and numerical analyses against one model.
type Engine struct {
	m *model.Model
}

// New returns an engine bound to the model.
func New(m *model.Model) *Engine { return &Engine{m: m} }

// ReportKind names one of the fixed display reports.
type ReportKind string

const (
	ReportStructural       ReportKind = "structural"
	ReportNumerical        ReportKind = "numerical"
	ReportUnderconstrained ReportKind = "underconstrained"
	ReportOverconstrained  ReportKind = "overconstrained"
	ReportBounds           ReportKind = "bounds"
	ReportResiduals        ReportKind = "residuals"
)

// ReportKinds lists every kind DisplayReport accepts.
func ReportKinds() []ReportKind {
	return []ReportKind{
		ReportStructural, ReportNumerical, ReportUnderconstrained,
		ReportOverconstrained, ReportBounds, ReportResiduals,
	}
}

// DisplayReport renders one named report. Unknown kinds are an error.
func (e *Engine) DisplayReport(kind ReportKind) (string, error) {
	switch kind {
	case ReportStructural:
		return e.StructuralIssues()
	case ReportNumerical:
		return e.NumericalIssues(1e-4)
	case ReportUnderconstrained:
		p := e.Partition()
		return renderSet("Underconstrained set", p.UnderconstrainedVars, p.UnderconstrainedCons), nil
	case ReportOverconstrained:
		p := e.Partition()
		return renderSet("Overconstrained set", p.OverconstrainedVars, p.OverconstrainedCons), nil
	case ReportBounds:
		return e.boundsReport(), nil
	case ReportResiduals:
		return e.residualReport(), nil
	default:
		kinds := make([]string, 0, 6)
		for _, k := range ReportKinds() {
			kinds = append(kinds, string(k))
		}
		return "", fmt.Errorf("unknown report kind %q (valid: %s)", kind, strings.Join(kinds, ", "))
	}
}

// Partition computes the coarse Dulmage-Mendelsohn decomposition.
func (e *Engine) Partition() Partition {
	return buildIncidence(e.m).partition()
}

// StructuralIssues reports component counts, degrees of freedom, matching
// defects and inconsistent bounds.
func (e *Engine) StructuralIssues() (string, error) {
	inc := buildIncidence(e.m)
	conMatch, varMatch := inc.maximumMatching()
	p := inc.partition()

	var b strings.Builder
	vars := e.m.Vars()
	cons := e.m.Cons()
	fixed := 0
	for _, v := range vars {
		if v.Fixed() {
			fixed++
		}
	}
	fmt.Fprintf(&b, "Structural analysis\n")
	fmt.Fprintf(&b, "  variables: %d (%d fixed), constraints: %d (%d active)\n",
		len(vars), fixed, len(cons), len(inc.cons))
	fmt.Fprintf(&b, "  degrees of freedom: %d\n", e.m.DegreesOfFreedom())

	unmatchedCons := 0
	for _, mj := range conMatch {
		if mj == -1 {
			unmatchedCons++
		}
	}
	unmatchedVars := 0
	for _, mi := range varMatch {
		if mi == -1 {
			unmatchedVars++
		}
	}
	if unmatchedCons == 0 && unmatchedVars == 0 {
		fmt.Fprintf(&b, "  perfect matching: no structural singularity detected\n")
	} else {
		fmt.Fprintf(&b, "  WARNING: structural singularity (%d unmatched constraints, %d unmatched variables)\n",
			unmatchedCons, unmatchedVars)
	}
	if len(p.OverconstrainedCons) > 0 {
		fmt.Fprintf(&b, "  overconstrained set: %d constraints / %d variables\n",
			len(p.OverconstrainedCons), len(p.OverconstrainedVars))
	}
	if len(p.UnderconstrainedVars) > 0 {
		fmt.Fprintf(&b, "  underconstrained set: %d variables / %d constraints\n",
			len(p.UnderconstrainedVars), len(p.UnderconstrainedCons))
	}
	for _, v := range vars {
		lo, hi := v.Lower(), v.Upper()
		if lo != nil && hi != nil && *lo > *hi {
			fmt.Fprintf(&b, "  WARNING: %s has inconsistent bounds [%g, %g]\n", v.Path(), *lo, *hi)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// NumericalIssues reports extreme Jacobian entries, variables at or outside
// their bounds, and constraints violated beyond tolerance.
func (e *Engine) NumericalIssues(tolerance float64) (string, error) {
	if tolerance <= 0 {
		tolerance = 1e-4
	}
	jac, cons, vars, err := jacobian(e.m)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Numerical analysis (tolerance %g)\n", tolerance)

	rows, cols := jac.Dims()
	for i := 0; i < rows; i++ {
		rowMax := 0.0
		for j := 0; j < cols; j++ {
			if a := math.Abs(jac.At(i, j)); a > rowMax {
				rowMax = a
			}
		}
		if rowMax == 0 {
			fmt.Fprintf(&b, "  WARNING: constraint %s has an all-zero Jacobian row\n", cons[i].Path())
		} else if rowMax < 1e-8 || rowMax > 1e8 {
			fmt.Fprintf(&b, "  WARNING: constraint %s has extreme Jacobian magnitude %.3e\n", cons[i].Path(), rowMax)
		}
	}
	for j := 0; j < cols; j++ {
		colMax := 0.0
		for i := 0; i < rows; i++ {
			if a := math.Abs(jac.At(i, j)); a > colMax {
				colMax = a
			}
		}
		if colMax == 0 {
			fmt.Fprintf(&b, "  WARNING: variable %s appears in no constraint numerically\n", vars[j].Path())
		}
	}
	for _, v := range e.m.Vars() {
		val := v.Value()
		if math.IsNaN(val) {
			continue
		}
		if lo := v.Lower(); lo != nil && val <= *lo {
			fmt.Fprintf(&b, "  variable %s at or below lower bound (%g <= %g)\n", v.Path(), val, *lo)
		}
		if hi := v.Upper(); hi != nil && val >= *hi {
			fmt.Fprintf(&b, "  variable %s at or above upper bound (%g >= %g)\n", v.Path(), val, *hi)
		}
	}
	violated := 0
	for _, c := range e.m.ActiveCons() {
		if r, ok := conResidual(c); ok && r > tolerance {
			violated++
		}
	}
	fmt.Fprintf(&b, "  constraints violated beyond tolerance: %d", violated)
	return b.String(), nil
}

// ExplainInfeasibility names bound-violating variables and the worst constraint
// residuals at the current point.
func (e *Engine) ExplainInfeasibility() (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Infeasibility explanation\n")

	violations := 0
	for _, v := range e.m.Vars() {
		val := v.Value()
		if math.IsNaN(val) {
			continue
		}
		if lo := v.Lower(); lo != nil && val < *lo {
			fmt.Fprintf(&b, "  %s = %g violates lower bound %g\n", v.Path(), val, *lo)
			violations++
		}
		if hi := v.Upper(); hi != nil && val > *hi {
			fmt.Fprintf(&b, "  %s = %g violates upper bound %g\n", v.Path(), val, *hi)
			violations++
		}
	}

	type namedResidual struct {
		path string
		r    float64
	}
	var worst []namedResidual
	for _, c := range e.m.ActiveCons() {
		if r, ok := conResidual(c); ok && r > 0 {
			worst = append(worst, namedResidual{c.Path(), r})
		}
	}
	sort.Slice(worst, func(i, j int) bool { return worst[i].r > worst[j].r })
	if len(worst) > 10 {
		worst = worst[:10]
	}
	for _, w := range worst {
		fmt.Fprintf(&b, "  residual %.6g on %s\n", w.r, w.path)
	}
	if violations == 0 && len(worst) == 0 {
		fmt.Fprintf(&b, "  no bound violations or nonzero residuals at the current point\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// IllConditioning computes the Jacobian condition certificate.
func (e *Engine) IllConditioning() (Conditioning, error) {
	jac, _, _, err := jacobian(e.m)
	if err != nil {
		return Conditioning{}, err
	}
	_, sigma, err := singularValues(jac)
	if err != nil {
		return Conditioning{}, err
	}
	smax := sigma[0]
	smin := sigma[len(sigma)-1]
	cond := math.Inf(1)
	if smin > 0 {
		cond = smax / smin
	}
	c := Conditioning{
		ConditionNumber: cond,
		SigmaMax:        smax,
		SigmaMin:        smin,
		IllConditioned:  cond > ConditionThreshold,
	}
	if c.IllConditioned {
		c.Certificate = fmt.Sprintf("sigma_max/sigma_min = %.3e exceeds %.0e", cond, ConditionThreshold)
	} else {
		c.Certificate = fmt.Sprintf("sigma_max/sigma_min = %.3e within %.0e", cond, ConditionThreshold)
	}
	return c, nil
}

// SingularValueAnalysis reports rank, underdetermination and null-space
// variable names.
func (e *Engine) SingularValueAnalysis() (SVDAnalysis, error) {
	jac, _, vars, err := jacobian(e.m)
	if err != nil {
		return SVDAnalysis{}, err
	}
	svd, sigma, err := singularValues(jac)
	if err != nil {
		return SVDAnalysis{}, err
	}
	cutoff := sigma[0] * rankTolerance
	rank := 0
	for _, s := range sigma {
		if s > cutoff {
			rank++
		}
	}
	out := SVDAnalysis{
		SingularValues:     sigma,
		Rank:               rank,
		Underdetermined:    rank < len(vars),
		NullspaceVariables: []string{},
	}
	if out.Underdetermined {
		var v mat.Dense
		svd.VTo(&v)
		seen := make(map[string]bool)
		for k := rank; k < len(vars); k++ {
			maxW := 0.0
			for j := range vars {
				if w := math.Abs(v.At(j, k)); w > maxW {
					maxW = w
				}
			}
			if maxW == 0 {
				continue
			}
			for j, fv := range vars {
				if math.Abs(v.At(j, k)) >= memberWeight*maxW && !seen[fv.Path()] {
					seen[fv.Path()] = true
					out.NullspaceVariables = append(out.NullspaceVariables, fv.Path())
				}
			}
		}
		sort.Strings(out.NullspaceVariables)
	}
	return out, nil
}

// NearParallelConstraints lists constraint pairs whose Jacobian rows are
// parallel within tolerance.
func (e *Engine) NearParallelConstraints(tolerance float64) ([]ParallelPair, error) {
	if tolerance <= 0 {
		tolerance = 1e-4
	}
	jac, cons, _, err := jacobian(e.m)
	if err != nil {
		return nil, err
	}
	return nearParallelRows(jac, cons, tolerance), nil
}

// DegenerateSets lists candidate irreducible degenerate constraint sets.
func (e *Engine) DegenerateSets() ([][]string, error) {
	jac, cons, _, err := jacobian(e.m)
	if err != nil {
		return nil, err
	}
	svd, sigma, err := singularValues(jac)
	if err != nil {
		return nil, err
	}
	return degenerateSets(svd, sigma, cons), nil
}

// QuickNumericalCheck reports whether the current point shows numerical
// trouble: a non-evaluable Jacobian or severe ill-conditioning. Used by the
// parameter sweep to flag samples.
func (e *Engine) QuickNumericalCheck() bool {
	jac, _, _, err := jacobian(e.m)
	if err != nil {
		return true
	}
	_, sigma, err := singularValues(jac)
	if err != nil {
		return true
	}
	smin := sigma[len(sigma)-1]
	return smin == 0 || sigma[0]/smin > ConditionThreshold
}

func (e *Engine) boundsReport() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Variable bounds\n")
	for _, v := range e.m.Vars() {
		lo, hi := "-inf", "+inf"
		if l := v.Lower(); l != nil {
			lo = fmt.Sprintf("%g", *l)
		}
		if h := v.Upper(); h != nil {
			hi = fmt.Sprintf("%g", *h)
		}
		if lo == "-inf" && hi == "+inf" {
			continue
		}
		fmt.Fprintf(&b, "  %s in [%s, %s]\n", v.Path(), lo, hi)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Engine) residualReport() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Constraint residuals\n")
	for _, c := range e.m.ActiveCons() {
		if r, ok := conResidual(c); ok {
			fmt.Fprintf(&b, "  %s: %.6g\n", c.Path(), r)
		} else {
			fmt.Fprintf(&b, "  %s: not evaluable\n", c.Path())
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderSet(title string, vars, cons []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", title)
	fmt.Fprintf(&b, "  variables (%d):\n", len(vars))
	for _, v := range vars {
		fmt.Fprintf(&b, "    %s\n", v)
	}
	fmt.Fprintf(&b, "  constraints (%d):\n", len(cons))
	for _, c := range cons {
		fmt.Fprintf(&b, "    %s\n", c)
	}
	return strings.TrimRight(b.String(), "\n")
}

// conResidual mirrors the tool layer's residual rule: equality constraints use
// |body - bound|, one-sided violations their magnitude, feasible points zero.
func conResidual(c *model.Con) (float64, bool) {
	body := c.Body()()
	if math.IsNaN(body) || math.IsInf(body, 0) {
		return 0, false
	}
	lo, hi := c.Lower(), c.Upper()
	if c.IsEquality() {
		return math.Abs(body - *lo), true
	}
	if lo != nil && body < *lo {
		return *lo - body, true
	}
	if hi != nil && body > *hi {
		return body - *hi, true
	}
	return 0, true
}
