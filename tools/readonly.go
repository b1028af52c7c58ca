package tools

import (
	"fmt"
	"sort"
	"strings"

	"flowsheetmcp/diagnostics"
)

// ModelSummary is the high-level model overview.
type ModelSummary struct {
	DegreesOfFreedom int `json:"degrees_of_freedom"`
	NVariables       int `json:"n_variables"`
	NConstraints     int `json:"n_constraints"`
	NFixedVariables  int `json:"n_fixed_variables"`
}

func (t *Toolbox) ModelSummary() ModelSummary {
	vars := t.m.Vars()
	fixed := 0
	for _, v := range vars {
		if v.Fixed() {
			fixed++
		}
	}
	return ModelSummary{
		DegreesOfFreedom: t.m.DegreesOfFreedom(),
		NVariables:       len(vars),
		NConstraints:     len(t.m.Cons()),
		NFixedVariables:  fixed,
	}
}

// ModelTree lists top-level blocks, and the flowsheet's direct children when a
// conventional "fs" block exists, so callers can discover structure before
// addressing components by path.
type ModelTree struct {
	Blocks            []string `json:"blocks"`
	FlowsheetChildren []string `json:"flowsheet_children,omitempty"`
}

func (t *Toolbox) ListModels() ModelTree {
	out := ModelTree{Blocks: []string{}}
	for _, b := range t.m.Children() {
		out.Blocks = append(out.Blocks, b.Name())
	}
	if fs, ok := t.m.Child("fs"); ok {
		for _, b := range fs.Children() {
			out.FlowsheetChildren = append(out.FlowsheetChildren, b.Name())
		}
	}
	return out
}

// FixedVariableRow is one fixed variable with its block grouping key.
type FixedVariableRow struct {
	Name  string   `json:"name"`
	Value *float64 `json:"value"`
	Block string   `json:"block"`
}

func (t *Toolbox) FixedVariableSummary(limit, offset int) Page[FixedVariableRow] {
	rows := []FixedVariableRow{}
	for _, v := range t.m.Vars() {
		if !v.Fixed() {
			continue
		}
		rows = append(rows, FixedVariableRow{
			Name:  v.Path(),
			Value: floatPtr(CoerceFloat(v.Value())),
			Block: blockKey(v.Path()),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Block != rows[j].Block {
			return rows[i].Block < rows[j].Block
		}
		return rows[i].Name < rows[j].Name
	})
	return Paginate(rows, limit, offset)
}

// VariableRow is one variable listing entry.
type VariableRow struct {
	Name  string   `json:"name"`
	Value *float64 `json:"value"`
	Fixed bool     `json:"fixed"`
	Lb    *float64 `json:"lb"`
	Ub    *float64 `json:"ub"`
}

func (t *Toolbox) ListVariables(pattern string, onlyUnfixed bool, limit, offset int) Page[VariableRow] {
	rows := []VariableRow{}
	for _, v := range t.m.Vars() {
		if !Matches(v.Path(), pattern) {
			continue
		}
		if onlyUnfixed && v.Fixed() {
			continue
		}
		rows = append(rows, VariableRow{
			Name:  v.Path(),
			Value: floatPtr(CoerceFloat(v.Value())),
			Fixed: v.Fixed(),
			Lb:    safeBound(v.Lower()),
			Ub:    safeBound(v.Upper()),
		})
	}
	// Vars() is already path-sorted
	return Paginate(rows, limit, offset)
}

// ConstraintRow is one constraint listing entry.
type ConstraintRow struct {
	Name   string   `json:"name"`
	Active bool     `json:"active"`
	Lower  *float64 `json:"lower"`
	Upper  *float64 `json:"upper"`
}

func (t *Toolbox) ListConstraints(pattern string, limit, offset int) Page[ConstraintRow] {
	rows := []ConstraintRow{}
	for _, c := range t.m.Cons() {
		if !Matches(c.Path(), pattern) {
			continue
		}
		rows = append(rows, ConstraintRow{
			Name:   c.Path(),
			Active: c.Active(),
			Lower:  safeBound(c.Lower()),
			Upper:  safeBound(c.Upper()),
		})
	}
	return Paginate(rows, limit, offset)
}

// ResidualRow names a constraint and its violation magnitude.
type ResidualRow struct {
	Name     string  `json:"name"`
	Residual float64 `json:"residual"`
}

// TopResiduals is the feasibility-triage response: rows sorted descending by
// residual, over active constraints only. Total counts every candidate with a
// computable residual (zeros included; only absent values are excluded).
type TopResiduals struct {
	Items []ResidualRow `json:"items"`
	Count int           `json:"count"`
	Total int           `json:"total"`
}

func (t *Toolbox) TopConstraintResiduals(n int, pattern string) TopResiduals {
	safeN := clampLimit(n)
	rows := []ResidualRow{}
	for _, c := range t.m.ActiveCons() {
		if !Matches(c.Path(), pattern) {
			continue
		}
		r, ok := Residual(c)
		if !ok {
			continue
		}
		rows = append(rows, ResidualRow{Name: c.Path(), Residual: r})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Residual > rows[j].Residual })
	total := len(rows)
	if len(rows) > safeN {
		rows = rows[:safeN]
	}
	return TopResiduals{Items: rows, Count: len(rows), Total: total}
}

// TextReport carries captured diagnostic text. Error is set instead of text
// when the underlying engine failed.
type TextReport struct {
	Headline   string `json:"headline,omitempty"`
	ReportText string `json:"report_text,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RunDiagnostics captures the structural issues report plus the
// underconstrained and overconstrained set displays.
func (t *Toolbox) RunDiagnostics() TextReport {
	structural, err := t.diag.StructuralIssues()
	if err != nil {
		return TextReport{Error: err.Error()}
	}
	under, err := t.diag.DisplayReport(diagnostics.ReportUnderconstrained)
	if err != nil {
		return TextReport{Error: err.Error()}
	}
	over, err := t.diag.DisplayReport(diagnostics.ReportOverconstrained)
	if err != nil {
		return TextReport{Error: err.Error()}
	}
	text := strings.TrimSpace(structural + "\n\n" + under + "\n\n" + over)
	if text == "" {
		text = "Diagnostics completed with no text output."
	}
	return TextReport{
		Headline:   strings.SplitN(text, "\n", 2)[0],
		ReportText: text,
	}
}

func (t *Toolbox) NumericalIssues(tolerance float64) TextReport {
	text, err := t.diag.NumericalIssues(tolerance)
	if err != nil {
		return TextReport{Error: err.Error()}
	}
	return TextReport{Headline: strings.SplitN(text, "\n", 2)[0], ReportText: text}
}

func (t *Toolbox) ExplainInfeasibility() TextReport {
	text, err := t.diag.ExplainInfeasibility()
	if err != nil {
		return TextReport{Error: err.Error()}
	}
	return TextReport{Headline: strings.SplitN(text, "\n", 2)[0], ReportText: text}
}

// PartitionResult is the Dulmage-Mendelsohn partition as name lists.
type PartitionResult struct {
	diagnostics.Partition
	Error string `json:"error,omitempty"`
}

func (t *Toolbox) DMPartition() PartitionResult {
	return PartitionResult{Partition: t.diag.Partition()}
}

// DisplayResult is one named report's captured text.
type DisplayResult struct {
	Kind       string `json:"kind"`
	ReportText string `json:"report_text,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (t *Toolbox) DisplayReport(kind string) DisplayResult {
	text, err := t.diag.DisplayReport(diagnostics.ReportKind(kind))
	if err != nil {
		return DisplayResult{Kind: kind, Error: err.Error()}
	}
	return DisplayResult{Kind: kind, ReportText: text}
}

// ParallelResult lists near-parallel constraint pairs.
type ParallelResult struct {
	Pairs []diagnostics.ParallelPair `json:"pairs"`
	Error string                     `json:"error,omitempty"`
}

func (t *Toolbox) NearParallelConstraints(tolerance float64) ParallelResult {
	pairs, err := t.diag.NearParallelConstraints(tolerance)
	if err != nil {
		return ParallelResult{Pairs: []diagnostics.ParallelPair{}, Error: err.Error()}
	}
	if pairs == nil {
		pairs = []diagnostics.ParallelPair{}
	}
	return ParallelResult{Pairs: pairs}
}

// ConditioningResult is the ill-conditioning certificate.
type ConditioningResult struct {
	diagnostics.Conditioning
	Error string `json:"error,omitempty"`
}

func (t *Toolbox) IllConditioning() ConditioningResult {
	c, err := t.diag.IllConditioning()
	if err != nil {
		return ConditioningResult{Error: err.Error()}
	}
	return ConditioningResult{Conditioning: c}
}

// SVDResult is the singular-value / underdetermination analysis.
type SVDResult struct {
	diagnostics.SVDAnalysis
	Error string `json:"error,omitempty"`
}

func (t *Toolbox) SingularValueAnalysis() SVDResult {
	a, err := t.diag.SingularValueAnalysis()
	if err != nil {
		return SVDResult{Error: err.Error()}
	}
	return SVDResult{SVDAnalysis: a}
}

// DegenerateResult lists candidate irreducible degenerate constraint sets.
type DegenerateResult struct {
	Sets  [][]string `json:"sets"`
	Error string     `json:"error,omitempty"`
}

func (t *Toolbox) DegenerateSets() DegenerateResult {
	sets, err := t.diag.DegenerateSets()
	if err != nil {
		return DegenerateResult{Sets: [][]string{}, Error: err.Error()}
	}
	if sets == nil {
		sets = [][]string{}
	}
	return DegenerateResult{Sets: sets}
}

// FlowsheetReport runs the report hook of every direct child of the
// conventional "fs" block. A child's failure is logged and embedded in the
// output, never fatal.
func (t *Toolbox) FlowsheetReport() TextReport {
	fs, ok := t.m.Child("fs")
	if !ok {
		return TextReport{Error: "no flowsheet block named fs"}
	}
	var b strings.Builder
	for _, child := range fs.Children() {
		text, err, hasReport := child.Report()
		if !hasReport {
			continue
		}
		if err != nil {
			t.log.Warn("flowsheet child report failed", "block", child.Path(), "err", err)
			fmt.Fprintf(&b, "[%s] report failed: %v\n", child.Path(), err)
			continue
		}
		b.WriteString(strings.TrimRight(text, "\n"))
		b.WriteString("\n")
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		text = "Flowsheet report produced no output."
	}
	return TextReport{ReportText: text}
}
