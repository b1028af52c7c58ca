package tools

import (
	"fmt"

	"flowsheetmcp/model"
)

// The mutating tools model deliberate, persistent specification edits:
// unresolvable paths are collected and skipped, but the first resolvable
// component of the wrong kind halts the batch with whatever progress was
// already applied left in place. The operator inspects and corrects the rest;
// nothing is rolled back.

// FixResult reports a fix_variables batch.
type FixResult struct {
	Fixed            int      `json:"fixed"`
	NotFound         []string `json:"not_found"`
	DegreesOfFreedom int      `json:"degrees_of_freedom"`
	Error            string   `json:"error,omitempty"`
}

// FixVariables sets each path's value and marks it fixed. Paths are processed
// in sorted order.
func (t *Toolbox) FixVariables(values map[string]float64) FixResult {
	res := FixResult{NotFound: []string{}}
	for _, path := range sortedKeys(values) {
		comp, ok := t.m.Resolve(path)
		if !ok {
			res.NotFound = append(res.NotFound, path)
			continue
		}
		v, ok := comp.(*model.Var)
		if !ok {
			res.Error = fmt.Sprintf("component %s is not a fixable variable", path)
			break
		}
		v.Fix(values[path])
		res.Fixed++
	}
	res.DegreesOfFreedom = t.m.DegreesOfFreedom()
	return res
}

// UnfixResult reports an unfix_variables batch.
type UnfixResult struct {
	Unfixed          int      `json:"unfixed"`
	NotFound         []string `json:"not_found"`
	DegreesOfFreedom int      `json:"degrees_of_freedom"`
	Error            string   `json:"error,omitempty"`
}

// UnfixVariables releases each path back into the solver's free set.
func (t *Toolbox) UnfixVariables(paths []string) UnfixResult {
	res := UnfixResult{NotFound: []string{}}
	for _, path := range paths {
		comp, ok := t.m.Resolve(path)
		if !ok {
			res.NotFound = append(res.NotFound, path)
			continue
		}
		v, ok := comp.(*model.Var)
		if !ok {
			res.Error = fmt.Sprintf("component %s is not an unfixable variable", path)
			break
		}
		v.Unfix()
		res.Unfixed++
	}
	res.DegreesOfFreedom = t.m.DegreesOfFreedom()
	return res
}

// ActiveResult reports a set_constraints_active batch.
type ActiveResult struct {
	Changed  int      `json:"changed"`
	NotFound []string `json:"not_found"`
	Error    string   `json:"error,omitempty"`
}

// SetConstraintsActive bulk activates or deactivates constraints.
func (t *Toolbox) SetConstraintsActive(paths []string, active bool) ActiveResult {
	res := ActiveResult{NotFound: []string{}}
	for _, path := range paths {
		comp, ok := t.m.Resolve(path)
		if !ok {
			res.NotFound = append(res.NotFound, path)
			continue
		}
		c, ok := comp.(*model.Con)
		if !ok {
			res.Error = fmt.Sprintf("component %s is not a constraint", path)
			break
		}
		c.SetActive(active)
		res.Changed++
	}
	return res
}

// BoundSpec is the per-variable bounds request: a key that is absent leaves
// that bound untouched, an explicit null clears it, a number sets it. The
// pointer-into-map encoding preserves the null-versus-omitted distinction
// through JSON.
type BoundSpec map[string]*float64

// BoundsResult reports a set_variable_bounds batch. Bounds never change the
// degrees of freedom; the value is reported for caller consistency.
type BoundsResult struct {
	Changed          int      `json:"changed"`
	NotFound         []string `json:"not_found"`
	DegreesOfFreedom int      `json:"degrees_of_freedom"`
	Error            string   `json:"error,omitempty"`
}

// SetVariableBounds applies per-path bound edits in sorted path order.
func (t *Toolbox) SetVariableBounds(bounds map[string]BoundSpec) BoundsResult {
	res := BoundsResult{NotFound: []string{}}
	for _, path := range sortedKeys(bounds) {
		comp, ok := t.m.Resolve(path)
		if !ok {
			res.NotFound = append(res.NotFound, path)
			continue
		}
		v, ok := comp.(*model.Var)
		if !ok {
			res.Error = fmt.Sprintf("component %s is not a boundable variable", path)
			break
		}
		spec := bounds[path]
		if lower, present := spec["lower"]; present {
			v.SetLower(copyBound(lower))
		}
		if upper, present := spec["upper"]; present {
			v.SetUpper(copyBound(upper))
		}
		res.Changed++
	}
	res.DegreesOfFreedom = t.m.DegreesOfFreedom()
	return res
}

// copyBound detaches the stored bound from request-owned memory.
func copyBound(b *float64) *float64 {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
