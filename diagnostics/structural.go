package diagnostics

import (
	"math"

	"flowsheetmcp/model"
)

// incidence captures which free variables each active constraint depends on.
// Dependence is detected numerically: a variable is incident on a constraint
// when perturbing it changes the body value. Constraints whose body cannot be
// evaluated get an empty row.
type incidence struct {
	cons []*model.Con
	vars []*model.Var
	// rows[i] lists var indexes incident on constraint i
	rows [][]int
}

func buildIncidence(m *model.Model) *incidence {
	cons := m.ActiveCons()
	vars := m.FreeVars()
	inc := &incidence{cons: cons, vars: vars, rows: make([][]int, len(cons))}

	for i, c := range cons {
		body := c.Body()
		base := body()
		if math.IsNaN(base) || math.IsInf(base, 0) {
			continue
		}
		for j, v := range vars {
			x := v.Value()
			h := 1e-6 * math.Max(1, math.Abs(x))
			v.SetValue(x + h)
			plus := body()
			v.SetValue(x)
			if plus != base && !math.IsNaN(plus) {
				inc.rows[i] = append(inc.rows[i], j)
			}
		}
	}
	return inc
}

// maximumMatching returns conMatch[i] = matched var index (-1 if unmatched)
// and varMatch[j] = matched con index (-1 if unmatched), via augmenting paths.
func (inc *incidence) maximumMatching() (conMatch, varMatch []int) {
	conMatch = make([]int, len(inc.cons))
	varMatch = make([]int, len(inc.vars))
	for i := range conMatch {
		conMatch[i] = -1
	}
	for j := range varMatch {
		varMatch[j] = -1
	}

	var augment func(i int, seen []bool) bool
	augment = func(i int, seen []bool) bool {
		for _, j := range inc.rows[i] {
			if seen[j] {
				continue
			}
			seen[j] = true
			if varMatch[j] == -1 || augment(varMatch[j], seen) {
				conMatch[i] = j
				varMatch[j] = i
				return true
			}
		}
		return false
	}

	for i := range inc.cons {
		seen := make([]bool, len(inc.vars))
		augment(i, seen)
	}
	return conMatch, varMatch
}

// Partition is the coarse Dulmage-Mendelsohn decomposition of the active
// constraint / free variable bipartite graph.
type Partition struct {
	// Overconstrained: more constraints than variables can absorb.
	OverconstrainedCons []string `json:"overconstrained_constraints"`
	OverconstrainedVars []string `json:"overconstrained_variables"`
	// Underconstrained: variables no constraint pins down.
	UnderconstrainedVars []string `json:"underconstrained_variables"`
	UnderconstrainedCons []string `json:"underconstrained_constraints"`
	// Square: the well-posed remainder.
	SquareCons []string `json:"square_constraints"`
	SquareVars []string `json:"square_variables"`
}

func (inc *incidence) partition() Partition {
	conMatch, varMatch := inc.maximumMatching()

	// reverse adjacency: var -> cons it appears in
	cols := make([][]int, len(inc.vars))
	for i, row := range inc.rows {
		for _, j := range row {
			cols[j] = append(cols[j], i)
		}
	}

	overCon := make([]bool, len(inc.cons))
	overVar := make([]bool, len(inc.vars))
	underCon := make([]bool, len(inc.cons))
	underVar := make([]bool, len(inc.vars))

	// overconstrained block: alternating reach from unmatched constraints
	// (con -> any incident var, var -> its matched con)
	var conQueue []int
	for i, mj := range conMatch {
		if mj == -1 {
			overCon[i] = true
			conQueue = append(conQueue, i)
		}
	}
	for len(conQueue) > 0 {
		i := conQueue[0]
		conQueue = conQueue[1:]
		for _, j := range inc.rows[i] {
			if overVar[j] {
				continue
			}
			overVar[j] = true
			if mi := varMatch[j]; mi != -1 && !overCon[mi] {
				overCon[mi] = true
				conQueue = append(conQueue, mi)
			}
		}
	}

	// underconstrained block: alternating reach from unmatched variables
	// (var -> any incident con, con -> its matched var)
	var varQueue []int
	for j, mi := range varMatch {
		if mi == -1 {
			underVar[j] = true
			varQueue = append(varQueue, j)
		}
	}
	for len(varQueue) > 0 {
		j := varQueue[0]
		varQueue = varQueue[1:]
		for _, i := range cols[j] {
			if underCon[i] {
				continue
			}
			underCon[i] = true
			if mj := conMatch[i]; mj != -1 && !underVar[mj] {
				underVar[mj] = true
				varQueue = append(varQueue, mj)
			}
		}
	}

	var p Partition
	p.OverconstrainedCons = []string{}
	p.OverconstrainedVars = []string{}
	p.UnderconstrainedCons = []string{}
	p.UnderconstrainedVars = []string{}
	p.SquareCons = []string{}
	p.SquareVars = []string{}
	for i, c := range inc.cons {
		switch {
		case overCon[i]:
			p.OverconstrainedCons = append(p.OverconstrainedCons, c.Path())
		case underCon[i]:
			p.UnderconstrainedCons = append(p.UnderconstrainedCons, c.Path())
		default:
			p.SquareCons = append(p.SquareCons, c.Path())
		}
	}
	for j, v := range inc.vars {
		switch {
		case overVar[j]:
			p.OverconstrainedVars = append(p.OverconstrainedVars, v.Path())
		case underVar[j]:
			p.UnderconstrainedVars = append(p.UnderconstrainedVars, v.Path())
		default:
			p.SquareVars = append(p.SquareVars, v.Path())
		}
	}
	return p
}
