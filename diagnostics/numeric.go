package diagnostics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"flowsheetmcp/model"
)

const (
	jacobianStep  = 1e-7
	rankTolerance = 1e-10
	// singular-vector weight above this fraction of the column max counts a
	// row as participating in a degenerate set
	memberWeight = 0.1
)

// jacobian evaluates the finite-difference Jacobian of the active constraint
// bodies with respect to the free variables, at the current point.
func jacobian(m *model.Model) (*mat.Dense, []*model.Con, []*model.Var, error) {
	cons := m.ActiveCons()
	vars := m.FreeVars()
	if len(cons) == 0 || len(vars) == 0 {
		return nil, cons, vars, fmt.Errorf("nothing to analyze: %d active constraints, %d free variables", len(cons), len(vars))
	}
	jac := mat.NewDense(len(cons), len(vars), nil)
	for j, v := range vars {
		base := v.Value()
		if math.IsNaN(base) {
			return nil, cons, vars, fmt.Errorf("variable %s has no value", v.Path())
		}
		h := jacobianStep * math.Max(1, math.Abs(base))
		v.SetValue(base + h)
		plus := make([]float64, len(cons))
		for i, c := range cons {
			plus[i] = c.Body()()
		}
		v.SetValue(base - h)
		for i, c := range cons {
			d := (plus[i] - c.Body()()) / (2 * h)
			if math.IsNaN(d) || math.IsInf(d, 0) {
				v.SetValue(base)
				return nil, cons, vars, fmt.Errorf("constraint %s is not evaluable near the current point", c.Path())
			}
			jac.Set(i, j, d)
		}
		v.SetValue(base)
	}
	return jac, cons, vars, nil
}

func singularValues(jac *mat.Dense) (*mat.SVD, []float64, error) {
	var svd mat.SVD
	if !svd.Factorize(jac, mat.SVDFull) {
		return nil, nil, fmt.Errorf("SVD factorization failed")
	}
	return &svd, svd.Values(nil), nil
}

// Conditioning is the ill-conditioning certificate for the current Jacobian.
type Conditioning struct {
	ConditionNumber float64 `json:"condition_number"`
	SigmaMax        float64 `json:"sigma_max"`
	SigmaMin        float64 `json:"sigma_min"`
	IllConditioned  bool    `json:"ill_conditioned"`
	Certificate     string  `json:"certificate"`
}

// ConditionThreshold is the sigma ratio above which the system is reported
// ill-conditioned.
const ConditionThreshold = 1e10

// SVDAnalysis summarizes rank and null-space structure of the Jacobian.
type SVDAnalysis struct {
	SingularValues     []float64 `json:"singular_values"`
	Rank               int       `json:"rank"`
	Underdetermined    bool      `json:"underdetermined"`
	NullspaceVariables []string  `json:"nullspace_variables"`
}

// ParallelPair is a pair of constraints whose Jacobian rows point in nearly
// the same (or opposite) direction.
type ParallelPair struct {
	ConstraintA string  `json:"constraint_a"`
	ConstraintB string  `json:"constraint_b"`
	Cosine      float64 `json:"cosine"`
}

func nearParallelRows(jac *mat.Dense, cons []*model.Con, tolerance float64) []ParallelPair {
	rows, ncols := jac.Dims()
	normed := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		row := make([]float64, ncols)
		mat.Row(row, i, jac)
		norm := 0.0
		for _, v := range row {
			norm += v * v
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			continue
		}
		for k := range row {
			row[k] /= norm
		}
		normed[i] = row
	}

	var pairs []ParallelPair
	for i := 0; i < rows; i++ {
		if normed[i] == nil {
			continue
		}
		for j := i + 1; j < rows; j++ {
			if normed[j] == nil {
				continue
			}
			dot := 0.0
			for k := 0; k < ncols; k++ {
				dot += normed[i][k] * normed[j][k]
			}
			if math.Abs(dot) >= 1-tolerance {
				pairs = append(pairs, ParallelPair{
					ConstraintA: cons[i].Path(),
					ConstraintB: cons[j].Path(),
					Cosine:      dot,
				})
			}
		}
	}
	sort.Slice(pairs, func(a, b int) bool {
		return math.Abs(pairs[a].Cosine) > math.Abs(pairs[b].Cosine)
	})
	return pairs
}

// degenerateSets collects, for each near-zero singular value, the constraints
// with significant weight in the corresponding left singular vector. Each set
// is a candidate irreducible degenerate set.
func degenerateSets(svd *mat.SVD, sigma []float64, cons []*model.Con) [][]string {
	if len(sigma) == 0 {
		return nil
	}
	var u mat.Dense
	svd.UTo(&u)
	cutoff := sigma[0] * rankTolerance
	var sets [][]string
	for k, s := range sigma {
		if s > cutoff {
			continue
		}
		maxW := 0.0
		for i := range cons {
			if w := math.Abs(u.At(i, k)); w > maxW {
				maxW = w
			}
		}
		if maxW == 0 {
			continue
		}
		var set []string
		for i, c := range cons {
			if math.Abs(u.At(i, k)) >= memberWeight*maxW {
				set = append(set, c.Path())
			}
		}
		if len(set) > 0 {
			sets = append(sets, set)
		}
	}
	return sets
}
