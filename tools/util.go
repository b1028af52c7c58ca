package tools

import (
	"math"
	"strconv"
	"strings"

	"flowsheetmcp/model"
)

const (
	maxPageSize     = 500
	defaultPageSize = 200
)

// CoerceFloat converts an arbitrary scalar to a finite float. The second
// return is false (absent, not an error) for nil, non-numeric input and
// non-finite results.
func CoerceFloat(raw any) (float64, bool) {
	var f float64
	switch t := raw.(type) {
	case nil:
		return 0, false
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// EvaluateExpr evaluates an expression to a finite float; absent on any
// evaluation failure rather than an error.
func EvaluateExpr(e model.Expr) (float64, bool) {
	if e == nil {
		return 0, false
	}
	return CoerceFloat(e())
}

// Residual returns a constraint's violation magnitude. Equality constraints
// (bounds within model.EqualityTolerance) use |body - lower|; one-sided
// violations their distance; feasible constraints exactly 0. Absent when the
// body cannot be evaluated.
func Residual(c *model.Con) (float64, bool) {
	body, ok := EvaluateExpr(c.Body())
	if !ok {
		return 0, false
	}
	if c.IsEquality() {
		return math.Abs(body - *c.Lower()), true
	}
	if lo := c.Lower(); lo != nil && body < *lo {
		return *lo - body, true
	}
	if hi := c.Upper(); hi != nil && body > *hi {
		return body - *hi, true
	}
	return 0, true
}

// Matches is case-insensitive substring containment; an empty pattern matches
// everything.
func Matches(name, pattern string) bool {
	if pattern == "" {
		return true
	}
	return strings.Contains(strings.ToLower(name), strings.ToLower(pattern))
}

// Page is the canonical shape of every listing tool response.
type Page[T any] struct {
	Items  []T `json:"items"`
	Count  int `json:"count"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Paginate clamps limit to [1, 500] and offset to >= 0, slices, and reports
// the pre-slice total plus the effective clamped values.
func Paginate[T any](items []T, limit, offset int) Page[T] {
	safeLimit := clampLimit(limit)
	safeOffset := offset
	if safeOffset < 0 {
		safeOffset = 0
	}
	start := safeOffset
	if start > len(items) {
		start = len(items)
	}
	end := start + safeLimit
	if end > len(items) {
		end = len(items)
	}
	page := items[start:end]
	return Page[T]{
		Items:  page,
		Count:  len(page),
		Total:  len(items),
		Limit:  safeLimit,
		Offset: safeOffset,
	}
}

func clampLimit(n int) int {
	if n < 1 {
		return 1
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return n
}

// blockKey derives the grouping key from the first two path segments.
func blockKey(path string) string {
	segs := strings.SplitN(path, ".", 3)
	if len(segs) <= 2 {
		return path
	}
	return segs[0] + "." + segs[1]
}

func floatPtr(f float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &f
}

// safeBound coerces a bound pointer to a finite-or-nil pointer.
func safeBound(b *float64) *float64 {
	if b == nil {
		return nil
	}
	return floatPtr(CoerceFloat(*b))
}
