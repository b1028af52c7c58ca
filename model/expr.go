package model

import "math"

// Expr is a numeric expression evaluated against the current variable values.
// Evaluation failure is signalled by a non-finite result (NaN or Inf), which
// propagates through arithmetic the same way an undefined variable does; the
// tool layer coerces non-finite values to "absent" rather than erroring.
type Expr func() float64

// Const returns a constant expression.
func Const(value float64) Expr {
	return func() float64 { return value }
}

// Sum adds expressions.
func Sum(terms ...Expr) Expr {
	return func() float64 {
		total := 0.0
		for _, t := range terms {
			total += t()
		}
		return total
	}
}

// Sub returns a - b.
func Sub(a, b Expr) Expr {
	return func() float64 { return a() - b() }
}

// Mul multiplies expressions.
func Mul(factors ...Expr) Expr {
	return func() float64 {
		product := 1.0
		for _, f := range factors {
			product *= f()
		}
		return product
	}
}

// Div returns a / b. Division by zero yields Inf, which downstream coercion
// treats as absent.
func Div(a, b Expr) Expr {
	return func() float64 { return a() / b() }
}

// Scale returns k * e.
func Scale(k float64, e Expr) Expr {
	return func() float64 { return k * e() }
}

// Pow returns base raised to exponent.
func Pow(base Expr, exponent float64) Expr {
	return func() float64 { return math.Pow(base(), exponent) }
}

// Sqrt returns the square root of e. Negative arguments yield NaN.
func Sqrt(e Expr) Expr {
	return func() float64 { return math.Sqrt(e()) }
}

// Linear builds sum(coeffs[i]*vars[i]) + offset. A convenience for the common
// balance-equation shape; coeffs and vars must be the same length.
func Linear(coeffs []float64, vars []*Var, offset float64) Expr {
	return func() float64 {
		total := offset
		for i, v := range vars {
			total += coeffs[i] * v.value
		}
		return total
	}
}
