package autodiff

import "math"

// Dual is a forward-mode dual number: a primal value V and the gradient D of
// that value with respect to some set of seeded inputs. A nil or short D is
// treated as zero in the missing components, so constants never need to know
// how many inputs were seeded.
type Dual struct {
	V float64
	D []float64
}

// Variable returns input i of n seeded inputs, with a unit tangent in slot i.
func Variable(v float64, i, n int) Dual {
	d := make([]float64, n)
	d[i] = 1
	return Dual{V: v, D: d}
}

// Seed converts values into dual inputs whose tangents form the identity.
func Seed(values []float64) []Dual {
	out := make([]Dual, len(values))
	for i, v := range values {
		out[i] = Variable(v, i, len(values))
	}
	return out
}

// Gradients stacks the tangents of ys into a len(ys) x n row-major matrix.
func Gradients(ys []Dual, n int) [][]float64 {
	out := make([][]float64, len(ys))
	for i, y := range ys {
		row := make([]float64, n)
		copy(row, y.D)
		out[i] = row
	}
	return out
}

// axpby returns a*x + b*y, treating missing entries as zero.
func axpby(a float64, x []float64, b float64, y []float64) []float64 {
	if len(x) == 0 && len(y) == 0 {
		return nil
	}
	n := len(x)
	if len(y) > n {
		n = len(y)
	}
	out := make([]float64, n)
	for i, xi := range x {
		out[i] = a * xi
	}
	for i, yi := range y {
		out[i] += b * yi
	}
	return out
}

func (a Dual) Add(b Dual) Dual {
	return Dual{V: a.V + b.V, D: axpby(1, a.D, 1, b.D)}
}

func (a Dual) Sub(b Dual) Dual {
	return Dual{V: a.V - b.V, D: axpby(1, a.D, -1, b.D)}
}

func (a Dual) Mul(b Dual) Dual {
	return Dual{V: a.V * b.V, D: axpby(b.V, a.D, a.V, b.D)}
}

func (a Dual) Div(b Dual) Dual {
	inv := 1 / b.V
	return Dual{V: a.V * inv, D: axpby(inv, a.D, -a.V*inv*inv, b.D)}
}

func (a Dual) Neg() Dual {
	return Dual{V: -a.V, D: axpby(-1, a.D, 0, nil)}
}

func (a Dual) Scale(c float64) Dual {
	return Dual{V: a.V * c, D: axpby(c, a.D, 0, nil)}
}

func (a Dual) Sin() Dual {
	s, c := math.Sincos(a.V)
	return Dual{V: s, D: axpby(c, a.D, 0, nil)}
}

func (a Dual) Cos() Dual {
	s, c := math.Sincos(a.V)
	return Dual{V: c, D: axpby(-s, a.D, 0, nil)}
}

// Sqrt has an unbounded derivative at zero; the tangent is Inf or NaN there.
func (a Dual) Sqrt() Dual {
	r := math.Sqrt(a.V)
	return Dual{V: r, D: axpby(0.5/r, a.D, 0, nil)}
}

func (Dual) Const(c float64) Dual { return Dual{V: c} }

func (a Dual) Value() float64 { return a.V }

func (a Dual) Tangent() []float64 { return a.D }

func (Dual) Lift(v float64, tangent []float64) Dual {
	if len(tangent) == 0 {
		return Dual{V: v}
	}
	d := make([]float64, len(tangent))
	copy(d, tangent)
	return Dual{V: v, D: d}
}
