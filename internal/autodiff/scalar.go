package autodiff

import "math"

// Scalar is the arithmetic required by generic evaluation code. T is the
// implementing type itself.
type Scalar[T any] interface {
	Add(T) T
	Sub(T) T
	Mul(T) T
	Div(T) T
	Neg() T
	Scale(c float64) T
	Sin() T
	Cos() T
	Sqrt() T

	// Const returns c as a constant of type T. The receiver is ignored.
	Const(c float64) T
	// Value returns the primal value.
	Value() float64
	// Tangent returns the derivative part, or nil when there is none.
	Tangent() []float64
	// Lift builds a T from a primal value and a derivative part. Types
	// without derivative information drop the tangent.
	Lift(value float64, tangent []float64) T
}

// Const returns c converted to T.
func Const[T Scalar[T]](c float64) T {
	var z T
	return z.Const(c)
}

// FromFloats converts a float slice to a slice of constants.
func FromFloats[T Scalar[T]](xs []float64) []T {
	out := make([]T, len(xs))
	for i, x := range xs {
		out[i] = Const[T](x)
	}
	return out
}

// Values extracts the primal values.
func Values[T Scalar[T]](xs []T) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = x.Value()
	}
	return out
}

// Real is a plain real number.
type Real float64

func (a Real) Add(b Real) Real      { return a + b }
func (a Real) Sub(b Real) Real      { return a - b }
func (a Real) Mul(b Real) Real      { return a * b }
func (a Real) Div(b Real) Real      { return a / b }
func (a Real) Neg() Real            { return -a }
func (a Real) Scale(c float64) Real { return a * Real(c) }
func (a Real) Sin() Real            { return Real(math.Sin(float64(a))) }
func (a Real) Cos() Real            { return Real(math.Cos(float64(a))) }
func (a Real) Sqrt() Real           { return Real(math.Sqrt(float64(a))) }

func (Real) Const(c float64) Real             { return Real(c) }
func (a Real) Value() float64                 { return float64(a) }
func (Real) Tangent() []float64               { return nil }
func (Real) Lift(v float64, _ []float64) Real { return Real(v) }

// Reals converts a float slice to Real values.
func Reals(xs []float64) []Real {
	return FromFloats[Real](xs)
}
