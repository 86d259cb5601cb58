// Package autodiff provides the scalar types that kinematic and dynamic
// evaluation code is written against.
//
// Evaluation code is generic over a type parameter constrained by [Scalar].
// Two implementations are provided:
//
//   - [Real]: a plain float64, no derivative information
//   - [Dual]: a forward-mode dual number carrying a gradient vector
//
// Writing the math once against [Scalar] means the same evaluator yields
// values when instantiated with [Real] and values plus exact gradients when
// instantiated with [Dual].
//
// # Example
//
//	x := autodiff.Seed([]float64{0.3, 1.2}) // gradient w.r.t. both inputs
//	y := x[0].Sin().Mul(x[1])
//	y.Value()   // sin(0.3)*1.2
//	y.Tangent() // [cos(0.3)*1.2, sin(0.3)]
//
// The zero value of every Scalar must be the additive identity, so slices
// created with make are valid zero vectors for both types.
package autodiff
