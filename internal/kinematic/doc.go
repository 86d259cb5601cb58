// Package kinematic evaluates holonomic constraints φ(q) = 0 on a
// [multibody.Plant] and computes the constrained forward dynamics.
//
// An [Evaluator] produces φ, its Jacobian J (dφ/dt = J*v) and the bias
// term J̇*v. Each evaluator has NumFull rows of which a fixed subset is
// active; active rows are the ones enforced by a solve, while the full rows
// are kept for force bookkeeping.
//
// An [EvaluatorSet] stacks evaluators in insertion order. Row offsets are
// prefix sums over that order. CalcTimeDerivatives solves
//
//	[ M    -J_aᵀ ] [ v̇  ]   [ B*u + bias                 ]
//	[ J_a   0    ] [ λ_a ] = [ -J̇_a*v - α²*φ_a - 2α*φ̇_a ]
//
// for the accelerations and multipliers, with Baumgarte stabilization gain
// α. Redundant active constraints are resolved by the set's [SolverPolicy].
//
// Everything is generic over [autodiff.Scalar], so the same code computes
// plain values with [autodiff.Real] and forward-mode gradients with
// [autodiff.Dual].
//
// Example:
//
//	chain, _ := multibody.NewPlanarChain[autodiff.Real](links)
//	pin, _ := kinematic.NewPointPositionEvaluator(chain, 3, multibody.Point{1, 0},
//		kinematic.WithOffset(multibody.Point{1.5, 0}))
//	set := kinematic.NewEvaluatorSet(chain)
//	set.AddEvaluator(pin)
//	xdot, err := set.CalcTimeDerivatives(ctx, 10)
package kinematic
