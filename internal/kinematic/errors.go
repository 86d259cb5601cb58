package kinematic

import "errors"

// Domain errors for constraint evaluation and constrained dynamics.
var (
	// ErrDimensionMismatch indicates a context, multiplier vector or weight
	// matrix whose size disagrees with the plant or the evaluator set.
	ErrDimensionMismatch = errors.New("kinematic: dimension mismatch")

	// ErrSingularMassMatrix indicates a mass matrix that is not numerically
	// symmetric positive definite.
	ErrSingularMassMatrix = errors.New("kinematic: mass matrix is singular or not positive definite")

	// ErrRankDeficient indicates redundant active constraints under the
	// strict solver policy.
	ErrRankDeficient = errors.New("kinematic: constraint system is rank deficient")

	// ErrInconsistentConstraints indicates redundant active constraints that
	// contradict each other, so no multiplier satisfies all of them.
	ErrInconsistentConstraints = errors.New("kinematic: redundant constraints are inconsistent")

	ErrIndexOutOfRange = errors.New("kinematic: evaluator index out of range")

	// ErrInvalidGain indicates a negative stabilization gain.
	ErrInvalidGain = errors.New("kinematic: stabilization gain must be non-negative")

	// ErrInvalidEvaluator indicates bad construction arguments: an unsorted
	// or out-of-range active mask, an unknown frame, a non-positive distance.
	ErrInvalidEvaluator = errors.New("kinematic: invalid evaluator")
)
