// Package multibody defines the rigid-body dynamics capability consumed by
// the kinematics code, the per-instant state snapshot, and a concrete planar
// serial-chain model.
//
// A [Plant] answers queries about a state snapshot ([Context]): mass matrix,
// bias forces, actuation, the q̇-from-v map and point kinematics on its
// frames. Plants are read-only during evaluation; anything cached lives in
// the Context, so one plant may be shared by goroutines that each own a
// Context.
package multibody

import (
	"errors"

	"github.com/san-kum/kinsim/internal/autodiff"
	"github.com/san-kum/kinsim/internal/linalg"
)

var (
	ErrDimensionMismatch = errors.New("multibody: dimension mismatch")
	ErrUnknownFrame      = errors.New("multibody: unknown frame")
	ErrInvalidParameter  = errors.New("multibody: invalid model parameter")
)

// Point is a body-fixed point in a frame's local coordinates.
type Point [2]float64

// Dimensions are the coordinate counts of a model.
type Dimensions interface {
	NumPositions() int
	NumVelocities() int
	NumActuators() int
}

// Plant is the dynamics model capability.
//
// Frame queries panic with ErrUnknownFrame for frame indices outside
// [0, NumFrames()); callers validate indices when they are configured.
type Plant[T autodiff.Scalar[T]] interface {
	Dimensions
	NumFrames() int

	// MassMatrix returns M(q), n_v x n_v.
	MassMatrix(ctx *Context[T]) linalg.Matrix[T]
	// BiasForces returns every generalized force except actuation and
	// constraint forces: gravity, joint damping, and minus the
	// Coriolis/centrifugal term.
	BiasForces(ctx *Context[T]) linalg.Vector[T]
	// ActuationForces returns B*u.
	ActuationForces(ctx *Context[T]) linalg.Vector[T]
	// KinematicMap returns N(q) with q̇ = N(q)*v.
	KinematicMap(ctx *Context[T]) linalg.Matrix[T]
	// MapVelocityToQDot returns N(q)*v for the context's v.
	MapVelocityToQDot(ctx *Context[T]) linalg.Vector[T]

	// PointPosition is the world position of a point fixed on frame.
	PointPosition(ctx *Context[T], frame int, p Point) linalg.Vector[T]
	// PointJacobian is d(position)/dv, 2 x n_v.
	PointJacobian(ctx *Context[T], frame int, p Point) linalg.Matrix[T]
	// PointJacobianDotTimesV is J̇*v for the same point.
	PointJacobianDotTimesV(ctx *Context[T], frame int, p Point) linalg.Vector[T]
}

// Energetic is implemented by plants that can report total mechanical energy.
type Energetic[T autodiff.Scalar[T]] interface {
	Energy(ctx *Context[T]) T
}
