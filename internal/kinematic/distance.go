package kinematic

import (
	"fmt"

	"github.com/san-kum/kinsim/internal/autodiff"
	"github.com/san-kum/kinsim/internal/linalg"
	"github.com/san-kum/kinsim/internal/multibody"
)

// DistanceEvaluator closes a kinematic loop by holding two body-fixed points
// a fixed distance apart: φ = |pA - pB| - d.
//
// The gradient is undefined when the points coincide, so d must be positive.
type DistanceEvaluator[T autodiff.Scalar[T]] struct {
	Base[T]
	plant          multibody.Plant[T]
	frameA, frameB int
	pointA, pointB multibody.Point
	distance       float64
}

func NewDistanceEvaluator[T autodiff.Scalar[T]](plant multibody.Plant[T], frameA int, pointA multibody.Point, frameB int, pointB multibody.Point, distance float64, opts ...EvaluatorOption) (*DistanceEvaluator[T], error) {
	for _, f := range []int{frameA, frameB} {
		if err := checkFrame(plant.NumFrames(), f); err != nil {
			return nil, err
		}
	}
	if distance <= 0 {
		return nil, fmt.Errorf("%w: distance %g must be positive", ErrInvalidEvaluator, distance)
	}
	cfg := buildConfig(opts)
	base, err := NewBase[T](1, cfg.active, cfg.relative)
	if err != nil {
		return nil, err
	}
	return &DistanceEvaluator[T]{
		Base:     base,
		plant:    plant,
		frameA:   frameA,
		frameB:   frameB,
		pointA:   pointA,
		pointB:   pointB,
		distance: distance,
	}, nil
}

func (e *DistanceEvaluator[T]) Distance() float64 { return e.distance }

func (e *DistanceEvaluator[T]) separation(ctx *multibody.Context[T]) (r linalg.Vector[T], norm T) {
	r = e.plant.PointPosition(ctx, e.frameA, e.pointA).Sub(e.plant.PointPosition(ctx, e.frameB, e.pointB))
	return r, r.Dot(r).Sqrt()
}

func (e *DistanceEvaluator[T]) relativeJacobian(ctx *multibody.Context[T]) linalg.Matrix[T] {
	ja := e.plant.PointJacobian(ctx, e.frameA, e.pointA)
	jb := e.plant.PointJacobian(ctx, e.frameB, e.pointB)
	return ja.Add(jb.Scale(-1))
}

func (e *DistanceEvaluator[T]) EvalFull(ctx *multibody.Context[T]) linalg.Vector[T] {
	_, norm := e.separation(ctx)
	return linalg.Vector[T]{norm.Sub(norm.Const(e.distance))}
}

func (e *DistanceEvaluator[T]) EvalFullJacobian(ctx *multibody.Context[T]) linalg.Matrix[T] {
	r, norm := e.separation(ctx)
	row := e.relativeJacobian(ctx).TMulVec(r)
	j := linalg.NewMatrix[T](1, len(row))
	for i, x := range row {
		j.Set(0, i, x.Div(norm))
	}
	return j
}

// EvalFullJacobianDotTimesV differentiates (r·ṙ)/|r|:
//
//	J̇v = (ṙ·ṙ)/|r| - (r·ṙ)²/|r|³ + r·(J̇A v - J̇B v)/|r|
func (e *DistanceEvaluator[T]) EvalFullJacobianDotTimesV(ctx *multibody.Context[T]) linalg.Vector[T] {
	r, norm := e.separation(ctx)
	rdot := e.relativeJacobian(ctx).MulVec(ctx.Velocities())
	bias := e.plant.PointJacobianDotTimesV(ctx, e.frameA, e.pointA).
		Sub(e.plant.PointJacobianDotTimesV(ctx, e.frameB, e.pointB))

	rr := r.Dot(rdot)
	out := rdot.Dot(rdot).Add(r.Dot(bias)).Div(norm).
		Sub(rr.Mul(rr).Div(norm.Mul(norm).Mul(norm)))
	return linalg.Vector[T]{out}
}

func (e *DistanceEvaluator[T]) EvalActive(ctx *multibody.Context[T]) linalg.Vector[T] {
	return e.Active(e.EvalFull(ctx))
}

func (e *DistanceEvaluator[T]) EvalActiveJacobian(ctx *multibody.Context[T]) linalg.Matrix[T] {
	return e.ActiveRows(e.EvalFullJacobian(ctx))
}

func (e *DistanceEvaluator[T]) EvalActiveJacobianDotTimesV(ctx *multibody.Context[T]) linalg.Vector[T] {
	return e.Active(e.EvalFullJacobianDotTimesV(ctx))
}
