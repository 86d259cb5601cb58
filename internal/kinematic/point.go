package kinematic

import (
	"github.com/san-kum/kinsim/internal/autodiff"
	"github.com/san-kum/kinsim/internal/linalg"
	"github.com/san-kum/kinsim/internal/multibody"
)

// PointPositionEvaluator pins a body-fixed point, or holds it on a line,
// in world coordinates:
//
//	φ = R * (p(q) - p0)
//
// where the rows of R are the view axes set by WithView and p0 is set by
// WithOffset. Activate a single row to constrain motion along one axis only,
// e.g. a point sliding on a surface.
type PointPositionEvaluator[T autodiff.Scalar[T]] struct {
	Base[T]
	plant  multibody.Plant[T]
	frame  int
	point  multibody.Point
	view   linalg.Matrix[T]
	offset linalg.Vector[T]
}

func NewPointPositionEvaluator[T autodiff.Scalar[T]](plant multibody.Plant[T], frame int, point multibody.Point, opts ...EvaluatorOption) (*PointPositionEvaluator[T], error) {
	if err := checkFrame(plant.NumFrames(), frame); err != nil {
		return nil, err
	}
	cfg := buildConfig(opts)
	base, err := NewBase[T](2, cfg.active, cfg.relative)
	if err != nil {
		return nil, err
	}
	r := rotation(cfg.viewAngle)
	return &PointPositionEvaluator[T]{
		Base:   base,
		plant:  plant,
		frame:  frame,
		point:  point,
		view:   linalg.FromRows[T]([][]float64{r[0][:], r[1][:]}),
		offset: linalg.VectorOf[T](cfg.offset[0], cfg.offset[1]),
	}, nil
}

func (e *PointPositionEvaluator[T]) Frame() int { return e.frame }

func (e *PointPositionEvaluator[T]) EvalFull(ctx *multibody.Context[T]) linalg.Vector[T] {
	p := e.plant.PointPosition(ctx, e.frame, e.point)
	return e.view.MulVec(p.Sub(e.offset))
}

func (e *PointPositionEvaluator[T]) EvalFullJacobian(ctx *multibody.Context[T]) linalg.Matrix[T] {
	return e.view.Mul(e.plant.PointJacobian(ctx, e.frame, e.point))
}

func (e *PointPositionEvaluator[T]) EvalFullJacobianDotTimesV(ctx *multibody.Context[T]) linalg.Vector[T] {
	return e.view.MulVec(e.plant.PointJacobianDotTimesV(ctx, e.frame, e.point))
}

func (e *PointPositionEvaluator[T]) EvalActive(ctx *multibody.Context[T]) linalg.Vector[T] {
	return e.Active(e.EvalFull(ctx))
}

func (e *PointPositionEvaluator[T]) EvalActiveJacobian(ctx *multibody.Context[T]) linalg.Matrix[T] {
	return e.ActiveRows(e.EvalFullJacobian(ctx))
}

func (e *PointPositionEvaluator[T]) EvalActiveJacobianDotTimesV(ctx *multibody.Context[T]) linalg.Vector[T] {
	return e.Active(e.EvalFullJacobianDotTimesV(ctx))
}
