package kinematic

import (
	"fmt"

	"github.com/san-kum/kinsim/internal/autodiff"
	"github.com/san-kum/kinsim/internal/linalg"
	"github.com/san-kum/kinsim/internal/multibody"
)

// JointEvaluator is a linear coordinate constraint φ = A*q - b, for locked
// joints and gear couplings. Its Jacobian is A*N(q); N is taken to be
// constant, so J̇v is zero.
type JointEvaluator[T autodiff.Scalar[T]] struct {
	Base[T]
	plant multibody.Plant[T]
	a     linalg.Matrix[T]
	b     linalg.Vector[T]
}

func NewJointEvaluator[T autodiff.Scalar[T]](plant multibody.Plant[T], a [][]float64, b []float64, opts ...EvaluatorOption) (*JointEvaluator[T], error) {
	if len(a) == 0 || len(a) != len(b) {
		return nil, fmt.Errorf("%w: %d coefficient rows for %d targets", ErrDimensionMismatch, len(a), len(b))
	}
	for i, row := range a {
		if len(row) != plant.NumPositions() {
			return nil, fmt.Errorf("%w: row %d has %d coefficients, plant has %d positions", ErrDimensionMismatch, i, len(row), plant.NumPositions())
		}
	}
	cfg := buildConfig(opts)
	base, err := NewBase[T](len(a), cfg.active, cfg.relative)
	if err != nil {
		return nil, err
	}
	return &JointEvaluator[T]{
		Base:  base,
		plant: plant,
		a:     linalg.FromRows[T](a),
		b:     linalg.VectorOf[T](b...),
	}, nil
}

// NewLockedJointEvaluator holds q[index] at value.
func NewLockedJointEvaluator[T autodiff.Scalar[T]](plant multibody.Plant[T], index int, value float64, opts ...EvaluatorOption) (*JointEvaluator[T], error) {
	if index < 0 || index >= plant.NumPositions() {
		return nil, fmt.Errorf("%w: joint %d outside %d positions", ErrInvalidEvaluator, index, plant.NumPositions())
	}
	row := make([]float64, plant.NumPositions())
	row[index] = 1
	return NewJointEvaluator(plant, [][]float64{row}, []float64{value}, opts...)
}

func (e *JointEvaluator[T]) EvalFull(ctx *multibody.Context[T]) linalg.Vector[T] {
	return e.a.MulVec(ctx.Positions()).Sub(e.b)
}

func (e *JointEvaluator[T]) EvalFullJacobian(ctx *multibody.Context[T]) linalg.Matrix[T] {
	return e.a.Mul(e.plant.KinematicMap(ctx))
}

func (e *JointEvaluator[T]) EvalFullJacobianDotTimesV(ctx *multibody.Context[T]) linalg.Vector[T] {
	return linalg.Zeros[T](e.NumFull())
}

func (e *JointEvaluator[T]) EvalActive(ctx *multibody.Context[T]) linalg.Vector[T] {
	return e.Active(e.EvalFull(ctx))
}

func (e *JointEvaluator[T]) EvalActiveJacobian(ctx *multibody.Context[T]) linalg.Matrix[T] {
	return e.ActiveRows(e.EvalFullJacobian(ctx))
}

func (e *JointEvaluator[T]) EvalActiveJacobianDotTimesV(ctx *multibody.Context[T]) linalg.Vector[T] {
	return e.Active(e.EvalFullJacobianDotTimesV(ctx))
}
