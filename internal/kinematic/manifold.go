package kinematic

import (
	"fmt"

	"github.com/san-kum/kinsim/internal/autodiff"
	"github.com/san-kum/kinsim/internal/linalg"
	"github.com/san-kum/kinsim/internal/multibody"
)

// ManifoldEvaluator keeps the configuration on a learned manifold
//
//	φ = W * f(q),  f = [1, q_c..., cos(q_c)..., sin(q_c)...]
//
// over the coordinates c. Every row of W is one constraint, so W has
// 1+3*len(c) columns. The coordinates must satisfy q̇ = v.
type ManifoldEvaluator[T autodiff.Scalar[T]] struct {
	Base[T]
	coords  []int
	weights linalg.Matrix[T]
}

// NewManifoldEvaluator checks the weight shape and, using the kinematic map
// at ctx, that q̇_c = v_c on every listed coordinate.
func NewManifoldEvaluator[T autodiff.Scalar[T]](plant multibody.Plant[T], ctx *multibody.Context[T], coords []int, weights [][]float64, opts ...EvaluatorOption) (*ManifoldEvaluator[T], error) {
	if len(coords) == 0 {
		return nil, fmt.Errorf("%w: manifold needs at least one coordinate", ErrInvalidEvaluator)
	}
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: manifold needs at least one weight row", ErrDimensionMismatch)
	}
	cols := 1 + 3*len(coords)
	for i, row := range weights {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: weight row %d has %d columns, want %d", ErrDimensionMismatch, i, len(row), cols)
		}
	}
	if err := ctx.Matches(plant); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDimensionMismatch, err)
	}

	nq, nv := plant.NumPositions(), plant.NumVelocities()
	n := plant.KinematicMap(ctx)
	seen := make(map[int]bool)
	for _, c := range coords {
		if c < 0 || c >= nq || c >= nv || seen[c] {
			return nil, fmt.Errorf("%w: manifold coordinate %d", ErrInvalidEvaluator, c)
		}
		seen[c] = true
		for j := 0; j < nv; j++ {
			want := 0.0
			if j == c {
				want = 1
			}
			if n.At(c, j).Value() != want {
				return nil, fmt.Errorf("%w: q̇ != v on coordinate %d", ErrInvalidEvaluator, c)
			}
		}
	}

	cfg := buildConfig(opts)
	base, err := NewBase[T](len(weights), cfg.active, cfg.relative)
	if err != nil {
		return nil, err
	}
	return &ManifoldEvaluator[T]{
		Base:    base,
		coords:  append([]int(nil), coords...),
		weights: linalg.FromRows[T](weights),
	}, nil
}

func (e *ManifoldEvaluator[T]) features(q linalg.Vector[T]) linalg.Vector[T] {
	n := len(e.coords)
	f := make(linalg.Vector[T], 1+3*n)
	f[0] = autodiff.Const[T](1)
	for i, c := range e.coords {
		f[1+i] = q[c]
		f[1+n+i] = q[c].Cos()
		f[1+2*n+i] = q[c].Sin()
	}
	return f
}

func (e *ManifoldEvaluator[T]) EvalFull(ctx *multibody.Context[T]) linalg.Vector[T] {
	return e.weights.MulVec(e.features(ctx.Positions()))
}

// EvalFullJacobian is W * df/dq, scattered onto the listed velocity columns.
func (e *ManifoldEvaluator[T]) EvalFullJacobian(ctx *multibody.Context[T]) linalg.Matrix[T] {
	q := ctx.Positions()
	n := len(e.coords)
	j := linalg.NewMatrix[T](e.weights.Rows(), len(ctx.Velocities()))
	for r := 0; r < e.weights.Rows(); r++ {
		for i, c := range e.coords {
			d := e.weights.At(r, 1+i).
				Sub(e.weights.At(r, 1+n+i).Mul(q[c].Sin())).
				Add(e.weights.At(r, 1+2*n+i).Mul(q[c].Cos()))
			j.Set(r, c, d)
		}
	}
	return j
}

func (e *ManifoldEvaluator[T]) EvalFullJacobianDotTimesV(ctx *multibody.Context[T]) linalg.Vector[T] {
	q, v := ctx.Positions(), ctx.Velocities()
	n := len(e.coords)
	out := make(linalg.Vector[T], e.weights.Rows())
	for r := range out {
		var acc T
		for i, c := range e.coords {
			vv := v[c].Mul(v[c])
			d := e.weights.At(r, 1+n+i).Mul(q[c].Cos()).
				Add(e.weights.At(r, 1+2*n+i).Mul(q[c].Sin()))
			acc = acc.Sub(d.Mul(vv))
		}
		out[r] = acc
	}
	return out
}

func (e *ManifoldEvaluator[T]) EvalActive(ctx *multibody.Context[T]) linalg.Vector[T] {
	return e.Active(e.EvalFull(ctx))
}

func (e *ManifoldEvaluator[T]) EvalActiveJacobian(ctx *multibody.Context[T]) linalg.Matrix[T] {
	return e.ActiveRows(e.EvalFullJacobian(ctx))
}

func (e *ManifoldEvaluator[T]) EvalActiveJacobianDotTimesV(ctx *multibody.Context[T]) linalg.Vector[T] {
	return e.Active(e.EvalFullJacobianDotTimesV(ctx))
}
