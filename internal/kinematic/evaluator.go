package kinematic

import (
	"fmt"
	"math"
	"slices"

	"github.com/san-kum/kinsim/internal/autodiff"
	"github.com/san-kum/kinsim/internal/linalg"
	"github.com/san-kum/kinsim/internal/multibody"
)

// Evaluator is a holonomic constraint φ(q) on a plant.
//
// Full evaluations return all NumFull rows; active evaluations return only
// the rows listed by ActiveInds, in that order. The mask is fixed when the
// evaluator is built.
//
// Evaluators are used through pointers. An [EvaluatorSet] stores the
// pointer it was given, and [EvaluatorSet.FindUnion] matches on it.
type Evaluator[T autodiff.Scalar[T]] interface {
	NumFull() int
	NumActive() int
	ActiveInds() []int
	// IsRelative reports whether consumers should measure φ relative to its
	// value at a reference state instead of against zero.
	IsRelative() bool

	// EvalFull returns φ, zero when the constraint holds.
	EvalFull(ctx *multibody.Context[T]) linalg.Vector[T]
	// EvalFullJacobian returns J with dφ/dt = J*v, NumFull x n_v.
	EvalFullJacobian(ctx *multibody.Context[T]) linalg.Matrix[T]
	// EvalFullJacobianDotTimesV returns J̇*v.
	EvalFullJacobianDotTimesV(ctx *multibody.Context[T]) linalg.Vector[T]

	EvalActive(ctx *multibody.Context[T]) linalg.Vector[T]
	EvalActiveJacobian(ctx *multibody.Context[T]) linalg.Matrix[T]
	EvalActiveJacobianDotTimesV(ctx *multibody.Context[T]) linalg.Vector[T]
}

// Base holds the row bookkeeping shared by every evaluator. Concrete
// evaluators embed it and route their active variants through Active and
// ActiveRows.
type Base[T autodiff.Scalar[T]] struct {
	numFull  int
	active   []int
	relative bool
}

// NewBase validates the active mask. A nil mask activates every row.
func NewBase[T autodiff.Scalar[T]](numFull int, active []int, relative bool) (Base[T], error) {
	if numFull < 0 {
		return Base[T]{}, fmt.Errorf("%w: negative row count %d", ErrInvalidEvaluator, numFull)
	}
	if active == nil {
		active = make([]int, numFull)
		for i := range active {
			active[i] = i
		}
	}
	for k, i := range active {
		if i < 0 || i >= numFull {
			return Base[T]{}, fmt.Errorf("%w: active row %d outside %d rows", ErrInvalidEvaluator, i, numFull)
		}
		if k > 0 && i <= active[k-1] {
			return Base[T]{}, fmt.Errorf("%w: active rows %v must be sorted and unique", ErrInvalidEvaluator, active)
		}
	}
	return Base[T]{numFull: numFull, active: slices.Clone(active), relative: relative}, nil
}

func (b *Base[T]) NumFull() int     { return b.numFull }
func (b *Base[T]) NumActive() int   { return len(b.active) }
func (b *Base[T]) IsRelative() bool { return b.relative }

// ActiveInds returns a copy of the active row indices.
func (b *Base[T]) ActiveInds() []int { return slices.Clone(b.active) }

// Active restricts a full-row vector to the active rows.
func (b *Base[T]) Active(full linalg.Vector[T]) linalg.Vector[T] {
	return full.Select(b.active)
}

// ActiveRows restricts a full-row matrix to the active rows.
func (b *Base[T]) ActiveRows(full linalg.Matrix[T]) linalg.Matrix[T] {
	return full.SelectRows(b.active)
}

// EvaluatorOption configures an evaluator at construction.
type EvaluatorOption func(*evaluatorConfig)

type evaluatorConfig struct {
	active    []int
	relative  bool
	viewAngle float64
	offset    multibody.Point
}

func buildConfig(opts []EvaluatorOption) evaluatorConfig {
	var cfg evaluatorConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithActive enforces only the listed rows. Rows must be sorted and unique.
func WithActive(rows ...int) EvaluatorOption {
	return func(c *evaluatorConfig) { c.active = append([]int{}, rows...) }
}

func WithRelative() EvaluatorOption {
	return func(c *evaluatorConfig) { c.relative = true }
}

// WithView expresses a point constraint along world axes rotated by angle
// (radians). Row 0 is the rotated x axis, row 1 the rotated y axis, so a
// surface with normal at angle+π/2 is enforced by activating row 1 only.
func WithView(angle float64) EvaluatorOption {
	return func(c *evaluatorConfig) { c.viewAngle = angle }
}

// WithOffset sets the world position the point is held at.
func WithOffset(p multibody.Point) EvaluatorOption {
	return func(c *evaluatorConfig) { c.offset = p }
}

func checkFrame(numFrames, frame int) error {
	if frame < 0 || frame >= numFrames {
		return fmt.Errorf("%w: %w: %d (plant has %d frames)", ErrInvalidEvaluator, multibody.ErrUnknownFrame, frame, numFrames)
	}
	return nil
}

// rotation returns the rows of the view basis.
func rotation(angle float64) [2][2]float64 {
	c, s := math.Cos(angle), math.Sin(angle)
	return [2][2]float64{{c, s}, {-s, c}}
}
