package kinematic

import (
	"errors"
	"fmt"

	"github.com/san-kum/kinsim/internal/autodiff"
	"github.com/san-kum/kinsim/internal/linalg"
	"github.com/san-kum/kinsim/internal/multibody"
)

// EvaluatorSet stacks the constraints of several evaluators in insertion
// order and solves the constrained forward dynamics of their plant.
//
// Evaluators are added while the set is being built. Afterwards the set is
// read-only and may be evaluated from several goroutines, each with its own
// Context.
type EvaluatorSet[T autodiff.Scalar[T]] struct {
	plant      multibody.Plant[T]
	evaluators []Evaluator[T]
	opts       Options
}

func NewEvaluatorSet[T autodiff.Scalar[T]](plant multibody.Plant[T], opts ...Option) *EvaluatorSet[T] {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &EvaluatorSet[T]{plant: plant, opts: o}
}

func (s *EvaluatorSet[T]) Plant() multibody.Plant[T] { return s.plant }
func (s *EvaluatorSet[T]) Options() Options          { return s.opts }
func (s *EvaluatorSet[T]) NumEvaluators() int        { return len(s.evaluators) }

// AddEvaluator appends e and returns its index.
func (s *EvaluatorSet[T]) AddEvaluator(e Evaluator[T]) int {
	s.evaluators = append(s.evaluators, e)
	return len(s.evaluators) - 1
}

func (s *EvaluatorSet[T]) Evaluator(i int) (Evaluator[T], error) {
	if err := s.checkIndex(i); err != nil {
		return nil, err
	}
	return s.evaluators[i], nil
}

func (s *EvaluatorSet[T]) CountFull() int {
	n := 0
	for _, e := range s.evaluators {
		n += e.NumFull()
	}
	return n
}

func (s *EvaluatorSet[T]) CountActive() int {
	n := 0
	for _, e := range s.evaluators {
		n += e.NumActive()
	}
	return n
}

// EvaluatorFullStart is the first row of evaluator i in the full stack.
func (s *EvaluatorSet[T]) EvaluatorFullStart(i int) (int, error) {
	if err := s.checkIndex(i); err != nil {
		return 0, err
	}
	start := 0
	for _, e := range s.evaluators[:i] {
		start += e.NumFull()
	}
	return start, nil
}

// EvaluatorActiveStart is the first row of evaluator i in the active stack.
func (s *EvaluatorSet[T]) EvaluatorActiveStart(i int) (int, error) {
	if err := s.checkIndex(i); err != nil {
		return 0, err
	}
	start := 0
	for _, e := range s.evaluators[:i] {
		start += e.NumActive()
	}
	return start, nil
}

func (s *EvaluatorSet[T]) checkIndex(i int) error {
	if i < 0 || i >= len(s.evaluators) {
		return fmt.Errorf("%w: %d (set has %d evaluators)", ErrIndexOutOfRange, i, len(s.evaluators))
	}
	return nil
}

// FindUnion returns, in ascending order, the positions in other whose
// evaluator is also held by s. Evaluators match by identity only; two
// separately built evaluators with equal parameters do not match.
func (s *EvaluatorSet[T]) FindUnion(other *EvaluatorSet[T]) []int {
	union := []int{}
	for i, e := range other.evaluators {
		for _, mine := range s.evaluators {
			if mine == e {
				union = append(union, i)
				break
			}
		}
	}
	return union
}

func (s *EvaluatorSet[T]) checkContext(ctx *multibody.Context[T]) error {
	if err := ctx.Matches(s.plant); err != nil {
		return fmt.Errorf("%w: %w", ErrDimensionMismatch, err)
	}
	return nil
}

func fullRows[T autodiff.Scalar[T]](e Evaluator[T]) int   { return e.NumFull() }
func activeRows[T autodiff.Scalar[T]](e Evaluator[T]) int { return e.NumActive() }

// stackVectors concatenates one vector per evaluator. Each part must have
// exactly the rows its evaluator declares, so that the offsets reported by
// EvaluatorFullStart and EvaluatorActiveStart stay valid.
func (s *EvaluatorSet[T]) stackVectors(ctx *multibody.Context[T], rows func(Evaluator[T]) int, eval func(Evaluator[T]) linalg.Vector[T]) (linalg.Vector[T], error) {
	if err := s.checkContext(ctx); err != nil {
		return nil, err
	}
	parts := make([]linalg.Vector[T], len(s.evaluators))
	for i, e := range s.evaluators {
		parts[i] = eval(e)
		if got, want := len(parts[i]), rows(e); got != want {
			return nil, fmt.Errorf("%w: evaluator %d returned %d rows, declares %d", ErrDimensionMismatch, i, got, want)
		}
	}
	return linalg.Concat(parts...), nil
}

// stackMatrices is stackVectors for Jacobians, which also need n_v columns.
func (s *EvaluatorSet[T]) stackMatrices(ctx *multibody.Context[T], rows func(Evaluator[T]) int, eval func(Evaluator[T]) linalg.Matrix[T]) (linalg.Matrix[T], error) {
	if err := s.checkContext(ctx); err != nil {
		return linalg.Matrix[T]{}, err
	}
	nv := s.plant.NumVelocities()
	parts := make([]linalg.Matrix[T], len(s.evaluators))
	for i, e := range s.evaluators {
		parts[i] = eval(e)
		if got, want := parts[i].Rows(), rows(e); got != want {
			return linalg.Matrix[T]{}, fmt.Errorf("%w: evaluator %d returned %d rows, declares %d", ErrDimensionMismatch, i, got, want)
		}
		if got := parts[i].Cols(); got != nv {
			return linalg.Matrix[T]{}, fmt.Errorf("%w: evaluator %d returned %d columns, plant has %d velocities", ErrDimensionMismatch, i, got, nv)
		}
	}
	return linalg.VStack(nv, parts...), nil
}

func (s *EvaluatorSet[T]) EvalFull(ctx *multibody.Context[T]) (linalg.Vector[T], error) {
	return s.stackVectors(ctx, fullRows[T], func(e Evaluator[T]) linalg.Vector[T] { return e.EvalFull(ctx) })
}

func (s *EvaluatorSet[T]) EvalActive(ctx *multibody.Context[T]) (linalg.Vector[T], error) {
	return s.stackVectors(ctx, activeRows[T], func(e Evaluator[T]) linalg.Vector[T] { return e.EvalActive(ctx) })
}

func (s *EvaluatorSet[T]) EvalFullJacobian(ctx *multibody.Context[T]) (linalg.Matrix[T], error) {
	return s.stackMatrices(ctx, fullRows[T], func(e Evaluator[T]) linalg.Matrix[T] { return e.EvalFullJacobian(ctx) })
}

func (s *EvaluatorSet[T]) EvalActiveJacobian(ctx *multibody.Context[T]) (linalg.Matrix[T], error) {
	return s.stackMatrices(ctx, activeRows[T], func(e Evaluator[T]) linalg.Matrix[T] { return e.EvalActiveJacobian(ctx) })
}

func (s *EvaluatorSet[T]) EvalFullJacobianDotTimesV(ctx *multibody.Context[T]) (linalg.Vector[T], error) {
	return s.stackVectors(ctx, fullRows[T], func(e Evaluator[T]) linalg.Vector[T] { return e.EvalFullJacobianDotTimesV(ctx) })
}

func (s *EvaluatorSet[T]) EvalActiveJacobianDotTimesV(ctx *multibody.Context[T]) (linalg.Vector[T], error) {
	return s.stackVectors(ctx, activeRows[T], func(e Evaluator[T]) linalg.Vector[T] { return e.EvalActiveJacobianDotTimesV(ctx) })
}

// EvalFullTimeDerivative returns φ̇ = J*v over all rows.
func (s *EvaluatorSet[T]) EvalFullTimeDerivative(ctx *multibody.Context[T]) (linalg.Vector[T], error) {
	j, err := s.EvalFullJacobian(ctx)
	if err != nil {
		return nil, err
	}
	return j.MulVec(ctx.Velocities()), nil
}

// EvalActiveTimeDerivative returns φ̇ = J*v over the active rows.
func (s *EvaluatorSet[T]) EvalActiveTimeDerivative(ctx *multibody.Context[T]) (linalg.Vector[T], error) {
	j, err := s.EvalActiveJacobian(ctx)
	if err != nil {
		return nil, err
	}
	return j.MulVec(ctx.Velocities()), nil
}

// MapActiveToFull scatters active-row values onto the full row space.
// Inactive rows are zero.
func (s *EvaluatorSet[T]) MapActiveToFull(active linalg.Vector[T]) (linalg.Vector[T], error) {
	if len(active) != s.CountActive() {
		return nil, fmt.Errorf("%w: %d active values, set has %d active rows", ErrDimensionMismatch, len(active), s.CountActive())
	}
	full := linalg.Zeros[T](s.CountFull())
	fullStart, activeStart := 0, 0
	for _, e := range s.evaluators {
		for k, row := range e.ActiveInds() {
			full[fullStart+row] = active[activeStart+k]
		}
		fullStart += e.NumFull()
		activeStart += e.NumActive()
	}
	return full, nil
}

// generalizedForces returns B*u + bias.
func (s *EvaluatorSet[T]) generalizedForces(ctx *multibody.Context[T]) linalg.Vector[T] {
	return s.plant.ActuationForces(ctx).Add(s.plant.BiasForces(ctx))
}

// CalcMassMatrixTimesVDot returns M*v̇ = B*u + bias + J_fullᵀ*λ for a given
// full-row multiplier vector.
func (s *EvaluatorSet[T]) CalcMassMatrixTimesVDot(ctx *multibody.Context[T], lambda linalg.Vector[T]) (linalg.Vector[T], error) {
	if len(lambda) != s.CountFull() {
		return nil, fmt.Errorf("%w: %d multipliers, set has %d rows", ErrDimensionMismatch, len(lambda), s.CountFull())
	}
	j, err := s.EvalFullJacobian(ctx)
	if err != nil {
		return nil, err
	}
	return s.generalizedForces(ctx).Add(j.TMulVec(lambda)), nil
}

// CalcTimeDerivativesWithForce returns [q̇; v̇] under a prescribed full-row
// multiplier vector.
func (s *EvaluatorSet[T]) CalcTimeDerivativesWithForce(ctx *multibody.Context[T], lambda linalg.Vector[T]) (linalg.Vector[T], error) {
	rhs, err := s.CalcMassMatrixTimesVDot(ctx, lambda)
	if err != nil {
		return nil, err
	}
	m, err := s.massMatrix(ctx)
	if err != nil {
		return nil, err
	}
	vdot, err := linalg.SolveSPD(m, rhs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSingularMassMatrix, err)
	}
	return linalg.Concat(s.plant.MapVelocityToQDot(ctx), vdot), nil
}

// massMatrix returns M, rejecting one that is not positive definite or is
// too badly conditioned to invert.
func (s *EvaluatorSet[T]) massMatrix(ctx *multibody.Context[T]) (linalg.Matrix[T], error) {
	m := s.plant.MassMatrix(ctx)
	if err := linalg.CheckSPD(m); err != nil {
		return linalg.Matrix[T]{}, fmt.Errorf("%w: %w", ErrSingularMassMatrix, err)
	}
	return m, nil
}

// CalcTimeDerivatives returns [q̇; v̇] with the active constraints enforced
// at the acceleration level and stabilized with gain alpha:
//
//	J_a*v̇ + J̇_a*v = -α²*φ_a - 2α*φ̇_a
//
// alpha = 0 disables stabilization.
func (s *EvaluatorSet[T]) CalcTimeDerivatives(ctx *multibody.Context[T], alpha float64) (linalg.Vector[T], error) {
	xdot, _, err := s.CalcTimeDerivativesWithLambda(ctx, alpha)
	return xdot, err
}

// CalcTimeDerivativesWithLambda is CalcTimeDerivatives that also returns the
// multipliers over the full row space, zero on inactive rows. It solves
//
//	[ M    -J_aᵀ ] [ v̇  ]   [ B*u + bias                 ]
//	[ J_a   0    ] [ λ_a ] = [ -J̇_a*v - kp*φ_a - kd*φ̇_a ]
//
// with kp = α² and kd = 2α.
func (s *EvaluatorSet[T]) CalcTimeDerivativesWithLambda(ctx *multibody.Context[T], alpha float64) (xdot, lambda linalg.Vector[T], err error) {
	if alpha < 0 {
		return nil, nil, fmt.Errorf("%w: alpha %g", ErrInvalidGain, alpha)
	}
	if err := s.checkContext(ctx); err != nil {
		return nil, nil, err
	}

	m, err := s.massMatrix(ctx)
	if err != nil {
		return nil, nil, err
	}
	tau := s.generalizedForces(ctx)
	qdot := s.plant.MapVelocityToQDot(ctx)

	nv, na := s.plant.NumVelocities(), s.CountActive()
	if na == 0 {
		vdot, err := linalg.SolveSPD(m, tau)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrSingularMassMatrix, err)
		}
		return linalg.Concat(qdot, vdot), linalg.Zeros[T](s.CountFull()), nil
	}

	ja, err := s.EvalActiveJacobian(ctx)
	if err != nil {
		return nil, nil, err
	}
	jdv, err := s.EvalActiveJacobianDotTimesV(ctx)
	if err != nil {
		return nil, nil, err
	}
	phi, err := s.EvalActive(ctx)
	if err != nil {
		return nil, nil, err
	}
	phidot := ja.MulVec(ctx.Velocities())

	kp, kd := alpha*alpha, 2*alpha
	accel := jdv.Add(phi.Scale(kp)).Add(phidot.Scale(kd)).Neg()

	kkt := linalg.NewMatrix[T](nv+na, nv+na)
	kkt.SetBlock(0, 0, m)
	kkt.SetBlock(0, nv, ja.T().Scale(-1))
	kkt.SetBlock(nv, 0, ja)
	rhs := linalg.Concat(tau, accel)

	var sol linalg.Vector[T]
	switch s.opts.Solver {
	case SolveStrict:
		sol, err = linalg.SolveStrict(kkt, rhs, s.opts.Tolerances)
	default:
		sol, err = linalg.SolveMinNorm(kkt, rhs, s.opts.Tolerances)
	}
	if err != nil {
		return nil, nil, classifySolveError(err)
	}

	lambda, err = s.MapActiveToFull(sol[nv:])
	if err != nil {
		return nil, nil, err
	}
	return linalg.Concat(qdot, sol[:nv]), lambda, nil
}

func classifySolveError(err error) error {
	switch {
	case errors.Is(err, linalg.ErrInconsistent):
		return fmt.Errorf("%w: %w", ErrInconsistentConstraints, err)
	case errors.Is(err, linalg.ErrRankDeficient), errors.Is(err, linalg.ErrSingular):
		return fmt.Errorf("%w: %w", ErrRankDeficient, err)
	}
	return err
}
