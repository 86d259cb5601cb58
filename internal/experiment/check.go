package experiment

import (
	"github.com/san-kum/kinsim/internal/autodiff"
	"github.com/san-kum/kinsim/internal/linalg"
	"github.com/san-kum/kinsim/internal/multibody"
)

// EvaluatorReport locates one evaluator's rows in the stacked vectors.
type EvaluatorReport struct {
	Name        string
	FullStart   int
	NumFull     int
	ActiveStart int
	NumActive   int
	ActiveInds  []int
	Relative    bool
}

// Report summarizes the constraint set at the initial state.
type Report struct {
	Name          string
	NumPositions  int
	NumVelocities int
	NumActuators  int
	CountFull     int
	CountActive   int
	Evaluators    []EvaluatorReport
	Residual      []float64
	ResidualNorm  float64
	// JacobianRank is the rank of the active Jacobian; below CountActive the
	// active constraints are redundant.
	JacobianRank int
	Multipliers  []float64
	Accel        []float64
	// SolveErr is set when the constrained solve at x0 fails; the other
	// fields are still filled in.
	SolveErr error
}

func (r *Report) Redundant() bool { return r.JacobianRank < r.CountActive }

// Check evaluates the constraints and the constrained solve at x0.
func (e *Experiment) Check() (*Report, error) {
	set := e.Set()
	ctx, err := multibody.NewContextFromState[autodiff.Real](e.plant, autodiff.Reals(e.x0), nil)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		Name:          e.cfg.Name,
		NumPositions:  e.plant.NumPositions(),
		NumVelocities: e.plant.NumVelocities(),
		NumActuators:  e.plant.NumActuators(),
		CountFull:     set.CountFull(),
		CountActive:   set.CountActive(),
	}

	for i := 0; i < set.NumEvaluators(); i++ {
		ev, err := set.Evaluator(i)
		if err != nil {
			return nil, err
		}
		fullStart, err := set.EvaluatorFullStart(i)
		if err != nil {
			return nil, err
		}
		activeStart, err := set.EvaluatorActiveStart(i)
		if err != nil {
			return nil, err
		}
		rep.Evaluators = append(rep.Evaluators, EvaluatorReport{
			Name:        e.names[i],
			FullStart:   fullStart,
			NumFull:     ev.NumFull(),
			ActiveStart: activeStart,
			NumActive:   ev.NumActive(),
			ActiveInds:  ev.ActiveInds(),
			Relative:    ev.IsRelative(),
		})
	}

	phi, err := set.EvalFull(ctx)
	if err != nil {
		return nil, err
	}
	rep.Residual = phi.Values()
	rep.ResidualNorm = phi.Norm()

	jac, err := set.EvalActiveJacobian(ctx)
	if err != nil {
		return nil, err
	}
	tol := set.Options().Tolerances
	if rep.JacobianRank, err = linalg.Rank(jac, tol.RCond); err != nil {
		return nil, err
	}

	xdot, lambda, err := set.CalcTimeDerivativesWithLambda(ctx, e.system.Alpha())
	if err != nil {
		rep.SolveErr = err
		return rep, nil
	}
	rep.Multipliers = lambda.Values()
	rep.Accel = xdot.Values()[rep.NumPositions:]
	return rep, nil
}
