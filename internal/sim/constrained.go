package sim

import (
	"fmt"

	"github.com/san-kum/kinsim/internal/autodiff"
	"github.com/san-kum/kinsim/internal/dynamo"
	"github.com/san-kum/kinsim/internal/kinematic"
	"github.com/san-kum/kinsim/internal/multibody"
)

// ConstrainedSystem turns an evaluator set into a dynamo.System with state
// x = [q; v] and control u = actuation input. Derive runs the stabilized
// constrained solve with gain alpha.
type ConstrainedSystem struct {
	set   *kinematic.EvaluatorSet[autodiff.Real]
	alpha float64
}

func NewConstrainedSystem(set *kinematic.EvaluatorSet[autodiff.Real], alpha float64) (*ConstrainedSystem, error) {
	if alpha < 0 {
		return nil, fmt.Errorf("%w: alpha %g", kinematic.ErrInvalidGain, alpha)
	}
	return &ConstrainedSystem{set: set, alpha: alpha}, nil
}

func (c *ConstrainedSystem) Set() *kinematic.EvaluatorSet[autodiff.Real] { return c.set }
func (c *ConstrainedSystem) Alpha() float64                              { return c.alpha }

func (c *ConstrainedSystem) StateDim() int {
	p := c.set.Plant()
	return p.NumPositions() + p.NumVelocities()
}

func (c *ConstrainedSystem) ControlDim() int { return c.set.Plant().NumActuators() }

// Context builds a plant context for (x, u). An empty u means zero actuation.
func (c *ConstrainedSystem) Context(x dynamo.State, u dynamo.Control) (*multibody.Context[autodiff.Real], error) {
	var ur []autodiff.Real
	if len(u) > 0 {
		ur = autodiff.Reals(u)
	}
	ctx, err := multibody.NewContextFromState(c.set.Plant(), autodiff.Reals(x), ur)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dynamo.ErrDimensionMismatch, err)
	}
	return ctx, nil
}

func (c *ConstrainedSystem) Derive(x dynamo.State, u dynamo.Control, t float64) (dynamo.State, error) {
	ctx, err := c.Context(x, u)
	if err != nil {
		return nil, err
	}
	xdot, err := c.set.CalcTimeDerivatives(ctx, c.alpha)
	if err != nil {
		return nil, err
	}
	return xdot.Values(), nil
}

func (c *ConstrainedSystem) Residual(x dynamo.State) ([]float64, error) {
	ctx, err := c.Context(x, nil)
	if err != nil {
		return nil, err
	}
	phi, err := c.set.EvalFull(ctx)
	if err != nil {
		return nil, err
	}
	return phi.Values(), nil
}

func (c *ConstrainedSystem) Multipliers(x dynamo.State, u dynamo.Control, t float64) ([]float64, error) {
	ctx, err := c.Context(x, u)
	if err != nil {
		return nil, err
	}
	_, lambda, err := c.set.CalcTimeDerivativesWithLambda(ctx, c.alpha)
	if err != nil {
		return nil, err
	}
	return lambda.Values(), nil
}

// RelativeRows marks the full constraint rows whose evaluator is relative.
func (c *ConstrainedSystem) RelativeRows() []bool {
	rows := make([]bool, 0, c.set.CountFull())
	for i := 0; i < c.set.NumEvaluators(); i++ {
		e, _ := c.set.Evaluator(i)
		for r := 0; r < e.NumFull(); r++ {
			rows = append(rows, e.IsRelative())
		}
	}
	return rows
}

// Energy is the plant's mechanical energy, or zero if the plant does not
// report one.
func (c *ConstrainedSystem) Energy(x dynamo.State) float64 {
	en, ok := c.set.Plant().(multibody.Energetic[autodiff.Real])
	if !ok {
		return 0
	}
	ctx, err := c.Context(x, nil)
	if err != nil {
		return 0
	}
	return en.Energy(ctx).Value()
}

func (c *ConstrainedSystem) GetParams() map[string]float64 {
	params := map[string]float64{"alpha": c.alpha}
	if cfg, ok := c.set.Plant().(dynamo.Configurable); ok {
		for k, v := range cfg.GetParams() {
			params[k] = v
		}
	}
	return params
}

// SetParam sets alpha or forwards to the plant. Not safe while a simulation
// is running.
func (c *ConstrainedSystem) SetParam(name string, value float64) error {
	if name == "alpha" {
		if value < 0 {
			return fmt.Errorf("%w: alpha %g", kinematic.ErrInvalidGain, value)
		}
		c.alpha = value
		return nil
	}
	if cfg, ok := c.set.Plant().(dynamo.Configurable); ok {
		return cfg.SetParam(name, value)
	}
	return fmt.Errorf("%w: unknown param %s", dynamo.ErrParameterBounds, name)
}
