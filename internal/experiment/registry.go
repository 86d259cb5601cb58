package experiment

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/san-kum/kinsim/internal/autodiff"
	"github.com/san-kum/kinsim/internal/config"
	"github.com/san-kum/kinsim/internal/control"
	"github.com/san-kum/kinsim/internal/dynamo"
	"github.com/san-kum/kinsim/internal/integrators"
	"github.com/san-kum/kinsim/internal/kinematic"
	"github.com/san-kum/kinsim/internal/metrics"
	"github.com/san-kum/kinsim/internal/multibody"
	"github.com/san-kum/kinsim/internal/sim"
)

var ErrUnknown = errors.New("experiment: unknown component")

type (
	Chain   = multibody.PlanarChain[autodiff.Real]
	Context = multibody.Context[autodiff.Real]

	// EvaluatorBuilder makes an evaluator from its scenario entry. ctx holds
	// the initial configuration, for targets taken from the start.
	EvaluatorBuilder func(plant *Chain, ctx *Context, ec config.EvaluatorConfig) (kinematic.Evaluator[autodiff.Real], error)

	// ControllerBuilder makes a controller for a system with nq positions and
	// nu actuators.
	ControllerBuilder func(cc config.ControllerConfig, nq, nu int) (dynamo.Controller, error)
)

type Registry struct {
	evaluators  map[string]EvaluatorBuilder
	integrators map[string]func() dynamo.Integrator
	controllers map[string]ControllerBuilder
}

func NewRegistry() *Registry {
	r := &Registry{
		evaluators:  make(map[string]EvaluatorBuilder),
		integrators: make(map[string]func() dynamo.Integrator),
		controllers: make(map[string]ControllerBuilder),
	}

	r.evaluators["point"] = buildPoint
	r.evaluators["distance"] = buildDistance
	r.evaluators["manifold"] = buildManifold
	r.evaluators["joint"] = buildJoint

	r.integrators["euler"] = func() dynamo.Integrator { return integrators.NewEuler() }
	r.integrators["rk4"] = func() dynamo.Integrator { return integrators.NewRK4() }
	r.integrators["rk45"] = func() dynamo.Integrator { return integrators.NewRK45() }
	r.integrators["verlet"] = func() dynamo.Integrator { return integrators.NewVerlet() }
	r.integrators["leapfrog"] = func() dynamo.Integrator { return integrators.NewLeapfrog() }

	r.controllers["none"] = func(cc config.ControllerConfig, nq, nu int) (dynamo.Controller, error) {
		return control.NewNone(nu), nil
	}
	r.controllers["pid"] = func(cc config.ControllerConfig, nq, nu int) (dynamo.Controller, error) {
		if len(cc.Coords) != nu {
			return nil, fmt.Errorf("%w: pid drives %d coordinates, plant has %d actuators", dynamo.ErrDimensionMismatch, len(cc.Coords), nu)
		}
		pid, err := control.NewPID(cc.Coords, nq, cc.Kp, cc.Ki, cc.Kd)
		if err != nil {
			return nil, err
		}
		copy(pid.Targets, cc.Targets)
		return pid, nil
	}
	r.controllers["lqr"] = func(cc config.ControllerConfig, nq, nu int) (dynamo.Controller, error) {
		if len(cc.Gains) != nu {
			return nil, fmt.Errorf("%w: lqr has %d gain rows, plant has %d actuators", dynamo.ErrDimensionMismatch, len(cc.Gains), nu)
		}
		target := make(dynamo.State, 2*nq)
		copy(target, cc.Target)
		return control.NewLQR(cc.Gains, target)
	}
	r.controllers["manual"] = func(cc config.ControllerConfig, nq, nu int) (dynamo.Controller, error) {
		return control.NewManual(nu), nil
	}

	return r
}

func (r *Registry) GetIntegrator(name string) (dynamo.Integrator, error) {
	fn, ok := r.integrators[name]
	if !ok {
		return nil, fmt.Errorf("%w: integrator %s", ErrUnknown, name)
	}
	return fn(), nil
}

func (r *Registry) GetController(cc config.ControllerConfig, nq, nu int) (dynamo.Controller, error) {
	kind := cc.Kind
	if kind == "" {
		kind = "none"
	}
	fn, ok := r.controllers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: controller %s", ErrUnknown, kind)
	}
	return fn(cc, nq, nu)
}

func (r *Registry) BuildEvaluator(plant *Chain, ctx *Context, ec config.EvaluatorConfig) (kinematic.Evaluator[autodiff.Real], error) {
	fn, ok := r.evaluators[ec.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: evaluator %s", ErrUnknown, ec.Kind)
	}
	return fn(plant, ctx, ec)
}

func (r *Registry) ListIntegrators() []string { return slices.Sorted(maps.Keys(r.integrators)) }
func (r *Registry) ListControllers() []string { return slices.Sorted(maps.Keys(r.controllers)) }
func (r *Registry) ListEvaluators() []string  { return slices.Sorted(maps.Keys(r.evaluators)) }

// DefaultMetrics are recorded on every run. A residual above stabilityTol
// counts against "stability".
func (r *Registry) DefaultMetrics(sys *sim.ConstrainedSystem, stabilityTol float64) []dynamo.Metric {
	return []dynamo.Metric{
		metrics.NewConstraintDrift(sys, sys.RelativeRows()),
		metrics.NewStability(sys, stabilityTol),
		metrics.NewPeakForce(sys),
		metrics.NewEnergyDrift(sys),
		metrics.NewControlEffort(),
	}
}

func evaluatorOptions(ec config.EvaluatorConfig) []kinematic.EvaluatorOption {
	var opts []kinematic.EvaluatorOption
	if len(ec.Active) > 0 {
		opts = append(opts, kinematic.WithActive(ec.Active...))
	}
	if ec.Relative {
		opts = append(opts, kinematic.WithRelative())
	}
	return opts
}

func toPoint(p [2]float64) multibody.Point { return multibody.Point{p[0], p[1]} }

func frameCheck(plant *Chain, frames ...int) error {
	for _, f := range frames {
		if f < 0 || f >= plant.NumFrames() {
			return fmt.Errorf("%w: %w: %d", kinematic.ErrInvalidEvaluator, multibody.ErrUnknownFrame, f)
		}
	}
	return nil
}

func buildPoint(plant *Chain, ctx *Context, ec config.EvaluatorConfig) (kinematic.Evaluator[autodiff.Real], error) {
	if err := frameCheck(plant, ec.Frame); err != nil {
		return nil, err
	}
	offset := toPoint(ec.Offset)
	if ec.FromStart {
		p := plant.PointPosition(ctx, ec.Frame, toPoint(ec.Point)).Values()
		offset = multibody.Point{p[0], p[1]}
	}
	opts := append(evaluatorOptions(ec), kinematic.WithView(ec.View), kinematic.WithOffset(offset))
	e, err := kinematic.NewPointPositionEvaluator[autodiff.Real](plant, ec.Frame, toPoint(ec.Point), opts...)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func buildDistance(plant *Chain, ctx *Context, ec config.EvaluatorConfig) (kinematic.Evaluator[autodiff.Real], error) {
	if err := frameCheck(plant, ec.Frame, ec.FrameB); err != nil {
		return nil, err
	}
	d := ec.Distance
	if ec.FromStart {
		a := plant.PointPosition(ctx, ec.Frame, toPoint(ec.Point)).Values()
		b := plant.PointPosition(ctx, ec.FrameB, toPoint(ec.PointB)).Values()
		d = math.Hypot(a[0]-b[0], a[1]-b[1])
	}
	e, err := kinematic.NewDistanceEvaluator[autodiff.Real](plant, ec.Frame, toPoint(ec.Point), ec.FrameB, toPoint(ec.PointB), d, evaluatorOptions(ec)...)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func buildManifold(plant *Chain, ctx *Context, ec config.EvaluatorConfig) (kinematic.Evaluator[autodiff.Real], error) {
	weights := make([][]float64, len(ec.Weights))
	for i, row := range ec.Weights {
		weights[i] = slices.Clone(row)
	}
	e, err := kinematic.NewManifoldEvaluator[autodiff.Real](plant, ctx, ec.Coords, weights, evaluatorOptions(ec)...)
	if err != nil {
		return nil, err
	}
	if !ec.FromStart {
		return e, nil
	}
	// Shift the constant column so that φ(q0) = 0.
	for i, phi := range e.EvalFull(ctx).Values() {
		weights[i][0] -= phi
	}
	shifted, err := kinematic.NewManifoldEvaluator[autodiff.Real](plant, ctx, ec.Coords, weights, evaluatorOptions(ec)...)
	if err != nil {
		return nil, err
	}
	return shifted, nil
}

func buildJoint(plant *Chain, ctx *Context, ec config.EvaluatorConfig) (kinematic.Evaluator[autodiff.Real], error) {
	b := slices.Clone(ec.B)
	if ec.FromStart {
		q := ctx.Positions().Values()
		b = make([]float64, len(ec.A))
		for i, row := range ec.A {
			for j := 0; j < len(row) && j < len(q); j++ {
				b[i] += row[j] * q[j]
			}
		}
	}
	if b == nil {
		b = make([]float64, len(ec.A))
	}
	e, err := kinematic.NewJointEvaluator[autodiff.Real](plant, ec.A, b, evaluatorOptions(ec)...)
	if err != nil {
		return nil, err
	}
	return e, nil
}

