package experiment

import (
	"context"
	"fmt"

	"github.com/san-kum/kinsim/internal/autodiff"
	"github.com/san-kum/kinsim/internal/config"
	"github.com/san-kum/kinsim/internal/dynamo"
	"github.com/san-kum/kinsim/internal/kinematic"
	"github.com/san-kum/kinsim/internal/multibody"
	"github.com/san-kum/kinsim/internal/sim"
)

// DefaultStabilityTol is the residual above which a state counts as
// unstable in the "stability" metric.
const DefaultStabilityTol = 1e-3

// Experiment is a scenario wired up and ready to run.
type Experiment struct {
	cfg        *config.Config
	plant      *Chain
	system     *sim.ConstrainedSystem
	integrator dynamo.Integrator
	controller dynamo.Controller
	simulator  *sim.Simulator
	names      []string
	x0         dynamo.State
}

// New validates cfg and builds the plant, constraints, controller and
// simulator it describes.
func New(cfg *config.Config, reg *Registry, opts ...sim.Option) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	plant, err := BuildPlant(cfg.Plant)
	if err != nil {
		return nil, err
	}

	x0 := dynamo.State(cfg.InitialState())
	ctx, err := multibody.NewContextFromState[autodiff.Real](plant, autodiff.Reals(x0), nil)
	if err != nil {
		return nil, err
	}

	policy, err := kinematic.ParseSolverPolicy(cfg.Solver)
	if err != nil {
		return nil, err
	}
	set := kinematic.NewEvaluatorSet[autodiff.Real](plant, kinematic.WithSolver(policy))

	names := make([]string, len(cfg.Evaluators))
	for i, ec := range cfg.Evaluators {
		e, err := reg.BuildEvaluator(plant, ctx, ec)
		if err != nil {
			return nil, fmt.Errorf("evaluator %d (%s): %w", i, ec.Kind, err)
		}
		set.AddEvaluator(e)
		names[i] = ec.Name
		if names[i] == "" {
			names[i] = fmt.Sprintf("%s%d", ec.Kind, i)
		}
	}

	system, err := sim.NewConstrainedSystem(set, cfg.Alpha)
	if err != nil {
		return nil, err
	}

	integ, err := reg.GetIntegrator(cfg.Integrator)
	if err != nil {
		return nil, err
	}
	ctrl, err := reg.GetController(cfg.Controller, plant.NumPositions(), plant.NumActuators())
	if err != nil {
		return nil, err
	}

	s := sim.New(system, integ, ctrl, opts...)
	for _, m := range reg.DefaultMetrics(system, DefaultStabilityTol) {
		s.AddMetric(m)
	}

	return &Experiment{
		cfg:        cfg,
		plant:      plant,
		system:     system,
		integrator: integ,
		controller: ctrl,
		simulator:  s,
		names:      names,
		x0:         x0,
	}, nil
}

// BuildPlant makes the planar chain a scenario describes.
func BuildPlant(pc config.PlantConfig) (*Chain, error) {
	links := make([]multibody.Link, len(pc.Links))
	for i, l := range pc.Links {
		links[i] = multibody.Link{Length: l.Length, Mass: l.Mass}
	}

	opts := []multibody.ChainOption{multibody.WithGravity(pc.Gravity), multibody.WithDamping(pc.Damping)}
	if pc.Slider {
		opts = append(opts, multibody.WithSlider(pc.SliderMass))
	}
	switch {
	case pc.Passive:
		opts = append(opts, multibody.WithActuated())
	case len(pc.Actuated) > 0:
		opts = append(opts, multibody.WithActuated(pc.Actuated...))
	}
	return multibody.NewPlanarChain[autodiff.Real](links, opts...)
}

// SimConfig is the integration setup of the scenario.
func (e *Experiment) SimConfig() dynamo.Config {
	sc := dynamo.DefaultConfig()
	sc.Dt = e.cfg.Dt
	sc.Duration = e.cfg.Duration
	sc.Seed = e.cfg.Seed
	sc.Adaptive = e.cfg.Adaptive
	sc.Tolerance = e.cfg.Tolerance
	return sc
}

func (e *Experiment) Run(ctx context.Context) (*dynamo.Result, error) {
	return e.simulator.Run(ctx, e.x0.Clone(), e.SimConfig())
}

func (e *Experiment) Config() *config.Config         { return e.cfg }
func (e *Experiment) Plant() *Chain                  { return e.plant }
func (e *Experiment) System() *sim.ConstrainedSystem { return e.system }
func (e *Experiment) Integrator() dynamo.Integrator  { return e.integrator }
func (e *Experiment) Controller() dynamo.Controller  { return e.controller }
func (e *Experiment) InitialState() dynamo.State     { return e.x0.Clone() }
func (e *Experiment) EvaluatorNames() []string       { return append([]string(nil), e.names...) }
func (e *Experiment) GetSimulator() *sim.Simulator   { return e.simulator }

func (e *Experiment) Set() *kinematic.EvaluatorSet[autodiff.Real] { return e.system.Set() }

// EvaluatorIndex returns the position of the named evaluator in the set, or
// -1.
func (e *Experiment) EvaluatorIndex(name string) int {
	return IndexOf(e.names, name)
}

// IndexOf returns the index of the first element equal to v, or -1.
func IndexOf[S ~[]E, E comparable](s S, v E) int {
	for i := range s {
		if s[i] == v {
			return i
		}
	}
	return -1
}
