package sim

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/san-kum/kinsim/internal/dynamo"
)

type Simulator struct {
	dyn        dynamo.System
	integrator dynamo.Integrator
	controller dynamo.Controller
	metrics    []dynamo.Metric
	observers  []dynamo.Observer
	log        zerolog.Logger
}

type Option func(*Simulator)

// WithLogger sets the logger for run lifecycle and step failures.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Simulator) { s.log = log }
}

func New(dyn dynamo.System, integrator dynamo.Integrator, controller dynamo.Controller, opts ...Option) *Simulator {
	s := &Simulator{
		dyn:        dyn,
		integrator: integrator,
		controller: controller,
		metrics:    make([]dynamo.Metric, 0),
		observers:  make([]dynamo.Observer, 0),
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulator) AddMetric(m dynamo.Metric)     { s.metrics = append(s.metrics, m) }
func (s *Simulator) AddObserver(o dynamo.Observer) { s.observers = append(s.observers, o) }

// Run integrates from x0 for cfg.Duration. A failed step ends the run early;
// the failure is recorded in Result.Errors as a *dynamo.SimulationError and
// the states up to it are kept.
func (s *Simulator) Run(ctx context.Context, x0 dynamo.State, cfg dynamo.Config) (*dynamo.Result, error) {
	if err := s.validateConfig(cfg); err != nil {
		return nil, err
	}
	if len(x0) != s.dyn.StateDim() {
		return nil, fmt.Errorf("%w: initial state has %d entries, system has %d",
			dynamo.ErrDimensionMismatch, len(x0), s.dyn.StateDim())
	}

	steps := int(math.Round(cfg.Duration / cfg.Dt))
	result := &dynamo.Result{
		States:   make([]dynamo.State, 0, steps+1),
		Controls: make([]dynamo.Control, 0, steps),
		Times:    make([]float64, 0, steps+1),
		Metrics:  make(map[string]float64),
		Errors:   make([]error, 0),
	}

	for _, m := range s.metrics {
		m.Reset()
	}

	constrained, _ := s.dyn.(dynamo.Constrained)

	x := x0.Clone()
	t := 0.0
	dt := cfg.Dt

	s.log.Debug().Int("steps", steps).Float64("dt", dt).Bool("adaptive", cfg.Adaptive).Msg("simulation started")

	result.States = append(result.States, x.Clone())
	result.Times = append(result.Times, t)
	if constrained != nil {
		if phi, err := constrained.Residual(x); err == nil {
			result.Residuals = append(result.Residuals, phi)
		}
	}

	initialEnergy := s.computeEnergy(x)

	for i := 0; t < cfg.Duration-1e-12; i++ {
		if !cfg.Adaptive && i >= steps {
			break
		}
		select {
		case <-ctx.Done():
			s.log.Warn().Int("step", i).Msg("simulation canceled")
			return result, ctx.Err()
		default:
		}

		u := s.controller.Compute(x, t)

		for _, m := range s.metrics {
			m.Observe(x, u, t)
		}
		for _, obs := range s.observers {
			obs.OnStep(x, u, t)
		}

		if constrained != nil {
			lambda, err := constrained.Multipliers(x, u, t)
			if err != nil {
				s.fail(result, i, t, x, err)
				break
			}
			result.Multipliers = append(result.Multipliers, lambda)
		}

		var newX dynamo.State
		var stepErr error
		stepDt := dt

		if cfg.Adaptive {
			dt = math.Min(dt, cfg.Duration-t)
			newX, stepDt, dt, stepErr = s.adaptiveStep(x, u, t, dt, cfg)
		} else {
			newX, stepErr = s.integrator.Step(s.dyn, x, u, t, dt)
		}

		if stepErr != nil {
			s.fail(result, i, t, x, stepErr)
			break
		}

		if cfg.ValidateState && !newX.IsValid() {
			err := dynamo.SimError{Time: t, Step: i, Message: "invalid state (NaN/Inf)"}
			s.fail(result, i, t, x, fmt.Errorf("%w: %w", dynamo.ErrInvalidState, err))
			break
		}

		x = newX
		t += stepDt
		result.StepsTaken++

		result.States = append(result.States, x.Clone())
		result.Controls = append(result.Controls, u)
		result.Times = append(result.Times, t)
		if constrained != nil {
			if phi, err := constrained.Residual(x); err == nil {
				result.Residuals = append(result.Residuals, phi)
			}
		}
	}

	finalEnergy := s.computeEnergy(x)
	if initialEnergy != 0 {
		result.EnergyDrift = math.Abs(finalEnergy-initialEnergy) / math.Abs(initialEnergy)
	}

	for _, m := range s.metrics {
		result.Metrics[m.Name()] = m.Value()
	}

	s.log.Debug().Int("steps_taken", result.StepsTaken).Int("errors", len(result.Errors)).Msg("simulation finished")
	return result, nil
}

func (s *Simulator) fail(result *dynamo.Result, step int, t float64, x dynamo.State, err error) {
	s.log.Error().Err(err).Int("step", step).Float64("t", t).Msg("simulation step failed")
	result.Errors = append(result.Errors, &dynamo.SimulationError{Step: step, Time: t, State: x.Clone(), Wrapped: err})
}

func (s *Simulator) validateConfig(cfg dynamo.Config) error {
	if cfg.Dt <= 0 {
		return fmt.Errorf("%w: dt must be positive, got %f", dynamo.ErrParameterBounds, cfg.Dt)
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %f", dynamo.ErrParameterBounds, cfg.Duration)
	}
	if cfg.Adaptive && cfg.Tolerance <= 0 {
		return fmt.Errorf("%w: tolerance must be positive for adaptive stepping", dynamo.ErrParameterBounds)
	}
	return nil
}

func (s *Simulator) computeEnergy(x dynamo.State) float64 {
	if h, ok := s.dyn.(dynamo.Hamiltonian); ok {
		return h.Energy(x)
	}
	return 0
}

// adaptiveStep returns the new state, the step actually taken and the
// proposed next step.
func (s *Simulator) adaptiveStep(x dynamo.State, u dynamo.Control, t, dt float64, cfg dynamo.Config) (dynamo.State, float64, float64, error) {
	if adaptive, ok := s.integrator.(dynamo.AdaptiveIntegrator); ok {
		for {
			newX, next, err := adaptive.StepAdaptive(s.dyn, x, u, t, dt, cfg.Tolerance)
			if err != nil {
				return nil, 0, 0, err
			}
			// RK45 proposes at least 0.9*dt for an accepted step.
			if next >= 0.9*dt || dt <= cfg.MinDt {
				return newX, dt, math.Min(next, cfg.MaxDt), nil
			}
			dt = math.Max(next, cfg.MinDt)
		}
	}

	x1, err := s.integrator.Step(s.dyn, x, u, t, dt)
	if err != nil {
		return nil, 0, 0, err
	}
	xHalf, err := s.integrator.Step(s.dyn, x, u, t, dt/2)
	if err != nil {
		return nil, 0, 0, err
	}
	x2, err := s.integrator.Step(s.dyn, xHalf, u, t+dt/2, dt/2)
	if err != nil {
		return nil, 0, 0, err
	}

	errEst := x1.Sub(x2).Norm()

	if errEst > cfg.Tolerance {
		if dt/2 < cfg.MinDt {
			return nil, 0, 0, fmt.Errorf("%w: dt=%g", dynamo.ErrStepTooSmall, dt/2)
		}
		return s.adaptiveStep(x, u, t, dt/2, cfg)
	}

	next := dt
	if errEst < cfg.Tolerance/10 && dt < cfg.MaxDt {
		next = math.Min(dt*2, cfg.MaxDt)
	}

	return x2, dt, next, nil
}

// RunWithCallback steps until cfg.Duration or until callback returns false.
// It records nothing; the callback sees every state before it is advanced.
func (s *Simulator) RunWithCallback(ctx context.Context, x0 dynamo.State, cfg dynamo.Config, callback func(dynamo.State, dynamo.Control, float64) bool) error {
	if err := s.validateConfig(cfg); err != nil {
		return err
	}

	x := x0.Clone()
	t := 0.0
	dt := cfg.Dt

	for t < cfg.Duration {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		u := s.controller.Compute(x, t)

		if !callback(x, u, t) {
			return nil
		}

		newX, err := s.integrator.Step(s.dyn, x, u, t, dt)
		if err != nil {
			return &dynamo.SimulationError{Time: t, State: x.Clone(), Wrapped: err}
		}
		x = newX
		t += dt

		if cfg.ValidateState && !x.IsValid() {
			return fmt.Errorf("%w at t=%.4f", dynamo.ErrInvalidState, t)
		}
	}

	return nil
}
