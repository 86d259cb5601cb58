package automation

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/san-kum/kinsim/internal/config"
	"github.com/san-kum/kinsim/internal/dynamo"
	"github.com/san-kum/kinsim/internal/experiment"
	"github.com/san-kum/kinsim/internal/sim"
)

// DefaultStableResidual bounds the final residual norm of a stable trial.
const DefaultStableResidual = 1e-3

type MonteCarloConfig struct {
	Trials int
	// Perturbation is the half-width of the uniform noise added to every
	// initial position.
	Perturbation float64
	// Seed 0 seeds from the clock.
	Seed    int64
	Workers int
	// StableResidual defaults to DefaultStableResidual.
	StableResidual float64
}

type MonteCarloResult struct {
	TrialID       int
	InitState     dynamo.State
	FinalState    dynamo.State
	FinalResidual float64
	Metrics       map[string]float64
	Errors        []error
	// Stable is set when no step failed, the final state is finite and the
	// final residual is within bounds.
	Stable bool
}

// RunMonteCarlo runs base from randomly perturbed initial positions. Each
// trial builds its own experiment, so constraints with start-relative
// targets hold at every trial's start.
func RunMonteCarlo(ctx context.Context, base *config.Config, reg *experiment.Registry, mc MonteCarloConfig, log zerolog.Logger) ([]MonteCarloResult, error) {
	if mc.Trials <= 0 {
		return nil, fmt.Errorf("%w: %d trials", dynamo.ErrParameterBounds, mc.Trials)
	}
	if mc.StableResidual <= 0 {
		mc.StableResidual = DefaultStableResidual
	}

	rng := rand.New(rand.NewSource(mc.Seed))
	if mc.Seed == 0 {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	nq := base.NumPositions()
	q0 := base.InitialState()[:nq]

	exps := make([]*experiment.Experiment, mc.Trials)
	initial := make([]dynamo.State, mc.Trials)
	for trial := range exps {
		cfg := *base
		cfg.InitState.Q = make([]float64, nq)
		for i, v := range q0 {
			cfg.InitState.Q[i] = v + (rng.Float64()-0.5)*2*mc.Perturbation
		}

		exp, err := experiment.New(&cfg, reg, sim.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("trial %d: %w", trial, err)
		}
		exps[trial] = exp
		initial[trial] = exp.InitialState()
	}

	ensemble := sim.NewEnsemble(func(run int) (*sim.Simulator, error) {
		return exps[run].GetSimulator(), nil
	}, mc.Workers)
	runs, err := ensemble.Run(ctx, initial, exps[0].SimConfig())
	if err != nil {
		return nil, err
	}

	results := make([]MonteCarloResult, mc.Trials)
	for trial, res := range runs {
		r := MonteCarloResult{
			TrialID:   trial,
			InitState: initial[trial],
			Metrics:   res.Metrics,
			Errors:    res.Errors,
		}
		if n := len(res.States); n > 0 {
			r.FinalState = res.States[n-1]
		}
		if n := len(res.Residuals); n > 0 {
			r.FinalResidual = dynamo.State(res.Residuals[n-1]).Norm()
		}
		r.Stable = len(r.Errors) == 0 && r.FinalState.IsValid() && r.FinalResidual <= mc.StableResidual
		results[trial] = r
	}

	stable, unstable := MonteCarloStats(results)
	log.Info().Int("trials", mc.Trials).Int("stable", stable).Int("unstable", unstable).Msg("monte carlo complete")
	return results, nil
}

func MonteCarloStats(results []MonteCarloResult) (stableCount int, unstableCount int) {
	for _, r := range results {
		if r.Stable {
			stableCount++
		} else {
			unstableCount++
		}
	}
	return
}
