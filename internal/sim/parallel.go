package sim

import (
	"context"
	"fmt"

	"github.com/san-kum/kinsim/internal/dynamo"
)

// Factory builds the simulator for one ensemble run. Metrics are stateful, so
// every run needs its own simulator.
type Factory func(run int) (*Simulator, error)

// Ensemble runs the same scenario from several initial states in parallel.
type Ensemble struct {
	factory Factory
	workers int
}

func NewEnsemble(factory Factory, workers int) *Ensemble {
	return &Ensemble{factory: factory, workers: workers}
}

// Run simulates one run per initial state. Results are indexed like
// initial; the first hard error aborts the remaining runs.
func (e *Ensemble) Run(ctx context.Context, initial []dynamo.State, cfg dynamo.Config) ([]*dynamo.Result, error) {
	results := make([]*dynamo.Result, len(initial))

	err := dynamo.ParallelFor(ctx, len(initial), e.workers, func(ctx context.Context, i int) error {
		s, err := e.factory(i)
		if err != nil {
			return fmt.Errorf("run %d: %w", i, err)
		}
		runCfg := cfg
		runCfg.Seed = cfg.Seed + int64(i)
		res, err := s.Run(ctx, initial[i], runCfg)
		if err != nil {
			return fmt.Errorf("run %d: %w", i, err)
		}
		results[i] = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
