package automation

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/san-kum/kinsim/internal/config"
	"github.com/san-kum/kinsim/internal/dynamo"
	"github.com/san-kum/kinsim/internal/experiment"
	"github.com/san-kum/kinsim/internal/sim"
	"gopkg.in/yaml.v3"
)

var ErrInvalidBatch = errors.New("automation: invalid batch")

var validate = validator.New()

// Batch is a scripted sequence of runs.
type Batch struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Runs        []BatchRun `yaml:"runs" validate:"min=1,dive"`
}

// BatchRun names a preset or a scenario file; the optional fields override
// what it loads.
type BatchRun struct {
	Preset     string   `yaml:"preset" validate:"required_without=File"`
	File       string   `yaml:"file" validate:"required_without=Preset"`
	Integrator string   `yaml:"integrator"`
	Alpha      *float64 `yaml:"alpha"`
	Duration   *float64 `yaml:"duration"`
	Dt         *float64 `yaml:"dt"`
	Seed       *int64   `yaml:"seed"`
}

type BatchResult struct {
	Config *config.Config
	Result *dynamo.Result
}

func LoadBatch(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBatch(data)
}

func ParseBatch(data []byte) (*Batch, error) {
	var b Batch
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBatch, err)
	}
	if err := validate.Struct(&b); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBatch, err)
	}
	return &b, nil
}

// Resolve loads the run's scenario and applies its overrides.
func (r BatchRun) Resolve() (*config.Config, error) {
	var cfg *config.Config
	if r.Preset != "" {
		if cfg = config.GetPreset(r.Preset); cfg == nil {
			return nil, fmt.Errorf("%w: unknown preset %q", ErrInvalidBatch, r.Preset)
		}
	} else {
		var err error
		if cfg, err = config.Load(r.File); err != nil {
			return nil, err
		}
	}

	if r.Integrator != "" {
		cfg.Integrator = r.Integrator
	}
	if r.Alpha != nil {
		cfg.Alpha = *r.Alpha
	}
	if r.Duration != nil {
		cfg.Duration = *r.Duration
	}
	if r.Dt != nil {
		cfg.Dt = *r.Dt
	}
	if r.Seed != nil {
		cfg.Seed = *r.Seed
	}
	return cfg, cfg.Validate()
}

// RunBatch executes the runs in order. A run whose scenario cannot be built
// stops the batch; step failures are left in the run's Result.Errors.
func RunBatch(ctx context.Context, b *Batch, reg *experiment.Registry, log zerolog.Logger) ([]BatchResult, error) {
	results := make([]BatchResult, 0, len(b.Runs))

	for i, run := range b.Runs {
		cfg, err := run.Resolve()
		if err != nil {
			return results, fmt.Errorf("run %d: %w", i+1, err)
		}
		log.Info().Int("run", i+1).Int("of", len(b.Runs)).Str("scenario", cfg.Name).Msg("batch run")

		exp, err := experiment.New(cfg, reg, sim.WithLogger(log))
		if err != nil {
			return results, fmt.Errorf("run %d setup: %w", i+1, err)
		}
		result, err := exp.Run(ctx)
		if err != nil {
			return results, fmt.Errorf("run %d: %w", i+1, err)
		}
		results = append(results, BatchResult{Config: cfg, Result: result})
	}

	return results, nil
}
