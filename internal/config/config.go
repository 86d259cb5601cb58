package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDt       = 0.001
	DefaultDuration = 5.0
	DefaultAlpha    = 10.0
	DefaultGravity  = 9.81
	DefaultKp       = 20.0
	DefaultKi       = 0.0
	DefaultKd       = 4.0
)

var ErrInvalidConfig = errors.New("config: invalid scenario")

var validate = validator.New()

// Config is one simulation scenario: a planar chain, the constraints acting
// on it, and how to integrate it.
type Config struct {
	Name       string            `yaml:"name"`
	Plant      PlantConfig       `yaml:"plant"`
	Evaluators []EvaluatorConfig `yaml:"evaluators" validate:"dive"`
	Integrator string            `yaml:"integrator" validate:"oneof=euler rk4 rk45 verlet leapfrog"`
	Controller ControllerConfig  `yaml:"controller"`
	Dt         float64           `yaml:"dt" validate:"gt=0"`
	Duration   float64           `yaml:"duration" validate:"gt=0"`
	Adaptive   bool              `yaml:"adaptive"`
	Tolerance  float64           `yaml:"tolerance" validate:"gte=0"`
	Alpha      float64           `yaml:"alpha" validate:"gte=0"`
	Solver     string            `yaml:"solver" validate:"omitempty,oneof=minnorm strict"`
	Seed       int64             `yaml:"seed"`
	InitState  InitStateConfig   `yaml:"init_state"`
}

type LinkConfig struct {
	Length float64 `yaml:"length" validate:"gt=0"`
	Mass   float64 `yaml:"mass" validate:"gt=0"`
}

type PlantConfig struct {
	Links      []LinkConfig `yaml:"links" validate:"min=1,dive"`
	Gravity    float64      `yaml:"gravity"`
	Damping    float64      `yaml:"damping" validate:"gte=0"`
	Slider     bool         `yaml:"slider"`
	SliderMass float64      `yaml:"slider_mass" validate:"required_if=Slider true,gte=0"`
	// Actuated lists driven velocity coordinates; empty means every joint.
	// Passive leaves the chain without actuators.
	Actuated []int `yaml:"actuated,omitempty" validate:"omitempty,dive,gte=0"`
	Passive  bool  `yaml:"passive"`
}

// EvaluatorConfig describes one constraint. Which fields apply depends on
// Kind:
//
//	point     Frame, Point, View, Offset
//	distance  Frame, Point, FrameB, PointB, Distance
//	manifold  Coords, Weights
//	joint     A, B
//
// Active lists the enforced rows; empty means all of them. With FromStart
// the target (Offset, Distance or B) is taken from the initial
// configuration, so the constraint holds at t=0.
type EvaluatorConfig struct {
	Name      string      `yaml:"name,omitempty"`
	Kind      string      `yaml:"kind" validate:"required,oneof=point distance manifold joint"`
	Frame     int         `yaml:"frame" validate:"gte=0"`
	Point     [2]float64  `yaml:"point"`
	FrameB    int         `yaml:"frame_b" validate:"gte=0"`
	PointB    [2]float64  `yaml:"point_b"`
	Distance  float64     `yaml:"distance" validate:"gte=0"`
	View      float64     `yaml:"view"`
	Offset    [2]float64  `yaml:"offset"`
	Coords    []int       `yaml:"coords" validate:"required_if=Kind manifold,dive,gte=0"`
	Weights   [][]float64 `yaml:"weights" validate:"required_if=Kind manifold"`
	A         [][]float64 `yaml:"a" validate:"required_if=Kind joint"`
	B         []float64   `yaml:"b"`
	Active    []int       `yaml:"active,omitempty" validate:"omitempty,dive,gte=0"`
	Relative  bool        `yaml:"relative"`
	FromStart bool        `yaml:"from_start"`
}

type ControllerConfig struct {
	Kind    string      `yaml:"kind" validate:"omitempty,oneof=none pid lqr manual"`
	Coords  []int       `yaml:"coords" validate:"dive,gte=0"`
	Kp      float64     `yaml:"kp" validate:"gte=0"`
	Ki      float64     `yaml:"ki" validate:"gte=0"`
	Kd      float64     `yaml:"kd" validate:"gte=0"`
	Targets []float64   `yaml:"targets"`
	Gains   [][]float64 `yaml:"gains" validate:"required_if=Kind lqr"`
	Target  []float64   `yaml:"target"`
}

type InitStateConfig struct {
	Q []float64 `yaml:"q"`
	V []float64 `yaml:"v"`
}

func DefaultConfig() *Config {
	return &Config{
		Name: "pendulum",
		Plant: PlantConfig{
			Links:   []LinkConfig{{Length: 1, Mass: 1}},
			Gravity: DefaultGravity,
		},
		Integrator: "rk4",
		Controller: ControllerConfig{
			Kind: "none",
			Kp:   DefaultKp,
			Ki:   DefaultKi,
			Kd:   DefaultKd,
		},
		Dt:        DefaultDt,
		Duration:  DefaultDuration,
		Tolerance: 1e-6,
		Alpha:     DefaultAlpha,
		Solver:    "minnorm",
	}
}

// NumPositions is the size of q for the configured plant.
func (c *Config) NumPositions() int {
	n := len(c.Plant.Links)
	if c.Plant.Slider {
		n++
	}
	return n
}

// Validate checks field ranges and that the initial state and controller
// fit the plant.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	nq := c.NumPositions()
	if len(c.InitState.Q) != 0 && len(c.InitState.Q) != nq {
		return fmt.Errorf("%w: init_state.q has %d entries, plant has %d positions", ErrInvalidConfig, len(c.InitState.Q), nq)
	}
	if len(c.InitState.V) != 0 && len(c.InitState.V) != nq {
		return fmt.Errorf("%w: init_state.v has %d entries, plant has %d velocities", ErrInvalidConfig, len(c.InitState.V), nq)
	}
	if c.Adaptive && c.Tolerance <= 0 {
		return fmt.Errorf("%w: adaptive stepping needs a positive tolerance", ErrInvalidConfig)
	}
	if c.Controller.Kind == "pid" && len(c.Controller.Targets) > len(c.Controller.Coords) {
		return fmt.Errorf("%w: %d pid targets for %d coordinates", ErrInvalidConfig, len(c.Controller.Targets), len(c.Controller.Coords))
	}
	return nil
}

// InitialState returns x0 = [q; v]; missing parts are zero.
func (c *Config) InitialState() []float64 {
	nq := c.NumPositions()
	x := make([]float64, 2*nq)
	copy(x[:nq], c.InitState.Q)
	copy(x[nq:], c.InitState.V)
	return x
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a yaml scenario over DefaultConfig and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
