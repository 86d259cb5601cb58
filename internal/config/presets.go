package config

import (
	"maps"
	"slices"
)

var threeLinks = []LinkConfig{{Length: 1, Mass: 1}, {Length: 0.8, Mass: 0.7}, {Length: 0.6, Mass: 0.5}}

func tipPin(frame int, length float64) EvaluatorConfig {
	return EvaluatorConfig{Kind: "point", Frame: frame, Point: [2]float64{length, 0}, FromStart: true}
}

func fourBar() *Config {
	cfg := DefaultConfig()
	cfg.Name = "four_bar"
	cfg.Plant.Links = slices.Clone(threeLinks)
	cfg.Plant.Passive = true
	cfg.Evaluators = []EvaluatorConfig{tipPin(3, 0.6)}
	cfg.InitState.Q = []float64{0.3, 1.2, -0.9}
	return cfg
}

// Presets builds fresh copies, so callers may edit what GetPreset returns.
var Presets = map[string]func() *Config{
	// Tip of a double pendulum riding a horizontal rail: only the y row of
	// the point constraint is active.
	"pinned_tip": func() *Config {
		cfg := DefaultConfig()
		cfg.Name = "pinned_tip"
		cfg.Plant.Links = []LinkConfig{{Length: 1, Mass: 1}, {Length: 1, Mass: 1}}
		cfg.Plant.Passive = true
		pin := tipPin(2, 1)
		pin.Active = []int{1}
		cfg.Evaluators = []EvaluatorConfig{pin}
		cfg.InitState.Q = []float64{-0.6, 1.2}
		return cfg
	},
	// Three links with the tip pinned to the ground close a four-bar loop.
	"four_bar": fourBar,
	// Cart (piston) with rod and crank; the crank end is pinned, the crank
	// joint is driven by a PID.
	"slider_crank": func() *Config {
		cfg := DefaultConfig()
		cfg.Name = "slider_crank"
		cfg.Plant.Links = []LinkConfig{{Length: 1.2, Mass: 0.4}, {Length: 0.4, Mass: 0.3}}
		cfg.Plant.Slider = true
		cfg.Plant.SliderMass = 1
		cfg.Plant.Actuated = []int{2}
		cfg.Evaluators = []EvaluatorConfig{tipPin(2, 0.4)}
		cfg.Controller = ControllerConfig{Kind: "pid", Coords: []int{2}, Kp: 5, Kd: 1, Targets: []float64{-2.5}}
		cfg.InitState.Q = []float64{0, 0.3, -2.2}
		return cfg
	},
	// Two joints coupled through a manifold q0 - q1 = 0.
	"manifold": func() *Config {
		cfg := DefaultConfig()
		cfg.Name = "manifold"
		cfg.Plant.Links = []LinkConfig{{Length: 1, Mass: 1}, {Length: 1, Mass: 1}}
		cfg.Plant.Passive = true
		cfg.Evaluators = []EvaluatorConfig{{
			Kind:    "manifold",
			Coords:  []int{0, 1},
			Weights: [][]float64{{0, 1, -1, 0, 0, 0, 0}},
		}}
		cfg.InitState.Q = []float64{-0.4, -0.4}
		return cfg
	},
	// The four-bar pin stated twice. The multipliers are split between the
	// copies by the minimum-norm solve; the strict solver rejects it.
	"redundant": func() *Config {
		cfg := fourBar()
		cfg.Name = "redundant"
		cfg.Evaluators = append(cfg.Evaluators, tipPin(3, 0.6))
		return cfg
	},
	// A relative joint constraint locks the elbow at its starting angle, so
	// the double pendulum swings as one rigid body.
	"locked_elbow": func() *Config {
		cfg := DefaultConfig()
		cfg.Name = "locked_elbow"
		cfg.Plant.Links = []LinkConfig{{Length: 1, Mass: 1}, {Length: 0.5, Mass: 2}}
		cfg.Plant.Damping = 0.05
		cfg.Plant.Passive = true
		cfg.Evaluators = []EvaluatorConfig{{
			Kind:      "joint",
			A:         [][]float64{{0, 1}},
			FromStart: true,
			Relative:  true,
		}}
		cfg.InitState.Q = []float64{0.5, 0.7}
		return cfg
	},
}

func GetPreset(name string) *Config {
	build, ok := Presets[name]
	if !ok {
		return nil
	}
	return build()
}

func ListPresets() []string {
	return slices.Sorted(maps.Keys(Presets))
}
