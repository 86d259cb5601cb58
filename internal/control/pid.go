package control

import (
	"errors"
	"fmt"

	"github.com/san-kum/kinsim/internal/dynamo"
)

var ErrInvalidGain = errors.New("control: invalid gain")

// PID drives selected position coordinates to their targets. Output i acts
// on coordinate Coords[i]; the derivative term uses the matching velocity
// from the state instead of differencing the error.
type PID struct {
	Kp      float64
	Ki      float64
	Kd      float64
	Coords  []int
	Targets []float64

	nq       int
	integral []float64
	prevT    float64
	first    bool
}

// NewPID builds a controller for a state [q; v] with nq positions. Targets
// start at zero.
func NewPID(coords []int, nq int, kp, ki, kd float64) (*PID, error) {
	for _, c := range coords {
		if c < 0 || c >= nq {
			return nil, fmt.Errorf("%w: coordinate %d outside [0, %d)", dynamo.ErrDimensionMismatch, c, nq)
		}
	}
	if kp < 0 || ki < 0 || kd < 0 {
		return nil, fmt.Errorf("%w: kp=%g ki=%g kd=%g", ErrInvalidGain, kp, ki, kd)
	}
	return &PID{
		Kp:       kp,
		Ki:       ki,
		Kd:       kd,
		Coords:   append([]int(nil), coords...),
		Targets:  make([]float64, len(coords)),
		nq:       nq,
		integral: make([]float64, len(coords)),
		first:    true,
	}, nil
}

func (p *PID) Compute(x dynamo.State, t float64) dynamo.Control {
	u := make(dynamo.Control, len(p.Coords))
	if len(x) < 2*p.nq {
		return u
	}

	dt := 0.0
	if !p.first {
		dt = t - p.prevT
	}
	p.first = false
	p.prevT = t

	for i, c := range p.Coords {
		err := p.Targets[i] - x[c]
		if dt > 0 {
			p.integral[i] += err * dt
		}
		u[i] = p.Kp*err + p.Ki*p.integral[i] - p.Kd*x[p.nq+c]
	}
	return u
}

// Reset clears the integral state.
func (p *PID) Reset() {
	clear(p.integral)
	p.first = true
}

// GetParams returns tunable parameters for live adjustment
func (p *PID) GetParams() map[string]float64 {
	params := map[string]float64{
		"Kp": p.Kp,
		"Ki": p.Ki,
		"Kd": p.Kd,
	}
	for i, target := range p.Targets {
		params[fmt.Sprintf("Target%d", i)] = target
	}
	return params
}

// SetParam adjusts a PID parameter
func (p *PID) SetParam(name string, value float64) error {
	var idx int
	if _, err := fmt.Sscanf(name, "Target%d", &idx); err == nil {
		if idx < 0 || idx >= len(p.Targets) {
			return fmt.Errorf("%w: unknown param %s", dynamo.ErrParameterBounds, name)
		}
		p.Targets[idx] = value
		return nil
	}

	if value < 0 {
		return fmt.Errorf("%w: %s=%g", ErrInvalidGain, name, value)
	}
	switch name {
	case "Kp":
		p.Kp = value
	case "Ki":
		p.Ki = value
	case "Kd":
		p.Kd = value
	default:
		return fmt.Errorf("%w: unknown param %s", dynamo.ErrParameterBounds, name)
	}
	return nil
}
