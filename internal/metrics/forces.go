package metrics

import (
	"math"

	"github.com/san-kum/kinsim/internal/dynamo"
)

// PeakForce is the largest Euclidean norm of the multiplier vector λ seen
// over a run.
type PeakForce struct {
	sys  dynamo.Constrained
	peak float64
}

func NewPeakForce(sys dynamo.Constrained) *PeakForce {
	return &PeakForce{sys: sys}
}

func (p *PeakForce) Name() string { return "peak_force" }

func (p *PeakForce) Observe(x dynamo.State, u dynamo.Control, t float64) {
	lambda, err := p.sys.Multipliers(x, u, t)
	if err != nil {
		return
	}
	p.peak = math.Max(p.peak, dynamo.State(lambda).Norm())
}

func (p *PeakForce) Value() float64 { return p.peak }

func (p *PeakForce) Reset() { p.peak = 0 }
