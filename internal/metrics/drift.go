package metrics

import (
	"math"

	"github.com/san-kum/kinsim/internal/dynamo"
)

// ConstraintDrift is the largest |φ| seen over a run. Rows flagged relative
// are measured against their value at the first observation, since only
// their change is meant to be held at zero.
type ConstraintDrift struct {
	sys      dynamo.Constrained
	relative []bool
	initial  []float64
	maxDrift float64
}

// NewConstraintDrift tracks sys. relative may be nil or shorter than the
// residual; missing entries count as absolute.
func NewConstraintDrift(sys dynamo.Constrained, relative []bool) *ConstraintDrift {
	return &ConstraintDrift{sys: sys, relative: relative}
}

func (c *ConstraintDrift) Name() string { return "constraint_drift" }

func (c *ConstraintDrift) Observe(x dynamo.State, u dynamo.Control, t float64) {
	phi, err := c.sys.Residual(x)
	if err != nil {
		return
	}
	if c.initial == nil {
		c.initial = append([]float64{}, phi...)
	}
	for i, v := range phi {
		if i < len(c.relative) && c.relative[i] && i < len(c.initial) {
			v -= c.initial[i]
		}
		c.maxDrift = math.Max(c.maxDrift, math.Abs(v))
	}
}

func (c *ConstraintDrift) Value() float64 { return c.maxDrift }

func (c *ConstraintDrift) Reset() {
	c.initial = nil
	c.maxDrift = 0
}
