package metrics

import (
	"math"

	"github.com/san-kum/kinsim/internal/dynamo"
)

// Stability is the fraction of observed states whose constraint residual
// stays within threshold (infinity norm). A residual that cannot be
// evaluated counts as a violation.
type Stability struct {
	name       string
	sys        dynamo.Constrained
	threshold  float64
	violations int
	samples    int
}

func NewStability(sys dynamo.Constrained, threshold float64) *Stability {
	return &Stability{
		name:      "stability",
		sys:       sys,
		threshold: threshold,
	}
}

func (s *Stability) Name() string {
	return s.name
}

func (s *Stability) Observe(x dynamo.State, u dynamo.Control, t float64) {
	s.samples++
	phi, err := s.sys.Residual(x)
	if err != nil {
		s.violations++
		return
	}
	for _, val := range phi {
		if !(math.Abs(val) <= s.threshold) {
			s.violations++
			break
		}
	}
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

func (s *Stability) Reset() {
	s.violations = 0
	s.samples = 0
}
