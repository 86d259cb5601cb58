package metrics

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/kinsim/internal/dynamo"
)

// lineConstraint holds x[0] = x[1] and reports λ = (x[2], x[3]).
type lineConstraint struct {
	fail bool
}

func (l lineConstraint) Residual(x dynamo.State) ([]float64, error) {
	if l.fail {
		return nil, errors.New("no residual")
	}
	return []float64{x[0] - x[1], x[2]}, nil
}

func (l lineConstraint) Multipliers(x dynamo.State, u dynamo.Control, t float64) ([]float64, error) {
	if l.fail {
		return nil, errors.New("no multipliers")
	}
	return []float64{x[2], x[3]}, nil
}

func TestConstraintDrift(t *testing.T) {
	tests := []struct {
		name     string
		relative []bool
		expected float64
	}{
		{"absolute rows", nil, 0.5},
		{"relative second row", []bool{false, true}, 0.3},
		{"short relative mask", []bool{false}, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewConstraintDrift(lineConstraint{}, tt.relative)
			m.Observe(dynamo.State{1, 1, 0.2, 0}, nil, 0)
			m.Observe(dynamo.State{1.3, 1, 0.5, 0}, nil, 0.1)
			if math.Abs(m.Value()-tt.expected) > 1e-12 {
				t.Errorf("expected %v, got %v", tt.expected, m.Value())
			}

			m.Reset()
			if m.Value() != 0 {
				t.Error("expected zero after reset")
			}
		})
	}
}

func TestConstraintDriftIgnoresFailedResidual(t *testing.T) {
	m := NewConstraintDrift(lineConstraint{fail: true}, nil)
	m.Observe(dynamo.State{1, 0, 0, 0}, nil, 0)
	if m.Value() != 0 {
		t.Errorf("expected 0, got %v", m.Value())
	}
}

func TestStability(t *testing.T) {
	m := NewStability(lineConstraint{}, 0.1)
	if m.Value() != 1 {
		t.Errorf("expected 1 with no samples, got %v", m.Value())
	}

	m.Observe(dynamo.State{1, 1, 0, 0}, nil, 0)
	m.Observe(dynamo.State{1, 1.05, 0, 0}, nil, 0.1)
	m.Observe(dynamo.State{1, 1.5, 0, 0}, nil, 0.2)
	m.Observe(dynamo.State{1, 1, math.NaN(), 0}, nil, 0.3)

	if math.Abs(m.Value()-0.5) > 1e-12 {
		t.Errorf("expected 0.5, got %v", m.Value())
	}

	failing := NewStability(lineConstraint{fail: true}, 0.1)
	failing.Observe(dynamo.State{0, 0, 0, 0}, nil, 0)
	if failing.Value() != 0 {
		t.Errorf("expected failed residual to count as violation, got %v", failing.Value())
	}
}

func TestPeakForce(t *testing.T) {
	m := NewPeakForce(lineConstraint{})
	m.Observe(dynamo.State{0, 0, 3, 4}, nil, 0)
	m.Observe(dynamo.State{0, 0, 1, 1}, nil, 0.1)
	if m.Value() != 5 {
		t.Errorf("expected 5, got %v", m.Value())
	}
	m.Reset()
	if m.Value() != 0 {
		t.Error("expected zero after reset")
	}
}

func TestControlEffort(t *testing.T) {
	m := NewControlEffort()
	m.Observe(nil, dynamo.Control{1, -2}, 0)
	m.Observe(nil, dynamo.Control{0, 1}, 0.1)
	if m.Value() != 2 {
		t.Errorf("expected mean |u| sum 2, got %v", m.Value())
	}
}
