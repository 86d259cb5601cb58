package integrators

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/kinsim/internal/dynamo"
)

type simpleDynamics struct{}

func (s *simpleDynamics) Derive(x dynamo.State, u dynamo.Control, t float64) (dynamo.State, error) {
	return dynamo.State{x[1], -x[0]}, nil
}

func (s *simpleDynamics) StateDim() int   { return 2 }
func (s *simpleDynamics) ControlDim() int { return 0 }

var errSolve = errors.New("solve failed")

// failingDynamics fails once x[0] drops below zero.
type failingDynamics struct{}

func (f *failingDynamics) Derive(x dynamo.State, u dynamo.Control, t float64) (dynamo.State, error) {
	if x[0] < 0 {
		return nil, errSolve
	}
	return dynamo.State{x[1], -x[0]}, nil
}

func (f *failingDynamics) StateDim() int   { return 2 }
func (f *failingDynamics) ControlDim() int { return 0 }

func TestRK4Accuracy(t *testing.T) {
	dyn := &simpleDynamics{}
	integ := NewRK4()

	x0 := dynamo.State{1.0, 0.0}
	u := dynamo.Control{}
	dt := 0.01
	steps := 100

	x := x0
	var err error
	for i := 0; i < steps; i++ {
		x, err = integ.Step(dyn, x, u, float64(i)*dt, dt)
		if err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
	}

	expectedX := math.Cos(float64(steps) * dt)
	expectedV := -math.Sin(float64(steps) * dt)

	if math.Abs(x[0]-expectedX) > 1e-4 {
		t.Errorf("position error too large: got %.6f, expected %.6f", x[0], expectedX)
	}

	if math.Abs(x[1]-expectedV) > 1e-4 {
		t.Errorf("velocity error too large: got %.6f, expected %.6f", x[1], expectedV)
	}
}

func TestIntegratorsPropagateErrors(t *testing.T) {
	tests := []struct {
		name  string
		integ dynamo.Integrator
	}{
		{"euler", NewEuler()},
		{"rk4", NewRK4()},
		{"rk45", NewRK45()},
		{"verlet", NewVerlet()},
		{"leapfrog", NewLeapfrog()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, err := tt.integ.Step(&failingDynamics{}, dynamo.State{-1, 0}, nil, 0, 0.01)
			if !errors.Is(err, errSolve) {
				t.Errorf("expected errSolve, got %v", err)
			}
			if x != nil {
				t.Errorf("expected nil state on failure, got %v", x)
			}
		})
	}
}

func TestSymplecticIntegratorsConserveEnergy(t *testing.T) {
	tests := []struct {
		name  string
		integ dynamo.Integrator
	}{
		{"verlet", NewVerlet()},
		{"leapfrog", NewLeapfrog()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dyn := &simpleDynamics{}
			x := dynamo.State{1.0, 0.0}
			var err error
			for i := 0; i < 10000; i++ {
				x, err = tt.integ.Step(dyn, x, nil, float64(i)*0.01, 0.01)
				if err != nil {
					t.Fatalf("step %d failed: %v", i, err)
				}
			}
			energy := 0.5 * (x[0]*x[0] + x[1]*x[1])
			if math.Abs(energy-0.5) > 1e-3 {
				t.Errorf("expected bounded energy error, got energy %.6f", energy)
			}
		})
	}
}
