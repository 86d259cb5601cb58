package integrators

import (
	"testing"

	"github.com/san-kum/kinsim/internal/dynamo"
)

type benchDynamics struct{}

func (b *benchDynamics) StateDim() int   { return 2 }
func (b *benchDynamics) ControlDim() int { return 0 }
func (b *benchDynamics) Derive(x dynamo.State, u dynamo.Control, t float64) (dynamo.State, error) {
	return dynamo.State{x[1], -x[0]}, nil
}

func benchmarkStep(b *testing.B, integrator dynamo.Integrator) {
	dyn := &benchDynamics{}
	x := dynamo.State{1.0, 0.0}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		x, _ = integrator.Step(dyn, x, nil, 0, 0.01)
	}
}

func BenchmarkEuler(b *testing.B)    { benchmarkStep(b, NewEuler()) }
func BenchmarkRK4(b *testing.B)      { benchmarkStep(b, NewRK4()) }
func BenchmarkRK45(b *testing.B)     { benchmarkStep(b, NewRK45()) }
func BenchmarkVerlet(b *testing.B)   { benchmarkStep(b, NewVerlet()) }
func BenchmarkLeapfrog(b *testing.B) { benchmarkStep(b, NewLeapfrog()) }
