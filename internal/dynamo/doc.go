// Package dynamo provides core simulation primitives for dynamical systems.
//
// The package defines the fundamental interfaces and types for numerical
// simulation of ordinary differential equations (ODEs):
//
//   - [State]: vector representing system state
//   - [System]: interface for ODE systems (dX/dt = f(X, u, t))
//   - [Integrator]: numerical integrator interface
//   - [Controller]: feedback controller interface
//   - [Constrained]: systems that report constraint residuals and forces
//
// # Example
//
//	dyn, _ := sim.NewConstrainedSystem(set, 10)
//	s := sim.New(dyn, integrators.NewRK4(), control.NewNone(dyn.ControlDim()))
//	result, _ := s.Run(ctx, x0, dynamo.DefaultConfig())
//
// # Thread Safety
//
// Simulator instances are NOT thread-safe. For parallel simulations,
// use [ParallelFor] with one simulator per run.
package dynamo
