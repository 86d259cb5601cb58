// Package control provides feedback controllers that produce the actuation
// input u of a constrained simulation.
//
// Controllers see the full state x = [q; v] and implement
// [dynamo.Controller]:
//
//   - [PID]: joint-space PID on selected coordinates, D term from v
//   - [LQR]: static state feedback u = -K (x - target)
//   - [Manual]: holds a control vector set from outside (TUI keys)
//   - [None]: zero control
//
// # Usage
//
//	pid, _ := control.NewPID([]int{1}, 2, 20, 0, 4) // coords, nq, Kp, Ki, Kd
//	s := sim.New(dyn, integrators.NewRK4(), pid)
//
// Controllers implementing [dynamo.Configurable] support live tuning.
package control
