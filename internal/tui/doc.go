// Package tui is the terminal watch view: it steps an experiment in real
// time, draws the chain, and plots the constraint residual and force
// history.
//
// # Key Bindings
//
//	Space - Pause/Resume
//	R     - Reset to the initial state
//	+/-   - Faster/slower
//	Tab   - Select the next actuator
//	←/→   - Nudge the selected actuator (manual controller only)
//	0     - Zero all manual inputs
//	Q     - Quit
package tui
