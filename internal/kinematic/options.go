package kinematic

import (
	"fmt"

	"github.com/san-kum/kinsim/internal/linalg"
)

// SolverPolicy selects how the constrained-dynamics solve treats redundant
// active constraints.
type SolverPolicy int

const (
	// SolveMinNorm picks the minimum-norm multipliers when the active
	// Jacobian is rank deficient, and fails only when the redundant rows
	// disagree.
	SolveMinNorm SolverPolicy = iota
	// SolveStrict fails with ErrRankDeficient on any redundancy.
	SolveStrict
)

func (p SolverPolicy) String() string {
	switch p {
	case SolveMinNorm:
		return "minnorm"
	case SolveStrict:
		return "strict"
	default:
		return fmt.Sprintf("SolverPolicy(%d)", int(p))
	}
}

func ParseSolverPolicy(s string) (SolverPolicy, error) {
	switch s {
	case "", "minnorm":
		return SolveMinNorm, nil
	case "strict":
		return SolveStrict, nil
	}
	return 0, fmt.Errorf("kinematic: unknown solver policy %q", s)
}

type Options struct {
	Solver     SolverPolicy
	Tolerances linalg.Tolerances
}

func DefaultOptions() Options {
	return Options{Solver: SolveMinNorm, Tolerances: linalg.DefaultTolerances()}
}

type Option func(*Options)

func WithSolver(p SolverPolicy) Option {
	return func(o *Options) { o.Solver = p }
}

// WithTolerances overrides the rank cutoff and the accepted residual of the
// constrained solve.
func WithTolerances(tol linalg.Tolerances) Option {
	return func(o *Options) { o.Tolerances = tol }
}
