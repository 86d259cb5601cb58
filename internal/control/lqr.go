package control

import (
	"fmt"

	"github.com/san-kum/kinsim/internal/dynamo"
)

// LQR applies a precomputed state-feedback gain u = -K (x - target). K is
// nu×nx; gains usually come from an offline Riccati solve about target.
type LQR struct {
	K      [][]float64
	Target dynamo.State
}

func NewLQR(k [][]float64, target dynamo.State) (*LQR, error) {
	for i, row := range k {
		if len(row) != len(target) {
			return nil, fmt.Errorf("%w: gain row %d has %d columns, target has %d",
				dynamo.ErrDimensionMismatch, i, len(row), len(target))
		}
	}
	return &LQR{K: k, Target: target.Clone()}, nil
}

func (l *LQR) Compute(x dynamo.State, t float64) dynamo.Control {
	u := make(dynamo.Control, len(l.K))
	for i := range u {
		for j := range x {
			if j < len(l.K[i]) {
				u[i] -= l.K[i][j] * (x[j] - l.Target[j])
			}
		}
	}
	return u
}
