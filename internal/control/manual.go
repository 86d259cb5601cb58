package control

import (
	"sync"

	"github.com/san-kum/kinsim/internal/dynamo"
)

// Manual returns whatever control vector was last set. The live view uses
// it to push actuators from the keyboard while the simulation runs.
type Manual struct {
	mu sync.Mutex
	u  dynamo.Control
}

func NewManual(dim int) *Manual {
	return &Manual{u: make(dynamo.Control, dim)}
}

// SetControl replaces the control vector. Vectors of the wrong length are
// ignored.
func (m *Manual) SetControl(u []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(u) != len(m.u) {
		return
	}
	copy(m.u, u)
}

// Nudge adds delta to component i.
func (m *Manual) Nudge(i int, delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i >= 0 && i < len(m.u) {
		m.u[i] += delta
	}
}

func (m *Manual) Compute(x dynamo.State, t float64) dynamo.Control {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append(dynamo.Control(nil), m.u...)
}
