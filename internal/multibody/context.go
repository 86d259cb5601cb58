package multibody

import (
	"fmt"

	"github.com/san-kum/kinsim/internal/autodiff"
	"github.com/san-kum/kinsim/internal/linalg"
)

// Context is a state snapshot: positions q, velocities v, actuation input u,
// and whatever kinematic quantities a plant has cached for them.
//
// A Context is owned by one goroutine at a time.
type Context[T autodiff.Scalar[T]] struct {
	q, v, u linalg.Vector[T]

	// cache is plant specific and dropped whenever q or v change.
	cache any
}

// NewContext validates the sizes of q, v and u against dims and copies them.
func NewContext[T autodiff.Scalar[T]](dims Dimensions, q, v, u []T) (*Context[T], error) {
	if err := checkLen("positions", len(q), dims.NumPositions()); err != nil {
		return nil, err
	}
	if err := checkLen("velocities", len(v), dims.NumVelocities()); err != nil {
		return nil, err
	}
	if u == nil {
		u = make([]T, dims.NumActuators())
	}
	if err := checkLen("actuation", len(u), dims.NumActuators()); err != nil {
		return nil, err
	}
	return &Context[T]{q: clone(q), v: clone(v), u: clone(u)}, nil
}

// NewContextFromState splits x = [q; v].
func NewContextFromState[T autodiff.Scalar[T]](dims Dimensions, x, u []T) (*Context[T], error) {
	nq, nv := dims.NumPositions(), dims.NumVelocities()
	if err := checkLen("state", len(x), nq+nv); err != nil {
		return nil, err
	}
	return NewContext(dims, x[:nq], x[nq:], u)
}

// Positions returns q. The slice must not be modified.
func (c *Context[T]) Positions() linalg.Vector[T] { return c.q }

// Velocities returns v. The slice must not be modified.
func (c *Context[T]) Velocities() linalg.Vector[T] { return c.v }

// Actuation returns u. The slice must not be modified.
func (c *Context[T]) Actuation() linalg.Vector[T] { return c.u }

// State returns a fresh [q; v].
func (c *Context[T]) State() linalg.Vector[T] {
	return linalg.Concat(c.q, c.v)
}

func (c *Context[T]) SetPositions(q []T) error {
	if err := checkLen("positions", len(q), len(c.q)); err != nil {
		return err
	}
	copy(c.q, q)
	c.cache = nil
	return nil
}

func (c *Context[T]) SetVelocities(v []T) error {
	if err := checkLen("velocities", len(v), len(c.v)); err != nil {
		return err
	}
	copy(c.v, v)
	c.cache = nil
	return nil
}

func (c *Context[T]) SetActuation(u []T) error {
	if err := checkLen("actuation", len(u), len(c.u)); err != nil {
		return err
	}
	copy(c.u, u)
	return nil
}

// Clone copies the state but not the cache.
func (c *Context[T]) Clone() *Context[T] {
	return &Context[T]{q: clone(c.q), v: clone(c.v), u: clone(c.u)}
}

// Matches reports whether the context sizes agree with dims.
func (c *Context[T]) Matches(dims Dimensions) error {
	if err := checkLen("positions", len(c.q), dims.NumPositions()); err != nil {
		return err
	}
	if err := checkLen("velocities", len(c.v), dims.NumVelocities()); err != nil {
		return err
	}
	return checkLen("actuation", len(c.u), dims.NumActuators())
}

func checkLen(what string, got, want int) error {
	if got != want {
		return fmt.Errorf("%w: %s has length %d, want %d", ErrDimensionMismatch, what, got, want)
	}
	return nil
}

func clone[T any](xs []T) []T {
	out := make([]T, len(xs))
	copy(out, xs)
	return out
}
