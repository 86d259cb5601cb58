package multibody

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/san-kum/kinsim/internal/autodiff"
	"github.com/san-kum/kinsim/internal/linalg"
)

const DefaultGravity = 9.81

// Link is one rigid link of a planar chain. Its mass is lumped at the tip.
type Link struct {
	Length float64 `yaml:"length"`
	Mass   float64 `yaml:"mass"`
}

// PlanarChain is a serial chain of revolute links moving in the vertical
// plane, optionally mounted on a horizontal slider (a cart).
//
// Coordinates: with a slider, q[0] is the cart position; the remaining
// entries are relative joint angles measured from the +x axis of the parent
// link (the world +x axis for the first link). q̇ = v.
//
// Frames: 0 is the base (the cart, or the fixed origin), frame k+1 is link k
// with its origin at the joint and its x axis along the link.
type PlanarChain[T autodiff.Scalar[T]] struct {
	links      []Link
	gravity    float64
	damping    float64
	slider     bool
	sliderMass float64
	actuated   []int
}

type chainOptions struct {
	gravity    float64
	damping    float64
	slider     bool
	sliderMass float64
	actuated   []int
}

type ChainOption func(*chainOptions)

func WithGravity(g float64) ChainOption {
	return func(o *chainOptions) { o.gravity = g }
}

// WithDamping adds viscous friction -d*v on every revolute joint.
func WithDamping(d float64) ChainOption {
	return func(o *chainOptions) { o.damping = d }
}

// WithSlider mounts the chain on a horizontal prismatic base of the given mass.
func WithSlider(mass float64) ChainOption {
	return func(o *chainOptions) {
		o.slider = true
		o.sliderMass = mass
	}
}

// WithActuated lists the velocity coordinates driven by actuators, in
// actuator order. The default actuates every revolute joint; WithActuated()
// with no indices leaves the chain passive.
func WithActuated(idx ...int) ChainOption {
	return func(o *chainOptions) { o.actuated = append([]int{}, idx...) }
}

func NewPlanarChain[T autodiff.Scalar[T]](links []Link, opts ...ChainOption) (*PlanarChain[T], error) {
	o := chainOptions{gravity: DefaultGravity}
	for _, opt := range opts {
		opt(&o)
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("%w: chain needs at least one link", ErrInvalidParameter)
	}
	for i, l := range links {
		if l.Length <= 0 || l.Mass <= 0 {
			return nil, fmt.Errorf("%w: link %d length %g mass %g", ErrInvalidParameter, i, l.Length, l.Mass)
		}
	}
	if o.slider && o.sliderMass <= 0 {
		return nil, fmt.Errorf("%w: slider mass %g", ErrInvalidParameter, o.sliderMass)
	}
	if o.damping < 0 {
		return nil, fmt.Errorf("%w: damping %g", ErrInvalidParameter, o.damping)
	}

	c := &PlanarChain[T]{
		links:      append([]Link(nil), links...),
		gravity:    o.gravity,
		damping:    o.damping,
		slider:     o.slider,
		sliderMass: o.sliderMass,
	}
	if o.actuated == nil {
		for k := range links {
			o.actuated = append(o.actuated, c.offset()+k)
		}
	}
	seen := make(map[int]bool)
	for _, idx := range o.actuated {
		if idx < 0 || idx >= c.NumVelocities() || seen[idx] {
			return nil, fmt.Errorf("%w: actuated coordinate %d", ErrInvalidParameter, idx)
		}
		seen[idx] = true
	}
	c.actuated = o.actuated
	return c, nil
}

func (c *PlanarChain[T]) offset() int {
	if c.slider {
		return 1
	}
	return 0
}

func (c *PlanarChain[T]) NumPositions() int  { return c.offset() + len(c.links) }
func (c *PlanarChain[T]) NumVelocities() int { return c.NumPositions() }
func (c *PlanarChain[T]) NumActuators() int  { return len(c.actuated) }
func (c *PlanarChain[T]) NumFrames() int     { return len(c.links) + 1 }

// Links returns a copy of the link parameters.
func (c *PlanarChain[T]) Links() []Link { return append([]Link(nil), c.links...) }

// CreateContext returns a zero state snapshot.
func (c *PlanarChain[T]) CreateContext() *Context[T] {
	ctx, _ := NewContext[T](c, make([]T, c.NumPositions()), make([]T, c.NumVelocities()), nil)
	return ctx
}

type vec2[T autodiff.Scalar[T]] struct{ x, y T }

func (a vec2[T]) add(b vec2[T]) vec2[T] { return vec2[T]{a.x.Add(b.x), a.y.Add(b.y)} }
func (a vec2[T]) sub(b vec2[T]) vec2[T] { return vec2[T]{a.x.Sub(b.x), a.y.Sub(b.y)} }
func (a vec2[T]) mul(s T) vec2[T]       { return vec2[T]{a.x.Mul(s), a.y.Mul(s)} }

// perp rotates by +90 degrees: z x a.
func (a vec2[T]) perp() vec2[T] { return vec2[T]{a.y.Neg(), a.x} }

func (a vec2[T]) vector() linalg.Vector[T] { return linalg.Vector[T]{a.x, a.y} }

// chainKinematics is cached in the Context for one (q, v).
type chainKinematics[T autodiff.Scalar[T]] struct {
	owner     *PlanarChain[T]
	axis      []vec2[T] // unit vector along link k
	omega     []T       // absolute angular rate of link k
	origin    []vec2[T] // origin[k] is joint k; origin[n] is the last tip
	originDot []vec2[T]
}

func (c *PlanarChain[T]) kinematics(ctx *Context[T]) *chainKinematics[T] {
	if k, ok := ctx.cache.(*chainKinematics[T]); ok && k.owner == c {
		return k
	}

	n, off := len(c.links), c.offset()
	q, v := ctx.q, ctx.v
	k := &chainKinematics[T]{
		owner:     c,
		axis:      make([]vec2[T], n),
		omega:     make([]T, n),
		origin:    make([]vec2[T], n+1),
		originDot: make([]vec2[T], n+1),
	}
	if c.slider {
		k.origin[0].x = q[0]
		k.originDot[0].x = v[0]
	}

	var phi, phiDot T
	for i, l := range c.links {
		phi = phi.Add(q[off+i])
		phiDot = phiDot.Add(v[off+i])
		k.axis[i] = vec2[T]{phi.Cos(), phi.Sin()}
		k.omega[i] = phiDot
		length := autodiff.Const[T](l.Length)
		k.origin[i+1] = k.origin[i].add(k.axis[i].mul(length))
		k.originDot[i+1] = k.originDot[i].add(k.axis[i].perp().mul(length.Mul(phiDot)))
	}
	ctx.cache = k
	return k
}

func (c *PlanarChain[T]) checkFrame(frame int) {
	if frame < 0 || frame >= c.NumFrames() {
		panic(fmt.Errorf("%w: %d (chain has %d frames)", ErrUnknownFrame, frame, c.NumFrames()))
	}
}

// point returns the world position and velocity of p on frame.
func (c *PlanarChain[T]) point(k *chainKinematics[T], frame int, p Point) (pos, vel vec2[T]) {
	px, py := autodiff.Const[T](p[0]), autodiff.Const[T](p[1])
	if frame == 0 {
		return k.origin[0].add(vec2[T]{px, py}), k.originDot[0]
	}
	link := frame - 1
	a := k.axis[link]
	r := a.mul(px).add(a.perp().mul(py))
	return k.origin[link].add(r), k.originDot[link].add(r.perp().mul(k.omega[link]))
}

func (c *PlanarChain[T]) PointPosition(ctx *Context[T], frame int, p Point) linalg.Vector[T] {
	c.checkFrame(frame)
	pos, _ := c.point(c.kinematics(ctx), frame, p)
	return pos.vector()
}

func (c *PlanarChain[T]) PointJacobian(ctx *Context[T], frame int, p Point) linalg.Matrix[T] {
	c.checkFrame(frame)
	k := c.kinematics(ctx)
	pos, _ := c.point(k, frame, p)

	j := linalg.NewMatrix[T](2, c.NumVelocities())
	if c.slider {
		j.Set(0, 0, autodiff.Const[T](1))
	}
	off := c.offset()
	for i := 0; i < frame; i++ {
		col := pos.sub(k.origin[i]).perp()
		j.Set(0, off+i, col.x)
		j.Set(1, off+i, col.y)
	}
	return j
}

func (c *PlanarChain[T]) PointJacobianDotTimesV(ctx *Context[T], frame int, p Point) linalg.Vector[T] {
	c.checkFrame(frame)
	k := c.kinematics(ctx)
	_, vel := c.point(k, frame, p)

	var acc vec2[T]
	off := c.offset()
	for i := 0; i < frame; i++ {
		acc = acc.add(vel.sub(k.originDot[i]).perp().mul(ctx.v[off+i]))
	}
	return acc.vector()
}

func (c *PlanarChain[T]) tip(link int) (int, Point) {
	return link + 1, Point{c.links[link].Length, 0}
}

func (c *PlanarChain[T]) MassMatrix(ctx *Context[T]) linalg.Matrix[T] {
	nv := c.NumVelocities()
	m := linalg.NewMatrix[T](nv, nv)
	if c.slider {
		m.Set(0, 0, autodiff.Const[T](c.sliderMass))
	}
	for i, l := range c.links {
		frame, p := c.tip(i)
		j := c.PointJacobian(ctx, frame, p)
		m = m.Add(j.T().Mul(j).Scale(l.Mass))
	}
	return m
}

func (c *PlanarChain[T]) BiasForces(ctx *Context[T]) linalg.Vector[T] {
	nv := c.NumVelocities()
	tau := linalg.Zeros[T](nv)
	weight := linalg.VectorOf[T](0, -c.gravity)
	for i, l := range c.links {
		frame, p := c.tip(i)
		j := c.PointJacobian(ctx, frame, p)
		jdv := c.PointJacobianDotTimesV(ctx, frame, p)
		tau = tau.Add(j.TMulVec(weight.Sub(jdv)).Scale(l.Mass))
	}
	if c.damping > 0 {
		off := c.offset()
		for i := range c.links {
			tau[off+i] = tau[off+i].Sub(ctx.v[off+i].Scale(c.damping))
		}
	}
	return tau
}

// ActuationMatrix returns B, n_v x n_u.
func (c *PlanarChain[T]) ActuationMatrix() linalg.Matrix[T] {
	b := linalg.NewMatrix[T](c.NumVelocities(), c.NumActuators())
	one := autodiff.Const[T](1)
	for i, idx := range c.actuated {
		b.Set(idx, i, one)
	}
	return b
}

func (c *PlanarChain[T]) ActuationForces(ctx *Context[T]) linalg.Vector[T] {
	tau := linalg.Zeros[T](c.NumVelocities())
	for i, idx := range c.actuated {
		tau[idx] = ctx.u[i]
	}
	return tau
}

func (c *PlanarChain[T]) KinematicMap(ctx *Context[T]) linalg.Matrix[T] {
	return linalg.Identity[T](c.NumPositions())
}

func (c *PlanarChain[T]) MapVelocityToQDot(ctx *Context[T]) linalg.Vector[T] {
	return clone(ctx.v)
}

// Energy is kinetic plus gravitational potential energy.
func (c *PlanarChain[T]) Energy(ctx *Context[T]) T {
	v := ctx.v
	ke := v.Dot(c.MassMatrix(ctx).MulVec(v)).Scale(0.5)
	k := c.kinematics(ctx)
	pe := autodiff.Const[T](0)
	for i, l := range c.links {
		pe = pe.Add(k.origin[i+1].y.Scale(l.Mass * c.gravity))
	}
	return ke.Add(pe)
}

func (c *PlanarChain[T]) GetParams() map[string]float64 {
	params := map[string]float64{
		"gravity": c.gravity,
		"damping": c.damping,
	}
	if c.slider {
		params["slider_mass"] = c.sliderMass
	}
	for i, l := range c.links {
		params[fmt.Sprintf("link%d_length", i)] = l.Length
		params[fmt.Sprintf("link%d_mass", i)] = l.Mass
	}
	return params
}

// SetParam adjusts a model parameter. It must not be called while other
// goroutines evaluate the plant.
func (c *PlanarChain[T]) SetParam(name string, value float64) error {
	switch name {
	case "gravity":
		c.gravity = value
		return nil
	case "damping":
		if value < 0 {
			return fmt.Errorf("%w: damping %g", ErrInvalidParameter, value)
		}
		c.damping = value
		return nil
	case "slider_mass":
		if !c.slider || value <= 0 {
			return fmt.Errorf("%w: slider_mass %g", ErrInvalidParameter, value)
		}
		c.sliderMass = value
		return nil
	}

	if rest, ok := strings.CutPrefix(name, "link"); ok {
		idxStr, field, ok := strings.Cut(rest, "_")
		idx, err := strconv.Atoi(idxStr)
		if ok && err == nil && idx >= 0 && idx < len(c.links) && value > 0 {
			switch field {
			case "length":
				c.links[idx].Length = value
				return nil
			case "mass":
				c.links[idx].Mass = value
				return nil
			}
		}
	}
	return fmt.Errorf("%w: unknown param %s=%g", ErrInvalidParameter, name, value)
}
