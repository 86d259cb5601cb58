package autodiff

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// poly evaluates the same expression for any scalar type.
func poly[T Scalar[T]](x, y T) T {
	two := Const[T](2)
	return x.Sin().Mul(y).Add(x.Mul(x).Div(y.Add(two))).Sub(y.Cos().Scale(3)).Add(x.Mul(y).Sqrt())
}

func TestDualMatchesFiniteDifference(t *testing.T) {
	x0, y0 := 0.7, 1.3
	in := Seed([]float64{x0, y0})
	out := poly(in[0], in[1])

	f := func(x, y float64) float64 {
		return float64(poly(Real(x), Real(y)))
	}

	require.InDelta(t, f(x0, y0), out.Value(), 1e-12)

	h := 1e-6
	dx := (f(x0+h, y0) - f(x0-h, y0)) / (2 * h)
	dy := (f(x0, y0+h) - f(x0, y0-h)) / (2 * h)

	require.Len(t, out.Tangent(), 2)
	assert.InDelta(t, dx, out.Tangent()[0], 1e-7)
	assert.InDelta(t, dy, out.Tangent()[1], 1e-7)
}

func TestDualConstantsHaveNoTangent(t *testing.T) {
	c := Const[Dual](4)
	assert.Nil(t, c.Tangent())

	v := Variable(2, 1, 3)
	sum := v.Add(c)
	assert.Equal(t, 6.0, sum.Value())
	assert.Equal(t, []float64{0, 1, 0}, sum.Tangent())

	prod := c.Mul(v)
	assert.Equal(t, []float64{0, 4, 0}, prod.Tangent())
}

func TestDualMixedTangentLengths(t *testing.T) {
	a := Dual{V: 1, D: []float64{1}}
	b := Dual{V: 2, D: []float64{0, 0, 1}}

	got := a.Mul(b)
	assert.Equal(t, 2.0, got.Value())
	assert.Equal(t, []float64{2, 0, 1}, got.Tangent())
}

func TestRealIgnoresTangent(t *testing.T) {
	var r Real
	got := r.Lift(3, []float64{1, 2})
	assert.Equal(t, Real(3), got)
	assert.Nil(t, got.Tangent())
}

func TestTrigDerivatives(t *testing.T) {
	tests := []struct {
		name string
		fn   func(Dual) Dual
		want func(float64) float64
	}{
		{"sin", Dual.Sin, math.Cos},
		{"cos", Dual.Cos, func(x float64) float64 { return -math.Sin(x) }},
		{"sqrt", Dual.Sqrt, func(x float64) float64 { return 0.5 / math.Sqrt(x) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, x := range []float64{0.1, 0.9, 2.4} {
				got := tt.fn(Variable(x, 0, 1))
				assert.InDelta(t, tt.want(x), got.Tangent()[0], 1e-12)
			}
		})
	}
}

func TestValuesAndGradients(t *testing.T) {
	in := Seed([]float64{1, 2})
	ys := []Dual{in[0].Mul(in[1]), in[1].Scale(5)}

	assert.Equal(t, []float64{2, 10}, Values(ys))
	assert.Equal(t, [][]float64{{2, 1}, {0, 5}}, Gradients(ys, 2))
}
