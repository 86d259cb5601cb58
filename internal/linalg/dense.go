// Package linalg holds the small dense vector and matrix types used by the
// kinematics code. Entries are generic [autodiff.Scalar] values so the same
// containers carry plain reals and dual numbers.
//
// Shape violations are programmer errors and panic with [ErrShape], the way
// gonum's mat package does. Numerical failures in the solvers are returned as
// errors.
package linalg

import (
	"fmt"
	"math"

	"github.com/san-kum/kinsim/internal/autodiff"
)

// Vector is a dense column vector.
type Vector[T autodiff.Scalar[T]] []T

// Matrix is a dense row-major matrix.
type Matrix[T autodiff.Scalar[T]] struct {
	rows, cols int
	data       []T
}

func shapePanic(format string, args ...any) {
	panic(fmt.Errorf("%w: "+format, append([]any{ErrShape}, args...)...))
}

// NewMatrix returns a zero rows x cols matrix.
func NewMatrix[T autodiff.Scalar[T]](rows, cols int) Matrix[T] {
	if rows < 0 || cols < 0 {
		shapePanic("negative dimension %dx%d", rows, cols)
	}
	return Matrix[T]{rows: rows, cols: cols, data: make([]T, rows*cols)}
}

// FromRows builds a matrix of constants from row slices.
func FromRows[T autodiff.Scalar[T]](rows [][]float64) Matrix[T] {
	if len(rows) == 0 {
		return NewMatrix[T](0, 0)
	}
	m := NewMatrix[T](len(rows), len(rows[0]))
	for i, r := range rows {
		if len(r) != m.cols {
			shapePanic("ragged row %d: %d != %d", i, len(r), m.cols)
		}
		for j, x := range r {
			m.data[i*m.cols+j] = autodiff.Const[T](x)
		}
	}
	return m
}

// Identity returns the n x n identity.
func Identity[T autodiff.Scalar[T]](n int) Matrix[T] {
	m := NewMatrix[T](n, n)
	one := autodiff.Const[T](1)
	for i := 0; i < n; i++ {
		m.data[i*n+i] = one
	}
	return m
}

// Zeros returns a zero vector of length n.
func Zeros[T autodiff.Scalar[T]](n int) Vector[T] {
	return make(Vector[T], n)
}

// VectorOf converts floats to a vector of constants.
func VectorOf[T autodiff.Scalar[T]](xs ...float64) Vector[T] {
	return autodiff.FromFloats[T](xs)
}

func (m Matrix[T]) Rows() int { return m.rows }
func (m Matrix[T]) Cols() int { return m.cols }

func (m Matrix[T]) At(i, j int) T {
	m.check(i, j)
	return m.data[i*m.cols+j]
}

func (m Matrix[T]) Set(i, j int, v T) {
	m.check(i, j)
	m.data[i*m.cols+j] = v
}

func (m Matrix[T]) check(i, j int) {
	if i < 0 || i >= m.rows || j < 0 || j >= m.cols {
		shapePanic("index (%d,%d) outside %dx%d", i, j, m.rows, m.cols)
	}
}

func (m Matrix[T]) checkRow(i int) {
	if i < 0 || i >= m.rows {
		shapePanic("row %d outside %d rows", i, m.rows)
	}
}

// Row returns a copy of row i.
func (m Matrix[T]) Row(i int) Vector[T] {
	m.checkRow(i)
	out := make(Vector[T], m.cols)
	copy(out, m.data[i*m.cols:(i+1)*m.cols])
	return out
}

// Clone returns a deep copy.
func (m Matrix[T]) Clone() Matrix[T] {
	out := NewMatrix[T](m.rows, m.cols)
	copy(out.data, m.data)
	return out
}

// T returns the transpose.
func (m Matrix[T]) T() Matrix[T] {
	out := NewMatrix[T](m.cols, m.rows)
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			out.data[j*m.rows+i] = m.data[i*m.cols+j]
		}
	}
	return out
}

// Scale returns c*m.
func (m Matrix[T]) Scale(c float64) Matrix[T] {
	out := NewMatrix[T](m.rows, m.cols)
	for i, x := range m.data {
		out.data[i] = x.Scale(c)
	}
	return out
}

// Add returns m+b.
func (m Matrix[T]) Add(b Matrix[T]) Matrix[T] {
	if m.rows != b.rows || m.cols != b.cols {
		shapePanic("add %dx%d and %dx%d", m.rows, m.cols, b.rows, b.cols)
	}
	out := NewMatrix[T](m.rows, m.cols)
	for i := range m.data {
		out.data[i] = m.data[i].Add(b.data[i])
	}
	return out
}

// Mul returns m*b.
func (m Matrix[T]) Mul(b Matrix[T]) Matrix[T] {
	if m.cols != b.rows {
		shapePanic("mul %dx%d by %dx%d", m.rows, m.cols, b.rows, b.cols)
	}
	out := NewMatrix[T](m.rows, b.cols)
	for i := 0; i < m.rows; i++ {
		for k := 0; k < m.cols; k++ {
			a := m.data[i*m.cols+k]
			for j := 0; j < b.cols; j++ {
				idx := i*b.cols + j
				out.data[idx] = out.data[idx].Add(a.Mul(b.data[k*b.cols+j]))
			}
		}
	}
	return out
}

// MulVec returns m*v.
func (m Matrix[T]) MulVec(v Vector[T]) Vector[T] {
	if m.cols != len(v) {
		shapePanic("mulvec %dx%d by %d", m.rows, m.cols, len(v))
	}
	out := make(Vector[T], m.rows)
	for i := 0; i < m.rows; i++ {
		var acc T
		for j := 0; j < m.cols; j++ {
			acc = acc.Add(m.data[i*m.cols+j].Mul(v[j]))
		}
		out[i] = acc
	}
	return out
}

// TMulVec returns transpose(m)*v without forming the transpose.
func (m Matrix[T]) TMulVec(v Vector[T]) Vector[T] {
	if m.rows != len(v) {
		shapePanic("tmulvec %dx%d by %d", m.rows, m.cols, len(v))
	}
	out := make(Vector[T], m.cols)
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			out[j] = out[j].Add(m.data[i*m.cols+j].Mul(v[i]))
		}
	}
	return out
}

// SetBlock copies b into m with its top-left corner at (i0, j0).
func (m Matrix[T]) SetBlock(i0, j0 int, b Matrix[T]) {
	if i0 < 0 || j0 < 0 || i0+b.rows > m.rows || j0+b.cols > m.cols {
		shapePanic("block %dx%d at (%d,%d) outside %dx%d", b.rows, b.cols, i0, j0, m.rows, m.cols)
	}
	for i := 0; i < b.rows; i++ {
		copy(m.data[(i0+i)*m.cols+j0:(i0+i)*m.cols+j0+b.cols], b.data[i*b.cols:(i+1)*b.cols])
	}
}

// SelectRows returns the rows listed in idx, in that order.
func (m Matrix[T]) SelectRows(idx []int) Matrix[T] {
	out := NewMatrix[T](len(idx), m.cols)
	for k, i := range idx {
		m.checkRow(i)
		copy(out.data[k*m.cols:(k+1)*m.cols], m.data[i*m.cols:(i+1)*m.cols])
	}
	return out
}

// VStack stacks blocks vertically. cols fixes the column count so that an
// empty stack still has a well-defined shape.
func VStack[T autodiff.Scalar[T]](cols int, blocks ...Matrix[T]) Matrix[T] {
	rows := 0
	for _, b := range blocks {
		if b.cols != cols {
			shapePanic("vstack block with %d cols, want %d", b.cols, cols)
		}
		rows += b.rows
	}
	out := NewMatrix[T](rows, cols)
	off := 0
	for _, b := range blocks {
		copy(out.data[off:], b.data)
		off += len(b.data)
	}
	return out
}

// Concat joins vectors end to end.
func Concat[T autodiff.Scalar[T]](vs ...Vector[T]) Vector[T] {
	n := 0
	for _, v := range vs {
		n += len(v)
	}
	out := make(Vector[T], 0, n)
	for _, v := range vs {
		out = append(out, v...)
	}
	return out
}

// Select returns the entries listed in idx.
func (v Vector[T]) Select(idx []int) Vector[T] {
	out := make(Vector[T], len(idx))
	for k, i := range idx {
		if i < 0 || i >= len(v) {
			shapePanic("select index %d outside %d", i, len(v))
		}
		out[k] = v[i]
	}
	return out
}

func (v Vector[T]) Add(w Vector[T]) Vector[T] {
	v.same(w)
	out := make(Vector[T], len(v))
	for i := range v {
		out[i] = v[i].Add(w[i])
	}
	return out
}

func (v Vector[T]) Sub(w Vector[T]) Vector[T] {
	v.same(w)
	out := make(Vector[T], len(v))
	for i := range v {
		out[i] = v[i].Sub(w[i])
	}
	return out
}

func (v Vector[T]) Scale(c float64) Vector[T] {
	out := make(Vector[T], len(v))
	for i := range v {
		out[i] = v[i].Scale(c)
	}
	return out
}

func (v Vector[T]) Neg() Vector[T] {
	return v.Scale(-1)
}

func (v Vector[T]) Dot(w Vector[T]) T {
	v.same(w)
	var acc T
	for i := range v {
		acc = acc.Add(v[i].Mul(w[i]))
	}
	return acc
}

// Norm is the Euclidean norm of the primal values.
func (v Vector[T]) Norm() float64 {
	sum := 0.0
	for _, x := range v {
		sum += x.Value() * x.Value()
	}
	return math.Sqrt(sum)
}

// Values returns the primal values.
func (v Vector[T]) Values() []float64 {
	return autodiff.Values[T](v)
}

func (v Vector[T]) same(w Vector[T]) {
	if len(v) != len(w) {
		shapePanic("vector lengths %d and %d", len(v), len(w))
	}
}
