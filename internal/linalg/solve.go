package linalg

import (
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/kinsim/internal/autodiff"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrShape         = errors.New("linalg: dimension mismatch")
	ErrSingular      = errors.New("linalg: matrix is singular or not positive definite")
	ErrRankDeficient = errors.New("linalg: matrix is rank deficient")
	ErrInconsistent  = errors.New("linalg: system has no exact solution")
)

// SolveError describes a failed factorization or solve.
type SolveError struct {
	Op   string
	N    int
	Rank int
	Cond float64
	Err  error
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("%v (%s, n=%d, rank=%d, cond=%.3g)", e.Err, e.Op, e.N, e.Rank, e.Cond)
}

func (e *SolveError) Unwrap() error {
	return e.Err
}

// Tolerances controls the SVD-based solvers.
type Tolerances struct {
	// RCond: singular values at or below RCond*max(s) are treated as zero.
	RCond float64
	// Residual: largest accepted |Ax-b| relative to max(1, |b|).
	Residual float64
}

func DefaultTolerances() Tolerances {
	return Tolerances{RCond: 1e-10, Residual: 1e-8}
}

// SolveSPD solves a*x = b for symmetric positive definite a using a
// Cholesky factorization of the primal values. Tangents are propagated as
// x' = inv(a) * (b' - a'*x).
func SolveSPD[T autodiff.Scalar[T]](a Matrix[T], b Vector[T]) (Vector[T], error) {
	n := checkSquare(a, b)
	if n == 0 {
		return Vector[T]{}, nil
	}

	chol, err := factorSPD(a)
	if err != nil {
		return nil, err
	}

	solve := func(rhs []float64) ([]float64, error) {
		var x mat.VecDense
		if err := chol.SolveVecTo(&x, mat.NewVecDense(n, rhs)); err != nil {
			return nil, &SolveError{Op: "cholesky", N: n, Rank: n, Cond: chol.Cond(), Err: ErrSingular}
		}
		return vecData(&x), nil
	}
	return propagate(a, b, solve)
}

// CheckSPD reports whether a is numerically symmetric positive definite.
func CheckSPD[T autodiff.Scalar[T]](a Matrix[T]) error {
	if a.rows != a.cols {
		shapePanic("spd check on %dx%d", a.rows, a.cols)
	}
	if a.rows == 0 {
		return nil
	}
	chol, err := factorSPD(a)
	if err != nil {
		return err
	}
	if c := chol.Cond(); c > 1/epsilon {
		return &SolveError{Op: "cholesky", N: a.rows, Rank: a.rows, Cond: c, Err: ErrSingular}
	}
	return nil
}

const epsilon = 1e-14

func factorSPD[T autodiff.Scalar[T]](a Matrix[T]) (*mat.Cholesky, error) {
	n := a.rows
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, 0.5*(a.data[i*n+j].Value()+a.data[j*n+i].Value()))
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil, &SolveError{Op: "cholesky", N: n, Cond: math.Inf(1), Err: ErrSingular}
	}
	return &chol, nil
}

// SolveMinNorm solves a*x = b through an SVD pseudo-inverse. When a is rank
// deficient the minimum-norm solution is returned, provided b lies in the
// range of a; otherwise the error wraps ErrInconsistent.
func SolveMinNorm[T autodiff.Scalar[T]](a Matrix[T], b Vector[T], tol Tolerances) (Vector[T], error) {
	return solveSVD(a, b, tol, false)
}

// SolveStrict is SolveMinNorm but fails with ErrRankDeficient instead of
// choosing among non-unique solutions.
func SolveStrict[T autodiff.Scalar[T]](a Matrix[T], b Vector[T], tol Tolerances) (Vector[T], error) {
	return solveSVD(a, b, tol, true)
}

func solveSVD[T autodiff.Scalar[T]](a Matrix[T], b Vector[T], tol Tolerances, strict bool) (Vector[T], error) {
	n := checkSquare(a, b)
	if n == 0 {
		return Vector[T]{}, nil
	}

	a0 := primalDense(a)
	var svd mat.SVD
	if ok := svd.Factorize(a0, mat.SVDThin); !ok {
		return nil, &SolveError{Op: "svd", N: n, Cond: math.Inf(1), Err: ErrSingular}
	}
	s := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	rank := 0
	for _, si := range s {
		if si > tol.RCond*s[0] {
			rank++
		}
	}
	cond := math.Inf(1)
	if s[n-1] > 0 {
		cond = s[0] / s[n-1]
	}
	if rank < n && strict {
		return nil, &SolveError{Op: "svd", N: n, Rank: rank, Cond: cond, Err: ErrRankDeficient}
	}

	pinv := func(rhs []float64) []float64 {
		x := make([]float64, n)
		for k := 0; k < rank; k++ {
			c := 0.0
			for i := 0; i < n; i++ {
				c += u.At(i, k) * rhs[i]
			}
			c /= s[k]
			for j := 0; j < n; j++ {
				x[j] += c * v.At(j, k)
			}
		}
		return x
	}

	b0 := autodiff.Values[T](b)
	x0 := pinv(b0)
	if r := residual(a0, x0, b0); r > tol.Residual*math.Max(1, floats(b0).norm()) {
		return nil, &SolveError{Op: "svd", N: n, Rank: rank, Cond: cond, Err: ErrInconsistent}
	}

	return propagate(a, b, func(rhs []float64) ([]float64, error) {
		return pinv(rhs), nil
	})
}

// propagate solves the primal system and then one tangent system per seeded
// direction with the same factorization.
func propagate[T autodiff.Scalar[T]](a Matrix[T], b Vector[T], solve func([]float64) ([]float64, error)) (Vector[T], error) {
	x0, err := solve(autodiff.Values[T](b))
	if err != nil {
		return nil, err
	}

	width := tangentWidth(a, b)
	tangents := make([][]float64, width)
	for k := 0; k < width; k++ {
		rhs := make([]float64, len(b))
		for i := range b {
			rhs[i] = component(b[i], k)
			for j := 0; j < a.cols; j++ {
				rhs[i] -= component(a.data[i*a.cols+j], k) * x0[j]
			}
		}
		if tangents[k], err = solve(rhs); err != nil {
			return nil, err
		}
	}

	var zero T
	out := make(Vector[T], len(x0))
	for i, xi := range x0 {
		if width == 0 {
			out[i] = zero.Lift(xi, nil)
			continue
		}
		d := make([]float64, width)
		for k := range d {
			d[k] = tangents[k][i]
		}
		out[i] = zero.Lift(xi, d)
	}
	return out, nil
}

func checkSquare[T autodiff.Scalar[T]](a Matrix[T], b Vector[T]) int {
	if a.rows != a.cols || a.rows != len(b) {
		shapePanic("solve %dx%d with rhs %d", a.rows, a.cols, len(b))
	}
	return a.rows
}

func primalDense[T autodiff.Scalar[T]](m Matrix[T]) *mat.Dense {
	data := make([]float64, len(m.data))
	for i, x := range m.data {
		data[i] = x.Value()
	}
	return mat.NewDense(m.rows, m.cols, data)
}

func tangentWidth[T autodiff.Scalar[T]](a Matrix[T], b Vector[T]) int {
	w := 0
	for _, x := range a.data {
		w = max(w, len(x.Tangent()))
	}
	for _, x := range b {
		w = max(w, len(x.Tangent()))
	}
	return w
}

func component[T autodiff.Scalar[T]](x T, k int) float64 {
	t := x.Tangent()
	if k < len(t) {
		return t[k]
	}
	return 0
}

func residual(a *mat.Dense, x, b []float64) float64 {
	var ax mat.VecDense
	ax.MulVec(a, mat.NewVecDense(len(x), x))
	r := make(floats, len(b))
	for i := range b {
		r[i] = ax.AtVec(i) - b[i]
	}
	return r.norm()
}

func vecData(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}

type floats []float64

func (f floats) norm() float64 {
	sum := 0.0
	for _, x := range f {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Rank counts the singular values of the primal part of a above
// rcond*max(s). An empty matrix has rank 0.
func Rank[T autodiff.Scalar[T]](a Matrix[T], rcond float64) (int, error) {
	if a.Rows() == 0 || a.Cols() == 0 {
		return 0, nil
	}
	var svd mat.SVD
	if ok := svd.Factorize(primalDense(a), mat.SVDNone); !ok {
		return 0, &SolveError{Op: "rank", N: a.Cols(), Err: ErrSingular}
	}
	s := svd.Values(nil)
	rank := 0
	for _, si := range s {
		if si > rcond*s[0] {
			rank++
		}
	}
	return rank, nil
}
