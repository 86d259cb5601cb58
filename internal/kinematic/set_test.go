package kinematic

import (
	"math"
	"sync"

	"github.com/san-kum/kinsim/internal/autodiff"
	"github.com/san-kum/kinsim/internal/linalg"
	"github.com/san-kum/kinsim/internal/multibody"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var (
	pinnedQ = []float64{0.3, 1.2, -0.9}
	tipPt   = multibody.Point{0.6, 0}
)

func pinTip[T autodiff.Scalar[T]](plant multibody.Plant[T], at multibody.Point, opts ...EvaluatorOption) *PointPositionEvaluator[T] {
	e, err := NewPointPositionEvaluator[T](plant, 3, tipPt, append([]EvaluatorOption{WithOffset(at)}, opts...)...)
	Expect(err).NotTo(HaveOccurred())
	return e
}

// singularMassPlant reports a zero mass matrix.
type singularMassPlant struct {
	*multibody.PlanarChain[R]
}

func (p singularMassPlant) MassMatrix(ctx *multibody.Context[R]) linalg.Matrix[R] {
	return linalg.NewMatrix[R](p.NumVelocities(), p.NumVelocities())
}

// illConditionedPlant reports a positive definite mass matrix with
// condition number 1e15.
type illConditionedPlant struct {
	*multibody.PlanarChain[R]
}

func (p illConditionedPlant) MassMatrix(ctx *multibody.Context[R]) linalg.Matrix[R] {
	m := linalg.Identity[R](p.NumVelocities())
	m.Set(1, 1, 1e-15)
	return m
}

// overcountingEvaluator declares one row more than it evaluates.
type overcountingEvaluator struct {
	*JointEvaluator[R]
}

func (e overcountingEvaluator) NumFull() int   { return e.JointEvaluator.NumFull() + 1 }
func (e overcountingEvaluator) NumActive() int { return e.JointEvaluator.NumActive() + 1 }

// narrowJacobianEvaluator drops the last velocity column of its Jacobian.
type narrowJacobianEvaluator struct {
	*JointEvaluator[R]
}

func (e narrowJacobianEvaluator) EvalFullJacobian(ctx *multibody.Context[R]) linalg.Matrix[R] {
	return linalg.NewMatrix[R](e.NumFull(), len(ctx.Velocities())-1)
}

var _ = Describe("EvaluatorSet", func() {
	var (
		plant  *multibody.PlanarChain[R]
		anchor multibody.Point
	)

	BeforeEach(func() {
		plant = newChain[R]()
		anchor = tipAt(plant, pinnedQ)
	})

	Describe("bookkeeping", func() {
		var (
			set  *EvaluatorSet[R]
			lock *JointEvaluator[R]
			pin  *PointPositionEvaluator[R]
		)

		BeforeEach(func() {
			var err error
			lock, err = NewJointEvaluator[R](plant, [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, []float64{0, 0, 0})
			Expect(err).NotTo(HaveOccurred())
			pin = pinTip[R](plant, anchor, WithActive(1))

			set = NewEvaluatorSet[R](plant)
			Expect(set.AddEvaluator(lock)).To(Equal(0))
			Expect(set.AddEvaluator(pin)).To(Equal(1))
		})

		It("counts rows and offsets in insertion order", func() {
			Expect(set.NumEvaluators()).To(Equal(2))
			Expect(set.CountFull()).To(Equal(5))
			Expect(set.CountActive()).To(Equal(4))

			start, err := set.EvaluatorFullStart(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(start).To(Equal(3))
			start, err = set.EvaluatorActiveStart(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(start).To(Equal(3))

			start, err = set.EvaluatorFullStart(0)
			Expect(err).NotTo(HaveOccurred())
			Expect(start).To(Equal(0))
		})

		It("returns the stored evaluator", func() {
			e, err := set.Evaluator(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(e).To(BeIdenticalTo(Evaluator[R](pin)))
			Expect(set.Plant()).To(BeIdenticalTo(multibody.Plant[R](plant)))
		})

		It("rejects out-of-range indices", func() {
			_, err := set.Evaluator(2)
			Expect(err).To(MatchError(ErrIndexOutOfRange))
			_, err = set.EvaluatorFullStart(-1)
			Expect(err).To(MatchError(ErrIndexOutOfRange))
			_, err = set.EvaluatorActiveStart(2)
			Expect(err).To(MatchError(ErrIndexOutOfRange))
		})

		It("stacks evaluations by the fixed masks", func() {
			ctx := contextAt[R](plant, []float64{0.1, 0.2, 0.3}, []float64{1, -1, 0.5})

			full, err := set.EvalFull(ctx)
			Expect(err).NotTo(HaveOccurred())
			active, err := set.EvalActive(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(full).To(HaveLen(5))
			Expect(active).To(Equal(full.Select([]int{0, 1, 2, 4})))

			jf, err := set.EvalFullJacobian(ctx)
			Expect(err).NotTo(HaveOccurred())
			ja, err := set.EvalActiveJacobian(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(matrixValues(ja)).To(Equal(matrixValues(jf.SelectRows([]int{0, 1, 2, 4}))))

			jdf, err := set.EvalFullJacobianDotTimesV(ctx)
			Expect(err).NotTo(HaveOccurred())
			jda, err := set.EvalActiveJacobianDotTimesV(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(jda).To(Equal(jdf.Select([]int{0, 1, 2, 4})))
		})

		It("computes time derivatives as J*v", func() {
			ctx := contextAt[R](plant, []float64{0.1, 0.2, 0.3}, []float64{1, -1, 0.5})

			jf, err := set.EvalFullJacobian(ctx)
			Expect(err).NotTo(HaveOccurred())
			phidot, err := set.EvalFullTimeDerivative(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(phidot).To(Equal(jf.MulVec(ctx.Velocities())))

			ja, err := set.EvalActiveJacobian(ctx)
			Expect(err).NotTo(HaveOccurred())
			phidot, err = set.EvalActiveTimeDerivative(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(phidot).To(Equal(ja.MulVec(ctx.Velocities())))
		})

		It("scatters active values onto full rows", func() {
			full, err := set.MapActiveToFull(linalg.VectorOf[R](1, 2, 3, 4))
			Expect(err).NotTo(HaveOccurred())
			Expect(full.Values()).To(Equal([]float64{1, 2, 3, 0, 4}))

			_, err = set.MapActiveToFull(linalg.VectorOf[R](1, 2))
			Expect(err).To(MatchError(ErrDimensionMismatch))
		})

		It("rejects contexts of another plant", func() {
			other := newChain[R](multibody.WithSlider(1))
			ctx := other.CreateContext()

			_, err := set.EvalFull(ctx)
			Expect(err).To(MatchError(ErrDimensionMismatch))
			_, err = set.EvalActiveJacobian(ctx)
			Expect(err).To(MatchError(ErrDimensionMismatch))
			_, err = set.CalcTimeDerivatives(ctx, 1)
			Expect(err).To(MatchError(ErrDimensionMismatch))
		})
	})

	Describe("FindUnion", func() {
		It("matches evaluators by identity", func() {
			a := pinTip[R](plant, anchor)
			b := pinTip[R](plant, anchor, WithActive(0))
			c := pinTip[R](plant, multibody.Point{1, 1})
			twin := pinTip[R](plant, anchor)

			mine := NewEvaluatorSet[R](plant)
			mine.AddEvaluator(a)
			mine.AddEvaluator(b)

			other := NewEvaluatorSet[R](plant)
			other.AddEvaluator(c)
			other.AddEvaluator(twin)
			other.AddEvaluator(b)
			other.AddEvaluator(a)

			Expect(mine.FindUnion(other)).To(Equal([]int{2, 3}))
			Expect(other.FindUnion(mine)).To(Equal([]int{0, 1}))
			Expect(mine.FindUnion(NewEvaluatorSet[R](plant))).To(BeEmpty())
			Expect(NewEvaluatorSet[R](plant).FindUnion(other)).To(BeEmpty())
		})
	})

	Describe("with no evaluators", func() {
		It("degenerates to the unconstrained dynamics", func() {
			set := NewEvaluatorSet[R](plant)
			ctx := contextAt[R](plant, []float64{0.4, -0.3, 0.2}, []float64{0.5, 0, -1})

			phi, err := set.EvalFull(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(phi).To(BeEmpty())
			j, err := set.EvalActiveJacobian(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(j.Rows()).To(Equal(0))
			Expect(j.Cols()).To(Equal(3))

			xdot, lambda, err := set.CalcTimeDerivativesWithLambda(ctx, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(lambda).To(BeEmpty())

			tau := plant.BiasForces(ctx).Add(plant.ActuationForces(ctx))
			vdot, err := linalg.SolveSPD(plant.MassMatrix(ctx), tau)
			Expect(err).NotTo(HaveOccurred())
			expectClose(xdot.Values(), linalg.Concat(ctx.Velocities(), vdot).Values(), 1e-12)

			forced, err := set.CalcTimeDerivativesWithForce(ctx, linalg.Vector[R]{})
			Expect(err).NotTo(HaveOccurred())
			expectClose(forced.Values(), xdot.Values(), 1e-12)
		})
	})

	Describe("constrained dynamics", func() {
		var (
			set *EvaluatorSet[R]
			ctx *multibody.Context[R]
		)

		BeforeEach(func() {
			set = NewEvaluatorSet[R](plant)
			set.AddEvaluator(pinTip[R](plant, anchor))
			q := []float64{pinnedQ[0] + 0.02, pinnedQ[1] - 0.03, pinnedQ[2] + 0.01}
			ctx = contextAt[R](plant, q, []float64{0.4, -0.2, 0.7})
		})

		It("satisfies the stabilized acceleration constraint", func() {
			const alpha = 3.0
			xdot, lambda, err := set.CalcTimeDerivativesWithLambda(ctx, alpha)
			Expect(err).NotTo(HaveOccurred())
			vdot := linalg.Vector[R](xdot[3:])

			ja, _ := set.EvalActiveJacobian(ctx)
			jdv, _ := set.EvalActiveJacobianDotTimesV(ctx)
			phi, _ := set.EvalActive(ctx)
			phidot, _ := set.EvalActiveTimeDerivative(ctx)

			residual := ja.MulVec(vdot).Add(jdv).Add(phi.Scale(alpha * alpha)).Add(phidot.Scale(2 * alpha))
			expectClose(residual.Values(), []float64{0, 0}, 1e-9)

			mvdot, err := set.CalcMassMatrixTimesVDot(ctx, lambda)
			Expect(err).NotTo(HaveOccurred())
			expectClose(plant.MassMatrix(ctx).MulVec(vdot).Values(), mvdot.Values(), 1e-9)

			expectClose(xdot[:3].Values(), ctx.Velocities().Values(), 0)
		})

		It("reproduces its accelerations from the reported multipliers", func() {
			xdot, lambda, err := set.CalcTimeDerivativesWithLambda(ctx, 2)
			Expect(err).NotTo(HaveOccurred())
			forced, err := set.CalcTimeDerivativesWithForce(ctx, lambda)
			Expect(err).NotTo(HaveOccurred())
			expectClose(forced.Values(), xdot.Values(), 1e-9)

			plain, err := set.CalcTimeDerivatives(ctx, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(plain).To(Equal(xdot))
		})

		It("rejects a negative gain", func() {
			_, err := set.CalcTimeDerivatives(ctx, -1)
			Expect(err).To(MatchError(ErrInvalidGain))
		})

		It("rejects multipliers of the wrong length", func() {
			_, err := set.CalcMassMatrixTimesVDot(ctx, linalg.VectorOf[R](1))
			Expect(err).To(MatchError(ErrDimensionMismatch))
			_, err = set.CalcTimeDerivativesWithForce(ctx, linalg.VectorOf[R](1, 2, 3))
			Expect(err).To(MatchError(ErrDimensionMismatch))
		})

		It("reduces drift with stabilization", func() {
			drift := func(alpha float64) float64 {
				const dt, steps = 1e-3, 400
				c := ctx.Clone()
				for i := 0; i < steps; i++ {
					xdot, err := set.CalcTimeDerivatives(c, alpha)
					Expect(err).NotTo(HaveOccurred())
					x := c.State().Add(xdot.Scale(dt))
					c, err = multibody.NewContextFromState[R](plant, x, nil)
					Expect(err).NotTo(HaveOccurred())
				}
				phi, err := set.EvalFull(c)
				Expect(err).NotTo(HaveOccurred())
				return phi.Norm()
			}

			phi0, err := set.EvalFull(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(phi0.Norm()).To(BeNumerically(">", 1e-3))

			loose, tight := drift(0), drift(10)
			Expect(tight).To(BeNumerically("<", 0.5*loose))
			Expect(tight).To(BeNumerically("<", phi0.Norm()))
		})

		It("propagates gradients through the solve", func() {
			dplant := newChain[autodiff.Dual]()
			dset := NewEvaluatorSet[autodiff.Dual](dplant)
			dset.AddEvaluator(pinTip[autodiff.Dual](dplant, anchor))

			q, v := ctx.Positions().Values(), ctx.Velocities().Values()
			dctx, err := multibody.NewContext[autodiff.Dual](dplant, autodiff.Seed(q), autodiff.FromFloats[autodiff.Dual](v), nil)
			Expect(err).NotTo(HaveOccurred())
			xdot, err := dset.CalcTimeDerivatives(dctx, 2)
			Expect(err).NotTo(HaveOccurred())
			grads := autodiff.Gradients(xdot, len(q))

			const h = 1e-6
			at := func(i int, step float64) []float64 {
				qh := append([]float64(nil), q...)
				qh[i] += step
				out, err := set.CalcTimeDerivatives(contextAt[R](plant, qh, v), 2)
				Expect(err).NotTo(HaveOccurred())
				return out.Values()
			}
			for i := range q {
				plus, minus := at(i, h), at(i, -h)
				for r := range xdot {
					fd := (plus[r] - minus[r]) / (2 * h)
					Expect(grads[r][i]).To(BeNumerically("~", fd, 1e-5*math.Max(1, math.Abs(fd))), "d xdot[%d] / d q[%d]", r, i)
				}
			}
		})

		It("is safe for concurrent evaluation with separate contexts", func() {
			want, err := set.CalcTimeDerivatives(ctx.Clone(), 4)
			Expect(err).NotTo(HaveOccurred())

			var wg sync.WaitGroup
			results := make([]linalg.Vector[R], 8)
			errs := make([]error, len(results))
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i], errs[i] = set.CalcTimeDerivatives(ctx.Clone(), 4)
				}(i)
			}
			wg.Wait()
			for i := range results {
				Expect(errs[i]).NotTo(HaveOccurred())
				Expect(results[i]).To(Equal(want))
			}
		})
	})

	Describe("on the constraint manifold", func() {
		It("does not depend on the stabilization gain", func() {
			// φ = q0 - q1
			weights := [][]float64{{0, 1, -1, 0, 0, 0, 0, 0, 0, 0}}
			m, err := NewManifoldEvaluator[R](plant, plant.CreateContext(), []int{0, 1, 2}, weights)
			Expect(err).NotTo(HaveOccurred())
			set := NewEvaluatorSet[R](plant)
			set.AddEvaluator(m)

			ctx := contextAt[R](plant, []float64{0.5, 0.5, -0.2}, []float64{0.3, 0.3, 1})
			phi, err := set.EvalFull(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(phi.Values()).To(Equal([]float64{0}))

			base, err := set.CalcTimeDerivatives(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			for _, alpha := range []float64{0.5, 3, 20} {
				xdot, err := set.CalcTimeDerivatives(ctx, alpha)
				Expect(err).NotTo(HaveOccurred())
				expectClose(xdot.Values(), base.Values(), 1e-12)
			}
		})
	})

	Describe("redundant constraints", func() {
		var ctx *multibody.Context[R]

		BeforeEach(func() {
			ctx = contextAt[R](plant, pinnedQ, []float64{0, 0, 0})
		})

		It("splits the multiplier evenly under the minimum-norm policy", func() {
			single := NewEvaluatorSet[R](plant)
			single.AddEvaluator(pinTip[R](plant, anchor))
			want, wantLambda, err := single.CalcTimeDerivativesWithLambda(ctx, 1)
			Expect(err).NotTo(HaveOccurred())

			double := NewEvaluatorSet[R](plant)
			double.AddEvaluator(pinTip[R](plant, anchor))
			double.AddEvaluator(pinTip[R](plant, anchor))
			xdot, lambda, err := double.CalcTimeDerivativesWithLambda(ctx, 1)
			Expect(err).NotTo(HaveOccurred())

			expectClose(xdot.Values(), want.Values(), 1e-9)
			Expect(lambda).To(HaveLen(4))
			half := wantLambda.Scale(0.5).Values()
			expectClose(lambda.Values(), append(half, half...), 1e-8)
		})

		It("fails under the strict policy", func() {
			set := NewEvaluatorSet[R](plant, WithSolver(SolveStrict))
			set.AddEvaluator(pinTip[R](plant, anchor))
			set.AddEvaluator(pinTip[R](plant, anchor))
			_, err := set.CalcTimeDerivatives(ctx, 1)
			Expect(err).To(MatchError(ErrRankDeficient))
			Expect(err).To(MatchError(linalg.ErrRankDeficient))
		})

		It("reports contradicting rows", func() {
			set := NewEvaluatorSet[R](plant)
			set.AddEvaluator(pinTip[R](plant, anchor))
			set.AddEvaluator(pinTip[R](plant, multibody.Point{anchor[0] + 0.1, anchor[1]}))
			_, err := set.CalcTimeDerivatives(ctx, 2)
			Expect(err).To(MatchError(ErrInconsistentConstraints))

			// Without stabilization both rows ask for the same acceleration.
			_, err = set.CalcTimeDerivatives(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("mass matrix checks", func() {
		It("rejects a singular mass matrix", func() {
			bad := singularMassPlant{plant}
			set := NewEvaluatorSet[R](bad)
			ctx := bad.CreateContext()

			_, err := set.CalcTimeDerivatives(ctx, 1)
			Expect(err).To(MatchError(ErrSingularMassMatrix))
			_, err = set.CalcTimeDerivativesWithForce(ctx, linalg.Vector[R]{})
			Expect(err).To(MatchError(ErrSingularMassMatrix))

			set.AddEvaluator(pinTip[R](bad, anchor))
			_, err = set.CalcTimeDerivatives(ctx, 1)
			Expect(err).To(MatchError(ErrSingularMassMatrix))
		})

		It("applies the same conditioning limit with and without a solve", func() {
			ill := illConditionedPlant{plant}
			set := NewEvaluatorSet[R](ill)
			ctx := ill.CreateContext()

			_, err := set.CalcTimeDerivatives(ctx, 0)
			Expect(err).To(MatchError(ErrSingularMassMatrix))
			_, err = set.CalcTimeDerivativesWithForce(ctx, linalg.Vector[R]{})
			Expect(err).To(MatchError(ErrSingularMassMatrix))
		})
	})

	Describe("evaluator output checks", func() {
		var (
			set  *EvaluatorSet[R]
			ctx  *multibody.Context[R]
			lock *JointEvaluator[R]
		)

		BeforeEach(func() {
			set = NewEvaluatorSet[R](plant)
			ctx = contextAt[R](plant, pinnedQ, []float64{0.1, -0.2, 0.3})

			var err error
			lock, err = NewJointEvaluator[R](plant, [][]float64{{0, 1, 0}}, []float64{1})
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects an evaluator returning fewer rows than it declares", func() {
			bad, err := NewJointEvaluator[R](plant, [][]float64{{1, 0, 0}}, []float64{0})
			Expect(err).NotTo(HaveOccurred())
			set.AddEvaluator(overcountingEvaluator{bad})
			set.AddEvaluator(lock)
			Expect(set.CountFull()).To(Equal(3))

			_, err = set.EvalFull(ctx)
			Expect(err).To(MatchError(ErrDimensionMismatch))
			Expect(err.Error()).To(ContainSubstring("evaluator 0 returned 1 rows, declares 2"))
			_, err = set.EvalActive(ctx)
			Expect(err).To(MatchError(ErrDimensionMismatch))
			_, err = set.EvalFullJacobian(ctx)
			Expect(err).To(MatchError(ErrDimensionMismatch))
			_, err = set.EvalActiveJacobianDotTimesV(ctx)
			Expect(err).To(MatchError(ErrDimensionMismatch))

			_, err = set.CalcTimeDerivatives(ctx, 1)
			Expect(err).To(MatchError(ErrDimensionMismatch))
			_, err = set.CalcTimeDerivativesWithForce(ctx, linalg.Zeros[R](3))
			Expect(err).To(MatchError(ErrDimensionMismatch))
		})

		It("rejects a Jacobian with the wrong number of columns", func() {
			set.AddEvaluator(narrowJacobianEvaluator{lock})

			_, err := set.EvalFullJacobian(ctx)
			Expect(err).To(MatchError(ErrDimensionMismatch))
			Expect(err.Error()).To(ContainSubstring("2 columns"))
			_, err = set.EvalFullTimeDerivative(ctx)
			Expect(err).To(MatchError(ErrDimensionMismatch))
		})

		It("accepts evaluators that match their declared rows", func() {
			set.AddEvaluator(lock)
			phi, err := set.EvalFull(ctx)
			Expect(err).NotTo(HaveOccurred())
			expectClose(phi.Values(), []float64{pinnedQ[1] - 1}, 1e-12)
		})
	})

	DescribeTable("solver policy names",
		func(name string, want SolverPolicy, ok bool) {
			got, err := ParseSolverPolicy(name)
			if !ok {
				Expect(err).To(HaveOccurred())
				return
			}
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
			if name != "" {
				Expect(got.String()).To(Equal(name))
			}
		},
		Entry("default", "", SolveMinNorm, true),
		Entry("minnorm", "minnorm", SolveMinNorm, true),
		Entry("strict", "strict", SolveStrict, true),
		Entry("unknown", "qr", SolveMinNorm, false),
	)
})
