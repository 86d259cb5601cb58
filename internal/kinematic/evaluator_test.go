package kinematic

import (
	"math"

	"github.com/san-kum/kinsim/internal/autodiff"
	"github.com/san-kum/kinsim/internal/linalg"
	"github.com/san-kum/kinsim/internal/multibody"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var manifoldWeights = [][]float64{
	{0.1, 1, -0.5, 0.2, 0.3, 0, -0.4, 0.25, 0.1, 0},
	{-0.2, 0, 0.7, 1, 0, 0.5, 0, 0, -0.3, 0.6},
}

// sampleEvaluators builds one of each evaluator kind on a slider chain.
func sampleEvaluators[T autodiff.Scalar[T]](plant *multibody.PlanarChain[T]) map[string]Evaluator[T] {
	point, err := NewPointPositionEvaluator[T](plant, 3, multibody.Point{0.6, 0},
		WithView(0.4), WithOffset(multibody.Point{1, 0.5}), WithActive(1))
	Expect(err).NotTo(HaveOccurred())

	distance, err := NewDistanceEvaluator[T](plant, 1, multibody.Point{0.5, 0.1}, 3, multibody.Point{0.3, 0}, 0.9)
	Expect(err).NotTo(HaveOccurred())

	manifold, err := NewManifoldEvaluator[T](plant, plant.CreateContext(), []int{1, 2, 3}, manifoldWeights, WithActive(0))
	Expect(err).NotTo(HaveOccurred())

	joint, err := NewJointEvaluator[T](plant, [][]float64{{1, 0, 0.5, -1}}, []float64{0.2}, WithRelative())
	Expect(err).NotTo(HaveOccurred())

	return map[string]Evaluator[T]{
		"point":    point,
		"distance": distance,
		"manifold": manifold,
		"joint":    joint,
	}
}

var _ = Describe("Evaluators", func() {
	var (
		q = []float64{0.3, 0.4, -1.1, 0.8}
		v = []float64{0.2, -0.5, 1.3, 0.6}

		plant *multibody.PlanarChain[R]
		ctx   *multibody.Context[R]
		evals map[string]Evaluator[R]
	)

	BeforeEach(func() {
		plant = newChain[R](multibody.WithSlider(2))
		ctx = contextAt[R](plant, q, v)
		evals = sampleEvaluators(plant)
	})

	It("restricts full evaluations to the active mask exactly", func() {
		for name, e := range evals {
			inds := e.ActiveInds()
			Expect(e.EvalActive(ctx)).To(Equal(e.EvalFull(ctx).Select(inds)), name)
			Expect(e.EvalActiveJacobianDotTimesV(ctx)).To(Equal(e.EvalFullJacobianDotTimesV(ctx).Select(inds)), name)
			Expect(matrixValues(e.EvalActiveJacobian(ctx))).To(Equal(matrixValues(e.EvalFullJacobian(ctx).SelectRows(inds))), name)
			Expect(e.NumActive()).To(BeNumerically("<=", e.NumFull()), name)
		}
	})

	It("reports shapes and flags", func() {
		Expect(evals["point"].NumFull()).To(Equal(2))
		Expect(evals["point"].ActiveInds()).To(Equal([]int{1}))
		Expect(evals["distance"].NumFull()).To(Equal(1))
		Expect(evals["manifold"].NumFull()).To(Equal(2))
		Expect(evals["manifold"].NumActive()).To(Equal(1))
		Expect(evals["joint"].IsRelative()).To(BeTrue())
		Expect(evals["point"].IsRelative()).To(BeFalse())

		for name, e := range evals {
			j := e.EvalFullJacobian(ctx)
			Expect(j.Rows()).To(Equal(e.NumFull()), name)
			Expect(j.Cols()).To(Equal(plant.NumVelocities()), name)
		}
	})

	It("does not leak its mask", func() {
		inds := evals["point"].ActiveInds()
		inds[0] = 0
		Expect(evals["point"].ActiveInds()).To(Equal([]int{1}))
	})

	It("matches dual-number gradients with its Jacobian", func() {
		dplant := newChain[autodiff.Dual](multibody.WithSlider(2))
		dctx, err := multibody.NewContext[autodiff.Dual](dplant, autodiff.Seed(q), autodiff.FromFloats[autodiff.Dual](v), nil)
		Expect(err).NotTo(HaveOccurred())

		for name, de := range sampleEvaluators(dplant) {
			phi := de.EvalFull(dctx)
			grads := autodiff.Gradients(phi, len(q))
			want := matrixValues(evals[name].EvalFullJacobian(ctx))
			for r := range want {
				expectClose(grads[r], want[r], 1e-12)
			}
			expectClose(phi.Values(), evals[name].EvalFull(ctx).Values(), 1e-14)
		}
	})

	It("matches finite differences of J*v with J̇*v", func() {
		const h = 1e-6
		jv := func(e Evaluator[R], step float64) []float64 {
			qh := make([]float64, len(q))
			for i := range q {
				qh[i] = q[i] + step*v[i]
			}
			c := contextAt[R](plant, qh, v)
			return e.EvalFullJacobian(c).MulVec(linalg.VectorOf[R](v...)).Values()
		}

		for name, e := range evals {
			plus, minus := jv(e, h), jv(e, -h)
			fd := make([]float64, len(plus))
			for i := range fd {
				fd[i] = (plus[i] - minus[i]) / (2 * h)
			}
			By(name)
			expectClose(e.EvalFullJacobianDotTimesV(ctx).Values(), fd, 1e-6)
		}
	})

	It("holds a pinned point at its offset", func() {
		pin, err := NewPointPositionEvaluator[R](plant, 3, multibody.Point{0.6, 0}, WithOffset(tipAt(plant, q)))
		Expect(err).NotTo(HaveOccurred())
		expectClose(pin.EvalFull(ctx).Values(), []float64{0, 0}, 1e-14)
	})

	It("measures distance along the rotated view", func() {
		tip := tipAt(plant, q)
		e, err := NewPointPositionEvaluator[R](plant, 3, multibody.Point{0.6, 0},
			WithView(math.Pi/2), WithOffset(multibody.Point{tip[0] - 1, tip[1]}))
		Expect(err).NotTo(HaveOccurred())
		// World x offset of +1 reads as -1 along the rotated y axis.
		expectClose(e.EvalFull(ctx).Values(), []float64{0, -1}, 1e-12)
	})

	It("locks a joint", func() {
		lock, err := NewLockedJointEvaluator[R](plant, 2, -1.0)
		Expect(err).NotTo(HaveOccurred())
		expectClose(lock.EvalFull(ctx).Values(), []float64{-0.1}, 1e-14)
		expectClose(lock.EvalFullJacobian(ctx).Row(0).Values(), []float64{0, 0, 1, 0}, 0)
	})

	DescribeTable("rejects invalid construction",
		func(build func(p *multibody.PlanarChain[R]) error, want error) {
			Expect(build(plant)).To(MatchError(want))
		},
		Entry("unsorted mask", func(p *multibody.PlanarChain[R]) error {
			_, err := NewPointPositionEvaluator[R](p, 1, multibody.Point{}, WithActive(1, 0))
			return err
		}, ErrInvalidEvaluator),
		Entry("mask out of range", func(p *multibody.PlanarChain[R]) error {
			_, err := NewPointPositionEvaluator[R](p, 1, multibody.Point{}, WithActive(2))
			return err
		}, ErrInvalidEvaluator),
		Entry("unknown frame", func(p *multibody.PlanarChain[R]) error {
			_, err := NewPointPositionEvaluator[R](p, 4, multibody.Point{})
			return err
		}, multibody.ErrUnknownFrame),
		Entry("zero distance", func(p *multibody.PlanarChain[R]) error {
			_, err := NewDistanceEvaluator[R](p, 1, multibody.Point{}, 2, multibody.Point{}, 0)
			return err
		}, ErrInvalidEvaluator),
		Entry("manifold weight shape", func(p *multibody.PlanarChain[R]) error {
			_, err := NewManifoldEvaluator[R](p, p.CreateContext(), []int{1, 2}, manifoldWeights)
			return err
		}, ErrDimensionMismatch),
		Entry("manifold coordinate", func(p *multibody.PlanarChain[R]) error {
			_, err := NewManifoldEvaluator[R](p, p.CreateContext(), []int{1, 2, 4}, manifoldWeights)
			return err
		}, ErrInvalidEvaluator),
		Entry("joint coefficients", func(p *multibody.PlanarChain[R]) error {
			_, err := NewJointEvaluator[R](p, [][]float64{{1, 0}}, []float64{0})
			return err
		}, ErrDimensionMismatch),
		Entry("locked joint index", func(p *multibody.PlanarChain[R]) error {
			_, err := NewLockedJointEvaluator[R](p, 7, 0)
			return err
		}, ErrInvalidEvaluator),
	)

	It("requires q̇ = v on manifold coordinates", func() {
		scaled := scaledMapPlant{plant}
		_, err := NewManifoldEvaluator[R](scaled, plant.CreateContext(), []int{1, 2, 3}, manifoldWeights)
		Expect(err).To(MatchError(ErrInvalidEvaluator))
	})
})

// scaledMapPlant reports q̇ = 2v.
type scaledMapPlant struct {
	*multibody.PlanarChain[R]
}

func (p scaledMapPlant) KinematicMap(ctx *multibody.Context[R]) linalg.Matrix[R] {
	return linalg.Identity[R](p.NumPositions()).Scale(2)
}
