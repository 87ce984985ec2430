package dbsp

import (
	"errors"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// snapshotRun applies a snapshot operator to every tick of its input streams.
func snapshotRun(op Operator, inputs ...[]*DocumentZSet) []*DocumentZSet {
	GinkgoHelper()
	out := make([]*DocumentZSet, len(inputs[0]))
	for t := range out {
		args := make([]*DocumentZSet, len(inputs))
		for i := range inputs {
			args[i] = inputs[i][t]
		}
		res, err := op.Process(args...)
		Expect(err).NotTo(HaveOccurred())
		out[t] = res
	}
	return out
}

// expectIncremental checks that the delta form of an operator fed with the input deltas emits the
// deltas of the snapshot outputs.
func expectIncremental(op Operator, snapshots ...[]*DocumentZSet) {
	GinkgoHelper()
	inc, err := IncrementalizeOp(op)
	Expect(err).NotTo(HaveOccurred())

	streams := make([]Stream[*DocumentZSet], len(snapshots))
	for i, s := range snapshots {
		streams[i] = ZSetStream(deltas(s)...)
	}
	got, err := RunOperator(inc, streams...)
	Expect(err).NotTo(HaveOccurred())

	want := Differentiate(ZSetStream(snapshotRun(op, snapshots...)...))
	expectZSets(got, want.Take(len(got)))
}

var _ = Describe("Operators", func() {
	var r *rand.Rand

	BeforeEach(func() {
		r = rand.New(rand.NewSource(GinkgoRandomSeed()))
	})

	Describe("linear operators", func() {
		It("should project", func() {
			op := NewProjection(NewFieldProjection("name"))
			out, err := op.Process(zs(doc("name", "a", "x", int64(1)), 1, doc("name", "a", "x", int64(2)), 2))
			Expect(err).NotTo(HaveOccurred())
			expectZSet(out, zs(doc("name", "a"), 3))
		})

		It("should select", func() {
			op := NewSelection(NewFieldFilter("g", "g1"))
			out, err := op.Process(zs(doc("g", "g1"), -2, doc("g", "g2"), 1))
			Expect(err).NotTo(HaveOccurred())
			expectZSet(out, zs(doc("g", "g1"), -2))
		})

		It("should unwind arrays", func() {
			op := NewUnwind(NewFieldExtractor("tags"), NewArrayElementTransformer("tags", "tag"))
			out, err := op.Process(zs(doc("id", int64(1), "tags", []any{"a", "b"}), 2, doc("id", int64(2)), 1))
			Expect(err).NotTo(HaveOccurred())
			expectZSet(out, zs(doc("id", int64(1), "tag", "a"), 2, doc("id", int64(1), "tag", "b"), 2))
		})

		It("should add, subtract and negate", func() {
			a, b := zs(doc("v", int64(1)), 1), zs(doc("v", int64(1)), 2, doc("v", int64(2)), 1)
			out, err := NewPlus(2).Process(a, b)
			Expect(err).NotTo(HaveOccurred())
			expectZSet(out, a.Add(b))
			out, err = NewSubtract().Process(a, b)
			Expect(err).NotTo(HaveOccurred())
			expectZSet(out, a.Subtract(b))
			out, err = NewNegate().Process(a)
			Expect(err).NotTo(HaveOccurred())
			expectZSet(out, a.Negate())
		})

		It("should be their own delta operators", func() {
			for _, op := range []Operator{
				NewProjection(NewFieldProjection("g")),
				NewSelection(NewFieldFilter("g", "g0")),
				NewPlus(2),
			} {
				inc, err := IncrementalizeOp(op)
				Expect(err).NotTo(HaveOccurred())
				Expect(inc).To(BeIdenticalTo(op))
			}
		})

		It("should satisfy the linearity law", func() {
			op := NewProjection(NewMapper("g-only", func(d Document) (Document, error) {
				return Document{"g": d["v"].(int64) % 2}, nil
			}))
			for i := 0; i < 30; i++ {
				a, b := randomZSet(r, 6, 3), randomZSet(r, 6, 3)
				ab, err := op.Process(a.Add(b))
				Expect(err).NotTo(HaveOccurred())
				oa, err := op.Process(a)
				Expect(err).NotTo(HaveOccurred())
				ob, err := op.Process(b)
				Expect(err).NotTo(HaveOccurred())
				expectZSet(ab, oa.Add(ob))
			}
		})

		It("should check the arity", func() {
			_, err := NewPlus(2).Process(NewDocumentZSet())
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("fused selection and projections", func() {
		It("should equal the unfused chain", func() {
			sel := NewFieldFilter("g", "g1")
			p1 := NewFieldProjection("v", "g")
			p2 := NewFieldProjection("v")
			fused, err := NewSelectThenProjections(sel, []Evaluator{p1, p2})
			Expect(err).NotTo(HaveOccurred())
			Expect(fused.Name()).To(Equal("[σ→π^2]"))

			for _, s := range randomSnapshots(r, 5, 8) {
				got, err := fused.Process(s)
				Expect(err).NotTo(HaveOccurred())
				want := snapshotRun(NewProjection(p2), snapshotRun(NewProjection(p1), snapshotRun(NewSelection(sel), []*DocumentZSet{s})))[0]
				expectZSet(got, want)
			}
		})

		It("should require a projection", func() {
			_, err := NewSelectThenProjections(NewFieldFilter("g", "g1"), nil)
			Expect(err).To(MatchError(ErrBuild))
		})
	})

	Describe("join", func() {
		var join *JoinOp

		BeforeEach(func() {
			join = NewJoin(NewFieldExtractor("dst"), NewFieldExtractor("src"),
				NewMapper("path", func(d Document) (Document, error) {
					l, rt := d["left"].(Document), d["right"].(Document)
					return Document{"src": l["src"], "dst": rt["dst"]}, nil
				}), nil)
		})

		It("should multiply weights", func() {
			out, err := join.Process(zs(edge(1, 2), 2), zs(edge(2, 3), -3))
			Expect(err).NotTo(HaveOccurred())
			expectZSet(out, zs(edge(1, 3), -6))
		})

		It("should merge documents without an evaluator", func() {
			j := NewJoin(NewFieldExtractor("k"), NewFieldExtractor("k"), nil, nil)
			out, err := j.Process(zs(doc("k", int64(1), "a", "x"), 1), zs(doc("k", int64(1), "b", "y"), 1, doc("k", int64(2)), 1))
			Expect(err).NotTo(HaveOccurred())
			expectZSet(out, zs(doc("k", int64(1), "a", "x", "b", "y"), 1))
		})

		It("should compute the Cartesian product without keys", func() {
			j := NewJoin(nil, nil, nil, nil)
			out, err := j.Process(zs(doc("a", int64(1)), 1, doc("a", int64(2)), 1), zs(doc("b", int64(1)), 2))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Size()).To(Equal(4))
		})

		It("should never match absent keys", func() {
			j := NewJoin(NewFieldExtractor("k"), NewFieldExtractor("k"), nil, nil)
			out, err := j.Process(zs(doc("a", int64(1)), 1), zs(doc("b", int64(1)), 1))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.IsZero()).To(BeTrue())
		})

		It("should be bilinear", func() {
			for i := 0; i < 20; i++ {
				a, b, c := randomEdges(r), randomEdges(r), randomEdges(r)
				lhs, err := join.Process(a.Add(b), c)
				Expect(err).NotTo(HaveOccurred())
				ac, err := join.Process(a, c)
				Expect(err).NotTo(HaveOccurred())
				bc, err := join.Process(b, c)
				Expect(err).NotTo(HaveOccurred())
				expectZSet(lhs, ac.Add(bc))
			}
		})

		It("should follow the delta law with the hash-indexed delta join", func() {
			left, right := make([]*DocumentZSet, 6), make([]*DocumentZSet, 6)
			for t := range left {
				left[t], right[t] = randomEdges(r).Distinct(), randomEdges(r).Distinct()
			}
			expectIncremental(join, left, right)
		})

		It("should follow the delta law with the generic bilinear expansion", func() {
			left, right := make([]*DocumentZSet, 6), make([]*DocumentZSet, 6)
			for t := range left {
				left[t], right[t] = randomEdges(r).Distinct(), randomEdges(r).Distinct()
			}
			inc := NewIncrementalBilinear(join)
			got, err := RunOperator(inc, ZSetStream(deltas(left)...), ZSetStream(deltas(right)...))
			Expect(err).NotTo(HaveOccurred())
			want := Differentiate(ZSetStream(snapshotRun(join, left, right)...))
			expectZSets(got, want.Take(len(got)))
		})

		It("should discard the staged indexes on rollback", func() {
			inc, err := join.DeltaOperator()
			Expect(err).NotTo(HaveOccurred())
			st := inc.(StatefulOperator)

			_, err = inc.Process(zs(edge(1, 2), 1), NewDocumentZSet())
			Expect(err).NotTo(HaveOccurred())
			st.Rollback()

			out, err := inc.Process(NewDocumentZSet(), zs(edge(2, 3), 1))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.IsZero()).To(BeTrue())
		})
	})

	Describe("distinct", func() {
		It("should incrementalize", func() {
			for i := 0; i < 10; i++ {
				expectIncremental(NewDistinct(), randomSnapshots(r, 6, 6))
			}
		})

		It("should emit only changes of membership", func() {
			inc, err := NewDistinct().DeltaOperator()
			Expect(err).NotTo(HaveOccurred())
			a := doc("a", int64(1))
			out, err := RunOperator(inc, ZSetStream(zs(a, 1), zs(a, 1), zs(a, -2)))
			Expect(err).NotTo(HaveOccurred())
			expectZSet(out[0], zs(a, 1))
			Expect(out[1].IsZero()).To(BeTrue())
			expectZSet(out[2], zs(a, -1))
		})
	})

	Describe("aggregates", func() {
		aggregate := func(fn AggregateFunc) *AggregateOp {
			return NewAggregate(NewFieldExtractor("g"), NewFieldExtractor("v"), fn, "g", "result")
		}

		It("should compute grouped results", func() {
			in := zs(doc("g", "a", "v", int64(1)), 2, doc("g", "a", "v", int64(5)), 1, doc("g", "b", "v", int64(3)), 1)

			out, err := aggregate(Sum()).Process(in)
			Expect(err).NotTo(HaveOccurred())
			expectZSet(out, zs(doc("g", "a", "result", int64(7)), 1, doc("g", "b", "result", int64(3)), 1))

			out, err = aggregate(Count()).Process(in)
			Expect(err).NotTo(HaveOccurred())
			expectZSet(out, zs(doc("g", "a", "result", int64(3)), 1, doc("g", "b", "result", int64(1)), 1))

			out, err = aggregate(Min()).Process(in)
			Expect(err).NotTo(HaveOccurred())
			expectZSet(out, zs(doc("g", "a", "result", int64(1)), 1, doc("g", "b", "result", int64(3)), 1))

			out, err = aggregate(Max()).Process(in)
			Expect(err).NotTo(HaveOccurred())
			expectZSet(out, zs(doc("g", "a", "result", int64(5)), 1, doc("g", "b", "result", int64(3)), 1))

			out, err = aggregate(Collect()).Process(in)
			Expect(err).NotTo(HaveOccurred())
			expectZSet(out, zs(doc("g", "a", "result", []any{int64(1), int64(1), int64(5)}), 1,
				doc("g", "b", "result", []any{int64(3)}), 1))
		})

		It("should aggregate globally without a key", func() {
			op := NewAggregate(nil, NewFieldExtractor("v"), Sum(), "", "total")
			out, err := op.Process(zs(doc("v", 1.5), 1, doc("v", int64(2)), 1))
			Expect(err).NotTo(HaveOccurred())
			expectZSet(out, zs(doc("total", 3.5), 1))
		})

		It("should incrementalize", func() {
			for _, fn := range []AggregateFunc{Sum(), Count(), Min(), Max(), Collect()} {
				for i := 0; i < 5; i++ {
					expectIncremental(aggregate(fn), randomSnapshots(r, 6, 6))
				}
			}
		})

		It("should find the next minimum when the minimum is deleted", func() {
			inc, err := aggregate(Min()).DeltaOperator()
			Expect(err).NotTo(HaveOccurred())
			out, err := RunOperator(inc, ZSetStream(
				zs(doc("g", "a", "v", int64(1)), 1, doc("g", "a", "v", int64(4)), 1, doc("g", "a", "v", int64(9)), 1),
				zs(doc("g", "a", "v", int64(1)), -1),
				zs(doc("g", "a", "v", int64(4)), -1, doc("g", "a", "v", int64(9)), -1),
			))
			Expect(err).NotTo(HaveOccurred())
			expectZSet(out[0], zs(doc("g", "a", "result", int64(1)), 1))
			expectZSet(out[1], zs(doc("g", "a", "result", int64(1)), -1, doc("g", "a", "result", int64(4)), 1))
			expectZSet(out[2], zs(doc("g", "a", "result", int64(4)), -1))
		})

		It("should reject the deletion of an absent member", func() {
			for _, fn := range []AggregateFunc{Min(), Max()} {
				inc, err := aggregate(fn).DeltaOperator()
				Expect(err).NotTo(HaveOccurred())
				_, err = RunOperator(inc, ZSetStream(
					zs(doc("g", "a", "v", int64(1)), 1),
					zs(doc("g", "a", "v", int64(2)), -1),
				))
				Expect(err).To(MatchError(ErrOverDeletion))
				var ode *OverDeletionError
				Expect(errors.As(err, &ode)).To(BeTrue())
				Expect(ode.Retained).To(Equal(0))
				Expect(ode.Delta).To(Equal(-1))
				Expect(ode.Document).To(Equal(doc("g", "a", "v", int64(2))))
			}
		})

		It("should reject groups whose weight goes negative", func() {
			for _, fn := range []AggregateFunc{Sum(), Count(), Collect()} {
				inc, err := aggregate(fn).DeltaOperator()
				Expect(err).NotTo(HaveOccurred())
				_, err = RunOperator(inc, ZSetStream(
					zs(doc("g", "a", "v", int64(1)), 1),
					zs(doc("g", "a", "v", int64(1)), -1, doc("g", "a", "v", int64(2)), -1),
				))
				Expect(err).To(MatchError(ErrOverDeletion), fn.Name())
				var ode *OverDeletionError
				Expect(errors.As(err, &ode)).To(BeTrue())
				Expect(ode.Retained).To(Equal(0))
				Expect(ode.Delta).To(Equal(-1))
				Expect(ode.Operator).To(ContainSubstring(fn.Name()))

				_, err = aggregate(fn).Process(zs(doc("g", "a", "v", int64(1)), -1))
				Expect(err).To(MatchError(ErrOverDeletion), fn.Name())
			}
		})

		It("should apply insertions before deletions", func() {
			// the deleted document sorts before the inserted one
			in := zs(doc("g", "a", "v", int64(1)), -1, doc("g", "a", "v", int64(2)), 2)

			out, err := aggregate(Sum()).Process(in)
			Expect(err).NotTo(HaveOccurred())
			expectZSet(out, zs(doc("g", "a", "result", int64(3)), 1))

			out, err = aggregate(Count()).Process(in)
			Expect(err).NotTo(HaveOccurred())
			expectZSet(out, zs(doc("g", "a", "result", int64(1)), 1))
		})

		It("should keep the retained state of a failed tick", func() {
			inc, err := aggregate(Max()).DeltaOperator()
			Expect(err).NotTo(HaveOccurred())
			st := inc.(StatefulOperator)

			_, err = inc.Process(zs(doc("g", "a", "v", int64(3)), 1))
			Expect(err).NotTo(HaveOccurred())
			st.Commit()

			_, err = inc.Process(zs(doc("g", "a", "v", int64(7)), 1))
			Expect(err).NotTo(HaveOccurred())
			st.Rollback()

			out, err := inc.Process(zs(doc("g", "a", "v", int64(5)), 1))
			Expect(err).NotTo(HaveOccurred())
			expectZSet(out, zs(doc("g", "a", "result", int64(3)), -1, doc("g", "a", "result", int64(5)), 1))
		})
	})

	Describe("incrementalization", func() {
		It("should fall back to D∘Op∘I for non-linear operators without a delta operator", func() {
			op := &opaqueDistinct{BaseOp: NewBaseOp("opaque", 1)}
			inc, err := IncrementalizeOp(op)
			Expect(err).NotTo(HaveOccurred())
			Expect(inc).To(BeAssignableToTypeOf(&LiftedNonLinearOp{}))
			for i := 0; i < 5; i++ {
				expectIncremental(op, randomSnapshots(r, 6, 6))
			}
		})

		It("should clone stateful linear operators", func() {
			i := NewIntegrator()
			inc, err := IncrementalizeOp(i)
			Expect(err).NotTo(HaveOccurred())
			Expect(inc).NotTo(BeIdenticalTo(i))
			Expect(inc).To(BeAssignableToTypeOf(i))
		})
	})
})

// opaqueDistinct is a non-linear operator that does not know its delta operator.
type opaqueDistinct struct {
	BaseOp
}

func (op *opaqueDistinct) OpType() OperatorType { return OpTypeNonLinear }

func (op *opaqueDistinct) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := op.validateInputs(inputs); err != nil {
		return nil, err
	}
	return inputs[0].Distinct(), nil
}

// randomEdges draws a small random graph with weights in [-2, 2].
func randomEdges(r *rand.Rand) *DocumentZSet {
	z := NewDocumentZSet()
	for i := 0; i < 6; i++ {
		w := r.Intn(5) - 2
		if w != 0 {
			Expect(z.AddDocumentMutate(edge(r.Intn(4), r.Intn(4)), w)).To(Succeed())
		}
	}
	return z
}
