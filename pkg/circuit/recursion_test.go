package circuit

import (
	"context"
	"errors"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/ivm/pkg/dbsp"
)

// expectChainRule runs a circuit on a sequence of input snapshots and its incremental version on
// the input deltas, and checks that the output deltas integrate to the output snapshots.
func expectChainRule(build func() *Circuit, snapshots []map[string]*dbsp.DocumentZSet) {
	GinkgoHelper()
	snap, err := NewExecutor(build(), Options{Logger: GinkgoLogr})
	Expect(err).NotTo(HaveOccurred())
	defer snap.Close()

	inc, err := Incrementalize(build())
	Expect(err).NotTo(HaveOccurred())
	delta, err := NewExecutor(inc, Options{Logger: GinkgoLogr})
	Expect(err).NotTo(HaveOccurred())
	defer delta.Close()

	prev := map[string]*dbsp.DocumentZSet{}
	integral := map[string]*dbsp.DocumentZSet{}
	for t, inputs := range snapshots {
		want := step(snap, inputs)

		deltas := map[string]*dbsp.DocumentZSet{}
		for name, z := range inputs {
			p, ok := prev[name]
			if !ok {
				p = dbsp.NewDocumentZSet()
			}
			deltas[name] = z.Subtract(p)
			prev[name] = z
		}
		got := step(delta, deltas)

		for name, w := range want {
			acc, ok := integral[name]
			if !ok {
				acc = dbsp.NewDocumentZSet()
			}
			acc = acc.Add(got[name])
			integral[name] = acc
			Expect(acc.Equal(w)).To(BeTrue(), "tick %d output %s: got %s, want %s", t, name, acc, w)
		}
	}
}

// evenOdd builds a mutually recursive query: the pairs connected by paths of odd and of even
// length.
func evenOdd() *Circuit {
	c := New("evenodd")
	in := c.Input("edges")
	c.Recursive("parity", func(s *Scope) error {
		e := s.Import(in)
		odd, even := s.Variable("odd"), s.Variable("even")
		lk, rk, eval := pathJoin()
		nextOdd := e.Plus(even.Join(e, lk, rk, eval)).Distinct()
		nextEven := odd.Join(e, lk, rk, eval).Distinct()
		s.Bind(odd, nextOdd)
		s.Bind(even, nextEven)
		c.Output("odd", s.Export(nextOdd))
		c.Output("even", s.Export(nextEven))
		return nil
	})
	return c
}

// counter builds a scope without a fixed point: it keeps incrementing a number.
func counter() *Circuit {
	c := New("counter")
	in := c.Input("seed")
	c.Recursive("count", func(s *Scope) error {
		x := s.Variable("x")
		inc := x.Map(dbsp.NewMapper("inc", func(d dbsp.Document) (dbsp.Document, error) {
			return dbsp.Document{"n": d["n"].(int64) + 1}, nil
		}))
		next := s.Import(in).Plus(inc).Distinct()
		s.Bind(x, next)
		c.Output("numbers", s.Export(next))
		return nil
	})
	return c
}

var _ = Describe("Recursive scopes", func() {
	Describe("transitive closure on snapshots", func() {
		It("should compute reachability", func() {
			exec, err := NewExecutor(transitiveClosure(), Options{})
			Expect(err).NotTo(HaveOccurred())
			defer exec.Close()

			out := step(exec, map[string]*dbsp.DocumentZSet{"edges": edges([2]int{1, 2}, [2]int{2, 3})})
			expectZSet(out["paths"], edges([2]int{1, 2}, [2]int{2, 3}, [2]int{1, 3}))
			rounds, ok := exec.Rounds("reach")
			Expect(ok).To(BeTrue())
			Expect(rounds).To(Equal(2))
		})

		It("should converge immediately on empty input", func() {
			exec, err := NewExecutor(transitiveClosure(), Options{})
			Expect(err).NotTo(HaveOccurred())
			defer exec.Close()

			out := step(exec, nil)
			Expect(out["paths"].IsZero()).To(BeTrue())
			rounds, _ := exec.Rounds("reach")
			Expect(rounds).To(Equal(0))
		})

		It("should handle cycles", func() {
			exec, err := NewExecutor(transitiveClosure(), Options{})
			Expect(err).NotTo(HaveOccurred())
			defer exec.Close()

			out := step(exec, map[string]*dbsp.DocumentZSet{"edges": edges([2]int{1, 2}, [2]int{2, 1})})
			expectZSet(out["paths"], edges([2]int{1, 2}, [2]int{2, 1}, [2]int{1, 1}, [2]int{2, 2}))
		})
	})

	Describe("transitive closure on deltas", func() {
		var exec *Executor

		BeforeEach(func() {
			inc, err := Incrementalize(transitiveClosure())
			Expect(err).NotTo(HaveOccurred())
			exec, err = NewExecutor(inc, Options{Logger: GinkgoLogr})
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() { exec.Close() })

		It("should maintain reachability under insertions and deletions", func() {
			out := step(exec, map[string]*dbsp.DocumentZSet{"edges": edges([2]int{1, 2}, [2]int{2, 3})})
			expectZSet(out["paths"], edges([2]int{1, 2}, [2]int{2, 3}, [2]int{1, 3}))
			rounds, _ := exec.Rounds("reach")
			Expect(rounds).To(Equal(2))

			out = step(exec, map[string]*dbsp.DocumentZSet{"edges": zs(edge(2, 3), -1)})
			expectZSet(out["paths"], zs(edge(2, 3), -1, edge(1, 3), -1))

			out = step(exec, map[string]*dbsp.DocumentZSet{"edges": zs(edge(2, 3), 1)})
			expectZSet(out["paths"], zs(edge(2, 3), 1, edge(1, 3), 1))
		})

		It("should extend paths incrementally", func() {
			step(exec, map[string]*dbsp.DocumentZSet{"edges": edges([2]int{1, 2})})
			out := step(exec, map[string]*dbsp.DocumentZSet{"edges": edges([2]int{2, 3})})
			expectZSet(out["paths"], edges([2]int{2, 3}, [2]int{1, 3}))
			out = step(exec, map[string]*dbsp.DocumentZSet{"edges": edges([2]int{3, 4})})
			expectZSet(out["paths"], edges([2]int{3, 4}, [2]int{2, 4}, [2]int{1, 4}))
		})

		It("should skip the scope when nothing changes", func() {
			step(exec, map[string]*dbsp.DocumentZSet{"edges": edges([2]int{1, 2})})
			out := step(exec, nil)
			Expect(out["paths"].IsZero()).To(BeTrue())
			rounds, _ := exec.Rounds("reach")
			Expect(rounds).To(Equal(0))
		})

		It("should roll back the rounds of a failed tick", func() {
			step(exec, map[string]*dbsp.DocumentZSet{"edges": edges([2]int{1, 2}, [2]int{2, 3})})
			_, err := exec.Step(context.Background(), map[string]*dbsp.DocumentZSet{"edges": zs(edge(3, 4), -1)})
			Expect(err).To(MatchError(dbsp.ErrOverDeletion))

			out := step(exec, map[string]*dbsp.DocumentZSet{"edges": zs(edge(1, 2), -1)})
			expectZSet(out["paths"], zs(edge(1, 2), -1, edge(1, 3), -1))
		})
	})

	It("should agree with snapshot evaluation on random graphs", func() {
		r := rand.New(rand.NewSource(GinkgoRandomSeed()))
		for i := 0; i < 10; i++ {
			var inputs []map[string]*dbsp.DocumentZSet
			for t := 0; t < 6; t++ {
				inputs = append(inputs, map[string]*dbsp.DocumentZSet{"edges": randomEdgeSet(r, 5, 6)})
			}
			expectChainRule(transitiveClosure, inputs)
		}
	})

	It("should support mutual recursion", func() {
		r := rand.New(rand.NewSource(GinkgoRandomSeed()))
		for i := 0; i < 5; i++ {
			var inputs []map[string]*dbsp.DocumentZSet
			for t := 0; t < 5; t++ {
				inputs = append(inputs, map[string]*dbsp.DocumentZSet{"edges": randomEdgeSet(r, 4, 5)})
			}
			expectChainRule(evenOdd, inputs)
		}
	})

	Describe("non-termination", func() {
		seed := func() map[string]*dbsp.DocumentZSet {
			return map[string]*dbsp.DocumentZSet{"seed": zs(doc("n", int64(0)), 1)}
		}

		It("should stop snapshot evaluation at the round limit", func() {
			exec, err := NewExecutor(counter(), Options{MaxFixpointRounds: 10})
			Expect(err).NotTo(HaveOccurred())
			defer exec.Close()

			_, err = exec.Step(context.Background(), seed())
			Expect(err).To(MatchError(dbsp.ErrNonTermination))
			var nte *dbsp.NonTerminationError
			Expect(errors.As(err, &nte)).To(BeTrue())
			Expect(nte.Scope).To(Equal("count"))
			Expect(nte.Rounds).To(Equal(10))
		})

		It("should stop incremental evaluation at the round limit", func() {
			inc, err := Incrementalize(counter())
			Expect(err).NotTo(HaveOccurred())
			exec, err := NewExecutor(inc, Options{MaxFixpointRounds: 10})
			Expect(err).NotTo(HaveOccurred())
			defer exec.Close()

			_, err = exec.Step(context.Background(), seed())
			Expect(err).To(MatchError(dbsp.ErrNonTermination))
			Expect(exec.Tick()).To(Equal(0))
		})
	})
})
