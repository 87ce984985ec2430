package circuit

import (
	"math/rand"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/ivm/pkg/dbsp"
)

// expectEquivalent runs two circuits side by side and compares their outputs at every tick.
func expectEquivalent(a, b *Circuit, ticks []map[string]*dbsp.DocumentZSet) {
	GinkgoHelper()
	ea, err := NewExecutor(a, Options{})
	Expect(err).NotTo(HaveOccurred())
	defer ea.Close()
	eb, err := NewExecutor(b, Options{})
	Expect(err).NotTo(HaveOccurred())
	defer eb.Close()

	for t, inputs := range ticks {
		oa, ob := step(ea, inputs), step(eb, inputs)
		Expect(ob).To(HaveLen(len(oa)))
		for name, z := range oa {
			Expect(ob[name].Equal(z)).To(BeTrue(), "tick %d output %s: got %s, want %s", t, name, ob[name], z)
		}
	}
}

func randomTicks(r *rand.Rand, n int) []map[string]*dbsp.DocumentZSet {
	ret := make([]map[string]*dbsp.DocumentZSet, n)
	for t := range ret {
		ret[t] = map[string]*dbsp.DocumentZSet{"rows": randomRows(r)}
	}
	return ret
}

func operatorNodes(c *Circuit) []*Node {
	var ret []*Node
	for _, n := range c.Nodes() {
		if n.Kind == OperatorNode {
			ret = append(ret, n)
		}
	}
	return ret
}

var _ = Describe("Optimize", func() {
	var r *rand.Rand

	BeforeEach(func() {
		r = rand.New(rand.NewSource(GinkgoRandomSeed()))
	})

	It("should cancel differentiation and integration", func() {
		build := func() *Circuit {
			c := New("cancel")
			in := c.Input("rows")
			c.Output("di", in.Integrate().Differentiate())
			c.Output("id", in.Differentiate().Integrate())
			return c
		}
		opt, err := Optimize(build(), GinkgoLogr)
		Expect(err).NotTo(HaveOccurred())
		Expect(operatorNodes(opt)).To(BeEmpty())
		in, _ := opt.InputNode("rows")
		n, _ := opt.OutputNode("di")
		Expect(n).To(BeIdenticalTo(in))

		expectEquivalent(build(), opt, randomTicks(r, 5))
	})

	It("should collapse repeated distincts", func() {
		build := func() *Circuit {
			c := New("distinct")
			c.Output("out", c.Input("rows").Distinct().Distinct().Distinct())
			return c
		}
		opt, err := Optimize(build(), logr.Discard())
		Expect(err).NotTo(HaveOccurred())
		Expect(operatorNodes(opt)).To(HaveLen(1))
		expectEquivalent(build(), opt, randomTicks(r, 5))
	})

	It("should collapse repeated distincts in incremental circuits", func() {
		build := func() *Circuit {
			c := New("distinct")
			c.Output("out", c.Input("rows").Distinct().Distinct())
			inc, err := Incrementalize(c)
			Expect(err).NotTo(HaveOccurred())
			return inc
		}
		opt, err := Optimize(build(), logr.Discard())
		Expect(err).NotTo(HaveOccurred())
		Expect(opt.Incremental()).To(BeTrue())
		ops := operatorNodes(opt)
		Expect(ops).To(HaveLen(1))
		Expect(ops[0].Op).To(BeAssignableToTypeOf(&dbsp.IncrementalDistinctOp{}))

		var ticks []map[string]*dbsp.DocumentZSet
		prev := dbsp.NewDocumentZSet()
		for _, t := range randomTicks(r, 5) {
			ticks = append(ticks, map[string]*dbsp.DocumentZSet{"rows": t["rows"].Subtract(prev)})
			prev = t["rows"]
		}
		expectEquivalent(build(), opt, ticks)
	})

	It("should fuse selections and projections", func() {
		build := func() *Circuit {
			c := New("fusion")
			c.Output("out", c.Input("rows").Filter(dbsp.NewFieldFilter("g", "a")).
				Map(dbsp.NewFieldProjection("v", "tags")).Map(dbsp.NewFieldProjection("v")))
			return c
		}
		opt, err := Optimize(build(), logr.Discard())
		Expect(err).NotTo(HaveOccurred())
		ops := operatorNodes(opt)
		Expect(ops).To(HaveLen(1))
		fused, ok := ops[0].Op.(*dbsp.SelectThenProjectionsOp)
		Expect(ok).To(BeTrue())
		Expect(fused.Selection()).NotTo(BeNil())
		Expect(fused.Projections()).To(HaveLen(2))
		Expect(opt.Levels()).To(HaveLen(2))

		expectEquivalent(build(), opt, randomTicks(r, 5))
	})

	It("should not fuse through shared intermediate results", func() {
		build := func() *Circuit {
			c := New("shared")
			sel := c.Input("rows").Filter(dbsp.NewFieldFilter("g", "a"))
			c.Output("sel", sel)
			c.Output("proj", sel.Map(dbsp.NewFieldProjection("v")))
			return c
		}
		opt, err := Optimize(build(), logr.Discard())
		Expect(err).NotTo(HaveOccurred())
		Expect(operatorNodes(opt)).To(HaveLen(2))
		n, _ := opt.OutputNode("proj")
		Expect(n.Op).To(BeAssignableToTypeOf(&dbsp.ProjectionOp{}))

		expectEquivalent(build(), opt, randomTicks(r, 3))
	})

	It("should prune nodes feeding no output", func() {
		c := New("dead")
		in := c.Input("rows")
		in.Map(dbsp.NewFieldProjection("v")).Distinct()
		c.Input("unused")
		c.Recursive("dead", func(s *Scope) error {
			x := s.Variable("x")
			next := s.Import(in).Plus(x).Distinct()
			s.Bind(x, next)
			s.Export(next)
			return nil
		})
		c.Output("out", in.Identity())

		opt, err := Optimize(c, logr.Discard())
		Expect(err).NotTo(HaveOccurred())
		Expect(opt.Nodes()).To(HaveLen(3))
		Expect(opt.Scopes()).To(BeEmpty())
		Expect(opt.InputNames()).To(ConsistOf("rows", "unused"))

		Expect(c.Nodes()).To(HaveLen(7))
		Expect(c.Scopes()).To(HaveLen(1))
	})

	It("should leave scope bodies and the source circuit unchanged", func() {
		c := transitiveClosure()
		Expect(c.Build()).To(Succeed())
		before := len(c.Nodes())

		opt, err := Optimize(c, logr.Discard())
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Nodes()).To(HaveLen(before))
		Expect(opt.Scopes()).To(HaveLen(1))
		Expect(opt.Scopes()[0].Nodes()).To(HaveLen(len(c.Scopes()[0].Nodes())))

		var ticks []map[string]*dbsp.DocumentZSet
		for i := 0; i < 4; i++ {
			ticks = append(ticks, map[string]*dbsp.DocumentZSet{"edges": randomEdgeSet(r, 5, 6)})
		}
		expectEquivalent(transitiveClosure(), opt, ticks)
	})
})
