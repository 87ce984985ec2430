package circuit

import (
	"github.com/go-logr/logr"

	"github.com/l7mp/ivm/pkg/dbsp"
)

// maxRewriteIterations bounds the number of passes of the rewrite engine.
const maxRewriteIterations = 20

// rule is a local rewrite of the top level of an unbuilt circuit.
type rule interface {
	Name() string
	// Rewrite applies the rule at most once and reports the rewritten node, nil if the rule did
	// not match.
	Rewrite(c *Circuit) *Node
}

func defaultRules() []rule {
	return []rule{
		&streamCancellationRule{},
		&distinctIdempotenceRule{},
		&projectionFusionRule{},
	}
}

// Optimize returns an equivalent circuit with redundant operators removed: D∘I and I∘D pairs
// cancel, repeated distincts collapse, chains of selections and projections fuse into a single
// operator and nodes that feed no output are dropped. Scope bodies are left unchanged. The source
// circuit is built if it is not built yet and is left unchanged.
func Optimize(c *Circuit, log logr.Logger) (*Circuit, error) {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	if err := c.Build(); err != nil {
		return nil, err
	}

	r, _, err := rebuild(c, c.name, c.incremental, func(n *Node) (dbsp.Operator, error) {
		if cl, ok := n.Op.(dbsp.Cloner); ok {
			return cl.Clone(), nil
		}
		return n.Op, nil
	})
	if err != nil {
		return nil, err
	}

	rules := defaultRules()
	for i := 0; i < maxRewriteIterations; i++ {
		changed := false
		for _, rl := range rules {
			if n := rl.Rewrite(r); n != nil {
				log.V(2).Info("rewrite", "circuit", c.name, "rule", rl.Name(), "node", n.ID)
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	pruned := r.prune()
	if len(pruned) > 0 {
		log.V(2).Info("pruned dead nodes", "circuit", c.name, "nodes", pruned)
	}

	if err := r.Build(); err != nil {
		return nil, err
	}
	log.V(1).Info("optimized circuit", "circuit", c.name, "nodes-before", len(c.nodes),
		"nodes-after", len(r.nodes))
	return r, nil
}

// consumers returns the top-level nodes reading each node.
func (c *Circuit) consumers() map[*Node][]*Node {
	ret := map[*Node][]*Node{}
	for _, n := range c.nodes {
		for _, in := range n.Inputs {
			ret[in] = append(ret[in], n)
		}
	}
	return ret
}

func (c *Circuit) isOutput(n *Node) bool {
	for _, o := range c.outputs {
		if o == n {
			return true
		}
	}
	return false
}

// replaceUses redirects every reader of old, outputs included, to read from n.
func (c *Circuit) replaceUses(old, n *Node) {
	for _, m := range c.nodes {
		for i, in := range m.Inputs {
			if in == old {
				m.Inputs[i] = n
			}
		}
	}
	for name, o := range c.outputs {
		if o == old {
			c.outputs[name] = n
		}
	}
}

// bypass removes a node and redirects its readers to n.
func (c *Circuit) bypass(old, n *Node) {
	c.replaceUses(old, n)
	nodes := c.nodes[:0]
	for _, m := range c.nodes {
		if m == old {
			continue
		}
		m.index = len(nodes)
		nodes = append(nodes, m)
	}
	c.nodes = nodes
}

// prune removes the top-level nodes no output depends on. Inputs are always kept.
func (c *Circuit) prune() []string {
	live := map[*Node]bool{}
	var mark func(n *Node)
	mark = func(n *Node) {
		if live[n] {
			return
		}
		live[n] = true
		for _, in := range n.Inputs {
			mark(in)
		}
	}
	for _, name := range c.outNames {
		mark(c.outputs[name])
	}

	var pruned []string
	nodes := c.nodes[:0]
	for _, n := range c.nodes {
		if n.Kind != InputNode && !live[n] {
			pruned = append(pruned, n.ID)
			continue
		}
		n.index = len(nodes)
		nodes = append(nodes, n)
	}
	c.nodes = nodes

	scopes := c.scopes[:0]
	for _, s := range c.scopes {
		if live[s.node] {
			scopes = append(scopes, s)
		}
	}
	c.scopes = scopes
	return pruned
}

// streamCancellationRule removes D∘I and I∘D pairs: differentiation and integration are inverses.
type streamCancellationRule struct{}

func (r *streamCancellationRule) Name() string { return "StreamCancellation" }

func (r *streamCancellationRule) Rewrite(c *Circuit) *Node {
	for _, n := range c.nodes {
		if n.Kind != OperatorNode {
			continue
		}
		in := n.Inputs[0]
		if in.Kind != OperatorNode {
			continue
		}
		_, outerD := n.Op.(*dbsp.DifferentiatorOp)
		_, outerI := n.Op.(*dbsp.IntegratorOp)
		_, innerD := in.Op.(*dbsp.DifferentiatorOp)
		_, innerI := in.Op.(*dbsp.IntegratorOp)
		if (outerD && innerI) || (outerI && innerD) {
			c.bypass(n, in.Inputs[0])
			return n
		}
	}
	return nil
}

// distinctIdempotenceRule collapses distinct∘distinct into a single distinct.
type distinctIdempotenceRule struct{}

func (r *distinctIdempotenceRule) Name() string { return "DistinctIdempotence" }

func isDistinct(n *Node) bool {
	if n.Kind != OperatorNode {
		return false
	}
	switch n.Op.(type) {
	case *dbsp.DistinctOp, *dbsp.IncrementalDistinctOp:
		return true
	}
	return false
}

func (r *distinctIdempotenceRule) Rewrite(c *Circuit) *Node {
	for _, n := range c.nodes {
		if isDistinct(n) && isDistinct(n.Inputs[0]) {
			c.bypass(n, n.Inputs[0])
			return n
		}
	}
	return nil
}

// projectionFusionRule fuses a projection with the selection or projections feeding it, provided
// the intermediate result is read by no one else.
type projectionFusionRule struct{}

func (r *projectionFusionRule) Name() string { return "ProjectionFusion" }

// fusible returns the selection and projection chain of a node that can be fused with a
// downstream projection.
func fusible(n *Node) (dbsp.Evaluator, []dbsp.Evaluator, bool) {
	if n.Kind != OperatorNode {
		return nil, nil, false
	}
	switch op := n.Op.(type) {
	case *dbsp.SelectionOp:
		return op.Evaluator(), nil, true
	case *dbsp.ProjectionOp:
		return nil, []dbsp.Evaluator{op.Evaluator()}, true
	case *dbsp.SelectThenProjectionsOp:
		return op.Selection(), op.Projections(), true
	}
	return nil, nil, false
}

func (r *projectionFusionRule) Rewrite(c *Circuit) *Node {
	consumers := c.consumers()
	for _, n := range c.nodes {
		if n.Kind != OperatorNode {
			continue
		}
		proj, ok := n.Op.(*dbsp.ProjectionOp)
		if !ok {
			continue
		}
		in := n.Inputs[0]
		sel, projs, ok := fusible(in)
		if !ok || len(consumers[in]) != 1 || c.isOutput(in) {
			continue
		}

		fused, err := dbsp.NewSelectThenProjections(sel, append(projs, proj.Evaluator()))
		if err != nil {
			continue
		}
		n.Op = fused
		n.Inputs = []*Node{in.Inputs[0]}
		return n
	}
	return nil
}
