package circuit

import (
	"fmt"

	"github.com/l7mp/ivm/pkg/dbsp"
)

// Stream is a handle to the output of a node. Palette methods add a node consuming the stream
// and return the handle of the new node's output.
type Stream struct {
	c    *Circuit
	node *Node
}

// Node returns the node producing the stream.
func (s *Stream) Node() *Node { return s.node }

// Apply adds a node running an arbitrary operator on this stream and the given other streams.
func (s *Stream) Apply(op dbsp.Operator, others ...*Stream) *Stream {
	inputs := append([]*Stream{s}, others...)
	return s.c.apply(op, inputs...)
}

// Map adds a projection π.
func (s *Stream) Map(eval dbsp.Evaluator) *Stream { return s.Apply(dbsp.NewProjection(eval)) }

// Filter adds a selection σ.
func (s *Stream) Filter(eval dbsp.Evaluator) *Stream { return s.Apply(dbsp.NewSelection(eval)) }

// FlatMap adds an unwind op emitting one document per element of an array field.
func (s *Stream) FlatMap(array dbsp.Extractor, transformer dbsp.Transformer) *Stream {
	return s.Apply(dbsp.NewUnwind(array, transformer))
}

// Plus adds the stream to other streams.
func (s *Stream) Plus(others ...*Stream) *Stream {
	return s.Apply(dbsp.NewPlus(1+len(others)), others...)
}

// Subtract subtracts another stream from this one.
func (s *Stream) Subtract(other *Stream) *Stream { return s.Apply(dbsp.NewSubtract(), other) }

// Negate negates the stream.
func (s *Stream) Negate() *Stream { return s.Apply(dbsp.NewNegate()) }

// Identity adds a pass-through node.
func (s *Stream) Identity() *Stream { return s.Apply(dbsp.NewIdentity()) }

// Join adds an equi-join with another stream. The combining evaluator receives documents of the
// form {"left": l, "right": r}; a nil evaluator merges the two sides.
func (s *Stream) Join(other *Stream, leftKey, rightKey dbsp.Extractor, eval dbsp.Evaluator) *Stream {
	return s.Apply(dbsp.NewJoin(leftKey, rightKey, eval, []string{"left", "right"}), other)
}

// Aggregate adds a grouped aggregate.
func (s *Stream) Aggregate(key, value dbsp.Extractor, fn dbsp.AggregateFunc, keyField, valueField string) *Stream {
	return s.Apply(dbsp.NewAggregate(key, value, fn, keyField, valueField))
}

// Distinct adds a distinct op.
func (s *Stream) Distinct() *Stream { return s.Apply(dbsp.NewDistinct()) }

// Integrate adds an integrator I.
func (s *Stream) Integrate() *Stream { return s.Apply(dbsp.NewIntegrator()) }

// Differentiate adds a differentiator D.
func (s *Stream) Differentiate() *Stream { return s.Apply(dbsp.NewDifferentiator()) }

// Delay adds a delay z⁻¹.
func (s *Stream) Delay() *Stream { return s.Apply(dbsp.NewDelay()) }

// apply adds an operator node. All inputs must belong to the same scope.
func (c *Circuit) apply(op dbsp.Operator, inputs ...*Stream) *Stream {
	if !c.checkMutable("add operator") {
		return &Stream{c: c}
	}
	if op == nil {
		c.fail(dbsp.NewBuildError("", "nil operator"))
		return &Stream{c: c}
	}
	if len(inputs) == 0 || inputs[0] == nil || inputs[0].node == nil {
		c.fail(dbsp.NewBuildError(op.Name(), "invalid input stream"))
		return &Stream{c: c}
	}

	scope := inputs[0].node.owner
	if err := c.checkStreams(scope, inputs...); err != nil {
		c.fail(fmt.Errorf("operator %s: %w", op.Name(), err))
		return &Stream{c: c}
	}
	if op.Arity() != len(inputs) {
		c.fail(dbsp.NewBuildError(op.Name(), "expects %d inputs, got %d", op.Arity(), len(inputs)))
		return &Stream{c: c}
	}

	prefix := "op"
	if scope != nil {
		prefix = scope.name + "/op"
	}
	n := &Node{ID: c.newID(prefix), Kind: OperatorNode, Op: op}
	for _, in := range inputs {
		n.Inputs = append(n.Inputs, in.node)
	}
	c.addNode(scope, n)
	return &Stream{c: c, node: n}
}
