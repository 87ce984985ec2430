package circuit

import (
	"fmt"

	"github.com/l7mp/ivm/pkg/dbsp"
)

// Scope is the body of a recursive query. A scope imports outer streams, declares recursion
// variables, binds every variable to a stream computed in the body and exports results to the
// outer circuit. At every tick the body is evaluated to a fixed point: at round k a variable holds
// the value bound to it at round k-1 and is empty at round 0.
//
// Bodies must be monotone so that the fixed point exists: every variable must be bound to the
// output of a Distinct, and bodies may only contain maps, filters, flat-maps, plus, joins and
// distincts (or custom stateless linear and bilinear operators). Negation, subtraction,
// aggregates, the stream primitives I, D and z⁻¹ and nested recursion are rejected.
type Scope struct {
	name string
	c    *Circuit
	node *Node // the scope node in the outer circuit

	nodes    []*Node
	imports  []*Node
	vars     []*Node
	bindings map[*Node]*Node
	exports  []*Node
	order    []*Node
	closed   bool
}

// Name returns the name of the scope.
func (s *Scope) Name() string { return s.name }

// Node returns the scope node of the outer circuit.
func (s *Scope) Node() *Node { return s.node }

// Nodes returns the body nodes in creation order.
func (s *Scope) Nodes() []*Node { return append([]*Node(nil), s.nodes...) }

// Variables returns the recursion variables.
func (s *Scope) Variables() []*Node { return append([]*Node(nil), s.vars...) }

// Binding returns the node bound to a variable.
func (s *Scope) Binding(v *Node) *Node { return s.bindings[v] }

// Exports returns the exported body nodes.
func (s *Scope) Exports() []*Node { return append([]*Node(nil), s.exports...) }

// Order returns the body nodes in evaluation order. Only valid after Build.
func (s *Scope) Order() []*Node { return s.order }

// Recursive declares a recursive scope. The body function builds the scope; its error, if any,
// is recorded as a builder error of the circuit.
func (c *Circuit) Recursive(name string, body func(*Scope) error) {
	if !c.checkMutable("add scope") {
		return
	}
	for _, s := range c.scopes {
		if s.name == name {
			c.fail(dbsp.NewBuildError(name, "duplicate scope name"))
			return
		}
		if !s.closed {
			c.fail(dbsp.NewBuildError(name, "recursive scopes cannot be nested (inside scope %s)", s.name))
			return
		}
	}

	s := &Scope{name: name, c: c, bindings: map[*Node]*Node{}}
	s.node = c.addNode(nil, &Node{ID: "scope:" + name, Kind: ScopeNode, Scope: s})
	c.scopes = append(c.scopes, s)

	err := body(s)
	s.closed = true
	if err != nil {
		c.fail(fmt.Errorf("scope %s: %w", name, err))
		return
	}
	if len(s.exports) == 0 {
		c.fail(dbsp.NewBuildError(name, "scope exports nothing"))
	}
}

// Import brings an outer stream into the scope. Inside the scope the import holds its outer value
// at every round.
func (s *Scope) Import(outer *Stream) *Stream {
	c := s.c
	if err := s.checkOpen(); err != nil {
		c.fail(err)
		return &Stream{c: c}
	}
	if err := c.checkStreams(nil, outer); err != nil {
		c.fail(fmt.Errorf("scope %s: import: %w", s.name, err))
		return &Stream{c: c}
	}
	n := c.addNode(s, &Node{
		ID:   fmt.Sprintf("%s/import_%d", s.name, len(s.imports)),
		Kind: ImportNode,
		Op:   dbsp.NewIdentity(),
		Port: len(s.imports),
	})
	s.imports = append(s.imports, n)
	s.node.Inputs = append(s.node.Inputs, outer.node)
	return &Stream{c: c, node: n}
}

// Variable declares a recursion variable.
func (s *Scope) Variable(name string) *Stream {
	c := s.c
	if err := s.checkOpen(); err != nil {
		c.fail(err)
		return &Stream{c: c}
	}
	for _, v := range s.vars {
		if v.ID == s.name+"/"+name {
			c.fail(dbsp.NewBuildError(v.ID, "duplicate variable"))
			return &Stream{c: c}
		}
	}
	n := c.addNode(s, &Node{ID: s.name + "/" + name, Kind: VariableNode, Op: dbsp.NewIdentity()})
	s.vars = append(s.vars, n)
	return &Stream{c: c, node: n}
}

// Bind closes the loop of a variable: the value of the variable at round k is the value of the
// stream at round k-1.
func (s *Scope) Bind(v, value *Stream) {
	c := s.c
	if err := s.checkOpen(); err != nil {
		c.fail(err)
		return
	}
	if err := c.checkStreams(s, v, value); err != nil {
		c.fail(fmt.Errorf("scope %s: bind: %w", s.name, err))
		return
	}
	if v.node.Kind != VariableNode {
		c.fail(dbsp.NewBuildError(v.node.ID, "not a recursion variable"))
		return
	}
	if _, ok := s.bindings[v.node]; ok {
		c.fail(dbsp.NewBuildError(v.node.ID, "variable is bound more than once"))
		return
	}
	s.bindings[v.node] = value.node
}

// Export makes a body stream available in the outer circuit. The outer stream carries the value
// of the body stream at the fixed point.
func (s *Scope) Export(value *Stream) *Stream {
	c := s.c
	if err := s.checkOpen(); err != nil {
		c.fail(err)
		return &Stream{c: c}
	}
	if err := c.checkStreams(s, value); err != nil {
		c.fail(fmt.Errorf("scope %s: export: %w", s.name, err))
		return &Stream{c: c}
	}
	port := len(s.exports)
	s.exports = append(s.exports, value.node)
	n := c.addNode(nil, &Node{
		ID:     fmt.Sprintf("%s/export_%d", s.name, port),
		Kind:   ExportNode,
		Inputs: []*Node{s.node},
		Scope:  s,
		Port:   port,
	})
	return &Stream{c: c, node: n}
}

func (s *Scope) checkOpen() error {
	if s.closed {
		return dbsp.NewBuildError(s.name, "scope is closed")
	}
	return s.c.err
}

// validate checks the monotonicity rules and computes the evaluation order of the body.
func (s *Scope) validate() error {
	for _, v := range s.vars {
		b, ok := s.bindings[v]
		if !ok {
			return dbsp.NewBuildError(v.ID, "recursion variable is never bound")
		}
		if _, ok := b.Op.(*dbsp.DistinctOp); !ok {
			return dbsp.NewBuildError(v.ID, "recursion variable must be bound to a distinct, got %s", b.Name())
		}
	}
	if len(s.vars) == 0 {
		return dbsp.NewBuildError(s.name, "recursive scope declares no variable")
	}

	for _, n := range s.nodes {
		if n.Kind != OperatorNode {
			continue
		}
		switch n.Op.(type) {
		case *dbsp.NegateOp, *dbsp.SubtractOp:
			return dbsp.NewBuildError(n.ID, "%s is not monotone and cannot be used in a recursive scope", n.Name())
		}
		if _, err := dbsp.NewNestedOperator(n.Op); err != nil {
			return err
		}
	}

	levels, err := sortNodes(s.nodes)
	if err != nil {
		return err
	}
	s.order = s.order[:0]
	for _, l := range levels {
		s.order = append(s.order, l...)
	}
	return nil
}
