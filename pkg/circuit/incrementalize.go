package circuit

import (
	"fmt"

	"github.com/l7mp/ivm/pkg/dbsp"
)

// Incrementalize returns the incremental version of a snapshot circuit: a new circuit with the
// same inputs and outputs that consumes input deltas and produces output deltas. Fed with the
// deltas of a sequence of input snapshots, it emits the deltas of the output snapshots the source
// circuit would produce.
//
// Every top-level operator is replaced by its delta operator (see dbsp.IncrementalizeOp). Scope
// bodies keep their structure; each body operator gets a nested delta form that maintains its
// per-round state across ticks, so that a change of the imports is propagated through the fixed
// point without recomputing it.
//
// The source circuit is built if it is not built yet and is left unchanged.
func Incrementalize(c *Circuit) (*Circuit, error) {
	if err := c.Build(); err != nil {
		return nil, err
	}
	if c.incremental {
		return nil, dbsp.NewBuildError(c.name, "circuit is already incremental")
	}

	inc, _, err := rebuild(c, c.name+"^Δ", true, func(n *Node) (dbsp.Operator, error) {
		return dbsp.IncrementalizeOp(n.Op)
	})
	if err != nil {
		return nil, err
	}
	if err := inc.Build(); err != nil {
		return nil, err
	}
	return inc, nil
}

// rebuild copies the structure of a built circuit into a new unbuilt circuit. Top-level operators
// are mapped with the given function, inputs get fresh input ops and scope bodies share the
// stateless body operators of the source. The nested delta forms of body operators are created
// for incremental circuits. Returns the new circuit and the mapping of the source nodes.
func rebuild(c *Circuit, name string, incremental bool, mapOp func(*Node) (dbsp.Operator, error)) (*Circuit, map[*Node]*Node, error) {
	r := New(name)
	r.incremental = incremental
	r.nextID = c.nextID
	m := map[*Node]*Node{}

	inputs := func(n *Node) []*Node {
		ins := make([]*Node, len(n.Inputs))
		for i, in := range n.Inputs {
			ins[i] = m[in]
		}
		return ins
	}

	for _, level := range c.levels {
		for _, n := range level {
			switch n.Kind {
			case InputNode:
				mode := dbsp.SnapshotInput
				if incremental {
					mode = dbsp.DeltaInput
				}
				name := n.ID[len("input:"):]
				m[n] = r.input(name, n.Op.(*dbsp.InputOp).WithMode(mode)).node

			case OperatorNode:
				op, err := mapOp(n)
				if err != nil {
					return nil, nil, fmt.Errorf("node %s: %w", n.ID, err)
				}
				m[n] = r.addNode(nil, &Node{ID: n.ID, Kind: OperatorNode, Op: op, Inputs: inputs(n)})

			case ScopeNode:
				s, err := rebuildScope(r, n.Scope, m, incremental)
				if err != nil {
					return nil, nil, err
				}
				s.node.Inputs = inputs(n)
				m[n] = s.node

			case ExportNode:
				m[n] = r.addNode(nil, &Node{
					ID:     n.ID,
					Kind:   ExportNode,
					Inputs: inputs(n),
					Scope:  m[n.Scope.node].Scope,
					Port:   n.Port,
				})

			default:
				return nil, nil, dbsp.NewBuildError(n.ID, "unexpected %s node at top level", n.Kind)
			}
		}
	}

	for _, name := range c.outNames {
		r.outputs[name] = m[c.outputs[name]]
		r.outNames = append(r.outNames, name)
	}
	return r, m, nil
}

func rebuildScope(r *Circuit, src *Scope, m map[*Node]*Node, incremental bool) (*Scope, error) {
	s := &Scope{name: src.name, c: r, bindings: map[*Node]*Node{}, closed: true}
	s.node = r.addNode(nil, &Node{ID: src.node.ID, Kind: ScopeNode, Scope: s})
	r.scopes = append(r.scopes, s)

	// body nodes are created in dependency order
	for _, n := range src.nodes {
		cp := &Node{ID: n.ID, Kind: n.Kind, Op: n.Op, Port: n.Port}
		for _, in := range n.Inputs {
			cp.Inputs = append(cp.Inputs, m[in])
		}
		if incremental && n.Kind == OperatorNode {
			nested, err := dbsp.NewNestedOperator(n.Op)
			if err != nil {
				return nil, fmt.Errorf("scope %s: node %s: %w", src.name, n.ID, err)
			}
			cp.Nested = nested
		}
		m[n] = r.addNode(s, cp)

		switch n.Kind {
		case ImportNode:
			s.imports = append(s.imports, cp)
		case VariableNode:
			s.vars = append(s.vars, cp)
		}
	}

	for v, b := range src.bindings {
		s.bindings[m[v]] = m[b]
	}
	for _, e := range src.exports {
		s.exports = append(s.exports, m[e])
	}
	return s, nil
}
