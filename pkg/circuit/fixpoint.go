package circuit

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/l7mp/ivm/pkg/dbsp"
)

// fixpointSnapshot evaluates a scope body to its least fixed point from scratch. At round k every
// variable holds the value bound to it at round k-1 (the empty Z-set at round 0); the iteration
// stops at the first round where the bound values equal the variables. Returns the exported
// values at that round and the round count.
func (e *Executor) fixpointSnapshot(ctx context.Context, log logr.Logger, s *Scope, imports []*dbsp.DocumentZSet) ([]*dbsp.DocumentZSet, int, error) {
	vals := make([]*dbsp.DocumentZSet, len(s.nodes))
	vars := make(map[*Node]*dbsp.DocumentZSet, len(s.vars))
	for _, v := range s.vars {
		vars[v] = dbsp.NewDocumentZSet()
	}

	for k := 0; ; k++ {
		if k >= e.opts.MaxFixpointRounds {
			return nil, k, &dbsp.NonTerminationError{Scope: s.name, Rounds: k}
		}
		if err := ctx.Err(); err != nil {
			return nil, k, err
		}

		for _, n := range s.order {
			switch n.Kind {
			case ImportNode:
				vals[n.index] = imports[n.Port]
			case VariableNode:
				vals[n.index] = vars[n]
			default:
				out, err := n.Op.Process(inputValues(vals, n)...)
				if err != nil {
					return nil, k, fmt.Errorf("round %d: node %s: %w", k, n.ID, err)
				}
				vals[n.index] = out
			}
		}

		converged := true
		next := make(map[*Node]*dbsp.DocumentZSet, len(s.vars))
		for _, v := range s.vars {
			b := vals[s.bindings[v].index]
			if !b.Equal(vars[v]) {
				converged = false
			}
			next[v] = b
		}
		log.V(2).Info("fixpoint round", "scope", s.name, "round", k, "converged", converged)

		if converged {
			return exportValues(vals, s), k, nil
		}
		vars = next
	}
}

// fixpointDelta propagates the change of the imports through the fixed point of a scope using the
// nested delta forms of the body operators. The imports carry the change at round 0 only; at round
// k every variable holds the change bound to it at round k-1. The iteration stops when the bound
// changes vanish and every stored column has been visited, so that changes to the retained rounds
// are retracted. Returns the exported changes summed over the rounds and the round count.
func (e *Executor) fixpointDelta(ctx context.Context, log logr.Logger, s *Scope, imports []*dbsp.DocumentZSet) ([]*dbsp.DocumentZSet, int, error) {
	idle := true
	for _, in := range imports {
		if !in.IsZero() {
			idle = false
			break
		}
	}
	if idle {
		ret := make([]*dbsp.DocumentZSet, len(s.exports))
		for i := range ret {
			ret[i] = dbsp.NewDocumentZSet()
		}
		log.V(2).Info("fixpoint skipped: no change", "scope", s.name)
		return ret, 0, nil
	}

	depth := -1
	for _, n := range s.order {
		if n.Nested != nil {
			n.Nested.Begin()
			depth = max(depth, n.Nested.Depth())
		}
	}

	empty := dbsp.NewDocumentZSet()
	vals := make([]*dbsp.DocumentZSet, len(s.nodes))
	vars := make(map[*Node]*dbsp.DocumentZSet, len(s.vars))
	for _, v := range s.vars {
		vars[v] = empty
	}
	sums := make([]*dbsp.DocumentZSet, len(s.exports))
	for i := range sums {
		sums[i] = empty
	}

	for k := 0; ; k++ {
		if k >= e.opts.MaxFixpointRounds {
			return nil, k, &dbsp.NonTerminationError{Scope: s.name, Rounds: k}
		}
		if err := ctx.Err(); err != nil {
			return nil, k, err
		}

		for _, n := range s.order {
			switch n.Kind {
			case ImportNode:
				if k == 0 {
					vals[n.index] = imports[n.Port]
				} else {
					vals[n.index] = empty
				}
			case VariableNode:
				vals[n.index] = vars[n]
			default:
				out, err := n.Nested.Step(k, inputValues(vals, n)...)
				if err != nil {
					return nil, k, fmt.Errorf("round %d: node %s: %w", k, n.ID, err)
				}
				vals[n.index] = out
			}
		}

		for i, x := range s.exports {
			sums[i] = sums[i].Add(vals[x.index])
		}

		quiet := true
		for _, v := range s.vars {
			b := vals[s.bindings[v].index]
			if !b.IsZero() {
				quiet = false
			}
			vars[v] = b
		}
		log.V(2).Info("fixpoint round", "scope", s.name, "round", k, "quiet", quiet, "depth", depth)

		if quiet && k >= depth {
			return sums, k, nil
		}
	}
}

func inputValues(vals []*dbsp.DocumentZSet, n *Node) []*dbsp.DocumentZSet {
	ins := make([]*dbsp.DocumentZSet, len(n.Inputs))
	for i, in := range n.Inputs {
		ins[i] = vals[in.index]
	}
	return ins
}

func exportValues(vals []*dbsp.DocumentZSet, s *Scope) []*dbsp.DocumentZSet {
	ret := make([]*dbsp.DocumentZSet, len(s.exports))
	for i, x := range s.exports {
		ret[i] = vals[x.index]
	}
	return ret
}
