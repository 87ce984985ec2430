package circuit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/l7mp/ivm/pkg/dbsp"
	"github.com/l7mp/ivm/pkg/util"
)

// Executor drives a built circuit one tick at a time. A circuit can be run by a single executor
// at a time; Close releases it.
//
// A tick is atomic: the operators stage their state changes while the tick is evaluated and the
// staged changes are committed only if every node succeeds. On error or cancellation all staged
// changes are discarded and the executor is left in the state of the previous tick.
type Executor struct {
	c    *Circuit
	opts Options
	log  logr.Logger

	stateful []dbsp.StatefulOperator
	nested   []dbsp.NestedOperator

	// values of the current tick, indexed by node index
	values  []*dbsp.DocumentZSet
	results [][]*dbsp.DocumentZSet

	mu     sync.Mutex // protects rounds
	rounds map[string]int

	tick   int
	closed bool
}

// NewExecutor builds the circuit if needed and creates an executor for it.
func NewExecutor(c *Circuit, opts Options) (*Executor, error) {
	if err := c.Build(); err != nil {
		return nil, err
	}
	if err := c.claim(); err != nil {
		return nil, err
	}

	opts = opts.withDefaults()
	e := &Executor{
		c:       c,
		opts:    opts,
		log:     opts.Logger.WithName("executor").WithValues("circuit", c.name),
		values:  make([]*dbsp.DocumentZSet, len(c.nodes)),
		results: make([][]*dbsp.DocumentZSet, len(c.nodes)),
		rounds:  map[string]int{},
	}

	for _, n := range c.nodes {
		if in, ok := n.Op.(*dbsp.InputOp); ok {
			in.SetStrict(!opts.LenientWeights)
		}
		if st, ok := n.Op.(dbsp.StatefulOperator); ok {
			e.stateful = append(e.stateful, st)
		}
	}
	for _, s := range c.scopes {
		for _, n := range s.nodes {
			if n.Nested != nil {
				e.nested = append(e.nested, n.Nested)
			}
		}
	}

	e.log.V(1).Info("executor created", "incremental", c.incremental, "nodes", len(c.nodes),
		"scopes", len(c.scopes), "parallelism", opts.Parallelism)
	return e, nil
}

// Circuit returns the circuit run by the executor.
func (e *Executor) Circuit() *Circuit { return e.c }

// Tick returns the number of committed ticks.
func (e *Executor) Tick() int { return e.tick }

// Step evaluates one tick. Missing inputs are empty Z-sets; naming an unknown input is an error.
// Returns the value of every output.
func (e *Executor) Step(ctx context.Context, inputs map[string]*dbsp.DocumentZSet) (map[string]*dbsp.DocumentZSet, error) {
	if e.closed {
		return nil, errors.New("executor is closed")
	}
	for name := range inputs {
		if _, ok := e.c.inputs[name]; !ok {
			return nil, fmt.Errorf("unknown input %q", name)
		}
	}

	log := e.log.WithValues("tick", e.tick)
	log.V(1).Info("tick started", "inputs", len(inputs))

	for name, n := range e.c.inputs {
		n.Op.(*dbsp.InputOp).SetData(inputs[name])
	}

	if err := e.evaluate(ctx, log); err != nil {
		e.rollback()
		log.V(1).Info("tick rolled back", "error", err.Error())
		return nil, err
	}

	ret := make(map[string]*dbsp.DocumentZSet, len(e.c.outputs))
	for _, name := range e.c.outNames {
		ret[name] = e.values[e.c.outputs[name].index]
	}

	e.commit()
	log.V(1).Info("tick committed", "outputs", len(ret))
	e.tick++
	return ret, nil
}

// evaluate runs the levels of the circuit in order. The nodes of a level run concurrently.
func (e *Executor) evaluate(ctx context.Context, log logr.Logger) error {
	for i := range e.values {
		e.values[i], e.results[i] = nil, nil
	}

	for l, level := range e.c.levels {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.opts.Parallelism)
		for _, n := range level {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return e.evalNode(gctx, log, n)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		log.V(2).Info("level done", "level", l, "nodes", len(level))
	}
	return nil
}

func (e *Executor) evalNode(ctx context.Context, log logr.Logger, n *Node) error {
	switch n.Kind {
	case InputNode, OperatorNode:
		ins := make([]*dbsp.DocumentZSet, len(n.Inputs))
		for i, in := range n.Inputs {
			ins[i] = e.values[in.index]
		}
		out, err := n.Op.Process(ins...)
		if err != nil {
			return fmt.Errorf("node %s: %w", n.ID, err)
		}
		e.values[n.index] = out

	case ScopeNode:
		imports := make([]*dbsp.DocumentZSet, len(n.Inputs))
		for i, in := range n.Inputs {
			imports[i] = e.values[in.index]
		}
		var (
			results []*dbsp.DocumentZSet
			rounds  int
			err     error
		)
		if e.c.incremental {
			results, rounds, err = e.fixpointDelta(ctx, log, n.Scope, imports)
		} else {
			results, rounds, err = e.fixpointSnapshot(ctx, log, n.Scope, imports)
		}
		if err != nil {
			return fmt.Errorf("scope %s: %w", n.Scope.name, err)
		}
		e.results[n.index] = results
		e.mu.Lock()
		e.rounds[n.Scope.name] = rounds
		e.mu.Unlock()

	case ExportNode:
		e.values[n.index] = e.results[n.Inputs[0].index][n.Port]

	default:
		return dbsp.NewBuildError(n.ID, "unexpected %s node at top level", n.Kind)
	}

	if out := e.values[n.index]; out != nil {
		log.V(2).Info("node evaluated", "node", n.ID, "op", n.Name(), "size", out.Size())
		if v := log.V(4); v.Enabled() {
			v.Info("node output", "node", n.ID, "value", util.Stringify(out.Entries()))
		}
	}
	return nil
}

func (e *Executor) commit() {
	for _, st := range e.stateful {
		st.Commit()
	}
	for _, n := range e.nested {
		n.Commit()
	}
}

func (e *Executor) rollback() {
	for _, st := range e.stateful {
		st.Rollback()
	}
	for _, n := range e.nested {
		n.Rollback()
	}
}

// Rounds returns the number of rounds the last evaluation of a scope took to converge. A scope
// skipped in an incremental tick for lack of changes reports 0 rounds.
func (e *Executor) Rounds(scope string) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rounds[scope]
	return r, ok
}

// Reset clears the retained state of every operator and restarts the tick counter.
func (e *Executor) Reset() {
	for _, st := range e.stateful {
		st.Reset()
	}
	for _, n := range e.nested {
		n.Reset()
	}
	e.mu.Lock()
	e.rounds = map[string]int{}
	e.mu.Unlock()
	e.tick = 0
	e.log.V(1).Info("executor reset")
}

// Close releases the circuit. The executor cannot be used afterwards.
func (e *Executor) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.c.release()
}

// Plan returns a human-readable execution plan: the topological levels of the circuit with the
// class of each operator.
func (e *Executor) Plan() string {
	var b strings.Builder
	mode := "snapshot"
	if e.c.incremental {
		mode = "incremental"
	}
	fmt.Fprintf(&b, "Execution plan of %s (%s):\n", e.c.name, mode)
	for l, level := range e.c.levels {
		fmt.Fprintf(&b, "%d.", l+1)
		for i, n := range level {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, " %s", describeNode(n))
		}
		b.WriteString("\n")
		for _, n := range level {
			if n.Kind != ScopeNode {
				continue
			}
			for _, m := range n.Scope.order {
				fmt.Fprintf(&b, "   %s: %s\n", n.Scope.name, describeNode(m))
			}
		}
	}
	return b.String()
}

func describeNode(n *Node) string {
	switch n.Kind {
	case OperatorNode:
		return fmt.Sprintf("%s [%s] (%s)", n.ID, n.Name(), n.Op.OpType())
	case ScopeNode:
		return fmt.Sprintf("%s (fixpoint)", n.ID)
	default:
		return fmt.Sprintf("%s (%s)", n.ID, n.Kind)
	}
}
