// Package circuit builds, incrementalizes and executes DBSP circuits.
//
// A circuit is a DAG of operator nodes connected by streams of Z-sets. Circuits are built with a
// fluent API: inputs are declared with Input, operators are added by calling palette methods on
// stream handles, results are declared with Output. Recursive queries are expressed in nested
// scopes (see Recursive), which are evaluated to a fixed point at every tick.
//
// Builder errors are sticky: the first error is recorded in the circuit and returned by Build, so
// circuits can be written as straight-line code.
//
// A built circuit is snapshot-to-snapshot. Incrementalize turns it into an equivalent circuit that
// consumes and produces deltas. Either can be run with an Executor.
package circuit

import (
	"fmt"
	"sync"

	"github.com/l7mp/ivm/internal/dag"
	"github.com/l7mp/ivm/pkg/dbsp"
)

// NodeKind is the kind of a circuit node.
type NodeKind int

const (
	// InputNode is an external input.
	InputNode NodeKind = iota
	// OperatorNode applies an operator to its inputs.
	OperatorNode
	// ScopeNode evaluates a recursive scope to a fixed point.
	ScopeNode
	// ExportNode selects one result of a scope.
	ExportNode
	// ImportNode brings an outer stream into a scope.
	ImportNode
	// VariableNode is a recursion variable of a scope.
	VariableNode
)

func (k NodeKind) String() string {
	switch k {
	case InputNode:
		return "input"
	case OperatorNode:
		return "op"
	case ScopeNode:
		return "scope"
	case ExportNode:
		return "export"
	case ImportNode:
		return "import"
	case VariableNode:
		return "var"
	default:
		return "unknown"
	}
}

// Node is a node of a circuit.
type Node struct {
	ID     string
	Kind   NodeKind
	Op     dbsp.Operator
	Inputs []*Node

	// Nested is the delta form of a scope body operator in an incremental circuit.
	Nested dbsp.NestedOperator
	// Scope is the body of a scope node, or the scope an export node reads from.
	Scope *Scope
	// Port is the index of the scope result selected by an export node, or the position of an
	// import node among the imports of its scope.
	Port int

	owner *Scope // nil at top level
	index int    // position in the owner's node list
}

// Name returns the name of the node's operator, or its id.
func (n *Node) Name() string {
	if n.Op != nil {
		return n.Op.Name()
	}
	return n.ID
}

// Circuit is a DAG of operator nodes.
type Circuit struct {
	name        string
	incremental bool

	nodes    []*Node
	inputs   map[string]*Node
	outputs  map[string]*Node
	inNames  []string
	outNames []string
	scopes   []*Scope
	nextID   int

	err    error
	built  bool
	levels [][]*Node

	mu      sync.Mutex
	claimed bool
}

// New creates an empty circuit.
func New(name string) *Circuit {
	return &Circuit{
		name:    name,
		inputs:  map[string]*Node{},
		outputs: map[string]*Node{},
	}
}

// Name returns the name of the circuit.
func (c *Circuit) Name() string { return c.name }

// Incremental reports whether the circuit consumes and produces deltas.
func (c *Circuit) Incremental() bool { return c.incremental }

// Err returns the first builder error, if any.
func (c *Circuit) Err() error { return c.err }

// Nodes returns the top-level nodes in creation order.
func (c *Circuit) Nodes() []*Node { return append([]*Node(nil), c.nodes...) }

// Scopes returns the recursive scopes.
func (c *Circuit) Scopes() []*Scope { return append([]*Scope(nil), c.scopes...) }

// InputNames returns the names of the inputs in declaration order.
func (c *Circuit) InputNames() []string { return append([]string(nil), c.inNames...) }

// OutputNames returns the names of the outputs in declaration order.
func (c *Circuit) OutputNames() []string { return append([]string(nil), c.outNames...) }

// InputNode returns the node of a named input.
func (c *Circuit) InputNode(name string) (*Node, bool) {
	n, ok := c.inputs[name]
	return n, ok
}

// OutputNode returns the node feeding a named output.
func (c *Circuit) OutputNode(name string) (*Node, bool) {
	n, ok := c.outputs[name]
	return n, ok
}

// Levels returns the top-level nodes grouped into topological levels. Only valid after Build.
func (c *Circuit) Levels() [][]*Node { return c.levels }

func (c *Circuit) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *Circuit) newID(prefix string) string {
	id := fmt.Sprintf("%s_%d", prefix, c.nextID)
	c.nextID++
	return id
}

func (c *Circuit) checkMutable(what string) bool {
	if c.built {
		c.fail(dbsp.NewBuildError("", "cannot %s: circuit %s is already built", what, c.name))
		return false
	}
	return true
}

// addNode adds a node to the top level or to a scope body.
func (c *Circuit) addNode(owner *Scope, n *Node) *Node {
	n.owner = owner
	if owner == nil {
		n.index = len(c.nodes)
		c.nodes = append(c.nodes, n)
	} else {
		n.index = len(owner.nodes)
		owner.nodes = append(owner.nodes, n)
	}
	return n
}

// Input declares an external input and returns its stream.
func (c *Circuit) Input(name string) *Stream {
	mode := dbsp.SnapshotInput
	if c.incremental {
		mode = dbsp.DeltaInput
	}
	return c.input(name, dbsp.NewInput(name, mode))
}

func (c *Circuit) input(name string, op *dbsp.InputOp) *Stream {
	if !c.checkMutable("add input") {
		return &Stream{c: c}
	}
	if _, ok := c.inputs[name]; ok {
		c.fail(dbsp.NewBuildError(name, "duplicate input name"))
		return &Stream{c: c}
	}
	n := c.addNode(nil, &Node{ID: "input:" + name, Kind: InputNode, Op: op})
	c.inputs[name] = n
	c.inNames = append(c.inNames, name)
	return &Stream{c: c, node: n}
}

// Output declares a named output fed by a stream.
func (c *Circuit) Output(name string, s *Stream) {
	if !c.checkMutable("add output") {
		return
	}
	if err := c.checkStreams(nil, s); err != nil {
		c.fail(fmt.Errorf("output %s: %w", name, err))
		return
	}
	if _, ok := c.outputs[name]; ok {
		c.fail(dbsp.NewBuildError(name, "duplicate output name"))
		return
	}
	c.outputs[name] = s.node
	c.outNames = append(c.outNames, name)
}

// checkStreams verifies that all streams are valid and belong to the given scope.
func (c *Circuit) checkStreams(scope *Scope, streams ...*Stream) error {
	for _, s := range streams {
		if s == nil || s.node == nil {
			return dbsp.NewBuildError("", "invalid stream")
		}
		if s.c != c {
			return dbsp.NewBuildError(s.node.ID, "stream belongs to another circuit")
		}
		if s.node.owner != scope {
			return dbsp.NewBuildError(s.node.ID, "stream belongs to another scope")
		}
		if scope != nil && scope.closed {
			return dbsp.NewBuildError(s.node.ID, "scope %s is closed", scope.name)
		}
	}
	return nil
}

// Build validates the circuit and freezes it. Build is idempotent.
func (c *Circuit) Build() error {
	if c.err != nil {
		return c.err
	}
	if c.built {
		return nil
	}

	ops := map[dbsp.StatefulOperator]string{}
	checkShared := func(n *Node) error {
		if st, ok := n.Op.(dbsp.StatefulOperator); ok {
			if other, dup := ops[st]; dup {
				return dbsp.NewBuildError(n.ID, "stateful operator instance is shared with node %s", other)
			}
			ops[st] = n.ID
		}
		return nil
	}

	for _, n := range c.nodes {
		if err := checkShared(n); err != nil {
			c.fail(err)
			return err
		}
	}
	for _, s := range c.scopes {
		if err := s.validate(); err != nil {
			c.fail(err)
			return err
		}
		for _, n := range s.nodes {
			if err := checkShared(n); err != nil {
				c.fail(err)
				return err
			}
		}
	}

	levels, err := sortNodes(c.nodes)
	if err != nil {
		c.fail(err)
		return err
	}
	c.levels = levels
	c.built = true
	return nil
}

// sortNodes groups nodes into topological levels.
func sortNodes(nodes []*Node) ([][]*Node, error) {
	g := dag.New()
	byID := make(map[string]*Node, len(nodes))
	for _, n := range nodes {
		g.AddNode(n.ID)
		byID[n.ID] = n
	}
	for _, n := range nodes {
		for _, in := range n.Inputs {
			if _, ok := byID[in.ID]; !ok {
				return nil, dbsp.NewBuildError(n.ID, "input %s is not part of the graph", in.ID)
			}
			g.AddEdge(in.ID, n.ID)
		}
	}

	labels, err := g.Levels()
	if err != nil {
		return nil, dbsp.NewBuildError("", "cyclic dependency outside a recursive scope: %v", err)
	}
	levels := make([][]*Node, len(labels))
	for i, l := range labels {
		levels[i] = make([]*Node, len(l))
		for j, id := range l {
			levels[i][j] = byID[id]
		}
	}
	return levels, nil
}

// claim marks the circuit as owned by an executor.
func (c *Circuit) claim() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimed {
		return fmt.Errorf("circuit %s is already claimed by an executor", c.name)
	}
	c.claimed = true
	return nil
}

func (c *Circuit) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claimed = false
}

func (c *Circuit) String() string {
	mode := "snapshot"
	if c.incremental {
		mode = "incremental"
	}
	return fmt.Sprintf("circuit %s (%s): %d nodes, %d scopes, inputs %v, outputs %v",
		c.name, mode, len(c.nodes), len(c.scopes), c.inNames, c.outNames)
}
