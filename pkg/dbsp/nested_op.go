package dbsp

import (
	"fmt"
)

// NestedOperator is the delta form of an operator inside a recursive scope. Values inside a scope
// carry two time dimensions: the outer tick and the inner fixed-point round. A nested operator
// consumes and produces changes along both dimensions: the value at round k of tick t is
// X_t[k] - X_t[k-1] - X_{t-1}[k] + X_{t-1}[k-1] for the underlying snapshots X.
//
// Stateful nested operators retain, per round, the snapshot of their inputs integrated over all
// committed ticks (the "columns"). The columns beyond the last stored one equal the last one: a
// converged scope is constant after its last round.
type NestedOperator interface {
	Name() string
	Arity() int
	// Begin starts a new outer tick.
	Begin()
	// Step processes round k of the current tick. Rounds are consecutive and start at 0.
	Step(k int, inputs ...*DocumentZSet) (*DocumentZSet, error)
	// Depth is the index of the last stored column, -1 if there is none.
	Depth() int
	// Commit folds the rounds processed during the current tick into the columns.
	Commit()
	// Rollback discards the current tick.
	Rollback()
	// Reset clears all retained state.
	Reset()
}

// NewNestedOperator returns the nested delta form of an operator. Only operators whose nested form
// is known are accepted: stateless linear operators, bilinear operators that expose their product
// and distinct.
func NewNestedOperator(op Operator) (NestedOperator, error) {
	switch o := op.(type) {
	case *DistinctOp:
		return newNestedDistinct(), nil
	case *JoinOp:
		return newNestedJoin(o), nil
	}

	if _, ok := op.(StatefulOperator); ok {
		return nil, NewBuildError(op.Name(), "stateful operator cannot be used in a recursive scope")
	}

	switch op.OpType() {
	case OpTypeLinear:
		return &nestedLinear{op: op}, nil
	case OpTypeBilinear:
		if b, ok := op.(BilinearOperator); ok {
			return newNestedBilinear(b), nil
		}
		return nil, NewBuildError(op.Name(), "bilinear operator exposes no product")
	default:
		return nil, NewBuildError(op.Name(), "%s operator has no nested delta form", op.OpType())
	}
}

// nestedLinear: the nested delta form of a stateless linear operator is the operator itself.
type nestedLinear struct {
	op Operator
}

func (n *nestedLinear) Name() string { return n.op.Name() }
func (n *nestedLinear) Arity() int   { return n.op.Arity() }
func (n *nestedLinear) Begin()       {}
func (n *nestedLinear) Depth() int   { return -1 }
func (n *nestedLinear) Commit()      {}
func (n *nestedLinear) Rollback()    {}
func (n *nestedLinear) Reset()       {}

func (n *nestedLinear) Step(_ int, inputs ...*DocumentZSet) (*DocumentZSet, error) {
	return n.op.Process(inputs...)
}

// rounds keeps the inputs received during the current tick.
type rounds struct {
	deltas [][]*DocumentZSet // round -> input -> delta
}

func (r *rounds) record(k int, inputs []*DocumentZSet) error {
	if k != len(r.deltas) {
		return fmt.Errorf("round %d out of order, expected round %d", k, len(r.deltas))
	}
	r.deltas = append(r.deltas, inputs)
	return nil
}

func (r *rounds) clear() { r.deltas = nil }

// nestedDistinct retains, per round, the integral P[k] of its input over all committed ticks and
// the integral C[k] over the rounds of the current tick. The output is
//
//	d(P[k]+C[k]) - d(P[k]) - d(P[k-1]+C[k-1]) + d(P[k-1])
//
// where d is the set weight, evaluated for the tuples touched by the current tick only.
type nestedDistinct struct {
	columns []*DocumentZSet
	current *DocumentZSet // C[k-1] before Step(k) runs
	rounds
}

func newNestedDistinct() *nestedDistinct {
	return &nestedDistinct{current: NewDocumentZSet()}
}

func (n *nestedDistinct) Name() string { return "distinct" }
func (n *nestedDistinct) Arity() int   { return 1 }
func (n *nestedDistinct) Depth() int   { return len(n.columns) - 1 }

func (n *nestedDistinct) Begin() {
	n.current = NewDocumentZSet()
	n.rounds.clear()
}

func (n *nestedDistinct) column(k int) *DocumentZSet {
	if len(n.columns) == 0 || k < 0 {
		return NewDocumentZSet()
	}
	return n.columns[min(k, len(n.columns)-1)]
}

func (n *nestedDistinct) Step(k int, inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if len(inputs) != 1 || inputs[0] == nil {
		return nil, fmt.Errorf("nested distinct expects 1 input, got %d", len(inputs))
	}
	if err := n.rounds.record(k, inputs); err != nil {
		return nil, err
	}

	x := inputs[0]
	prev := n.current
	next := prev.Add(x)
	p, pp := n.column(k), n.column(k-1)

	result := NewDocumentZSet()
	visit := func(key string, doc Document) {
		pk, ck := p.weight(key), next.weight(key)
		w := setWeight(pk+ck) - setWeight(pk)
		if k > 0 {
			ppk, cpk := pp.weight(key), prev.weight(key)
			w -= setWeight(ppk+cpk) - setWeight(ppk)
		}
		result.addKeyed(key, doc, w)
	}
	for key, doc := range next.docs {
		visit(key, doc)
	}
	for key, doc := range prev.docs {
		if _, ok := next.counts[key]; !ok {
			visit(key, doc)
		}
	}

	n.current = next
	return result, nil
}

func (n *nestedDistinct) Commit() {
	n.columns = commitColumns(n.columns, n.rounds.deltas, 0)
	n.current = NewDocumentZSet()
	n.rounds.clear()
}

func (n *nestedDistinct) Rollback() {
	n.current = NewDocumentZSet()
	n.rounds.clear()
}

func (n *nestedDistinct) Reset() {
	n.columns = nil
	n.Rollback()
}

// commitColumns extends the columns to cover all rounds of the tick and adds the inner integral of
// one input's deltas to each column.
func commitColumns(columns []*DocumentZSet, deltas [][]*DocumentZSet, input int) []*DocumentZSet {
	for len(columns) < len(deltas) {
		if len(columns) == 0 {
			columns = append(columns, NewDocumentZSet())
			continue
		}
		columns = append(columns, columns[len(columns)-1])
	}
	running := NewDocumentZSet()
	for k := range deltas {
		running.addMutate(deltas[k][input], 1)
		columns[k] = columns[k].Add(running)
	}
	// columns past the last round of this tick stay constant
	for k := len(deltas); k < len(columns); k++ {
		columns[k] = columns[k].Add(running)
	}
	return columns
}

// nestedBilinear retains the columns of both inputs and the integrals of the current tick. With
// p, q the columns and c, d the current-tick integrals of the left and the right input,
// g(k) = c⋈q + p⋈d + c⋈d is the change of the product at round k and the output is g(k) - g(k-1).
type nestedBilinear struct {
	op                BilinearOperator
	left, right       []*DocumentZSet
	curLeft, curRight *DocumentZSet
	last              *DocumentZSet
	rounds
}

func newNestedBilinear(op BilinearOperator) *nestedBilinear {
	n := &nestedBilinear{op: op}
	n.Begin()
	return n
}

func (n *nestedBilinear) Name() string { return n.op.Name() }
func (n *nestedBilinear) Arity() int   { return 2 }
func (n *nestedBilinear) Depth() int   { return max(len(n.left), len(n.right)) - 1 }

func (n *nestedBilinear) Begin() {
	n.curLeft, n.curRight, n.last = NewDocumentZSet(), NewDocumentZSet(), NewDocumentZSet()
	n.rounds.clear()
}

func column(columns []*DocumentZSet, k int) *DocumentZSet {
	if len(columns) == 0 {
		return NewDocumentZSet()
	}
	return columns[min(k, len(columns)-1)]
}

func (n *nestedBilinear) Step(k int, inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if len(inputs) != 2 || inputs[0] == nil || inputs[1] == nil {
		return nil, fmt.Errorf("nested %s expects 2 inputs, got %d", n.Name(), len(inputs))
	}
	if err := n.rounds.record(k, inputs); err != nil {
		return nil, err
	}

	c, d := n.curLeft.Add(inputs[0]), n.curRight.Add(inputs[1])
	p, q := column(n.left, k), column(n.right, k)

	g := NewDocumentZSet()
	for _, t := range [][2]*DocumentZSet{{c, q}, {p, d}, {c, d}} {
		if t[0].IsZero() || t[1].IsZero() {
			continue
		}
		term, err := n.op.Product(t[0], t[1])
		if err != nil {
			return nil, err
		}
		g.addMutate(term, 1)
	}

	result := g.Subtract(n.last)
	n.curLeft, n.curRight, n.last = c, d, g
	return result, nil
}

func (n *nestedBilinear) Commit() {
	n.left = commitColumns(n.left, n.rounds.deltas, 0)
	n.right = commitColumns(n.right, n.rounds.deltas, 1)
	n.Begin()
}

func (n *nestedBilinear) Rollback() { n.Begin() }

func (n *nestedBilinear) Reset() {
	n.left, n.right = nil, nil
	n.Begin()
}

// nestedJoin is the nested bilinear form of the equi-join, with columns kept as hash indexes.
type nestedJoin struct {
	join              *JoinOp
	left, right       []joinIndex
	curLeft, curRight joinIndex
	last              *DocumentZSet
	rounds
}

func newNestedJoin(join *JoinOp) *nestedJoin {
	n := &nestedJoin{join: join}
	n.Begin()
	return n
}

func (n *nestedJoin) Name() string { return n.join.Name() }
func (n *nestedJoin) Arity() int   { return 2 }
func (n *nestedJoin) Depth() int   { return max(len(n.left), len(n.right)) - 1 }

func (n *nestedJoin) Begin() {
	n.curLeft, n.curRight, n.last = joinIndex{}, joinIndex{}, NewDocumentZSet()
	n.rounds.clear()
}

func indexColumn(columns []joinIndex, k int) joinIndex {
	if len(columns) == 0 {
		return joinIndex{}
	}
	return columns[min(k, len(columns)-1)]
}

func (n *nestedJoin) Step(k int, inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if len(inputs) != 2 || inputs[0] == nil || inputs[1] == nil {
		return nil, fmt.Errorf("nested %s expects 2 inputs, got %d", n.Name(), len(inputs))
	}
	if err := n.rounds.record(k, inputs); err != nil {
		return nil, err
	}

	dl, err := buildIndex(inputs[0], n.join.leftKey)
	if err != nil {
		return nil, err
	}
	dr, err := buildIndex(inputs[1], n.join.rightKey)
	if err != nil {
		return nil, err
	}
	n.curLeft.merge(dl)
	n.curRight.merge(dr)

	c, d := n.curLeft, n.curRight
	p, q := indexColumn(n.left, k), indexColumn(n.right, k)

	g := NewDocumentZSet()
	for _, t := range [][2]joinIndex{{c, q}, {p, d}, {c, d}} {
		if err := n.join.joinIndexes(g, t[0], t[1]); err != nil {
			return nil, err
		}
	}

	result := g.Subtract(n.last)
	n.last = g
	return result, nil
}

func (n *nestedJoin) Commit() {
	n.left = n.commitIndexes(n.left, 0, n.join.leftKey)
	n.right = n.commitIndexes(n.right, 1, n.join.rightKey)
	n.Begin()
}

func (n *nestedJoin) commitIndexes(columns []joinIndex, input int, key Extractor) []joinIndex {
	deltas := n.rounds.deltas
	for len(columns) < len(deltas) {
		if len(columns) == 0 {
			columns = append(columns, joinIndex{})
			continue
		}
		columns = append(columns, columns[len(columns)-1].clone())
	}
	running := joinIndex{}
	for k := range columns {
		if k < len(deltas) {
			// the deltas were indexed successfully in Step
			idx, _ := buildIndex(deltas[k][input], key)
			running.merge(idx)
		}
		columns[k].merge(running)
	}
	return columns
}

func (n *nestedJoin) Rollback() { n.Begin() }

func (n *nestedJoin) Reset() {
	n.left, n.right = nil, nil
	n.Begin()
}
