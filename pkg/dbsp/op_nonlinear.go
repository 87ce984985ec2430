package dbsp

import (
	"errors"
	"fmt"
)

// DistinctOp converts a Z-set to set semantics.
type DistinctOp struct {
	BaseOp
}

// NewDistinct creates a snapshot distinct op.
func NewDistinct() *DistinctOp {
	return &DistinctOp{BaseOp: NewBaseOp("distinct", 1)}
}

func (n *DistinctOp) OpType() OperatorType { return OpTypeNonLinear }

func (n *DistinctOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	return inputs[0].Distinct(), nil
}

// DeltaOperator returns the incremental distinct.
func (n *DistinctOp) DeltaOperator() (Operator, error) { return NewIncrementalDistinct(), nil }

// IncrementalDistinctOp is the delta form of distinct. It retains the integral of its input and,
// for every tuple touched by a delta, emits the change of its set membership.
type IncrementalDistinctOp struct {
	BaseOp
	state  *DocumentZSet
	staged *DocumentZSet
}

// NewIncrementalDistinct creates an incremental distinct op.
func NewIncrementalDistinct() *IncrementalDistinctOp {
	return &IncrementalDistinctOp{
		BaseOp: NewBaseOp("Δdistinct", 1),
		state:  NewDocumentZSet(),
	}
}

func (n *IncrementalDistinctOp) OpType() OperatorType { return OpTypeNonLinear }

func (n *IncrementalDistinctOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	n.staged = nil

	delta := inputs[0]
	result := NewDocumentZSet()
	for key, d := range delta.counts {
		old := n.state.weight(key)
		result.addKeyed(key, delta.docs[key], setWeight(old+d)-setWeight(old))
	}
	if !delta.IsZero() {
		n.staged = delta
	}
	return result, nil
}

func (n *IncrementalDistinctOp) Commit() {
	if n.staged != nil {
		n.state.addMutate(n.staged, 1)
	}
	n.staged = nil
}

func (n *IncrementalDistinctOp) Rollback() { n.staged = nil }

func (n *IncrementalDistinctOp) Reset() {
	n.state = NewDocumentZSet()
	n.staged = nil
}

func (n *IncrementalDistinctOp) Clone() Operator { return NewIncrementalDistinct() }

// AggregateOp is a snapshot grouped aggregate. Documents are grouped by a key, the values
// extracted from group members are fed to an aggregate function and each non-empty group yields
// one document {keyField: key, valueField: result}. A nil key extractor aggregates the whole
// Z-set into a single group and the key field is omitted. Documents with an absent key are
// skipped.
type AggregateOp struct {
	BaseOp
	key, value           Extractor
	fn                   AggregateFunc
	keyField, valueField string
}

// NewAggregate creates a snapshot aggregate op.
func NewAggregate(key, value Extractor, fn AggregateFunc, keyField, valueField string) *AggregateOp {
	return &AggregateOp{
		BaseOp:     NewBaseOp("γ:"+fn.Name(), 1),
		key:        key,
		value:      value,
		fn:         fn,
		keyField:   keyField,
		valueField: valueField,
	}
}

func (op *AggregateOp) OpType() OperatorType { return OpTypeNonLinear }

// Process evaluates the op.
func (op *AggregateOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := op.validateInputs(inputs); err != nil {
		return nil, err
	}

	groups := map[string]*aggregateGroup{}
	if err := op.update(groups, inputs[0], func(string) Accumulator { return op.fn.New() }); err != nil {
		return nil, err
	}

	result := NewDocumentZSet()
	for _, g := range groups {
		if err := op.emit(result, g, 1); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// DeltaOperator returns the incremental aggregate.
func (op *AggregateOp) DeltaOperator() (Operator, error) {
	return NewIncrementalAggregate(op.key, op.value, op.fn, op.keyField, op.valueField), nil
}

func (op *AggregateOp) String() string {
	return fmt.Sprintf("γ[%v, %s(%v)]", op.key, op.fn.Name(), op.value)
}

type aggregateGroup struct {
	key any
	acc Accumulator
}

// update feeds a Z-set into per-group accumulators. The init function provides the accumulator
// of a group seen for the first time. Insertions are applied before deletions, so a group only
// fails with an over-deletion if its final weight is negative.
func (op *AggregateOp) update(groups map[string]*aggregateGroup, z *DocumentZSet, init func(string) Accumulator) error {
	keys := z.keys()
	ordered := make([]string, 0, len(keys))
	for _, docKey := range keys {
		if z.counts[docKey] > 0 {
			ordered = append(ordered, docKey)
		}
	}
	for _, docKey := range keys {
		if z.counts[docKey] < 0 {
			ordered = append(ordered, docKey)
		}
	}

	for _, docKey := range ordered {
		doc, w := z.docs[docKey], z.counts[docKey]

		var groupKey any
		if op.key != nil {
			k, err := op.key.Extract(doc)
			if err != nil {
				return fmt.Errorf("%s: key extraction failed: %w", op.Name(), err)
			}
			if k == nil {
				continue
			}
			groupKey = k
		}
		gk, err := computeJSONAny(groupKey)
		if err != nil {
			return err
		}

		var value any
		if op.value != nil {
			value, err = op.value.Extract(doc)
			if err != nil {
				return fmt.Errorf("%s: value extraction failed: %w", op.Name(), err)
			}
		}

		g, ok := groups[gk]
		if !ok {
			g = &aggregateGroup{key: groupKey, acc: init(gk)}
			groups[gk] = g
		}

		if err := g.acc.Update(value, w); err != nil {
			var ode *OverDeletionError
			if errors.As(err, &ode) {
				ode.Operator = op.Name()
				ode.Document = DeepCopyDocument(doc)
				return ode
			}
			return fmt.Errorf("%s: %w", op.Name(), err)
		}
	}
	return nil
}

// emit adds the output document of a group, if the group is not empty.
func (op *AggregateOp) emit(result *DocumentZSet, g *aggregateGroup, weight int) error {
	if g == nil || g.acc.Count() == 0 {
		return nil
	}
	doc := Document{op.valueField: g.acc.Result()}
	if op.key != nil {
		doc[op.keyField] = DeepCopyAny(g.key)
	}
	return result.AddDocumentMutate(doc, weight)
}

// IncrementalAggregateOp is the delta form of the grouped aggregate. It retains one accumulator
// per group; invertible aggregates (sum, count) keep a running value, min and max keep an ordered
// multiset of group members. For every group touched by a delta the op emits the old result with
// weight -1 and the new one with weight +1, which cancel out when the result did not change.
type IncrementalAggregateOp struct {
	BaseOp
	agg    *AggregateOp
	groups map[string]*aggregateGroup
	staged map[string]*aggregateGroup
}

// NewIncrementalAggregate creates an incremental aggregate op.
func NewIncrementalAggregate(key, value Extractor, fn AggregateFunc, keyField, valueField string) *IncrementalAggregateOp {
	return &IncrementalAggregateOp{
		BaseOp: NewBaseOp("Δγ:"+fn.Name(), 1),
		agg:    NewAggregate(key, value, fn, keyField, valueField),
		groups: map[string]*aggregateGroup{},
	}
}

func (op *IncrementalAggregateOp) OpType() OperatorType { return OpTypeNonLinear }

// Process evaluates the op.
func (op *IncrementalAggregateOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := op.validateInputs(inputs); err != nil {
		return nil, err
	}
	op.staged = nil

	result := NewDocumentZSet()
	delta := inputs[0]
	if delta.IsZero() {
		return result, nil
	}

	touched := map[string]*aggregateGroup{}
	init := func(gk string) Accumulator {
		if g, ok := op.groups[gk]; ok {
			return g.acc.Clone()
		}
		return op.agg.fn.New()
	}
	if err := op.agg.update(touched, delta, init); err != nil {
		return nil, err
	}

	for gk, g := range touched {
		if err := op.agg.emit(result, op.groups[gk], -1); err != nil {
			return nil, err
		}
		if err := op.agg.emit(result, g, 1); err != nil {
			return nil, err
		}
	}

	op.staged = touched
	return result, nil
}

func (op *IncrementalAggregateOp) Commit() {
	for gk, g := range op.staged {
		if g.acc.Count() == 0 {
			delete(op.groups, gk)
			continue
		}
		op.groups[gk] = g
	}
	op.staged = nil
}

func (op *IncrementalAggregateOp) Rollback() { op.staged = nil }

func (op *IncrementalAggregateOp) Reset() {
	op.groups = map[string]*aggregateGroup{}
	op.staged = nil
}

func (op *IncrementalAggregateOp) Clone() Operator {
	a := op.agg
	return NewIncrementalAggregate(a.key, a.value, a.fn, a.keyField, a.valueField)
}
