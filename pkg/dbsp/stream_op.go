package dbsp

import (
	"fmt"
)

// IntegratorOp implements the I operator: converts deltas to snapshots
// I(s)[t] = Σ(i=0 to t) s[i]
type IntegratorOp struct {
	BaseOp
	state  *DocumentZSet // accumulated state as of the last committed tick
	staged *DocumentZSet
}

// NewIntegrator creates an integrator with zero initial state.
func NewIntegrator() *IntegratorOp {
	return &IntegratorOp{
		BaseOp: NewBaseOp("I", 1),
		state:  NewDocumentZSet(),
	}
}

func (n *IntegratorOp) OpType() OperatorType { return OpTypeLinear }

func (n *IntegratorOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}

	// state[t] = state[t-1] + delta[t]
	n.staged = n.state.Add(inputs[0])
	return n.staged, nil
}

func (n *IntegratorOp) Commit() {
	if n.staged != nil {
		n.state = n.staged
	}
	n.staged = nil
}

func (n *IntegratorOp) Rollback() { n.staged = nil }

// Reset state (useful for testing or restarting computation)
func (n *IntegratorOp) Reset() {
	n.state = NewDocumentZSet()
	n.staged = nil
}

func (n *IntegratorOp) Clone() Operator { return NewIntegrator() }

// DifferentiatorOp implements the D operator: converts snapshots to deltas
// D(s)[t] = s[t] - s[t-1]
type DifferentiatorOp struct {
	BaseOp
	prevState *DocumentZSet // previous snapshot
	staged    *DocumentZSet
}

// NewDifferentiator creates a differentiator; the snapshot before the first tick is empty.
func NewDifferentiator() *DifferentiatorOp {
	return &DifferentiatorOp{
		BaseOp:    NewBaseOp("D", 1),
		prevState: NewDocumentZSet(),
	}
}

func (n *DifferentiatorOp) OpType() OperatorType { return OpTypeLinear }

func (n *DifferentiatorOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}

	snapshot := inputs[0]
	n.staged = snapshot
	return snapshot.Subtract(n.prevState), nil
}

func (n *DifferentiatorOp) Commit() {
	if n.staged != nil {
		n.prevState = n.staged
	}
	n.staged = nil
}

func (n *DifferentiatorOp) Rollback() { n.staged = nil }

// Reset state (useful for testing or restarting computation)
func (n *DifferentiatorOp) Reset() {
	n.prevState = NewDocumentZSet()
	n.staged = nil
}

func (n *DifferentiatorOp) Clone() Operator { return NewDifferentiator() }

// DelayOp implements the z^(-1) operator: delays stream by one timestep. The output at the first
// tick is the empty Z-set.
type DelayOp struct {
	BaseOp
	buffer *DocumentZSet // buffered value from previous timestep
	staged *DocumentZSet
}

// NewDelay creates a delay op.
func NewDelay() *DelayOp {
	return &DelayOp{
		BaseOp: NewBaseOp("z^(-1)", 1),
		buffer: NewDocumentZSet(),
	}
}

func (n *DelayOp) OpType() OperatorType { return OpTypeLinear }

func (n *DelayOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	n.staged = inputs[0]
	return n.buffer, nil
}

func (n *DelayOp) Commit() {
	if n.staged != nil {
		n.buffer = n.staged
	}
	n.staged = nil
}

func (n *DelayOp) Rollback() { n.staged = nil }

func (n *DelayOp) Reset() {
	n.buffer = NewDocumentZSet()
	n.staged = nil
}

func (n *DelayOp) Clone() Operator { return NewDelay() }

// InputMode tells whether an input node receives snapshots or deltas.
type InputMode int

const (
	// SnapshotInput nodes receive the full content of the input at every tick.
	SnapshotInput InputMode = iota
	// DeltaInput nodes receive the change of the input since the last tick.
	DeltaInput
)

func (m InputMode) String() string {
	if m == DeltaInput {
		return "delta"
	}
	return "snapshot"
}

// InputOp is the source of an external input. The executor hands over the value of the current
// tick with SetData before the node is evaluated.
//
// Snapshot inputs must not carry negative weights. Strict delta inputs integrate their deltas and
// reject any delta that would drive the weight of a tuple below zero.
type InputOp struct {
	BaseOp
	mode     InputMode
	strict   bool
	data     *DocumentZSet
	retained *DocumentZSet
	staged   *DocumentZSet
}

// NewInput creates an input op.
func NewInput(name string, mode InputMode) *InputOp {
	return &InputOp{
		BaseOp:   NewBaseOp("input:"+name, 0),
		mode:     mode,
		strict:   true,
		data:     NewDocumentZSet(),
		retained: NewDocumentZSet(),
	}
}

func (n *InputOp) OpType() OperatorType { return OpTypeLinear }

// Mode returns the input mode.
func (n *InputOp) Mode() InputMode { return n.mode }

// WithMode returns a fresh input op with the same name and strictness and the given mode.
func (n *InputOp) WithMode(mode InputMode) *InputOp {
	in := &InputOp{
		BaseOp:   n.BaseOp,
		mode:     mode,
		strict:   n.strict,
		data:     NewDocumentZSet(),
		retained: NewDocumentZSet(),
	}
	return in
}

// SetStrict enables or disables the over-deletion check on delta inputs.
func (n *InputOp) SetStrict(strict bool) { n.strict = strict }

// SetData sets the value for the current tick. A nil value is the empty Z-set.
func (n *InputOp) SetData(data *DocumentZSet) {
	if data == nil {
		data = NewDocumentZSet()
	}
	n.data = data
}

func (n *InputOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	n.staged = nil

	data := n.data
	switch {
	case n.mode == SnapshotInput:
		for _, key := range data.keys() {
			if w := data.weight(key); w < 0 {
				return nil, &OverDeletionError{Operator: n.Name(), Document: DeepCopyDocument(data.docs[key]), Delta: w}
			}
		}

	case n.strict && !data.IsZero():
		for _, key := range data.keys() {
			retained, d := n.retained.weight(key), data.weight(key)
			if retained+d < 0 {
				return nil, &OverDeletionError{
					Operator: n.Name(),
					Document: DeepCopyDocument(data.docs[key]),
					Retained: retained,
					Delta:    d,
				}
			}
		}
		n.staged = data
	}

	return data, nil
}

func (n *InputOp) Commit() {
	if n.staged != nil {
		n.retained.addMutate(n.staged, 1)
	}
	n.staged = nil
	n.data = NewDocumentZSet()
}

func (n *InputOp) Rollback() {
	n.staged = nil
	n.data = NewDocumentZSet()
}

func (n *InputOp) Reset() {
	n.retained = NewDocumentZSet()
	n.staged = nil
	n.data = NewDocumentZSet()
}

// LiftedNonLinearOp is the fallback delta form D ∘ Op ∘ I of a non-linear operator that does not
// know its own delta operator. It retains the integral of every input and the last output.
type LiftedNonLinearOp struct {
	BaseOp
	op       Operator
	integral []*DocumentZSet
	output   *DocumentZSet

	stagedIntegral []*DocumentZSet
	stagedOutput   *DocumentZSet
}

// NewLiftedNonLinear wraps a non-linear operator as D ∘ op ∘ I.
func NewLiftedNonLinear(op Operator) *LiftedNonLinearOp {
	n := &LiftedNonLinearOp{
		BaseOp: NewBaseOp(fmt.Sprintf("D∘%s∘I", op.Name()), op.Arity()),
		op:     op,
	}
	n.Reset()
	return n
}

func (n *LiftedNonLinearOp) OpType() OperatorType { return OpTypeNonLinear }

func (n *LiftedNonLinearOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	n.stagedIntegral, n.stagedOutput = nil, nil

	idle := true
	for _, in := range inputs {
		if !in.IsZero() {
			idle = false
			break
		}
	}
	if idle {
		return NewDocumentZSet(), nil
	}

	snapshots := make([]*DocumentZSet, len(inputs))
	for i, in := range inputs {
		snapshots[i] = n.integral[i].Add(in)
	}
	out, err := n.op.Process(snapshots...)
	if err != nil {
		return nil, err
	}

	n.stagedIntegral, n.stagedOutput = snapshots, out
	return out.Subtract(n.output), nil
}

func (n *LiftedNonLinearOp) Commit() {
	if n.stagedOutput != nil {
		n.integral, n.output = n.stagedIntegral, n.stagedOutput
	}
	n.stagedIntegral, n.stagedOutput = nil, nil
}

func (n *LiftedNonLinearOp) Rollback() { n.stagedIntegral, n.stagedOutput = nil, nil }

func (n *LiftedNonLinearOp) Reset() {
	n.integral = make([]*DocumentZSet, n.Arity())
	for i := range n.integral {
		n.integral[i] = NewDocumentZSet()
	}
	n.output = NewDocumentZSet()
	n.stagedIntegral, n.stagedOutput = nil, nil
}

func (n *LiftedNonLinearOp) Clone() Operator { return NewLiftedNonLinear(n.op) }
