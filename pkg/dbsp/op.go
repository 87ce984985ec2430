package dbsp

import (
	"fmt"
)

// OperatorType classifies operators for the incrementalization rules.
type OperatorType int

const (
	OpTypeLinear    OperatorType = iota // Op^Δ = Op
	OpTypeBilinear                      // Op^Δ needs the three-term expansion (like joins)
	OpTypeNonLinear                     // Op^Δ needs an explicit delta operator (like distinct)
)

// String returns the name of the operator class.
func (t OperatorType) String() string {
	switch t {
	case OpTypeLinear:
		return "Linear"
	case OpTypeBilinear:
		return "Bilinear"
	case OpTypeNonLinear:
		return "NonLinear"
	default:
		return "Unknown"
	}
}

// Operator represents a computation node in a circuit. Process is called exactly once per
// clock tick with the current value on each input edge and returns the value of the output edge.
type Operator interface {
	// Process input ZSets and produce output ZSet.
	Process(inputs ...*DocumentZSet) (*DocumentZSet, error)
	// Name returns a short name for debugging.
	Name() string
	// Arity is the number of inputs expected.
	Arity() int
	// OpType is the linearity class, used by the incrementalizer.
	OpType() OperatorType
}

// StatefulOperator is an operator that retains state across ticks. State changes produced by
// Process are staged and become visible only after Commit. Rollback discards the staged
// changes, leaving the state as of the last committed tick.
type StatefulOperator interface {
	Operator
	Commit()
	Rollback()
	Reset()
}

// BilinearOperator is a bilinear operator that exposes its product so that a generic delta
// operator can be synthesized.
type BilinearOperator interface {
	Operator
	Product(left, right *DocumentZSet) (*DocumentZSet, error)
}

// DeltaDeriver is implemented by operators that know their own delta operator.
type DeltaDeriver interface {
	Operator
	DeltaOperator() (Operator, error)
}

// Cloner is implemented by stateful linear operators: the incremental circuit gets a fresh
// copy with its own state.
type Cloner interface {
	Clone() Operator
}

// BaseOp carries the name and the arity of an operator.
type BaseOp struct {
	arity int
	name  string
}

// NewBaseOp creates a new base operator.
func NewBaseOp(name string, arity int) BaseOp {
	return BaseOp{arity: arity, name: name}
}

func (n *BaseOp) Name() string { return n.name }
func (n *BaseOp) Arity() int   { return n.arity }

// validateInputs checks the number of inputs.
func (n *BaseOp) validateInputs(inputs []*DocumentZSet) error {
	if len(inputs) != n.arity {
		return fmt.Errorf("node %s expects %d inputs, got %d", n.name, n.arity, len(inputs))
	}
	for i, input := range inputs {
		if input == nil {
			return fmt.Errorf("node %s: input %d is nil", n.name, i)
		}
	}
	return nil
}

// IncrementalizeOp converts a "snapshot" operator into an operator that consumes and produces
// deltas. The conversion is driven by the linearity class of the operator only:
//   - linear operators are their own delta operator (stateful ones are cloned),
//   - bilinear operators use their own delta operator or the generic three-term expansion,
//   - non-linear operators use their own delta operator or, failing that, D ∘ Op ∘ I.
func IncrementalizeOp(op Operator) (Operator, error) {
	switch op.OpType() {
	case OpTypeLinear:
		if c, ok := op.(Cloner); ok {
			return c.Clone(), nil
		}
		return op, nil

	case OpTypeBilinear:
		if d, ok := op.(DeltaDeriver); ok {
			return d.DeltaOperator()
		}
		if b, ok := op.(BilinearOperator); ok {
			return NewIncrementalBilinear(b), nil
		}
		return nil, NewBuildError(op.Name(), "bilinear operator exposes neither a delta operator nor a product")

	case OpTypeNonLinear:
		if d, ok := op.(DeltaDeriver); ok {
			return d.DeltaOperator()
		}
		return NewLiftedNonLinear(op), nil

	default:
		return nil, NewBuildError(op.Name(), "unknown operator class %d", int(op.OpType()))
	}
}
