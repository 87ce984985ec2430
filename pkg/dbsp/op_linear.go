package dbsp

import (
	"fmt"
)

// ProjectionOp maps every document through an evaluator (π). Weights are carried over to every
// document the evaluator emits, which makes the operator linear.
type ProjectionOp struct {
	BaseOp
	eval Evaluator
}

// NewProjection creates a new projection op.
func NewProjection(eval Evaluator) *ProjectionOp {
	return &ProjectionOp{
		BaseOp: NewBaseOp("π", 1),
		eval:   eval,
	}
}

func (n *ProjectionOp) OpType() OperatorType { return OpTypeLinear }

// Process evaluates the op.
func (n *ProjectionOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	return evalPointwise(n.eval, inputs[0], true)
}

func (n *ProjectionOp) String() string { return fmt.Sprintf("π[%s]", n.eval) }

// Evaluator returns the projection evaluator.
func (n *ProjectionOp) Evaluator() Evaluator { return n.eval }

// SelectionOp keeps the documents for which the evaluator returns the document itself (σ).
type SelectionOp struct {
	BaseOp
	eval Evaluator
}

// NewSelection creates a new selection op.
func NewSelection(eval Evaluator) *SelectionOp {
	return &SelectionOp{
		BaseOp: NewBaseOp("σ", 1),
		eval:   eval,
	}
}

func (n *SelectionOp) OpType() OperatorType { return OpTypeLinear }

// Process evaluates the op.
func (n *SelectionOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	return evalPointwise(n.eval, inputs[0], false)
}

func (n *SelectionOp) String() string { return fmt.Sprintf("σ[%s]", n.eval) }

// Evaluator returns the selection evaluator.
func (n *SelectionOp) Evaluator() Evaluator { return n.eval }

// evalPointwise applies an evaluator tuple by tuple, preserving weights. The evaluator receives a
// private copy of the document if it may modify it.
func evalPointwise(eval Evaluator, input *DocumentZSet, copyDoc bool) (*DocumentZSet, error) {
	result := newDocumentZSetWithCap(input.Len())
	for key, multiplicity := range input.counts {
		doc := input.docs[key]
		if copyDoc {
			doc = DeepCopyDocument(doc)
		}
		outs, err := eval.Evaluate(doc)
		if err != nil {
			return nil, fmt.Errorf("evaluator %s failed: %w", eval, err)
		}
		for _, out := range outs {
			if err := result.AddDocumentMutate(out, multiplicity); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// UnwindOp flattens arrays within documents: one output document per array element.
type UnwindOp struct {
	BaseOp
	arrayExtractor Extractor
	transformer    Transformer
}

// NewUnwind creates a new unwind op.
func NewUnwind(arrayExtractor Extractor, transformer Transformer) *UnwindOp {
	return &UnwindOp{
		BaseOp:         NewBaseOp("unwind", 1),
		arrayExtractor: arrayExtractor,
		transformer:    transformer,
	}
}

func (op *UnwindOp) OpType() OperatorType { return OpTypeLinear }

// Process evaluates the op.
func (op *UnwindOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := op.validateInputs(inputs); err != nil {
		return nil, err
	}

	input := inputs[0]
	result := NewDocumentZSet()

	for key, multiplicity := range input.counts {
		doc := input.docs[key]

		arrayValue, err := op.arrayExtractor.Extract(doc)
		if err != nil {
			return nil, fmt.Errorf("array extraction failed: %w", err)
		}

		arraySlice, ok := arrayValue.([]any)
		if !ok {
			// missing or not an array
			continue
		}

		for _, element := range arraySlice {
			transformed, err := op.transformer.Transform(DeepCopyDocument(doc), DeepCopyAny(element))
			if err != nil {
				return nil, fmt.Errorf("document transformation failed: %w", err)
			}

			if err = result.AddDocumentMutate(transformed, multiplicity); err != nil {
				return nil, fmt.Errorf("failed to add unwound document: %w", err)
			}
		}
	}

	return result, nil
}

// PlusOp adds its inputs.
type PlusOp struct {
	BaseOp
}

// NewPlus creates an n-ary addition node.
func NewPlus(arity int) *PlusOp {
	return &PlusOp{BaseOp: NewBaseOp("+", arity)}
}

func (n *PlusOp) OpType() OperatorType { return OpTypeLinear }

func (n *PlusOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	result := NewDocumentZSet()
	for _, in := range inputs {
		result.addMutate(in, 1)
	}
	return result, nil
}

// SubtractOp subtracts its second input from its first.
type SubtractOp struct {
	BaseOp
}

// NewSubtract creates a subtraction node.
func NewSubtract() *SubtractOp {
	return &SubtractOp{BaseOp: NewBaseOp("-", 2)}
}

func (n *SubtractOp) OpType() OperatorType { return OpTypeLinear }

func (n *SubtractOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	return inputs[0].Subtract(inputs[1]), nil
}

// NegateOp flips all weights.
type NegateOp struct {
	BaseOp
}

// NewNegate creates a negation node.
func NewNegate() *NegateOp {
	return &NegateOp{BaseOp: NewBaseOp("neg", 1)}
}

func (n *NegateOp) OpType() OperatorType { return OpTypeLinear }

func (n *NegateOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	return inputs[0].Negate(), nil
}

// IdentityOp passes its input through.
type IdentityOp struct {
	BaseOp
}

// NewIdentity creates an identity node.
func NewIdentity() *IdentityOp {
	return &IdentityOp{BaseOp: NewBaseOp("id", 1)}
}

func (n *IdentityOp) OpType() OperatorType { return OpTypeLinear }

func (n *IdentityOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	return inputs[0], nil
}
