package dbsp

import "fmt"

// SelectThenProjectionsOp fuses an optional selection and a chain of projections into a single
// pass over the input.
type SelectThenProjectionsOp struct {
	BaseOp
	selEval   Evaluator   // Selection evaluator (can be nil)
	projEvals []Evaluator // Chain of projection evaluators (1 or more)
}

// NewSelectThenProjections creates a fused op. At least one projection is required.
func NewSelectThenProjections(selEval Evaluator, projEvals []Evaluator) (*SelectThenProjectionsOp, error) {
	if len(projEvals) == 0 {
		return nil, NewBuildError("σ→π", "fusion requires at least one projection")
	}

	var name string
	if selEval != nil {
		name = "σ→π"
		if len(projEvals) > 1 {
			name = fmt.Sprintf("[σ→π^%d]", len(projEvals))
		}
	} else {
		name = "π"
		if len(projEvals) > 1 {
			name = fmt.Sprintf("[π^%d]", len(projEvals))
		}
	}

	return &SelectThenProjectionsOp{
		BaseOp:    NewBaseOp(name, 1),
		selEval:   selEval,
		projEvals: projEvals,
	}, nil
}

func (op *SelectThenProjectionsOp) OpType() OperatorType { return OpTypeLinear }

// Selection returns the selection evaluator, nil if there is none.
func (op *SelectThenProjectionsOp) Selection() Evaluator { return op.selEval }

// Projections returns the chain of projection evaluators.
func (op *SelectThenProjectionsOp) Projections() []Evaluator {
	return append([]Evaluator(nil), op.projEvals...)
}

func (op *SelectThenProjectionsOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := op.validateInputs(inputs); err != nil {
		return nil, err
	}

	input := inputs[0]
	result := NewDocumentZSet()

	for key, multiplicity := range input.counts {
		doc := input.docs[key]

		// Apply optional selection first
		var docsToProcess []Document
		if op.selEval != nil {
			selectedDocs, err := op.selEval.Evaluate(doc)
			if err != nil {
				return nil, err
			}
			docsToProcess = selectedDocs
		} else {
			docsToProcess = []Document{doc}
		}

		for _, docToProcess := range docsToProcess {
			current := []Document{DeepCopyDocument(docToProcess)}

			// each projection may fan out
			for _, projEval := range op.projEvals {
				next := make([]Document, 0, len(current))
				for _, d := range current {
					projected, err := projEval.Evaluate(d)
					if err != nil {
						return nil, err
					}
					next = append(next, projected...)
				}
				current = next
			}

			for _, out := range current {
				if err := result.AddDocumentMutate(out, multiplicity); err != nil {
					return nil, err
				}
			}
		}
	}
	return result, nil
}
