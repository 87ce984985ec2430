package dbsp

import (
	"fmt"
)

// JoinOp is a snapshot binary equi-join. Documents on each side are indexed by a join key and
// every matching pair is handed to a combining evaluator as a document {inputs[0]: left,
// inputs[1]: right}. The weight of a result is the product of the input weights, which makes the
// join bilinear.
//
// A nil key extractor on both sides yields the Cartesian product. Documents whose key is absent
// (nil) never match. A nil evaluator merges the two documents, right fields overriding left ones.
type JoinOp struct {
	BaseOp
	leftKey, rightKey Extractor
	eval              Evaluator
	inputs            []string
}

// NewJoin returns a new snapshot join op.
func NewJoin(leftKey, rightKey Extractor, eval Evaluator, inputs []string) *JoinOp {
	if len(inputs) != 2 {
		inputs = []string{"left", "right"}
	}
	return &JoinOp{
		BaseOp:   NewBaseOp("⋈", 2),
		leftKey:  leftKey,
		rightKey: rightKey,
		eval:     eval,
		inputs:   inputs,
	}
}

func (op *JoinOp) OpType() OperatorType { return OpTypeBilinear }

// Process evaluates the op.
func (op *JoinOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := op.validateInputs(inputs); err != nil {
		return nil, err
	}
	return op.Product(inputs[0], inputs[1])
}

// Product joins two Z-sets.
func (op *JoinOp) Product(left, right *DocumentZSet) (*DocumentZSet, error) {
	if left.IsZero() || right.IsZero() {
		return NewDocumentZSet(), nil
	}
	li, err := buildIndex(left, op.leftKey)
	if err != nil {
		return nil, fmt.Errorf("join %s: left index: %w", op.Name(), err)
	}
	ri, err := buildIndex(right, op.rightKey)
	if err != nil {
		return nil, fmt.Errorf("join %s: right index: %w", op.Name(), err)
	}
	result := NewDocumentZSet()
	if err := op.joinIndexes(result, li, ri); err != nil {
		return nil, err
	}
	return result, nil
}

// DeltaOperator returns the hash-indexed incremental join.
func (op *JoinOp) DeltaOperator() (Operator, error) {
	return NewIncrementalJoin(op.leftKey, op.rightKey, op.eval, op.inputs), nil
}

// joinIndexes adds left ⋈ right to result, probing the smaller side.
func (op *JoinOp) joinIndexes(result *DocumentZSet, left, right joinIndex) error {
	if len(left) <= len(right) {
		for key, lz := range left {
			rz, ok := right[key]
			if !ok {
				continue
			}
			if err := op.combine(result, lz, rz); err != nil {
				return err
			}
		}
		return nil
	}
	for key, rz := range right {
		lz, ok := left[key]
		if !ok {
			continue
		}
		if err := op.combine(result, lz, rz); err != nil {
			return err
		}
	}
	return nil
}

// combine adds the product of two key-aligned buckets to result.
func (op *JoinOp) combine(result *DocumentZSet, left, right *DocumentZSet) error {
	for lk, lw := range left.counts {
		ldoc := left.docs[lk]
		for rk, rw := range right.counts {
			rdoc := right.docs[rk]

			var joined []Document
			if op.eval == nil {
				joined = []Document{mergeDocuments(ldoc, rdoc)}
			} else {
				var err error
				joined, err = op.eval.Evaluate(Document{op.inputs[0]: ldoc, op.inputs[1]: rdoc})
				if err != nil {
					return fmt.Errorf("join %s: evaluator %s failed: %w", op.Name(), op.eval, err)
				}
			}

			for _, doc := range joined {
				if err := result.AddDocumentMutate(DeepCopyDocument(doc), lw*rw); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (op *JoinOp) String() string {
	return fmt.Sprintf("⋈[%v=%v]", op.leftKey, op.rightKey)
}

func mergeDocuments(left, right Document) Document {
	res := make(Document, len(left)+len(right))
	for k, v := range left {
		res[k] = v
	}
	for k, v := range right {
		res[k] = v
	}
	return res
}

// joinIndex groups the documents of a Z-set by the JSON rendering of their join key.
type joinIndex map[string]*DocumentZSet

func buildIndex(z *DocumentZSet, key Extractor) (joinIndex, error) {
	index := joinIndex{}
	if err := index.addZSet(z, key); err != nil {
		return nil, err
	}
	return index, nil
}

// addZSet adds the documents of a Z-set to the index, dropping buckets that cancel out.
func (idx joinIndex) addZSet(z *DocumentZSet, key Extractor) error {
	for docKey, w := range z.counts {
		doc := z.docs[docKey]
		k, ok, err := indexKey(doc, key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		bucket, exists := idx[k]
		if !exists {
			bucket = NewDocumentZSet()
			idx[k] = bucket
		}
		bucket.addKeyed(docKey, doc, w)
		if bucket.IsZero() {
			delete(idx, k)
		}
	}
	return nil
}

// merge adds another index into this one.
func (idx joinIndex) merge(other joinIndex) {
	for k, z := range other {
		bucket, exists := idx[k]
		if !exists {
			bucket = NewDocumentZSet()
			idx[k] = bucket
		}
		bucket.addMutate(z, 1)
		if bucket.IsZero() {
			delete(idx, k)
		}
	}
}

// clone returns an index whose buckets can be mutated independently.
func (idx joinIndex) clone() joinIndex {
	res := make(joinIndex, len(idx))
	for k, z := range idx {
		res[k] = z.ShallowCopy()
	}
	return res
}

func indexKey(doc Document, key Extractor) (string, bool, error) {
	if key == nil {
		return "", true, nil
	}
	v, err := key.Extract(doc)
	if err != nil {
		return "", false, fmt.Errorf("key extraction failed: %w", err)
	}
	if v == nil {
		return "", false, nil
	}
	k, err := computeJSONAny(v)
	if err != nil {
		return "", false, err
	}
	return k, true, nil
}

// IncrementalJoinOp implements the delta join ΔA⋈B + A⋈ΔB + ΔA⋈ΔB where A and B are the
// integrated inputs as of the last committed tick. Both sides are retained as hash indexes, so a
// tick costs time proportional to the deltas and the buckets they touch.
//
// Process must be called at most once per tick: the indexes are updated on Commit.
type IncrementalJoinOp struct {
	BaseOp
	join             *JoinOp
	left, right      joinIndex
	stagedL, stagedR joinIndex
}

// NewIncrementalJoin creates a new incremental join.
func NewIncrementalJoin(leftKey, rightKey Extractor, eval Evaluator, inputs []string) *IncrementalJoinOp {
	join := NewJoin(leftKey, rightKey, eval, inputs)
	return &IncrementalJoinOp{
		BaseOp: NewBaseOp("Δ⋈", 2),
		join:   join,
		left:   joinIndex{},
		right:  joinIndex{},
	}
}

func (op *IncrementalJoinOp) OpType() OperatorType { return OpTypeBilinear }

// Process evaluates the op.
func (op *IncrementalJoinOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := op.validateInputs(inputs); err != nil {
		return nil, err
	}
	op.stagedL, op.stagedR = nil, nil

	deltaL, deltaR := inputs[0], inputs[1]
	result := NewDocumentZSet()
	if deltaL.IsZero() && deltaR.IsZero() {
		return result, nil
	}

	dl, err := buildIndex(deltaL, op.join.leftKey)
	if err != nil {
		return nil, fmt.Errorf("join %s: left delta: %w", op.Name(), err)
	}
	dr, err := buildIndex(deltaR, op.join.rightKey)
	if err != nil {
		return nil, fmt.Errorf("join %s: right delta: %w", op.Name(), err)
	}

	// ΔA ⋈ B
	if err := op.join.joinIndexes(result, dl, op.right); err != nil {
		return nil, err
	}
	// A ⋈ ΔB
	if err := op.join.joinIndexes(result, op.left, dr); err != nil {
		return nil, err
	}
	// ΔA ⋈ ΔB
	if err := op.join.joinIndexes(result, dl, dr); err != nil {
		return nil, err
	}

	op.stagedL, op.stagedR = dl, dr
	return result, nil
}

// Commit folds the staged deltas into the indexes.
func (op *IncrementalJoinOp) Commit() {
	if op.stagedL != nil {
		op.left.merge(op.stagedL)
	}
	if op.stagedR != nil {
		op.right.merge(op.stagedR)
	}
	op.stagedL, op.stagedR = nil, nil
}

// Rollback drops the staged deltas.
func (op *IncrementalJoinOp) Rollback() { op.stagedL, op.stagedR = nil, nil }

// Reset clears the retained indexes.
func (op *IncrementalJoinOp) Reset() {
	op.left, op.right = joinIndex{}, joinIndex{}
	op.stagedL, op.stagedR = nil, nil
}

// Clone returns a join with the same configuration and empty state.
func (op *IncrementalJoinOp) Clone() Operator {
	return NewIncrementalJoin(op.join.leftKey, op.join.rightKey, op.join.eval, op.join.inputs)
}

// IncrementalBilinearOp is the generic three-term delta expansion of any bilinear operator that
// exposes its product. It retains the integrated value of both inputs.
type IncrementalBilinearOp struct {
	BaseOp
	op               BilinearOperator
	prevL, prevR     *DocumentZSet
	stagedL, stagedR *DocumentZSet
}

// NewIncrementalBilinear wraps a bilinear operator into its delta form.
func NewIncrementalBilinear(op BilinearOperator) *IncrementalBilinearOp {
	return &IncrementalBilinearOp{
		BaseOp: NewBaseOp("Δ"+op.Name(), 2),
		op:     op,
		prevL:  NewDocumentZSet(),
		prevR:  NewDocumentZSet(),
	}
}

func (op *IncrementalBilinearOp) OpType() OperatorType { return OpTypeBilinear }

// Process evaluates the op.
func (op *IncrementalBilinearOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := op.validateInputs(inputs); err != nil {
		return nil, err
	}
	op.stagedL, op.stagedR = nil, nil

	deltaL, deltaR := inputs[0], inputs[1]
	if deltaL.IsZero() && deltaR.IsZero() {
		return NewDocumentZSet(), nil
	}

	result := NewDocumentZSet()
	terms := [][2]*DocumentZSet{{deltaL, op.prevR}, {op.prevL, deltaR}, {deltaL, deltaR}}
	for i, t := range terms {
		if t[0].IsZero() || t[1].IsZero() {
			continue
		}
		term, err := op.op.Product(t[0], t[1])
		if err != nil {
			return nil, fmt.Errorf("%s: term %d failed: %w", op.Name(), i, err)
		}
		result.addMutate(term, 1)
	}

	op.stagedL, op.stagedR = deltaL, deltaR
	return result, nil
}

func (op *IncrementalBilinearOp) Commit() {
	if op.stagedL != nil {
		op.prevL = op.prevL.Add(op.stagedL)
		op.prevR = op.prevR.Add(op.stagedR)
	}
	op.stagedL, op.stagedR = nil, nil
}

func (op *IncrementalBilinearOp) Rollback() { op.stagedL, op.stagedR = nil, nil }

func (op *IncrementalBilinearOp) Reset() {
	op.prevL, op.prevR = NewDocumentZSet(), NewDocumentZSet()
	op.stagedL, op.stagedR = nil, nil
}

func (op *IncrementalBilinearOp) Clone() Operator { return NewIncrementalBilinear(op.op) }
