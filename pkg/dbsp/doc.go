// Package dbsp implements Database Stream Processing (DBSP) operators for incremental computation
// on Z-sets (multisets with integer multiplicities). See detailed documentation in
// https://mihaibudiu.github.io/work/dbsp-spec.pdf.
//
// Data is represented as Z-sets where each document has an associated integer weight: positive
// weights are insertions, negative weights deletions. Streams are sequences of Z-sets indexed by
// discrete time; the integrator I, the differentiator D and the delay z⁻¹ convert between
// snapshots and changes.
//
// Key components:
//   - DocumentZSet: the Z-set of documents, an abelian group under Add.
//   - Stream: streams over an arbitrary group given by a prefix and a constant tail, with Delay,
//     Integrate, Differentiate and Lift. Streams of streams model nested time.
//   - Operator: the operator palette (projection, selection, unwind, plus, subtract, negate, join,
//     distinct, aggregate and the stream primitives I, D and z⁻¹).
//   - NestedOperator: delta forms of operators inside recursive scopes, driven by outer tick and
//     inner fixed-point round.
//
// Operator types:
//   - Linear: Selection, projection, unwind, plus (preserve zero, commute with addition). A linear
//     operator is its own delta operator.
//   - Bilinear: Join (multiplication-like semantics). The delta operator is
//     ΔA⋈B + A⋈ΔB + ΔA⋈ΔB over the integrated inputs.
//   - Nonlinear: Distinct and aggregates. Their delta operators retain state and touch only the
//     tuples and groups changed by the delta.
//
// Stateful operators stage their state changes while processing a tick; Commit applies and
// Rollback discards the staged changes, which makes a tick atomic.
//
// Example usage:
//
//	zset := dbsp.NewDocumentZSet()
//	zset, err := zset.AddDocument(doc, 1) // Insert with multiplicity 1
//	op := dbsp.NewProjection(projector)
//	result, err := op.Process(zset)
package dbsp
