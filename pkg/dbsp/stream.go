package dbsp

import (
	"fmt"
	"strings"
)

// Group is an abelian group: the value types streams can carry.
type Group[T any] interface {
	Zero() T
	Add(a, b T) T
	Negate(a T) T
	Equal(a, b T) bool
}

// Stream is a discrete-time stream given by a finite prefix followed by a constant tail: every
// value beyond the prefix equals the tail. Streams built with NewStream have a zero tail.
type Stream[T any] struct {
	group  Group[T]
	values []T
	tail   T
}

// NewStream creates a stream from a prefix of values followed by zeros.
func NewStream[T any](g Group[T], values ...T) Stream[T] {
	return Stream[T]{group: g, values: values, tail: g.Zero()}
}

// NewStreamWithTail creates a stream from a prefix of values followed by a constant tail.
func NewStreamWithTail[T any](g Group[T], tail T, values ...T) Stream[T] {
	return Stream[T]{group: g, values: values, tail: tail}
}

// Group returns the group of the stream values.
func (s Stream[T]) Group() Group[T] { return s.group }

// Len returns the length of the prefix.
func (s Stream[T]) Len() int { return len(s.values) }

// At returns the value at time t.
func (s Stream[T]) At(t int) T {
	switch {
	case t < 0:
		return s.group.Zero()
	case t < len(s.values):
		return s.values[t]
	default:
		return s.tail
	}
}

// Tail returns the value of the stream past the prefix.
func (s Stream[T]) Tail() T { return s.tail }

// Values returns the prefix.
func (s Stream[T]) Values() []T { return append([]T(nil), s.values...) }

// Take returns the first n values of the stream.
func (s Stream[T]) Take(n int) []T {
	out := make([]T, n)
	for t := range out {
		out[t] = s.At(t)
	}
	return out
}

// Equal compares two streams on the longer prefix and on the tails.
func (s Stream[T]) Equal(o Stream[T]) bool {
	n := max(s.Len(), o.Len())
	for t := 0; t <= n; t++ {
		if !s.group.Equal(s.At(t), o.At(t)) {
			return false
		}
	}
	return true
}

func (s Stream[T]) String() string {
	parts := make([]string, 0, len(s.values)+1)
	for _, v := range s.values {
		parts = append(parts, fmt.Sprintf("%v", v))
	}
	if !s.group.Equal(s.tail, s.group.Zero()) {
		parts = append(parts, fmt.Sprintf("%v...", s.tail))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Delay is z⁻¹: z⁻¹(s)[t] = s[t-1], z⁻¹(s)[0] = 0.
func Delay[T any](s Stream[T]) Stream[T] {
	out := make([]T, s.Len()+1)
	for t := range out {
		out[t] = s.At(t - 1)
	}
	return NewStreamWithTail(s.group, s.tail, out...)
}

// Integrate is I: I(s)[t] = Σ_{i≤t} s[i]. The integral of a stream with a non-zero tail has no
// constant tail, so Integrate panics on such streams.
func Integrate[T any](s Stream[T]) Stream[T] {
	if !s.group.Equal(s.tail, s.group.Zero()) {
		panic("integrate: stream has a non-zero tail")
	}
	out := make([]T, s.Len())
	acc := s.group.Zero()
	for t := range out {
		acc = s.group.Add(acc, s.At(t))
		out[t] = acc
	}
	return NewStreamWithTail(s.group, acc, out...)
}

// Differentiate is D: D(s)[t] = s[t] - s[t-1], s[-1] = 0.
func Differentiate[T any](s Stream[T]) Stream[T] {
	out := make([]T, s.Len()+1)
	for t := range out {
		out[t] = s.group.Add(s.At(t), s.group.Negate(s.At(t-1)))
	}
	return NewStream(s.group, out...)
}

// Lift applies a function pointwise: ↑f(s)[t] = f(s[t]). Lifting a stream operator (a function
// from Stream[A] to Stream[B]) turns it into an operator on nested streams that processes every
// row independently.
func Lift[A, B any](g Group[B], f func(A) B) func(Stream[A]) Stream[B] {
	return func(s Stream[A]) Stream[B] {
		out := make([]B, s.Len())
		for t := range out {
			out[t] = f(s.At(t))
		}
		return NewStreamWithTail(g, f(s.tail), out...)
	}
}

// StreamGroup lifts a group to streams over it, so streams of streams can be formed. Row t of a
// nested stream is itself a stream indexed by the inner time.
type StreamGroup[T any] struct {
	Inner Group[T]
}

func (g StreamGroup[T]) Zero() Stream[T] { return NewStream[T](g.Inner) }

func (g StreamGroup[T]) Add(a, b Stream[T]) Stream[T] {
	n := max(a.Len(), b.Len())
	out := make([]T, n)
	for t := range out {
		out[t] = g.Inner.Add(g.at(a, t), g.at(b, t))
	}
	return NewStreamWithTail(g.Inner, g.Inner.Add(g.at(a, n), g.at(b, n)), out...)
}

func (g StreamGroup[T]) Negate(a Stream[T]) Stream[T] {
	out := make([]T, a.Len())
	for t := range out {
		out[t] = g.Inner.Negate(g.at(a, t))
	}
	return NewStreamWithTail(g.Inner, g.Inner.Negate(g.at(a, a.Len())), out...)
}

func (g StreamGroup[T]) Equal(a, b Stream[T]) bool {
	n := max(a.Len(), b.Len())
	for t := 0; t <= n; t++ {
		if !g.Inner.Equal(g.at(a, t), g.at(b, t)) {
			return false
		}
	}
	return true
}

// at reads a stream that may have been created without a group (the zero value).
func (g StreamGroup[T]) at(s Stream[T], t int) T {
	if s.group == nil || t < 0 {
		return g.Inner.Zero()
	}
	return s.At(t)
}

// NewNestedStream creates a stream of streams from rows of inner values.
func NewNestedStream[T any](inner Group[T], rows ...[]T) Stream[Stream[T]] {
	g := StreamGroup[T]{Inner: inner}
	values := make([]Stream[T], len(rows))
	for i, row := range rows {
		values[i] = NewStream(inner, row...)
	}
	return NewStream[Stream[T]](g, values...)
}

// Transpose swaps the outer and the inner time of a nested stream.
func Transpose[T any](s Stream[Stream[T]]) Stream[Stream[T]] {
	g, ok := s.group.(StreamGroup[T])
	if !ok {
		panic("transpose: not a nested stream")
	}
	width := s.tail.Len()
	for _, row := range s.values {
		width = max(width, row.Len())
	}
	column := func(j int) Stream[T] {
		vals := make([]T, s.Len())
		for i := range vals {
			vals[i] = g.at(s.values[i], j)
		}
		return NewStreamWithTail(g.Inner, g.at(s.tail, j), vals...)
	}
	rows := make([]Stream[T], width)
	for j := range rows {
		rows[j] = column(j)
	}
	return NewStreamWithTail[Stream[T]](g, column(width), rows...)
}

// ZSetGroup is the group of Z-sets.
type ZSetGroup struct{}

func (ZSetGroup) Zero() *DocumentZSet                  { return NewDocumentZSet() }
func (ZSetGroup) Add(a, b *DocumentZSet) *DocumentZSet { return a.Add(b) }
func (ZSetGroup) Negate(a *DocumentZSet) *DocumentZSet { return a.Negate() }
func (ZSetGroup) Equal(a, b *DocumentZSet) bool        { return a.Equal(b) }

// IntGroup is the group of integers.
type IntGroup struct{}

func (IntGroup) Zero() int           { return 0 }
func (IntGroup) Add(a, b int) int    { return a + b }
func (IntGroup) Negate(a int) int    { return -a }
func (IntGroup) Equal(a, b int) bool { return a == b }

// ZSetStream creates a stream of Z-sets.
func ZSetStream(values ...*DocumentZSet) Stream[*DocumentZSet] {
	return NewStream[*DocumentZSet](ZSetGroup{}, values...)
}

// RunOperator feeds streams of Z-sets through an operator tick by tick up to the longest input
// prefix, committing the state of stateful operators after every tick, and returns the outputs of
// these ticks. The output of later ticks is not constant in general, so no tail is reported.
func RunOperator(op Operator, inputs ...Stream[*DocumentZSet]) ([]*DocumentZSet, error) {
	if len(inputs) != op.Arity() {
		return nil, fmt.Errorf("operator %s expects %d input streams, got %d",
			op.Name(), op.Arity(), len(inputs))
	}
	ticks := 0
	for _, in := range inputs {
		ticks = max(ticks, in.Len())
	}

	stateful, _ := op.(StatefulOperator)
	out := make([]*DocumentZSet, ticks)
	for t := 0; t < ticks; t++ {
		args := make([]*DocumentZSet, len(inputs))
		for i, in := range inputs {
			args[i] = in.At(t)
		}
		res, err := op.Process(args...)
		if err != nil {
			if stateful != nil {
				stateful.Rollback()
			}
			return nil, fmt.Errorf("tick %d: %w", t, err)
		}
		if stateful != nil {
			stateful.Commit()
		}
		out[t] = res
	}
	return out, nil
}
