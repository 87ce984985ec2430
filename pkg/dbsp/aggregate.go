package dbsp

import (
	"cmp"
	"fmt"

	"github.com/google/btree"
)

// AggregateFunc is a grouped aggregate function such as sum or min.
type AggregateFunc interface {
	// Name is the name of the aggregate, used for debugging.
	Name() string
	// New returns an empty accumulator for a group.
	New() Accumulator
	// Invertible reports whether a deletion can be applied to the accumulator without knowing
	// the remaining group members.
	Invertible() bool
}

// Accumulator holds the aggregate state of a single group. Update is called with the value of a
// group member and its weight; a negative weight removes members.
type Accumulator interface {
	Update(value any, weight int) error
	// Result is the aggregate over the current members.
	Result() any
	// Count is the total weight of the members seen so far. It never goes negative: an update
	// that would make it negative fails with an OverDeletionError. A group with a zero count is
	// empty and produces no output.
	Count() int
	// Clone returns an independent copy of the accumulator.
	Clone() Accumulator
}

// Sum returns the sum aggregate. Integer inputs produce an int64 result, any float input turns
// the result into a float64.
func Sum() AggregateFunc { return sumFunc{} }

type sumFunc struct{}

func (sumFunc) Name() string     { return "sum" }
func (sumFunc) New() Accumulator { return &sumAcc{} }
func (sumFunc) Invertible() bool { return true }

type sumAcc struct {
	isum    int64
	fsum    float64
	isFloat bool
	n       int
}

func (a *sumAcc) Update(value any, weight int) error {
	if a.n+weight < 0 {
		return &OverDeletionError{Retained: a.n, Delta: weight}
	}
	switch v := value.(type) {
	case int:
		a.isum += int64(v) * int64(weight)
	case int32:
		a.isum += int64(v) * int64(weight)
	case int64:
		a.isum += v * int64(weight)
	case float64:
		a.fsum += v * float64(weight)
		a.isFloat = true
	default:
		return fmt.Errorf("sum: non-numeric value %v (%T)", value, value)
	}
	a.n += weight
	return nil
}

func (a *sumAcc) Result() any {
	if a.isFloat {
		return a.fsum + float64(a.isum)
	}
	return a.isum
}

func (a *sumAcc) Count() int { return a.n }

func (a *sumAcc) Clone() Accumulator {
	c := *a
	return &c
}

// Count returns the count aggregate: the total weight of the group.
func Count() AggregateFunc { return countFunc{} }

type countFunc struct{}

func (countFunc) Name() string     { return "count" }
func (countFunc) New() Accumulator { return &countAcc{} }
func (countFunc) Invertible() bool { return true }

type countAcc struct{ n int }

func (a *countAcc) Update(_ any, weight int) error {
	if a.n+weight < 0 {
		return &OverDeletionError{Retained: a.n, Delta: weight}
	}
	a.n += weight
	return nil
}

func (a *countAcc) Result() any        { return int64(a.n) }
func (a *countAcc) Count() int         { return a.n }
func (a *countAcc) Clone() Accumulator { return &countAcc{n: a.n} }

// Min returns the minimum aggregate.
func Min() AggregateFunc { return extremumFunc{name: "min", max: false} }

// Max returns the maximum aggregate.
func Max() AggregateFunc { return extremumFunc{name: "max", max: true} }

type extremumFunc struct {
	name string
	max  bool
}

func (f extremumFunc) Name() string     { return f.name }
func (f extremumFunc) Invertible() bool { return false }
func (f extremumFunc) New() Accumulator {
	return &extremumAcc{members: newMemberTree(), max: f.max}
}

func newMemberTree() *btree.BTreeG[member] {
	return btree.NewG[member](16, func(a, b member) bool { return compareAny(a.value, b.value) < 0 })
}

// Collect returns the list aggregate: the values of the group in ascending order, each repeated
// as many times as its multiplicity.
func Collect() AggregateFunc { return collectFunc{} }

type collectFunc struct{}

func (collectFunc) Name() string     { return "collect" }
func (collectFunc) Invertible() bool { return true }
func (collectFunc) New() Accumulator {
	return &collectAcc{extremumAcc: extremumAcc{members: newMemberTree()}}
}

type collectAcc struct {
	extremumAcc
}

func (a *collectAcc) Result() any {
	out := make([]any, 0, a.n)
	a.members.Ascend(func(m member) bool {
		for i := 0; i < m.count; i++ {
			out = append(out, m.value)
		}
		return true
	})
	return out
}

func (a *collectAcc) Clone() Accumulator {
	return &collectAcc{extremumAcc: extremumAcc{members: a.members.Clone(), n: a.n}}
}

// member is a distinct group value and its multiplicity.
type member struct {
	value any
	count int
}

// extremumAcc keeps the group members in an ordered multiset, so that deleting the current
// extremum finds the next one without rescanning the group.
type extremumAcc struct {
	members *btree.BTreeG[member]
	n       int
	max     bool
}

func (a *extremumAcc) Update(value any, weight int) error {
	if value == nil {
		return nil
	}
	m, _ := a.members.Get(member{value: value})
	next := m.count + weight
	switch {
	case next < 0:
		return &OverDeletionError{Retained: m.count, Delta: weight}
	case next == 0:
		a.members.Delete(member{value: value})
	default:
		a.members.ReplaceOrInsert(member{value: value, count: next})
	}
	a.n += weight
	return nil
}

func (a *extremumAcc) Result() any {
	var (
		m  member
		ok bool
	)
	if a.max {
		m, ok = a.members.Max()
	} else {
		m, ok = a.members.Min()
	}
	if !ok {
		return nil
	}
	return m.value
}

func (a *extremumAcc) Count() int { return a.n }

// Clone is copy-on-write: both trees share nodes until either is modified.
func (a *extremumAcc) Clone() Accumulator {
	return &extremumAcc{members: a.members.Clone(), n: a.n, max: a.max}
}

// compareAny orders values: numbers numerically, strings lexicographically, anything else (and
// mixed types) by their JSON rendering.
func compareAny(a, b any) int {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return cmp.Compare(af, bf)
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return cmp.Compare(as, bs)
		}
	}

	aKey, _ := computeJSONAny(a)
	bKey, _ := computeJSONAny(b)
	return cmp.Compare(aKey, bKey)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
