package depot

import (
	"encoding/binary"
	"iter"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// SpecID is the order-independent identity of a set of component types.
type SpecID uint32

// TypeSet is a set of component types sorted by TypeID without duplicates.
type TypeSet []ComponentType

// NewTypeSet builds the canonical set for components.
func NewTypeSet(components ...Component) TypeSet {
	ts := make(TypeSet, 0, len(components))
	for _, c := range components {
		ts = append(ts, c.Type())
	}
	return ts.canonical()
}

func (ts TypeSet) canonical() TypeSet {
	slices.SortFunc(ts, func(a, b ComponentType) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return slices.CompactFunc(ts, func(a, b ComponentType) bool { return a.id == b.id })
}

func (ts TypeSet) with(extra TypeSet) TypeSet {
	out := make(TypeSet, 0, len(ts)+len(extra))
	out = append(out, ts...)
	out = append(out, extra...)
	return out.canonical()
}

func (ts TypeSet) without(drop TypeSet) TypeSet {
	out := make(TypeSet, 0, len(ts))
	for _, t := range ts {
		if _, found := drop.index(t.id); !found {
			out = append(out, t)
		}
	}
	return out
}

func (ts TypeSet) index(id TypeID) (int, bool) {
	for i := range ts {
		switch {
		case ts[i].id == id:
			return i, true
		case ts[i].id > id:
			return 0, false
		}
	}
	return 0, false
}

func (ts TypeSet) equal(other TypeSet) bool {
	return slices.EqualFunc(ts, other, func(a, b ComponentType) bool { return a.id == b.id })
}

// calculateSpecID folds the sorted type ids through xxhash.
func calculateSpecID(ts TypeSet) SpecID {
	d := xxhash.New()
	var buf [8]byte
	for _, t := range ts {
		binary.LittleEndian.PutUint64(buf[:], uint64(t.id))
		d.Write(buf[:])
	}
	sum := d.Sum64()
	return SpecID(uint32(sum) ^ uint32(sum>>32))
}

// Match pairs the position of a type in a spec with its position in the set
// it was matched against.
type Match struct {
	Self  int
	Other int
}

// Spec is the immutable, canonical description of an archetype's layout. A
// storage holds exactly one Spec per distinct type set.
type Spec struct {
	id    SpecID
	types TypeSet
	size  int
}

func newSpec(ts TypeSet) *Spec {
	s := &Spec{id: calculateSpecID(ts), types: ts}
	for _, t := range ts {
		s.size += int(t.size)
	}
	return s
}

func (s *Spec) ID() SpecID { return s.id }

// Types returns the sorted component types. The slice must not be modified.
func (s *Spec) Types() TypeSet { return s.types }

func (s *Spec) Len() int { return len(s.types) }

// All yields the component types in canonical order.
func (s *Spec) All() iter.Seq[ComponentType] {
	return func(yield func(ComponentType) bool) {
		for _, t := range s.types {
			if !yield(t) {
				return
			}
		}
	}
}

// Size is the number of component bytes stored per entity.
func (s *Spec) Size() int { return s.size }

func (s *Spec) Contains(c Component) bool {
	_, ok := s.types.index(c.Type().id)
	return ok
}

// ComponentIndex returns the column index of c.
func (s *Spec) ComponentIndex(c Component) (int, bool) {
	return s.types.index(c.Type().id)
}

// HasAll reports whether every type of other is in s.
func (s *Spec) HasAll(other TypeSet) bool {
	i := 0
	for _, t := range other {
		for i < len(s.types) && s.types[i].id < t.id {
			i++
		}
		if i == len(s.types) || s.types[i].id != t.id {
			return false
		}
	}
	return true
}

// HasAny reports whether s and other share at least one type.
func (s *Spec) HasAny(other TypeSet) bool {
	i, j := 0, 0
	for i < len(s.types) && j < len(other) {
		switch a, b := s.types[i].id, other[j].id; {
		case a == b:
			return true
		case a < b:
			i++
		default:
			j++
		}
	}
	return false
}

func (s *Spec) HasNone(other TypeSet) bool {
	return !s.HasAny(other)
}

// FindMatches appends one Match per type shared by s and other to out and
// returns it. Pass a buffer with enough capacity to avoid allocating.
func (s *Spec) FindMatches(other TypeSet, out []Match) []Match {
	out = out[:0]
	i, j := 0, 0
	for i < len(s.types) && j < len(other) {
		switch a, b := s.types[i].id, other[j].id; {
		case a == b:
			out = append(out, Match{Self: i, Other: j})
			i++
			j++
		case a < b:
			i++
		default:
			j++
		}
	}
	return out
}
