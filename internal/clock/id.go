package clock

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
)

// ID identifies one content unit.
type ID struct {
	Replica string
	Clock   uint64
}

// String renders the ID as "replica:clock".
func (id ID) String() string {
	return id.Replica + ":" + strconv.FormatUint(id.Clock, 10)
}

// ParseID parses the form produced by String. The replica may itself
// contain colons; the clock is everything after the last one.
func ParseID(s string) (ID, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return ID{}, fmt.Errorf("parse id %q: missing clock", s)
	}
	c, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("parse id %q: %w", s, err)
	}
	return ID{Replica: s[:i], Clock: c}, nil
}

// Compare orders IDs by replica, then clock. This is the sequence-CRDT
// order used when concurrent inserts share an origin.
func (id ID) Compare(other ID) int {
	if c := strings.Compare(id.Replica, other.Replica); c != 0 {
		return c
	}
	switch {
	case id.Clock < other.Clock:
		return -1
	case id.Clock > other.Clock:
		return 1
	}
	return 0
}

// Less orders by clock, then replica: the last-writer-wins tie-break used
// for map keys and positional reconciliation.
func Less(a, b ID) bool {
	if a.Clock != b.Clock {
		return a.Clock < b.Clock
	}
	return a.Replica < b.Replica
}

// Range is a run of consecutive units from one replica.
type Range struct {
	Replica string
	Clock   uint64
	Len     uint64
}

// Start returns the first ID in the range.
func (r Range) Start() ID {
	return ID{Replica: r.Replica, Clock: r.Clock}
}

// Contains reports whether id falls inside the range.
func (r Range) Contains(id ID) bool {
	return id.Replica == r.Replica && id.Clock >= r.Clock && id.Clock < r.Clock+r.Len
}

// End returns the last clock in the range. Len must be positive.
func (r Range) End() uint64 {
	return r.Clock + r.Len - 1
}

// All yields the member IDs in clock order without materializing them.
func (r Range) All() iter.Seq[ID] {
	return func(yield func(ID) bool) {
		for i := uint64(0); i < r.Len; i++ {
			if !yield(ID{Replica: r.Replica, Clock: r.Clock + i}) {
				return
			}
		}
	}
}

// Ranges compresses ids into maximal runs, preserving order. Adjacent IDs
// merge when they share a replica and have consecutive clocks.
func Ranges(ids []ID) []Range {
	var out []Range
	for _, id := range ids {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.Replica == id.Replica && last.Clock+last.Len == id.Clock {
				last.Len++
				continue
			}
		}
		out = append(out, Range{Replica: id.Replica, Clock: id.Clock, Len: 1})
	}
	return out
}

// TotalLen sums the lengths of ranges.
func TotalLen(ranges []Range) uint64 {
	var n uint64
	for _, r := range ranges {
		n += r.Len
	}
	return n
}
