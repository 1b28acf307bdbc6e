package op

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/roach88/weave/internal/clock"
	"github.com/roach88/weave/internal/value"
)

// Kind is the operation kind.
type Kind uint8

const (
	Insert Kind = iota + 1
	Delete
	Retain
	Format
	Embed
)

var kindNames = map[Kind]string{
	Insert: "insert",
	Delete: "delete",
	Retain: "retain",
	Format: "format",
	Embed:  "embed",
}

// String returns the lower-case kind name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown operation kind %q", s)
}

// Operation is one atomic edit. See the package comment for clock spans.
type Operation struct {
	// ID is derived from replica, clock and a local random suffix.
	// Two operations are equal iff their IDs are equal.
	ID string

	ReplicaID string
	Clock     uint64
	Kind      Kind

	// ContainerType is the logical type name of the target container
	// (value.KindText, value.KindMap or value.KindArray).
	ContainerType string

	// ParentID names the owning container instance: a root name, or
	// "#replica:clock" for a nested container.
	ParentID string

	// Key addresses a map entry. Nil for sequence operations.
	Key value.Value

	// Index is the authoring-time position. Sequence convergence never
	// depends on it; it feeds positional transforms and diagnostics.
	Index int

	// Content is the payload of Insert and Embed.
	Content value.Value

	// Length is the unit count of Delete, Retain and Format.
	Length int

	// Attributes carries format metadata.
	Attributes map[string]value.Value

	// Timestamp is wall-clock time at authoring. Never used for ordering.
	Timestamp time.Time

	// Origin is a free-form provenance tag (e.g. "local", "sync:peer").
	Origin string

	// LeftOrigin and RightOrigin are the neighbors of the insertion point
	// at authoring time (nil = document start/end).
	LeftOrigin  *clock.ID
	RightOrigin *clock.ID

	// Targets are the unit IDs a Delete, Retain or Format affects.
	Targets []clock.Range
}

// NewID derives an operation ID.
func NewID(replica string, c uint64, suffix string) string {
	id := replica + ":" + strconv.FormatUint(c, 10)
	if suffix != "" {
		id += ":" + suffix
	}
	return id
}

// Equal reports whether two operations are the same operation.
func (o Operation) Equal(other Operation) bool {
	return o.ID == other.ID
}

// Len returns the operation's length in content units.
func (o Operation) Len() int {
	switch o.Kind {
	case Insert:
		return value.Len(o.Content)
	case Embed:
		return 1
	default:
		return o.Length
	}
}

// Span returns the number of clocks the operation occupies (at least 1).
func (o Operation) Span() uint64 {
	if n := o.Len(); n > 0 {
		return uint64(n)
	}
	return 1
}

// End returns the last clock the operation occupies.
func (o Operation) End() uint64 {
	return o.Clock + o.Span() - 1
}

// StartID returns the ID of the first unit the operation creates.
func (o Operation) StartID() clock.ID {
	return clock.ID{Replica: o.ReplicaID, Clock: o.Clock}
}

// IsSequence reports whether the operation targets a sequence container.
func (o Operation) IsSequence() bool {
	return o.ContainerType == value.KindText || o.ContainerType == value.KindArray
}

// Clone returns a deep copy of the mutable parts.
func (o Operation) Clone() Operation {
	out := o
	if o.Attributes != nil {
		out.Attributes = maps.Clone(o.Attributes)
	}
	if o.Targets != nil {
		out.Targets = slices.Clone(o.Targets)
	}
	if o.LeftOrigin != nil {
		l := *o.LeftOrigin
		out.LeftOrigin = &l
	}
	if o.RightOrigin != nil {
		r := *o.RightOrigin
		out.RightOrigin = &r
	}
	return out
}

// WithIndex returns a copy positioned at index.
func (o Operation) WithIndex(index int) Operation {
	out := o.Clone()
	out.Index = index
	return out
}

// WithLength returns a copy with a new length (Delete/Retain/Format).
func (o Operation) WithLength(length int) Operation {
	out := o.Clone()
	out.Length = length
	return out
}

// Slice drops the first offset clocks, returning the operation that
// remains. Used when a peer has already seen a prefix of the operation.
func (o Operation) Slice(offset int) (Operation, error) {
	if offset <= 0 {
		return o, nil
	}
	if uint64(offset) >= o.Span() {
		return Operation{}, fmt.Errorf("slice offset %d exceeds span %d", offset, o.Span())
	}

	out := o.Clone()
	out.Clock = o.Clock + uint64(offset)
	out.ID = NewID(o.ReplicaID, out.Clock, "")

	switch o.Kind {
	case Insert:
		out.Content = value.Slice(o.Content, offset, o.Len())
		out.Index = o.Index + offset
		if o.IsSequence() {
			left := clock.ID{Replica: o.ReplicaID, Clock: out.Clock - 1}
			out.LeftOrigin = &left
		}
	case Delete, Retain, Format:
		out.Length = o.Length - offset
		out.Targets = dropUnits(o.Targets, uint64(offset))
	default:
		return Operation{}, Unsupported("slice", o.Kind)
	}
	return out, nil
}

// dropUnits removes the first n units from a list of ranges.
func dropUnits(ranges []clock.Range, n uint64) []clock.Range {
	var out []clock.Range
	for _, r := range ranges {
		if n >= r.Len {
			n -= r.Len
			continue
		}
		out = append(out, clock.Range{Replica: r.Replica, Clock: r.Clock + n, Len: r.Len - n})
		n = 0
	}
	return out
}

// String renders a compact description for logs and diagnostics.
func (o Operation) String() string {
	return fmt.Sprintf("%s %s@%s:%d[%s idx=%d len=%d]", o.Kind, o.ParentID, o.ReplicaID, o.Clock, o.ContainerType, o.Index, o.Len())
}
