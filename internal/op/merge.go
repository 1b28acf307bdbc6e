package op

import (
	"maps"

	"github.com/roach88/weave/internal/clock"
	"github.com/roach88/weave/internal/value"
)

// CanMergeWith reports whether o and next coalesce into one operation.
//
// Both must share replica, kind and container, and next must start at the
// clock directly after o. Kind-specific adjacency on top of that:
//   - Insert: next continues at o.Index+o.Len(), its left origin is o's last
//     unit and both share a right origin; payloads concatenate
//   - Delete: both start at the same index (forward delete)
//   - Retain: identical attributes
//
// Format and Embed never merge; neither do map operations.
func (o Operation) CanMergeWith(next Operation) bool {
	if o.ReplicaID != next.ReplicaID || o.Kind != next.Kind {
		return false
	}
	if o.ContainerType != next.ContainerType || o.ParentID != next.ParentID {
		return false
	}
	if o.Key != nil || next.Key != nil {
		return false
	}
	if next.Clock != o.Clock+o.Span() {
		return false
	}

	switch o.Kind {
	case Insert:
		if o.Index+o.Len() != next.Index {
			return false
		}
		if _, err := value.Concat(o.Content, next.Content); err != nil {
			return false
		}
		if !sameAttributes(o.Attributes, next.Attributes) {
			return false
		}
		if o.IsSequence() {
			last := clock.ID{Replica: o.ReplicaID, Clock: o.End()}
			if next.LeftOrigin == nil || *next.LeftOrigin != last {
				return false
			}
			return sameOrigin(o.RightOrigin, next.RightOrigin)
		}
		return true
	case Delete:
		return o.Index == next.Index
	case Retain:
		return sameAttributes(o.Attributes, next.Attributes)
	default:
		return false
	}
}

// MergeWith coalesces o and next. It fails with UNSUPPORTED when the pair
// cannot merge (see CanMergeWith).
func (o Operation) MergeWith(next Operation) (Operation, error) {
	if !o.CanMergeWith(next) {
		return Operation{}, Unsupported("merge", o.Kind, next.Kind)
	}

	out := o.Clone()
	switch o.Kind {
	case Insert:
		content, err := value.Concat(o.Content, next.Content)
		if err != nil {
			return Operation{}, Unsupported("merge", o.Kind, next.Kind)
		}
		out.Content = content
	case Delete, Retain:
		out.Length = o.Length + next.Length
		out.Targets = joinRanges(o.Targets, next.Targets)
	}
	return out, nil
}

// Inverse returns the operation that undoes o. Only Insert and Embed have
// an inverse: a Delete of the same units at the same index. The result has
// no clock; the caller allocates one when applying it.
func (o Operation) Inverse() (Operation, error) {
	if o.Kind != Insert && o.Kind != Embed {
		return Operation{}, Unsupported("inverse", o.Kind)
	}
	inv := Operation{
		ReplicaID:     o.ReplicaID,
		Kind:          Delete,
		ContainerType: o.ContainerType,
		ParentID:      o.ParentID,
		Key:           o.Key,
		Index:         o.Index,
		Length:        o.Len(),
		Origin:        o.Origin,
		Targets:       []clock.Range{{Replica: o.ReplicaID, Clock: o.Clock, Len: uint64(o.Len())}},
	}
	if o.Key != nil {
		inv.Length = 1
		inv.Targets = []clock.Range{{Replica: o.ReplicaID, Clock: o.Clock, Len: 1}}
	}
	return inv, nil
}

// Coalesce folds adjacent mergeable operations, preserving order.
func Coalesce(ops []Operation) []Operation {
	if len(ops) < 2 {
		return ops
	}
	out := make([]Operation, 0, len(ops))
	cur := ops[0]
	for _, next := range ops[1:] {
		if merged, err := cur.MergeWith(next); err == nil {
			cur = merged
			continue
		}
		out = append(out, cur)
		cur = next
	}
	return append(out, cur)
}

func joinRanges(a, b []clock.Range) []clock.Range {
	out := make([]clock.Range, 0, len(a)+len(b))
	out = append(out, a...)
	for _, r := range b {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.Replica == r.Replica && last.Clock+last.Len == r.Clock {
				last.Len += r.Len
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

func sameOrigin(a, b *clock.ID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameAttributes(a, b map[string]value.Value) bool {
	return maps.EqualFunc(a, b, value.Equal)
}
