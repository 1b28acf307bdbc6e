package ot

import (
	"maps"

	"github.com/roach88/weave/internal/clock"
	"github.com/roach88/weave/internal/op"
	"github.com/roach88/weave/internal/value"
)

// Priority breaks ties between inserts at the same position.
type Priority uint8

const (
	// ByClock orders the tied inserts by (clock, replica) ascending.
	ByClock Priority = iota
	// SelfFirst places self before other.
	SelfFirst
	// OtherFirst places other before self.
	OtherFirst
)

// Result is the bottom of the OT diamond.
//
// Self is self rewritten to apply after other, and Other is other rewritten
// to apply after self. When an insert lands strictly inside a delete or
// format range, that range is split around the insert: the rewritten
// operand holds the head piece and the matching Tail holds the remainder,
// indexed as if the head had already been applied.
type Result struct {
	Self      op.Operation
	Other     op.Operation
	SelfTail  *op.Operation
	OtherTail *op.Operation
	Reason    string
}

// SelfOps returns the rewritten self as an ordered list.
func (r Result) SelfOps() []op.Operation {
	if r.SelfTail != nil {
		return []op.Operation{r.Self, *r.SelfTail}
	}
	return []op.Operation{r.Self}
}

// OtherOps returns the rewritten other as an ordered list.
func (r Result) OtherOps() []op.Operation {
	if r.OtherTail != nil {
		return []op.Operation{r.Other, *r.OtherTail}
	}
	return []op.Operation{r.Other}
}

// Transform derives (self', other') for two concurrent operations.
// Combinations without a rule come back unchanged with an
// "unsupported:<a>-<b>" reason.
func Transform(self, other op.Operation, priority Priority) Result {
	if self.ParentID != other.ParentID {
		return Result{Self: self, Other: other, Reason: "independent"}
	}
	if self.Key != nil || other.Key != nil {
		return unsupported(self, other)
	}

	a, b := kindOf(self), kindOf(other)
	switch {
	case a == op.Insert && b == op.Insert:
		return insertInsert(self, other, priority)
	case a == op.Insert && b == op.Delete:
		ins, del, tail, reason := insertDelete(self, other)
		return Result{Self: ins, Other: del, OtherTail: tail, Reason: reason}
	case a == op.Delete && b == op.Insert:
		ins, del, tail, reason := insertDelete(other, self)
		return Result{Self: del, Other: ins, SelfTail: tail, Reason: reason}
	case a == op.Delete && b == op.Delete:
		return deleteDelete(self, other)
	case a == op.Format && b == op.Format:
		return formatFormat(self, other, priority)
	case a == op.Retain && b == op.Retain:
		return retainRetain(self, other)
	case a == op.Format && b == op.Insert:
		fmtOp, tail, reason := formatInsert(self, other)
		return Result{Self: fmtOp, Other: other, SelfTail: tail, Reason: reason}
	case a == op.Insert && b == op.Format:
		fmtOp, tail, reason := formatInsert(other, self)
		return Result{Self: self, Other: fmtOp, OtherTail: tail, Reason: reason}
	case a == op.Format && b == op.Delete:
		fmtOp, reason := formatDelete(self, other)
		return Result{Self: fmtOp, Other: other, Reason: reason}
	case a == op.Delete && b == op.Format:
		fmtOp, reason := formatDelete(other, self)
		return Result{Self: self, Other: fmtOp, Reason: reason}
	}
	return unsupported(self, other)
}

// kindOf folds Embed into Insert: an embed is a unit-length insert.
func kindOf(o op.Operation) op.Kind {
	if o.Kind == op.Embed {
		return op.Insert
	}
	return o.Kind
}

func unsupported(self, other op.Operation) Result {
	return Result{
		Self:   self,
		Other:  other,
		Reason: "unsupported:" + self.Kind.String() + "-" + other.Kind.String(),
	}
}

// selfWins reports whether self goes first when both insert at one index.
func selfWins(self, other op.Operation, priority Priority) bool {
	switch priority {
	case SelfFirst:
		return true
	case OtherFirst:
		return false
	}
	return clock.Less(
		clock.ID{Replica: self.ReplicaID, Clock: self.Clock},
		clock.ID{Replica: other.ReplicaID, Clock: other.Clock},
	)
}

func insertInsert(self, other op.Operation, priority Priority) Result {
	switch {
	case self.Index < other.Index:
		return Result{Self: self, Other: other.WithIndex(other.Index + self.Len()), Reason: "insert-insert:other-shifted"}
	case self.Index > other.Index:
		return Result{Self: self.WithIndex(self.Index + other.Len()), Other: other, Reason: "insert-insert:self-shifted"}
	case selfWins(self, other, priority):
		return Result{Self: self, Other: other.WithIndex(other.Index + self.Len()), Reason: "insert-insert:tie-self-first"}
	default:
		return Result{Self: self.WithIndex(self.Index + other.Len()), Other: other, Reason: "insert-insert:tie-other-first"}
	}
}

// insertDelete rewrites an insert and a delete against each other.
// The returned tail is the delete's remainder when the insert lands
// strictly inside the deleted range.
func insertDelete(ins, del op.Operation) (op.Operation, op.Operation, *op.Operation, string) {
	start, end, n := del.Index, del.Index+del.Length, ins.Len()
	switch {
	case ins.Index <= start:
		return ins, del.WithIndex(start + n), nil, "insert-delete:delete-shifted"
	case ins.Index >= end:
		return ins.WithIndex(ins.Index - del.Length), del, nil, "insert-delete:insert-shifted"
	}

	headLen := ins.Index - start
	head := del.Clone()
	head.Length = headLen
	head.Targets = takeUnits(del.Targets, uint64(headLen))

	tail := del.Clone()
	tail.Index = start + n
	tail.Length = del.Length - headLen
	tail.Targets = dropUnits(del.Targets, uint64(headLen))

	return ins.WithIndex(start), head, &tail, "insert-delete:insert-pinned"
}

func deleteDelete(self, other op.Operation) Result {
	aEnd, bEnd := self.Index+self.Length, other.Index+other.Length
	if aEnd <= other.Index {
		return Result{Self: self, Other: other.WithIndex(other.Index - self.Length), Reason: "delete-delete:other-shifted"}
	}
	if bEnd <= self.Index {
		return Result{Self: self.WithIndex(self.Index - other.Length), Other: other, Reason: "delete-delete:self-shifted"}
	}

	pos := min(self.Index, other.Index)
	overlap := max(0, min(aEnd, bEnd)-max(self.Index, other.Index))
	return Result{
		Self:   shrinkDelete(self, pos, overlap),
		Other:  shrinkDelete(other, pos, overlap),
		Reason: "delete-delete:overlap",
	}
}

// shrinkDelete removes the overlapping units from d; a delete that is
// fully absorbed becomes a zero-length retain.
func shrinkDelete(d op.Operation, pos, overlap int) op.Operation {
	out := d.Clone()
	out.Index = pos
	out.Length = d.Length - overlap
	if out.Length == 0 {
		out.Kind = op.Retain
		out.Targets = nil
	}
	return out
}

func formatFormat(self, other op.Operation, priority Priority) Result {
	aEnd, bEnd := self.Index+self.Length, other.Index+other.Length
	if aEnd <= other.Index || bEnd <= self.Index {
		return Result{Self: self, Other: other, Reason: "format-format:disjoint"}
	}

	// Both sides keep their own keys; duplicates take the winner's value.
	if selfWins(self, other, priority) {
		return Result{Self: self, Other: overrideKeys(other, self.Attributes), Reason: "format-format:self-wins"}
	}
	return Result{Self: overrideKeys(self, other.Attributes), Other: other, Reason: "format-format:other-wins"}
}

func overrideKeys(o op.Operation, winner map[string]value.Value) op.Operation {
	out := o.Clone()
	for k := range out.Attributes {
		if v, ok := winner[k]; ok {
			out.Attributes[k] = v
		}
	}
	return out
}

func retainRetain(self, other op.Operation) Result {
	combined := self.Clone()
	combined.Length = self.Length + other.Length
	combined.Attributes = MergeAttributes(self.Attributes, other.Attributes)
	absorbed := other.WithLength(0)
	return Result{Self: combined, Other: absorbed, Reason: "retain-retain:combined"}
}

// formatInsert shifts a format range around an insert. An insert strictly
// inside the range splits the format so the inserted content stays
// unformatted whichever order the two apply in.
func formatInsert(f, ins op.Operation) (op.Operation, *op.Operation, string) {
	start, end, n := f.Index, f.Index+f.Length, ins.Len()
	switch {
	case ins.Index <= start:
		return f.WithIndex(start + n), nil, "format-insert:format-shifted"
	case ins.Index >= end:
		return f, nil, "format-insert:unchanged"
	}

	headLen := ins.Index - start
	head := f.Clone()
	head.Length = headLen
	head.Targets = takeUnits(f.Targets, uint64(headLen))

	tail := f.Clone()
	tail.Index = ins.Index + n
	tail.Length = f.Length - headLen
	tail.Targets = dropUnits(f.Targets, uint64(headLen))
	return head, &tail, "format-insert:format-split"
}

// formatDelete maps a format range through a delete.
func formatDelete(f, del op.Operation) (op.Operation, string) {
	mapPos := func(x int) int {
		switch {
		case x <= del.Index:
			return x
		case x <= del.Index+del.Length:
			return del.Index
		default:
			return x - del.Length
		}
	}
	start, end := mapPos(f.Index), mapPos(f.Index+f.Length)
	out := f.Clone()
	out.Index = start
	out.Length = end - start
	if out.Length == 0 {
		out.Kind = op.Retain
		out.Attributes = nil
		out.Targets = nil
		return out, "format-delete:absorbed"
	}
	if out.Length == f.Length && start == f.Index {
		return out, "format-delete:unchanged"
	}
	return out, "format-delete:shifted"
}

// MergeAttributes unions two attribute maps; primary wins on duplicate keys.
// Returns nil when both are empty.
func MergeAttributes(primary, secondary map[string]value.Value) map[string]value.Value {
	if len(primary) == 0 && len(secondary) == 0 {
		return nil
	}
	out := make(map[string]value.Value, len(primary)+len(secondary))
	maps.Copy(out, secondary)
	maps.Copy(out, primary)
	return out
}

func takeUnits(ranges []clock.Range, n uint64) []clock.Range {
	var out []clock.Range
	for _, r := range ranges {
		if n == 0 {
			break
		}
		take := min(n, r.Len)
		out = append(out, clock.Range{Replica: r.Replica, Clock: r.Clock, Len: take})
		n -= take
	}
	return out
}

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
