package doc

import (
	"slices"

	"github.com/roach88/weave/internal/clock"
	"github.com/roach88/weave/internal/op"
)

// entry is one applied operation with its document-wide application order.
// The operation's Index is its effective position at application time.
type entry struct {
	seq uint64
	op  op.Operation
}

// ring is a fixed-capacity buffer; the oldest entry is evicted first.
type ring struct {
	buf   []entry
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]entry, capacity)}
}

func (r *ring) push(e entry) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = e
		r.size++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) each(fn func(entry)) {
	for i := 0; i < r.size; i++ {
		fn(r.buf[(r.start+i)%len(r.buf)])
	}
}

// record appends o to its replica's history window.
func (d *Document) record(o op.Operation) {
	if o.Kind == op.Retain {
		return
	}
	h, ok := d.history[o.ReplicaID]
	if !ok {
		h = newRing(d.historyCap)
		d.history[o.ReplicaID] = h
	}
	d.seq++
	h.push(entry{seq: d.seq, op: o})
}

// conflicting returns the operations on container that basis has not seen,
// in application order, skipping entries at or after skipFrom that came
// from skipReplica. Operations that fell out of the history window are
// silently missing.
func (d *Document) conflicting(container string, basis clock.StateVector, skipReplica string, skipFrom uint64) []op.Operation {
	var found []entry
	for _, h := range d.history {
		h.each(func(e entry) {
			if e.op.ParentID != container || basis.Contains(e.op.ReplicaID, e.op.Clock) {
				return
			}
			if e.op.ReplicaID == skipReplica && e.seq >= skipFrom {
				return
			}
			found = append(found, e)
		})
	}
	slices.SortFunc(found, func(a, b entry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	out := make([]op.Operation, len(found))
	for i, e := range found {
		out[i] = e.op
	}
	return out
}

// ConflictingOperations returns the history operations on container that a
// peer at basis has not seen, in the order this document applied them.
func (d *Document) ConflictingOperations(container string, basis clock.StateVector) []op.Operation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conflicting(container, basis, "", 0)
}

// ReconcileIndex re-derives the index of an array insert authored before
// the conflicting inserts were applied. Conflicts are visited in (clock,
// replica) order; each insert positioned before self, or at the same index
// and sorting before self, shifts the index right by its length.
func ReconcileIndex(self op.Operation, conflicts []op.Operation) int {
	sorted := slices.Clone(conflicts)
	slices.SortFunc(sorted, func(a, b op.Operation) int {
		ai, bi := a.StartID(), b.StartID()
		switch {
		case clock.Less(ai, bi):
			return -1
		case clock.Less(bi, ai):
			return 1
		}
		return 0
	})

	index := self.Index
	for _, c := range sorted {
		if c.Kind != op.Insert && c.Kind != op.Embed {
			continue
		}
		if c.Index < index || (c.Index == index && clock.Less(c.StartID(), self.StartID())) {
			index += c.Len()
		}
	}
	return index
}
