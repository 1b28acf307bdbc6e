package doc

import (
	"maps"
	"slices"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/weave/internal/clock"
	"github.com/roach88/weave/internal/codec"
	"github.com/roach88/weave/internal/op"
	"github.com/roach88/weave/internal/value"
	"github.com/roach88/weave/internal/yata"
)

// EncodeStateVector returns the document's state vector in wire form.
func (d *Document) EncodeStateVector() ([]byte, error) {
	return codec.EncodeStateVector(d.StateVector())
}

// EncodeStateAsUpdate returns an update holding every operation the peer
// described by the encoded state vector target has not seen. An empty
// target yields the full state.
func (d *Document) EncodeStateAsUpdate(target []byte) ([]byte, error) {
	sv := clock.NewStateVector()
	if len(target) > 0 {
		var err error
		if sv, err = codec.DecodeStateVector(target); err != nil {
			return nil, err
		}
	}
	return d.EncodeDiff(sv)
}

// EncodeDiff is EncodeStateAsUpdate with a decoded state vector.
func (d *Document) EncodeDiff(target clock.StateVector) ([]byte, error) {
	d.mu.Lock()
	ops := d.missing(target)
	d.mu.Unlock()
	return codec.EncodeUpdate(ops)
}

// Operations returns every operation the document can re-synthesize, in
// (clock, replica) order.
func (d *Document) Operations() []op.Operation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.missing(clock.NewStateVector())
}

// missing re-synthesizes the operations target lacks. Inserts are rebuilt
// from the integrated units, so merged runs come back as single
// operations; everything else replays from the container logs.
func (d *Document) missing(target clock.StateVector) []op.Operation {
	var out []op.Operation
	emit := func(o op.Operation) {
		have := target.Get(o.ReplicaID)
		if have >= o.End() {
			return
		}
		if have >= o.Clock {
			sliced, err := o.Slice(int(have - o.Clock + 1))
			if err != nil {
				d.logger.Warn("cannot slice operation for peer",
					"op", o.ID,
					"have", have,
					"error", err,
				)
				return
			}
			o = sliced
		}
		out = append(out, o)
	}

	names := slices.Sorted(maps.Keys(d.containers))
	for _, name := range names {
		c := d.containers[name]
		if c.isSequence() {
			d.sequenceInserts(c, emit)
		} else {
			d.mapInserts(c, emit)
		}
		for _, o := range c.log {
			emit(o)
		}
		for _, o := range c.compacted {
			emit(o)
		}
	}
	for _, o := range d.orphans {
		emit(o)
	}
	for _, o := range d.pending {
		emit(o)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Clock != b.Clock {
			return a.Clock < b.Clock
		}
		return a.ReplicaID < b.ReplicaID
	})
	return out
}

// sequenceInserts rebuilds insert operations from a sequence's units.
// Consecutive units from one replica that chain left to right and share
// right origin and own attributes fold into one operation.
func (d *Document) sequenceInserts(c *container, emit func(op.Operation)) {
	var run *op.Operation
	flush := func() {
		if run != nil {
			emit(*run)
			run = nil
		}
	}

	pos := 0
	for _, it := range c.seq.Items() {
		kind := op.Insert
		content := it.Content
		if c.kind == value.KindArray {
			content = value.Array{it.Content}
		} else if _, ok := it.Content.(value.String); !ok {
			kind = op.Embed
		}

		if run != nil && kind == op.Insert && continues(run, it) {
			if merged, err := value.Concat(run.Content, content); err == nil {
				run.Content = merged
				if !it.Deleted {
					pos++
				}
				continue
			}
		}
		flush()
		run = &op.Operation{
			ID:            op.NewID(it.ID.Replica, it.ID.Clock, ""),
			ReplicaID:     it.ID.Replica,
			Clock:         it.ID.Clock,
			Kind:          kind,
			ContainerType: c.kind,
			ParentID:      c.name,
			Index:         pos,
			Content:       content,
			Attributes:    cloneAttrs(it.OwnAttributes),
			LeftOrigin:    cloneID(it.LeftOrigin),
			RightOrigin:   cloneID(it.RightOrigin),
		}
		if !it.Deleted {
			pos++
		}
	}
	flush()
}

// continues reports whether it extends run as the next unit typed.
func continues(run *op.Operation, it yata.Item) bool {
	if run.Kind != op.Insert || it.ID.Replica != run.ReplicaID || it.ID.Clock != run.End()+1 {
		return false
	}
	last := clock.ID{Replica: run.ReplicaID, Clock: run.End()}
	if it.LeftOrigin == nil || *it.LeftOrigin != last {
		return false
	}
	if (it.RightOrigin == nil) != (run.RightOrigin == nil) {
		return false
	}
	if it.RightOrigin != nil && *it.RightOrigin != *run.RightOrigin {
		return false
	}
	return maps.EqualFunc(it.OwnAttributes, run.Attributes, value.Equal)
}

func cloneID(id *clock.ID) *clock.ID {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

// mapInserts rebuilds one insert per retained map write.
func (d *Document) mapInserts(c *container, emit func(op.Operation)) {
	for _, e := range c.sortedEntries() {
		for _, it := range e.items {
			emit(op.Operation{
				ID:            op.NewID(it.id.Replica, it.id.Clock, ""),
				ReplicaID:     it.id.Replica,
				Clock:         it.id.Clock,
				Kind:          op.Insert,
				ContainerType: c.kind,
				ParentID:      c.name,
				Key:           it.key,
				Content:       it.content,
			})
		}
	}
}

// Compact discards superseded map writes and the tombstones no future
// operation can reference, replacing them with retains so peers still see
// a gap-free clock range. It returns how many units were removed.
//
// peers are the state vectors of every other replica that may still send
// operations. A tombstone goes only once every peer has seen its delete and
// this document has seen everything every peer had: any insert naming it as
// an origin was authored before its author saw the delete, so it is already
// integrated here and keeps the tombstone referenced. With no peers the
// document is taken to be the only replica.
func (d *Document) Compact(peers ...clock.StateVector) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	caughtUp := true
	for _, p := range peers {
		if !d.sv.Dominates(p) {
			caughtUp = false
		}
	}
	waiting := mapset.NewThreadUnsafeSet[clock.ID]()
	for _, o := range d.pending {
		for _, origin := range []*clock.ID{o.LeftOrigin, o.RightOrigin} {
			if origin != nil {
				waiting.Add(*origin)
			}
		}
	}

	total := 0
	for _, name := range slices.Sorted(maps.Keys(d.containers)) {
		c := d.containers[name]
		var removed []clock.ID
		if c.isSequence() {
			if !caughtUp {
				continue
			}
			removed = c.seq.Compact(func(id clock.ID) bool {
				by, ok := c.deletedBy[id]
				if !ok || waiting.Contains(id) {
					return false
				}
				for _, p := range peers {
					if !p.Contains(by.Replica, by.Clock) {
						return false
					}
				}
				return true
			})
			for _, id := range removed {
				delete(c.deletedBy, id)
			}
		} else {
			removed = c.compactMap()
		}
		if len(removed) == 0 {
			continue
		}
		slices.SortFunc(removed, clock.ID.Compare)
		for _, r := range clock.Ranges(removed) {
			c.compacted = append(c.compacted, op.Operation{
				ID:            op.NewID(r.Replica, r.Clock, ""),
				ReplicaID:     r.Replica,
				Clock:         r.Clock,
				Kind:          op.Retain,
				ContainerType: c.kind,
				ParentID:      c.name,
				Length:        int(r.Len),
			})
		}
		total += len(removed)
	}

	d.logger.Info("document compacted",
		"replica", d.replica,
		"removed", total,
	)
	return total
}
