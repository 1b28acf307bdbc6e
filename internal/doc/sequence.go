package doc

import (
	"maps"

	"github.com/roach88/weave/internal/clock"
	"github.com/roach88/weave/internal/op"
	"github.com/roach88/weave/internal/value"
)

// Segment is a run of text (or a single embed) sharing attributes.
type Segment struct {
	Insert     value.Value
	Attributes map[string]value.Value

	unit clock.ID
}

// units splits insert content into sequence units.
func units(o op.Operation) []value.Value {
	if o.Kind == op.Embed {
		return []value.Value{o.Content}
	}
	return value.Units(o.Content)
}

// originFor maps an origin to what the engine can resolve: an integrated
// or redirected ID as is, an ID this document has seen but no longer
// holds as nil.
func (d *Document) originFor(c *container, id *clock.ID) *clock.ID {
	if id == nil || c.seq.CanResolve(id) {
		return id
	}
	return nil
}

// applySeqInsert integrates an Insert or Embed and returns the effective
// index of its first unit.
func (d *Document) applySeqInsert(c *container, o op.Operation) (int, error) {
	us := units(o)
	left, right := d.originFor(c, o.LeftOrigin), d.originFor(c, o.RightOrigin)
	if err := c.seq.Insert(o.StartID(), us, left, right); err != nil {
		return 0, err
	}

	for k, u := range us {
		id := clock.ID{Replica: o.ReplicaID, Clock: o.Clock + uint64(k)}
		for key, v := range o.Attributes {
			c.seq.SetAttribute(id, key, v, id)
		}
		if ref, ok := u.(value.TypeRef); ok {
			d.adopt(c, id, nil, ref)
		}
	}
	index, _ := c.seq.IndexOf(o.StartID())
	return index, nil
}

// applySeqDelete tombstones the targets and returns the effective index
// of the first visible target and how many visible units went away.
func (d *Document) applySeqDelete(c *container, o op.Operation) (int, int) {
	index, count := -1, 0
	for _, r := range o.Targets {
		for _, id := range c.seq.Members(r) {
			if index < 0 && !c.seq.IsDeleted(id) {
				index, _ = c.seq.IndexOf(id)
			}
			if c.seq.Delete(id) {
				c.deletedBy[id] = clock.ID{Replica: o.ReplicaID, Clock: o.End()}
				count++
			}
		}
	}
	c.log = append(c.log, o)
	return max(index, 0), count
}

// applySeqFormat sets attributes on the targets. The k-th target unit is
// set by clock o.Clock+k, which keeps formats comparable after slicing.
func (d *Document) applySeqFormat(c *container, o op.Operation) (int, int) {
	index, count := -1, 0
	k := uint64(0)
	for _, r := range o.Targets {
		for _, id := range c.seq.Members(r) {
			setter := clock.ID{Replica: o.ReplicaID, Clock: o.Clock + k + (id.Clock - r.Clock)}
			if index < 0 {
				index, _ = c.seq.IndexOf(id)
			}
			if !c.seq.IsDeleted(id) {
				count++
			}
			for key, v := range o.Attributes {
				c.seq.SetAttribute(id, key, v, setter)
			}
		}
		k += r.Len
	}
	c.log = append(c.log, o)
	return max(index, 0), count
}

// maxSetterClock returns the highest clock that last set any of keys on
// the targets. A local format must use a greater clock to take effect.
func (c *container) maxSetterClock(targets []clock.Range, attrs map[string]value.Value) uint64 {
	var highest uint64
	for _, r := range targets {
		for id := range r.All() {
			for key := range attrs {
				if s, ok := c.seq.Setter(id, key); ok && s.Clock > highest {
					highest = s.Clock
				}
			}
		}
	}
	return highest
}

// textDelta groups visible text into segments of equal attributes.
func textDelta(c *container) []Segment {
	var out []Segment
	for _, it := range c.seq.Items() {
		if it.Deleted {
			continue
		}
		s, isText := it.Content.(value.String)
		if n := len(out); n > 0 && isText {
			last := &out[n-1]
			if prev, ok := last.Insert.(value.String); ok && maps.EqualFunc(last.Attributes, it.Attributes, value.Equal) {
				last.Insert = prev + s
				continue
			}
		}
		out = append(out, Segment{Insert: it.Content, Attributes: it.Attributes, unit: it.ID})
	}
	return out
}
