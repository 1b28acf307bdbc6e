package doc

import (
	"fmt"

	"github.com/roach88/weave/internal/clock"
	"github.com/roach88/weave/internal/codec"
	"github.com/roach88/weave/internal/op"
	"github.com/roach88/weave/internal/value"
)

// outcome is what integrate did with an operation.
type outcome int

const (
	outcomeApplied outcome = iota
	outcomeCovered
	outcomeParked
	outcomeDropped
)

func (o outcome) String() string {
	switch o {
	case outcomeApplied:
		return "applied"
	case outcomeCovered:
		return "covered"
	case outcomeParked:
		return "parked"
	case outcomeDropped:
		return "dropped"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// ApplyUpdate decodes payload and integrates its operations in one remote
// transaction. Operations whose dependencies are missing wait in the
// pending queue. A malformed payload changes nothing.
func (d *Document) ApplyUpdate(payload []byte, origin string) error {
	return d.ApplyUpdates(origin, payload)
}

// ApplyUpdates integrates several payloads in one remote transaction.
// Every payload is decoded and validated before any operation is applied.
func (d *Document) ApplyUpdates(origin string, payloads ...[]byte) error {
	var ops []op.Operation
	for i, p := range payloads {
		decoded, err := codec.DecodeUpdate(p)
		if err != nil {
			return fmt.Errorf("update %d: %w", i, err)
		}
		ops = append(ops, decoded...)
	}

	d.mu.Lock()
	if err := d.checkKinds(ops); err != nil {
		d.mu.Unlock()
		return err
	}
	tx := d.begin(origin, false, false)

	for _, o := range ops {
		res, applied, err := d.integrate(o)
		if err != nil {
			cause := op.MergeFailed(fmt.Sprintf("integrate %s", o.ID), err)
			tx.abort(cause)
			return cause
		}
		switch res {
		case outcomeApplied:
			tx.ops = append(tx.ops, applied)
			tx.touched.Add(applied.ParentID)
		case outcomeParked:
			d.park(applied)
		}
	}
	if err := d.drain(tx); err != nil {
		tx.abort(err)
		return err
	}
	return tx.Commit()
}

// checkKinds rejects operations that disagree with each other, with the
// pending queue or with existing containers about a root's kind.
func (d *Document) checkKinds(ops []op.Operation) error {
	kinds := make(map[string]string)
	for _, p := range d.pending {
		kinds[p.ParentID] = p.ContainerType
	}
	for _, o := range ops {
		if o.ParentID == "" {
			return op.Malformed("operation %s has no container", o.ID)
		}
		if isNested(o.ParentID) {
			if _, ok := nestedOwner(o.ParentID); !ok {
				return op.Malformed("operation %s: bad nested container %q", o.ID, o.ParentID)
			}
			continue
		}
		if c, ok := d.containers[o.ParentID]; ok && c.kind != o.ContainerType {
			return op.Malformed("operation %s: container %q is %s, not %s", o.ID, o.ParentID, c.kind, o.ContainerType)
		}
		if k, ok := kinds[o.ParentID]; ok && k != o.ContainerType {
			return op.Malformed("operation %s: container %q used as both %s and %s", o.ID, o.ParentID, k, o.ContainerType)
		}
		kinds[o.ParentID] = o.ContainerType
	}
	return nil
}

// integrate applies o if its clock is next for its replica and every unit
// it references is integrated or known to be gone. The returned operation
// is the part that was applied, with its effective index.
func (d *Document) integrate(o op.Operation) (outcome, op.Operation, error) {
	have := d.sv.Get(o.ReplicaID)
	if have >= o.End() {
		return outcomeCovered, o, nil
	}
	if have >= o.Clock {
		sliced, err := o.Slice(int(have - o.Clock + 1))
		if err != nil {
			return 0, o, err
		}
		o = sliced
	}
	if have+1 < o.Clock {
		return outcomeParked, o, nil
	}

	c, res := d.target(o)
	switch {
	case res == outcomeParked:
		return res, o, nil
	case res == outcomeDropped:
		d.drop(o, "container is gone")
		return res, o, nil
	case c.kind != o.ContainerType:
		d.drop(o, "container kind mismatch")
		return outcomeDropped, o, nil
	}
	if !d.ready(c, o) {
		return outcomeParked, o, nil
	}

	applied, hist, err := d.dispatch(c, o)
	if err != nil {
		return 0, o, err
	}
	d.advance(o)
	d.record(hist)
	return outcomeApplied, applied, nil
}

// target resolves the container o edits. Roots appear on first use.
// A nested container that does not exist yet waits for its creating
// unit, unless that unit is already covered.
func (d *Document) target(o op.Operation) (*container, outcome) {
	if c, ok := d.containers[o.ParentID]; ok {
		return c, outcomeApplied
	}
	if !isNested(o.ParentID) {
		if o.ParentID == "" || !value.ValidKind(o.ContainerType) {
			return nil, outcomeDropped
		}
		c := newContainer(o.ParentID, o.ContainerType)
		d.containers[o.ParentID] = c
		return c, outcomeApplied
	}
	owner, ok := nestedOwner(o.ParentID)
	if !ok || d.sv.Contains(owner.Replica, owner.Clock) {
		return nil, outcomeDropped
	}
	return nil, outcomeParked
}

// ready reports whether everything o references is integrated or gone.
func (d *Document) ready(c *container, o op.Operation) bool {
	switch {
	case c.isSequence() && (o.Kind == op.Insert || o.Kind == op.Embed):
		return d.known(c, o.LeftOrigin) && d.known(c, o.RightOrigin)
	case c.isSequence() && (o.Kind == op.Delete || o.Kind == op.Format):
		return d.targetsKnown(o, c.seq.Has)
	case !c.isSequence() && o.Kind == op.Delete:
		return d.targetsKnown(o, func(id clock.ID) bool {
			_, ok := c.items[id]
			return ok
		})
	}
	return true
}

func (d *Document) known(c *container, id *clock.ID) bool {
	return id == nil || c.seq.CanResolve(id) || d.sv.Contains(id.Replica, id.Clock)
}

// targetsKnown reports whether every target range is covered by the state
// vector or integrated. Only the part of a range past the vector is walked.
func (d *Document) targetsKnown(o op.Operation, has func(clock.ID) bool) bool {
	for _, r := range o.Targets {
		if r.Len == 0 || d.sv.Contains(r.Replica, r.End()) {
			continue
		}
		first := max(r.Clock, d.sv.Get(r.Replica)+1)
		rest := clock.Range{Replica: r.Replica, Clock: first, Len: r.End() - first + 1}
		for id := range rest.All() {
			if !has(id) {
				return false
			}
		}
	}
	return true
}

// dispatch applies o to c. It returns o with its effective index and the
// positional copy kept in history.
func (d *Document) dispatch(c *container, o op.Operation) (op.Operation, op.Operation, error) {
	applied := o
	hist := o
	switch o.Kind {
	case op.Insert, op.Embed:
		if !c.isSequence() {
			if o.Key == nil {
				c.log = append(c.log, o)
				return applied, hist, nil
			}
			return applied, hist, d.applyMapInsert(c, o)
		}
		index, err := d.applySeqInsert(c, o)
		if err != nil {
			return applied, hist, err
		}
		applied.Index, hist.Index = index, index
	case op.Delete:
		if !c.isSequence() {
			d.applyMapDelete(c, o)
			return applied, hist, nil
		}
		index, n := d.applySeqDelete(c, o)
		applied.Index = index
		hist.Index, hist.Length = index, n
	case op.Format:
		if !c.isSequence() {
			c.log = append(c.log, o)
			return applied, hist, nil
		}
		index, n := d.applySeqFormat(c, o)
		applied.Index = index
		hist.Index, hist.Length = index, n
	default:
		c.log = append(c.log, o)
	}
	return applied, hist, nil
}

// advance marks o's clocks as integrated.
func (d *Document) advance(o op.Operation) {
	d.sv.Update(o.ReplicaID, o.End())
	d.alloc.Observe(o.ReplicaID, o.End())
}

// drop consumes o's clocks without applying it and keeps it for
// re-synthesis, so peers stay gap-free and drop it the same way.
func (d *Document) drop(o op.Operation, reason string) {
	d.advance(o)
	d.orphans = append(d.orphans, o)
	d.logger.Warn("operation dropped",
		"replica", d.replica,
		"op", o.ID,
		"container", o.ParentID,
		"reason", reason,
	)
}

// park queues o until its dependencies arrive.
func (d *Document) park(o op.Operation) {
	id := o.StartID()
	if d.parked.Contains(id) {
		return
	}
	d.parked.Add(id)
	d.pending = append(d.pending, o)
	d.logger.Debug("operation parked",
		"replica", d.replica,
		"op", o.ID,
		"pending", len(d.pending),
	)
}

// drain integrates pending operations until no more make progress.
func (d *Document) drain(tx *Transaction) error {
	for progress := true; progress && len(d.pending) > 0; {
		progress = false
		var rest []op.Operation
		for _, p := range d.pending {
			res, applied, err := d.integrate(p)
			if err != nil {
				return op.MergeFailed(fmt.Sprintf("integrate pending %s", p.ID), err)
			}
			switch res {
			case outcomeParked:
				rest = append(rest, p)
				continue
			case outcomeApplied:
				tx.ops = append(tx.ops, applied)
				tx.touched.Add(applied.ParentID)
			}
			d.parked.Remove(p.StartID())
			progress = true
		}
		d.pending = rest
	}
	return nil
}
