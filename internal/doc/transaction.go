package doc

import (
	"fmt"
	"maps"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/weave/internal/clock"
	"github.com/roach88/weave/internal/codec"
	"github.com/roach88/weave/internal/op"
	"github.com/roach88/weave/internal/ot"
	"github.com/roach88/weave/internal/value"
)

// Status is a transaction's lifecycle state.
type Status int

const (
	Active Status = iota
	Committing
	Committed
	Aborted
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Committing:
		return "committing"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Transaction is a batch of edits applied under the document lock.
//
// Edits mutate the containers immediately, so later reads in the same
// transaction see them. Commit coalesces adjacent same-replica operations
// and notifies observers. Handles and reads are valid until Commit or
// Abort returns.
type Transaction struct {
	doc      *Document
	origin   string
	local    bool
	readOnly bool
	status   Status
	released bool

	ops     []op.Operation
	touched mapset.Set[string]

	basis    clock.StateVector
	startSeq uint64
}

func (d *Document) begin(origin string, local, readOnly bool) *Transaction {
	return &Transaction{
		doc:      d,
		origin:   origin,
		local:    local,
		readOnly: readOnly,
		status:   Active,
		touched:  mapset.NewThreadUnsafeSet[string](),
		startSeq: d.seq + 1,
	}
}

func (t *Transaction) release() {
	if !t.released {
		t.released = true
		t.doc.mu.Unlock()
	}
}

// Status returns the lifecycle state.
func (t *Transaction) Status() Status {
	return t.status
}

// Origin returns the provenance tag the transaction was opened with.
func (t *Transaction) Origin() string {
	return t.origin
}

// Operations returns the operations applied so far, uncoalesced.
func (t *Transaction) Operations() []op.Operation {
	return append([]op.Operation(nil), t.ops...)
}

// Touched returns the names of containers the transaction changed.
func (t *Transaction) Touched() []string {
	return t.touched.ToSlice()
}

// SetBasis declares that later index-based edits were authored against
// sv. Each edit is rebased over the operations sv has not seen before it
// is applied.
func (t *Transaction) SetBasis(sv clock.StateVector) {
	t.basis = sv.Clone()
}

// Commit coalesces the transaction's operations, notifies observers and
// releases the document lock.
func (t *Transaction) Commit() error {
	if t.readOnly {
		return op.IllegalState("commit of read-only transaction")
	}
	if t.status != Active {
		return op.IllegalState("commit of %s transaction", t.status)
	}
	t.status = Committing

	ops := op.Coalesce(t.ops)
	update, err := codec.EncodeUpdate(ops)
	if err != nil {
		cause := fmt.Errorf("encode commit: %w", err)
		t.abort(cause)
		return cause
	}

	ev := t.event(ops, update, nil)
	t.doc.notify(phaseBefore, ev)
	t.status = Committed
	t.doc.notify(phaseAfter, ev)

	t.doc.logger.Debug("transaction committed",
		"replica", t.doc.replica,
		"origin", t.origin,
		"local", t.local,
		"ops", len(ops),
	)
	t.release()
	return nil
}

// Abort ends the transaction without rolling back applied edits and
// notifies observers with cause.
func (t *Transaction) Abort(cause error) error {
	if t.status == Committed || t.status == Aborted {
		return op.IllegalState("abort of %s transaction", t.status)
	}
	t.abort(cause)
	return nil
}

func (t *Transaction) abort(cause error) {
	t.status = Aborted
	if !t.readOnly {
		ops := op.Coalesce(t.ops)
		update, err := codec.EncodeUpdate(ops)
		if err != nil {
			update = nil
		}
		t.doc.notify(phaseAbort, t.event(ops, update, cause))
		t.doc.logger.Warn("transaction aborted",
			"replica", t.doc.replica,
			"origin", t.origin,
			"applied", len(t.ops),
			"error", cause,
		)
	}
	t.release()
}

func (t *Transaction) event(ops []op.Operation, update []byte, cause error) CommitEvent {
	return CommitEvent{
		Origin:      t.origin,
		Local:       t.local,
		Operations:  ops,
		Update:      update,
		StateVector: t.doc.sv.Clone(),
		Cause:       cause,
	}
}

func (t *Transaction) writable() error {
	if t.readOnly {
		return op.IllegalState("edit in read-only transaction")
	}
	if t.status != Active {
		return op.IllegalState("edit in %s transaction", t.status)
	}
	return nil
}

func (t *Transaction) open() bool {
	return !t.released
}

// draft builds an unallocated local operation on c.
func (t *Transaction) draft(c *container, kind op.Kind, clk uint64) op.Operation {
	d := t.doc
	return op.Operation{
		ID:            op.NewID(d.replica, clk, d.idgen.Generate()),
		ReplicaID:     d.replica,
		Clock:         clk,
		Kind:          kind,
		ContainerType: c.kind,
		ParentID:      c.name,
		Timestamp:     d.now.Now(),
		Origin:        t.origin,
	}
}

// shape builds the positional shape of an edit before any clock is
// allocated, for rebasing.
func (t *Transaction) shape(c *container, kind op.Kind) op.Operation {
	return op.Operation{
		ReplicaID:     t.doc.replica,
		Kind:          kind,
		ContainerType: c.kind,
		ParentID:      c.name,
	}
}

// reserve allocates n clocks for a local operation on c that must beat
// clock after. Clocks skipped to get there are covered by a filler retain
// so the replica's clocks stay gap-free.
func (t *Transaction) reserve(c *container, n int, after uint64) (uint64, error) {
	d := t.doc
	next := d.sv.Get(d.replica) + 1
	d.alloc.Observe(d.replica, max(next-1, after))
	clk := d.alloc.Reserve(d.replica, uint64(n))
	if clk > next {
		filler := t.draft(c, op.Retain, next)
		filler.Length = int(clk - next)
		if err := t.apply(filler); err != nil {
			return 0, err
		}
	}
	return clk, nil
}

// apply integrates a local operation.
func (t *Transaction) apply(o op.Operation) error {
	res, applied, err := t.doc.integrate(o)
	if err != nil {
		return err
	}
	if res != outcomeApplied {
		return op.IllegalState("local operation %s was %s", o.ID, res)
	}
	applied.ID = o.ID
	t.ops = append(t.ops, applied)
	t.touched.Add(o.ParentID)
	return nil
}

// rebase rewrites a positional draft over the operations the basis has
// not seen. Array inserts against insert-only history use ReconcileIndex;
// everything else goes through the transform matrix.
func (t *Transaction) rebase(c *container, o op.Operation) []op.Operation {
	if t.basis == nil {
		return []op.Operation{o}
	}
	conflicts := t.doc.conflicting(c.name, t.basis, t.doc.replica, t.startSeq)
	if len(conflicts) == 0 {
		return []op.Operation{o}
	}
	o.Clock = t.doc.sv.Get(t.doc.replica) + 1

	if c.kind == value.KindArray && o.Kind == op.Insert && onlyInserts(conflicts) {
		o.Index = ReconcileIndex(o, conflicts)
		return []op.Operation{o}
	}
	return ot.Rebase(o, conflicts)
}

func onlyInserts(ops []op.Operation) bool {
	for _, o := range ops {
		if o.Kind != op.Insert && o.Kind != op.Embed {
			return false
		}
	}
	return true
}

func (t *Transaction) sequence(name string) (*container, error) {
	c, ok := t.doc.containers[name]
	if !ok {
		return nil, op.IllegalState("container %q does not exist", name)
	}
	if !c.isSequence() {
		return nil, op.IllegalState("container %q is %s, not a sequence", name, c.kind)
	}
	return c, nil
}

// insertSeq inserts content at index of a Text or Array container and
// returns the applied operation.
func (t *Transaction) insertSeq(name, kind string, k op.Kind, index int, content value.Value, attrs map[string]value.Value) (op.Operation, error) {
	if err := t.writable(); err != nil {
		return op.Operation{}, err
	}
	c, err := t.doc.lookup(name, kind)
	if err != nil {
		return op.Operation{}, err
	}

	shape := t.shape(c, k)
	shape.Index, shape.Content = index, content
	n := shape.Len()
	if n == 0 {
		return op.Operation{}, nil
	}
	index = t.rebase(c, shape)[0].Index
	index = min(max(index, 0), c.seq.Length())

	left, right, err := c.seq.Origins(index)
	if err != nil {
		return op.Operation{}, err
	}
	clk, err := t.reserve(c, n, 0)
	if err != nil {
		return op.Operation{}, err
	}
	o := t.draft(c, k, clk)
	o.Index = index
	o.Content = content
	o.Attributes = cloneAttrs(attrs)
	o.LeftOrigin, o.RightOrigin = left, right
	return o, t.apply(o)
}

func cloneAttrs(attrs map[string]value.Value) map[string]value.Value {
	if len(attrs) == 0 {
		return nil
	}
	return maps.Clone(attrs)
}

// InsertText inserts s at index of Text container name, optionally with
// attributes.
func (t *Transaction) InsertText(name string, index int, s string, attrs map[string]value.Value) error {
	_, err := t.insertSeq(name, value.KindText, op.Insert, index, value.String(s), attrs)
	return err
}

// InsertEmbed inserts one non-text unit (an image, a nested container)
// at index of Text container name.
func (t *Transaction) InsertEmbed(name string, index int, embed value.Value, attrs map[string]value.Value) error {
	if _, ok := embed.(value.String); ok || embed == nil {
		return fmt.Errorf("embed must be a non-string value")
	}
	_, err := t.insertSeq(name, value.KindText, op.Embed, index, embed, attrs)
	return err
}

// InsertArray inserts values at index of Array container name.
func (t *Transaction) InsertArray(name string, index int, values ...value.Value) error {
	_, err := t.insertSeq(name, value.KindArray, op.Insert, index, value.Array(values), nil)
	return err
}

// Delete removes length units starting at index of a Text or Array.
func (t *Transaction) Delete(name string, index, length int) error {
	if err := t.writable(); err != nil {
		return err
	}
	if length < 0 {
		return fmt.Errorf("negative delete length %d", length)
	}
	if length == 0 {
		return nil
	}
	c, err := t.sequence(name)
	if err != nil {
		return err
	}

	shape := t.shape(c, op.Delete)
	shape.Index, shape.Length = index, length
	for _, piece := range t.rebase(c, shape) {
		if piece.Kind != op.Delete || piece.Length <= 0 {
			continue
		}
		if err := t.deleteAt(c, piece.Index, piece.Length); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transaction) deleteAt(c *container, index, length int) error {
	targets, err := c.seq.TargetsAt(index, length)
	if err != nil {
		return fmt.Errorf("delete from %q: %w", c.name, err)
	}
	clk, err := t.reserve(c, length, 0)
	if err != nil {
		return err
	}
	o := t.draft(c, op.Delete, clk)
	o.Index, o.Length, o.Targets = index, length, targets
	return t.apply(o)
}

// Format sets attributes on length characters starting at index of Text
// container name. A value.Null attribute clears the key.
func (t *Transaction) Format(name string, index, length int, attrs map[string]value.Value) error {
	if err := t.writable(); err != nil {
		return err
	}
	if length <= 0 || len(attrs) == 0 {
		return nil
	}
	c, err := t.sequence(name)
	if err != nil {
		return err
	}
	if c.kind != value.KindText {
		return op.IllegalState("format on %s container %q", c.kind, name)
	}

	shape := t.shape(c, op.Format)
	shape.Index, shape.Length, shape.Attributes = index, length, attrs
	for _, piece := range t.rebase(c, shape) {
		if piece.Kind != op.Format || piece.Length <= 0 {
			continue
		}
		if err := t.formatAt(c, piece.Index, piece.Length, attrs); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transaction) formatAt(c *container, index, length int, attrs map[string]value.Value) error {
	targets, err := c.seq.TargetsAt(index, length)
	if err != nil {
		return fmt.Errorf("format %q: %w", c.name, err)
	}
	clk, err := t.reserve(c, length, c.maxSetterClock(targets, attrs))
	if err != nil {
		return err
	}
	o := t.draft(c, op.Format, clk)
	o.Index, o.Length, o.Targets = index, length, targets
	o.Attributes = cloneAttrs(attrs)
	return t.apply(o)
}

// SetMap writes key in Map container name. The write always wins over
// every write this document has seen.
func (t *Transaction) SetMap(name string, key, v value.Value) error {
	_, err := t.setMap(name, key, v)
	return err
}

func (t *Transaction) setMap(name string, key, v value.Value) (op.Operation, error) {
	if err := t.writable(); err != nil {
		return op.Operation{}, err
	}
	if key == nil {
		return op.Operation{}, fmt.Errorf("map key is required")
	}
	if v == nil {
		v = value.Null{}
	}
	c, err := t.doc.lookup(name, value.KindMap)
	if err != nil {
		return op.Operation{}, err
	}

	var after uint64
	if e := c.lookupEntry(key); e != nil && e.winner != nil {
		after = e.winner.id.Clock
	}
	clk, err := t.reserve(c, 1, after)
	if err != nil {
		return op.Operation{}, err
	}
	o := t.draft(c, op.Insert, clk)
	o.Key, o.Content = key, v
	return o, t.apply(o)
}

// DeleteMap removes key from Map container name. Deleting an absent key
// is a no-op.
func (t *Transaction) DeleteMap(name string, key value.Value) error {
	if err := t.writable(); err != nil {
		return err
	}
	c := t.doc.view(name, value.KindMap)
	if c == nil {
		return nil
	}
	e := c.lookupEntry(key)
	if e == nil || e.visible() == nil {
		return nil
	}
	clk, err := t.reserve(c, 1, 0)
	if err != nil {
		return err
	}
	o := t.draft(c, op.Delete, clk)
	o.Key, o.Length = key, 1
	o.Targets = []clock.Range{{Replica: e.winner.id.Replica, Clock: e.winner.id.Clock, Len: 1}}
	return t.apply(o)
}

// InsertContainer creates a nested container of kind inside parent and
// returns its name. key addresses a Map parent; index a Text or Array
// parent.
func (t *Transaction) InsertContainer(parent string, key value.Value, index int, kind string) (string, error) {
	if err := t.writable(); err != nil {
		return "", err
	}
	if !value.ValidKind(kind) {
		return "", fmt.Errorf("unknown container kind %q", kind)
	}
	c, ok := t.doc.containers[parent]
	if !ok {
		return "", op.IllegalState("container %q does not exist", parent)
	}
	ref := value.TypeRef{Kind: kind}

	var o op.Operation
	var err error
	switch c.kind {
	case value.KindMap:
		o, err = t.setMap(parent, key, ref)
	case value.KindArray:
		o, err = t.insertSeq(parent, value.KindArray, op.Insert, index, value.Array{ref}, nil)
	default:
		o, err = t.insertSeq(parent, value.KindText, op.Embed, index, ref, nil)
	}
	if err != nil {
		return "", err
	}
	return childName(o.StartID()), nil
}

// Revert undoes an insert made earlier: the units it created that are
// still visible are deleted.
func (t *Transaction) Revert(o op.Operation) error {
	if err := t.writable(); err != nil {
		return err
	}
	inv, err := o.Inverse()
	if err != nil {
		return err
	}
	if inv.Key != nil {
		c := t.doc.view(inv.ParentID, value.KindMap)
		if c == nil {
			return nil
		}
		if e := c.lookupEntry(inv.Key); e != nil && e.visible() != nil && e.winner.id == o.StartID() {
			return t.DeleteMap(inv.ParentID, inv.Key)
		}
		return nil
	}

	c, err := t.sequence(inv.ParentID)
	if err != nil {
		return err
	}
	var live []clock.ID
	for _, r := range inv.Targets {
		for _, id := range c.seq.Members(r) {
			if !c.seq.IsDeleted(id) {
				live = append(live, id)
			}
		}
	}
	if len(live) == 0 {
		return nil
	}
	index, _ := c.seq.IndexOf(live[0])
	clk, err := t.reserve(c, len(live), 0)
	if err != nil {
		return err
	}
	del := t.draft(c, op.Delete, clk)
	del.Index, del.Length, del.Targets = index, len(live), clock.Ranges(live)
	return t.apply(del)
}
