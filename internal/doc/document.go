package doc

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/weave/internal/clock"
	"github.com/roach88/weave/internal/op"
	"github.com/roach88/weave/internal/value"
)

// Document is one replica of a collaborative document.
//
// All mutation is serialized: Transact, ApplyUpdate and Begin/Commit hold
// the document lock for their whole duration.
type Document struct {
	mu sync.Mutex

	replica    string
	alloc      *clock.Allocator
	idgen      clock.IDGenerator
	now        clock.TimeSource
	logger     *slog.Logger
	observers  []Observer
	historyCap int

	containers map[string]*container
	sv         clock.StateVector
	pending    []op.Operation
	parked     mapset.Set[clock.ID]
	orphans    []op.Operation
	history    map[string]*ring
	seq        uint64
}

// New creates an empty document for replica.
func New(replica string, opts ...Option) (*Document, error) {
	if replica == "" {
		return nil, fmt.Errorf("replica id is required")
	}
	d := &Document{
		replica:    replica,
		idgen:      clock.UUIDv7Generator{},
		now:        clock.SystemTime{},
		logger:     slog.Default(),
		historyCap: DefaultHistoryCapacity,
		containers: make(map[string]*container),
		sv:         clock.NewStateVector(),
		history:    make(map[string]*ring),
		parked:     mapset.NewThreadUnsafeSet[clock.ID](),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.alloc == nil {
		d.alloc = clock.NewAllocator()
	}
	return d, nil
}

// Replica returns the document's replica ID.
func (d *Document) Replica() string {
	return d.replica
}

// Begin opens a transaction and acquires the document lock. The caller
// must Commit or Abort it.
func (d *Document) Begin(origin string) *Transaction {
	d.mu.Lock()
	return d.begin(origin, true, false)
}

// Transact runs body in a transaction and commits it. If body fails or
// panics the transaction is aborted; edits already made stay applied.
func (d *Document) Transact(origin string, body func(tx *Transaction) error) (err error) {
	tx := d.Begin(origin)
	defer func() {
		if r := recover(); r != nil {
			tx.Abort(fmt.Errorf("panic in transaction: %v", r))
			panic(r)
		}
	}()
	if err := body(tx); err != nil {
		if abortErr := tx.Abort(err); abortErr != nil {
			return abortErr
		}
		return err
	}
	return tx.Commit()
}

// Read runs body in a read-only transaction. Edits inside it fail with
// ILLEGAL_STATE.
func (d *Document) Read(body func(tx *Transaction) error) error {
	d.mu.Lock()
	tx := d.begin("", true, true)
	defer tx.release()
	return body(tx)
}

// StateVector returns a copy of the document's state vector.
func (d *Document) StateVector() clock.StateVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sv.Clone()
}

// PendingCount returns how many received operations wait for missing
// dependencies.
func (d *Document) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Containers returns the names of all root containers, sorted.
func (d *Document) Containers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var names []string
	for name := range d.containers {
		if !isNested(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Kind returns the container type of name, or "" if it does not exist.
func (d *Document) Kind(name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.containers[name]; ok {
		return c.kind
	}
	return ""
}

// GetText returns the plain text of a Text container.
func (d *Document) GetText(name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c := d.view(name, value.KindText); c != nil {
		return c.seq.Text()
	}
	return ""
}

// GetArray returns the values of an Array container.
func (d *Document) GetArray(name string) []value.Value {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c := d.view(name, value.KindArray); c != nil {
		return c.seq.Values()
	}
	return nil
}

// GetMap returns the visible entries of a Map container keyed by label.
func (d *Document) GetMap(name string) value.Object {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(value.Object)
	if c := d.view(name, value.KindMap); c != nil {
		for _, e := range c.entries {
			if w := e.visible(); w != nil {
				out[e.label] = w.content
			}
		}
	}
	return out
}

// State returns the logical state of every non-empty root container, with
// nested containers rendered in place.
func (d *Document) State() value.Object {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state()
}

func (d *Document) state() value.Object {
	out := make(value.Object)
	for name, c := range d.containers {
		if isNested(name) || c.empty() {
			continue
		}
		out[name] = d.render(c)
	}
	return out
}

// CanonicalJSON renders State as canonical JSON. Two converged replicas
// produce identical bytes.
func (d *Document) CanonicalJSON() ([]byte, error) {
	return value.MarshalCanonical(d.State())
}
