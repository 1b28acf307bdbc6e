package doc

import (
	"fmt"
	"slices"

	"github.com/roach88/weave/internal/clock"
	"github.com/roach88/weave/internal/op"
	"github.com/roach88/weave/internal/value"
)

// mapItem is one write to a map key. Every write is retained so the
// document can re-synthesize it for peers that have not seen it.
type mapItem struct {
	id      clock.ID
	key     value.Value
	content value.Value
	deleted bool
}

// mapEntry is the register for one key. The winner is the write with the
// greatest (clock, replica); the key is absent when the winner is deleted.
type mapEntry struct {
	key       value.Value
	keyString string
	label     string
	items     []*mapItem
	winner    *mapItem
}

func (e *mapEntry) visible() *mapItem {
	if e.winner == nil || e.winner.deleted {
		return nil
	}
	return e.winner
}

// keyStrings returns the canonical identity of a key and the label it
// renders under in canonical state.
func keyStrings(key value.Value) (string, string, error) {
	canonical, err := value.MarshalCanonical(key)
	if err != nil {
		return "", "", fmt.Errorf("map key: %w", err)
	}
	if s, ok := key.(value.String); ok {
		return string(canonical), string(s), nil
	}
	return string(canonical), string(canonical), nil
}

func (c *container) entry(key value.Value) (*mapEntry, error) {
	ks, label, err := keyStrings(key)
	if err != nil {
		return nil, err
	}
	e, ok := c.entries[ks]
	if !ok {
		e = &mapEntry{key: key, keyString: ks, label: label}
		c.entries[ks] = e
	}
	return e, nil
}

// lookupEntry returns the entry for key without creating it.
func (c *container) lookupEntry(key value.Value) *mapEntry {
	ks, _, err := keyStrings(key)
	if err != nil {
		return nil
	}
	return c.entries[ks]
}

// applyMapInsert records a write. The incoming write replaces the winner
// only if its clock is strictly greater, or equal with a strictly greater
// replica; otherwise it is kept as superseded history.
func (d *Document) applyMapInsert(c *container, o op.Operation) error {
	e, err := c.entry(o.Key)
	if err != nil {
		return err
	}
	it := &mapItem{id: o.StartID(), key: o.Key, content: o.Content}
	e.items = append(e.items, it)
	c.items[it.id] = it
	if e.winner == nil || clock.Less(e.winner.id, it.id) {
		e.winner = it
	}
	if ref, ok := o.Content.(value.TypeRef); ok {
		d.adopt(c, it.id, o.Key, ref)
	}
	return nil
}

// applyMapDelete tombstones the targeted writes. Targets that are gone
// (compacted) are skipped.
func (d *Document) applyMapDelete(c *container, o op.Operation) {
	for _, r := range o.Targets {
		if r.Len > uint64(len(c.items)) {
			for id, it := range c.items {
				if r.Contains(id) {
					it.deleted = true
				}
			}
			continue
		}
		for id := range r.All() {
			if it, ok := c.items[id]; ok {
				it.deleted = true
			}
		}
	}
	c.log = append(c.log, o)
}

// sortedEntries returns entries ordered by canonical key.
func (c *container) sortedEntries() []*mapEntry {
	out := make([]*mapEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *mapEntry) int {
		switch {
		case a.keyString < b.keyString:
			return -1
		case a.keyString > b.keyString:
			return 1
		}
		return 0
	})
	return out
}

// compactMap drops superseded writes. The winner stays even when deleted
// so a late write with a lower clock still loses to it.
func (c *container) compactMap() []clock.ID {
	var removed []clock.ID
	for _, e := range c.sortedEntries() {
		kept := e.items[:0]
		for _, it := range e.items {
			if it == e.winner {
				kept = append(kept, it)
				continue
			}
			delete(c.items, it.id)
			removed = append(removed, it.id)
		}
		e.items = kept
	}
	return removed
}
