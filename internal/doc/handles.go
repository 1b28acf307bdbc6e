package doc

import (
	"github.com/roach88/weave/internal/value"
)

// Text is a handle on a Text container inside a transaction.
type Text struct {
	tx   *Transaction
	name string
}

// Text returns a handle on the Text container name.
func (t *Transaction) Text(name string) Text {
	return Text{tx: t, name: name}
}

// Name returns the container name.
func (x Text) Name() string { return x.name }

// Insert inserts s at index.
func (x Text) Insert(index int, s string) error {
	return x.tx.InsertText(x.name, index, s, nil)
}

// InsertFormatted inserts s at index with attributes.
func (x Text) InsertFormatted(index int, s string, attrs map[string]value.Value) error {
	return x.tx.InsertText(x.name, index, s, attrs)
}

// Embed inserts a single non-text unit at index.
func (x Text) Embed(index int, v value.Value, attrs map[string]value.Value) error {
	return x.tx.InsertEmbed(x.name, index, v, attrs)
}

// EmbedContainer embeds a new nested container at index and returns its
// name.
func (x Text) EmbedContainer(index int, kind string) (string, error) {
	if err := x.tx.writable(); err != nil {
		return "", err
	}
	if _, err := x.tx.doc.lookup(x.name, value.KindText); err != nil {
		return "", err
	}
	return x.tx.InsertContainer(x.name, nil, index, kind)
}

// Delete removes n characters starting at index.
func (x Text) Delete(index, n int) error {
	return x.tx.Delete(x.name, index, n)
}

// Format applies attributes to n characters starting at index.
func (x Text) Format(index, n int, attrs map[string]value.Value) error {
	return x.tx.Format(x.name, index, n, attrs)
}

// String returns the visible text, embeds rendered as U+FFFC.
func (x Text) String() string {
	if c := x.container(); c != nil {
		return c.seq.Text()
	}
	return ""
}

// Len returns the number of visible units.
func (x Text) Len() int {
	if c := x.container(); c != nil {
		return c.seq.Length()
	}
	return 0
}

// Delta returns the visible content as formatted segments.
func (x Text) Delta() []Segment {
	if c := x.container(); c != nil {
		return textDelta(c)
	}
	return nil
}

func (x Text) container() *container {
	if !x.tx.open() {
		return nil
	}
	return x.tx.doc.view(x.name, value.KindText)
}

// Array is a handle on an Array container inside a transaction.
type Array struct {
	tx   *Transaction
	name string
}

// Array returns a handle on the Array container name.
func (t *Transaction) Array(name string) Array {
	return Array{tx: t, name: name}
}

// Name returns the container name.
func (a Array) Name() string { return a.name }

// Insert inserts values at index.
func (a Array) Insert(index int, values ...value.Value) error {
	return a.tx.InsertArray(a.name, index, values...)
}

// Push appends values.
func (a Array) Push(values ...value.Value) error {
	return a.tx.InsertArray(a.name, a.Len(), values...)
}

// InsertContainer inserts a new nested container at index and returns its
// name.
func (a Array) InsertContainer(index int, kind string) (string, error) {
	if err := a.tx.writable(); err != nil {
		return "", err
	}
	if _, err := a.tx.doc.lookup(a.name, value.KindArray); err != nil {
		return "", err
	}
	return a.tx.InsertContainer(a.name, nil, index, kind)
}

// Delete removes n elements starting at index.
func (a Array) Delete(index, n int) error {
	return a.tx.Delete(a.name, index, n)
}

// Get returns the element at index.
func (a Array) Get(index int) (value.Value, bool) {
	c := a.container()
	if c == nil {
		return nil, false
	}
	it, ok := c.seq.ItemAtPosition(index)
	if !ok {
		return nil, false
	}
	return it.Content, true
}

// Values returns the visible elements.
func (a Array) Values() []value.Value {
	if c := a.container(); c != nil {
		return c.seq.Values()
	}
	return nil
}

// Len returns the number of visible elements.
func (a Array) Len() int {
	if c := a.container(); c != nil {
		return c.seq.Length()
	}
	return 0
}

func (a Array) container() *container {
	if !a.tx.open() {
		return nil
	}
	return a.tx.doc.view(a.name, value.KindArray)
}

// Map is a handle on a Map container inside a transaction.
type Map struct {
	tx   *Transaction
	name string
}

// Map returns a handle on the Map container name.
func (t *Transaction) Map(name string) Map {
	return Map{tx: t, name: name}
}

// Name returns the container name.
func (m Map) Name() string { return m.name }

// Set writes a string key.
func (m Map) Set(key string, v value.Value) error {
	return m.tx.SetMap(m.name, value.String(key), v)
}

// SetKey writes an arbitrary key.
func (m Map) SetKey(key, v value.Value) error {
	return m.tx.SetMap(m.name, key, v)
}

// SetContainer stores a new nested container under key and returns its
// name.
func (m Map) SetContainer(key string, kind string) (string, error) {
	if err := m.tx.writable(); err != nil {
		return "", err
	}
	if _, err := m.tx.doc.lookup(m.name, value.KindMap); err != nil {
		return "", err
	}
	return m.tx.InsertContainer(m.name, value.String(key), 0, kind)
}

// Delete removes a string key.
func (m Map) Delete(key string) error {
	return m.tx.DeleteMap(m.name, value.String(key))
}

// Get returns the value stored under a string key.
func (m Map) Get(key string) (value.Value, bool) {
	return m.GetKey(value.String(key))
}

// GetKey returns the value stored under key.
func (m Map) GetKey(key value.Value) (value.Value, bool) {
	c := m.container()
	if c == nil {
		return nil, false
	}
	e := c.lookupEntry(key)
	if e == nil {
		return nil, false
	}
	w := e.visible()
	if w == nil {
		return nil, false
	}
	return w.content, true
}

// Has reports whether a string key is present.
func (m Map) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Keys returns the labels of present keys in canonical key order.
func (m Map) Keys() []string {
	c := m.container()
	if c == nil {
		return nil
	}
	var keys []string
	for _, e := range c.sortedEntries() {
		if e.visible() != nil {
			keys = append(keys, e.label)
		}
	}
	return keys
}

// Len returns the number of present keys.
func (m Map) Len() int {
	return len(m.Keys())
}

func (m Map) container() *container {
	if !m.tx.open() {
		return nil
	}
	return m.tx.doc.view(m.name, value.KindMap)
}
