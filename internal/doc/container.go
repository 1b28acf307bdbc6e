package doc

import (
	"slices"
	"strings"

	"github.com/roach88/weave/internal/clock"
	"github.com/roach88/weave/internal/op"
	"github.com/roach88/weave/internal/value"
	"github.com/roach88/weave/internal/yata"
)

// parentRef points from a nested container to the unit holding it.
// Lookup only; the document registry owns every container.
type parentRef struct {
	container string
	key       value.Value
	unit      clock.ID
}

// container is one named Map, Array or Text instance.
type container struct {
	name   string
	kind   string
	parent *parentRef

	// seq backs Text and Array. deletedBy maps each tombstone to the last
	// clock of the delete that removed it here.
	seq       *yata.Engine
	deletedBy map[clock.ID]clock.ID

	// entries and items back Map.
	entries map[string]*mapEntry
	items   map[clock.ID]*mapItem

	// log holds the applied operations that are not inserts (deletes,
	// formats, retains) in application order, for re-synthesis.
	log []op.Operation

	// compacted holds retains standing in for units removed by Compact.
	compacted []op.Operation
}

func newContainer(name, kind string) *container {
	c := &container{name: name, kind: kind}
	switch kind {
	case value.KindMap:
		c.entries = make(map[string]*mapEntry)
		c.items = make(map[clock.ID]*mapItem)
	default:
		c.seq = yata.New()
		c.deletedBy = make(map[clock.ID]clock.ID)
	}
	return c
}

func (c *container) isSequence() bool {
	return c.seq != nil
}

// empty reports whether c has no visible content.
func (c *container) empty() bool {
	if c.isSequence() {
		return c.seq.Length() == 0
	}
	for _, e := range c.entries {
		if e.visible() != nil {
			return false
		}
	}
	return true
}

// childName names the nested container created by the unit id.
func childName(id clock.ID) string {
	return "#" + id.String()
}

// isNested reports whether name refers to a nested container.
func isNested(name string) bool {
	return strings.HasPrefix(name, "#")
}

// nestedOwner returns the unit that created a nested container.
func nestedOwner(name string) (clock.ID, bool) {
	if !isNested(name) {
		return clock.ID{}, false
	}
	id, err := clock.ParseID(name[1:])
	return id, err == nil
}

// root returns the root container name, creating it on first use.
func (d *Document) root(name, kind string) (*container, error) {
	if c, ok := d.containers[name]; ok {
		if c.kind != kind {
			return nil, op.IllegalState("container %q is %s, not %s", name, c.kind, kind)
		}
		return c, nil
	}
	if name == "" || isNested(name) {
		return nil, op.IllegalState("invalid root container name %q", name)
	}
	c := newContainer(name, kind)
	d.containers[name] = c
	return c, nil
}

// lookup returns a container of the given kind for writing: roots are
// created lazily, nested containers must already exist.
func (d *Document) lookup(name, kind string) (*container, error) {
	if isNested(name) {
		c, ok := d.containers[name]
		if !ok {
			return nil, op.IllegalState("nested container %q does not exist", name)
		}
		if c.kind != kind {
			return nil, op.IllegalState("container %q is %s, not %s", name, c.kind, kind)
		}
		return c, nil
	}
	return d.root(name, kind)
}

// view returns an existing container of kind, or nil.
func (d *Document) view(name, kind string) *container {
	c, ok := d.containers[name]
	if !ok || c.kind != kind {
		return nil
	}
	return c
}

// adopt creates the nested container for a TypeRef unit.
func (d *Document) adopt(parent *container, unit clock.ID, key value.Value, ref value.TypeRef) {
	name := childName(unit)
	if _, ok := d.containers[name]; ok {
		return
	}
	child := newContainer(name, ref.Kind)
	child.parent = &parentRef{container: parent.name, key: key, unit: unit}
	d.containers[name] = child
}

// Path returns the chain of container names from the root down to name.
func (d *Document) Path(name string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var path []string
	for c, ok := d.containers[name]; ok; {
		path = append(path, c.name)
		if c.parent == nil {
			break
		}
		c, ok = d.containers[c.parent.container]
	}
	slices.Reverse(path)
	return path
}

// render produces the logical value of c for canonical state output.
func (d *Document) render(c *container) value.Value {
	switch c.kind {
	case value.KindMap:
		obj := make(value.Object)
		for _, e := range c.entries {
			if w := e.visible(); w != nil {
				obj[e.label] = d.renderValue(w.content, w.id)
			}
		}
		return obj
	case value.KindArray:
		items := c.seq.Items()
		arr := make(value.Array, 0, c.seq.Length())
		for _, it := range items {
			if !it.Deleted {
				arr = append(arr, d.renderValue(it.Content, it.ID))
			}
		}
		return arr
	default:
		return d.renderText(c)
	}
}

// renderValue replaces TypeRefs with the nested container's value.
func (d *Document) renderValue(v value.Value, unit clock.ID) value.Value {
	if _, ok := v.(value.TypeRef); ok {
		if child, ok := d.containers[childName(unit)]; ok {
			return d.render(child)
		}
	}
	return v
}

// renderText returns a plain string for unformatted text and a delta
// (array of {insert, attributes}) otherwise.
func (d *Document) renderText(c *container) value.Value {
	segments := textDelta(c)
	plain := true
	for _, s := range segments {
		if _, ok := s.Insert.(value.String); !ok || len(s.Attributes) > 0 {
			plain = false
			break
		}
	}
	if plain {
		return value.String(c.seq.Text())
	}

	delta := make(value.Array, 0, len(segments))
	for _, s := range segments {
		seg := value.Object{"insert": d.renderValue(s.Insert, s.unit)}
		if len(s.Attributes) > 0 {
			seg["attributes"] = value.Object(s.Attributes)
		}
		delta = append(delta, seg)
	}
	return delta
}
