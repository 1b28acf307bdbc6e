package yata

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/weave/internal/clock"
	"github.com/roach88/weave/internal/value"
)

// ErrMissingOrigin is returned when an insert names an origin that was
// never integrated.
var ErrMissingOrigin = errors.New("origin not integrated")

const (
	head = 0
	tail = 1
)

type attr struct {
	val    value.Value
	setter clock.ID
}

type item struct {
	id          clock.ID
	content     value.Value
	leftOrigin  *clock.ID
	rightOrigin *clock.ID
	left, right int
	deleted     bool
	attrs       map[string]attr
}

type redirect struct {
	left, right *clock.ID
}

// Item is a read-only view of one unit.
type Item struct {
	ID          clock.ID
	Content     value.Value
	LeftOrigin  *clock.ID
	RightOrigin *clock.ID
	Deleted     bool
	Attributes  map[string]value.Value

	// OwnAttributes are the attributes set by the insert itself and not
	// overwritten since, null values included.
	OwnAttributes map[string]value.Value
}

// Engine is one sequence instance.
type Engine struct {
	items     []item
	free      []int
	byID      map[clock.ID]int
	redirects map[clock.ID]redirect
	sv        clock.StateVector
	visible   int
}

// New creates an empty sequence.
func New() *Engine {
	e := &Engine{
		items:     make([]item, 2, 64),
		byID:      make(map[clock.ID]int),
		redirects: make(map[clock.ID]redirect),
		sv:        clock.NewStateVector(),
	}
	e.items[head] = item{left: -1, right: tail}
	e.items[tail] = item{left: head, right: -1}
	return e
}

func (e *Engine) alloc(it item) int {
	if n := len(e.free); n > 0 {
		idx := e.free[n-1]
		e.free = e.free[:n-1]
		e.items[idx] = it
		return idx
	}
	e.items = append(e.items, it)
	return len(e.items) - 1
}

// resolve maps an origin to an arena index, following compaction
// redirects. A nil origin resolves to the sentinel.
func (e *Engine) resolve(id *clock.ID, leftSide bool) (int, error) {
	sentinel := tail
	if leftSide {
		sentinel = head
	}
	for hops := 0; id != nil; hops++ {
		if idx, ok := e.byID[*id]; ok {
			return idx, nil
		}
		r, ok := e.redirects[*id]
		if !ok || hops > len(e.redirects) {
			return 0, fmt.Errorf("%w: %s", ErrMissingOrigin, id)
		}
		if leftSide {
			id = r.left
		} else {
			id = r.right
		}
	}
	return sentinel, nil
}

// CanResolve reports whether an origin is integrated, redirected, or nil.
func (e *Engine) CanResolve(id *clock.ID) bool {
	_, err := e.resolve(id, true)
	return err == nil
}

// Insert integrates len(units) items with consecutive clocks starting at
// first. Unit k>0 has the previous unit as its left origin; every unit
// shares rightOrigin. Units that are already present are skipped.
func (e *Engine) Insert(first clock.ID, units []value.Value, leftOrigin, rightOrigin *clock.ID) error {
	left := leftOrigin
	for k, u := range units {
		id := clock.ID{Replica: first.Replica, Clock: first.Clock + uint64(k)}
		if _, ok := e.byID[id]; !ok {
			if err := e.integrate(id, u, left, rightOrigin); err != nil {
				return err
			}
		}
		prev := id
		left = &prev
	}
	return nil
}

// integrate splices one item into the chain. See the package comment.
func (e *Engine) integrate(id clock.ID, content value.Value, leftOrigin, rightOrigin *clock.ID) error {
	left, err := e.resolve(leftOrigin, true)
	if err != nil {
		return err
	}
	right, err := e.resolve(rightOrigin, false)
	if err != nil {
		return err
	}

	conflicting := mapset.NewThreadUnsafeSet[clock.ID]()
	beforeOrigin := mapset.NewThreadUnsafeSet[clock.ID]()

	for o := e.items[left].right; o != right && o != tail; o = e.items[o].right {
		other := &e.items[o]
		beforeOrigin.Add(other.id)
		conflicting.Add(other.id)

		if sameOrigin(other.leftOrigin, leftOrigin) {
			if other.id.Compare(id) < 0 {
				left = o
				conflicting.Clear()
			} else if sameOrigin(other.rightOrigin, rightOrigin) {
				break
			}
		} else if other.leftOrigin != nil && beforeOrigin.Contains(*other.leftOrigin) {
			if !conflicting.Contains(*other.leftOrigin) {
				left = o
				conflicting.Clear()
			}
		} else {
			break
		}
	}

	var lo, ro *clock.ID
	if leftOrigin != nil {
		l := *leftOrigin
		lo = &l
	}
	if rightOrigin != nil {
		r := *rightOrigin
		ro = &r
	}

	next := e.items[left].right
	idx := e.alloc(item{
		id:          id,
		content:     content,
		leftOrigin:  lo,
		rightOrigin: ro,
		left:        left,
		right:       next,
	})
	e.items[left].right = idx
	e.items[next].left = idx
	e.byID[id] = idx
	e.sv.Update(id.Replica, id.Clock)
	e.visible++
	return nil
}

func sameOrigin(a, b *clock.ID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Delete tombstones the item with id. Reports whether anything changed.
func (e *Engine) Delete(id clock.ID) bool {
	idx, ok := e.byID[id]
	if !ok || e.items[idx].deleted {
		return false
	}
	e.items[idx].deleted = true
	e.visible--
	return true
}

// DeleteRange tombstones n visible units starting at index and returns
// their IDs.
func (e *Engine) DeleteRange(index, n int) ([]clock.Range, error) {
	targets, err := e.TargetsAt(index, n)
	if err != nil {
		return nil, err
	}
	for _, r := range targets {
		for id := range r.All() {
			e.Delete(id)
		}
	}
	return targets, nil
}

// Members returns the IDs of r the engine holds, tombstones included, in
// clock order. It walks the range or the index, whichever is shorter, so a
// range far larger than the document costs no more than the document.
func (e *Engine) Members(r clock.Range) []clock.ID {
	var out []clock.ID
	if r.Len <= uint64(len(e.byID)) {
		for id := range r.All() {
			if _, ok := e.byID[id]; ok {
				out = append(out, id)
			}
		}
		return out
	}
	for id := range e.byID {
		if r.Contains(id) {
			out = append(out, id)
		}
	}
	slices.SortFunc(out, func(a, b clock.ID) int { return a.Compare(b) })
	return out
}

// Has reports whether id is integrated (tombstoned or not).
func (e *Engine) Has(id clock.ID) bool {
	_, ok := e.byID[id]
	return ok
}

// IsDeleted reports whether id is tombstoned. Unknown IDs are not.
func (e *Engine) IsDeleted(id clock.ID) bool {
	idx, ok := e.byID[id]
	return ok && e.items[idx].deleted
}

// Length returns the number of visible units.
func (e *Engine) Length() int {
	return e.visible
}

// StateVector returns the highest clock integrated per replica.
func (e *Engine) StateVector() clock.StateVector {
	return e.sv.Clone()
}

// walk calls fn for every item in chain order until fn returns false.
func (e *Engine) walk(fn func(idx int) bool) {
	for i := e.items[head].right; i != tail; i = e.items[i].right {
		if !fn(i) {
			return
		}
	}
}

// Text renders visible units. String units are concatenated; any other
// unit renders as value.EmbedRune.
func (e *Engine) Text() string {
	var b strings.Builder
	e.walk(func(i int) bool {
		it := &e.items[i]
		if it.deleted {
			return true
		}
		if s, ok := it.content.(value.String); ok {
			b.WriteString(string(s))
		} else {
			b.WriteRune(value.EmbedRune)
		}
		return true
	})
	return b.String()
}

// Values returns the visible units in order.
func (e *Engine) Values() []value.Value {
	out := make([]value.Value, 0, e.visible)
	e.walk(func(i int) bool {
		if !e.items[i].deleted {
			out = append(out, e.items[i].content)
		}
		return true
	})
	return out
}

// visibleAt returns the arena index of the n-th visible unit, or -1.
func (e *Engine) visibleAt(n int) int {
	if n < 0 || n >= e.visible {
		return -1
	}
	found := -1
	e.walk(func(i int) bool {
		if e.items[i].deleted {
			return true
		}
		if n == 0 {
			found = i
			return false
		}
		n--
		return true
	})
	return found
}

// ItemAtPosition returns the visible unit at index n.
func (e *Engine) ItemAtPosition(n int) (Item, bool) {
	idx := e.visibleAt(n)
	if idx < 0 {
		return Item{}, false
	}
	return e.view(idx), true
}

// Origins returns the origins a local insert at index must carry: the
// visible unit at index-1 and the one at index, nil at either end.
func (e *Engine) Origins(index int) (left, right *clock.ID, err error) {
	if index < 0 || index > e.visible {
		return nil, nil, fmt.Errorf("index %d out of range [0,%d]", index, e.visible)
	}
	if index > 0 {
		id := e.items[e.visibleAt(index-1)].id
		left = &id
	}
	if index < e.visible {
		id := e.items[e.visibleAt(index)].id
		right = &id
	}
	return left, right, nil
}

// TargetsAt returns the IDs of the n visible units starting at index.
func (e *Engine) TargetsAt(index, n int) ([]clock.Range, error) {
	if index < 0 || n < 0 || index+n > e.visible {
		return nil, fmt.Errorf("range [%d,%d) out of range [0,%d]", index, index+n, e.visible)
	}
	ids := make([]clock.ID, 0, n)
	pos := 0
	e.walk(func(i int) bool {
		if e.items[i].deleted {
			return true
		}
		if pos >= index {
			ids = append(ids, e.items[i].id)
		}
		pos++
		return len(ids) < n
	})
	return clock.Ranges(ids), nil
}

// IndexOf returns the visible position of id: the number of visible units
// before it.
func (e *Engine) IndexOf(id clock.ID) (int, bool) {
	target, ok := e.byID[id]
	if !ok {
		return 0, false
	}
	pos := 0
	e.walk(func(i int) bool {
		if i == target {
			return false
		}
		if !e.items[i].deleted {
			pos++
		}
		return true
	})
	return pos, true
}

// SetAttribute sets key on unit id if setter is newer than the last setter
// of that key (clock, then replica). A value.Null clears the key while
// keeping the setter for later comparisons.
func (e *Engine) SetAttribute(id clock.ID, key string, val value.Value, setter clock.ID) bool {
	idx, ok := e.byID[id]
	if !ok {
		return false
	}
	it := &e.items[idx]
	if cur, ok := it.attrs[key]; ok && !clock.Less(cur.setter, setter) {
		return false
	}
	if it.attrs == nil {
		it.attrs = make(map[string]attr)
	}
	it.attrs[key] = attr{val: val, setter: setter}
	return true
}

// Setter returns who last set key on unit id.
func (e *Engine) Setter(id clock.ID, key string) (clock.ID, bool) {
	idx, ok := e.byID[id]
	if !ok {
		return clock.ID{}, false
	}
	a, ok := e.items[idx].attrs[key]
	return a.setter, ok
}

// Attributes returns the visible attributes of unit id.
func (e *Engine) Attributes(id clock.ID) map[string]value.Value {
	idx, ok := e.byID[id]
	if !ok {
		return nil
	}
	return visibleAttrs(e.items[idx].attrs)
}

func visibleAttrs(attrs map[string]attr) map[string]value.Value {
	var out map[string]value.Value
	for k, a := range attrs {
		if _, isNull := a.val.(value.Null); isNull || a.val == nil {
			continue
		}
		if out == nil {
			out = make(map[string]value.Value, len(attrs))
		}
		out[k] = a.val
	}
	return out
}

func (e *Engine) view(idx int) Item {
	it := &e.items[idx]
	var own map[string]value.Value
	for k, a := range it.attrs {
		if a.setter != it.id {
			continue
		}
		if own == nil {
			own = make(map[string]value.Value)
		}
		own[k] = a.val
	}
	return Item{
		ID:            it.id,
		Content:       it.content,
		LeftOrigin:    it.leftOrigin,
		RightOrigin:   it.rightOrigin,
		Deleted:       it.deleted,
		Attributes:    visibleAttrs(it.attrs),
		OwnAttributes: own,
	}
}

// Items returns every integrated unit in chain order, tombstones included.
func (e *Engine) Items() []Item {
	out := make([]Item, 0, len(e.byID))
	e.walk(func(i int) bool {
		out = append(out, e.view(i))
		return true
	})
	return out
}

// Compact physically removes tombstones that no other item's origin
// references and for which removable (nil means always) reports true. It
// returns the removed IDs.
func (e *Engine) Compact(removable func(clock.ID) bool) []clock.ID {
	referenced := mapset.NewThreadUnsafeSet[clock.ID]()
	e.walk(func(i int) bool {
		it := &e.items[i]
		if it.leftOrigin != nil {
			referenced.Add(*it.leftOrigin)
		}
		if it.rightOrigin != nil {
			referenced.Add(*it.rightOrigin)
		}
		return true
	})

	var removed []clock.ID
	for i := e.items[head].right; i != tail; {
		it := e.items[i]
		next := it.right
		if it.deleted && !referenced.Contains(it.id) && (removable == nil || removable(it.id)) {
			e.unlink(i)
			removed = append(removed, it.id)
		}
		i = next
	}
	return removed
}

func (e *Engine) unlink(idx int) {
	it := e.items[idx]
	var r redirect
	if it.left != head {
		id := e.items[it.left].id
		r.left = &id
	}
	if it.right != tail {
		id := e.items[it.right].id
		r.right = &id
	}
	e.redirects[it.id] = r
	e.items[it.left].right = it.right
	e.items[it.right].left = it.left
	delete(e.byID, it.id)
	e.items[idx] = item{}
	e.free = append(e.free, idx)
}
