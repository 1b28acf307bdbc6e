package codec

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/roach88/weave/internal/clock"
	"github.com/roach88/weave/internal/op"
	"github.com/roach88/weave/internal/value"
)

// Version is the update format version.
const Version byte = 1

// Record flags selecting optional fields.
const (
	flagParent byte = 1 << iota
	flagKey
	flagContent
	flagAttrs
	flagLength
	flagLeft
	flagRight
	flagTargets
)

// emptyUpdate is the canonical payload with no operations.
var emptyUpdate = []byte{0, 0}

// IsEmptyUpdate reports whether payload carries no operations by
// definition: zero bytes, or one or two zero bytes.
func IsEmptyUpdate(payload []byte) bool {
	if len(payload) == 0 {
		return true
	}
	if len(payload) > 2 {
		return false
	}
	for _, b := range payload {
		if b != 0 {
			return false
		}
	}
	return true
}

// EncodeUpdate serializes ops in order. Zero operations encode as the
// canonical empty update.
func EncodeUpdate(ops []op.Operation) ([]byte, error) {
	if len(ops) == 0 {
		return slices.Clone(emptyUpdate), nil
	}
	buf := make([]byte, 0, 32*len(ops))
	buf = append(buf, Version)
	buf = appendUvarint(buf, uint64(len(ops)))

	var err error
	for i, o := range ops {
		if buf, err = appendRecord(buf, o); err != nil {
			return nil, fmt.Errorf("encode operation %d (%s): %w", i, o.ID, err)
		}
	}
	return buf, nil
}

func appendRecord(buf []byte, o op.Operation) ([]byte, error) {
	if !o.Kind.Valid() {
		return nil, fmt.Errorf("invalid kind %d", o.Kind)
	}
	if o.Clock > math.MaxUint32 {
		return nil, fmt.Errorf("clock %d exceeds 32 bits", o.Clock)
	}
	if o.Index < math.MinInt32 || o.Index > math.MaxInt32 {
		return nil, fmt.Errorf("index %d exceeds 32 bits", o.Index)
	}
	if o.Length < 0 || uint64(o.Length) > math.MaxUint32 {
		return nil, fmt.Errorf("length %d out of range", o.Length)
	}

	var flags byte
	if o.ParentID != "" {
		flags |= flagParent
	}
	if o.Key != nil {
		flags |= flagKey
	}
	if o.Content != nil {
		flags |= flagContent
	}
	if len(o.Attributes) > 0 {
		flags |= flagAttrs
	}
	if o.Length != 0 {
		flags |= flagLength
	}
	if o.LeftOrigin != nil {
		flags |= flagLeft
	}
	if o.RightOrigin != nil {
		flags |= flagRight
	}
	if len(o.Targets) > 0 {
		flags |= flagTargets
	}

	buf = append(buf, byte(o.Kind))
	buf = appendString(buf, o.ReplicaID)
	buf = appendUvarint(buf, o.Clock)
	buf = appendString(buf, o.ContainerType)
	buf = append(buf, flags)

	var err error
	if flags&flagParent != 0 {
		buf = appendString(buf, o.ParentID)
	}
	if flags&flagKey != 0 {
		if buf, err = appendValue(buf, o.Key); err != nil {
			return nil, fmt.Errorf("key: %w", err)
		}
	}
	buf = appendVarint(buf, int64(o.Index))
	if flags&flagContent != 0 {
		if buf, err = appendValue(buf, o.Content); err != nil {
			return nil, fmt.Errorf("content: %w", err)
		}
	}
	if flags&flagAttrs != 0 {
		buf = appendUvarint(buf, uint64(len(o.Attributes)))
		for _, k := range slices.Sorted(maps.Keys(o.Attributes)) {
			buf = appendString(buf, k)
			if buf, err = appendValue(buf, o.Attributes[k]); err != nil {
				return nil, fmt.Errorf("attribute %q: %w", k, err)
			}
		}
	}
	if flags&flagLength != 0 {
		buf = appendUvarint(buf, uint64(o.Length))
	}
	if flags&flagLeft != 0 {
		buf = appendID(buf, *o.LeftOrigin)
	}
	if flags&flagRight != 0 {
		buf = appendID(buf, *o.RightOrigin)
	}
	if flags&flagTargets != 0 {
		buf = appendUvarint(buf, uint64(len(o.Targets)))
		for _, t := range o.Targets {
			buf = appendString(buf, t.Replica)
			buf = appendUvarint(buf, t.Clock)
			buf = appendUvarint(buf, t.Len)
		}
	}

	var millis int64
	if !o.Timestamp.IsZero() {
		millis = o.Timestamp.UnixMilli()
	}
	buf = appendFixed64(buf, uint64(millis))
	return appendString(buf, o.Origin), nil
}

func appendID(buf []byte, id clock.ID) []byte {
	buf = appendString(buf, id.Replica)
	return appendUvarint(buf, id.Clock)
}

// DecodeUpdate parses a payload into operations. It either decodes the
// whole payload or fails with a MALFORMED_INPUT error; it never returns a
// partial stream.
func DecodeUpdate(payload []byte) ([]op.Operation, error) {
	if IsEmptyUpdate(payload) {
		return nil, nil
	}
	r := &reader{buf: payload}

	version, err := r.byte("version")
	if err != nil {
		return nil, err
	}
	if version != Version {
		return nil, op.Malformed("unsupported update version %d", version)
	}
	n, err := r.count("operation count")
	if err != nil {
		return nil, err
	}

	ops := make([]op.Operation, 0, n)
	for i := range n {
		o, err := r.record()
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		ops = append(ops, o)
	}
	if r.remaining() != 0 {
		return nil, op.Malformed("%d trailing bytes after %d operations", r.remaining(), n)
	}
	return ops, nil
}

func (r *reader) record() (op.Operation, error) {
	var o op.Operation

	kind, err := r.byte("kind")
	if err != nil {
		return o, err
	}
	o.Kind = op.Kind(kind)
	if !o.Kind.Valid() {
		return o, op.Malformed("unknown operation kind %d at offset %d", kind, r.pos-1)
	}
	if o.ReplicaID, err = r.string("replica"); err != nil {
		return o, err
	}
	if o.ReplicaID == "" {
		return o, op.Malformed("empty replica id at offset %d", r.pos)
	}
	if o.Clock, err = r.uvarint("clock"); err != nil {
		return o, err
	}
	if o.Clock == 0 {
		return o, op.Malformed("zero clock for replica %q", o.ReplicaID)
	}
	if o.ContainerType, err = r.string("container type"); err != nil {
		return o, err
	}
	if !value.ValidKind(o.ContainerType) {
		return o, op.Malformed("unknown container type %q", o.ContainerType)
	}
	o.ID = op.NewID(o.ReplicaID, o.Clock, "")

	flags, err := r.byte("flags")
	if err != nil {
		return o, err
	}
	if flags&flagParent != 0 {
		if o.ParentID, err = r.string("parent"); err != nil {
			return o, err
		}
	}
	if flags&flagKey != 0 {
		if o.Key, err = r.value(0); err != nil {
			return o, err
		}
	}
	index, err := r.varint("index")
	if err != nil {
		return o, err
	}
	o.Index = int(index)
	if flags&flagContent != 0 {
		if o.Content, err = r.value(0); err != nil {
			return o, err
		}
	}
	if flags&flagAttrs != 0 {
		n, err := r.count("attribute count")
		if err != nil {
			return o, err
		}
		o.Attributes = make(map[string]value.Value, n)
		for range n {
			k, err := r.string("attribute key")
			if err != nil {
				return o, err
			}
			if o.Attributes[k], err = r.value(0); err != nil {
				return o, err
			}
		}
	}
	if flags&flagLength != 0 {
		length, err := r.uvarint("length")
		if err != nil {
			return o, err
		}
		o.Length = int(length)
	}
	if flags&flagLeft != 0 {
		id, err := r.id("left origin")
		if err != nil {
			return o, err
		}
		o.LeftOrigin = &id
	}
	if flags&flagRight != 0 {
		id, err := r.id("right origin")
		if err != nil {
			return o, err
		}
		o.RightOrigin = &id
	}
	if flags&flagTargets != 0 {
		n, err := r.count("target count")
		if err != nil {
			return o, err
		}
		o.Targets = make([]clock.Range, 0, n)
		for range n {
			id, err := r.id("target")
			if err != nil {
				return o, err
			}
			length, err := r.uvarint("target length")
			if err != nil {
				return o, err
			}
			o.Targets = append(o.Targets, clock.Range{Replica: id.Replica, Clock: id.Clock, Len: length})
		}
	}

	millis, err := r.fixed64("timestamp")
	if err != nil {
		return o, err
	}
	if millis != 0 {
		o.Timestamp = time.UnixMilli(int64(millis)).UTC()
	}
	if o.Origin, err = r.string("origin"); err != nil {
		return o, err
	}
	return o, validate(o)
}

func (r *reader) id(what string) (clock.ID, error) {
	replica, err := r.string(what + " replica")
	if err != nil {
		return clock.ID{}, err
	}
	c, err := r.uvarint(what + " clock")
	if err != nil {
		return clock.ID{}, err
	}
	return clock.ID{Replica: replica, Clock: c}, nil
}

// validate applies the per-kind shape rules to a decoded record. Every
// clock a record occupies or targets must fit in 32 bits.
func validate(o op.Operation) error {
	if o.End() > math.MaxUint32 {
		return op.Malformed("%s %s spans past clock %d", o.Kind, o.ID, uint64(math.MaxUint32))
	}
	for _, t := range o.Targets {
		if t.Len > 0 && t.End() > math.MaxUint32 {
			return op.Malformed("%s %s targets %s:%d+%d past clock %d", o.Kind, o.ID, t.Replica, t.Clock, t.Len, uint64(math.MaxUint32))
		}
	}
	switch o.Kind {
	case op.Insert, op.Embed:
		if o.Content == nil {
			return op.Malformed("%s %s without content", o.Kind, o.ID)
		}
		if o.Kind == op.Insert && o.IsSequence() && o.Len() == 0 {
			return op.Malformed("empty insert %s", o.ID)
		}
		if err := validateContent(o); err != nil {
			return err
		}
	case op.Delete:
		if o.ContainerType == value.KindMap && o.Key == nil {
			return op.Malformed("map delete %s without key", o.ID)
		}
		if o.IsSequence() && uint64(o.Length) != clock.TotalLen(o.Targets) {
			return op.Malformed("delete %s length %d does not match targets", o.ID, o.Length)
		}
	case op.Format:
		if uint64(o.Length) != clock.TotalLen(o.Targets) {
			return op.Malformed("format %s length %d does not match targets", o.ID, o.Length)
		}
	}
	if o.ContainerType == value.KindMap && o.Kind == op.Insert && o.Key == nil {
		return op.Malformed("map insert %s without key", o.ID)
	}
	return nil
}

// validateContent checks the payload shape each container accepts: text
// inserts carry strings, array inserts carry arrays, embeds go into text
// and are never strings.
func validateContent(o op.Operation) error {
	_, isString := o.Content.(value.String)
	_, isArray := o.Content.(value.Array)
	switch {
	case o.Kind == op.Embed && o.ContainerType != value.KindText:
		return op.Malformed("embed %s into %s", o.ID, o.ContainerType)
	case o.Kind == op.Embed && isString:
		return op.Malformed("embed %s with string content", o.ID)
	case o.Kind == op.Insert && o.ContainerType == value.KindText && !isString:
		return op.Malformed("text insert %s with %T content", o.ID, o.Content)
	case o.Kind == op.Insert && o.ContainerType == value.KindArray && !isArray:
		return op.Malformed("array insert %s with %T content", o.ID, o.Content)
	}
	return nil
}

// Validate reports whether payload decodes cleanly.
func Validate(payload []byte) error {
	_, err := DecodeUpdate(payload)
	return err
}
