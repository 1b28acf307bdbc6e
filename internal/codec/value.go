package codec

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/roach88/weave/internal/op"
	"github.com/roach88/weave/internal/value"
)

// Value tags.
const (
	tagNull byte = iota
	tagString
	tagInt
	tagLong
	tagFloat
	tagBool
	tagBytes
	tagArray
	tagObject
	tagTypeRef
	tagJSON
)

// maxDepth bounds nesting of arrays and objects on decode.
const maxDepth = 64

func appendValue(buf []byte, v value.Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, value.Null:
		return append(buf, tagNull), nil
	case value.String:
		return appendString(append(buf, tagString), string(val)), nil
	case value.Int:
		if val >= math.MinInt32 && val <= math.MaxInt32 {
			return appendVarint(append(buf, tagInt), int64(val)), nil
		}
		return appendFixed64(append(buf, tagLong), uint64(val)), nil
	case value.Float:
		return appendFixed64(append(buf, tagFloat), math.Float64bits(float64(val))), nil
	case value.Bool:
		b := byte(0)
		if val {
			b = 1
		}
		return append(buf, tagBool, b), nil
	case value.Bytes:
		buf = appendUvarint(append(buf, tagBytes), uint64(len(val)))
		return append(buf, val...), nil
	case value.Array:
		buf = appendUvarint(append(buf, tagArray), uint64(len(val)))
		var err error
		for _, el := range val {
			if buf, err = appendValue(buf, el); err != nil {
				return nil, err
			}
		}
		return buf, nil
	case value.Object:
		buf = appendUvarint(append(buf, tagObject), uint64(len(val)))
		var err error
		for _, k := range val.SortedKeys() {
			buf = appendString(buf, k)
			if buf, err = appendValue(buf, val[k]); err != nil {
				return nil, err
			}
		}
		return buf, nil
	case value.TypeRef:
		return appendString(append(buf, tagTypeRef), val.Kind), nil
	}
	return nil, fmt.Errorf("encode value: unsupported type %T", v)
}

func (r *reader) value(depth int) (value.Value, error) {
	if depth > maxDepth {
		return nil, op.Malformed("value nesting exceeds %d at offset %d", maxDepth, r.pos)
	}
	tag, err := r.byte("value tag")
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagNull:
		return value.Null{}, nil
	case tagString:
		s, err := r.string("string value")
		return value.String(s), err
	case tagInt:
		n, err := r.varint("int value")
		return value.Int(n), err
	case tagLong:
		n, err := r.fixed64("long value")
		return value.Int(int64(n)), err
	case tagFloat:
		n, err := r.fixed64("float value")
		return value.Float(math.Float64frombits(n)), err
	case tagBool:
		b, err := r.byte("bool value")
		if err != nil {
			return nil, err
		}
		if b > 1 {
			return nil, op.Malformed("invalid bool %d at offset %d", b, r.pos-1)
		}
		return value.Bool(b == 1), nil
	case tagBytes:
		b, err := r.bytes("bytes value")
		if err != nil {
			return nil, err
		}
		out := make(value.Bytes, len(b))
		copy(out, b)
		return out, nil
	case tagArray:
		n, err := r.count("array length")
		if err != nil {
			return nil, err
		}
		arr := make(value.Array, 0, n)
		for range n {
			el, err := r.value(depth + 1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, el)
		}
		return arr, nil
	case tagObject:
		n, err := r.count("object size")
		if err != nil {
			return nil, err
		}
		obj := make(value.Object, n)
		for range n {
			k, err := r.string("object key")
			if err != nil {
				return nil, err
			}
			if obj[k], err = r.value(depth + 1); err != nil {
				return nil, err
			}
		}
		return obj, nil
	case tagTypeRef:
		kind, err := r.string("type ref")
		if err != nil {
			return nil, err
		}
		if !value.ValidKind(kind) {
			return nil, op.Malformed("unknown container kind %q", kind)
		}
		return value.TypeRef{Kind: kind}, nil
	case tagJSON:
		raw, err := r.bytes("json value")
		if err != nil {
			return nil, err
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, op.Malformed("invalid json value: %v", err)
		}
		v, err := value.From(decoded)
		if err != nil {
			return nil, op.Malformed("json value: %v", err)
		}
		return v, nil
	}
	return nil, op.Malformed("unknown value tag %d at offset %d", tag, r.pos-1)
}
