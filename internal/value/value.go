package value

import (
	"bytes"
	"fmt"
	"slices"
	"unicode/utf8"
)

// Value is a sealed interface over the content variants.
type Value interface {
	value() // Sealed - only types in this package implement it
}

// Null is an explicit null.
type Null struct{}

func (Null) value() {}

// String is UTF-8 text. Its length is counted in runes.
type String string

func (String) value() {}

// Int is a 64-bit signed integer.
type Int int64

func (Int) value() {}

// Float is a 64-bit float. Encoded bit-exact, so it stays deterministic.
type Float float64

func (Float) value() {}

// Bool is a boolean.
type Bool bool

func (Bool) value() {}

// Bytes is an opaque binary blob.
type Bytes []byte

func (Bytes) value() {}

// Array is an ordered list of values.
type Array []Value

func (Array) value() {}

// Object is a string-keyed map. Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) value() {}

// TypeRef marks the creation of a nested container of the given kind.
// The container itself lives in the owning document's registry.
type TypeRef struct {
	Kind string
}

func (TypeRef) value() {}

// Container kinds a TypeRef may name.
const (
	KindText  = "text"
	KindMap   = "map"
	KindArray = "array"
)

// EmbedRune stands in for a non-text unit when a sequence renders as text.
const EmbedRune = '\uFFFC'

// ValidKind reports whether kind names a container type.
func ValidKind(kind string) bool {
	switch kind {
	case KindText, KindMap, KindArray:
		return true
	}
	return false
}

// Len returns the number of content units in v.
func Len(v Value) int {
	switch val := v.(type) {
	case nil:
		return 0
	case String:
		return utf8.RuneCountInString(string(val))
	case Array:
		return len(val)
	default:
		return 1
	}
}

// Units splits v into single-unit values: runes of a String, elements of an
// Array. Any other value is its own single unit.
func Units(v Value) []Value {
	switch val := v.(type) {
	case nil:
		return nil
	case String:
		units := make([]Value, 0, utf8.RuneCountInString(string(val)))
		for _, r := range string(val) {
			units = append(units, String(string(r)))
		}
		return units
	case Array:
		units := make([]Value, len(val))
		copy(units, val)
		return units
	default:
		return []Value{v}
	}
}

// Slice returns the units [from, to) of v in the same shape as v.
// Non-splittable values are returned whole when the range covers them.
func Slice(v Value, from, to int) Value {
	switch val := v.(type) {
	case String:
		runes := []rune(string(val))
		return String(string(runes[from:to]))
	case Array:
		out := make(Array, to-from)
		copy(out, val[from:to])
		return out
	default:
		if from == 0 && to >= 1 {
			return v
		}
		return nil
	}
}

// Concat joins two payloads of the same splittable shape.
// Returns an error for shapes that cannot be concatenated.
func Concat(a, b Value) (Value, error) {
	switch av := a.(type) {
	case String:
		if bv, ok := b.(String); ok {
			return av + bv, nil
		}
	case Array:
		if bv, ok := b.(Array); ok {
			out := make(Array, 0, len(av)+len(bv))
			out = append(out, av...)
			return append(out, bv...), nil
		}
	}
	return nil, fmt.Errorf("cannot concatenate %T with %T", a, b)
}

// Equal reports deep equality of two values.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case Null:
		_, ok := b.(Null)
		return ok
	case String, Int, Float, Bool, TypeRef:
		return a == b
	case Bytes:
		bv, ok := b.(Bytes)
		return ok && bytes.Equal(av, bv)
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv, ok := b.(Object)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, ok := bv[k]
			if !ok || !Equal(v, other) {
				return false
			}
		}
		return true
	}
	return false
}

// SortedKeys returns the object's keys in canonical order.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysUTF16)
	return keys
}

// From converts a plain Go value (as produced by YAML or JSON decoding) into
// a Value. Floats with an integral value stay floats; callers wanting Int
// must pass an integer type.
func From(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		return Int(int64(val)), nil
	case float32:
		return Float(val), nil
	case float64:
		return Float(val), nil
	case []byte:
		return Bytes(val), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			conv, err := From(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			conv, err := From(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = conv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// MustFrom is like From but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFrom(v any) Value {
	out, err := From(v)
	if err != nil {
		panic(err)
	}
	return out
}
