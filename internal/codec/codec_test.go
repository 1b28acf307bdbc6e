package codec

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/clock"
	"github.com/roach88/weave/internal/op"
	"github.com/roach88/weave/internal/value"
)

func sampleOps() []op.Operation {
	ts := time.Date(2025, 3, 14, 15, 9, 26, 535_000_000, time.UTC)
	left := clock.ID{Replica: "alice", Clock: 2}
	right := clock.ID{Replica: "bob", Clock: 7}
	return []op.Operation{
		{
			ID: "alice:3", ReplicaID: "alice", Clock: 3, Kind: op.Insert,
			ContainerType: value.KindText, ParentID: "body", Index: 2,
			Content:    value.String("héllo"),
			Attributes: map[string]value.Value{"bold": value.Bool(true), "size": value.Int(12)},
			Timestamp:  ts, Origin: "local",
			LeftOrigin: &left, RightOrigin: &right,
		},
		{
			ID: "bob:9", ReplicaID: "bob", Clock: 9, Kind: op.Delete,
			ContainerType: value.KindText, ParentID: "body", Index: -1, Length: 3,
			Targets: []clock.Range{{Replica: "alice", Clock: 3, Len: 2}, {Replica: "bob", Clock: 1, Len: 1}},
			Origin:  "sync:bob",
		},
		{
			ID: "carol:1", ReplicaID: "carol", Clock: 1, Kind: op.Insert,
			ContainerType: value.KindMap, ParentID: "meta", Key: value.String("tags"),
			Content: value.Array{
				value.Null{}, value.Int(1 << 40), value.Float(2.5),
				value.Bytes{0, 1, 2}, value.Object{"k": value.TypeRef{Kind: value.KindArray}},
			},
			Timestamp: ts,
		},
		{
			ID: "carol:2", ReplicaID: "carol", Clock: 2, Kind: op.Retain,
			ContainerType: value.KindArray, ParentID: "#carol:1", Length: 4,
		},
	}
}

func TestUpdate_RoundTrip(t *testing.T) {
	ops := sampleOps()
	payload, err := EncodeUpdate(ops)
	require.NoError(t, err)
	assert.Equal(t, Version, payload[0])

	decoded, err := DecodeUpdate(payload)
	require.NoError(t, err)
	require.Len(t, decoded, len(ops))
	assert.Equal(t, ops, decoded)
	require.NoError(t, Validate(payload))
}

func TestUpdate_DecodedIDsCarryNoSuffix(t *testing.T) {
	o := sampleOps()[0]
	o.ID = op.NewID(o.ReplicaID, o.Clock, "0192f0c4")

	payload, err := EncodeUpdate([]op.Operation{o})
	require.NoError(t, err)
	decoded, err := DecodeUpdate(payload)
	require.NoError(t, err)
	assert.Equal(t, "alice:3", decoded[0].ID)
}

func TestUpdate_Empty(t *testing.T) {
	for _, payload := range [][]byte{nil, {}, {0}, {0, 0}} {
		assert.True(t, IsEmptyUpdate(payload))
		ops, err := DecodeUpdate(payload)
		require.NoError(t, err)
		assert.Empty(t, ops)
	}
	assert.False(t, IsEmptyUpdate([]byte{0, 0, 0}))
	assert.False(t, IsEmptyUpdate([]byte{1, 0}))

	payload, err := EncodeUpdate(nil)
	require.NoError(t, err)
	assert.True(t, IsEmptyUpdate(payload))
}

func TestUpdate_TruncationIsMalformed(t *testing.T) {
	payload, err := EncodeUpdate(sampleOps())
	require.NoError(t, err)

	for n := 1; n < len(payload); n++ {
		ops, err := DecodeUpdate(payload[:n])
		require.Error(t, err, "prefix of %d bytes", n)
		assert.True(t, op.IsMalformed(err), "prefix of %d bytes: %v", n, err)
		assert.Nil(t, ops)
	}
}

func TestUpdate_Malformed(t *testing.T) {
	valid, err := EncodeUpdate(sampleOps()[:1])
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload []byte
	}{
		{"bad version", []byte{9, 0}},
		{"varint over 32 bits", []byte{1, 0xff, 0xff, 0xff, 0xff, 0x7f}},
		{"varint too long", []byte{1, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01}},
		{"count beyond payload", []byte{1, 100, 1}},
		{"unknown kind", []byte{1, 1, 42}},
		{"trailing bytes", append(append([]byte{}, valid...), 0)},
		{"zero clock", []byte{1, 1, byte(op.Insert), 1, 'a', 0}},
		{"unknown container", []byte{1, 1, byte(op.Insert), 1, 'a', 1, 3, 'x', 'y', 'z'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.payload)
			require.Error(t, err)
			assert.True(t, op.IsMalformed(err), err.Error())
		})
	}
}

func TestUpdate_ShapeValidation(t *testing.T) {
	tests := []struct {
		name string
		op   op.Operation
	}{
		{"insert without content", op.Operation{ReplicaID: "a", Clock: 1, Kind: op.Insert, ContainerType: value.KindText}},
		{"empty text insert", op.Operation{ReplicaID: "a", Clock: 1, Kind: op.Insert, ContainerType: value.KindText, Content: value.String("")}},
		{"map insert without key", op.Operation{ReplicaID: "a", Clock: 1, Kind: op.Insert, ContainerType: value.KindMap, Content: value.Int(1)}},
		{"map delete without key", op.Operation{ReplicaID: "a", Clock: 1, Kind: op.Delete, ContainerType: value.KindMap, Length: 1}},
		{"embed into array", op.Operation{ReplicaID: "a", Clock: 1, Kind: op.Embed, ContainerType: value.KindArray, Content: value.Int(1)}},
		{"text insert with array", op.Operation{ReplicaID: "a", Clock: 1, Kind: op.Insert, ContainerType: value.KindText, Content: value.Array{value.Int(1)}}},
		{"array insert with string", op.Operation{ReplicaID: "a", Clock: 1, Kind: op.Insert, ContainerType: value.KindArray, Content: value.String("x")}},
		{"delete length mismatch", op.Operation{ReplicaID: "a", Clock: 1, Kind: op.Delete, ContainerType: value.KindText, Length: 2,
			Targets: []clock.Range{{Replica: "b", Clock: 1, Len: 1}}}},
		{"retain past 32 bits", op.Operation{ReplicaID: "x", Clock: 2, Kind: op.Retain, ContainerType: value.KindText, ParentID: "t", Length: math.MaxUint32}},
		{"target past 32 bits", op.Operation{ReplicaID: "a", Clock: 1, Kind: op.Delete, ContainerType: value.KindText, ParentID: "t", Length: 2,
			Targets: []clock.Range{{Replica: "y", Clock: math.MaxUint32, Len: 2}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := EncodeUpdate([]op.Operation{tt.op})
			require.NoError(t, err)
			assert.True(t, op.IsMalformed(Validate(payload)))
		})
	}
}

func TestUpdate_EncodeRejectsOutOfRange(t *testing.T) {
	_, err := EncodeUpdate([]op.Operation{{ReplicaID: "a", Clock: 1 << 33, Kind: op.Retain, ContainerType: value.KindText}})
	assert.Error(t, err)

	_, err = EncodeUpdate([]op.Operation{{ReplicaID: "a", Clock: 1, Kind: op.Kind(99), ContainerType: value.KindText}})
	assert.Error(t, err)
}

func TestValue_JSONFallback(t *testing.T) {
	raw := `{"a":[1,true,null]}`
	buf := append([]byte{tagJSON, byte(len(raw))}, raw...)
	r := &reader{buf: buf}

	v, err := r.value(0)
	require.NoError(t, err)
	assert.Equal(t, value.Object{"a": value.Array{value.Float(1), value.Bool(true), value.Null{}}}, v)

	r = &reader{buf: []byte{tagJSON, 2, '{', 'x'}}
	_, err = r.value(0)
	assert.True(t, op.IsMalformed(err))
}

func TestValue_Tags(t *testing.T) {
	tests := []struct {
		name string
		v    value.Value
		want []byte
	}{
		{"null", value.Null{}, []byte{tagNull}},
		{"small int zigzag", value.Int(-2), []byte{tagInt, 3}},
		{"long", value.Int(1 << 40), []byte{tagLong, 0, 0, 1, 0, 0, 0, 0, 0}},
		{"bool", value.Bool(true), []byte{tagBool, 1}},
		{"string", value.String("hi"), []byte{tagString, 2, 'h', 'i'}},
		{"typeref", value.TypeRef{Kind: value.KindText}, []byte{tagTypeRef, 4, 't', 'e', 'x', 't'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := appendValue(nil, tt.v)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			r := &reader{buf: got}
			back, err := r.value(0)
			require.NoError(t, err)
			assert.True(t, value.Equal(tt.v, back))
		})
	}
}

func TestValue_RejectsBadInput(t *testing.T) {
	for name, buf := range map[string][]byte{
		"unknown tag":  {77},
		"bad bool":     {tagBool, 2},
		"bad typeref":  {tagTypeRef, 3, 'f', 'o', 'o'},
		"short string": {tagString, 5, 'a'},
	} {
		t.Run(name, func(t *testing.T) {
			r := &reader{buf: buf}
			_, err := r.value(0)
			assert.True(t, op.IsMalformed(err))
		})
	}

	deep := make([]byte, 0, maxDepth+3)
	for range maxDepth + 2 {
		deep = append(deep, tagArray, 1)
	}
	deep = append(deep, tagNull)
	r := &reader{buf: deep}
	_, err := r.value(0)
	assert.True(t, op.IsMalformed(err))
}

func TestStateVector_RoundTrip(t *testing.T) {
	sv := clock.StateVector{"b": 2, "a": 300}
	payload, err := EncodeStateVector(sv)
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 1, 'a', 0xac, 0x02, 1, 'b', 2}, payload)

	back, err := DecodeStateVector(payload)
	require.NoError(t, err)
	assert.Equal(t, sv, back)

	empty, err := DecodeStateVector(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	payload, err = EncodeStateVector(clock.NewStateVector())
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, payload)
}

func TestStateVector_Malformed(t *testing.T) {
	for name, payload := range map[string][]byte{
		"truncated pair": {1, 1, 'a'},
		"trailing":       {0, 9},
		"overflow":       {1, 1, 'a', 0xff, 0xff, 0xff, 0xff, 0x1f},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeStateVector(payload)
			assert.True(t, op.IsMalformed(err))
		})
	}
}
