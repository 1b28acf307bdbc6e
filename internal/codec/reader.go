package codec

import (
	"encoding/binary"
	"math"

	"github.com/roach88/weave/internal/op"
)

// maxVarintLen32 is the longest uvarint encoding of a 32-bit value.
const maxVarintLen32 = 5

// reader decodes from a byte slice, recording the first error.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *reader) truncated(what string) error {
	return op.Malformed("truncated %s at offset %d", what, r.pos)
}

func (r *reader) byte(what string) (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, r.truncated(what)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// uvarint reads an unsigned varint of at most 32 bits.
func (r *reader) uvarint(what string) (uint64, error) {
	var x uint64
	var shift uint
	for i := 0; i < maxVarintLen32; i++ {
		b, err := r.byte(what)
		if err != nil {
			return 0, err
		}
		x |= uint64(b&0x7f) << shift
		if b < 0x80 {
			if x > math.MaxUint32 {
				return 0, op.Malformed("%s overflows 32 bits at offset %d", what, r.pos)
			}
			return x, nil
		}
		shift += 7
	}
	return 0, op.Malformed("%s overflows 32 bits at offset %d", what, r.pos)
}

// varint reads a zig-zag signed varint of at most 32 bits.
func (r *reader) varint(what string) (int64, error) {
	u, err := r.uvarint(what)
	if err != nil {
		return 0, err
	}
	return int64(u>>1) ^ -int64(u&1), nil
}

// count reads an element count, bounded by the bytes left so a corrupt
// count cannot force a huge allocation.
func (r *reader) count(what string) (int, error) {
	n, err := r.uvarint(what)
	if err != nil {
		return 0, err
	}
	if n > uint64(r.remaining()) {
		return 0, op.Malformed("%s %d exceeds remaining %d bytes", what, n, r.remaining())
	}
	return int(n), nil
}

func (r *reader) bytes(what string) ([]byte, error) {
	n, err := r.count(what + " length")
	if err != nil {
		return nil, err
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) string(what string) (string, error) {
	b, err := r.bytes(what)
	return string(b), err
}

func (r *reader) fixed64(what string) (uint64, error) {
	if r.remaining() < 8 {
		return 0, r.truncated(what)
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// writer helpers mirror the reader.

func appendUvarint(buf []byte, v uint64) []byte {
	return binary.AppendUvarint(buf, v)
}

func appendVarint(buf []byte, v int64) []byte {
	return binary.AppendUvarint(buf, uint64((v<<1)^(v>>63)))
}

func appendString(buf []byte, s string) []byte {
	buf = appendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendFixed64(buf []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(buf, v)
}
