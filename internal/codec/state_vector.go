package codec

import (
	"fmt"
	"math"

	"github.com/roach88/weave/internal/clock"
	"github.com/roach88/weave/internal/op"
)

// EncodeStateVector writes count followed by (replica, clock) pairs sorted
// by replica.
func EncodeStateVector(sv clock.StateVector) ([]byte, error) {
	replicas := sv.Replicas()
	buf := appendUvarint(make([]byte, 0, 1+12*len(replicas)), uint64(len(replicas)))
	for _, replica := range replicas {
		c := sv[replica]
		if c > math.MaxUint32 {
			return nil, fmt.Errorf("encode state vector: clock %d for %q exceeds 32 bits", c, replica)
		}
		buf = appendString(buf, replica)
		buf = appendUvarint(buf, c)
	}
	return buf, nil
}

// DecodeStateVector parses a state-vector payload. An empty payload is the
// empty vector.
func DecodeStateVector(payload []byte) (clock.StateVector, error) {
	sv := clock.NewStateVector()
	if len(payload) == 0 {
		return sv, nil
	}
	r := &reader{buf: payload}
	n, err := r.count("state vector size")
	if err != nil {
		return nil, err
	}
	for range n {
		replica, err := r.string("replica")
		if err != nil {
			return nil, err
		}
		c, err := r.uvarint("clock")
		if err != nil {
			return nil, err
		}
		sv.Update(replica, c)
	}
	if r.remaining() != 0 {
		return nil, op.Malformed("%d trailing bytes after state vector", r.remaining())
	}
	return sv, nil
}
