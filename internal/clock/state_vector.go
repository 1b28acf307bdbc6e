package clock

import (
	"sort"
)

// StateVector maps replica ID to the highest clock seen from it.
//
// Values only move forward: Update keeps max(old, new). The zero value of
// an entry (absent) means nothing has been seen from that replica.
type StateVector map[string]uint64

// NewStateVector returns an empty state vector.
func NewStateVector() StateVector {
	return make(StateVector)
}

// Get returns the highest clock seen from replica, or 0.
func (sv StateVector) Get(replica string) uint64 {
	return sv[replica]
}

// Update advances replica to clock if clock is larger.
func (sv StateVector) Update(replica string, clock uint64) {
	if clock > sv[replica] {
		sv[replica] = clock
	}
}

// Contains reports whether (replica, clock) is covered by the vector.
// This is the idempotency test for inbound operations.
func (sv StateVector) Contains(replica string, clock uint64) bool {
	return sv[replica] >= clock
}

// Diff returns the entries present in sv that are missing or strictly
// larger than in other: what a peer at other has not seen yet.
func (sv StateVector) Diff(other StateVector) StateVector {
	out := make(StateVector)
	for replica, c := range sv {
		if c > other[replica] {
			out[replica] = c
		}
	}
	return out
}

// Merge folds other into sv by taking the max per replica.
func (sv StateVector) Merge(other StateVector) {
	for replica, c := range other {
		sv.Update(replica, c)
	}
}

// Dominates reports whether sv has seen everything other has.
func (sv StateVector) Dominates(other StateVector) bool {
	for replica, c := range other {
		if sv[replica] < c {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (sv StateVector) Clone() StateVector {
	out := make(StateVector, len(sv))
	for replica, c := range sv {
		out[replica] = c
	}
	return out
}

// Replicas returns the replica IDs in sorted order.
func (sv StateVector) Replicas() []string {
	replicas := make([]string, 0, len(sv))
	for replica := range sv {
		replicas = append(replicas, replica)
	}
	sort.Strings(replicas)
	return replicas
}
