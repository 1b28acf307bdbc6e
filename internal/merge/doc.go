// Package merge folds stored updates into canonical snapshots.
//
// An Orchestrator replays an existing snapshot and a batch of updates into
// a scratch document and re-encodes the result against an empty state
// vector. The scratch document is discarded after every call.
//
// Thread-safety model:
//   - Merge and Diff are safe from any goroutine
//   - merges for the same Key are serialized by a KeyedMutex
//   - merges for different keys run in parallel
//
// INVARIANTS:
//   - at most one merge per Key is inside its critical section
//   - a failed merge returns no bytes; callers keep their previous snapshot
//   - a merge that acquired its lock runs to completion; ctx only bounds
//     the wait for the lock
package merge
