// Package doc hosts the replicated document: a registry of named
// containers, the state vector, per-replica clocks and the transaction
// pipeline that every mutation goes through.
//
// Containers:
//   - Text: sequence of characters and embeds with per-character attributes
//   - Array: sequence of values
//   - Map: keyed values, last writer wins by (clock, replica)
//
// Text and Array are backed by the origin-addressed sequence CRDT in package
// yata. A value.TypeRef inserted anywhere creates a nested container named
// "#replica:clock" after the unit that holds it.
//
// Thread-safety model:
//   - Transact, Read, ApplyUpdate and the encode functions serialize on the
//     document lock
//   - Begin acquires the lock; Commit or Abort releases it
//   - Observers run synchronously under the lock and must not call back
//     into the document
//
// INVARIANTS:
//   - for every replica, the state vector covers a gap-free prefix of that
//     replica's clocks; operations arriving past a gap wait in the pending
//     buffer
//   - every clock covered by the state vector is re-synthesized by
//     EncodeStateAsUpdate (compacted units as attribute-less retains)
//   - a transaction that fails part way is not rolled back; the state
//     vector covers exactly what was applied
package doc
