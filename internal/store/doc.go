// Package store provides SQLite-backed durable storage for document updates
// and merged snapshots.
//
// The store keeps two tables:
//   - updates: raw update payloads awaiting a merge, per document
//   - snapshots: the latest merged snapshot and its state vector, per document
//
// # Critical Patterns
//
// Content-Addressed Idempotency
//   - update IDs are SHA-256 over the document key and payload with domain
//     separation (see hash.go)
//   - re-appending the same payload for the same document is a no-op
//
// Logical Ordering
//   - updates are ordered by seq INTEGER, assigned on insert, NEVER by
//     timestamps
//   - all queries include ORDER BY seq ASC
//
// Atomic Compaction
//   - SaveSnapshot writes the snapshot and deletes the updates it folded in
//     one transaction, so a crash never loses or double-applies an update
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
