// Package compactor folds pending updates into document snapshots.
//
// A Worker drains a queue of document keys. For each key it loads the
// stored snapshot and pending updates, merges them through a
// merge.Orchestrator and saves the result, dropping the folded updates in
// the same store transaction.
//
// Transient failures (store errors, lock waits) are retried with
// exponential backoff. A merge failure is permanent: retrying the same
// bytes cannot succeed, so the key is logged and skipped.
//
// # Concurrency
//
// Run is single-consumer. Enqueue is safe from any goroutine and
// coalesces keys that are already queued.
package compactor
