// Package clock provides causal identity for the document engine.
//
// Every content unit is addressed by an ID (replica, clock). Clocks are
// per-replica logical counters starting at 1 and never reused; wall-clock
// time is carried on operations for display only and never orders anything.
//
// A StateVector summarizes "everything up to clock N from replica R has been
// seen" and is the basis for idempotent replay and causal deltas.
package clock
