// Package op defines the Operation, the immutable record of one atomic edit.
//
// An operation is tagged with (replica, clock) and addressed to a container.
// It occupies the clock range [Clock, Clock+Span()): one clock per content
// unit for inserts, one per affected unit for deletes, retains and formats.
// Coalescing adjacent operations therefore never changes the identity of any
// unit, which is what lets a transaction batch keystrokes after they have
// already been applied.
//
// Operations are values. Merging, slicing, inverting or transforming returns
// a new Operation; callers must not mutate Attributes, Targets or origins of
// an operation they did not build.
//
// The package also owns the engine-wide error taxonomy (errors.go).
package op
