package doc

import (
	"log/slog"

	"github.com/roach88/weave/internal/clock"
)

// DefaultHistoryCapacity is the per-replica operation history window used
// for conflict lookups.
const DefaultHistoryCapacity = 1000

// Option configures a Document.
type Option func(*Document)

// WithAllocator injects the clock allocator. Documents that share an
// allocator must use distinct replica IDs.
func WithAllocator(a *clock.Allocator) Option {
	return func(d *Document) {
		d.alloc = a
	}
}

// WithIDGenerator sets the source of operation-ID suffixes.
//
// Default: clock.UUIDv7Generator
func WithIDGenerator(g clock.IDGenerator) Option {
	return func(d *Document) {
		d.idgen = g
	}
}

// WithTimeSource sets the wall clock used for operation timestamps.
func WithTimeSource(ts clock.TimeSource) Option {
	return func(d *Document) {
		d.now = ts
	}
}

// WithLogger sets the structured logger.
//
// Default: slog.Default()
func WithLogger(l *slog.Logger) Option {
	return func(d *Document) {
		d.logger = l
	}
}

// WithObserver registers a commit observer. Observers run in registration
// order.
func WithObserver(o Observer) Option {
	return func(d *Document) {
		d.observers = append(d.observers, o)
	}
}

// WithHistoryCapacity sets the per-replica history window.
//
// Default: 1000 (DefaultHistoryCapacity)
func WithHistoryCapacity(n int) Option {
	return func(d *Document) {
		if n > 0 {
			d.historyCap = n
		}
	}
}
