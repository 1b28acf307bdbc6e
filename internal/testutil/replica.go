package testutil

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/clock"
	"github.com/roach88/weave/internal/doc"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewReplica creates a document with deterministic timestamps, fixed
// operation-id suffixes and a silent logger. opts are applied last.
func NewReplica(t testing.TB, replica string, opts ...doc.Option) *doc.Document {
	t.Helper()
	base := []doc.Option{
		doc.WithLogger(DiscardLogger()),
		doc.WithTimeSource(NewDeterministicClock()),
		doc.WithIDGenerator(clock.NewFixedGenerator("t")),
	}
	d, err := doc.New(replica, append(base, opts...)...)
	require.NoError(t, err)
	return d
}

// Full returns d's complete state as one update.
func Full(t testing.TB, d *doc.Document) []byte {
	t.Helper()
	update, err := d.EncodeStateAsUpdate(nil)
	require.NoError(t, err)
	return update
}

// Since returns the update holding what d has and peer lacks.
func Since(t testing.TB, d, peer *doc.Document) []byte {
	t.Helper()
	sv, err := peer.EncodeStateVector()
	require.NoError(t, err)
	update, err := d.EncodeStateAsUpdate(sv)
	require.NoError(t, err)
	return update
}

// Sync exchanges state between every pair of docs until all have seen
// everything.
func Sync(t testing.TB, docs ...*doc.Document) {
	t.Helper()
	for _, from := range docs {
		for _, to := range docs {
			if from == to {
				continue
			}
			require.NoError(t, to.ApplyUpdate(Since(t, from, to), "sync"))
		}
	}
}

// Canonical returns d's canonical JSON state as a string.
func Canonical(t testing.TB, d *doc.Document) string {
	t.Helper()
	out, err := d.CanonicalJSON()
	require.NoError(t, err)
	return string(out)
}

// RequireConverged fails unless every doc has the same canonical state
// and state vector as the first.
func RequireConverged(t testing.TB, docs ...*doc.Document) {
	t.Helper()
	if len(docs) < 2 {
		return
	}
	want := Canonical(t, docs[0])
	for _, d := range docs[1:] {
		require.Equal(t, want, Canonical(t, d), "replica %s diverged from %s", d.Replica(), docs[0].Replica())
		require.Equal(t, docs[0].StateVector(), d.StateVector(), "replica %s state vector", d.Replica())
	}
}

// Permutations returns every ordering of 0..n-1.
func Permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}
	var out [][]int
	for _, p := range Permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			next := make([]int, 0, n)
			next = append(next, p[:i]...)
			next = append(next, n-1)
			next = append(next, p[i:]...)
			out = append(out, next)
		}
	}
	return out
}
