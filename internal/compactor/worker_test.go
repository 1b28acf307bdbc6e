package compactor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cenkalti/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/doc"
	"github.com/roach88/weave/internal/merge"
	"github.com/roach88/weave/internal/op"
	"github.com/roach88/weave/internal/store"
	"github.com/roach88/weave/internal/testutil"
)

var testKey = merge.Key{Workspace: "ws", Document: "notes"}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "weave.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func quickRetry() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
}

func newWorker(s Store, opts ...Option) *Worker {
	m := merge.New(merge.WithLogger(testutil.DiscardLogger()))
	base := []Option{WithLogger(testutil.DiscardLogger()), WithBackOff(quickRetry)}
	return New(s, m, append(base, opts...)...)
}

// appendEdits stores three concurrent edits to body: "AC", then "B" and
// "Z" from two replicas that both saw "AC".
func appendEdits(t *testing.T, s *store.Store, key merge.Key) {
	t.Helper()
	origin := testutil.NewReplica(t, "origin")
	require.NoError(t, origin.Transact("test", func(tx *doc.Transaction) error {
		return tx.Text("body").Insert(0, "AC")
	}))
	base := testutil.Full(t, origin)

	x := testutil.NewReplica(t, "x")
	require.NoError(t, x.ApplyUpdate(base, "test"))
	require.NoError(t, x.Transact("test", func(tx *doc.Transaction) error {
		return tx.Text("body").Insert(1, "B")
	}))
	y := testutil.NewReplica(t, "y")
	require.NoError(t, y.ApplyUpdate(base, "test"))
	require.NoError(t, y.Transact("test", func(tx *doc.Transaction) error {
		return tx.Text("body").Insert(0, "Z")
	}))

	ctx := context.Background()
	for _, u := range [][]byte{base, testutil.Since(t, x, origin), testutil.Since(t, y, origin)} {
		_, _, err := s.AppendUpdate(ctx, key, u)
		require.NoError(t, err)
	}
}

func loadText(t *testing.T, s *store.Store, key merge.Key) string {
	t.Helper()
	snap, ok, err := s.LoadSnapshot(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	d := testutil.NewReplica(t, "reader")
	require.NoError(t, d.ApplyUpdate(snap.Payload, "test"))
	return d.GetText("body")
}

func TestCompactOnce_FoldsPendingUpdates(t *testing.T) {
	s := openStore(t)
	appendEdits(t, s, testKey)
	w := newWorker(s)
	ctx := context.Background()

	r, err := w.CompactOnce(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Merged)
	assert.Equal(t, int64(1), r.Version)
	assert.Positive(t, r.Bytes)

	assert.Equal(t, "ZABC", loadText(t, s, testKey))

	pending, err := s.PendingUpdates(ctx, testKey)
	require.NoError(t, err)
	assert.Empty(t, pending)

	r, err = w.CompactOnce(ctx, testKey)
	require.NoError(t, err)
	assert.Zero(t, r.Merged, "nothing left to fold")
}

func TestCompactOnce_IncrementalOverSnapshot(t *testing.T) {
	s := openStore(t)
	appendEdits(t, s, testKey)
	w := newWorker(s)
	ctx := context.Background()

	_, err := w.CompactOnce(ctx, testKey)
	require.NoError(t, err)

	snap, _, err := s.LoadSnapshot(ctx, testKey)
	require.NoError(t, err)
	editor := testutil.NewReplica(t, "z")
	require.NoError(t, editor.ApplyUpdate(snap.Payload, "test"))
	sv, err := editor.EncodeStateVector()
	require.NoError(t, err)
	require.NoError(t, editor.Transact("test", func(tx *doc.Transaction) error {
		return tx.Text("body").Insert(4, "!")
	}))
	edit, err := editor.EncodeStateAsUpdate(sv)
	require.NoError(t, err)
	_, _, err = s.AppendUpdate(ctx, testKey, edit)
	require.NoError(t, err)

	r, err := w.CompactOnce(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Merged)
	assert.Equal(t, int64(2), r.Version)
	assert.Equal(t, "ZABC!", loadText(t, s, testKey))
}

// flakyStore fails SaveSnapshot a fixed number of times.
type flakyStore struct {
	*store.Store
	mu       sync.Mutex
	failures int
	saves    int
}

func (f *flakyStore) SaveSnapshot(ctx context.Context, key merge.Key, snapshot, sv []byte, through int64) (int64, error) {
	f.mu.Lock()
	f.saves++
	fail := f.saves <= f.failures
	f.mu.Unlock()
	if fail {
		return 0, errors.New("database is locked")
	}
	return f.Store.SaveSnapshot(ctx, key, snapshot, sv, through)
}

func TestCompactOnce_RetriesTransientErrors(t *testing.T) {
	s := openStore(t)
	appendEdits(t, s, testKey)
	flaky := &flakyStore{Store: s, failures: 2}
	w := newWorker(flaky)

	r, err := w.CompactOnce(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.saves)
	assert.Equal(t, int64(1), r.Version)
	assert.Equal(t, "ZABC", loadText(t, s, testKey))
}

func TestCompactOnce_GivesUpAfterRetries(t *testing.T) {
	s := openStore(t)
	appendEdits(t, s, testKey)
	flaky := &flakyStore{Store: s, failures: 100}
	w := newWorker(flaky)

	_, err := w.CompactOnce(context.Background(), testKey)
	require.Error(t, err)
	assert.Equal(t, 4, flaky.saves, "one try plus three retries")
}

func TestCompactOnce_MergeFailureIsPermanent(t *testing.T) {
	s := openStore(t)
	appendEdits(t, s, testKey)
	ctx := context.Background()
	_, _, err := s.AppendUpdate(ctx, testKey, []byte{0xff, 0xff, 0xff})
	require.NoError(t, err)

	flaky := &flakyStore{Store: s}
	w := newWorker(flaky)

	_, err = w.CompactOnce(ctx, testKey)
	require.Error(t, err)
	assert.True(t, op.IsMergeFailure(err))
	assert.Zero(t, flaky.saves)

	pending, err := s.PendingUpdates(ctx, testKey)
	require.NoError(t, err)
	assert.Len(t, pending, 4, "failed merge keeps every update")
}

func TestCompactAll(t *testing.T) {
	s := openStore(t)
	other := merge.Key{Workspace: "ws", Document: "other"}
	appendEdits(t, s, testKey)
	appendEdits(t, s, other)
	w := newWorker(s)

	results, err := w.CompactAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, testKey, results[0].Key)
	assert.Equal(t, other, results[1].Key)

	keys, err := s.DocumentsWithPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRun_DrainsQueueAfterStop(t *testing.T) {
	s := openStore(t)
	other := merge.Key{Workspace: "ws", Document: "other"}
	appendEdits(t, s, testKey)
	appendEdits(t, s, other)

	var compacted []merge.Key
	w := newWorker(s, WithOnCompact(func(_ context.Context, r Result, snapshot []byte) {
		compacted = append(compacted, r.Key)
		assert.Len(t, snapshot, r.Bytes)
	}))

	assert.True(t, w.Enqueue(testKey))
	assert.True(t, w.Enqueue(other))
	assert.True(t, w.Enqueue(testKey), "already queued keys coalesce")
	w.Stop()
	assert.False(t, w.Enqueue(testKey))

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, []merge.Key{testKey, other}, compacted)
}

func TestRun_StopsOnCancel(t *testing.T) {
	w := newWorker(openStore(t))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, w.Enqueue(testKey))
}
