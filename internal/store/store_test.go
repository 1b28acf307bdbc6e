package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/roach88/weave/internal/merge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"updates", "snapshots"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q missing", table)
	}

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
}

func TestOpen_MigratesOlderDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)

	// Roll the file back to a layout without the per-document index.
	_, err = s.db.Exec("DROP INDEX idx_updates_document")
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 0")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)

	var name string
	err = s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_updates_document'",
	).Scan(&name)
	assert.NoError(t, err)
}

func TestClose_Nil(t *testing.T) {
	var s Store
	assert.NoError(t, s.Close())
}

func TestUpdateID_Deterministic(t *testing.T) {
	id1 := UpdateID(keyA, []byte{1, 2, 3})
	id2 := UpdateID(keyA, []byte{1, 2, 3})
	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64)

	assert.NotEqual(t, id1, UpdateID(keyB, []byte{1, 2, 3}), "key is part of the hash")
	assert.NotEqual(t, id1, UpdateID(keyA, []byte{1, 2, 4}))
}

func TestAppendUpdate_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id1, inserted, err := s.AppendUpdate(ctx, keyA, []byte("one"))
	require.NoError(t, err)
	assert.True(t, inserted)

	id2, inserted, err := s.AppendUpdate(ctx, keyA, []byte("one"))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, id1, id2)

	pending, err := s.PendingUpdates(ctx, keyA)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestPendingUpdates_OrderedBySeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, p := range []string{"c", "a", "b"} {
		_, _, err := s.AppendUpdate(ctx, keyA, []byte(p))
		require.NoError(t, err)
	}
	_, _, err := s.AppendUpdate(ctx, keyB, []byte("other"))
	require.NoError(t, err)

	pending, err := s.PendingUpdates(ctx, keyA)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	var got []string
	for i, u := range pending {
		got = append(got, string(u.Payload))
		assert.Equal(t, keyA, u.Key)
		if i > 0 {
			assert.Greater(t, u.Seq, pending[i-1].Seq)
		}
	}
	assert.Equal(t, []string{"c", "a", "b"}, got)
}

func TestPendingUpdates_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)

	pending, err := s.PendingUpdates(context.Background(), keyA)
	require.NoError(t, err)
	assert.NotNil(t, pending)
	assert.Empty(t, pending)
}

func TestLoadSnapshot_Missing(t *testing.T) {
	s := createTestStore(t)

	_, ok, err := s.LoadSnapshot(context.Background(), keyA)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveSnapshot_DropsMergedUpdates(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, p := range []string{"u1", "u2", "u3"} {
		_, _, err := s.AppendUpdate(ctx, keyA, []byte(p))
		require.NoError(t, err)
	}
	_, _, err := s.AppendUpdate(ctx, keyB, []byte("b1"))
	require.NoError(t, err)

	pending, err := s.PendingUpdates(ctx, keyA)
	require.NoError(t, err)
	through := pending[1].Seq

	version, err := s.SaveSnapshot(ctx, keyA, []byte("snap1"), []byte("sv1"), through)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	left, err := s.PendingUpdates(ctx, keyA)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "u3", string(left[0].Payload))

	others, err := s.PendingUpdates(ctx, keyB)
	require.NoError(t, err)
	assert.Len(t, others, 1, "other documents are untouched")

	snap, ok, err := s.LoadSnapshot(ctx, keyA)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("snap1"), snap.Payload)
	assert.Equal(t, []byte("sv1"), snap.StateVector)
	assert.Equal(t, through, snap.MergedThrough)

	version, err = s.SaveSnapshot(ctx, keyA, []byte("snap2"), []byte("sv2"), left[0].Seq)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	snap, _, err = s.LoadSnapshot(ctx, keyA)
	require.NoError(t, err)
	assert.Equal(t, []byte("snap2"), snap.Payload)
	assert.Equal(t, int64(2), snap.Version)
}

func TestSaveSnapshot_MergedThroughNeverRegresses(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.SaveSnapshot(ctx, keyA, []byte("s"), []byte("v"), 10)
	require.NoError(t, err)
	_, err = s.SaveSnapshot(ctx, keyA, []byte("s"), []byte("v"), 3)
	require.NoError(t, err)

	snap, _, err := s.LoadSnapshot(ctx, keyA)
	require.NoError(t, err)
	assert.Equal(t, int64(10), snap.MergedThrough)
}

func TestDocumentsWithPending(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	keys, err := s.DocumentsWithPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, _, err = s.AppendUpdate(ctx, keyB, []byte("x"))
	require.NoError(t, err)
	_, _, err = s.AppendUpdate(ctx, keyA, []byte("y"))
	require.NoError(t, err)
	_, _, err = s.AppendUpdate(ctx, keyA, []byte("z"))
	require.NoError(t, err)

	keys, err = s.DocumentsWithPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []merge.Key{keyA, keyB}, keys)

	updates, snapshots, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, updates)
	assert.Equal(t, 0, snapshots)
}
