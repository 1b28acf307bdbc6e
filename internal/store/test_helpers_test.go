package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/weave/internal/merge"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var (
	keyA = merge.Key{Workspace: "ws", Document: "a"}
	keyB = merge.Key{Workspace: "ws", Document: "b"}
)
