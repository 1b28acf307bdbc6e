package store

import (
	"context"
	"fmt"

	"github.com/roach88/weave/internal/merge"
)

// AppendUpdate stores an update payload for key.
// Uses ON CONFLICT(id) DO NOTHING for idempotency: appending the same
// payload twice returns the existing ID and inserted=false.
func (s *Store) AppendUpdate(ctx context.Context, key merge.Key, payload []byte) (id string, inserted bool, err error) {
	id = UpdateID(key, payload)
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO updates (id, workspace, document, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, key.Workspace, key.Document, payload)
	if err != nil {
		return "", false, fmt.Errorf("append update: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("append update: rows affected: %w", err)
	}
	return id, n > 0, nil
}

// SaveSnapshot stores snapshot as key's current snapshot and deletes the
// pending updates with seq <= mergedThrough, in one transaction.
// It returns the new snapshot version.
func (s *Store) SaveSnapshot(ctx context.Context, key merge.Key, snapshot, stateVector []byte, mergedThrough int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var version int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO snapshots (workspace, document, payload, state_vector, version, merged_through)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(workspace, document) DO UPDATE SET
			payload = excluded.payload,
			state_vector = excluded.state_vector,
			version = snapshots.version + 1,
			merged_through = MAX(snapshots.merged_through, excluded.merged_through)
		RETURNING version
	`, key.Workspace, key.Document, snapshot, stateVector, mergedThrough).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM updates
		WHERE workspace = ? AND document = ? AND seq <= ?
	`, key.Workspace, key.Document, mergedThrough); err != nil {
		return 0, fmt.Errorf("save snapshot: drop merged updates: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("save snapshot: commit: %w", err)
	}
	return version, nil
}
