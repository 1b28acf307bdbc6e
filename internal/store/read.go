package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/weave/internal/merge"
)

// Update is one stored update payload.
type Update struct {
	ID      string
	Key     merge.Key
	Seq     int64
	Payload []byte
}

// Snapshot is a document's latest merged state.
type Snapshot struct {
	Key           merge.Key
	Payload       []byte
	StateVector   []byte
	Version       int64
	MergedThrough int64
}

// PendingUpdates returns key's unmerged updates ordered by seq.
//
// Returns an empty slice (not nil) if there are none.
func (s *Store) PendingUpdates(ctx context.Context, key merge.Key) ([]Update, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, payload
		FROM updates
		WHERE workspace = ? AND document = ?
		ORDER BY seq ASC
	`, key.Workspace, key.Document)
	if err != nil {
		return nil, fmt.Errorf("query updates: %w", err)
	}
	defer rows.Close()

	updates := []Update{}
	for rows.Next() {
		u := Update{Key: key}
		if err := rows.Scan(&u.ID, &u.Seq, &u.Payload); err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate updates: %w", err)
	}
	return updates, nil
}

// LoadSnapshot returns key's snapshot. ok is false if none was saved yet.
func (s *Store) LoadSnapshot(ctx context.Context, key merge.Key) (snap Snapshot, ok bool, err error) {
	snap.Key = key
	err = s.db.QueryRowContext(ctx, `
		SELECT payload, state_vector, version, merged_through
		FROM snapshots
		WHERE workspace = ? AND document = ?
	`, key.Workspace, key.Document).Scan(&snap.Payload, &snap.StateVector, &snap.Version, &snap.MergedThrough)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, true, nil
}

// DocumentsWithPending lists documents that have unmerged updates, in key
// order.
func (s *Store) DocumentsWithPending(ctx context.Context) ([]merge.Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT workspace, document
		FROM updates
		ORDER BY workspace COLLATE BINARY ASC, document COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending documents: %w", err)
	}
	defer rows.Close()

	keys := []merge.Key{}
	for rows.Next() {
		var k merge.Key
		if err := rows.Scan(&k.Workspace, &k.Document); err != nil {
			return nil, fmt.Errorf("scan pending document: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending documents: %w", err)
	}
	return keys, nil
}
