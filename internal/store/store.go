package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store keeps the per-document update log and the latest merged snapshot
// of every document. Backed by SQLite in WAL mode so readers never wait
// on the single writer.
type Store struct {
	db *sql.DB
}

// pragmas run on every Open, in order.
var pragmas = []struct {
	name, value string
}{
	{"journal_mode", "WAL"},   // readers proceed while an append commits
	{"synchronous", "NORMAL"}, // fsync on checkpoint, not on every commit
	{"busy_timeout", "5000"},  // wait up to 5s on a locked database
	{"foreign_keys", "ON"},
}

// migration upgrades a database whose user_version is below version.
type migration struct {
	version int
	name    string
	stmt    string
}

// migrations are applied in order. schema.sql always describes the
// newest layout; a migration only exists for databases created before
// its change landed there.
var migrations = []migration{
	{
		version: 1,
		name:    "index updates by document",
		stmt: `CREATE INDEX IF NOT EXISTS idx_updates_document
			ON updates(workspace, document, seq)`,
	},
}

// currentSchemaVersion is the user_version of a fully migrated database.
var currentSchemaVersion = migrations[len(migrations)-1].version

// Open creates the database at path if needed, configures it and brings
// its schema up to date. Opening an existing store is a no-op apart from
// the pragmas.
func Open(path string) (*Store, error) {
	// sql.Open is lazy; Ping surfaces a bad path or a locked file here
	// rather than on the first append.
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect store %s: %w", path, err)
	}

	// One connection: SQLite serializes writers anyway and a pool only
	// turns that into SQLITE_BUSY errors.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the connection. Closing a zero Store is allowed.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Stats reports row counts, for diagnostics.
func (s *Store) Stats(ctx context.Context) (updates, snapshots int, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM updates), (SELECT COUNT(*) FROM snapshots)
	`)
	if err := row.Scan(&updates, &snapshots); err != nil {
		return 0, 0, fmt.Errorf("stats: %w", err)
	}
	return updates, snapshots, nil
}

func applyPragmas(db *sql.DB) error {
	for _, p := range pragmas {
		stmt := fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("pragma %s: %w", p.name, err)
		}
	}
	return nil
}

// applySchema creates missing tables, then runs whatever migrations the
// stored user_version has not seen yet.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if err := migrate(db, m); err != nil {
			return err
		}
	}
	return nil
}

// migrate applies m and records its version in one transaction, so a
// crash leaves the database at the previous version rather than between.
func migrate(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate to v%d: %w", m.version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.stmt); err != nil {
		return fmt.Errorf("migrate to v%d (%s): %w", m.version, m.name, err)
	}
	// PRAGMA does not take bound parameters.
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("migrate to v%d: set user_version: %w", m.version, err)
	}
	return tx.Commit()
}

// verifyPragma compares a pragma's current value with want. Tests only.
func (s *Store) verifyPragma(name, want string) error {
	var got string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&got); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if got != want {
		return fmt.Errorf("%s = %q, want %q", name, got, want)
	}
	return nil
}
