package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/scanerr"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS fingerprints (
	fingerprint  TEXT PRIMARY KEY,
	resource_key TEXT NOT NULL,
	kind         TEXT NOT NULL,
	rule_id      TEXT NOT NULL,
	first_seen   INTEGER NOT NULL,
	last_seen    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fingerprints_resource ON fingerprints(resource_key);
`

// SQLiteStore keeps state in a SQLite database. Each Save replaces the
// table contents inside one transaction.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLiteStore opens (creating if needed) the database at path and
// applies the schema.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create state dir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite state %s: %w", path, err)
	}

	// Enable WAL mode so readers (pw state list) do not block a running scan.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite state: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Load(ctx context.Context) (*ScanState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fingerprint, resource_key, kind, rule_id, first_seen, last_seen FROM fingerprints`)
	if err != nil {
		return nil, fmt.Errorf("%w: query fingerprints: %v", scanerr.ErrStateCorrupt, err)
	}
	defer rows.Close()

	st := New()
	for rows.Next() {
		var (
			e           Entry
			kind        string
			first, last int64
		)
		if err := rows.Scan(&e.Fingerprint, &e.ResourceKey, &kind, &e.RuleID, &first, &last); err != nil {
			return nil, fmt.Errorf("%w: scan fingerprint row: %v", scanerr.ErrStateCorrupt, err)
		}
		e.Kind = models.ResourceKind(kind)
		e.FirstSeen = time.Unix(0, first).UTC()
		e.LastSeen = time.Unix(0, last).UTC()
		st.entries[e.Fingerprint] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate fingerprints: %v", scanerr.ErrStateCorrupt, err)
	}
	return st, nil
}

func (s *SQLiteStore) Save(ctx context.Context, st *ScanState) error {
	entries := st.Entries()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin state transaction: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM fingerprints`); err != nil {
		return fmt.Errorf("clear fingerprints: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO fingerprints (fingerprint, resource_key, kind, rule_id, first_seen, last_seen) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare fingerprint insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Fingerprint, e.ResourceKey, string(e.Kind), e.RuleID,
			e.FirstSeen.UnixNano(), e.LastSeen.UnixNano()); err != nil {
			return fmt.Errorf("insert fingerprint %s: %w", e.Fingerprint, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
