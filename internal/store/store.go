// Package store persists the authoritative lifecycle state of the
// system: image status records, per-user sequence counters and
// retraining job records. It wraps a single-file SQLite database; the
// object-store key layout is a derived view reconciled against these
// records, never the other way around.
package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"
)

const (
	busyTimeoutMS   = 5000
	maxOpenConns    = 1
	maxIdleConns    = 1
	connMaxLifetime = 5 * time.Minute
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens the SQLite database and bootstraps the schema.
func Open(path string) (*Store, error) {
	dsn, err := sqliteDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	if err := configureDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func configureDB(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busyTimeoutMS),
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to configure record store: %w", err)
		}
	}

	// Single writer keeps sequence allocation serialized.
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	return nil
}

func createSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS image_records (
	filename    TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	captured_at TEXT NOT NULL,
	tier        TEXT NOT NULL,
	status      TEXT NOT NULL,
	object_key  TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	UNIQUE (user_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_image_records_user_status ON image_records (user_id, status);

CREATE TABLE IF NOT EXISTS sequence_counters (
	user_id  TEXT PRIMARY KEY,
	next_seq INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS retrain_jobs (
	id           TEXT PRIMARY KEY,
	phase        TEXT NOT NULL,
	message      TEXT NOT NULL DEFAULT '',
	label_count  INTEGER NOT NULL,
	submitted_at TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create record store schema: %w", err)
	}
	return nil
}

func sqliteDSN(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("record store path is required")
	}
	u := url.URL{Scheme: "file", Path: path}
	return u.String(), nil
}
