// Package store provides SQLite-backed persistence for writing sessions,
// versioned artifacts and agent logs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/session"
	_ "modernc.org/sqlite"
)

// Sentinel errors shared with the session package.
var (
	ErrNotFound        = session.ErrNotFound
	ErrDuplicate       = session.ErrDuplicate
	ErrVersionConflict = session.ErrVersionConflict
)

const schemaV1 = `
CREATE TABLE IF NOT EXISTS writing_sessions (
	id                 TEXT PRIMARY KEY,
	project_id         TEXT NOT NULL UNIQUE,
	current_stage      TEXT NOT NULL DEFAULT 'research',
	locked_core_thesis INTEGER NOT NULL DEFAULT 0,
	locked_structure   INTEGER NOT NULL DEFAULT 0,
	version            INTEGER NOT NULL DEFAULT 1,
	created_at         INTEGER NOT NULL,
	updated_at         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS artifacts (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL,
	kind         TEXT NOT NULL,
	version      INTEGER NOT NULL,
	payload_json TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	UNIQUE(project_id, kind, version)
);
CREATE INDEX IF NOT EXISTS idx_artifacts_project_kind ON artifacts(project_id, kind, version);

CREATE TABLE IF NOT EXISTS agent_logs (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL DEFAULT '',
	agent       TEXT NOT NULL,
	input_json  TEXT NOT NULL DEFAULT '{}',
	output_json TEXT NOT NULL DEFAULT 'null',
	latency_ms  INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	error_kind  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	attempts    INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_logs_project ON agent_logs(project_id, created_at);
`

// NewDB opens a SQLite database at path with WAL pragmas and runs the
// schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer; WAL still serves concurrent reads.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}

// Store bundles the repositories over one database.
type Store struct {
	DB *sql.DB

	now func() time.Time
}

// Open opens the database at path.
func Open(path string) (*Store, error) {
	db, err := NewDB(path)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// New wraps an already migrated database.
func New(db *sql.DB) *Store {
	return &Store{DB: db, now: time.Now}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func toUnix(t time.Time) int64 { return t.UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
