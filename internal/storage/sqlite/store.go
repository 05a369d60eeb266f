// Package sqlite is the single source of truth for gateway state: users,
// identities, sessions, conversation history, long-term memory (with FTS5
// mirrors), the knowledge base, tool-call frequency log, and the job
// schedule. Every other package depends on *Store rather than touching
// database/sql directly.
package sqlite

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // registers the "sqlite" driver, pure-Go, FTS5 compiled in
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = fmt.Errorf("sqlite: not found")

// Store wraps a single *sql.DB connection to the gateway database. SQLite
// only supports one writer at a time; mu serializes writes from goroutines
// that share a *Store so callers don't need to reason about SQLITE_BUSY.
type Store struct {
	mu  sync.Mutex
	db  *sql.DB
	log zerolog.Logger
}

// Open creates or opens the database at path, applies WAL/foreign-key
// pragmas, and runs the schema migration. path may be ":memory:" for tests.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline; modernc.org/sqlite serializes anyway

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}

	s := &Store{db: db, log: log.With().Str("component", "storage").Logger()}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// now formats the current time the way every timestamp column in the
// schema expects: RFC3339 in UTC, sortable as text.
func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func timePtrString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}
