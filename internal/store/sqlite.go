// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides schema creation, busy-retry around writes, and error code checks

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const (
	busyRetries   = 3
	busyBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db      *sql.DB
	logger  *slog.Logger
	writeMu sync.Mutex
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Per-connection pragmas go in the DSN so every pooled connection gets them
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS learners (
			user_id         TEXT PRIMARY KEY,
			display_name    TEXT NOT NULL DEFAULT '',
			grade_level     INTEGER NOT NULL DEFAULT 0,
			language        TEXT NOT NULL DEFAULT 'en',
			learning_styles TEXT NOT NULL DEFAULT '[]',
			accessibility   TEXT NOT NULL DEFAULT '[]',
			created_at      TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			kind             TEXT NOT NULL,
			subject          TEXT NOT NULL DEFAULT '',
			topic            TEXT NOT NULL DEFAULT '',
			subtopic         TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL,
			created_at       TEXT NOT NULL,
			last_activity_at TEXT NOT NULL,
			completed_at     TEXT,

			CHECK (status IN ('active', 'completed', 'expired'))
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user_created
			ON sessions(user_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_sessions_status_activity
			ON sessions(status, last_activity_at);

		CREATE TABLE IF NOT EXISTS turns (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			kind       TEXT NOT NULL,
			status     TEXT NOT NULL,
			data       TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_turns_session_seq
			ON turns(session_id, seq);

		CREATE TABLE IF NOT EXISTS agent_calls (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			turn_id    TEXT NOT NULL,
			agent      TEXT NOT NULL,
			status     TEXT NOT NULL,
			latency_ms REAL NOT NULL,
			attempts   INTEGER NOT NULL DEFAULT 1,
			error      TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_agent_calls_agent_created
			ON agent_calls(agent, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping checks database connectivity for readiness probes.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withWriteRetry serializes writes and retries SQLITE_BUSY with exponential backoff.
func (s *SQLiteStore) withWriteRetry(ctx context.Context, op string, fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var err error
	for i := 0; i < busyRetries; i++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		if i == busyRetries-1 {
			break
		}
		delay := busyBaseDelay * time.Duration(1<<i)
		s.logger.Debug("database busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", op, busyRetries, err)
}

// isBusy checks for SQLite lock contention errors that warrant a retry
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "SQLITE_BUSY") || strings.Contains(errStr, "database is locked")
}

// isConstraintViolation reports a UNIQUE or PRIMARY KEY violation. CHECK and
// FOREIGN KEY failures are not duplicates and fall through as plain errors.
func isConstraintViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		// Primary code only; fall back to the message
		msg := se.Error()
		return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
	default:
		return false
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
