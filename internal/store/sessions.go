// ABOUTME: SQLite persistence for learning sessions and their append-only turns
// ABOUTME: Turns are stored as JSON documents keyed by (session_id, seq)

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2389/tutor-gateway/internal/domain"
)

// CreateSession inserts a new session row. Turns on the struct are ignored.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *domain.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, kind, subject, topic, subtopic, status, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := s.withWriteRetry(ctx, "inserting session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			sess.ID,
			sess.UserID,
			string(sess.Activity.Kind),
			sess.Activity.Subject,
			sess.Activity.Topic,
			sess.Activity.Subtopic,
			string(sess.Status),
			formatTime(sess.CreatedAt),
			formatTime(sess.LastActivityAt),
		)
		return err
	})
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "id", sess.ID, "user_id", sess.UserID, "kind", sess.Activity.Kind)
	return nil
}

const sessionColumns = `id, user_id, kind, subject, topic, subtopic, status, created_at, last_activity_at, completed_at`

// GetSession retrieves a session and its turns.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	turns, err := s.getTurns(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.Turns = turns
	return sess, nil
}

func (s *SQLiteStore) getTurns(ctx context.Context, sessionID string) ([]*domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM turns WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []*domain.Turn
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		var turn domain.Turn
		if err := json.Unmarshal([]byte(data), &turn); err != nil {
			return nil, fmt.Errorf("decoding turn: %w", err)
		}
		turns = append(turns, &turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}
	return turns, nil
}

// AppendTurn inserts a turn and bumps the owning session's last activity time
// in one transaction.
func (s *SQLiteStore) AppendTurn(ctx context.Context, turn *domain.Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encoding turn: %w", err)
	}

	err = s.withWriteRetry(ctx, "appending turn", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET last_activity_at = ? WHERE id = ? AND status = 'active'`,
			formatTime(turn.CreatedAt), turn.SessionID,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrNotActive
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO turns (id, session_id, seq, kind, status, data, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			turn.ID,
			turn.SessionID,
			turn.Seq,
			string(turn.Request.Kind),
			string(turn.Result.Status),
			string(data),
			formatTime(turn.CreatedAt),
		)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrNotActive):
		return ErrNotActive
	case isConstraintViolation(err):
		return ErrDuplicate
	default:
		return fmt.Errorf("appending turn: %w", err)
	}

	s.logger.Debug("appended turn",
		"session_id", turn.SessionID,
		"turn_id", turn.ID,
		"seq", turn.Seq,
		"status", turn.Result.Status,
	)
	return nil
}

// UpdateSessionStatus moves an active session to a terminal status.
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, id string, status domain.SessionStatus, at time.Time) error {
	var affected int64
	err := s.withWriteRetry(ctx, "updating session status", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET status = ?, completed_at = ? WHERE id = ? AND status = 'active'`,
			string(status), formatTime(at), id,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}
	if affected > 0 {
		s.logger.Debug("updated session status", "id", id, "status", status)
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking session: %w", err)
	}
	return ErrNotActive
}

// ListSessionsByUser returns a user's sessions, newest first, without turns.
func (s *SQLiteStore) ListSessionsByUser(ctx context.Context, userID string, limit int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// ListIdleSessions returns ids of active sessions whose last activity is before the cutoff.
func (s *SQLiteStore) ListIdleSessions(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE status = 'active' AND last_activity_at < ? ORDER BY last_activity_at`,
		formatTime(before),
	)
	if err != nil {
		return nil, fmt.Errorf("querying idle sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning idle session: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanSession(row scanner) (*domain.Session, error) {
	var sess domain.Session
	var kind, status, createdAt, lastActivity string
	var completedAt sql.NullString

	err := row.Scan(
		&sess.ID,
		&sess.UserID,
		&kind,
		&sess.Activity.Subject,
		&sess.Activity.Topic,
		&sess.Activity.Subtopic,
		&status,
		&createdAt,
		&lastActivity,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	sess.Activity.Kind = domain.RequestKind(kind)
	sess.Status = domain.SessionStatus(status)

	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.LastActivityAt, err = parseTime(lastActivity); err != nil {
		return nil, fmt.Errorf("parsing last_activity_at: %w", err)
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		sess.CompletedAt = &t
	}
	return &sess, nil
}
