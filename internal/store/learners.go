// ABOUTME: SQLite persistence for learner profiles
// ABOUTME: Profiles back identity verification with grade, language, and preferences

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

// CreateLearner stores a new learner profile.
// Returns ErrDuplicate if the user id already exists.
func (s *SQLiteStore) CreateLearner(ctx context.Context, profile *domain.UserProfile) error {
	styles, err := json.Marshal(nonNil(profile.LearningStyles))
	if err != nil {
		return fmt.Errorf("marshaling learning styles: %w", err)
	}
	access, err := json.Marshal(nonNil(profile.Accessibility))
	if err != nil {
		return fmt.Errorf("marshaling accessibility: %w", err)
	}

	query := `
		INSERT INTO learners (user_id, display_name, grade_level, language, learning_styles, accessibility, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	err = s.withWriteRetry(ctx, "inserting learner", func() error {
		_, err := s.db.ExecContext(ctx, query,
			profile.UserID,
			profile.DisplayName,
			profile.GradeLevel,
			profile.Language,
			string(styles),
			string(access),
			formatTime(time.Now()),
		)
		return err
	})
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting learner: %w", err)
	}

	s.logger.Debug("created learner", "user_id", profile.UserID, "grade", profile.GradeLevel)
	return nil
}

// GetLearner retrieves a learner profile by user id.
// Returns ErrNotFound if the learner doesn't exist.
func (s *SQLiteStore) GetLearner(ctx context.Context, userID string) (*domain.UserProfile, error) {
	query := `
		SELECT user_id, display_name, grade_level, language, learning_styles, accessibility
		FROM learners
		WHERE user_id = ?
	`
	p, err := scanLearner(s.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying learner: %w", err)
	}
	return p, nil
}

// ListLearners returns all learner profiles ordered by user id.
func (s *SQLiteStore) ListLearners(ctx context.Context) ([]*domain.UserProfile, error) {
	query := `
		SELECT user_id, display_name, grade_level, language, learning_styles, accessibility
		FROM learners
		ORDER BY user_id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying learners: %w", err)
	}
	defer rows.Close()

	var learners []*domain.UserProfile
	for rows.Next() {
		p, err := scanLearner(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning learner: %w", err)
		}
		learners = append(learners, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating learners: %w", err)
	}
	return learners, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanLearner(row scanner) (*domain.UserProfile, error) {
	var p domain.UserProfile
	var styles, access string
	if err := row.Scan(&p.UserID, &p.DisplayName, &p.GradeLevel, &p.Language, &styles, &access); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(styles), &p.LearningStyles); err != nil {
		return nil, fmt.Errorf("parsing learning styles: %w", err)
	}
	if err := json.Unmarshal([]byte(access), &p.Accessibility); err != nil {
		return nil, fmt.Errorf("parsing accessibility: %w", err)
	}
	if len(p.LearningStyles) == 0 {
		p.LearningStyles = nil
	}
	if len(p.Accessibility) == 0 {
		p.Accessibility = nil
	}
	return &p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
