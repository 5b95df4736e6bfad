// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers learners, session lifecycle, turn ordering, and the per-user index

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/2389/tutor-gateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// forEachStore runs the same contract test against both implementations.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestStore(t)) })
	t.Run("mock", func(t *testing.T) { fn(t, NewMockStore()) })
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	first, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, first.CreateLearner(context.Background(), &domain.UserProfile{UserID: "u1", Language: "en"}))
	require.NoError(t, first.Close())

	// Schema creation is idempotent on an existing database
	second, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.GetLearner(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
}

func TestLearners(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		profile := &domain.UserProfile{
			UserID:         "learner-1",
			DisplayName:    "Ada",
			GradeLevel:     4,
			Language:       "en",
			LearningStyles: []string{"visual", "kinesthetic"},
			Accessibility:  []string{"dyslexia_font"},
		}
		require.NoError(t, s.CreateLearner(ctx, profile))
		assert.ErrorIs(t, s.CreateLearner(ctx, profile), ErrDuplicate)

		got, err := s.GetLearner(ctx, "learner-1")
		require.NoError(t, err)
		assert.Equal(t, profile, got)

		_, err = s.GetLearner(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.CreateLearner(ctx, &domain.UserProfile{UserID: "learner-0", Language: "es"}))
		all, err := s.ListLearners(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "learner-0", all[0].UserID)
	})
}

func newSession(id, userID string, at time.Time) *domain.Session {
	return &domain.Session{
		ID:             id,
		UserID:         userID,
		Activity:       domain.Activity{Kind: domain.KindStartAssessment, Subject: "math", Topic: "fractions"},
		Status:         domain.SessionActive,
		CreatedAt:      at,
		LastActivityAt: at,
	}
}

func newTurn(sessionID string, seq int, at time.Time) *domain.Turn {
	return &domain.Turn{
		ID:        fmt.Sprintf("%s-turn-%d", sessionID, seq),
		SessionID: sessionID,
		Seq:       seq,
		Request:   domain.ActivityRequest{Kind: domain.KindAnswer, Answer: "3/4"},
		Outcomes: []domain.Outcome{{
			Agent:   domain.CapabilityAssessment,
			Status:  domain.OutcomeSuccess,
			Payload: &domain.AssessmentPayload{Evaluation: &domain.Evaluation{Correct: true, Score: 1}},
		}},
		Result: domain.AggregatedResult{
			Status: domain.ResultComplete,
			Payloads: map[domain.Capability]domain.Payload{
				domain.CapabilityAssessment: &domain.AssessmentPayload{Evaluation: &domain.Evaluation{Correct: true, Score: 1}},
			},
		},
		CreatedAt: at,
	}
}

func TestSessionLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		start := time.Now().UTC().Truncate(time.Millisecond)

		require.NoError(t, s.CreateSession(ctx, newSession("s1", "u1", start)))
		assert.ErrorIs(t, s.CreateSession(ctx, newSession("s1", "u1", start)), ErrDuplicate)

		for seq := 1; seq <= 3; seq++ {
			require.NoError(t, s.AppendTurn(ctx, newTurn("s1", seq, start.Add(time.Duration(seq)*time.Second))))
		}

		got, err := s.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.UserID)
		assert.Equal(t, domain.SessionActive, got.Status)
		assert.Equal(t, "fractions", got.Activity.Topic)
		assert.True(t, got.LastActivityAt.Equal(start.Add(3*time.Second)), "last activity %v", got.LastActivityAt)
		require.Len(t, got.Turns, 3)
		for i, turn := range got.Turns {
			assert.Equal(t, i+1, turn.Seq)
		}
		eval := got.Turns[0].Outcomes[0].Payload.(*domain.AssessmentPayload).Evaluation
		assert.True(t, eval.Correct)

		// Same sequence number twice is rejected
		assert.ErrorIs(t, s.AppendTurn(ctx, newTurn("s1", 3, start.Add(4*time.Second))), ErrDuplicate)

		require.NoError(t, s.UpdateSessionStatus(ctx, "s1", domain.SessionCompleted, start.Add(time.Minute)))
		assert.ErrorIs(t, s.UpdateSessionStatus(ctx, "s1", domain.SessionExpired, start.Add(time.Hour)), ErrNotActive)
		assert.ErrorIs(t, s.AppendTurn(ctx, newTurn("s1", 4, start.Add(5*time.Second))), ErrNotActive)

		got, err = s.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, domain.SessionCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, got.CompletedAt.Equal(start.Add(time.Minute)))

		_, err = s.GetSession(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.UpdateSessionStatus(ctx, "missing", domain.SessionExpired, start), ErrNotFound)
	})
}

func TestListSessionsByUser(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Now().UTC()

		for i := 0; i < 3; i++ {
			require.NoError(t, s.CreateSession(ctx, newSession(fmt.Sprintf("a-%d", i), "alice", base.Add(time.Duration(i)*time.Second))))
		}
		require.NoError(t, s.CreateSession(ctx, newSession("b-0", "bob", base)))

		sessions, err := s.ListSessionsByUser(ctx, "alice", 2)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, "a-2", sessions[0].ID)
		assert.Equal(t, "a-1", sessions[1].ID)

		sessions, err = s.ListSessionsByUser(ctx, "bob", 0)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, "b-0", sessions[0].ID)

		sessions, err = s.ListSessionsByUser(ctx, "carol", 10)
		require.NoError(t, err)
		assert.Empty(t, sessions)
	})
}

func TestListIdleSessions(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now().UTC()

		require.NoError(t, s.CreateSession(ctx, newSession("old", "u1", now.Add(-2*time.Hour))))
		require.NoError(t, s.CreateSession(ctx, newSession("fresh", "u1", now.Add(-time.Minute))))
		require.NoError(t, s.CreateSession(ctx, newSession("done", "u1", now.Add(-3*time.Hour))))
		require.NoError(t, s.UpdateSessionStatus(ctx, "done", domain.SessionCompleted, now))

		// A turn refreshes activity
		require.NoError(t, s.CreateSession(ctx, newSession("revived", "u1", now.Add(-2*time.Hour))))
		require.NoError(t, s.AppendTurn(ctx, newTurn("revived", 1, now)))

		ids, err := s.ListIdleSessions(ctx, now.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []string{"old"}, ids)
	})
}

func TestIsBusy(t *testing.T) {
	assert.True(t, isBusy(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, isBusy(errors.New("UNIQUE constraint failed: turns.id")))
	assert.False(t, isBusy(nil))
}

func TestIsConstraintViolation_OnlyUniqueKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.CreateSession(ctx, newSession("s1", "u1", now)))

	insertSession := `INSERT INTO sessions (id, user_id, kind, status, created_at, last_activity_at)
		VALUES (?, 'u1', 'practice', ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, insertSession, "s1", "active", formatTime(now), formatTime(now))
	require.Error(t, err)
	assert.True(t, isConstraintViolation(err), "duplicate primary key: %v", err)

	_, err = s.db.ExecContext(ctx, insertSession, "s2", "paused", formatTime(now), formatTime(now))
	require.Error(t, err)
	assert.False(t, isConstraintViolation(err), "CHECK failure: %v", err)

	_, err = s.db.ExecContext(ctx, `INSERT INTO turns (id, session_id, seq, kind, status, data, created_at)
		VALUES ('t1', 'missing', 1, 'practice', 'complete', '{}', ?)`, formatTime(now))
	require.Error(t, err)
	assert.False(t, isConstraintViolation(err), "FOREIGN KEY failure: %v", err)

	assert.False(t, isConstraintViolation(errors.New("UNIQUE constraint failed: not a driver error")))
	assert.False(t, isConstraintViolation(nil))

	// A duplicate session id still surfaces as ErrDuplicate through the store
	assert.ErrorIs(t, s.CreateSession(ctx, newSession("s1", "u1", now)), ErrDuplicate)
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(context.Background()))
}

func TestWithWriteRetry_StopsOnNonBusyError(t *testing.T) {
	store := newTestStore(t)
	attempts := 0
	boom := errors.New("boom")

	err := store.withWriteRetry(context.Background(), "test op", func() error {
		attempts++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)

	attempts = 0
	err = store.withWriteRetry(context.Background(), "test op", func() error {
		attempts++
		return errors.New("SQLITE_BUSY")
	})
	assert.Error(t, err)
	assert.Equal(t, busyRetries, attempts)
}
