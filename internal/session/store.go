// ABOUTME: Session Store enforcing ownership, single-writer turns, and idle expiry
// ABOUTME: Wraps a persistence backend; the only path through which sessions change

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/tutor-gateway/internal/domain"
	"github.com/2389/tutor-gateway/internal/store"
)

// Session store errors
var (
	ErrNotFound       = errors.New("session not found")
	ErrForbidden      = errors.New("session belongs to another user")
	ErrConflict       = errors.New("session has another write in flight")
	ErrSessionInvalid = errors.New("session is not active")
	ErrLeaseReleased  = errors.New("session lease already released")
)

// turnSpacing is the minimum gap between consecutive turn timestamps.
const turnSpacing = time.Microsecond

// Store manages session lifecycle on top of a persistence backend.
type Store struct {
	backend     store.SessionStore
	idleTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger

	mu      sync.Mutex
	writers map[string]struct{} // session IDs with a write in flight
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a session store. A zero idleTimeout disables idle expiry.
func NewStore(backend store.SessionStore, idleTimeout time.Duration, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		backend:     backend,
		idleTimeout: idleTimeout,
		now:         time.Now,
		logger:      logger.With("component", "session"),
		writers:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create starts a new active session owned by userID.
func (s *Store) Create(ctx context.Context, userID string, activity domain.Activity) (*domain.Session, error) {
	if userID == "" {
		return nil, errors.New("creating session: empty user id")
	}
	now := s.now().UTC()
	sess := &domain.Session{
		ID:             uuid.New().String(),
		UserID:         userID,
		Activity:       activity,
		Status:         domain.SessionActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.backend.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Info("session created", "session_id", sess.ID, "user_id", userID, "kind", activity.Kind)
	return sess.Clone(), nil
}

// Get returns a copy of the session if userID owns it. An active session past
// its idle window is expired before it is returned.
func (s *Store) Get(ctx context.Context, id, userID string) (*domain.Session, error) {
	sess, err := s.load(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if sess.Status == domain.SessionActive && sess.IdleSince(s.now(), s.idleTimeout) {
		if err := s.expire(ctx, id); err != nil && !errors.Is(err, ErrConflict) && !errors.Is(err, ErrSessionInvalid) {
			return nil, err
		}
		return s.load(ctx, id, userID)
	}
	return sess, nil
}

func (s *Store) load(ctx context.Context, id, userID string) (*domain.Session, error) {
	sess, err := s.backend.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if sess.UserID != userID {
		s.logger.Warn("cross-user session access rejected", "session_id", id, "user_id", userID)
		return nil, ErrForbidden
	}
	return sess, nil
}

// ListByUser returns the user's sessions, newest first, without turns.
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.Session, error) {
	sessions, err := s.backend.ListSessionsByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	now := s.now()
	for _, sess := range sessions {
		// Report idle sessions as expired even before the sweeper reaches them
		if sess.Status == domain.SessionActive && sess.IdleSince(now, s.idleTimeout) {
			sess.Status = domain.SessionExpired
		}
	}
	return sessions, nil
}

// tryLock claims the single writer slot for a session.
func (s *Store) tryLock(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.writers[id]; busy {
		return false
	}
	s.writers[id] = struct{}{}
	return true
}

func (s *Store) unlock(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.writers, id)
}

// Acquire claims the single writer slot for an active session owned by userID.
// The caller must Release the lease. A second Acquire while one is held fails
// with ErrConflict.
//
// Ownership is checked before the slot is claimed, so callers who do not own
// the session always see ErrNotFound or ErrForbidden and never hold the slot.
func (s *Store) Acquire(ctx context.Context, id, userID string) (*Lease, error) {
	if _, err := s.load(ctx, id, userID); err != nil {
		return nil, err
	}
	if !s.tryLock(id) {
		s.logger.Debug("session write contended", "session_id", id)
		return nil, ErrConflict
	}

	// Reload under the slot; a previous writer may have appended or ended it.
	sess, err := s.load(ctx, id, userID)
	if err == nil && sess.Status == domain.SessionActive && sess.IdleSince(s.now(), s.idleTimeout) {
		err = s.markStatus(ctx, id, domain.SessionExpired)
		if err == nil {
			err = ErrSessionInvalid
		}
	}
	if err == nil && sess.Status != domain.SessionActive {
		err = ErrSessionInvalid
	}
	if err != nil {
		s.unlock(id)
		return nil, err
	}
	return &Lease{store: s, session: sess}, nil
}

// AppendTurn appends one finalized turn under a short-lived lease.
func (s *Store) AppendTurn(ctx context.Context, id, userID string, turn *domain.Turn) error {
	lease, err := s.Acquire(ctx, id, userID)
	if err != nil {
		return err
	}
	defer lease.Release()
	return lease.Append(ctx, turn)
}

// Complete marks an active session as completed.
func (s *Store) Complete(ctx context.Context, id, userID string) (*domain.Session, error) {
	lease, err := s.Acquire(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	if err := s.markStatus(ctx, id, domain.SessionCompleted); err != nil {
		return nil, err
	}
	s.logger.Info("session completed", "session_id", id, "user_id", userID, "turns", len(lease.session.Turns))
	return s.load(ctx, id, userID)
}

// Expire marks an active session as expired. It is a system operation and
// skips the ownership check; it fails with ErrConflict while a write is in flight.
func (s *Store) Expire(ctx context.Context, id string) error {
	return s.expire(ctx, id)
}

func (s *Store) expire(ctx context.Context, id string) error {
	if !s.tryLock(id) {
		return ErrConflict
	}
	defer s.unlock(id)

	if err := s.markStatus(ctx, id, domain.SessionExpired); err != nil {
		return err
	}
	s.logger.Info("session expired", "session_id", id)
	return nil
}

func (s *Store) markStatus(ctx context.Context, id string, status domain.SessionStatus) error {
	err := s.backend.UpdateSessionStatus(ctx, id, status, s.now().UTC())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrNotActive):
		return ErrSessionInvalid
	default:
		return fmt.Errorf("updating session status: %w", err)
	}
}

// ExpireIdle expires every active session idle longer than the configured
// window and returns how many were expired.
func (s *Store) ExpireIdle(ctx context.Context) (int, error) {
	if s.idleTimeout <= 0 {
		return 0, nil
	}
	ids, err := s.backend.ListIdleSessions(ctx, s.now().Add(-s.idleTimeout))
	if err != nil {
		return 0, fmt.Errorf("listing idle sessions: %w", err)
	}

	expired := 0
	for _, id := range ids {
		err := s.expire(ctx, id)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, ErrConflict), errors.Is(err, ErrSessionInvalid):
			// A turn is in flight or the session ended meanwhile
		default:
			s.logger.Error("failed to expire session", "session_id", id, "error", err)
		}
	}
	return expired, nil
}

// Lease is the single writer slot for one session.
type Lease struct {
	store   *Store
	session *domain.Session
	once    sync.Once
	mu      sync.Mutex
	done    bool
}

// Session returns a copy of the session as of the last append through this lease.
func (l *Lease) Session() *domain.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session.Clone()
}

// Append finalizes and persists turn. It assigns the turn's session id, its
// sequence number, a strictly increasing timestamp, and an id if missing.
func (l *Lease) Append(ctx context.Context, turn *domain.Turn) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return ErrLeaseReleased
	}

	sess := l.session
	now := l.store.now().UTC()
	seq := 1
	if last := sess.LastTurn(); last != nil {
		seq = last.Seq + 1
		if !now.After(last.CreatedAt) {
			now = last.CreatedAt.Add(turnSpacing)
		}
	}
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	turn.SessionID = sess.ID
	turn.Seq = seq
	turn.CreatedAt = now

	err := l.store.backend.AppendTurn(ctx, turn)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotActive):
		return ErrSessionInvalid
	case errors.Is(err, store.ErrDuplicate):
		return ErrConflict
	default:
		return fmt.Errorf("appending turn: %w", err)
	}

	stored := *turn
	sess.Turns = append(sess.Turns, &stored)
	sess.LastActivityAt = now

	l.store.logger.Debug("turn appended",
		"session_id", sess.ID,
		"turn_id", turn.ID,
		"seq", seq,
		"status", turn.Result.Status,
	)
	return nil
}

// Release frees the writer slot. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.mu.Lock()
		l.done = true
		l.mu.Unlock()
		l.store.unlock(l.session.ID)
	})
}
