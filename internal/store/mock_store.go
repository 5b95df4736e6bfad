// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/2389/tutor-gateway/internal/domain"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	learners map[string]*domain.UserProfile // keyed by user ID
	sessions map[string]*domain.Session     // keyed by session ID, turns included
	byUser   map[string][]string            // keyed by user ID -> session IDs in creation order
	calls    []*AgentCall

	// PingErr is returned by Ping when set.
	PingErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		learners: make(map[string]*domain.UserProfile),
		sessions: make(map[string]*domain.Session),
		byUser:   make(map[string][]string),
	}
}

// CreateLearner stores a learner profile.
func (m *MockStore) CreateLearner(ctx context.Context, profile *domain.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.learners[profile.UserID]; ok {
		return ErrDuplicate
	}
	p := *profile
	m.learners[p.UserID] = &p
	return nil
}

// GetLearner retrieves a learner profile.
func (m *MockStore) GetLearner(ctx context.Context, userID string) (*domain.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.learners[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// ListLearners returns all learner profiles ordered by user ID.
func (m *MockStore) ListLearners(ctx context.Context) ([]*domain.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.UserProfile, 0, len(m.learners))
	for _, p := range m.learners {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// CreateSession stores a session without its turns.
func (m *MockStore) CreateSession(ctx context.Context, sess *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sess.ID]; ok {
		return ErrDuplicate
	}
	s := sess.Clone()
	s.Turns = nil
	m.sessions[s.ID] = s
	m.byUser[s.UserID] = append(m.byUser[s.UserID], s.ID)
	return nil
}

// GetSession retrieves a copy of a session with its turns.
func (m *MockStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// AppendTurn appends a turn to an active session.
func (m *MockStore) AppendTurn(ctx context.Context, turn *domain.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[turn.SessionID]
	if !ok || s.Status != domain.SessionActive {
		return ErrNotActive
	}
	for _, existing := range s.Turns {
		if existing.Seq == turn.Seq || existing.ID == turn.ID {
			return ErrDuplicate
		}
	}
	t := *turn
	s.Turns = append(s.Turns, &t)
	s.LastActivityAt = turn.CreatedAt
	return nil
}

// UpdateSessionStatus moves an active session to status.
func (m *MockStore) UpdateSessionStatus(ctx context.Context, id string, status domain.SessionStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status != domain.SessionActive {
		return ErrNotActive
	}
	s.Status = status
	s.CompletedAt = &at
	return nil
}

// ListSessionsByUser returns the user's sessions newest first, without turns.
func (m *MockStore) ListSessionsByUser(ctx context.Context, userID string, limit int) ([]*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byUser[userID]
	out := make([]*domain.Session, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		s := m.sessions[ids[i]].Clone()
		s.Turns = nil
		out = append(out, s)
	}
	return out, nil
}

// ListIdleSessions returns ids of active sessions idle since before the cutoff.
func (m *MockStore) ListIdleSessions(ctx context.Context, before time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, s := range m.sessions {
		if s.Status == domain.SessionActive && s.LastActivityAt.Before(before) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveAgentCall records an agent call.
func (m *MockStore) SaveAgentCall(ctx context.Context, call *AgentCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *call
	m.calls = append(m.calls, &c)
	return nil
}

// GetAgentStats aggregates recorded calls at or after since.
func (m *MockStore) GetAgentStats(ctx context.Context, since time.Time) ([]*AgentStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acc := newStatsAccumulator()
	for _, c := range m.calls {
		if c.CreatedAt.Before(since) {
			continue
		}
		acc.add(c.Agent, c.Status, 1, float64(c.Latency)/float64(time.Millisecond))
	}
	return acc.result(), nil
}

// AgentCalls returns a copy of every recorded call, for test assertions.
func (m *MockStore) AgentCalls() []*AgentCall {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*AgentCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Ping returns PingErr.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PingErr
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}
