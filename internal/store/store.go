// ABOUTME: Store interface and data types for tutor-gateway persistence
// ABOUTME: Defines learner, session, turn, and agent call storage operations

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/tutor-gateway/internal/domain"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert collides with an existing row
var ErrDuplicate = errors.New("already exists")

// ErrNotActive is returned when a session write targets a session that is no longer active
var ErrNotActive = errors.New("session not active")

// AgentCall is one agent invocation recorded for operational statistics.
type AgentCall struct {
	ID        string
	SessionID string
	TurnID    string
	Agent     domain.Capability
	Status    domain.OutcomeStatus
	Latency   time.Duration
	Attempts  int
	Error     string
	CreatedAt time.Time
}

// AgentStats aggregates recorded calls for one agent.
type AgentStats struct {
	Agent        domain.Capability            `json:"agent"`
	Total        int                          `json:"total"`
	ByStatus     map[domain.OutcomeStatus]int `json:"by_status"`
	AvgLatencyMS float64                      `json:"avg_latency_ms"`
}

// LearnerStore persists learner profiles consumed by identity verification.
type LearnerStore interface {
	CreateLearner(ctx context.Context, profile *domain.UserProfile) error
	GetLearner(ctx context.Context, userID string) (*domain.UserProfile, error)
	ListLearners(ctx context.Context) ([]*domain.UserProfile, error)
}

// SessionStore persists sessions and their turns. Turns are append-only.
type SessionStore interface {
	CreateSession(ctx context.Context, sess *domain.Session) error
	// GetSession returns the session with its turns in sequence order.
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	// AppendTurn inserts the turn and bumps the session's last activity.
	// Returns ErrNotActive if the session is not active and ErrDuplicate if
	// the sequence number is taken.
	AppendTurn(ctx context.Context, turn *domain.Turn) error
	// UpdateSessionStatus moves an active session to status.
	// Returns ErrNotActive if the session already left the active state.
	UpdateSessionStatus(ctx context.Context, id string, status domain.SessionStatus, at time.Time) error
	// ListSessionsByUser returns the user's sessions, newest first, without turns.
	ListSessionsByUser(ctx context.Context, userID string, limit int) ([]*domain.Session, error)
	// ListIdleSessions returns ids of active sessions with no activity since before.
	ListIdleSessions(ctx context.Context, before time.Time) ([]string, error)
}

// AgentCallStore records agent invocations.
type AgentCallStore interface {
	SaveAgentCall(ctx context.Context, call *AgentCall) error
	GetAgentStats(ctx context.Context, since time.Time) ([]*AgentStats, error)
}

// Store combines every persistence concern of the gateway.
type Store interface {
	LearnerStore
	SessionStore
	AgentCallStore
	Ping(ctx context.Context) error
	Close() error
}
