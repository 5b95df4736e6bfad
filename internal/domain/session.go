// ABOUTME: Session and Turn types for multi-turn learning interactions
// ABOUTME: Sessions are owned by one user and carry an append-only list of turns

package domain

import (
	"slices"
	"time"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionExpired   SessionStatus = "expired"
)

// Session is a multi-turn learning interaction owned by one user.
type Session struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id"`
	Activity       Activity      `json:"activity"`
	Status         SessionStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	Turns          []*Turn       `json:"turns,omitempty"`
}

// Clone returns a copy that shares the immutable turns but not the slice.
func (s *Session) Clone() *Session {
	c := *s
	c.Turns = slices.Clone(s.Turns)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// LastTurn returns the most recent turn, or nil for a fresh session.
func (s *Session) LastTurn() *Turn {
	if len(s.Turns) == 0 {
		return nil
	}
	return s.Turns[len(s.Turns)-1]
}

// IdleSince reports whether the session has seen no activity for at least window.
func (s *Session) IdleSince(now time.Time, window time.Duration) bool {
	return window > 0 && now.Sub(s.LastActivityAt) >= window
}

// Turn is one request's dispatch-and-aggregate cycle within a session.
type Turn struct {
	ID        string           `json:"id"`
	SessionID string           `json:"session_id"`
	Seq       int              `json:"seq"`
	Request   ActivityRequest  `json:"request"`
	Plan      DispatchPlan     `json:"plan"`
	Outcomes  []Outcome        `json:"outcomes"`
	Result    AggregatedResult `json:"result"`
	CreatedAt time.Time        `json:"created_at"`
}
