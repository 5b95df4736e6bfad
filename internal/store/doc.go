// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with small
// specialized interfaces:
//
//   - LearnerStore: learner profiles consumed by identity verification
//   - SessionStore: sessions, their append-only turns, and the per-user index
//   - AgentCallStore: per-call agent outcomes and latency statistics
//
// SQLiteStore implements all of them in one struct; MockStore is the
// in-memory counterpart used by tests.
//
// # Data Models
//
//   - learners: one row per learner with JSON-encoded preference lists
//   - sessions: lifecycle row per session, indexed by (user_id, created_at)
//     for listing and by (status, last_activity_at) for idle sweeps
//   - turns: one JSON document per turn, unique on (session_id, seq)
//   - agent_calls: flat call log aggregated by GetAgentStats
//
// # Timestamps
//
// Timestamps are stored as fixed-width UTC text so range queries on
// last_activity_at can compare strings directly.
//
// # Concurrency
//
// Writes go through a mutex and are retried with exponential backoff when
// SQLite reports SQLITE_BUSY. Session-level single-writer semantics are the
// session package's job; the unique (session_id, seq) index is the backstop.
//
// # Errors
//
//   - ErrNotFound: the entity does not exist
//   - ErrDuplicate: an insert collided with an existing key
//   - ErrNotActive: a session write targeted a completed or expired session
package store
