// Package session implements the Session Store: the only component that
// mutates learning sessions.
//
// Every read and write carries the caller's verified user id and is rejected
// with ErrForbidden when it does not match the session owner. Writes go
// through a Lease, a per-session single writer slot: while one lease is held,
// Acquire, AppendTurn, Complete, and Expire on the same session fail fast with
// ErrConflict instead of queueing, so two submissions of the same answer can
// never interleave their turns.
//
// Lease.Append assigns sequence numbers and strictly increasing timestamps.
// Active sessions idle longer than the configured window are expired lazily
// on access and eagerly by StartSweeper.
package session
