// Package gateway serves the tutor-gateway HTTP API.
//
// # Overview
//
// Gateway owns every long-lived component: the SQLite store, the session
// store and its idle sweeper, the agent registry, the replay cache, and the
// coordinator. New builds them from configuration; Run serves until the
// context is canceled and then shuts everything down in order.
//
// # HTTP API
//
// All /api routes require a bearer token and are rate limited per client IP:
//
//   - POST /api/coordinate - Run one learner request (new session if session_id is empty)
//   - GET /api/sessions - List the caller's sessions, newest first
//   - GET /api/sessions/{id} - One session with its turns
//   - POST /api/sessions/{id}/complete - End a session
//   - GET /api/agents/stats - Per-agent call statistics (?since=1h or RFC 3339)
//   - GET /health - Liveness check
//   - GET /health/ready - Database and per-agent readiness; 503 when the database
//     is unreachable or no agent is ready
//
// A coordination request looks like:
//
//	{"session_id": "...", "request_id": "r-42", "kind": "answer", "answer": "3/4"}
//
// request_id may also be sent as an Idempotency-Key header. Replays within
// the dedupe window get 409.
//
// # Errors
//
// Errors are returned as {"error": "..."}:
//
//   - 400 malformed body or query
//   - 401 missing or unverifiable credential
//   - 404 session unknown, not the caller's, or no longer active
//   - 409 concurrent write to the same session, or a replayed request_id
//   - 422 no registered agent can serve the request kind
//   - 429 rate limit exceeded
//
// Agent failures are not HTTP errors. They are reported inside the result
// as a partial_degraded or failed status with the missing agents listed.
package gateway
