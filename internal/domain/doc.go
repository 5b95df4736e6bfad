// Package domain holds the data model shared by the learning coordinator and
// its collaborators.
//
// # Agents and capabilities
//
// The tutoring platform fronts seven agents, each addressed by a Capability:
//
//   - content: explanations and practice material
//   - assessment: assessment questions and answer evaluation
//   - analytics: performance digests over a session's history
//   - adaptive: difficulty and next-step recommendations
//   - voice: narration of text for speech output
//   - engagement: points, streaks, and badges
//   - coordinator: this service; known but never dispatched
//
// Every agent returns a different payload. Payloads are a closed set of Go
// types implementing Payload, keyed by Capability. DecodePayload rejects
// capabilities it does not know instead of falling back to a generic map.
//
// # Sessions and turns
//
// A Session is owned by one user and holds an ordered list of Turns. A Turn
// records the ActivityRequest, the DispatchPlan computed for it, one Outcome
// per agent call, and the AggregatedResult. Turns are immutable once
// appended; the session package enforces ordering and ownership.
package domain
