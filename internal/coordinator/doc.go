// Package coordinator turns one learner request into a single aggregated
// response.
//
// A coordination turn verifies the caller, resolves or creates the session,
// claims the session's single writer lease, plans which agents to call for
// the request kind, fans out to them (respecting data dependencies between
// steps), aggregates every Outcome into an AggregatedResult, and appends the
// resulting Turn to the session. Agent failures never surface as errors; they
// appear in the result's Missing list and in its status.
package coordinator
