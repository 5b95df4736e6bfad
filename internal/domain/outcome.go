// ABOUTME: Per-agent call outcomes and the aggregated result of a turn
// ABOUTME: Custom JSON keeps payloads typed when turns are persisted and reloaded

package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// OutcomeStatus is the result class of one agent call.
type OutcomeStatus string

const (
	OutcomeSuccess  OutcomeStatus = "success"
	OutcomeFailed   OutcomeStatus = "failed"
	OutcomeTimedOut OutcomeStatus = "timed_out"
	// OutcomeDegraded marks a static fallback served in place of an unreachable agent.
	OutcomeDegraded OutcomeStatus = "degraded"
)

// Outcome is the result of one agent call.
type Outcome struct {
	Agent    Capability
	Status   OutcomeStatus
	Payload  Payload
	Error    string
	Latency  time.Duration
	Attempts int
}

// HasPayload reports whether the outcome carries a usable payload.
func (o Outcome) HasPayload() bool {
	return o.Payload != nil && (o.Status == OutcomeSuccess || o.Status == OutcomeDegraded)
}

type outcomeJSON struct {
	Agent     Capability      `json:"agent"`
	Status    OutcomeStatus   `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
	LatencyMS float64         `json:"latency_ms"`
	Attempts  int             `json:"attempts,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (o Outcome) MarshalJSON() ([]byte, error) {
	aux := outcomeJSON{
		Agent:     o.Agent,
		Status:    o.Status,
		Error:     o.Error,
		LatencyMS: float64(o.Latency) / float64(time.Millisecond),
		Attempts:  o.Attempts,
	}
	if o.Payload != nil {
		raw, err := json.Marshal(o.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s payload: %w", o.Agent, err)
		}
		aux.Payload = raw
	}
	return json.Marshal(aux)
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var aux outcomeJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*o = Outcome{
		Agent:    aux.Agent,
		Status:   aux.Status,
		Error:    aux.Error,
		Latency:  time.Duration(math.Round(aux.LatencyMS * float64(time.Millisecond))),
		Attempts: aux.Attempts,
	}
	if len(aux.Payload) > 0 && string(aux.Payload) != "null" {
		p, err := DecodePayload(aux.Agent, aux.Payload)
		if err != nil {
			return err
		}
		o.Payload = p
	}
	return nil
}

// ResultStatus is the overall status of a turn.
type ResultStatus string

const (
	ResultComplete        ResultStatus = "complete"
	ResultPartialDegraded ResultStatus = "partial_degraded"
	ResultFailed          ResultStatus = "failed"
)

// MissingAgent describes an agent that did not contribute a successful payload.
type MissingAgent struct {
	Agent    Capability    `json:"agent"`
	Status   OutcomeStatus `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Required bool          `json:"required"`
}

// AggregatedResult is the single response assembled from a turn's outcomes.
type AggregatedResult struct {
	Status   ResultStatus           `json:"status"`
	Payloads map[Capability]Payload `json:"payloads,omitempty"`
	Missing  []MissingAgent         `json:"missing,omitempty"`
	Summary  string                 `json:"summary"`
}

// MissingAgents returns the names of agents listed as missing or degraded.
func (r AggregatedResult) MissingAgents() []Capability {
	out := make([]Capability, 0, len(r.Missing))
	for _, m := range r.Missing {
		out = append(out, m.Agent)
	}
	return out
}

// UnmarshalJSON decodes Payloads through the tagged payload types.
func (r *AggregatedResult) UnmarshalJSON(data []byte) error {
	type alias AggregatedResult
	aux := struct {
		*alias
		Payloads payloadMap `json:"payloads,omitempty"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	payloads, err := decodePayloadMap(aux.Payloads)
	if err != nil {
		return fmt.Errorf("decoding result payloads: %w", err)
	}
	r.Payloads = payloads
	return nil
}
