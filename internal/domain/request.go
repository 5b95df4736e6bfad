// ABOUTME: Learner context, activity requests, derived agent requests, and dispatch plans
// ABOUTME: Everything an agent needs travels inside its AgentRequest

package domain

import (
	"encoding/json"
	"fmt"
	"slices"
)

// UserProfile is what the identity verifier knows about a learner.
type UserProfile struct {
	UserID         string   `json:"user_id"`
	DisplayName    string   `json:"display_name,omitempty"`
	GradeLevel     int      `json:"grade_level"`
	Language       string   `json:"language"`
	LearningStyles []string `json:"learning_styles,omitempty"`
	Accessibility  []string `json:"accessibility,omitempty"`
}

// UserContext is the read-only snapshot of a profile used for one request.
type UserContext struct {
	UserID         string   `json:"user_id"`
	DisplayName    string   `json:"display_name,omitempty"`
	GradeLevel     int      `json:"grade_level"`
	Language       string   `json:"language"`
	LearningStyles []string `json:"learning_styles,omitempty"`
	Accessibility  []string `json:"accessibility,omitempty"`
}

// Context snapshots the profile. Slices are copied so later profile edits
// cannot reach requests already in flight.
func (p *UserProfile) Context() UserContext {
	return UserContext{
		UserID:         p.UserID,
		DisplayName:    p.DisplayName,
		GradeLevel:     p.GradeLevel,
		Language:       p.Language,
		LearningStyles: slices.Clone(p.LearningStyles),
		Accessibility:  slices.Clone(p.Accessibility),
	}
}

// RequestKind identifies the learning activity a client asks for.
type RequestKind string

const (
	KindStartAssessment RequestKind = "start_assessment"
	KindAnswer          RequestKind = "answer"
	KindPractice        RequestKind = "practice"
	KindExplain         RequestKind = "explain"
	KindLearningPlan    RequestKind = "learning_plan"
	KindSpeak           RequestKind = "speak"
)

// ActivityRequest is one client-initiated coordination request.
type ActivityRequest struct {
	RequestID string      `json:"request_id,omitempty"`
	Kind      RequestKind `json:"kind"`
	Subject   string      `json:"subject,omitempty"`
	Topic     string      `json:"topic,omitempty"`
	Subtopic  string      `json:"subtopic,omitempty"`
	Answer    string      `json:"answer,omitempty"`
	Text      string      `json:"text,omitempty"`
}

// Activity is the subject matter a session was started for.
type Activity struct {
	Kind     RequestKind `json:"kind"`
	Subject  string      `json:"subject,omitempty"`
	Topic    string      `json:"topic,omitempty"`
	Subtopic string      `json:"subtopic,omitempty"`
}

// HistoryEntry is one evaluated answer, sent to agents that reason over a session.
type HistoryEntry struct {
	Question string  `json:"question"`
	Answer   string  `json:"answer"`
	Correct  bool    `json:"correct"`
	Score    float64 `json:"score"`
	Topic    string  `json:"topic,omitempty"`
}

// AgentRequest is the self-contained request sent to one agent.
type AgentRequest struct {
	Capability Capability             `json:"capability"`
	Kind       RequestKind            `json:"kind"`
	SessionID  string                 `json:"session_id"`
	TurnSeq    int                    `json:"turn_seq"`
	Learner    UserContext            `json:"learner"`
	Subject    string                 `json:"subject,omitempty"`
	Topic      string                 `json:"topic,omitempty"`
	Subtopic   string                 `json:"subtopic,omitempty"`
	Answer     string                 `json:"answer,omitempty"`
	Text       string                 `json:"text,omitempty"`
	Question   *Question              `json:"question,omitempty"`
	History    []HistoryEntry         `json:"history,omitempty"`
	Upstream   map[Capability]Payload `json:"upstream,omitempty"`
}

// UnmarshalJSON decodes Upstream through the tagged payload types.
func (r *AgentRequest) UnmarshalJSON(data []byte) error {
	type alias AgentRequest
	aux := struct {
		*alias
		Upstream payloadMap `json:"upstream,omitempty"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	upstream, err := decodePayloadMap(aux.Upstream)
	if err != nil {
		return fmt.Errorf("decoding upstream payloads: %w", err)
	}
	r.Upstream = upstream
	return nil
}

// Step is one agent call within a DispatchPlan.
type Step struct {
	Capability Capability   `json:"capability"`
	Required   bool         `json:"required"`
	After      []Capability `json:"after,omitempty"`
	Idempotent bool         `json:"idempotent,omitempty"`
	Request    AgentRequest `json:"request"`
}

// DispatchPlan is the set of agent calls for one turn, in declaration order.
type DispatchPlan struct {
	Steps []Step `json:"steps"`
}

// RequiredSet returns the capabilities whose outcomes decide the turn status.
func (p DispatchPlan) RequiredSet() map[Capability]bool {
	out := make(map[Capability]bool, len(p.Steps))
	for _, s := range p.Steps {
		out[s.Capability] = s.Required
	}
	return out
}

// Capabilities lists the planned capabilities in declaration order.
func (p DispatchPlan) Capabilities() []Capability {
	out := make([]Capability, 0, len(p.Steps))
	for _, s := range p.Steps {
		out = append(out, s.Capability)
	}
	return out
}
