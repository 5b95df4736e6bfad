// ABOUTME: Tagged payload variants returned by each agent capability
// ABOUTME: DecodePayload maps a capability to its concrete type and rejects unknown ones

package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrPayloadMismatch is returned when a payload's capability tag does not match
// the capability it was decoded for.
var ErrPayloadMismatch = errors.New("payload capability mismatch")

// Payload is the result body produced by one agent. The set of implementations
// is closed: one type per dispatchable capability.
type Payload interface {
	Capability() Capability
	isPayload()
}

// Question is an assessment or practice question as shown to the learner.
type Question struct {
	ID         string   `json:"id,omitempty"`
	Text       string   `json:"text"`
	Choices    []string `json:"choices,omitempty"`
	Hint       string   `json:"hint,omitempty"`
	Topic      string   `json:"topic,omitempty"`
	Difficulty int      `json:"difficulty,omitempty"`
	Number     int      `json:"number,omitempty"`
}

// Evaluation is the assessment agent's verdict on an answer.
type Evaluation struct {
	Correct     bool     `json:"correct"`
	Score       float64  `json:"score"`
	Feedback    string   `json:"feedback,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// ContentPayload carries explanation or practice material.
type ContentPayload struct {
	Title    string    `json:"title,omitempty"`
	Markdown string    `json:"markdown"`
	Question *Question `json:"question,omitempty"`
	Fallback bool      `json:"fallback,omitempty"`
}

// AssessmentPayload carries the next assessment question, an evaluation of the
// previous answer, or both.
type AssessmentPayload struct {
	Question       *Question   `json:"question,omitempty"`
	Evaluation     *Evaluation `json:"evaluation,omitempty"`
	QuestionNumber int         `json:"question_number,omitempty"`
	TotalQuestions int         `json:"total_questions,omitempty"`
	Finished       bool        `json:"finished,omitempty"`
	Message        string      `json:"message,omitempty"`
	Fallback       bool        `json:"fallback,omitempty"`
}

// AnalyticsPayload summarizes performance across a session.
type AnalyticsPayload struct {
	QuestionsAttempted  int      `json:"questions_attempted"`
	CorrectAnswers      int      `json:"correct_answers"`
	Accuracy            float64  `json:"accuracy"`
	Strengths           []string `json:"strengths,omitempty"`
	AreasForImprovement []string `json:"areas_for_improvement,omitempty"`
	Summary             string   `json:"summary,omitempty"`
	Fallback            bool     `json:"fallback,omitempty"`
}

// AdaptivePayload recommends a difficulty level and next steps.
type AdaptivePayload struct {
	Difficulty      int      `json:"difficulty"`
	NextSteps       []string `json:"next_steps,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	Fallback        bool     `json:"fallback,omitempty"`
}

// VoicePayload carries narration for speech output.
type VoicePayload struct {
	Text       string `json:"text"`
	Language   string `json:"language,omitempty"`
	AudioURL   string `json:"audio_url,omitempty"`
	DurationMS int    `json:"duration_ms,omitempty"`
	Fallback   bool   `json:"fallback,omitempty"`
}

// EngagementPayload carries gamification updates.
type EngagementPayload struct {
	PointsAwarded int      `json:"points_awarded"`
	TotalPoints   int      `json:"total_points"`
	Streak        int      `json:"streak"`
	Badges        []string `json:"badges,omitempty"`
	Message       string   `json:"message,omitempty"`
	Fallback      bool     `json:"fallback,omitempty"`
}

func (*ContentPayload) Capability() Capability    { return CapabilityContent }
func (*AssessmentPayload) Capability() Capability { return CapabilityAssessment }
func (*AnalyticsPayload) Capability() Capability  { return CapabilityAnalytics }
func (*AdaptivePayload) Capability() Capability   { return CapabilityAdaptive }
func (*VoicePayload) Capability() Capability      { return CapabilityVoice }
func (*EngagementPayload) Capability() Capability { return CapabilityEngagement }

func (*ContentPayload) isPayload()    {}
func (*AssessmentPayload) isPayload() {}
func (*AnalyticsPayload) isPayload()  {}
func (*AdaptivePayload) isPayload()   {}
func (*VoicePayload) isPayload()      {}
func (*EngagementPayload) isPayload() {}

// newPayload returns an empty payload of the concrete type for c.
func newPayload(c Capability) (Payload, error) {
	switch c {
	case CapabilityContent:
		return &ContentPayload{}, nil
	case CapabilityAssessment:
		return &AssessmentPayload{}, nil
	case CapabilityAnalytics:
		return &AnalyticsPayload{}, nil
	case CapabilityAdaptive:
		return &AdaptivePayload{}, nil
	case CapabilityVoice:
		return &VoicePayload{}, nil
	case CapabilityEngagement:
		return &EngagementPayload{}, nil
	case CapabilityCoordinator:
		return nil, fmt.Errorf("%w: %s produces no agent payload", ErrUnknownCapability, c)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCapability, string(c))
	}
}

// DecodePayload decodes raw JSON into the concrete payload type for c.
func DecodePayload(c Capability, raw []byte) (Payload, error) {
	p, err := newPayload(c)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("decoding %s payload: empty body", c)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", c, err)
	}
	return p, nil
}

// payloadEnvelope is the self-describing wire form of a payload.
type payloadEnvelope struct {
	Capability Capability      `json:"capability"`
	Data       json.RawMessage `json:"data"`
}

// MarshalEnvelope encodes p together with its capability tag.
func MarshalEnvelope(p Payload) ([]byte, error) {
	if p == nil {
		return nil, errors.New("marshaling envelope: nil payload")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", p.Capability(), err)
	}
	return json.Marshal(payloadEnvelope{Capability: p.Capability(), Data: data})
}

// UnmarshalEnvelope decodes a tagged payload and checks the tag against want.
func UnmarshalEnvelope(want Capability, raw []byte) (Payload, error) {
	var env payloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding payload envelope: %w", err)
	}
	if env.Capability != want {
		return nil, fmt.Errorf("%w: expected %s, got %q", ErrPayloadMismatch, want, string(env.Capability))
	}
	return DecodePayload(env.Capability, env.Data)
}

// FallbackPayload builds the static payload served when an agent is unreachable.
func FallbackPayload(c Capability, text string) (Payload, error) {
	switch c {
	case CapabilityContent:
		return &ContentPayload{Markdown: text, Fallback: true}, nil
	case CapabilityAssessment:
		return &AssessmentPayload{Message: text, Fallback: true}, nil
	case CapabilityAnalytics:
		return &AnalyticsPayload{Summary: text, Fallback: true}, nil
	case CapabilityAdaptive:
		return &AdaptivePayload{NextSteps: []string{text}, Fallback: true}, nil
	case CapabilityVoice:
		return &VoicePayload{Text: text, Fallback: true}, nil
	case CapabilityEngagement:
		return &EngagementPayload{Message: text, Fallback: true}, nil
	default:
		return nil, fmt.Errorf("%w: no fallback for %q", ErrUnknownCapability, string(c))
	}
}

// payloadMap is the JSON form of a capability-keyed payload set.
type payloadMap map[Capability]json.RawMessage

func decodePayloadMap(m payloadMap) (map[Capability]Payload, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[Capability]Payload, len(m))
	for c, raw := range m {
		p, err := DecodePayload(c, raw)
		if err != nil {
			return nil, err
		}
		out[c] = p
	}
	return out, nil
}
