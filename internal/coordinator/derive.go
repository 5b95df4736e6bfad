// ABOUTME: Builds the shared AgentRequest context for a turn from the session and learner
// ABOUTME: Agents are stateless, so everything they need is derived here

package coordinator

import (
	"github.com/2389/tutor-gateway/internal/domain"
)

// deriveRequest builds the context every step of the next turn starts from.
// Subject matter missing from the request is inherited from the session.
func deriveRequest(sess *domain.Session, learner domain.UserContext, req domain.ActivityRequest) domain.AgentRequest {
	seq := 1
	if last := sess.LastTurn(); last != nil {
		seq = last.Seq + 1
	}
	out := domain.AgentRequest{
		Kind:      req.Kind,
		SessionID: sess.ID,
		TurnSeq:   seq,
		Learner:   learner,
		Subject:   firstNonEmpty(req.Subject, sess.Activity.Subject),
		Topic:     firstNonEmpty(req.Topic, sess.Activity.Topic),
		Subtopic:  firstNonEmpty(req.Subtopic, sess.Activity.Subtopic),
		Answer:    req.Answer,
		Text:      req.Text,
	}

	digest := walkTurns(sess.Turns)
	switch req.Kind {
	case domain.KindAnswer:
		out.Question = digest.current
	case domain.KindLearningPlan:
		out.History = digest.history
	case domain.KindSpeak:
		if out.Text == "" {
			out.Text = digest.lastNarration
		}
	}
	return out
}

type turnDigest struct {
	current       *domain.Question
	history       []domain.HistoryEntry
	lastNarration string
}

// walkTurns replays the session in order, tracking the question on screen and
// every answer the assessment agent evaluated.
func walkTurns(turns []*domain.Turn) turnDigest {
	var d turnDigest
	for _, turn := range turns {
		payloads := turn.Result.Payloads

		if turn.Request.Kind == domain.KindAnswer {
			if a, ok := payloads[domain.CapabilityAssessment].(*domain.AssessmentPayload); ok && a.Evaluation != nil {
				entry := domain.HistoryEntry{
					Answer:  turn.Request.Answer,
					Correct: a.Evaluation.Correct,
					Score:   a.Evaluation.Score,
					Topic:   turn.Request.Topic,
				}
				if d.current != nil {
					entry.Question = d.current.Text
					entry.Topic = firstNonEmpty(entry.Topic, d.current.Topic)
				}
				d.history = append(d.history, entry)
			}
		}

		if a, ok := payloads[domain.CapabilityAssessment].(*domain.AssessmentPayload); ok && a.Question != nil {
			d.current = a.Question
		}
		if c, ok := payloads[domain.CapabilityContent].(*domain.ContentPayload); ok {
			if c.Question != nil {
				d.current = c.Question
			}
			if c.Markdown != "" {
				d.lastNarration = Narrate(c.Markdown)
			}
		}
	}
	return d
}

// enrichFromUpstream fills request fields that depend on an earlier step's payload.
func enrichFromUpstream(req *domain.AgentRequest) {
	if req.Capability != domain.CapabilityVoice || req.Text != "" {
		return
	}
	if c, ok := req.Upstream[domain.CapabilityContent].(*domain.ContentPayload); ok {
		req.Text = Narrate(c.Markdown)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
