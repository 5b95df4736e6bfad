// ABOUTME: Deterministic stand-ins for the six tutoring agents
// ABOUTME: Answers are predictable so end-to-end runs can assert on them

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/2389/tutor-gateway/internal/domain"
)

// tutor serves every capability from one process, switching on the
// capability the gateway stamped on the request.
type tutor struct {
	questions int
	delay     time.Duration
	failing   map[domain.Capability]bool
	logger    *slog.Logger

	mu     sync.Mutex
	points map[string]int
}

func newTutor(questions int, delay time.Duration, failing []domain.Capability, logger *slog.Logger) *tutor {
	if questions <= 0 {
		questions = 5
	}
	t := &tutor{
		questions: questions,
		delay:     delay,
		failing:   make(map[domain.Capability]bool),
		logger:    logger,
		points:    make(map[string]int),
	}
	for _, c := range failing {
		t.failing[c] = true
	}
	return t
}

func (t *tutor) Invoke(ctx context.Context, req *domain.AgentRequest) (domain.Payload, error) {
	t.logger.Info("request",
		"agent", req.Capability,
		"kind", req.Kind,
		"session_id", req.SessionID,
		"turn", req.TurnSeq,
	)

	if t.delay > 0 {
		timer := time.NewTimer(t.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.failing[req.Capability] {
		return nil, fmt.Errorf("%s agent is configured to fail", req.Capability)
	}

	switch req.Capability {
	case domain.CapabilityContent:
		return t.content(req), nil
	case domain.CapabilityAssessment:
		return t.assessment(req), nil
	case domain.CapabilityAnalytics:
		return analytics(req), nil
	case domain.CapabilityAdaptive:
		return adaptive(req), nil
	case domain.CapabilityVoice:
		return voice(req)
	case domain.CapabilityEngagement:
		return t.engagement(req), nil
	default:
		return nil, fmt.Errorf("unsupported capability %q", req.Capability)
	}
}

func topicOf(req *domain.AgentRequest) string {
	for _, s := range []string{req.Subtopic, req.Topic, req.Subject} {
		if s != "" {
			return s
		}
	}
	return "general studies"
}

// questionFor builds question n of a topic. The answer to "What is n + (n+1)?" is 2n+1.
func questionFor(topic string, n, difficulty int) *domain.Question {
	return &domain.Question{
		ID:         fmt.Sprintf("%s-%d", strings.ReplaceAll(strings.ToLower(topic), " ", "-"), n),
		Text:       fmt.Sprintf("What is %d + %d?", n, n+1),
		Hint:       "Add the two numbers together.",
		Topic:      topic,
		Difficulty: difficulty,
		Number:     n,
	}
}

func expectedAnswer(q *domain.Question) string {
	return strconv.Itoa(2*q.Number + 1)
}

func (t *tutor) content(req *domain.AgentRequest) *domain.ContentPayload {
	topic := topicOf(req)
	var md strings.Builder
	fmt.Fprintf(&md, "## %s\n\n", titleCase(topic))
	fmt.Fprintf(&md, "Here is a grade %d introduction to %s.\n\n", req.Learner.GradeLevel, topic)
	for _, style := range req.Learner.LearningStyles {
		fmt.Fprintf(&md, "- Tip for %s learners: connect %s to something you can %s.\n", style, topic, styleVerb(style))
	}

	p := &domain.ContentPayload{Title: titleCase(topic), Markdown: strings.TrimSpace(md.String())}
	if req.Kind == domain.KindPractice {
		p.Question = questionFor(topic, req.TurnSeq, max(1, req.Learner.GradeLevel/2))
	}
	return p
}

func styleVerb(style string) string {
	switch style {
	case "visual":
		return "see"
	case "auditory":
		return "hear"
	case "kinesthetic":
		return "touch"
	default:
		return "explore"
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (t *tutor) assessment(req *domain.AgentRequest) *domain.AssessmentPayload {
	topic := topicOf(req)
	difficulty := max(1, req.Learner.GradeLevel/2)

	if req.Question == nil || req.Answer == "" {
		return &domain.AssessmentPayload{
			Question:       questionFor(topic, 1, difficulty),
			QuestionNumber: 1,
			TotalQuestions: t.questions,
			Message:        fmt.Sprintf("Let's see what you know about %s.", topic),
		}
	}

	correct := strings.TrimSpace(req.Answer) == expectedAnswer(req.Question)
	eval := &domain.Evaluation{Correct: correct, Feedback: "Not quite. Try adding again."}
	if correct {
		eval.Score = 1
		eval.Feedback = "Correct!"
	} else {
		eval.Suggestions = []string{fmt.Sprintf("The answer was %s.", expectedAnswer(req.Question))}
	}

	p := &domain.AssessmentPayload{Evaluation: eval, TotalQuestions: t.questions}
	n := req.Question.Number
	if n >= t.questions {
		p.Finished = true
		p.QuestionNumber = n
		p.Message = "That was the last question."
		return p
	}
	p.Question = questionFor(topic, n+1, difficulty)
	p.QuestionNumber = n + 1
	return p
}

func analytics(req *domain.AgentRequest) *domain.AnalyticsPayload {
	p := &domain.AnalyticsPayload{QuestionsAttempted: len(req.History)}
	missed := make(map[string]bool)
	var order []string
	for _, h := range req.History {
		topic := h.Topic
		if topic == "" {
			topic = topicOf(req)
		}
		if _, seen := missed[topic]; !seen {
			order = append(order, topic)
			missed[topic] = false
		}
		if h.Correct {
			p.CorrectAnswers++
		} else {
			missed[topic] = true
		}
	}
	for _, topic := range order {
		if missed[topic] {
			p.AreasForImprovement = append(p.AreasForImprovement, topic)
		} else {
			p.Strengths = append(p.Strengths, topic)
		}
	}
	if p.QuestionsAttempted > 0 {
		p.Accuracy = float64(p.CorrectAnswers) / float64(p.QuestionsAttempted)
	}
	p.Summary = fmt.Sprintf("%d of %d answered correctly.", p.CorrectAnswers, p.QuestionsAttempted)
	return p
}

func adaptive(req *domain.AgentRequest) *domain.AdaptivePayload {
	level := min(10, max(1, req.Learner.GradeLevel/2))
	if a, ok := req.Upstream[domain.CapabilityAssessment].(*domain.AssessmentPayload); ok && a.Evaluation != nil {
		if a.Evaluation.Correct {
			level++
		} else {
			level--
		}
	}
	if a, ok := req.Upstream[domain.CapabilityAnalytics].(*domain.AnalyticsPayload); ok && a.QuestionsAttempted > 0 {
		switch {
		case a.Accuracy >= 0.8:
			level++
		case a.Accuracy < 0.5:
			level--
		}
	}
	level = min(10, max(1, level))

	topic := topicOf(req)
	return &domain.AdaptivePayload{
		Difficulty:      level,
		NextSteps:       []string{fmt.Sprintf("Practice %s at level %d", topic, level)},
		Recommendations: []string{"Take a short break every 20 minutes."},
	}
}

func voice(req *domain.AgentRequest) (*domain.VoicePayload, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, errors.New("nothing to speak")
	}
	return &domain.VoicePayload{
		Text:       text,
		Language:   req.Learner.Language,
		AudioURL:   fmt.Sprintf("https://audio.invalid/%s/%d.mp3", req.SessionID, req.TurnSeq),
		DurationMS: 400 * len(strings.Fields(text)),
	}, nil
}

func (t *tutor) engagement(req *domain.AgentRequest) *domain.EngagementPayload {
	award := 1
	message := "Thanks for showing up!"
	if a, ok := req.Upstream[domain.CapabilityAssessment].(*domain.AssessmentPayload); ok && a.Evaluation != nil && a.Evaluation.Correct {
		award, message = 10, "Great answer!"
	} else if _, ok := req.Upstream[domain.CapabilityContent]; ok {
		award, message = 5, "Nice work studying!"
	}

	t.mu.Lock()
	before := t.points[req.Learner.UserID]
	total := before + award
	t.points[req.Learner.UserID] = total
	t.mu.Unlock()

	p := &domain.EngagementPayload{PointsAwarded: award, TotalPoints: total, Message: message}
	if award == 10 {
		p.Streak = 1
	}
	if before < 50 && total >= 50 {
		p.Badges = []string{"fifty_points"}
	}
	return p
}
