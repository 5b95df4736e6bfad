// ABOUTME: Scenario tests for coordination turns against fake agents and an in-memory store
// ABOUTME: Covers authorization, session rules, dependencies, retries, dedupe, and cancellation

package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/tutor-gateway/internal/agent"
	"github.com/2389/tutor-gateway/internal/dedupe"
	"github.com/2389/tutor-gateway/internal/domain"
	"github.com/2389/tutor-gateway/internal/session"
	"github.com/2389/tutor-gateway/internal/store"
)

type fakeVerifier map[string]*domain.UserProfile

func (f fakeVerifier) Verify(ctx context.Context, credential string) (*domain.UserProfile, error) {
	p, ok := f[credential]
	if !ok {
		return nil, errors.New("bad token")
	}
	return p, nil
}

type agentFunc func(ctx context.Context, req domain.AgentRequest) domain.Outcome

func (f agentFunc) Invoke(ctx context.Context, req domain.AgentRequest) domain.Outcome {
	return f(ctx, req)
}

// fakeAgents records every request and answers with per-capability handlers.
type fakeAgents struct {
	mu       sync.Mutex
	handlers map[domain.Capability]agentFunc
	calls    []domain.AgentRequest
}

func (f *fakeAgents) Lookup(c domain.Capability) (agent.Invoker, error) {
	h, ok := f.handlers[c]
	if !ok {
		return nil, agent.ErrAgentNotFound
	}
	return agentFunc(func(ctx context.Context, req domain.AgentRequest) domain.Outcome {
		req.Capability = c
		f.mu.Lock()
		f.calls = append(f.calls, req)
		f.mu.Unlock()
		out := h(ctx, req)
		out.Agent = c
		return out
	}), nil
}

func (f *fakeAgents) requests(c domain.Capability) []domain.AgentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AgentRequest
	for _, r := range f.calls {
		if r.Capability == c {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeAgents) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func succeed(p domain.Payload) agentFunc {
	return func(ctx context.Context, req domain.AgentRequest) domain.Outcome {
		return domain.Outcome{Status: domain.OutcomeSuccess, Payload: p, Latency: time.Millisecond, Attempts: 1}
	}
}

func timeOut(ctx context.Context, req domain.AgentRequest) domain.Outcome {
	return domain.Outcome{Status: domain.OutcomeTimedOut, Error: "context deadline exceeded", Attempts: 1}
}

var alice = &domain.UserProfile{UserID: "alice", GradeLevel: 4, Language: "en", LearningStyles: []string{"visual"}}

type harness struct {
	coord    *Coordinator
	agents   *fakeAgents
	backend  *store.MockStore
	sessions *session.Store
}

func newHarness(t *testing.T, handlers map[domain.Capability]agentFunc, mutate ...func(*Config)) *harness {
	t.Helper()
	backend := store.NewMockStore()
	sessions := session.NewStore(backend, time.Hour, nil)
	agents := &fakeAgents{handlers: handlers}
	cache := dedupe.New(time.Minute, 100, dedupe.WithCleanupInterval(0))
	t.Cleanup(cache.Close)

	cfg := Config{
		Verifier: fakeVerifier{
			"alice-token": alice,
			"bob-token":   {UserID: "bob", GradeLevel: 7, Language: "fr"},
		},
		Sessions:   sessions,
		Agents:     agents,
		Calls:      backend,
		Dedupe:     cache,
		MaxRetries: 1,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	coord, err := New(cfg)
	require.NoError(t, err)
	return &harness{coord: coord, agents: agents, backend: backend, sessions: sessions}
}

func assessmentQuestion(text string) *domain.AssessmentPayload {
	return &domain.AssessmentPayload{Question: &domain.Question{Text: text, Topic: "fractions"}, QuestionNumber: 1, TotalQuestions: 5}
}

func TestCoordinate_StartAssessmentWithEngagementTimeout(t *testing.T) {
	h := newHarness(t, map[domain.Capability]agentFunc{
		domain.CapabilityAssessment: succeed(assessmentQuestion("What is 1/2 + 1/4?")),
		domain.CapabilityEngagement: timeOut,
	})
	ctx := context.Background()

	resp, err := h.coord.Coordinate(ctx, "alice-token", "", domain.ActivityRequest{
		Kind: domain.KindStartAssessment, Subject: "math", Topic: "fractions",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, 1, resp.TurnSeq)
	assert.Equal(t, domain.ResultPartialDegraded, resp.Result.Status)
	assert.Contains(t, resp.Result.Payloads, domain.CapabilityAssessment)
	assert.Equal(t, []domain.Capability{domain.CapabilityEngagement}, resp.Result.MissingAgents())

	sess, err := h.sessions.Get(ctx, resp.SessionID, "alice")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 1)
	assert.Equal(t, resp.Result.Status, sess.Turns[0].Result.Status)
	assert.Equal(t, "fractions", sess.Activity.Topic)

	engagement := h.agents.requests(domain.CapabilityEngagement)
	require.Len(t, engagement, 1)
	assert.Contains(t, engagement[0].Upstream, domain.CapabilityAssessment, "engagement runs after assessment")
	assert.Len(t, h.agents.requests(domain.CapabilityEngagement), 1, "non-idempotent steps are not retried")

	calls := h.backend.AgentCalls()
	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.Equal(t, resp.SessionID, c.SessionID)
		assert.Equal(t, sess.Turns[0].ID, c.TurnID)
	}
}

func TestCoordinate_UnauthorizedTouchesNothing(t *testing.T) {
	h := newHarness(t, map[domain.Capability]agentFunc{
		domain.CapabilityAssessment: succeed(assessmentQuestion("q")),
	})

	_, err := h.coord.Coordinate(context.Background(), "forged", "", domain.ActivityRequest{Kind: domain.KindStartAssessment})
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.Zero(t, h.agents.total())
	sessions, err := h.backend.ListSessionsByUser(context.Background(), "alice", 10)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestCoordinate_OtherUsersSessionIsInvalid(t *testing.T) {
	h := newHarness(t, map[domain.Capability]agentFunc{
		domain.CapabilityAssessment: succeed(assessmentQuestion("q")),
	})
	ctx := context.Background()

	resp, err := h.coord.Coordinate(ctx, "alice-token", "", domain.ActivityRequest{Kind: domain.KindStartAssessment})
	require.NoError(t, err)
	before := h.agents.total()

	_, err = h.coord.Coordinate(ctx, "bob-token", resp.SessionID, domain.ActivityRequest{Kind: domain.KindAnswer, Answer: "3/4"})
	assert.ErrorIs(t, err, ErrSessionInvalid)
	_, err = h.coord.Coordinate(ctx, "bob-token", "does-not-exist", domain.ActivityRequest{Kind: domain.KindAnswer})
	assert.ErrorIs(t, err, ErrSessionInvalid)
	_, err = h.coord.Session(ctx, "bob-token", resp.SessionID)
	assert.ErrorIs(t, err, ErrSessionInvalid)
	_, err = h.coord.Complete(ctx, "bob-token", resp.SessionID)
	assert.ErrorIs(t, err, ErrSessionInvalid)

	assert.Equal(t, before, h.agents.total())
}

func TestCoordinate_ConcurrentTurnConflicts(t *testing.T) {
	h := newHarness(t, map[domain.Capability]agentFunc{
		domain.CapabilityAssessment: succeed(assessmentQuestion("q")),
	})
	ctx := context.Background()

	resp, err := h.coord.Coordinate(ctx, "alice-token", "", domain.ActivityRequest{Kind: domain.KindStartAssessment})
	require.NoError(t, err)

	lease, err := h.sessions.Acquire(ctx, resp.SessionID, "alice")
	require.NoError(t, err)

	before := h.agents.total()
	_, err = h.coord.Coordinate(ctx, "alice-token", resp.SessionID, domain.ActivityRequest{
		RequestID: "r-2", Kind: domain.KindAnswer, Answer: "3/4",
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, session.ErrConflict)
	assert.Equal(t, before, h.agents.total(), "no agent is dispatched without the lease")

	lease.Release()

	// The conflicted request id may be retried
	_, err = h.coord.Coordinate(ctx, "alice-token", resp.SessionID, domain.ActivityRequest{
		RequestID: "r-2", Kind: domain.KindAnswer, Answer: "3/4",
	})
	assert.NoError(t, err)
}

func TestCoordinate_ForeignCallerDuringInFlightTurnIsInvalid(t *testing.T) {
	h := newHarness(t, map[domain.Capability]agentFunc{
		domain.CapabilityAssessment: succeed(assessmentQuestion("q")),
	})
	ctx := context.Background()

	resp, err := h.coord.Coordinate(ctx, "alice-token", "", domain.ActivityRequest{Kind: domain.KindStartAssessment})
	require.NoError(t, err)

	lease, err := h.sessions.Acquire(ctx, resp.SessionID, "alice")
	require.NoError(t, err)
	defer lease.Release()

	before := h.agents.total()
	_, err = h.coord.Coordinate(ctx, "bob-token", resp.SessionID, domain.ActivityRequest{Kind: domain.KindAnswer, Answer: "3/4"})
	assert.ErrorIs(t, err, ErrSessionInvalid)
	assert.NotErrorIs(t, err, ErrConflict)

	_, err = h.coord.Complete(ctx, "bob-token", resp.SessionID)
	assert.ErrorIs(t, err, ErrSessionInvalid)
	assert.Equal(t, before, h.agents.total())
}

func TestCoordinate_DuplicateRequestID(t *testing.T) {
	h := newHarness(t, map[domain.Capability]agentFunc{
		domain.CapabilityAssessment: succeed(assessmentQuestion("q")),
	})
	ctx := context.Background()
	req := domain.ActivityRequest{RequestID: "r-1", Kind: domain.KindStartAssessment}

	_, err := h.coord.Coordinate(ctx, "alice-token", "", req)
	require.NoError(t, err)
	_, err = h.coord.Coordinate(ctx, "alice-token", "", req)
	assert.ErrorIs(t, err, ErrDuplicateRequest)

	// Request ids are scoped per user
	_, err = h.coord.Coordinate(ctx, "bob-token", "", req)
	assert.NoError(t, err)
}

func TestCoordinate_NoCapableAgents(t *testing.T) {
	h := newHarness(t, map[domain.Capability]agentFunc{
		domain.CapabilityEngagement: succeed(&domain.EngagementPayload{PointsAwarded: 5}),
	})
	ctx := context.Background()

	_, err := h.coord.Coordinate(ctx, "alice-token", "", domain.ActivityRequest{Kind: domain.KindStartAssessment})
	assert.ErrorIs(t, err, ErrNoCapableAgents)
	_, err = h.coord.Coordinate(ctx, "alice-token", "", domain.ActivityRequest{Kind: "juggle"})
	assert.ErrorIs(t, err, ErrNoCapableAgents)

	assert.Zero(t, h.agents.total())
	sessions, err := h.backend.ListSessionsByUser(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Empty(t, sessions, "no session is created for a request nobody can serve")
}

func TestCoordinate_ExplainNarratesContent(t *testing.T) {
	h := newHarness(t, map[domain.Capability]agentFunc{
		domain.CapabilityContent: succeed(&domain.ContentPayload{
			Title:    "Fractions",
			Markdown: "# Fractions\n\nA fraction is **part** of a whole.",
		}),
		domain.CapabilityVoice: func(ctx context.Context, req domain.AgentRequest) domain.Outcome {
			return domain.Outcome{Status: domain.OutcomeSuccess, Payload: &domain.VoicePayload{Text: req.Text}}
		},
		domain.CapabilityEngagement: succeed(&domain.EngagementPayload{PointsAwarded: 1}),
	})

	resp, err := h.coord.Coordinate(context.Background(), "alice-token", "", domain.ActivityRequest{
		Kind: domain.KindExplain, Subject: "math", Topic: "fractions",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultComplete, resp.Result.Status)

	voice := resp.Result.Payloads[domain.CapabilityVoice].(*domain.VoicePayload)
	assert.Equal(t, "Fractions. A fraction is part of a whole.", voice.Text)

	engagement := h.agents.requests(domain.CapabilityEngagement)
	require.Len(t, engagement, 1)
	assert.Empty(t, engagement[0].Upstream, "engagement does not wait for content when explaining")
}

func TestCoordinate_DerivedContextAcrossTurns(t *testing.T) {
	var mu sync.Mutex
	evaluations := 0
	h := newHarness(t, map[domain.Capability]agentFunc{
		domain.CapabilityAssessment: func(ctx context.Context, req domain.AgentRequest) domain.Outcome {
			p := assessmentQuestion("Question after turn " + string(rune('0'+req.TurnSeq)))
			if req.Kind == domain.KindAnswer {
				mu.Lock()
				evaluations++
				mu.Unlock()
				p.Evaluation = &domain.Evaluation{Correct: req.Answer == "3/4", Score: 1}
			}
			return domain.Outcome{Status: domain.OutcomeSuccess, Payload: p}
		},
		domain.CapabilityAnalytics: succeed(&domain.AnalyticsPayload{QuestionsAttempted: 2}),
	})
	ctx := context.Background()

	resp, err := h.coord.Coordinate(ctx, "alice-token", "", domain.ActivityRequest{
		Kind: domain.KindStartAssessment, Subject: "math", Topic: "fractions",
	})
	require.NoError(t, err)
	sid := resp.SessionID

	_, err = h.coord.Coordinate(ctx, "alice-token", sid, domain.ActivityRequest{Kind: domain.KindAnswer, Answer: "3/4"})
	require.NoError(t, err)
	_, err = h.coord.Coordinate(ctx, "alice-token", sid, domain.ActivityRequest{Kind: domain.KindAnswer, Answer: "1/3"})
	require.NoError(t, err)
	resp, err = h.coord.Coordinate(ctx, "alice-token", sid, domain.ActivityRequest{Kind: domain.KindLearningPlan})
	require.NoError(t, err)
	assert.Equal(t, 4, resp.TurnSeq)

	answers := h.agents.requests(domain.CapabilityAssessment)[1:]
	require.Len(t, answers, 2)
	assert.Equal(t, "Question after turn 1", answers[0].Question.Text)
	assert.Equal(t, "Question after turn 2", answers[1].Question.Text)
	for _, a := range answers {
		assert.Equal(t, "fractions", a.Topic, "topic is inherited from the session")
		assert.Equal(t, "math", a.Subject)
		assert.Equal(t, sid, a.SessionID)
		assert.Equal(t, alice.Context(), a.Learner)
	}

	plan := h.agents.requests(domain.CapabilityAnalytics)
	require.Len(t, plan, 1)
	require.Len(t, plan[0].History, 2)
	assert.Equal(t, domain.HistoryEntry{Question: "Question after turn 1", Answer: "3/4", Correct: true, Score: 1, Topic: "fractions"}, plan[0].History[0])
	assert.False(t, plan[0].History[1].Correct)
	assert.Equal(t, 2, evaluations)
}

func TestCoordinate_RetriesOptionalIdempotentSteps(t *testing.T) {
	var mu sync.Mutex
	adaptiveCalls := 0
	h := newHarness(t, map[domain.Capability]agentFunc{
		domain.CapabilityContent: func(ctx context.Context, req domain.AgentRequest) domain.Outcome {
			return domain.Outcome{Status: domain.OutcomeFailed, Error: "boom"}
		},
		domain.CapabilityAdaptive: func(ctx context.Context, req domain.AgentRequest) domain.Outcome {
			mu.Lock()
			defer mu.Unlock()
			adaptiveCalls++
			if adaptiveCalls < 3 {
				return domain.Outcome{Status: domain.OutcomeTimedOut, Latency: 10 * time.Millisecond}
			}
			return domain.Outcome{Status: domain.OutcomeSuccess, Payload: &domain.AdaptivePayload{Difficulty: 2}, Latency: 10 * time.Millisecond}
		},
	}, func(cfg *Config) { cfg.MaxRetries = 2 })

	resp, err := h.coord.Coordinate(context.Background(), "alice-token", "", domain.ActivityRequest{Kind: domain.KindPractice})
	require.NoError(t, err)

	assert.Equal(t, domain.ResultFailed, resp.Result.Status)
	assert.Len(t, h.agents.requests(domain.CapabilityContent), 1, "required steps are never retried")
	assert.Equal(t, 3, adaptiveCalls)
	assert.Contains(t, resp.Result.Payloads, domain.CapabilityAdaptive)

	sess, err := h.sessions.Get(context.Background(), resp.SessionID, "alice")
	require.NoError(t, err)
	for _, o := range sess.Turns[0].Outcomes {
		if o.Agent == domain.CapabilityAdaptive {
			assert.Equal(t, 3, o.Attempts)
			assert.Equal(t, 30*time.Millisecond, o.Latency)
		}
	}
}

func TestCoordinate_CancellationSkipsUnstartedSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})

	h := newHarness(t, map[domain.Capability]agentFunc{
		domain.CapabilityAssessment: func(callCtx context.Context, req domain.AgentRequest) domain.Outcome {
			close(started)
			<-release
			if callCtx.Err() != nil {
				return domain.Outcome{Status: domain.OutcomeFailed, Error: "in-flight call was canceled"}
			}
			return domain.Outcome{Status: domain.OutcomeSuccess, Payload: assessmentQuestion("q")}
		},
		domain.CapabilityEngagement: succeed(&domain.EngagementPayload{}),
	})

	type result struct {
		resp *Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := h.coord.Coordinate(ctx, "alice-token", "", domain.ActivityRequest{Kind: domain.KindStartAssessment})
		done <- result{resp, err}
	}()

	<-started
	cancel()
	close(release)
	r := <-done
	require.NoError(t, r.err)

	assert.Equal(t, domain.ResultPartialDegraded, r.resp.Result.Status, "in-flight call finishes despite cancellation")
	require.Len(t, r.resp.Result.Missing, 1)
	assert.Equal(t, domain.MissingAgent{
		Agent:  domain.CapabilityEngagement,
		Status: domain.OutcomeFailed,
		Detail: canceledBeforeDispatch,
	}, r.resp.Result.Missing[0])
	assert.Empty(t, h.agents.requests(domain.CapabilityEngagement))

	sess, err := h.sessions.Get(context.Background(), r.resp.SessionID, "alice")
	require.NoError(t, err)
	assert.Len(t, sess.Turns, 1, "the turn is persisted after the caller left")
}

func TestComplete_ThenCoordinateIsInvalid(t *testing.T) {
	h := newHarness(t, map[domain.Capability]agentFunc{
		domain.CapabilityAssessment: succeed(assessmentQuestion("q")),
	})
	ctx := context.Background()

	resp, err := h.coord.Coordinate(ctx, "alice-token", "", domain.ActivityRequest{Kind: domain.KindStartAssessment})
	require.NoError(t, err)

	sess, err := h.coord.Complete(ctx, "alice-token", resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, sess.Status)

	_, err = h.coord.Coordinate(ctx, "alice-token", resp.SessionID, domain.ActivityRequest{Kind: domain.KindAnswer})
	assert.ErrorIs(t, err, ErrSessionInvalid)
	_, err = h.coord.Complete(ctx, "alice-token", resp.SessionID)
	assert.ErrorIs(t, err, ErrSessionInvalid)

	got, err := h.coord.Session(ctx, "alice-token", resp.SessionID)
	require.NoError(t, err, "completed sessions stay readable")
	assert.Len(t, got.Turns, 1)

	list, err := h.coord.Sessions(ctx, "alice-token", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	stats, err := h.coord.AgentStats(ctx, "alice-token", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, domain.CapabilityAssessment, stats[0].Agent)

	_, err = h.coord.Sessions(ctx, "", 10)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{
		Verifier:   fakeVerifier{},
		Sessions:   session.NewStore(store.NewMockStore(), 0, nil),
		Agents:     &fakeAgents{},
		MaxRetries: -1,
	})
	assert.Error(t, err)
}
