// ABOUTME: Coordinator service running one learner request through sessions and agents
// ABOUTME: Also exposes session completion and read operations scoped to the verified caller

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/tutor-gateway/internal/dedupe"
	"github.com/2389/tutor-gateway/internal/domain"
	"github.com/2389/tutor-gateway/internal/session"
	"github.com/2389/tutor-gateway/internal/store"
)

// IdentityVerifier resolves a credential to the learner it belongs to.
type IdentityVerifier interface {
	Verify(ctx context.Context, credential string) (*domain.UserProfile, error)
}

// Config wires a Coordinator's collaborators.
type Config struct {
	Verifier IdentityVerifier
	Sessions *session.Store
	Agents   AgentResolver
	// Calls records agent invocations. Optional.
	Calls store.AgentCallStore
	// Dedupe rejects replayed request ids. Optional.
	Dedupe *dedupe.Cache
	// MaxRetries bounds extra attempts for optional idempotent steps.
	MaxRetries int
	Logger     *slog.Logger
}

// Coordinator runs coordination turns.
type Coordinator struct {
	verifier   IdentityVerifier
	sessions   *session.Store
	agents     AgentResolver
	calls      store.AgentCallStore
	dedupe     *dedupe.Cache
	maxRetries int
	logger     *slog.Logger
}

// New creates a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Verifier == nil {
		return nil, errors.New("coordinator: identity verifier is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("coordinator: session store is required")
	}
	if cfg.Agents == nil {
		return nil, errors.New("coordinator: agent resolver is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("coordinator: negative max retries %d", cfg.MaxRetries)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		verifier:   cfg.Verifier,
		sessions:   cfg.Sessions,
		agents:     cfg.Agents,
		calls:      cfg.Calls,
		dedupe:     cfg.Dedupe,
		maxRetries: cfg.MaxRetries,
		logger:     logger.With("component", "coordinator"),
	}, nil
}

// Response is the outcome of one coordination turn.
type Response struct {
	SessionID string                  `json:"session_id"`
	TurnSeq   int                     `json:"turn_seq"`
	Result    domain.AggregatedResult `json:"result"`
}

// Authenticate verifies credential and returns the learner profile.
func (c *Coordinator) Authenticate(ctx context.Context, credential string) (*domain.UserProfile, error) {
	profile, err := c.verifier.Verify(ctx, credential)
	if err != nil || profile == nil || profile.UserID == "" {
		c.logger.Debug("credential rejected", "error", err)
		return nil, ErrUnauthorized
	}
	return profile, nil
}

// Coordinate runs one request. With an empty sessionID a new session is
// started for the request's activity. Agent failures are reported inside the
// result; the returned error covers only caller and session problems.
func (c *Coordinator) Coordinate(ctx context.Context, credential, sessionID string, req domain.ActivityRequest) (*Response, error) {
	profile, err := c.Authenticate(ctx, credential)
	if err != nil {
		return nil, err
	}
	logger := c.logger.With("user_id", profile.UserID, "kind", req.Kind)

	steps, err := selectSteps(req.Kind, func(capability domain.Capability) bool {
		_, err := c.agents.Lookup(capability)
		return err == nil
	})
	if err != nil {
		logger.Error("no agents can serve request", "error", err)
		return nil, err
	}

	var dedupeKey string
	if req.RequestID != "" && c.dedupe != nil {
		dedupeKey = dedupe.Key(profile.UserID, req.RequestID)
		if c.dedupe.CheckAndMark(dedupeKey) {
			logger.Info("duplicate request rejected", "request_id", req.RequestID)
			return nil, ErrDuplicateRequest
		}
	}
	forget := func() {
		if dedupeKey != "" {
			c.dedupe.Forget(dedupeKey)
		}
	}

	lease, err := c.openTurn(ctx, profile.UserID, sessionID, req)
	if err != nil {
		forget()
		if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrSessionInvalid) {
			logger.Error("opening session failed", "session_id", sessionID, "error", err)
		}
		return nil, err
	}
	defer lease.Release()

	sess := lease.Session()
	logger = logger.With("session_id", sess.ID)

	base := deriveRequest(sess, profile.Context(), req)
	plan := buildPlan(steps, base)

	start := time.Now()
	outcomes := c.execute(ctx, plan)
	result := Aggregate(plan.RequiredSet(), outcomes)

	turn := &domain.Turn{
		Request:  req,
		Plan:     plan,
		Outcomes: outcomes,
		Result:   result,
	}
	// The turn is recorded even if the caller went away mid-flight
	persistCtx := context.WithoutCancel(ctx)
	if err := lease.Append(persistCtx, turn); err != nil {
		forget()
		mapped := mapSessionError(err)
		if mapped == err {
			logger.Error("appending turn failed", "error", err)
			return nil, fmt.Errorf("appending turn: %w", err)
		}
		return nil, mapped
	}

	c.recordCalls(persistCtx, turn)

	logger.Info("turn coordinated",
		"seq", turn.Seq,
		"status", result.Status,
		"agents", len(outcomes),
		"missing", len(result.Missing),
		"duration", time.Since(start),
	)
	return &Response{SessionID: sess.ID, TurnSeq: turn.Seq, Result: result}, nil
}

// openTurn resolves or creates the session and claims its writer lease.
func (c *Coordinator) openTurn(ctx context.Context, userID, sessionID string, req domain.ActivityRequest) (*session.Lease, error) {
	if sessionID == "" {
		sess, err := c.sessions.Create(ctx, userID, domain.Activity{
			Kind:     req.Kind,
			Subject:  req.Subject,
			Topic:    req.Topic,
			Subtopic: req.Subtopic,
		})
		if err != nil {
			return nil, err
		}
		sessionID = sess.ID
	}
	lease, err := c.sessions.Acquire(ctx, sessionID, userID)
	if err != nil {
		return nil, mapSessionError(err)
	}
	return lease, nil
}

func (c *Coordinator) recordCalls(ctx context.Context, turn *domain.Turn) {
	if c.calls == nil {
		return
	}
	for _, o := range turn.Outcomes {
		call := &store.AgentCall{
			ID:        uuid.New().String(),
			SessionID: turn.SessionID,
			TurnID:    turn.ID,
			Agent:     o.Agent,
			Status:    o.Status,
			Latency:   o.Latency,
			Attempts:  o.Attempts,
			Error:     o.Error,
			CreatedAt: turn.CreatedAt,
		}
		if err := c.calls.SaveAgentCall(ctx, call); err != nil {
			c.logger.Warn("failed to record agent call", "agent", o.Agent, "turn_id", turn.ID, "error", err)
		}
	}
}

// Complete ends the caller's active session.
func (c *Coordinator) Complete(ctx context.Context, credential, sessionID string) (*domain.Session, error) {
	profile, err := c.Authenticate(ctx, credential)
	if err != nil {
		return nil, err
	}
	sess, err := c.sessions.Complete(ctx, sessionID, profile.UserID)
	if err != nil {
		return nil, mapSessionError(err)
	}
	return sess, nil
}

// Session returns one of the caller's sessions with its turns.
func (c *Coordinator) Session(ctx context.Context, credential, sessionID string) (*domain.Session, error) {
	profile, err := c.Authenticate(ctx, credential)
	if err != nil {
		return nil, err
	}
	sess, err := c.sessions.Get(ctx, sessionID, profile.UserID)
	if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrForbidden) {
		return nil, ErrSessionInvalid
	}
	return sess, err
}

// Sessions lists the caller's sessions, newest first.
func (c *Coordinator) Sessions(ctx context.Context, credential string, limit int) ([]*domain.Session, error) {
	profile, err := c.Authenticate(ctx, credential)
	if err != nil {
		return nil, err
	}
	return c.sessions.ListByUser(ctx, profile.UserID, limit)
}

// AgentStats summarizes recorded agent calls since the given time.
func (c *Coordinator) AgentStats(ctx context.Context, credential string, since time.Time) ([]*store.AgentStats, error) {
	if _, err := c.Authenticate(ctx, credential); err != nil {
		return nil, err
	}
	if c.calls == nil {
		return []*store.AgentStats{}, nil
	}
	return c.calls.GetAgentStats(ctx, since)
}
