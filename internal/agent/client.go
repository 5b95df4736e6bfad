// ABOUTME: Per-capability agent client that turns every call into an Outcome
// ABOUTME: Applies the call timeout, rate limiting, and the declared static fallback

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/tutor-gateway/internal/domain"
)

// ClientConfig configures one agent client.
type ClientConfig struct {
	Capability domain.Capability
	Transports []Transport
	Timeout    time.Duration
	// RateLimit is calls per second; zero disables limiting.
	RateLimit float64
	Burst     int
	// Fallback is served as a Degraded outcome when the agent is unreachable.
	Fallback string
	Logger   *slog.Logger
}

// Client invokes one agent capability. Invoke never returns an error; every
// failure is represented in the Outcome.
type Client struct {
	capability domain.Capability
	transports []Transport
	router     *Router
	timeout    time.Duration
	limiter    *rate.Limiter
	fallback   string
	logger     *slog.Logger
}

// DefaultTimeout bounds calls when the config leaves Timeout unset.
const DefaultTimeout = 10 * time.Second

// NewClient builds a client for a dispatchable capability.
func NewClient(cfg ClientConfig) (*Client, error) {
	if !cfg.Capability.Dispatchable() {
		return nil, fmt.Errorf("%w: %q is not dispatchable", domain.ErrUnknownCapability, string(cfg.Capability))
	}
	if len(cfg.Transports) == 0 {
		return nil, fmt.Errorf("%s: %w", cfg.Capability, ErrNoAgentsAvailable)
	}
	if cfg.Fallback != "" {
		if _, err := domain.FallbackPayload(cfg.Capability, cfg.Fallback); err != nil {
			return nil, err
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		capability: cfg.Capability,
		transports: cfg.Transports,
		router:     NewRouter(),
		timeout:    timeout,
		fallback:   cfg.Fallback,
		logger:     logger.With("component", "agent", "agent", string(cfg.Capability)),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c, nil
}

// Capability returns the capability this client addresses.
func (c *Client) Capability() domain.Capability { return c.capability }

// Timeout returns the per-call deadline.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Invoke calls the agent with req, bounded by the client's timeout.
// It does not retry; retrying is the caller's decision.
func (c *Client) Invoke(ctx context.Context, req domain.AgentRequest) domain.Outcome {
	start := time.Now()
	req.Capability = c.capability

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := c.call(callCtx, &req)
	out := domain.Outcome{
		Agent:    c.capability,
		Latency:  time.Since(start),
		Attempts: 1,
	}
	if err == nil {
		out.Status = domain.OutcomeSuccess
		out.Payload = payload
		c.logger.Debug("agent call succeeded", "session_id", req.SessionID, "latency", out.Latency)
		return out
	}

	out.Error = err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		out.Status = domain.OutcomeTimedOut
	case errors.Is(err, ErrUnreachable) && c.fallback != "":
		// Validated in NewClient
		fb, _ := domain.FallbackPayload(c.capability, c.fallback)
		out.Status = domain.OutcomeDegraded
		out.Payload = fb
	default:
		out.Status = domain.OutcomeFailed
	}

	c.logger.Warn("agent call did not succeed",
		"session_id", req.SessionID,
		"status", out.Status,
		"latency", out.Latency,
		"error", err,
	)
	return out
}

func (c *Client) call(ctx context.Context, req *domain.AgentRequest) (domain.Payload, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			// Wait fails early when the deadline cannot be met
			return nil, fmt.Errorf("rate limited: %w", context.DeadlineExceeded)
		}
	}

	transport, err := c.router.Select(c.transports)
	if err != nil {
		return nil, err
	}

	payload, err := transport.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, errors.New("agent returned no payload")
	}
	if payload.Capability() != c.capability {
		return nil, fmt.Errorf("%w: expected %s, got %s", domain.ErrPayloadMismatch, c.capability, payload.Capability())
	}
	return payload, nil
}

// readyChecker is implemented by transports that can report health.
type readyChecker interface {
	Ready(ctx context.Context) error
}

// Ready reports whether at least one endpoint is healthy. Transports without
// a health check count as ready.
func (c *Client) Ready(ctx context.Context) error {
	var errs []error
	for _, t := range c.transports {
		rc, ok := t.(readyChecker)
		if !ok {
			return nil
		}
		err := rc.Ready(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close closes every transport.
func (c *Client) Close() error {
	var errs []error
	for _, t := range c.transports {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
