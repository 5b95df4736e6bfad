// ABOUTME: Registry of agent clients keyed by capability
// ABOUTME: The coordinator resolves plan steps against it; health probes fan out through it

package agent

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/tutor-gateway/internal/domain"
)

// ErrAgentAlreadyRegistered indicates a client for the capability is already registered.
var ErrAgentAlreadyRegistered = errors.New("agent already registered")

// ErrAgentNotFound indicates no client is registered for the capability.
var ErrAgentNotFound = errors.New("agent not found")

// Invoker is the call contract the coordinator depends on.
type Invoker interface {
	Invoke(ctx context.Context, req domain.AgentRequest) domain.Outcome
}

// Registry holds one client per capability.
type Registry struct {
	clients map[domain.Capability]*Client
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		clients: make(map[domain.Capability]*Client),
		logger:  logger.With("component", "agents"),
	}
}

// Register adds a client.
// Returns ErrAgentAlreadyRegistered if the capability already has one.
func (r *Registry) Register(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[c.Capability()]; exists {
		return ErrAgentAlreadyRegistered
	}
	r.clients[c.Capability()] = c
	r.logger.Info("agent registered",
		"agent", c.Capability(),
		"endpoints", len(c.transports),
		"timeout", c.Timeout(),
		"total_agents", len(r.clients),
	)
	return nil
}

// Get returns the client for a capability.
func (r *Registry) Get(capability domain.Capability) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[capability]
	return c, ok
}

// Lookup returns the invoker for a capability, or ErrAgentNotFound.
func (r *Registry) Lookup(capability domain.Capability) (Invoker, error) {
	c, ok := r.Get(capability)
	if !ok {
		return nil, ErrAgentNotFound
	}
	return c, nil
}

// Capabilities lists registered capabilities in canonical order.
func (r *Registry) Capabilities() []domain.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Capability, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return domain.CompareCapabilities(out[i], out[j]) < 0 })
	return out
}

// AgentHealth is the readiness of one registered agent.
type AgentHealth struct {
	Agent domain.Capability `json:"agent"`
	Ready bool              `json:"ready"`
	Error string            `json:"error,omitempty"`
}

// Ready probes every registered agent concurrently.
func (r *Registry) Ready(ctx context.Context) []AgentHealth {
	caps := r.Capabilities()
	out := make([]AgentHealth, len(caps))

	var wg sync.WaitGroup
	for i, capability := range caps {
		c, ok := r.Get(capability)
		if !ok {
			out[i] = AgentHealth{Agent: capability, Error: ErrAgentNotFound.Error()}
			continue
		}
		wg.Add(1)
		go func(i int, c *Client) {
			defer wg.Done()
			h := AgentHealth{Agent: c.Capability(), Ready: true}
			if err := c.Ready(ctx); err != nil {
				h.Ready = false
				h.Error = err.Error()
			}
			out[i] = h
		}(i, c)
	}
	wg.Wait()
	return out
}

// Close closes every registered client.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for capability, c := range r.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.clients, capability)
	}
	return errors.Join(errs...)
}
