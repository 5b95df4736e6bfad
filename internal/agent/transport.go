// ABOUTME: Transport abstraction between an agent Client and a remote agent
// ABOUTME: Includes the in-process FuncTransport used for embedding and tests

package agent

import (
	"context"
	"errors"

	"github.com/2389/tutor-gateway/internal/domain"
)

// ErrUnreachable marks transport errors where the agent could not be reached at all.
// Clients configured with a fallback answer these with a Degraded outcome.
var ErrUnreachable = errors.New("agent unreachable")

// Transport carries one request to an agent and returns its payload.
type Transport interface {
	Call(ctx context.Context, req *domain.AgentRequest) (domain.Payload, error)
	Close() error
}

// FuncTransport adapts a function to the Transport interface.
type FuncTransport func(ctx context.Context, req *domain.AgentRequest) (domain.Payload, error)

// Call invokes the function.
func (f FuncTransport) Call(ctx context.Context, req *domain.AgentRequest) (domain.Payload, error) {
	return f(ctx, req)
}

// Close is a no-op.
func (f FuncTransport) Close() error { return nil }
