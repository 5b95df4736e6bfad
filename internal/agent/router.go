// ABOUTME: Simple round-robin router for spreading calls across agent endpoints
// ABOUTME: Used when one capability is served by several replicas

package agent

import (
	"errors"
	"sync/atomic"
)

// ErrNoAgentsAvailable indicates no endpoints are configured for a capability.
var ErrNoAgentsAvailable = errors.New("no agents available")

// Router selects endpoints using a round-robin strategy.
type Router struct {
	current uint64
}

// NewRouter creates a new Router instance.
func NewRouter() *Router {
	return &Router{}
}

// Select picks one of the transports in rotation.
// Returns ErrNoAgentsAvailable if none are provided.
func (r *Router) Select(transports []Transport) (Transport, error) {
	if len(transports) == 0 {
		return nil, ErrNoAgentsAvailable
	}

	// Atomically increment and get the index
	idx := atomic.AddUint64(&r.current, 1) - 1
	return transports[idx%uint64(len(transports))], nil
}
