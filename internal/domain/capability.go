// ABOUTME: Agent capability names and their canonical ordering
// ABOUTME: Capabilities address agents uniformly across plans, outcomes, and payloads

package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Capability names one independently callable agent subsystem.
type Capability string

// Known capabilities, in canonical order.
const (
	CapabilityContent     Capability = "content"
	CapabilityAssessment  Capability = "assessment"
	CapabilityAnalytics   Capability = "analytics"
	CapabilityAdaptive    Capability = "adaptive"
	CapabilityVoice       Capability = "voice"
	CapabilityEngagement  Capability = "engagement"
	CapabilityCoordinator Capability = "coordinator"
)

// ErrUnknownCapability is returned when a capability name is not one of the known agents.
var ErrUnknownCapability = errors.New("unknown agent capability")

var canonicalOrder = []Capability{
	CapabilityContent,
	CapabilityAssessment,
	CapabilityAnalytics,
	CapabilityAdaptive,
	CapabilityVoice,
	CapabilityEngagement,
	CapabilityCoordinator,
}

// Capabilities returns every known capability in canonical order.
func Capabilities() []Capability {
	out := make([]Capability, len(canonicalOrder))
	copy(out, canonicalOrder)
	return out
}

// ParseCapability converts a name into a known Capability.
func ParseCapability(name string) (Capability, error) {
	c := Capability(strings.ToLower(strings.TrimSpace(name)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCapability, name)
	}
	return c, nil
}

// Valid reports whether c is one of the known capabilities.
func (c Capability) Valid() bool {
	return c.rank() < len(canonicalOrder)
}

// Dispatchable reports whether the coordinator may call c as an external agent.
// The coordinator capability is this service and is never dispatched.
func (c Capability) Dispatchable() bool {
	return c.Valid() && c != CapabilityCoordinator
}

func (c Capability) String() string { return string(c) }

func (c Capability) rank() int {
	for i, known := range canonicalOrder {
		if c == known {
			return i
		}
	}
	return len(canonicalOrder)
}

// CompareCapabilities orders capabilities canonically, with unknown names
// sorted after known ones and then lexically.
func CompareCapabilities(a, b Capability) int {
	ra, rb := a.rank(), b.rank()
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	}
	return strings.Compare(string(a), string(b))
}
