// ABOUTME: Dispatch plan templates per request kind
// ABOUTME: Selects the steps whose agents are registered and wires their request context

package coordinator

import (
	"fmt"
	"slices"

	"github.com/2389/tutor-gateway/internal/domain"
)

type stepTemplate struct {
	capability domain.Capability
	required   bool
	after      []domain.Capability
	idempotent bool
}

// planTemplates lists the agents called for each request kind. Dependencies
// always point at earlier steps.
var planTemplates = map[domain.RequestKind][]stepTemplate{
	domain.KindStartAssessment: {
		{capability: domain.CapabilityAssessment, required: true},
		{capability: domain.CapabilityEngagement, after: []domain.Capability{domain.CapabilityAssessment}},
	},
	domain.KindAnswer: {
		{capability: domain.CapabilityAssessment, required: true},
		{capability: domain.CapabilityAdaptive, after: []domain.Capability{domain.CapabilityAssessment}, idempotent: true},
		{capability: domain.CapabilityEngagement, after: []domain.Capability{domain.CapabilityAssessment}},
	},
	domain.KindPractice: {
		{capability: domain.CapabilityContent, required: true},
		{capability: domain.CapabilityAdaptive, idempotent: true},
		{capability: domain.CapabilityEngagement, after: []domain.Capability{domain.CapabilityContent}},
	},
	domain.KindExplain: {
		{capability: domain.CapabilityContent, required: true},
		{capability: domain.CapabilityVoice, after: []domain.Capability{domain.CapabilityContent}, idempotent: true},
		{capability: domain.CapabilityEngagement},
	},
	domain.KindLearningPlan: {
		{capability: domain.CapabilityAnalytics, required: true},
		{capability: domain.CapabilityAdaptive, after: []domain.Capability{domain.CapabilityAnalytics}, idempotent: true},
	},
	domain.KindSpeak: {
		{capability: domain.CapabilityVoice, required: true},
	},
}

// selectSteps returns the template steps for kind whose capability is
// available. Dependencies on dropped steps are removed; the dependent still
// runs, only without that upstream payload.
func selectSteps(kind domain.RequestKind, available func(domain.Capability) bool) ([]stepTemplate, error) {
	tmpl, ok := planTemplates[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown request kind %q", ErrNoCapableAgents, string(kind))
	}

	kept := make([]stepTemplate, 0, len(tmpl))
	present := make(map[domain.Capability]bool, len(tmpl))
	hasRequired := false
	for _, st := range tmpl {
		if !available(st.capability) {
			continue
		}
		st.after = slices.DeleteFunc(slices.Clone(st.after), func(c domain.Capability) bool { return !present[c] })
		kept = append(kept, st)
		present[st.capability] = true
		hasRequired = hasRequired || st.required
	}
	if !hasRequired {
		return nil, fmt.Errorf("%w: no required agent registered for %q", ErrNoCapableAgents, string(kind))
	}
	return kept, nil
}

// buildPlan stamps base onto every selected step.
func buildPlan(steps []stepTemplate, base domain.AgentRequest) domain.DispatchPlan {
	plan := domain.DispatchPlan{Steps: make([]domain.Step, 0, len(steps))}
	for _, st := range steps {
		req := base
		req.Capability = st.capability
		req.Learner = cloneContext(base.Learner)
		req.History = slices.Clone(base.History)
		plan.Steps = append(plan.Steps, domain.Step{
			Capability: st.capability,
			Required:   st.required,
			After:      st.after,
			Idempotent: st.idempotent,
			Request:    req,
		})
	}
	return plan
}

func cloneContext(uc domain.UserContext) domain.UserContext {
	uc.LearningStyles = slices.Clone(uc.LearningStyles)
	uc.Accessibility = slices.Clone(uc.Accessibility)
	return uc
}
