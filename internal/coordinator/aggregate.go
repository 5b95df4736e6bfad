// ABOUTME: Pure merge of per-agent outcomes into one AggregatedResult
// ABOUTME: Same inputs in any order always produce the same result

package coordinator

import (
	"fmt"
	"slices"
	"strings"

	"github.com/2389/tutor-gateway/internal/domain"
)

// Aggregate merges outcomes into a single result.
//
// The turn is Failed when no required agent succeeded, Complete when every
// agent succeeded, and PartialDegraded otherwise. Required payloads are kept
// whenever present, including a Degraded fallback; optional payloads only on
// Success. Every outcome that is not a Success is listed in Missing, as is
// any required capability without an outcome.
func Aggregate(required map[domain.Capability]bool, outcomes []domain.Outcome) domain.AggregatedResult {
	sorted := slices.Clone(outcomes)
	slices.SortStableFunc(sorted, func(a, b domain.Outcome) int {
		if c := domain.CompareCapabilities(a.Agent, b.Agent); c != 0 {
			return c
		}
		if c := strings.Compare(string(a.Status), string(b.Status)); c != 0 {
			return c
		}
		return strings.Compare(a.Error, b.Error)
	})

	result := domain.AggregatedResult{Payloads: make(map[domain.Capability]domain.Payload)}
	seen := make(map[domain.Capability]bool, len(sorted))
	succeeded, requiredSucceeded := 0, false

	for _, o := range sorted {
		seen[o.Agent] = true
		isRequired := required[o.Agent]

		if o.Status == domain.OutcomeSuccess {
			succeeded++
			requiredSucceeded = requiredSucceeded || isRequired
		} else {
			result.Missing = append(result.Missing, domain.MissingAgent{
				Agent:    o.Agent,
				Status:   o.Status,
				Detail:   o.Error,
				Required: isRequired,
			})
		}

		switch {
		case o.Payload == nil:
		case o.Status == domain.OutcomeSuccess:
			result.Payloads[o.Agent] = o.Payload
		case isRequired && o.Status == domain.OutcomeDegraded:
			result.Payloads[o.Agent] = o.Payload
		}
	}

	var unanswered []domain.Capability
	for c, isRequired := range required {
		if isRequired && !seen[c] {
			unanswered = append(unanswered, c)
		}
	}
	slices.SortFunc(unanswered, domain.CompareCapabilities)
	for _, c := range unanswered {
		result.Missing = append(result.Missing, domain.MissingAgent{
			Agent:    c,
			Status:   domain.OutcomeFailed,
			Detail:   "no outcome",
			Required: true,
		})
	}

	total := len(sorted) + len(unanswered)
	switch {
	case !requiredSucceeded:
		result.Status = domain.ResultFailed
	case len(result.Missing) == 0:
		result.Status = domain.ResultComplete
	default:
		result.Status = domain.ResultPartialDegraded
	}
	if len(result.Payloads) == 0 {
		result.Payloads = nil
	}
	result.Summary = summarize(succeeded, total, result.Missing)
	return result
}

func summarize(succeeded, total int, missing []domain.MissingAgent) string {
	s := fmt.Sprintf("%d/%d agents succeeded", succeeded, total)
	if len(missing) == 0 {
		return s
	}
	parts := make([]string, len(missing))
	for i, m := range missing {
		parts[i] = fmt.Sprintf("%s (%s)", m.Agent, m.Status)
	}
	return s + "; missing: " + strings.Join(parts, ", ")
}
