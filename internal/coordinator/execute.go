// ABOUTME: Concurrent execution of a dispatch plan with step dependencies and retries
// ABOUTME: Every planned step ends with exactly one Outcome, whatever happens to the caller

package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/2389/tutor-gateway/internal/agent"
	"github.com/2389/tutor-gateway/internal/domain"
)

// AgentResolver finds the invoker for a capability. *agent.Registry implements it.
type AgentResolver interface {
	Lookup(capability domain.Capability) (agent.Invoker, error)
}

const canceledBeforeDispatch = "canceled before dispatch"

// execute runs every step of plan and returns their outcomes in plan order.
// Independent steps start at once; a dependent step starts when all of its
// predecessors have an outcome. Calls already dispatched are not canceled by
// ctx; steps that have not started yet are skipped once ctx is done.
func (c *Coordinator) execute(ctx context.Context, plan domain.DispatchPlan) []domain.Outcome {
	n := len(plan.Steps)
	outcomes := make([]domain.Outcome, n)
	done := make([]chan struct{}, n)
	index := make(map[domain.Capability]int, n)
	for i, st := range plan.Steps {
		done[i] = make(chan struct{})
		index[st.Capability] = i
	}

	var wg sync.WaitGroup
	for i := range plan.Steps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer close(done[i])
			step := plan.Steps[i]

			upstream := make(map[domain.Capability]domain.Payload, len(step.After))
			for _, dep := range step.After {
				j, ok := index[dep]
				if !ok {
					continue
				}
				<-done[j]
				if outcomes[j].HasPayload() {
					upstream[dep] = outcomes[j].Payload
				}
			}
			if len(upstream) > 0 {
				step.Request.Upstream = upstream
			}
			enrichFromUpstream(&step.Request)

			outcomes[i] = c.runStep(ctx, step)
		}(i)
	}
	wg.Wait()
	return outcomes
}

// runStep dispatches one step, retrying optional idempotent steps that failed
// or timed out.
func (c *Coordinator) runStep(ctx context.Context, step domain.Step) domain.Outcome {
	if ctx.Err() != nil {
		return domain.Outcome{Agent: step.Capability, Status: domain.OutcomeFailed, Error: canceledBeforeDispatch}
	}
	inv, err := c.agents.Lookup(step.Capability)
	if err != nil {
		return domain.Outcome{Agent: step.Capability, Status: domain.OutcomeFailed, Error: fmt.Sprintf("resolving agent: %v", err)}
	}

	callCtx := context.WithoutCancel(ctx)
	var (
		out      domain.Outcome
		attempts int
		elapsed  time.Duration
	)
	for {
		out = inv.Invoke(callCtx, step.Request)
		attempts++
		elapsed += out.Latency

		if !retryable(step, out) || attempts > c.maxRetries || ctx.Err() != nil {
			break
		}
		c.logger.Debug("retrying agent call",
			"agent", step.Capability,
			"session_id", step.Request.SessionID,
			"attempt", attempts+1,
			"previous_status", out.Status,
		)
	}
	out.Agent = step.Capability
	out.Attempts = attempts
	out.Latency = elapsed
	return out
}

func retryable(step domain.Step, out domain.Outcome) bool {
	if step.Required || !step.Idempotent {
		return false
	}
	return out.Status == domain.OutcomeFailed || out.Status == domain.OutcomeTimedOut
}
