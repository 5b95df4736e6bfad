// ABOUTME: SQLite implementation for agent call tracking
// ABOUTME: Stores per-call outcome and latency and aggregates them per agent

package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/2389/tutor-gateway/internal/domain"
)

// SaveAgentCall stores one agent call record.
func (s *SQLiteStore) SaveAgentCall(ctx context.Context, call *AgentCall) error {
	query := `
		INSERT INTO agent_calls (id, session_id, turn_id, agent, status, latency_ms, attempts, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := s.withWriteRetry(ctx, "inserting agent call", func() error {
		_, err := s.db.ExecContext(ctx, query,
			call.ID,
			call.SessionID,
			call.TurnID,
			string(call.Agent),
			string(call.Status),
			float64(call.Latency)/float64(time.Millisecond),
			call.Attempts,
			nullString(call.Error),
			formatTime(call.CreatedAt),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting agent call: %w", err)
	}

	s.logger.Debug("saved agent call",
		"id", call.ID,
		"agent", call.Agent,
		"status", call.Status,
		"latency", call.Latency,
	)
	return nil
}

// GetAgentStats aggregates agent calls recorded at or after since.
// Results are ordered by canonical capability order.
func (s *SQLiteStore) GetAgentStats(ctx context.Context, since time.Time) ([]*AgentStats, error) {
	query := `
		SELECT agent, status, COUNT(*), COALESCE(SUM(latency_ms), 0)
		FROM agent_calls
		WHERE created_at >= ?
		GROUP BY agent, status
	`
	rows, err := s.db.QueryContext(ctx, query, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("querying agent stats: %w", err)
	}
	defer rows.Close()

	acc := newStatsAccumulator()
	for rows.Next() {
		var agent, status string
		var count int
		var latencySum float64
		if err := rows.Scan(&agent, &status, &count, &latencySum); err != nil {
			return nil, fmt.Errorf("scanning agent stats: %w", err)
		}
		acc.add(domain.Capability(agent), domain.OutcomeStatus(status), count, latencySum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent stats: %w", err)
	}
	return acc.result(), nil
}

// statsAccumulator folds (agent, status) groups into per-agent stats.
type statsAccumulator struct {
	byAgent    map[domain.Capability]*AgentStats
	latencySum map[domain.Capability]float64
}

func newStatsAccumulator() *statsAccumulator {
	return &statsAccumulator{
		byAgent:    make(map[domain.Capability]*AgentStats),
		latencySum: make(map[domain.Capability]float64),
	}
}

func (a *statsAccumulator) add(agent domain.Capability, status domain.OutcomeStatus, count int, latencySum float64) {
	st, ok := a.byAgent[agent]
	if !ok {
		st = &AgentStats{Agent: agent, ByStatus: make(map[domain.OutcomeStatus]int)}
		a.byAgent[agent] = st
	}
	st.Total += count
	st.ByStatus[status] += count
	a.latencySum[agent] += latencySum
}

func (a *statsAccumulator) result() []*AgentStats {
	out := make([]*AgentStats, 0, len(a.byAgent))
	for agent, st := range a.byAgent {
		if st.Total > 0 {
			st.AvgLatencyMS = a.latencySum[agent] / float64(st.Total)
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		return domain.CompareCapabilities(out[i].Agent, out[j].Agent) < 0
	})
	return out
}
