package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/kemerova/argus/internal/gateway"
)

// LogContribution appends one contribution row.
func (s *SQLiteStore) LogContribution(ctx context.Context, c gateway.Contribution) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	ts := c.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contributions
			(session_id, phase, agent_name, role, contribution_type, prompt, content, quality, tokens_used, response_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.SessionID, c.Phase, c.AgentName, string(c.Role), c.Type, c.Prompt, c.Content,
		c.Quality, c.TokensUsed, c.ResponseTime.Milliseconds(), ts.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to log contribution: %w", err)
	}
	return nil
}

// GenerateSessionSummary totals a session's contributions per agent, in the
// order agents first contributed, and per phase.
func (s *SQLiteStore) GenerateSessionSummary(ctx context.Context, sessionID string) (gateway.ContributionSummary, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	summary := gateway.ContributionSummary{
		SessionID: sessionID,
		Phases:    make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_name, MIN(role), COUNT(*), SUM(tokens_used), AVG(response_time_ms)
		FROM contributions
		WHERE session_id = ?
		GROUP BY agent_name
		ORDER BY MIN(id)
	`, sessionID)
	if err != nil {
		return summary, fmt.Errorf("failed to query contributions: %w", err)
	}
	for rows.Next() {
		var (
			a     gateway.AgentContribution
			role  string
			avgMS float64
		)
		if err := rows.Scan(&a.Agent, &role, &a.Calls, &a.Tokens, &avgMS); err != nil {
			rows.Close()
			return summary, fmt.Errorf("failed to scan contribution totals: %w", err)
		}
		a.Role = gateway.Role(role)
		a.AvgResponseTime = time.Duration(avgMS * float64(time.Millisecond))
		summary.Agents = append(summary.Agents, a)
		summary.TotalContributions += a.Calls
		summary.TotalTokens += a.Tokens
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return summary, fmt.Errorf("error iterating contributions: %w", err)
	}
	rows.Close()

	phaseRows, err := s.db.QueryContext(ctx, `
		SELECT phase, COUNT(*)
		FROM contributions
		WHERE session_id = ?
		GROUP BY phase
	`, sessionID)
	if err != nil {
		return summary, fmt.Errorf("failed to query phase totals: %w", err)
	}
	defer phaseRows.Close()
	for phaseRows.Next() {
		var (
			phase string
			n     int
		)
		if err := phaseRows.Scan(&phase, &n); err != nil {
			return summary, fmt.Errorf("failed to scan phase totals: %w", err)
		}
		summary.Phases[phase] = n
	}
	if err := phaseRows.Err(); err != nil {
		return summary, fmt.Errorf("error iterating phase totals: %w", err)
	}
	return summary, nil
}
