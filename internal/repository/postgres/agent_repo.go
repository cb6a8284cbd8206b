package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/netops-governor/internal/domain"
)

func (s *Store) AppendEASHistory(ctx context.Context, e *domain.EASHistoryEntry) error {
	query := `INSERT INTO eas_history (id, agent_id, value, actor, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query, e.ID, e.AgentID, e.Value, e.Actor, e.Reason, e.CreatedAt)
	if err != nil {
		return mapError("append eas history", err)
	}
	return nil
}

func (s *Store) EASHistory(ctx context.Context, agentID string, since time.Time) ([]domain.EASHistoryEntry, error) {
	query := `SELECT id, agent_id, value, actor, reason, created_at FROM eas_history
		WHERE agent_id = $1 AND created_at >= $2
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, agentID, since)
	if err != nil {
		return nil, mapError("eas history", err)
	}
	defer rows.Close()

	out := make([]domain.EASHistoryEntry, 0)
	for rows.Next() {
		var e domain.EASHistoryEntry
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Value, &e.Actor, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan eas history: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const executionCols = 10

// WriteExecutions пишет пачку записей одним INSERT.
func (s *Store) WriteExecutions(ctx context.Context, records []domain.ExecutionRecord) error {
	if len(records) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO execution_log (id, batch_id, agent_id, device, tool_name, success,
		rolled_back, error, duration_ms, ts) VALUES `)

	args := make([]any, 0, len(records)*executionCols)
	for i, r := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * executionCols
		sb.WriteString("(")
		for j := 1; j <= executionCols; j++ {
			if j > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", base+j)
		}
		sb.WriteString(")")
		args = append(args, r.ID, r.BatchID, r.AgentID, r.Device, r.ToolName, r.Success,
			r.RolledBack, r.Error, r.DurationMs, r.Timestamp)
	}

	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return mapError("write executions", err)
	}
	return nil
}

func (s *Store) RecentExecutions(ctx context.Context, agentID string, since time.Time) ([]domain.ExecutionRecord, error) {
	query := `SELECT id, batch_id, agent_id, device, tool_name, success, rolled_back, error, duration_ms, ts
		FROM execution_log
		WHERE agent_id = $1 AND ts >= $2
		ORDER BY ts DESC`

	rows, err := s.db.QueryContext(ctx, query, agentID, since)
	if err != nil {
		return nil, mapError("recent executions", err)
	}
	defer rows.Close()

	out := make([]domain.ExecutionRecord, 0)
	for rows.Next() {
		var r domain.ExecutionRecord
		if err := rows.Scan(&r.ID, &r.BatchID, &r.AgentID, &r.Device, &r.ToolName, &r.Success,
			&r.RolledBack, &r.Error, &r.DurationMs, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListRestrictedAgents(ctx context.Context, kind domain.RestrictionKind) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id FROM agent_restrictions WHERE kind = $1 ORDER BY agent_id`, string(kind))
	if err != nil {
		return nil, mapError("list restricted agents", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan restricted agent: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SetAgentRestriction: enabled=true упсертит строку, false удаляет ее.
func (s *Store) SetAgentRestriction(ctx context.Context, agentID string, kind domain.RestrictionKind, enabled bool, reason string) error {
	var err error
	if enabled {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO agent_restrictions (agent_id, kind, reason, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (agent_id, kind) DO UPDATE SET reason = EXCLUDED.reason, updated_at = NOW()`,
			agentID, string(kind), reason)
	} else {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM agent_restrictions WHERE agent_id = $1 AND kind = $2`, agentID, string(kind))
	}
	if err != nil {
		return mapError("set agent restriction", err)
	}
	return nil
}
