package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/netops-governor/internal/domain"
)

const overrideColumns = `id, agent_id, rule_type, rule, priority, active, created_at`

func (s *Store) ListActiveOverrides(ctx context.Context, agentID string) ([]domain.AgentPolicyOverride, error) {
	return s.queryOverrides(ctx, `SELECT `+overrideColumns+` FROM agent_policy_overrides
		WHERE agent_id = $1 AND active = TRUE
		ORDER BY priority DESC, created_at`, agentID)
}

// ListAllActiveOverrides используется для прогрева кэша overrides
func (s *Store) ListAllActiveOverrides(ctx context.Context) ([]domain.AgentPolicyOverride, error) {
	return s.queryOverrides(ctx, `SELECT `+overrideColumns+` FROM agent_policy_overrides
		WHERE active = TRUE
		ORDER BY agent_id, priority DESC, created_at`)
}

func (s *Store) queryOverrides(ctx context.Context, query string, args ...any) ([]domain.AgentPolicyOverride, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("list overrides", err)
	}
	defer rows.Close()

	out := make([]domain.AgentPolicyOverride, 0)
	for rows.Next() {
		var o domain.AgentPolicyOverride
		var ruleType string
		var rule []byte
		if err := rows.Scan(&o.ID, &o.AgentID, &ruleType, &rule, &o.Priority, &o.Active, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan override: %w", err)
		}
		o.RuleType = domain.OverrideRuleType(ruleType)
		o.Rule = rule
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) CreateOverride(ctx context.Context, o *domain.AgentPolicyOverride) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO agent_policy_overrides (` + overrideColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		o.ID, o.AgentID, string(o.RuleType), []byte(o.Rule), o.Priority, o.Active, o.CreatedAt)
	if err != nil {
		return mapError("create override", err)
	}
	return nil
}

func (s *Store) DeactivateOverride(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agent_policy_overrides SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return mapError("deactivate override", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError("deactivate override", err)
	}
	if n == 0 {
		return fmt.Errorf("postgres: deactivate override %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
