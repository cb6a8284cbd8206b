package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/netops-governor/internal/domain"
)

const escalationColumns = `id, audit_id, agent_id, tool_name, parameters, device_targets, batch_items, risk_tier,
	reason, status, decided_by, decision_reason, decided_at, created_at, updated_at`

func (t *sqlTx) CreateEscalation(ctx context.Context, r *domain.EscalationRecord) error {
	raw := r.Parameters
	if raw == nil {
		raw = map[string]any{}
	}
	params, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("postgres: marshal escalation params: %w", err)
	}
	targets := r.DeviceTargets
	if targets == nil {
		targets = []string{}
	}
	devices, err := json.Marshal(targets)
	if err != nil {
		return fmt.Errorf("postgres: marshal device targets: %w", err)
	}
	graph := r.BatchItems
	if graph == nil {
		graph = []domain.BatchItem{}
	}
	batchItems, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("postgres: marshal batch items: %w", err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}

	query := `
		INSERT INTO escalations (id, audit_id, agent_id, tool_name, parameters, device_targets,
			batch_items, risk_tier, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = t.tx.ExecContext(ctx, query,
		r.ID, r.AuditID, r.AgentID, r.ToolName, params, devices, batchItems,
		string(r.RiskTier), r.Reason, string(r.Status), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return mapError("create escalation", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEscalation(row rowScanner) (*domain.EscalationRecord, error) {
	var (
		r                           domain.EscalationRecord
		params, devices, batchItems []byte
		tier, status                string
		decidedBy, decision         sql.NullString
		decidedAt                   sql.NullTime
	)
	err := row.Scan(&r.ID, &r.AuditID, &r.AgentID, &r.ToolName, &params, &devices, &batchItems, &tier,
		&r.Reason, &status, &decidedBy, &decision, &decidedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &r.Parameters); err != nil {
			return nil, fmt.Errorf("postgres: decode escalation params: %w", err)
		}
	}
	r.DeviceTargets = []string{}
	if len(devices) > 0 {
		if err := json.Unmarshal(devices, &r.DeviceTargets); err != nil {
			return nil, fmt.Errorf("postgres: decode device targets: %w", err)
		}
	}
	if len(batchItems) > 0 {
		if err := json.Unmarshal(batchItems, &r.BatchItems); err != nil {
			return nil, fmt.Errorf("postgres: decode batch items: %w", err)
		}
		if len(r.BatchItems) == 0 {
			r.BatchItems = nil
		}
	}
	r.RiskTier = domain.RiskTier(tier)
	r.Status = domain.EscalationStatus(status)
	r.DecidedBy = fromNull(decidedBy)
	r.DecisionReason = fromNull(decision)
	if decidedAt.Valid {
		t := decidedAt.Time
		r.DecidedAt = &t
	}
	return &r, nil
}

func (s *Store) GetEscalation(ctx context.Context, id string) (*domain.EscalationRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+escalationColumns+` FROM escalations WHERE id = $1`, id)
	r, err := scanEscalation(row)
	if err != nil {
		return nil, mapError("get escalation", err)
	}
	return r, nil
}

// ListEscalations: пустой status означает все записи.
func (s *Store) ListEscalations(ctx context.Context, status domain.EscalationStatus) ([]*domain.EscalationRecord, error) {
	query := `SELECT ` + escalationColumns + ` FROM escalations
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, mapError("list escalations", err)
	}
	defer rows.Close()

	out := make([]*domain.EscalationRecord, 0)
	for rows.Next() {
		r, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan escalation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DecideEscalation: условие status = 'PENDING' защищает от двойного решения
// при конкурентных запросах двух операторов.
func (s *Store) DecideEscalation(ctx context.Context, id string, status domain.EscalationStatus, decidedBy, reason string) (*domain.EscalationRecord, error) {
	if status != domain.StatusApproved && status != domain.StatusRejected {
		return nil, domain.ErrInvalidTransition
	}

	query := `
		UPDATE escalations
		SET status = $1, decided_by = $2, decision_reason = $3, decided_at = NOW(), updated_at = NOW()
		WHERE id = $4 AND status = 'PENDING'
		RETURNING ` + escalationColumns

	r, err := scanEscalation(s.db.QueryRowContext(ctx, query, string(status), decidedBy, reason, id))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, mapError("decide escalation", err)
	}

	// Ни одной строки: либо записи нет, либо она уже решена
	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM escalations WHERE id = $1`, id).Scan(&current)
	if err != nil {
		return nil, mapError("decide escalation", err)
	}
	return nil, fmt.Errorf("postgres: decide escalation %s (status %s): %w", id, current, domain.ErrAlreadyProcessed)
}
