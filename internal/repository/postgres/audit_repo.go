package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xela07ax/netops-governor/internal/domain"
)

const insertAuditSQL = `
	INSERT INTO audit_log (id, ts, agent_id, tool_name, request, verdict, risk_tier,
		confidence_score, threshold, reason, eas, policy_version)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

func (t *sqlTx) InsertAuditEntry(ctx context.Context, e *domain.AuditLogEntry) error {
	return insertAudit(ctx, t.tx, e)
}

func insertAudit(ctx context.Context, db execer, e *domain.AuditLogEntry) error {
	req, err := json.Marshal(e.Request)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit request: %w", err)
	}
	_, err = db.ExecContext(ctx, insertAuditSQL,
		e.ID, e.Timestamp, nullString(e.AgentID), e.Request.ToolName, req,
		string(e.Verdict), string(e.RiskTier), e.ConfidenceScore, e.Threshold,
		e.Reason, e.EAS, e.PolicyVersion,
	)
	if err != nil {
		return mapError("insert audit entry", err)
	}
	return nil
}

// RecentVerdicts: вердикты агента с момента since, для исторического фактора.
func (s *Store) RecentVerdicts(ctx context.Context, agentID string, since time.Time) ([]domain.VerdictRecord, error) {
	query := `
		SELECT agent_id, verdict, ts FROM audit_log
		WHERE agent_id = $1 AND ts >= $2
		ORDER BY ts DESC`

	rows, err := s.db.QueryContext(ctx, query, agentID, since)
	if err != nil {
		return nil, mapError("recent verdicts", err)
	}
	defer rows.Close()

	out := make([]domain.VerdictRecord, 0)
	for rows.Next() {
		var r domain.VerdictRecord
		var verdict string
		if err := rows.Scan(&r.AgentID, &verdict, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan verdict: %w", err)
		}
		r.Verdict = domain.Verdict(verdict)
		out = append(out, r)
	}
	return out, rows.Err()
}
