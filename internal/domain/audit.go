package domain

import (
	"errors"
	"time"
)

// AuditLogEntry: запись неизменяемого журнала решений. Пути обновления и удаления не существует.
type AuditLogEntry struct {
	ID              string            `json:"id"`
	Timestamp       time.Time         `json:"timestamp"`
	Request         EvaluationRequest `json:"request"`
	Verdict         Verdict           `json:"verdict"`
	RiskTier        RiskTier          `json:"risk_tier"`
	ConfidenceScore float64           `json:"confidence_score"`
	Threshold       float64           `json:"threshold"`
	Reason          string            `json:"reason"`
	EAS             float64           `json:"eas"`
	AgentID         *string           `json:"agent_id,omitempty"`
	PolicyVersion   string            `json:"policy_version"`
}

// VerdictRecord — облегченная проекция журнала для расчета history factor.
type VerdictRecord struct {
	AgentID   string    `json:"agent_id"`
	Verdict   Verdict   `json:"verdict"`
	Timestamp time.Time `json:"timestamp"`
}

// EASHistoryEntry фиксирует каждое изменение Earned Autonomy Score.
type EASHistoryEntry struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Value     float64   `json:"value"`
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// ExecutionRecord: результат выполнения действия на одном устройстве в рамках batch.
type ExecutionRecord struct {
	ID         string    `json:"id"`
	BatchID    string    `json:"batch_id"`
	AgentID    string    `json:"agent_id"`
	Device     string    `json:"device"`
	ToolName   string    `json:"tool_name"`
	Success    bool      `json:"success"`
	RolledBack bool      `json:"rolled_back"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrInvalidEAS — значение EAS вне [0,1].
var ErrInvalidEAS = errors.New("eas must be within [0,1]")
