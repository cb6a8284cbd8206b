package domain

import (
	"errors"
	"time"
)

// Статусы State Machine
type EscalationStatus string

const (
	StatusPending  EscalationStatus = "PENDING"
	StatusApproved EscalationStatus = "APPROVED"
	StatusRejected EscalationStatus = "REJECTED"
)

var (
	ErrInvalidTransition = errors.New("invalid escalation status transition")
	ErrAlreadyProcessed  = errors.New("escalation already processed")
	ErrNotFound          = errors.New("not found")
	ErrNotApproved       = errors.New("escalation is not approved")
)

// EscalationRecord создается только для вердикта ESCALATE.
// Хранит tool/params/devices, чтобы после одобрения действие можно было выполнить без повторного вывода.
type EscalationRecord struct {
	ID            string           `json:"id"`
	AuditID       string           `json:"audit_id"` // Ссылка на исходную запись журнала
	AgentID       string           `json:"agent_id,omitempty"`
	ToolName      string           `json:"tool_name"`
	Parameters    map[string]any   `json:"parameters,omitempty"`
	DeviceTargets []string         `json:"device_targets"`
	BatchItems    []BatchItem      `json:"batch_items,omitempty"` // пусто для одиночного запроса
	RiskTier      RiskTier         `json:"risk_tier"`
	Reason        string           `json:"reason"`
	Status        EscalationStatus `json:"status"`

	DecidedBy      *string    `json:"decided_by,omitempty"`
	DecisionReason *string    `json:"decision_reason,omitempty"`
	DecidedAt      *time.Time `json:"decided_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanTransitionTo проверяет правила конечного автомата: PENDING -> {APPROVED, REJECTED}.
func (e *EscalationRecord) CanTransitionTo(next EscalationStatus) error {
	if e.Status != StatusPending {
		return ErrAlreadyProcessed
	}
	if next != StatusApproved && next != StatusRejected {
		return ErrInvalidTransition
	}
	return nil
}
