package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Ключи контекста, которые заполняет источник обогащения (inventory).
const (
	ContextSite              = "site"
	ContextDeviceRole        = "device_role"
	ContextDeviceTags        = "device_tags"
	ContextDeviceCriticality = "device_criticality"
)

// EvaluationRequest: предлагаемое агентом действие над сетевыми устройствами.
type EvaluationRequest struct {
	ToolName        string         `json:"tool_name"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	DeviceTargets   []string       `json:"device_targets"`
	ConfidenceScore float64        `json:"confidence_score"`
	Context         map[string]any `json:"context,omitempty"`
	AgentID         string         `json:"agent_id,omitempty"`
	// Batch: граф многоустройственного изменения, если запрос пришел пачкой.
	// Попадает в аудит и в эскалацию, чтобы одобренное действие выполнялось в исходном порядке.
	Batch           []BatchItem    `json:"batch,omitempty"`
}

var ErrInvalidRequest = errors.New("invalid evaluation request")

func (r EvaluationRequest) Validate() error {
	if strings.TrimSpace(r.ToolName) == "" {
		return fmt.Errorf("%w: tool_name is required", ErrInvalidRequest)
	}
	if math.IsNaN(r.ConfidenceScore) || r.ConfidenceScore < 0 || r.ConfidenceScore > 1 {
		return fmt.Errorf("%w: confidence_score %v is outside [0,1]", ErrInvalidRequest, r.ConfidenceScore)
	}
	if len(r.Batch) > 0 {
		// Граф пачки описывает те же устройства, что и device_targets, не больше и не меньше
		targets := make(map[string]bool, len(r.DeviceTargets))
		for _, d := range r.DeviceTargets {
			targets[d] = true
		}
		if len(r.Batch) != len(r.DeviceTargets) {
			return fmt.Errorf("%w: batch has %d items for %d device targets", ErrInvalidRequest, len(r.Batch), len(r.DeviceTargets))
		}
		for _, it := range r.Batch {
			if !targets[it.DeviceTarget] {
				return fmt.Errorf("%w: batch item %q is not a device target", ErrInvalidRequest, it.DeviceTarget)
			}
		}
	}
	return nil
}

// MatchedRule описывает правило, повлиявшее на решение.
type MatchedRule struct {
	Source   string  `json:"source"` // hard_rule, site, role, tag, override:<type>, restriction, fail_safe
	Value    string  `json:"value,omitempty"`
	Verdict  Verdict `json:"verdict"`
	Priority int     `json:"priority"`
	Reason   string  `json:"reason"`
}

// EvaluationResult — итог оценки; он же служит доказательством авторизации для Batch Orchestrator.
type EvaluationResult struct {
	Verdict                Verdict       `json:"verdict"`
	RiskTier               RiskTier      `json:"risk_tier"`
	ToolName               string        `json:"tool_name"`
	Reason                 string        `json:"reason"`
	ConfidenceScore        float64       `json:"confidence_score"`
	Threshold              float64       `json:"threshold"`
	DeviceCount            int           `json:"device_count"`
	RequiresAudit          bool          `json:"requires_audit"`
	RequiresSeniorApproval bool          `json:"requires_senior_approval"`
	EscalationID           string        `json:"escalation_id,omitempty"`
	MatchedRules           []MatchedRule `json:"matched_rules"`

	AuditID       string `json:"audit_id,omitempty"`
	AgentID       string `json:"agent_id,omitempty"`
	PolicyVersion string `json:"policy_version,omitempty"`
}
