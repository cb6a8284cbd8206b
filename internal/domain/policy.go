package domain

import (
	"encoding/json"
	"time"
)

// PolicyVersion — неизменяемый снимок документа политики.
// Откат создает новую строку, указывающую на старый контент; история монотонна.
type PolicyVersion struct {
	ID             string    `json:"id"`
	Version        string    `json:"version"`
	Content        string    `json:"content"`
	ContentHash    string    `json:"content_hash"`
	Diff           string    `json:"diff,omitempty"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	RolledBackFrom *string   `json:"rolled_back_from,omitempty"`
}

// OverrideRuleType: закрытый набор вариантов агентских правил.
type OverrideRuleType string

const (
	OverrideSite OverrideRuleType = "site"
	OverrideRole OverrideRuleType = "role"
	OverrideTag  OverrideRuleType = "tag"
	OverrideTool OverrideRuleType = "tool"
)

// AgentPolicyOverride — персональное ограничение агента.
// Rule хранит JSON вида {"value": "...", "verdict": "BLOCK", "applies_to": "write", "reason": "..."}.
type AgentPolicyOverride struct {
	ID        string           `json:"id"`
	AgentID   string           `json:"agent_id"`
	RuleType  OverrideRuleType `json:"rule_type"`
	Rule      json.RawMessage  `json:"rule"`
	Priority  int              `json:"priority"`
	Active    bool             `json:"active"`
	CreatedAt time.Time        `json:"created_at"`
}

// RestrictionKind: оперативные ограничения агента, управляемые из консоли.
type RestrictionKind string

const (
	RestrictionKillSwitch RestrictionKind = "kill_switch" // Агент полностью заблокирован
	RestrictionQuarantine RestrictionKind = "quarantine"  // Любое действие требует HITL
)
