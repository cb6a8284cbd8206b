package policy

import "github.com/xela07ax/netops-governor/internal/domain"

// Document: декларативная политика. После загрузки документ не изменяется:
// hot-reload создает новый экземпляр и подменяет указатель целиком.
type Document struct {
	Version               string                       `yaml:"version"`
	RiskTiers             map[domain.RiskTier]TierRule `yaml:"risk_tiers"`
	ConfidenceThresholds  map[domain.RiskTier]float64  `yaml:"confidence_thresholds"`
	EASModulation         EASModulation                `yaml:"eas_modulation"`
	ScopeLimits           ScopeLimits                  `yaml:"scope_limits"`
	HardRules             HardRules                    `yaml:"hard_rules"`
	SiteRules             []ContextRule                `yaml:"site_rules,omitempty"`
	RoleRules             []ContextRule                `yaml:"role_rules,omitempty"`
	TagRules              []ContextRule                `yaml:"tag_rules,omitempty"`
	DynamicConfidence     DynamicConfidence            `yaml:"dynamic_confidence"`
	DefaultTierForUnknown domain.RiskTier              `yaml:"default_tier_for_unknown"`
}

type TierRule struct {
	Description            string         `yaml:"description"`
	DefaultVerdict         domain.Verdict `yaml:"default_verdict"`
	RequiresAudit          bool           `yaml:"requires_audit"`
	RequiresSeniorApproval bool           `yaml:"requires_senior_approval"`
	Examples               []string       `yaml:"examples"`
}

type EASModulation struct {
	Enabled               bool    `yaml:"enabled"`
	MaxThresholdReduction float64 `yaml:"max_threshold_reduction"`
	MinEASForModulation   float64 `yaml:"min_eas_for_modulation"`
}

type ScopeLimits struct {
	MaxDevices    int `yaml:"max_devices"`    // 0: без жесткого лимита
	EscalateAbove int `yaml:"escalate_above"` // Больше этого числа устройств ESCALATE
}

// HardRules нельзя разблокировать в рантайме ничем: ни confidence, ни EAS, ни контекстом.
type HardRules struct {
	BlockedTools []string `yaml:"blocked_tools"`
}

// ContextRule — правило по site / device_role / device_tags.
type ContextRule struct {
	Match     string         `yaml:"match"`
	Verdict   domain.Verdict `yaml:"verdict"`
	AppliesTo string         `yaml:"applies_to"` // "all", "write" или конкретный tool
	Reason    string         `yaml:"reason"`
}

type DynamicConfidence struct {
	MaxCriticalityIncrease float64 `yaml:"max_criticality_increase"`
	MaxHistoryBonus        float64 `yaml:"max_history_bonus"`
	HistoryWindowDays      int     `yaml:"history_window_days"`
}

const (
	AppliesToAll   = "all"
	AppliesToWrite = "write"

	defaultHistoryWindowDays = 30
)
