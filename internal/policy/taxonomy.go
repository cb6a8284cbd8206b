package policy

import (
	"fmt"
	"math"
	"strings"

	"github.com/xela07ax/netops-governor/internal/domain"
)

// ReasonHardBlocked: фиксированная причина для инструментов из HardRules.
const ReasonHardBlocked = "hard-blocked — cannot be unlocked at runtime"

func normalizeTool(tool string) string {
	return strings.ToLower(strings.TrimSpace(tool))
}

// IsHardBlocked проверяет принадлежность инструмента HardRules (без учета регистра и пробелов).
func (d *Document) IsHardBlocked(tool string) bool {
	name := normalizeTool(tool)
	for _, blocked := range d.HardRules.BlockedTools {
		if normalizeTool(blocked) == name {
			return true
		}
	}
	return false
}

// Classify ищет инструмент в примерах классов в каноническом порядке; первый совпавший класс побеждает.
func (d *Document) Classify(tool string) domain.RiskTier {
	name := normalizeTool(tool)
	for _, tier := range domain.AllTiers {
		rule, ok := d.RiskTiers[tier]
		if !ok {
			continue
		}
		for _, example := range rule.Examples {
			if normalizeTool(example) == name {
				return tier
			}
		}
	}
	return d.DefaultTierForUnknown
}

// TierRule возвращает правило класса; у провалидированного документа оно есть всегда.
func (d *Document) TierRule(tier domain.RiskTier) TierRule {
	if rule, ok := d.RiskTiers[tier]; ok {
		return rule
	}
	// Неизвестный класс: максимально строгий ответ
	return TierRule{DefaultVerdict: domain.VerdictBlock, RequiresAudit: true, RequiresSeniorApproval: true}
}

// CheckScope возвращает вердикт, если число устройств нарушает ScopeLimits.
// max_devices (если задан) — жесткий предел, escalate_above — порог передачи человеку.
func (d *Document) CheckScope(deviceCount int) (domain.Verdict, string, bool) {
	limits := d.ScopeLimits
	if limits.MaxDevices > 0 && deviceCount > limits.MaxDevices {
		return domain.VerdictBlock, fmt.Sprintf("scope limit exceeded: %d devices targeted, max_devices is %d", deviceCount, limits.MaxDevices), true
	}
	if deviceCount > limits.EscalateAbove {
		return domain.VerdictEscalate, fmt.Sprintf("scope limit: %d devices targeted exceeds escalate_above=%d", deviceCount, limits.EscalateAbove), true
	}
	return "", "", false
}

// EffectiveThreshold — чистая функция расчета порога уверенности.
// Все входы из обогащения недоверенные и прижимаются к [0,1]; результат тоже.
func EffectiveThreshold(tier domain.RiskTier, doc *Document, eas, criticality, historyFactor float64) float64 {
	threshold, ok := doc.ConfidenceThresholds[tier]
	if !ok {
		return 1.0
	}

	eas = clampUnit(eas, 0)
	criticality = clampUnit(criticality, 1) // NaN: считаем устройство максимально критичным
	historyFactor = clampUnit(historyFactor, 0)

	mod := doc.EASModulation
	if mod.Enabled && eas >= mod.MinEASForModulation {
		threshold -= mod.MaxThresholdReduction * eas
	}

	dyn := doc.DynamicConfidence
	threshold += dyn.MaxCriticalityIncrease * criticality
	threshold -= dyn.MaxHistoryBonus * historyFactor

	return clampUnit(threshold, 1)
}

func clampUnit(v, nanFallback float64) float64 {
	if math.IsNaN(v) {
		return nanFallback
	}
	return math.Max(0, math.Min(1, v))
}

// Clamp: экспортированная версия для значений из контекста запроса.
func Clamp(v float64) float64 {
	return clampUnit(v, 1)
}
