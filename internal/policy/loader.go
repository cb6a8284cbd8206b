package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/xela07ax/netops-governor/internal/domain"
	"gopkg.in/yaml.v3"
)

// Loaded: провалидированный документ вместе с исходными байтами и их хешем.
type Loaded struct {
	Document *Document
	Raw      []byte
	Hash     string
}

// FieldError — одна проблема валидации.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError агрегирует все найденные проблемы документа: оператор видит их разом.
type ValidationError struct {
	Problems []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Field+": "+p.Message)
	}
	return "policy validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Problems = append(e.Problems, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

var (
	ErrEmptyDocument     = errors.New("policy document is empty")
	ErrMalformedDocument = errors.New("policy document is malformed")
)

// IsInvalid сообщает, что ошибка вызвана содержимым документа, а не хранилищем или диском.
func IsInvalid(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrEmptyDocument) || errors.Is(err, ErrMalformedDocument)
}

// LoadFile читает YAML с диска оператора.
func LoadFile(path string) (*Loaded, error) {
	// #nosec G304 -- путь задается конфигурацией оператора
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return Load(data)
}

// Load разбирает и валидирует документ. Хеш считается по сырым байтам.
func Load(data []byte) (*Loaded, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyDocument
	}

	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("policy: decode: %w: %w", ErrMalformedDocument, err)
	}

	normalize(&doc)
	if err := Validate(&doc); err != nil {
		return nil, err
	}

	raw := make([]byte, len(data))
	copy(raw, data)
	return &Loaded{Document: &doc, Raw: raw, Hash: Digest(data)}, nil
}

// Digest: "sha256:<hex>" от содержимого.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// normalize приводит регистр вердиктов и фильтров, заполняет значения по умолчанию.
func normalize(doc *Document) {
	for tier, rule := range doc.RiskTiers {
		rule.DefaultVerdict = domain.Verdict(strings.ToUpper(strings.TrimSpace(string(rule.DefaultVerdict))))
		doc.RiskTiers[tier] = rule
	}
	for _, rules := range [][]ContextRule{doc.SiteRules, doc.RoleRules, doc.TagRules} {
		for i := range rules {
			rules[i].Verdict = domain.Verdict(strings.ToUpper(strings.TrimSpace(string(rules[i].Verdict))))
			rules[i].AppliesTo = strings.ToLower(strings.TrimSpace(rules[i].AppliesTo))
			if rules[i].AppliesTo == "" {
				rules[i].AppliesTo = AppliesToAll
			}
		}
	}
	if doc.DynamicConfidence.HistoryWindowDays == 0 {
		doc.DynamicConfidence.HistoryWindowDays = defaultHistoryWindowDays
	}
}

// Validate проверяет инварианты документа: все пять классов, диапазоны чисел, корректность вердиктов.
func Validate(doc *Document) error {
	verr := &ValidationError{}

	if strings.TrimSpace(doc.Version) == "" {
		verr.add("version", "is required")
	}

	for tier := range doc.RiskTiers {
		if !tier.Valid() {
			verr.add("risk_tiers."+string(tier), "unknown tier")
		}
	}
	for _, tier := range domain.AllTiers {
		rule, ok := doc.RiskTiers[tier]
		if !ok {
			verr.add("risk_tiers."+string(tier), "tier is missing")
			continue
		}
		if !rule.DefaultVerdict.Valid() {
			verr.add("risk_tiers."+string(tier)+".default_verdict", "invalid verdict %q", rule.DefaultVerdict)
		}

		th, ok := doc.ConfidenceThresholds[tier]
		if !ok {
			verr.add("confidence_thresholds."+string(tier), "threshold is missing")
		} else {
			checkUnit(verr, "confidence_thresholds."+string(tier), th)
		}
	}

	checkUnit(verr, "eas_modulation.max_threshold_reduction", doc.EASModulation.MaxThresholdReduction)
	checkUnit(verr, "eas_modulation.min_eas_for_modulation", doc.EASModulation.MinEASForModulation)
	checkUnit(verr, "dynamic_confidence.max_criticality_increase", doc.DynamicConfidence.MaxCriticalityIncrease)
	checkUnit(verr, "dynamic_confidence.max_history_bonus", doc.DynamicConfidence.MaxHistoryBonus)
	if doc.DynamicConfidence.HistoryWindowDays < 0 {
		verr.add("dynamic_confidence.history_window_days", "must be positive")
	}

	if doc.ScopeLimits.MaxDevices < 0 {
		verr.add("scope_limits.max_devices", "must not be negative")
	}
	if doc.ScopeLimits.EscalateAbove < 0 {
		verr.add("scope_limits.escalate_above", "must not be negative")
	}

	if !doc.DefaultTierForUnknown.Valid() {
		verr.add("default_tier_for_unknown", "invalid tier %q", doc.DefaultTierForUnknown)
	}

	for i, tool := range doc.HardRules.BlockedTools {
		if strings.TrimSpace(tool) == "" {
			verr.add(fmt.Sprintf("hard_rules.blocked_tools[%d]", i), "empty tool name")
		}
	}

	checkRules(verr, "site_rules", doc.SiteRules)
	checkRules(verr, "role_rules", doc.RoleRules)
	checkRules(verr, "tag_rules", doc.TagRules)

	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}

func checkUnit(verr *ValidationError, field string, v float64) {
	if math.IsNaN(v) || v < 0 || v > 1 {
		verr.add(field, "value %v is outside [0,1]", v)
	}
}

func checkRules(verr *ValidationError, field string, rules []ContextRule) {
	for i, r := range rules {
		name := fmt.Sprintf("%s[%d]", field, i)
		if strings.TrimSpace(r.Match) == "" {
			verr.add(name+".match", "is required")
		}
		if !r.Verdict.Valid() {
			verr.add(name+".verdict", "invalid verdict %q", r.Verdict)
		}
	}
}

// Serialize — стабильная сериализация документа (yaml.v3 сортирует ключи map).
func Serialize(doc *Document) string {
	if doc == nil {
		return ""
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return ""
	}
	_ = enc.Close()
	return buf.String()
}
