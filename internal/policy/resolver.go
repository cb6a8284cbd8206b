package policy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/xela07ax/netops-governor/internal/domain"
)

// RuleKind: закрытый набор вариантов правил. Новый вариант добавляется только явно,
// вместе с веткой в matchValue.
type RuleKind int

const (
	KindSite RuleKind = iota
	KindRole
	KindTag
	KindTool
)

func (k RuleKind) String() string {
	switch k {
	case KindSite:
		return "site"
	case KindRole:
		return "role"
	case KindTag:
		return "tag"
	case KindTool:
		return "tool"
	}
	return "unknown"
}

// basePriority: tag=2 > role=1 > site=0; tool-override самый специфичный.
func (k RuleKind) basePriority() int {
	switch k {
	case KindSite:
		return 0
	case KindRole:
		return 1
	case KindTag:
		return 2
	case KindTool:
		return 3
	}
	return 0
}

const (
	// AgentPriorityBoost — агентские правила рассматриваются раньше глобальных того же вида.
	AgentPriorityBoost = 10
	// FailSafePriority: синтетический BLOCK при ошибке вычисления правил перекрывает всё.
	FailSafePriority  = 99
	maxAgentPriority  = FailSafePriority - 1
	ReasonEvalFailure = "evaluation failed — failing safe"
)

// Match — сработавшее правило.
type Match struct {
	Kind     RuleKind
	Source   string // "global", "agent", "restriction", "fail_safe"
	Value    string
	Verdict  domain.Verdict
	Priority int
	Reason   string
}

func (m Match) Descriptor() domain.MatchedRule {
	source := m.Source
	switch m.Source {
	case "global":
		source = m.Kind.String()
	case "agent":
		source = "override:" + m.Kind.String()
	}
	return domain.MatchedRule{Source: source, Value: m.Value, Verdict: m.Verdict, Priority: m.Priority, Reason: m.Reason}
}

// RuleContext: факты о целевых устройствах, извлеченные из контекста запроса.
type RuleContext struct {
	Site string
	Role string
	Tags []string
	Tool string
	Tier domain.RiskTier
}

// ContextFromRequest разбирает недоверенный контекст. Неверный тип значения дает ошибку,
// которую вызывающий превращает в fail-safe BLOCK.
func ContextFromRequest(tool string, tier domain.RiskTier, ctx map[string]any) (RuleContext, error) {
	rc := RuleContext{Tool: normalizeTool(tool), Tier: tier}
	var err error
	if rc.Site, err = stringValue(ctx, domain.ContextSite); err != nil {
		return rc, err
	}
	if rc.Role, err = stringValue(ctx, domain.ContextDeviceRole); err != nil {
		return rc, err
	}
	raw, ok := ctx[domain.ContextDeviceTags]
	if !ok || raw == nil {
		return rc, nil
	}
	switch tags := raw.(type) {
	case []string:
		rc.Tags = tags
	case []any:
		for _, t := range tags {
			s, ok := t.(string)
			if !ok {
				return rc, fmt.Errorf("context: %s contains non-string value %v", domain.ContextDeviceTags, t)
			}
			rc.Tags = append(rc.Tags, s)
		}
	case string:
		for _, t := range strings.Split(tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				rc.Tags = append(rc.Tags, t)
			}
		}
	default:
		return rc, fmt.Errorf("context: %s has unsupported type %T", domain.ContextDeviceTags, raw)
	}
	return rc, nil
}

func stringValue(ctx map[string]any, key string) (string, error) {
	raw, ok := ctx[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("context: %s has unsupported type %T", key, raw)
	}
	return s, nil
}

// matchValue — единственный switch по вариантам правил.
func matchValue(kind RuleKind, value string, rc RuleContext) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	switch kind {
	case KindSite:
		return value != "" && value == strings.ToLower(strings.TrimSpace(rc.Site))
	case KindRole:
		return value != "" && value == strings.ToLower(strings.TrimSpace(rc.Role))
	case KindTag:
		for _, tag := range rc.Tags {
			if value != "" && value == strings.ToLower(strings.TrimSpace(tag)) {
				return true
			}
		}
		return false
	case KindTool:
		return value != "" && value == rc.Tool
	}
	return false
}

// appliesTo: "all": всегда; "write": любой класс кроме read; иначе точное имя инструмента.
func appliesTo(filter string, rc RuleContext) bool {
	filter = strings.ToLower(strings.TrimSpace(filter))
	switch filter {
	case "", AppliesToAll:
		return true
	case AppliesToWrite:
		return rc.Tier.IsWrite()
	default:
		return filter == rc.Tool
	}
}

// EvaluateGlobal собирает совпадения site/role/tag правил документа.
func EvaluateGlobal(doc *Document, rc RuleContext) []Match {
	var matches []Match
	groups := []struct {
		kind  RuleKind
		rules []ContextRule
	}{
		{KindSite, doc.SiteRules},
		{KindRole, doc.RoleRules},
		{KindTag, doc.TagRules},
	}
	for _, g := range groups {
		for _, r := range g.rules {
			if !matchValue(g.kind, r.Match, rc) || !appliesTo(r.AppliesTo, rc) {
				continue
			}
			matches = append(matches, Match{
				Kind:     g.kind,
				Source:   "global",
				Value:    r.Match,
				Verdict:  r.Verdict,
				Priority: g.kind.basePriority(),
				Reason:   r.Reason,
			})
		}
	}
	return matches
}

// OverrideRule: полезная нагрузка AgentPolicyOverride.Rule.
type OverrideRule struct {
	Value     string `json:"value"`
	Verdict   string `json:"verdict"`
	AppliesTo string `json:"applies_to"`
	Reason    string `json:"reason"`
}

func overrideKind(t domain.OverrideRuleType) (RuleKind, error) {
	switch t {
	case domain.OverrideSite:
		return KindSite, nil
	case domain.OverrideRole:
		return KindRole, nil
	case domain.OverrideTag:
		return KindTag, nil
	case domain.OverrideTool:
		return KindTool, nil
	}
	return 0, fmt.Errorf("override: unknown rule type %q", t)
}

// EvaluateOverrides вычисляет агентские правила. Любая битая запись ломает всю группу:
// частично прочитанный набор ограничений нельзя считать полным.
func EvaluateOverrides(overrides []domain.AgentPolicyOverride, rc RuleContext) ([]Match, error) {
	var matches []Match
	for _, o := range overrides {
		if !o.Active {
			continue
		}
		kind, err := overrideKind(o.RuleType)
		if err != nil {
			return nil, err
		}
		var rule OverrideRule
		if err := json.Unmarshal(o.Rule, &rule); err != nil {
			return nil, fmt.Errorf("override %s: decode rule: %w", o.ID, err)
		}
		verdict, err := domain.ParseVerdict(rule.Verdict)
		if err != nil {
			return nil, fmt.Errorf("override %s: %w", o.ID, err)
		}
		if !matchValue(kind, rule.Value, rc) || !appliesTo(rule.AppliesTo, rc) {
			continue
		}
		priority := kind.basePriority() + o.Priority + AgentPriorityBoost
		if priority > maxAgentPriority {
			priority = maxAgentPriority
		}
		reason := rule.Reason
		if reason == "" {
			reason = fmt.Sprintf("agent override (%s=%s)", kind, rule.Value)
		}
		matches = append(matches, Match{
			Kind:     kind,
			Source:   "agent",
			Value:    rule.Value,
			Verdict:  verdict,
			Priority: priority,
			Reason:   reason,
		})
	}
	return matches, nil
}

// FailSafeMatch — единая точка отображения "ошибка вычисления правил" в самый строгий исход.
func FailSafeMatch(err error) Match {
	return Match{
		Source:   "fail_safe",
		Value:    err.Error(),
		Verdict:  domain.VerdictBlock,
		Priority: FailSafePriority,
		Reason:   ReasonEvalFailure,
	}
}

// Rank сортирует по приоритету (desc), затем по строгости (desc).
func Rank(matches []Match) []Match {
	ranked := make([]Match, len(matches))
	copy(ranked, matches)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Priority != ranked[j].Priority {
			return ranked[i].Priority > ranked[j].Priority
		}
		return ranked[i].Verdict.Severity() > ranked[j].Verdict.Severity()
	})
	return ranked
}

// Resolution: итог этапа контекстных правил.
type Resolution struct {
	Verdict domain.Verdict
	Reason  string
	Winner  *Match
	Matches []Match
}

// ruleSet — результат вычисления группы правил: либо совпадения, либо ошибка.
type ruleSet struct {
	matches []Match
	err     error
}

// guarded выполняет вычисление группы и переводит панику в ошибку.
func guarded(fn func() ([]Match, error)) (rs ruleSet) {
	defer func() {
		if r := recover(); r != nil {
			rs = ruleSet{err: fmt.Errorf("rule evaluation panic: %v", r)}
		}
	}()
	m, err := fn()
	return ruleSet{matches: m, err: err}
}

func (rs ruleSet) collapse() []Match {
	if rs.err != nil {
		return []Match{FailSafeMatch(rs.err)}
	}
	return rs.matches
}

// Resolve вычисляет глобальные и агентские правила независимо и объединяет их через MergeVerdicts.
// agentExtra: дополнительные агентские совпадения (kill-switch, карантин, ошибка чтения overrides).
func Resolve(doc *Document, rc RuleContext, overrides []domain.AgentPolicyOverride, agentExtra ...Match) Resolution {
	global := guarded(func() ([]Match, error) { return EvaluateGlobal(doc, rc), nil }).collapse()
	agent := guarded(func() ([]Match, error) { return EvaluateOverrides(overrides, rc) }).collapse()
	agent = append(agent, agentExtra...)

	gWin := top(global)
	aWin := top(agent)

	res := Resolution{Verdict: domain.VerdictPermit}
	res.Matches = append(Rank(agent), Rank(global)...)

	gVerdict, aVerdict := domain.VerdictPermit, domain.VerdictPermit
	if gWin != nil {
		gVerdict = gWin.Verdict
	}
	if aWin != nil {
		aVerdict = aWin.Verdict
	}
	res.Verdict = domain.MergeVerdicts(gVerdict, aVerdict)

	// Причина берется у того, кто определил итоговый вердикт; при равной строгости побеждает агентское правило.
	switch {
	case aWin != nil && aVerdict == res.Verdict:
		res.Winner = aWin
	case gWin != nil:
		res.Winner = gWin
	case aWin != nil:
		res.Winner = aWin
	}
	if res.Winner != nil {
		res.Reason = res.Winner.Reason
	}
	return res
}

func top(matches []Match) *Match {
	if len(matches) == 0 {
		return nil
	}
	ranked := Rank(matches)
	return &ranked[0]
}
