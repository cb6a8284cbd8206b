package domain

import (
	"fmt"
	"strings"
)

// Verdict — решение движка по одному действию агента.
type Verdict string

const (
	VerdictPermit   Verdict = "PERMIT"   // Выполнить без участия человека
	VerdictEscalate Verdict = "ESCALATE" // Требуется подтверждение оператора (HITL)
	VerdictBlock    Verdict = "BLOCK"    // Запрещено
)

// Severity упорядочивает вердикты по строгости: BLOCK > ESCALATE > PERMIT.
// Неизвестное значение считается самым строгим (Zero Trust).
func (v Verdict) Severity() int {
	switch v {
	case VerdictPermit:
		return 0
	case VerdictEscalate:
		return 1
	default:
		return 2
	}
}

func (v Verdict) Valid() bool {
	switch v {
	case VerdictPermit, VerdictEscalate, VerdictBlock:
		return true
	}
	return false
}

// ParseVerdict нормализует строку из YAML/JSON в Verdict.
func ParseVerdict(s string) (Verdict, error) {
	v := Verdict(strings.ToUpper(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("unknown verdict %q", s)
	}
	return v, nil
}

// MergeVerdicts возвращает более строгий из двух вердиктов.
// Агентский override может только ужесточить глобальное решение, но никогда не ослабить его.
func MergeVerdicts(global, agent Verdict) Verdict {
	if agent.Severity() > global.Severity() {
		return agent
	}
	return global
}
