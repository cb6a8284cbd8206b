// Package executor: физическая доставка действия до устройства.
// Ядро видит только интерфейс Executor; транспорт, устойчивость и лимиты реализованы декораторами.
package executor

import (
	"context"

	"github.com/xela07ax/netops-governor/internal/domain"
)

// Executor выполняет уже авторизованное действие на одном устройстве.
// proof: PERMIT-результат оценки; исполнитель его не перепроверяет, только передает для трассировки.
type Executor interface {
	Execute(ctx context.Context, tool, device string, params map[string]any, proof *domain.EvaluationResult) (*domain.ExecutionResult, error)
	Rollback(ctx context.Context, device string, rollbackData map[string]any) error
}
