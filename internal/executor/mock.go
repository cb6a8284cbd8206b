package executor

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/xela07ax/netops-governor/internal/domain"
)

// Simulator — исполнитель для dev-режима и тестов: ничего не отправляет на устройства.
type Simulator struct {
	// Latency возвращает задержку "выполнения"; nil: 50-300мс.
	Latency      func() time.Duration
	// Fail: устройства, на которых действие завершается неуспехом.
	Fail         map[string]bool
	// Unreachable — устройства, возвращающие ConnectivityError.
	Unreachable  map[string]bool
	// FailRollback: устройства, на которых откат возвращает ошибку.
	FailRollback map[string]bool

	mu        sync.Mutex
	executed  []string
	params    map[string]map[string]any
	rolled    []string
	inFlight  int
	maxFlight int
}

func NewSimulator() *Simulator {
	return &Simulator{Fail: map[string]bool{}, Unreachable: map[string]bool{}, FailRollback: map[string]bool{}}
}

func (s *Simulator) latency() time.Duration {
	if s.Latency != nil {
		return s.Latency()
	}
	return time.Duration(50+rand.IntN(250)) * time.Millisecond
}

func (s *Simulator) Execute(ctx context.Context, tool, device string, params map[string]any, _ *domain.EvaluationResult) (*domain.ExecutionResult, error) {
	s.mu.Lock()
	s.executed = append(s.executed, device)
	if s.params == nil {
		s.params = make(map[string]map[string]any)
	}
	s.params[device] = params
	s.inFlight++
	if s.inFlight > s.maxFlight {
		s.maxFlight = s.inFlight
	}
	fail, unreachable := s.Fail[device], s.Unreachable[device]
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	select {
	case <-time.After(s.latency()):
		// Имитация работы
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if unreachable {
		return nil, &ConnectivityError{Device: device, Cause: fmt.Errorf("ssh: connect timeout")}
	}
	if fail {
		// Изменение применено, но проверка после него не прошла: откатывать есть что
		return &domain.ExecutionResult{
			Success:      false,
			Error:        fmt.Sprintf("%s rejected by %s", tool, device),
			RollbackData: map[string]any{"tool": tool, "params": params},
			ValidationResults: []domain.ValidationResult{
				{Name: "post_change_check", Passed: false, Detail: "simulated failure"},
			},
		}, nil
	}
	return &domain.ExecutionResult{
		Success:      true,
		Output:       fmt.Sprintf("%s applied on %s (simulated)", tool, device),
		RollbackData: map[string]any{"tool": tool, "params": params},
		ValidationResults: []domain.ValidationResult{
			{Name: "post_change_check", Passed: true},
		},
	}, nil
}

func (s *Simulator) Rollback(_ context.Context, device string, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailRollback[device] {
		return fmt.Errorf("%s: rollback rejected (simulated)", device)
	}
	s.rolled = append(s.rolled, device)
	return nil
}

// Executed: устройства в порядке вызова Execute.
func (s *Simulator) Executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.executed...)
}

// ParamsFor: параметры последнего Execute на устройстве.
func (s *Simulator) ParamsFor(device string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params[device]
}

func (s *Simulator) RolledBack() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.rolled...)
}

// MaxInFlight — наибольшее число одновременных вызовов Execute.
func (s *Simulator) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxFlight
}
