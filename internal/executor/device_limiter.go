package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/xela07ax/netops-governor/internal/domain"
)

// DeviceLimiter ограничивает число одновременных операций на одно устройство.
// Лишние вызовы ждут в очереди не дольше queueTimeout, затем получают DeviceBusyError.
type DeviceLimiter struct {
	next         Executor
	perDevice    int64
	queueTimeout time.Duration

	mu    sync.Mutex
	slots map[string]*semaphore.Weighted
}

func NewDeviceLimiter(next Executor, perDevice int, queueTimeout time.Duration) *DeviceLimiter {
	if perDevice <= 0 {
		perDevice = 1
	}
	if queueTimeout <= 0 {
		queueTimeout = 30 * time.Second
	}
	return &DeviceLimiter{
		next:         next,
		perDevice:    int64(perDevice),
		queueTimeout: queueTimeout,
		slots:        make(map[string]*semaphore.Weighted),
	}
}

func (l *DeviceLimiter) slot(device string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[device]
	if !ok {
		s = semaphore.NewWeighted(l.perDevice)
		l.slots[device] = s
	}
	return s
}

func (l *DeviceLimiter) acquire(ctx context.Context, device string) (func(), error) {
	s := l.slot(device)
	waitCtx, cancel := context.WithTimeout(ctx, l.queueTimeout)
	defer cancel()
	if err := s.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, &DeviceBusyError{Device: device, Waited: l.queueTimeout}
		}
		return nil, err
	}
	return func() { s.Release(1) }, nil
}

func (l *DeviceLimiter) Execute(ctx context.Context, tool, device string, params map[string]any, proof *domain.EvaluationResult) (*domain.ExecutionResult, error) {
	release, err := l.acquire(ctx, device)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.Execute(ctx, tool, device, params, proof)
}

func (l *DeviceLimiter) Rollback(ctx context.Context, device string, rollbackData map[string]any) error {
	release, err := l.acquire(ctx, device)
	if err != nil {
		return err
	}
	defer release()
	return l.next.Rollback(ctx, device, rollbackData)
}
