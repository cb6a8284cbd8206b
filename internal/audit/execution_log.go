package audit

/*
Файл execution_log.go реализует журнал выполнения batch-операций на устройствах.

Журнал решений (audit_log) пишется синхронно внутри транзакции Evaluate и здесь не участвует.
ExecutionLog — отдельный поток данных для отчета о репутации агента:
- Non-blocking: Record не ждет БД; при переполнении буфера запись отбрасывается с логом.
- Batching: накопление в памяти и пакетная запись по таймеру или при достижении лимита.
- Drain Pattern: Stop закрывает вход, воркер вычитывает остаток и делает финальный flush.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xela07ax/netops-governor/internal/domain"
)

// Storage определяет, куда физически сохраняются записи.
type Storage interface {
	WriteExecutions(ctx context.Context, records []domain.ExecutionRecord) error
}

type Config struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type ExecutionLog struct {
	ch     chan domain.ExecutionRecord
	repo   Storage
	cfg    Config
	fill   prometheus.Gauge
	logger *zap.Logger
	wg     sync.WaitGroup
	closed atomic.Bool
	// mu защищает отправку от гонки с close(ch)
	mu     sync.RWMutex
}

// NewExecutionLog: fill это необязательный gauge заполненности буфера.
func NewExecutionLog(repo Storage, cfg Config, fill prometheus.Gauge, logger *zap.Logger) *ExecutionLog {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	return &ExecutionLog{
		ch:     make(chan domain.ExecutionRecord, cfg.BufferSize),
		repo:   repo,
		cfg:    cfg,
		fill:   fill,
		logger: logger.With(zap.String("mod", "execution-log")),
	}
}

func (l *ExecutionLog) Start() {
	l.wg.Add(1)
	go l.worker()
}

// Stop «запирает» вход и ждет, пока воркер всё допишет.
func (l *ExecutionLog) Stop() {
	if l.closed.Swap(true) {
		return
	}
	l.logger.Info("stopping execution log: closing channel and flushing buffer...")
	l.mu.Lock()
	close(l.ch)
	l.mu.Unlock()
	l.wg.Wait()
	l.logger.Info("execution log stopped gracefully")
}

func (l *ExecutionLog) Record(records ...domain.ExecutionRecord) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed.Load() {
		l.logger.Warn("execution records dropped: log is stopping", zap.Int("count", len(records)))
		return
	}

	for _, r := range records {
		if r.Timestamp.IsZero() {
			r.Timestamp = time.Now()
		}
		// Load Shedding: журнал выполнения не должен тормозить batch
		select {
		case l.ch <- r:
		default:
			l.logger.Error("execution_log_buffer_overflow",
				zap.String("batch_id", r.BatchID),
				zap.String("device", r.Device))
		}
	}
	if l.fill != nil {
		l.fill.Set(float64(len(l.ch)))
	}
}

func (l *ExecutionLog) worker() {
	defer l.wg.Done()

	batch := make([]domain.ExecutionRecord, 0, l.cfg.BatchSize)
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст при остановке может быть уже закрыт
		if err := l.repo.WriteExecutions(context.Background(), batch); err != nil {
			l.logger.Error("execution log flush failed", zap.Int("count", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		if l.fill != nil {
			l.fill.Set(float64(len(l.ch)))
		}
	}

	for {
		select {
		case r, ok := <-l.ch:
			if !ok {
				flush() // Финальный сброс
				l.logger.Info("execution log worker finished")
				return
			}
			batch = append(batch, r)
			if len(batch) >= l.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
