package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/netops-governor/internal/domain"
)

type ReliabilityConfig struct {
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
	RetryAttempts uint          `mapstructure:"retry_attempts"`
	RateLimit     float64       `mapstructure:"rate_limit"` // вызовов в секунду
	RateBurst     int           `mapstructure:"rate_burst"`
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBFailures    uint32        `mapstructure:"cb_failures"` // подряд, после которых предохранитель открывается
}

func (c ReliabilityConfig) withDefaults() ReliabilityConfig {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 100
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 20
	}
	if c.CBMaxRequests == 0 {
		c.CBMaxRequests = 3
	}
	if c.CBInterval <= 0 {
		c.CBInterval = 5 * time.Second
	}
	if c.CBTimeout <= 0 {
		c.CBTimeout = 30 * time.Second
	}
	if c.CBFailures == 0 {
		c.CBFailures = 5
	}
	return c
}

// ReliabilityWrapper — декоратор: rate limit -> circuit breaker -> retry с таймаутом на попытку.
type ReliabilityWrapper struct {
	next    Executor
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cfg     ReliabilityConfig
	metrics *Metrics
	logger  *zap.Logger
}

func NewReliabilityWrapper(next Executor, cfg ReliabilityConfig, metrics *Metrics, logger *zap.Logger) *ReliabilityWrapper {
	cfg = cfg.withDefaults()
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	logger = logger.With(zap.String("mod", "executor-reliability"))

	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "device-executor",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.CBFailures
		},
		// Ошибки устройства, не связанные с транспортом, не должны выбивать предохранитель
		IsSuccessful: func(err error) bool {
			return err == nil || !retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &ReliabilityWrapper{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

func (w *ReliabilityWrapper) Execute(ctx context.Context, tool, device string, params map[string]any, proof *domain.EvaluationResult) (*domain.ExecutionResult, error) {
	var out *domain.ExecutionResult
	err := w.call(ctx, "execute", func(callCtx context.Context) error {
		res, err := w.next.Execute(callCtx, tool, device, params, proof)
		out = res
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (w *ReliabilityWrapper) Rollback(ctx context.Context, device string, rollbackData map[string]any) error {
	return w.call(ctx, "rollback", func(callCtx context.Context) error {
		return w.next.Rollback(callCtx, device, rollbackData)
	})
}

func (w *ReliabilityWrapper) call(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()

	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		w.observe(op, start, err)
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.cfg.RetryAttempts),
			retry.LastErrorOnly(true),
			retry.RetryIf(retryable),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если устройство вернуло ThrottleError — ждем сколько попросили
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				// В остальных случаях (сетевой лаг) — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		return nil, r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
			defer cancel()
			return fn(tCtx)
		})
	})

	w.observe(op, start, err)
	return err
}

func (w *ReliabilityWrapper) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		w.metrics.ErrorTotal.WithLabelValues(classify(err)).Inc()
	}
	w.metrics.CallDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

func classify(err error) string {
	var conn *ConnectivityError
	var thr *ThrottleError
	var busy *DeviceBusyError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_open"
	case errors.As(err, &conn):
		return "connectivity"
	case errors.As(err, &thr):
		return "throttle"
	case errors.As(err, &busy):
		return "busy"
	}
	return "other"
}
