package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xela07ax/netops-governor/internal/domain"
	"github.com/xela07ax/netops-governor/internal/executor"
)

var (
	ErrProofRequired = errors.New("batch: a PERMIT evaluation result is required")
	ErrToolMismatch  = errors.New("batch: item tool differs from the evaluated tool")
	ErrScopeExceeded = errors.New("batch: more devices than the evaluation authorized")

	// ErrParametersMismatch: у элемента свои параметры, отличные от оцененных.
	ErrParametersMismatch = errors.New("batch: item parameters differ from the evaluated parameters")
)

// Recorder принимает результаты по устройствам (асинхронный журнал выполнения).
type Recorder interface {
	Record(records ...domain.ExecutionRecord)
}

type Config struct {
	MaxParallel       int  `mapstructure:"max_parallel"`
	RollbackOnFailure bool `mapstructure:"rollback_on_failure"`
}

// Options: параметры одного вызова.
type Options struct {
	RollbackOnFailure bool
	// FailFast: после стадии с отказом следующие стадии не запускаются.
	FailFast          bool
}

type Orchestrator struct {
	exec        executor.Executor
	maxParallel int64
	recorder    Recorder
	metrics     *Metrics
	logger      *zap.Logger
}

func NewOrchestrator(exec executor.Executor, cfg Config, recorder Recorder, metrics *Metrics, logger *zap.Logger) *Orchestrator {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 5
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Orchestrator{
		exec:        exec,
		maxParallel: int64(cfg.MaxParallel),
		recorder:    recorder,
		metrics:     metrics,
		logger:      logger.Named("batch"),
	}
}

// checkProof: батч выполняет только то, что уже разрешено. Собственной авторизации здесь нет.
func checkProof(items []domain.BatchItem, proof *domain.EvaluationResult) error {
	if proof == nil || proof.Verdict != domain.VerdictPermit {
		return ErrProofRequired
	}
	tool := normalize(proof.ToolName)
	for _, it := range items {
		if normalize(it.ToolName) != tool {
			return fmt.Errorf("%w: %s on %s (authorized %s)", ErrToolMismatch, it.ToolName, it.DeviceTarget, proof.ToolName)
		}
	}
	if proof.DeviceCount > 0 && len(items) > proof.DeviceCount {
		return fmt.Errorf("%w: %d items, %d authorized", ErrScopeExceeded, len(items), proof.DeviceCount)
	}
	return nil
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// ExecuteBatch выполняет стадии строго по очереди; внутри стадии параллельно,
// но не больше maxParallel одновременно. Структурные ошибки возвращаются до любого выполнения.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, items []domain.BatchItem, proof *domain.EvaluationResult, opts Options) (*domain.BatchResult, error) {
	if err := checkProof(items, proof); err != nil {
		return nil, err
	}
	stages, err := BuildExecutionOrder(items)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	batchID := uuid.NewString()
	log := o.logger.With(zap.String("batch_id", batchID), zap.String("tool", proof.ToolName))
	for dev, deps := range UnknownDependencies(items) {
		log.Warn("dependency outside batch ignored", zap.String("device", dev), zap.Strings("depends_on", deps))
	}

	res := &domain.BatchResult{
		BatchID: batchID,
		Stages:  make([][]string, len(stages)),
		Results: make(map[string]*domain.DeviceResult, len(items)),
	}
	for i, stage := range stages {
		for _, it := range stage {
			res.Stages[i] = append(res.Stages[i], it.DeviceTarget)
		}
	}

	gate := semaphore.NewWeighted(o.maxParallel)
	failed := make(map[string]bool)
	var mu sync.Mutex

	for i, stage := range stages {
		if opts.FailFast && len(failed) > 0 {
			for _, it := range stage {
				res.Results[it.DeviceTarget] = skipped(it.DeviceTarget, "batch aborted after a failed stage")
				failed[it.DeviceTarget] = true
			}
			continue
		}

		var wg sync.WaitGroup
		for _, it := range stage {
			if dep, ok := failedDependency(it, failed); ok {
				// Отказ распространяется вперед транзитивно: пропущенный сам считается упавшим
				mu.Lock()
				res.Results[it.DeviceTarget] = skipped(it.DeviceTarget, fmt.Sprintf("dependency %s failed", dep))
				mu.Unlock()
				continue
			}
			if err := gate.Acquire(ctx, 1); err != nil {
				mu.Lock()
				res.Results[it.DeviceTarget] = &domain.DeviceResult{Device: it.DeviceTarget, Error: err.Error()}
				mu.Unlock()
				continue
			}
			o.metrics.InFlight.Inc()
			wg.Add(1)
			go func(it domain.BatchItem) {
				defer wg.Done()
				defer func() {
					o.metrics.InFlight.Dec()
					gate.Release(1)
				}()
				dr := o.run(ctx, it, proof)
				mu.Lock()
				res.Results[it.DeviceTarget] = dr
				mu.Unlock()
			}(it)
		}
		wg.Wait()

		for _, it := range stage {
			if !res.Results[it.DeviceTarget].Success {
				failed[it.DeviceTarget] = true
			}
		}
		log.Debug("stage finished", zap.Int("stage", i), zap.Int("items", len(stage)), zap.Int("failed_total", len(failed)))
	}

	if opts.RollbackOnFailure && len(failed) > 0 {
		o.cascadeRollback(ctx, log, items, failed, res)
	}

	res.Elapsed = time.Since(start)
	tally(res)
	o.metrics.BatchDuration.Observe(res.Elapsed.Seconds())
	o.observe(res)
	o.record(res, proof)

	log.Info("batch finished",
		zap.Int("total", res.Total),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("rolled_back", res.RolledBack),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

func failedDependency(it domain.BatchItem, failed map[string]bool) (string, bool) {
	for _, dep := range it.DependsOn {
		if failed[dep] {
			return dep, true
		}
	}
	return "", false
}

func skipped(device, reason string) *domain.DeviceResult {
	return &domain.DeviceResult{Device: device, Skipped: true, Error: reason}
}

// run выполняет один элемент. Любая ошибка исполнителя считается отказом устройства, причина не важна.
func (o *Orchestrator) run(ctx context.Context, it domain.BatchItem, proof *domain.EvaluationResult) *domain.DeviceResult {
	start := time.Now()
	dr := &domain.DeviceResult{Device: it.DeviceTarget, Executed: true}

	out, err := o.exec.Execute(ctx, it.ToolName, it.DeviceTarget, it.Parameters, proof)
	dr.Duration = time.Since(start)
	if err != nil {
		dr.Error = err.Error()
		o.logger.Warn("device execution failed", zap.String("device", it.DeviceTarget), zap.Error(err))
		return dr
	}

	dr.Success = out.Success
	dr.Output = out.Output
	dr.Error = out.Error
	dr.ValidationResults = out.ValidationResults
	dr.RollbackData = out.RollbackData
	for _, v := range out.ValidationResults {
		if !v.Passed {
			dr.Success = false
			if dr.Error == "" {
				dr.Error = "post-change validation failed: " + v.Name
			}
		}
	}
	return dr
}

// cascadeRollback разделяет два случая. Упавшее устройство, на котором изменение успело
// примениться (исполнитель вернул rollback data), откатывается через исполнителя.
// Зависимые от упавших устройства к этому моменту пропущены и ничего не меняли:
// они только помечаются откатом.
func (o *Orchestrator) cascadeRollback(ctx context.Context, log *zap.Logger, items []domain.BatchItem, failed map[string]bool, res *domain.BatchResult) {
	var reverted []string
	for _, dev := range sortedKeys(failed) {
		dr := res.Results[dev]
		if dr == nil || !dr.Executed || dr.RollbackData == nil {
			continue
		}
		if err := o.exec.Rollback(ctx, dev, dr.RollbackData); err != nil {
			log.Error("device rollback failed", zap.String("device", dev), zap.Error(err))
			dr.Error = strings.TrimPrefix(dr.Error+"; rollback failed: "+err.Error(), "; ")
			continue
		}
		dr.RolledBack = true
		reverted = append(reverted, dev)
	}

	closure := dependentsClosure(items, failed)
	marked := sortedKeys(closure)
	for _, dev := range marked {
		if dr := res.Results[dev]; dr != nil {
			dr.RolledBack = true
		}
	}
	log.Warn("cascade rollback",
		zap.Strings("reverted", reverted),
		zap.Strings("marked", marked),
		zap.Int("failed", len(failed)))
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func tally(res *domain.BatchResult) {
	res.Total = len(res.Results)
	for _, dr := range res.Results {
		if dr.Success {
			res.Succeeded++
		} else {
			res.Failed++
		}
		if dr.RolledBack {
			res.RolledBack++
		}
	}
}

func (o *Orchestrator) observe(res *domain.BatchResult) {
	for _, dr := range res.Results {
		switch {
		case dr.Skipped:
			o.metrics.DeviceOutcomes.WithLabelValues("skipped").Inc()
		case dr.Success:
			o.metrics.DeviceOutcomes.WithLabelValues("success").Inc()
		default:
			o.metrics.DeviceOutcomes.WithLabelValues("failed").Inc()
		}
		if dr.RolledBack {
			o.metrics.DeviceOutcomes.WithLabelValues("rolled_back").Inc()
		}
	}
}

func (o *Orchestrator) record(res *domain.BatchResult, proof *domain.EvaluationResult) {
	if o.recorder == nil {
		return
	}
	now := time.Now()
	records := make([]domain.ExecutionRecord, 0, len(res.Results))
	for _, dr := range res.Results {
		records = append(records, domain.ExecutionRecord{
			ID:         uuid.NewString(),
			BatchID:    res.BatchID,
			AgentID:    proof.AgentID,
			Device:     dr.Device,
			ToolName:   proof.ToolName,
			Success:    dr.Success,
			RolledBack: dr.RolledBack,
			Error:      dr.Error,
			DurationMs: dr.Duration.Milliseconds(),
			Timestamp:  now,
		})
	}
	o.recorder.Record(records...)
}
