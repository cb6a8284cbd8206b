package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/netops-governor/internal/domain"
	"github.com/xela07ax/netops-governor/internal/policy"
	"github.com/xela07ax/netops-governor/internal/reputation"
	"github.com/xela07ax/netops-governor/internal/store"
)

const (
	ReasonAuditFailure = "audit write failed — failing safe"
	ReasonNoPolicy     = "no active policy — failing safe"
)

var ErrNoActivePolicy = errors.New("engine: no active policy")

// Enricher дополняет контекст запроса фактами об устройствах (inventory).
// Ошибка не прерывает оценку: движок продолжает с максимально строгими значениями.
type Enricher interface {
	Enrich(ctx context.Context, req domain.EvaluationRequest) (map[string]any, error)
}

// OverrideSource: чтение активных агентских overrides (кэш или хранилище).
type OverrideSource interface {
	ListActiveOverrides(ctx context.Context, agentID string) ([]domain.AgentPolicyOverride, error)
}

// PolicyPublisher оповещает другие инстансы о новой активной версии.
type PolicyPublisher interface {
	PublishPolicyVersion(ctx context.Context, versionID string) error
}

type Config struct {
	// AgentScope — агент, к которому относится EAS этого инстанса (для истории EAS).
	AgentScope    string
	InitialEAS    float64
	// HistoryWindow перекрывает dynamic_confidence.history_window_days, если задан.
	HistoryWindow time.Duration
}

type activePolicy struct {
	loaded    *policy.Loaded
	versionID string
}

// Engine: Policy Decision Engine. Evaluate не берет блокировок: активная политика и EAS
// читаются атомарно, reload/rollback подменяют указатель целиком.
type Engine struct {
	store        store.Store
	overrides    OverrideSource
	enricher     Enricher
	restrictions []RestrictionSource
	publisher    PolicyPublisher
	metrics      *Metrics
	logger       *zap.Logger
	clock        func() time.Time

	cfg Config

	active   atomic.Pointer[activePolicy]
	easBits  atomic.Uint64
	reloadMu sync.Mutex
}

type Option func(*Engine)

func WithEnricher(en Enricher) Option { return func(e *Engine) { e.enricher = en } }

func WithOverrides(src OverrideSource) Option { return func(e *Engine) { e.overrides = src } }

func WithRestrictions(src ...RestrictionSource) Option {
	return func(e *Engine) { e.restrictions = append(e.restrictions, src...) }
}

func WithPublisher(p PolicyPublisher) Option { return func(e *Engine) { e.publisher = p } }

func WithMetrics(m *Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithClock(clock func() time.Time) Option { return func(e *Engine) { e.clock = clock } }

func New(cfg Config, st store.Store, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if err := checkEAS(cfg.InitialEAS); err != nil {
		return nil, fmt.Errorf("engine: initial eas: %w", err)
	}
	e := &Engine{
		store:     st,
		overrides: st,
		logger:    logger.Named("engine"),
		clock:     time.Now,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	e.easBits.Store(math.Float64bits(cfg.InitialEAS))
	e.metrics.EAS.Set(cfg.InitialEAS)
	return e, nil
}

// Evaluate — единственная точка принятия решения. Любой путь выхода проходит через finalize.
func (e *Engine) Evaluate(ctx context.Context, req domain.EvaluationRequest) *domain.EvaluationResult {
	start := e.clock()
	eas := e.GetEAS()
	ap := e.active.Load()

	var res *domain.EvaluationResult
	if ap == nil {
		res = newResult(req)
		res.Verdict = domain.VerdictBlock
		res.Reason = ReasonNoPolicy
		res.RiskTier = domain.TierCritical
		e.metrics.FailSafeTotal.WithLabelValues("no_policy").Inc()
	} else {
		res = e.decideGuarded(ctx, ap.loaded.Document, req, eas)
		res.PolicyVersion = ap.loaded.Document.Version
	}

	res = e.finalize(ctx, req, res, eas)

	e.metrics.Verdicts.WithLabelValues(string(res.RiskTier), string(res.Verdict)).Inc()
	e.metrics.EvaluationDuration.WithLabelValues(string(res.Verdict)).Observe(time.Since(start).Seconds())
	e.logger.Debug("verdict",
		zap.String("agent_id", req.AgentID),
		zap.String("tool", req.ToolName),
		zap.String("tier", string(res.RiskTier)),
		zap.String("verdict", string(res.Verdict)),
		zap.Float64("confidence", res.ConfidenceScore),
		zap.Float64("threshold", res.Threshold),
		zap.String("reason", res.Reason))
	return res
}

func newResult(req domain.EvaluationRequest) *domain.EvaluationResult {
	return &domain.EvaluationResult{
		ToolName:        req.ToolName,
		ConfidenceScore: req.ConfidenceScore,
		DeviceCount:     len(req.DeviceTargets),
		AgentID:         req.AgentID,
		MatchedRules:    []domain.MatchedRule{},
	}
}

// decideGuarded превращает панику в логике решения в BLOCK.
func (e *Engine) decideGuarded(ctx context.Context, doc *policy.Document, req domain.EvaluationRequest, eas float64) (res *domain.EvaluationResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("evaluation panic, failing safe", zap.Any("panic", r), zap.String("tool", req.ToolName))
			e.metrics.FailSafeTotal.WithLabelValues("panic").Inc()
			m := policy.FailSafeMatch(fmt.Errorf("panic: %v", r))
			res = newResult(req)
			res.RiskTier = domain.TierCritical
			res.Verdict = m.Verdict
			res.Reason = m.Reason
			res.MatchedRules = append(res.MatchedRules, m.Descriptor())
		}
	}()
	return e.decide(ctx, doc, req, eas)
}

// decide: конвейер с ранним выходом на каждом этапе.
func (e *Engine) decide(ctx context.Context, doc *policy.Document, req domain.EvaluationRequest, eas float64) *domain.EvaluationResult {
	res := newResult(req)

	if err := req.Validate(); err != nil {
		res.RiskTier = doc.DefaultTierForUnknown
		res.Verdict = domain.VerdictBlock
		res.Reason = err.Error()
		return res
	}

	// 1. Hard block: раньше классификации, ничем не разблокируется
	if doc.IsHardBlocked(req.ToolName) {
		res.RiskTier = doc.Classify(req.ToolName)
		res.Verdict = domain.VerdictBlock
		res.Reason = policy.ReasonHardBlocked
		res.RequiresAudit = true
		res.RequiresSeniorApproval = true
		res.MatchedRules = append(res.MatchedRules, domain.MatchedRule{
			Source:   "hard_rule",
			Value:    req.ToolName,
			Verdict:  domain.VerdictBlock,
			Priority: policy.FailSafePriority,
			Reason:   policy.ReasonHardBlocked,
		})
		return res
	}

	// 2. Классификация
	tier := doc.Classify(req.ToolName)
	rule := doc.TierRule(tier)
	res.RiskTier = tier
	res.RequiresAudit = rule.RequiresAudit
	res.RequiresSeniorApproval = rule.RequiresSeniorApproval

	// 3. Порог уверенности
	facts, enrichErr := e.enrich(ctx, req)
	criticality := deviceCriticality(facts, enrichErr)
	res.Threshold = policy.EffectiveThreshold(tier, doc, eas, criticality, e.historyFactor(ctx, doc, req.AgentID))

	// 4. Контекстные и агентские правила
	var extra []policy.Match
	rc, err := policy.ContextFromRequest(req.ToolName, tier, facts)
	if err != nil {
		extra = append(extra, policy.FailSafeMatch(err))
	}
	for _, src := range e.restrictions {
		extra = append(extra, src.Matches(req.AgentID)...)
	}
	var overrides []domain.AgentPolicyOverride
	if req.AgentID != "" && e.overrides != nil {
		if overrides, err = e.overrides.ListActiveOverrides(ctx, req.AgentID); err != nil {
			e.logger.Error("override read failed, failing safe", zap.String("agent_id", req.AgentID), zap.Error(err))
			extra = append(extra, policy.FailSafeMatch(fmt.Errorf("overrides: %w", err)))
		}
	}

	resolution := policy.Resolve(doc, rc, overrides, extra...)
	for _, m := range resolution.Matches {
		res.MatchedRules = append(res.MatchedRules, m.Descriptor())
	}
	if resolution.Verdict != domain.VerdictPermit {
		res.Verdict = resolution.Verdict
		res.Reason = resolution.Reason
		return res
	}

	// 5. Scope
	if verdict, reason, hit := doc.CheckScope(len(req.DeviceTargets)); hit {
		res.Verdict = verdict
		res.Reason = reason
		return res
	}

	// 6. Уверенность агента
	if req.ConfidenceScore < res.Threshold {
		res.Verdict = domain.VerdictEscalate
		res.Reason = fmt.Sprintf("confidence %.4f below threshold %.4f for tier %s (gap %.4f)",
			req.ConfidenceScore, res.Threshold, tier, res.Threshold-req.ConfidenceScore)
		return res
	}

	// 7. Вердикт класса по умолчанию
	res.Verdict = rule.DefaultVerdict
	res.Reason = fmt.Sprintf("tier %s default verdict", tier)
	return res
}

// enrich объединяет контекст запроса с данными inventory; данные inventory перекрывают контекст запроса.
func (e *Engine) enrich(ctx context.Context, req domain.EvaluationRequest) (map[string]any, error) {
	facts := make(map[string]any, len(req.Context)+4)
	for k, v := range req.Context {
		facts[k] = v
	}
	if e.enricher == nil {
		return facts, nil
	}
	extra, err := e.enricher.Enrich(ctx, req)
	if err != nil {
		e.logger.Warn("enrichment unavailable, using conservative defaults", zap.String("tool", req.ToolName), zap.Error(err))
		return facts, err
	}
	for k, v := range extra {
		facts[k] = v
	}
	return facts, nil
}

// deviceCriticality: нет ключа дает 0; недоступное обогащение или неразборчивое значение дает 1.
func deviceCriticality(facts map[string]any, enrichErr error) float64 {
	if enrichErr != nil {
		return 1
	}
	raw, ok := facts[domain.ContextDeviceCriticality]
	if !ok || raw == nil {
		return 0
	}
	switch v := raw.(type) {
	case float64:
		return policy.Clamp(v)
	case float32:
		return policy.Clamp(float64(v))
	case int:
		return policy.Clamp(float64(v))
	case int64:
		return policy.Clamp(float64(v))
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 1
		}
		return policy.Clamp(f)
	}
	return 1
}

func (e *Engine) historyFactor(ctx context.Context, doc *policy.Document, agentID string) float64 {
	if agentID == "" {
		return 0
	}
	window := e.cfg.HistoryWindow
	if window <= 0 {
		window = time.Duration(doc.DynamicConfidence.HistoryWindowDays) * 24 * time.Hour
	}
	verdicts, err := e.store.RecentVerdicts(ctx, agentID, e.clock().Add(-window))
	if err != nil {
		// Без истории бонус не выдается
		e.logger.Warn("history read failed", zap.String("agent_id", agentID), zap.Error(err))
		return 0
	}
	return reputation.HistoryFactor(verdicts)
}

// finalize фиксирует журнал (и эскалацию) в одной транзакции.
// Если запись не удалась, вердикт безусловно становится BLOCK.
func (e *Engine) finalize(ctx context.Context, req domain.EvaluationRequest, res *domain.EvaluationResult, eas float64) *domain.EvaluationResult {
	now := e.clock()
	entry := &domain.AuditLogEntry{
		ID:              uuid.NewString(),
		Timestamp:       now,
		Request:         req,
		Verdict:         res.Verdict,
		RiskTier:        res.RiskTier,
		ConfidenceScore: res.ConfidenceScore,
		Threshold:       res.Threshold,
		Reason:          res.Reason,
		EAS:             eas,
		PolicyVersion:   res.PolicyVersion,
	}
	if req.AgentID != "" {
		agentID := req.AgentID
		entry.AgentID = &agentID
	}

	var esc *domain.EscalationRecord
	if res.Verdict == domain.VerdictEscalate {
		esc = &domain.EscalationRecord{
			ID:            uuid.NewString(),
			AuditID:       entry.ID,
			AgentID:       req.AgentID,
			ToolName:      req.ToolName,
			Parameters:    req.Parameters,
			DeviceTargets: req.DeviceTargets,
			BatchItems:    req.Batch,
			RiskTier:      res.RiskTier,
			Reason:        res.Reason,
			Status:        domain.StatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertAuditEntry(ctx, entry); err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
		if esc != nil {
			if err := tx.CreateEscalation(ctx, esc); err != nil {
				return fmt.Errorf("create escalation: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return e.failSafe(res, err)
	}

	res.AuditID = entry.ID
	if esc != nil {
		res.EscalationID = esc.ID
	}
	return res
}

// failSafe — единое отображение "не удалось записать журнал" в BLOCK.
func (e *Engine) failSafe(res *domain.EvaluationResult, err error) *domain.EvaluationResult {
	e.metrics.FailSafeTotal.WithLabelValues("audit").Inc()
	e.logger.Error("audit write failed, forcing BLOCK",
		zap.String("tool", res.ToolName),
		zap.String("decided", string(res.Verdict)),
		zap.Error(err))

	out := *res
	out.Verdict = domain.VerdictBlock
	out.Reason = ReasonAuditFailure
	out.EscalationID = ""
	out.AuditID = ""
	out.MatchedRules = append(append([]domain.MatchedRule{}, res.MatchedRules...), domain.MatchedRule{
		Source:   "fail_safe",
		Value:    err.Error(),
		Verdict:  domain.VerdictBlock,
		Priority: policy.FailSafePriority,
		Reason:   ReasonAuditFailure,
	})
	return &out
}

func checkEAS(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w: got %v", domain.ErrInvalidEAS, v)
	}
	return nil
}

// SetEAS сохраняет строку истории и только затем меняет значение в памяти.
func (e *Engine) SetEAS(ctx context.Context, value float64, actor, reason string) error {
	if err := checkEAS(value); err != nil {
		return err
	}
	entry := &domain.EASHistoryEntry{
		ID:        uuid.NewString(),
		AgentID:   e.cfg.AgentScope,
		Value:     value,
		Actor:     actor,
		Reason:    reason,
		CreatedAt: e.clock(),
	}
	if err := e.store.AppendEASHistory(ctx, entry); err != nil {
		return fmt.Errorf("engine: append eas history: %w", err)
	}
	prev := math.Float64frombits(e.easBits.Swap(math.Float64bits(value)))
	e.metrics.EAS.Set(value)
	e.logger.Info("eas updated", zap.Float64("from", prev), zap.Float64("to", value), zap.String("actor", actor))
	return nil
}

func (e *Engine) GetEAS() float64 {
	return math.Float64frombits(e.easBits.Load())
}

func (e *Engine) AgentScope() string {
	return e.cfg.AgentScope
}
