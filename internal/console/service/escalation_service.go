package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/netops-governor/internal/batch"
	"github.com/xela07ax/netops-governor/internal/domain"
	"github.com/xela07ax/netops-governor/internal/infra"
)

var (
	ErrExecutionClaimed = errors.New("escalation execution already claimed")
	ErrUnknownStatus    = errors.New("unknown escalation status")
)

// EscalationRepository описывает требования к хранилищу эскалаций
type EscalationRepository interface {
	GetEscalation(ctx context.Context, id string) (*domain.EscalationRecord, error)
	ListEscalations(ctx context.Context, status domain.EscalationStatus) ([]*domain.EscalationRecord, error)
	DecideEscalation(ctx context.Context, id string, status domain.EscalationStatus, decidedBy, reason string) (*domain.EscalationRecord, error)
}

// BatchRunner: Batch Orchestrator с точки зрения сервиса.
type BatchRunner interface {
	ExecuteBatch(ctx context.Context, items []domain.BatchItem, proof *domain.EvaluationResult, opts batch.Options) (*domain.BatchResult, error)
}

// EscalationService ведет жизненный цикл HITL-эскалаций: PENDING -> APPROVED|REJECTED -> выполнение.
type EscalationService struct {
	repo   EscalationRepository
	runner BatchRunner
	rdb    *redis.Client
	logger *zap.Logger

	claimTTL time.Duration
	// claimed — локальные захваты выполнения, когда Redis не настроен
	mu       sync.Mutex
	claimed  map[string]struct{}
}

func NewEscalationService(repo EscalationRepository, runner BatchRunner, rdb *redis.Client, logger *zap.Logger) *EscalationService {
	return &EscalationService{
		repo:     repo,
		runner:   runner,
		rdb:      rdb,
		logger:   logger.Named("escalation-service"),
		claimTTL: 24 * time.Hour,
		claimed:  make(map[string]struct{}),
	}
}

func (s *EscalationService) Get(ctx context.Context, id string) (*domain.EscalationRecord, error) {
	return s.repo.GetEscalation(ctx, id)
}

// List: пустой статус отдает все записи, иначе фильтр PENDING/APPROVED/REJECTED.
func (s *EscalationService) List(ctx context.Context, status domain.EscalationStatus) ([]*domain.EscalationRecord, error) {
	switch status {
	case "", domain.StatusPending, domain.StatusApproved, domain.StatusRejected:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
	list, err := s.repo.ListEscalations(ctx, status)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return []*domain.EscalationRecord{}, nil
	}
	return list, nil
}

// Decide фиксирует решение оператора. Повторное решение возвращает domain.ErrAlreadyProcessed.
func (s *EscalationService) Decide(ctx context.Context, id string, approved bool, decider, reason string) (*domain.EscalationRecord, error) {
	status := domain.StatusRejected
	if approved {
		status = domain.StatusApproved
	}

	// 1. Атомарное обновление в БД (только из PENDING)
	rec, err := s.repo.DecideEscalation(ctx, id, status, decider, reason)
	if err != nil {
		s.logger.Warn("escalation decision rejected",
			zap.String("escalation_id", id),
			zap.String("decider", decider),
			zap.Error(err))
		return nil, err
	}

	// 2. Сигнал подписчикам. Решение уже сохранено, поэтому сбой доставки только логируем
	if s.rdb != nil {
		payload := fmt.Sprintf("%s:%s", id, status)
		if err := s.rdb.Publish(ctx, infra.RedisChanEscalationDecisions, payload).Err(); err != nil {
			s.logger.Error("decision saved but signal not delivered",
				zap.String("escalation_id", id),
				zap.Error(err))
		}
	}

	s.logger.Info("escalation decided",
		zap.String("escalation_id", id),
		zap.String("decider", decider),
		zap.String("status", string(status)))
	return rec, nil
}

// ExecuteApproved прогоняет одобренное действие через Batch Orchestrator.
// Каждая эскалация выполняется не более одного раза.
func (s *EscalationService) ExecuteApproved(ctx context.Context, id, actor string, opts batch.Options) (*domain.BatchResult, error) {
	rec, err := s.repo.GetEscalation(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != domain.StatusApproved {
		return nil, fmt.Errorf("escalation %s is %s: %w", id, rec.Status, domain.ErrNotApproved)
	}

	if err := s.claim(ctx, id, actor); err != nil {
		return nil, err
	}

	res, err := s.runner.ExecuteBatch(ctx, replayItems(rec), approvalProof(rec), opts)
	if err != nil {
		// Ничего не выполнено: захват снимаем, можно повторить
		s.release(ctx, id)
		return nil, err
	}

	s.logger.Info("approved escalation executed",
		zap.String("escalation_id", id),
		zap.String("batch_id", res.BatchID),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed))
	return res, nil
}

// replayItems восстанавливает пачку в том виде, в каком ее оценили: зависимости и приоритеты
// берутся из сохраненного графа, инструмент и параметры: из самой эскалации.
// Одиночный запрос без графа превращается в одну стадию по всем целям.
func replayItems(rec *domain.EscalationRecord) []domain.BatchItem {
	if len(rec.BatchItems) == 0 {
		items := make([]domain.BatchItem, 0, len(rec.DeviceTargets))
		for _, d := range rec.DeviceTargets {
			items = append(items, domain.BatchItem{DeviceTarget: d, ToolName: rec.ToolName, Parameters: rec.Parameters})
		}
		return items
	}

	items := make([]domain.BatchItem, len(rec.BatchItems))
	for i, it := range rec.BatchItems {
		it.ToolName = rec.ToolName
		it.Parameters = rec.Parameters
		items[i] = it
	}
	return items
}

// approvalProof: PERMIT, выданный оператором взамен исходного ESCALATE.
func approvalProof(rec *domain.EscalationRecord) *domain.EvaluationResult {
	decider := ""
	if rec.DecidedBy != nil {
		decider = *rec.DecidedBy
	}
	return &domain.EvaluationResult{
		Verdict:      domain.VerdictPermit,
		RiskTier:     rec.RiskTier,
		ToolName:     rec.ToolName,
		Reason:       "approved by " + decider,
		DeviceCount:  len(rec.DeviceTargets),
		EscalationID: rec.ID,
		AuditID:      rec.AuditID,
		AgentID:      rec.AgentID,
		MatchedRules: []domain.MatchedRule{{
			Source:  "approval",
			Value:   decider,
			Verdict: domain.VerdictPermit,
			Reason:  "human approval of escalation " + rec.ID,
		}},
	}
}

func (s *EscalationService) claim(ctx context.Context, id, actor string) error {
	if s.rdb == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.claimed[id]; ok {
			return ErrExecutionClaimed
		}
		s.claimed[id] = struct{}{}
		return nil
	}

	ok, err := s.rdb.SetNX(ctx, infra.EscalationExecutionLock(id), actor, s.claimTTL).Result()
	if err != nil {
		return fmt.Errorf("redis: claim execution: %w", err)
	}
	if !ok {
		return ErrExecutionClaimed
	}
	return nil
}

func (s *EscalationService) release(ctx context.Context, id string) {
	if s.rdb == nil {
		s.mu.Lock()
		delete(s.claimed, id)
		s.mu.Unlock()
		return
	}
	if err := s.rdb.Del(ctx, infra.EscalationExecutionLock(id)).Err(); err != nil {
		s.logger.Warn("failed to release execution claim", zap.String("escalation_id", id), zap.Error(err))
	}
}
