package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/netops-governor/internal/domain"
	"github.com/xela07ax/netops-governor/internal/engine"
	"github.com/xela07ax/netops-governor/internal/infra"
	"github.com/xela07ax/netops-governor/internal/policy"
	"github.com/xela07ax/netops-governor/internal/reputation"
)

var ErrInvalidOverride = errors.New("invalid override")

// AgentRepository описывает требования к хранилищу данных об агентах
type AgentRepository interface {
	SetAgentRestriction(ctx context.Context, agentID string, kind domain.RestrictionKind, enabled bool, reason string) error
	ListRestrictedAgents(ctx context.Context, kind domain.RestrictionKind) ([]string, error)
	ListActiveOverrides(ctx context.Context, agentID string) ([]domain.AgentPolicyOverride, error)
	CreateOverride(ctx context.Context, o *domain.AgentPolicyOverride) error
	DeactivateOverride(ctx context.Context, id string) error
}

// LocalState: in-process состояние, которое нужно обновить без ожидания Pub/Sub.
type LocalState interface {
	Set(agentID string, on bool)
}

type OverrideRefresher interface {
	Refresh(ctx context.Context) error
}

type ReputationScorer interface {
	Score(ctx context.Context, agentID string) (reputation.Score, error)
}

type AgentService struct {
	repo       AgentRepository
	rdb        *redis.Client
	local      map[domain.RestrictionKind]LocalState
	overrides  OverrideRefresher
	reputation ReputationScorer
	logger     *zap.Logger
}

func NewAgentService(repo AgentRepository, rdb *redis.Client, local map[domain.RestrictionKind]LocalState,
	overrides OverrideRefresher, scorer ReputationScorer, logger *zap.Logger) *AgentService {
	return &AgentService{
		repo:       repo,
		rdb:        rdb,
		local:      local,
		overrides:  overrides,
		reputation: scorer,
		logger:     logger.Named("agent-service"),
	}
}

// SetRestriction включает или снимает kill-switch/карантин агента.
// 1. Persistence, 2. локальный менеджер, 3. сигнал остальным инстансам.
func (s *AgentService) SetRestriction(ctx context.Context, agentID string, kind domain.RestrictionKind, enabled bool, reason string) error {
	if err := s.repo.SetAgentRestriction(ctx, agentID, kind, enabled, reason); err != nil {
		s.logger.Error("failed to persist restriction",
			zap.String("agent_id", agentID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return fmt.Errorf("%s database error: %w", kind, err)
	}

	if m, ok := s.local[kind]; ok {
		m.Set(agentID, enabled)
	}

	if s.rdb != nil {
		if err := engine.PublishRestriction(ctx, s.rdb, kind, agentID, enabled); err != nil {
			s.logger.Warn("runtime signal delivery failed", zap.String("kind", string(kind)), zap.Error(err))
		}
	}

	s.logger.Info("agent restriction updated",
		zap.String("agent_id", agentID),
		zap.String("kind", string(kind)),
		zap.Bool("enabled", enabled))
	return nil
}

func (s *AgentService) ListRestricted(ctx context.Context, kind domain.RestrictionKind) ([]string, error) {
	return s.repo.ListRestrictedAgents(ctx, kind)
}

// OverrideInput — тело запроса на создание агентского override.
type OverrideInput struct {
	RuleType domain.OverrideRuleType `json:"rule_type"`
	Rule     json.RawMessage         `json:"rule"`
	Priority int                     `json:"priority"`
}

func (s *AgentService) CreateOverride(ctx context.Context, agentID string, in OverrideInput) (*domain.AgentPolicyOverride, error) {
	switch in.RuleType {
	case domain.OverrideSite, domain.OverrideRole, domain.OverrideTag, domain.OverrideTool:
	default:
		return nil, fmt.Errorf("%w: rule_type %q", ErrInvalidOverride, in.RuleType)
	}
	// Битое правило переводило бы каждую оценку агента в fail-safe BLOCK
	var rule policy.OverrideRule
	if err := json.Unmarshal(in.Rule, &rule); err != nil {
		return nil, fmt.Errorf("%w: rule: %v", ErrInvalidOverride, err)
	}
	if strings.TrimSpace(rule.Value) == "" {
		return nil, fmt.Errorf("%w: rule.value is required", ErrInvalidOverride)
	}
	if _, err := domain.ParseVerdict(rule.Verdict); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOverride, err)
	}

	o := &domain.AgentPolicyOverride{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		RuleType:  in.RuleType,
		Rule:      in.Rule,
		Priority:  in.Priority,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateOverride(ctx, o); err != nil {
		return nil, err
	}
	s.overridesChanged(ctx)
	return o, nil
}

func (s *AgentService) DeactivateOverride(ctx context.Context, id string) error {
	if err := s.repo.DeactivateOverride(ctx, id); err != nil {
		return err
	}
	s.overridesChanged(ctx)
	return nil
}

func (s *AgentService) ListOverrides(ctx context.Context, agentID string) ([]domain.AgentPolicyOverride, error) {
	return s.repo.ListActiveOverrides(ctx, agentID)
}

// overridesChanged обновляет свой кэш сразу, остальные инстансы — по сигналу
func (s *AgentService) overridesChanged(ctx context.Context) {
	if s.overrides != nil {
		if err := s.overrides.Refresh(ctx); err != nil {
			s.logger.Error("override cache refresh failed", zap.Error(err))
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Publish(ctx, infra.RedisChanOverrides, "refresh").Err(); err != nil {
			s.logger.Warn("override signal failed", zap.Error(err))
		}
	}
}

func (s *AgentService) Reputation(ctx context.Context, agentID string) (reputation.Score, error) {
	return s.reputation.Score(ctx, agentID)
}
