package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/netops-governor/internal/domain"
	"github.com/xela07ax/netops-governor/internal/infra"
	"github.com/xela07ax/netops-governor/internal/policy"
)

// RestrictionSource поставляет агентские совпадения, не зависящие от контекста запроса.
type RestrictionSource interface {
	Matches(agentID string) []policy.Match
}

// RestrictionProvider: источник правды для оперативных ограничений (PostgreSQL).
type RestrictionProvider interface {
	ListRestrictedAgents(ctx context.Context, kind domain.RestrictionKind) ([]string, error)
}

// AgentStateManager держит в RAM множество агентов с одним видом ограничения.
// Kill-switch дает агентское BLOCK-совпадение, карантин дает ESCALATE.
// Оба проходят через MergeVerdicts и поэтому могут только ужесточить решение.
type AgentStateManager struct {
	kind    domain.RestrictionKind
	verdict domain.Verdict
	reason  string

	repo   RestrictionProvider
	rdb    *redis.Client
	logger *zap.Logger

	mu     sync.RWMutex
	agents map[string]struct{}
}

func NewKillSwitchManager(rdb *redis.Client, repo RestrictionProvider, logger *zap.Logger) *AgentStateManager {
	return newAgentStateManager(domain.RestrictionKillSwitch, domain.VerdictBlock,
		"agent is kill-switched", rdb, repo, logger)
}

func NewQuarantineManager(rdb *redis.Client, repo RestrictionProvider, logger *zap.Logger) *AgentStateManager {
	return newAgentStateManager(domain.RestrictionQuarantine, domain.VerdictEscalate,
		"agent is quarantined: every action requires approval", rdb, repo, logger)
}

func newAgentStateManager(kind domain.RestrictionKind, verdict domain.Verdict, reason string,
	rdb *redis.Client, repo RestrictionProvider, logger *zap.Logger) *AgentStateManager {
	return &AgentStateManager{
		kind:    kind,
		verdict: verdict,
		reason:  reason,
		repo:    repo,
		rdb:     rdb,
		logger:  logger.With(zap.String("mod", string(kind))),
		agents:  make(map[string]struct{}),
	}
}

// Init загружает состояние из БД и сверяет с ним Redis. Вызывается при старте и после переподключения.
func (m *AgentStateManager) Init(ctx context.Context) error {
	ids, err := m.repo.ListRestrictedAgents(ctx, m.kind)
	if err != nil {
		return fmt.Errorf("failed to fetch %s agents from DB: %w", m.kind, err)
	}

	set, lock, _ := infra.RestrictionKeys(string(m.kind))
	return ReconcileRestrictions(ctx, m.rdb, m.logger, ids, set, lock, func(items []string) {
		next := make(map[string]struct{}, len(items))
		for _, id := range items {
			next[id] = struct{}{}
		}
		m.mu.Lock()
		m.agents = next
		m.mu.Unlock()
	})
}

// StartListener подписывается на сигналы консоли и обновляет состояние в реальном времени.
func (m *AgentStateManager) StartListener(ctx context.Context) {
	if m.rdb == nil {
		return
	}
	_, _, channel := infra.RestrictionKeys(string(m.kind))
	ListenStateResilient(ctx, m.rdb, m.logger, channel,
		func() error { return m.Init(ctx) },
		m.Set,
	)
}

// Set применяет одиночный сигнал.
func (m *AgentStateManager) Set(agentID string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on {
		m.agents[agentID] = struct{}{}
		m.logger.Warn("agent restricted", zap.String("agent_id", agentID))
		return
	}
	delete(m.agents, agentID)
	m.logger.Info("agent restriction lifted", zap.String("agent_id", agentID))
}

func (m *AgentStateManager) Contains(agentID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.agents[agentID]
	return ok
}

// Matches — максимально быстрый метод для Hot Path.
func (m *AgentStateManager) Matches(agentID string) []policy.Match {
	if agentID == "" || !m.Contains(agentID) {
		return nil
	}
	return []policy.Match{{
		Kind:     policy.KindTool,
		Source:   "restriction",
		Value:    string(m.kind),
		Verdict:  m.verdict,
		Priority: policy.FailSafePriority - 1,
		Reason:   m.reason,
	}}
}

// PublishRestriction сохраняет ограничение в Redis-множестве и рассылает сигнал инстансам.
func PublishRestriction(ctx context.Context, rdb *redis.Client, kind domain.RestrictionKind, agentID string, on bool) error {
	set, _, channel := infra.RestrictionKeys(string(kind))
	pipe := rdb.TxPipeline()
	if on {
		pipe.SAdd(ctx, set, agentID)
	} else {
		pipe.SRem(ctx, set, agentID)
	}
	pipe.Publish(ctx, channel, StateSignal(agentID, on))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish %s signal: %w", kind, err)
	}
	return nil
}
