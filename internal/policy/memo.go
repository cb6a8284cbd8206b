package policy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/netops-governor/internal/domain"
	"go.uber.org/zap"
)

type OverrideRepository interface {
	ListAllActiveOverrides(ctx context.Context) ([]domain.AgentPolicyOverride, error)
}

var ErrOverrideCacheCold = errors.New("override cache is not loaded")

// OverrideCache — in-memory кэш агентских overrides для Hot Path Evaluate.
// Источник правды — PostgreSQL; инстансы синхронизируются сигналом в Redis.
// Пока кэш ни разу не загружен, чтение возвращает ошибку: движок трактует ее как fail-safe BLOCK.
type OverrideCache struct {
	mu        sync.RWMutex
	// Кэш: agent_id -> активные overrides
	overrides map[string][]domain.AgentPolicyOverride
	loadedAt  time.Time

	repo    OverrideRepository
	rdb     *redis.Client
	channel string
	logger  *zap.Logger
}

func NewOverrideCache(repo OverrideRepository, rdb *redis.Client, channel string, logger *zap.Logger) *OverrideCache {
	return &OverrideCache{
		repo:    repo,
		rdb:     rdb,
		channel: channel,
		logger:  logger.Named("override-cache"),
	}
}

// ListActiveOverrides работает только с RAM. Это и есть Hot Path.
func (c *OverrideCache) ListActiveOverrides(_ context.Context, agentID string) ([]domain.AgentPolicyOverride, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.overrides == nil {
		return nil, ErrOverrideCacheCold
	}
	list := c.overrides[agentID]
	out := make([]domain.AgentPolicyOverride, len(list))
	copy(out, list)
	return out, nil
}

// Refresh выполняет "холодную загрузку" всех активных overrides и подменяет мапу целиком.
func (c *OverrideCache) Refresh(ctx context.Context) error {
	list, err := c.repo.ListAllActiveOverrides(ctx)
	if err != nil {
		return err
	}

	next := make(map[string][]domain.AgentPolicyOverride)
	for _, o := range list {
		next[o.AgentID] = append(next[o.AgentID], o)
	}

	c.mu.Lock()
	c.overrides = next
	c.loadedAt = time.Now()
	c.mu.Unlock()

	c.logger.Info("override cache refreshed", zap.Int("agents", len(next)), zap.Int("count", len(list)))
	return nil
}

// StartListener перечитывает кэш по сигналу из консоли. При ошибке подписки повторяет с паузой.
func (c *OverrideCache) StartListener(ctx context.Context) {
	if c.rdb == nil {
		return
	}
	for {
		pubsub := c.rdb.Subscribe(ctx, c.channel)
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("failed to subscribe", zap.String("chan", c.channel), zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		// Сигналы могли потеряться, пока подписки не было
		if err := c.Refresh(ctx); err != nil {
			c.logger.Error("refresh on reconnect failed", zap.Error(err))
		}

		ch := pubsub.Channel()
	loop:
		for {
			select {
			case <-ctx.Done():
				_ = pubsub.Close()
				return
			case _, ok := <-ch:
				if !ok {
					break loop
				}
				if err := c.Refresh(ctx); err != nil {
					c.logger.Error("override refresh failed", zap.Error(err))
				}
			}
		}
		_ = pubsub.Close()
		time.Sleep(time.Second)
	}
}
