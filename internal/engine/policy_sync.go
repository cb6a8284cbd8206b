package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PolicySync рассылает id новой активной версии и применяет чужие обновления.
// Формат сообщения: "<instance_id>:<version_id>"; собственные сообщения игнорируются.
type PolicySync struct {
	rdb        *redis.Client
	channel    string
	instanceID string
	logger     *zap.Logger
}

func NewPolicySync(rdb *redis.Client, channel, instanceID string, logger *zap.Logger) *PolicySync {
	return &PolicySync{
		rdb:        rdb,
		channel:    channel,
		instanceID: instanceID,
		logger:     logger.With(zap.String("mod", "policy-sync")),
	}
}

func (s *PolicySync) PublishPolicyVersion(ctx context.Context, versionID string) error {
	if err := s.rdb.Publish(ctx, s.channel, s.instanceID+":"+versionID).Err(); err != nil {
		return fmt.Errorf("redis: publish policy update: %w", err)
	}
	return nil
}

// Listen держит подписку и вызывает ActivateVersion. При переподключении сверяется с хранилищем.
func (s *PolicySync) Listen(ctx context.Context, e *Engine, policyPath string) {
	ListenResilient(ctx, s.rdb, s.logger, s.channel,
		func() error { return e.Bootstrap(ctx, policyPath) },
		func(payload string) {
			origin, versionID, ok := parsePolicyUpdate(payload)
			if !ok {
				s.logger.Error("invalid policy update", zap.String("payload", payload))
				return
			}
			if origin == s.instanceID {
				return
			}
			if err := e.ActivateVersion(ctx, versionID); err != nil {
				// Прежняя политика остается активной
				s.logger.Error("failed to apply policy update", zap.String("version_id", versionID), zap.Error(err))
			}
		},
	)
}

func parsePolicyUpdate(payload string) (origin, versionID string, ok bool) {
	origin, versionID, ok = strings.Cut(payload, ":")
	if !ok || origin == "" || versionID == "" {
		return "", "", false
	}
	return origin, versionID, true
}
