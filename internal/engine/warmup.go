package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const reconcileLockTTL = 30 * time.Second

// ReconcileRestrictions применяет список из БД к локальному множеству и приводит к нему Redis.
// БД: источник правды; Redis-множество перезаписывается целиком одним инстансом под SETNX-замком,
// остальные инстансы довольствуются локальным состоянием.
func ReconcileRestrictions(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	ids []string,
	setKey string,
	lockKey string,
	apply func([]string),
) error {
	apply(ids)

	if rdb == nil {
		return nil
	}

	acquired, err := rdb.SetNX(ctx, lockKey, "reconcile", reconcileLockTTL).Result()
	if err != nil {
		logger.Warn("reconcile lock unavailable, keeping local state", zap.String("key", setKey), zap.Error(err))
		return nil
	}
	if !acquired {
		return nil
	}
	defer rdb.Del(context.WithoutCancel(ctx), lockKey)

	current, err := rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("redis: read %s: %w", setKey, err)
	}
	stale, missing := setDiff(current, ids)
	if len(stale) == 0 && len(missing) == 0 {
		return nil
	}

	pipe := rdb.TxPipeline()
	if len(stale) > 0 {
		pipe.SRem(ctx, setKey, toAny(stale)...)
	}
	if len(missing) > 0 {
		pipe.SAdd(ctx, setKey, toAny(missing)...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: reconcile %s: %w", setKey, err)
	}
	logger.Info("restriction set reconciled with database",
		zap.String("key", setKey), zap.Int("removed", len(stale)), zap.Int("added", len(missing)))
	return nil
}

// setDiff: stale есть в have, но отсутствует в want; missing наоборот.
func setDiff(have, want []string) (stale, missing []string) {
	wantSet := make(map[string]struct{}, len(want))
	for _, id := range want {
		wantSet[id] = struct{}{}
	}
	haveSet := make(map[string]struct{}, len(have))
	for _, id := range have {
		haveSet[id] = struct{}{}
		if _, ok := wantSet[id]; !ok {
			stale = append(stale, id)
		}
	}
	for _, id := range want {
		if _, ok := haveSet[id]; !ok {
			missing = append(missing, id)
		}
	}
	return stale, missing
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
