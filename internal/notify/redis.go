package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/netops-governor/internal/infra"
)

// Redis публикует событие в канал уведомлений для внешних подписчиков.
type Redis struct {
	rdb     *redis.Client
	channel string
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb, channel: infra.RedisChanNotifications}
}

func (r *Redis) Notify(ctx context.Context, ev Event) error {
	if r.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis notify: marshal: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis notify: publish: %w", err)
	}
	return nil
}
