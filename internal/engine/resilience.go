package engine

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ListenResilient — универсальный цикл для "живучей" подписки на канал Redis.
// onReconnect вызывается после каждой успешной подписки: сигналы могли потеряться, пока ее не было.
func ListenResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func() error,
	onMessage func(payload string),
) {
	for {
		pubsub := rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			if !sleepCtx(ctx, 5*time.Second) {
				return
			}
			continue
		}

		if err := onReconnect(); err != nil {
			logger.Error("sync failed on reconnect", zap.String("chan", channel), zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				_ = pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				onMessage(msg.Payload)
			}
		}

		_ = pubsub.Close()
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

// ListenStateResilient: подписка на сигналы формата "agent_id:status".
func ListenStateResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func() error,
	onMessage func(id string, status bool),
) {
	ListenResilient(ctx, rdb, logger, channel, onReconnect, func(payload string) {
		id, status, ok := ParseStateSignal(payload)
		if !ok {
			logger.Error("invalid signal format", zap.String("payload", payload))
			return
		}
		onMessage(id, status)
	})
}

// ParseStateSignal разбирает "agent_id:on|off|true|false". Разделитель: последнее двоеточие,
// чтобы идентификаторы вида "team:agent" не ломали разбор.
func ParseStateSignal(payload string) (string, bool, bool) {
	idx := strings.LastIndex(payload, ":")
	if idx <= 0 || idx == len(payload)-1 {
		return "", false, false
	}
	id, raw := payload[:idx], strings.ToLower(payload[idx+1:])
	switch raw {
	case "on", "true":
		return id, true, true
	case "off", "false":
		return id, false, true
	}
	return "", false, false
}

// StateSignal — обратная операция для издателя сигналов.
func StateSignal(id string, status bool) string {
	if status {
		return id + ":on"
	}
	return id + ":off"
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
