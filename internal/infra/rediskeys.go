package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "netgov"
)

// Ключи для Sets (состояние)
const (
	RedisKeyKillSwitchAgents      = RedisNamespace + ":agents:kill_switch_set"
	RedisKeyQuarantineAgents      = RedisNamespace + ":agents:quarantine_set"
	RedisKeyLockKillSwitch        = RedisNamespace + ":lock:reconcile:kill_switch"
	RedisKeyLockQuarantine        = RedisNamespace + ":lock:reconcile:quarantine"
	RedisKeyLockEscalationExecute = RedisNamespace + ":escalations:execution:"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanEscalationDecisions: канал для трансляции решений оператора (HITL).
	RedisChanEscalationDecisions = RedisNamespace + ":escalations:decisions"
	RedisChanKillSwitch          = RedisNamespace + ":agents:kill-switch-signal"
	RedisChanQuarantine          = RedisNamespace + ":agents:quarantine-signal"
	RedisChanOverrides           = RedisNamespace + ":agents:overrides-update"
	RedisChanPolicyUpdate        = RedisNamespace + ":policy:update"
	RedisChanNotifications       = RedisNamespace + ":notifications"
)

// RestrictionKeys возвращает set, lock и канал для вида ограничения.
func RestrictionKeys(kind string) (set, lock, channel string) {
	switch kind {
	case "kill_switch":
		return RedisKeyKillSwitchAgents, RedisKeyLockKillSwitch, RedisChanKillSwitch
	case "quarantine":
		return RedisKeyQuarantineAgents, RedisKeyLockQuarantine, RedisChanQuarantine
	}
	return fmt.Sprintf("%s:agents:%s_set", RedisNamespace, kind), ReconcileLockKey(kind), fmt.Sprintf("%s:agents:%s-signal", RedisNamespace, kind)
}

// ReconcileLockKey: замок сверки Redis-множества с БД для произвольного ресурса.
func ReconcileLockKey(resource string) string {
	return fmt.Sprintf("%s:lock:reconcile:%s", RedisNamespace, resource)
}

// EscalationExecutionLock — ключ SETNX, защищающий от двойного выполнения одобренной эскалации.
func EscalationExecutionLock(id string) string {
	return RedisKeyLockEscalationExecute + id
}
