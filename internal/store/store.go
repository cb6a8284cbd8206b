// Package store описывает контракт персистентности ядра.
// Все долговременное состояние (журнал, эскалации, версии политики, overrides, история)
// принадлежит хранилищу и доступно только через короткие транзакции.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/xela07ax/netops-governor/internal/domain"
)

// Tx: операции записи внутри одной атомарной транзакции.
type Tx interface {
	InsertAuditEntry(ctx context.Context, e *domain.AuditLogEntry) error
	CreateEscalation(ctx context.Context, r *domain.EscalationRecord) error
	InsertPolicyVersion(ctx context.Context, v *domain.PolicyVersion) error
}

type Store interface {
	// WithTx фиксирует все записи fn или ни одной.
	WithTx(ctx context.Context, fn func(Tx) error) error

	ListActiveOverrides(ctx context.Context, agentID string) ([]domain.AgentPolicyOverride, error)
	ListAllActiveOverrides(ctx context.Context) ([]domain.AgentPolicyOverride, error)
	CreateOverride(ctx context.Context, o *domain.AgentPolicyOverride) error
	DeactivateOverride(ctx context.Context, id string) error

	RecentVerdicts(ctx context.Context, agentID string, since time.Time) ([]domain.VerdictRecord, error)

	GetPolicyVersion(ctx context.Context, id string) (*domain.PolicyVersion, error)
	LatestPolicyVersion(ctx context.Context) (*domain.PolicyVersion, error)
	ListPolicyVersions(ctx context.Context, limit int) ([]domain.PolicyVersion, error)

	AppendEASHistory(ctx context.Context, e *domain.EASHistoryEntry) error
	EASHistory(ctx context.Context, agentID string, since time.Time) ([]domain.EASHistoryEntry, error)

	GetEscalation(ctx context.Context, id string) (*domain.EscalationRecord, error)
	ListEscalations(ctx context.Context, status domain.EscalationStatus) ([]*domain.EscalationRecord, error)
	// DecideEscalation атомарно переводит PENDING-запись в терминальный статус.
	// Повторное решение возвращает domain.ErrAlreadyProcessed.
	DecideEscalation(ctx context.Context, id string, status domain.EscalationStatus, decidedBy, reason string) (*domain.EscalationRecord, error)

	WriteExecutions(ctx context.Context, records []domain.ExecutionRecord) error
	RecentExecutions(ctx context.Context, agentID string, since time.Time) ([]domain.ExecutionRecord, error)

	ListRestrictedAgents(ctx context.Context, kind domain.RestrictionKind) ([]string, error)
	SetAgentRestriction(ctx context.Context, agentID string, kind domain.RestrictionKind, enabled bool, reason string) error
}

var ErrUserExists = errors.New("user already exists")

// UserStore — учетные записи операторов консоли.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	// CreateUser возвращает ErrUserExists для занятого имени.
	CreateUser(ctx context.Context, u *domain.User) error
}
