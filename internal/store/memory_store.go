package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xela07ax/netops-governor/internal/domain"
)

// MemoryStore: потокобезопасная реализация Store для dev-режима и тестов.
// Транзакция буферизует записи и применяет их только при успешном завершении fn.
type MemoryStore struct {
	mu sync.RWMutex

	audit       []domain.AuditLogEntry
	escalations map[string]*domain.EscalationRecord
	versions    []domain.PolicyVersion
	overrides   []domain.AgentPolicyOverride
	eas         []domain.EASHistoryEntry
	executions  []domain.ExecutionRecord
	restricted  map[domain.RestrictionKind]map[string]struct{}
	users       map[string]domain.User

	// FailWrites имитирует недоступное хранилище для всех транзакций.
	FailWrites error
	// FailReads — ошибка для операций чтения истории и overrides.
	FailReads  error
}

var (
	_ Store     = (*MemoryStore)(nil)
	_ UserStore = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		escalations: make(map[string]*domain.EscalationRecord),
		restricted:  make(map[domain.RestrictionKind]map[string]struct{}),
		users:       make(map[string]domain.User),
	}
}

type memoryTx struct {
	audit       []domain.AuditLogEntry
	escalations []domain.EscalationRecord
	versions    []domain.PolicyVersion
}

func (t *memoryTx) InsertAuditEntry(_ context.Context, e *domain.AuditLogEntry) error {
	t.audit = append(t.audit, *e)
	return nil
}

func (t *memoryTx) CreateEscalation(_ context.Context, r *domain.EscalationRecord) error {
	t.escalations = append(t.escalations, *r)
	return nil
}

func (t *memoryTx) InsertPolicyVersion(_ context.Context, v *domain.PolicyVersion) error {
	t.versions = append(t.versions, *v)
	return nil
}

func (s *MemoryStore) WithTx(_ context.Context, fn func(Tx) error) error {
	s.mu.RLock()
	failErr := s.FailWrites
	s.mu.RUnlock()
	if failErr != nil {
		return failErr
	}

	tx := &memoryTx{}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, tx.audit...)
	for i := range tx.escalations {
		rec := tx.escalations[i]
		s.escalations[rec.ID] = &rec
	}
	s.versions = append(s.versions, tx.versions...)
	return nil
}

func (s *MemoryStore) ListActiveOverrides(_ context.Context, agentID string) ([]domain.AgentPolicyOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailReads != nil {
		return nil, s.FailReads
	}
	var out []domain.AgentPolicyOverride
	for _, o := range s.overrides {
		if o.Active && o.AgentID == agentID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListAllActiveOverrides(_ context.Context) ([]domain.AgentPolicyOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailReads != nil {
		return nil, s.FailReads
	}
	var out []domain.AgentPolicyOverride
	for _, o := range s.overrides {
		if o.Active {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateOverride(_ context.Context, o *domain.AgentPolicyOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	s.overrides = append(s.overrides, *o)
	return nil
}

func (s *MemoryStore) DeactivateOverride(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.overrides {
		if s.overrides[i].ID == id {
			s.overrides[i].Active = false
			return nil
		}
	}
	return fmt.Errorf("override %s: %w", id, domain.ErrNotFound)
}

func (s *MemoryStore) RecentVerdicts(_ context.Context, agentID string, since time.Time) ([]domain.VerdictRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailReads != nil {
		return nil, s.FailReads
	}
	var out []domain.VerdictRecord
	for _, e := range s.audit {
		if e.AgentID == nil || *e.AgentID != agentID || e.Timestamp.Before(since) {
			continue
		}
		out = append(out, domain.VerdictRecord{AgentID: agentID, Verdict: e.Verdict, Timestamp: e.Timestamp})
	}
	return out, nil
}

// AuditEntries возвращает копию журнала (для тестов и dev-консоли).
func (s *MemoryStore) AuditEntries() []domain.AuditLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AuditLogEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

func (s *MemoryStore) GetPolicyVersion(_ context.Context, id string) (*domain.PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.versions {
		if s.versions[i].ID == id {
			v := s.versions[i]
			return &v, nil
		}
	}
	return nil, fmt.Errorf("policy version %s: %w", id, domain.ErrNotFound)
}

func (s *MemoryStore) LatestPolicyVersion(_ context.Context) (*domain.PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.versions) == 0 {
		return nil, fmt.Errorf("latest policy version: %w", domain.ErrNotFound)
	}
	v := s.versions[len(s.versions)-1]
	return &v, nil
}

func (s *MemoryStore) ListPolicyVersions(_ context.Context, limit int) ([]domain.PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PolicyVersion, 0, len(s.versions))
	for i := len(s.versions) - 1; i >= 0; i-- {
		out = append(out, s.versions[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendEASHistory(_ context.Context, e *domain.EASHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	s.eas = append(s.eas, *e)
	return nil
}

func (s *MemoryStore) EASHistory(_ context.Context, agentID string, since time.Time) ([]domain.EASHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.EASHistoryEntry
	for _, e := range s.eas {
		if e.AgentID == agentID && !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetEscalation(_ context.Context, id string) (*domain.EscalationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.escalations[id]
	if !ok {
		return nil, fmt.Errorf("escalation %s: %w", id, domain.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ListEscalations(_ context.Context, status domain.EscalationStatus) ([]*domain.EscalationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.EscalationRecord, 0)
	for _, rec := range s.escalations {
		if status != "" && rec.Status != status {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DecideEscalation(_ context.Context, id string, status domain.EscalationStatus, decidedBy, reason string) (*domain.EscalationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.escalations[id]
	if !ok {
		return nil, fmt.Errorf("escalation %s: %w", id, domain.ErrNotFound)
	}
	if err := rec.CanTransitionTo(status); err != nil {
		return nil, err
	}
	now := time.Now()
	rec.Status = status
	rec.DecidedBy = &decidedBy
	rec.DecisionReason = &reason
	rec.DecidedAt = &now
	rec.UpdatedAt = now
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) WriteExecutions(_ context.Context, records []domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	s.executions = append(s.executions, records...)
	return nil
}

func (s *MemoryStore) RecentExecutions(_ context.Context, agentID string, since time.Time) ([]domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ExecutionRecord
	for _, x := range s.executions {
		if x.AgentID == agentID && !x.Timestamp.Before(since) {
			out = append(out, x)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListRestrictedAgents(_ context.Context, kind domain.RestrictionKind) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.restricted[kind]))
	for id := range s.restricted[kind] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) SetAgentRestriction(_ context.Context, agentID string, kind domain.RestrictionKind, enabled bool, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.restricted[kind]
	if !ok {
		set = make(map[string]struct{})
		s.restricted[kind] = set
	}
	if enabled {
		set[agentID] = struct{}{}
	} else {
		delete(set, agentID)
	}
	return nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", username, domain.ErrNotFound)
	}
	return &u, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Username]; ok {
		return fmt.Errorf("user %s: %w", u.Username, ErrUserExists)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[u.Username] = *u
	return nil
}
