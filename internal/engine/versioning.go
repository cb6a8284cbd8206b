package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/netops-governor/internal/domain"
	"github.com/xela07ax/netops-governor/internal/policy"
	"github.com/xela07ax/netops-governor/internal/store"
)

// ActivePolicy возвращает текущий документ и id его версии.
func (e *Engine) ActivePolicy() (*policy.Loaded, string, bool) {
	ap := e.active.Load()
	if ap == nil {
		return nil, "", false
	}
	return ap.loaded, ap.versionID, true
}

// ReloadFile: Reload из файла на диске.
func (e *Engine) ReloadFile(ctx context.Context, path, createdBy string) (*domain.PolicyVersion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		e.metrics.PolicyReloads.WithLabelValues("reload", "rejected").Inc()
		return nil, fmt.Errorf("engine: read policy %s: %w", path, err)
	}
	return e.Reload(ctx, data, createdBy)
}

// Reload валидирует новый документ, сохраняет версию с diff и только затем подменяет указатель.
// Любая ошибка оставляет активной прежнюю политику.
func (e *Engine) Reload(ctx context.Context, data []byte, createdBy string) (*domain.PolicyVersion, error) {
	loaded, err := policy.Load(data)
	if err != nil {
		e.metrics.PolicyReloads.WithLabelValues("reload", "rejected").Inc()
		return nil, fmt.Errorf("engine: reload: %w", err)
	}
	return e.commitVersion(ctx, "reload", loaded, createdBy, nil)
}

// Rollback — это новая версия со старым содержимым; история не переписывается.
func (e *Engine) Rollback(ctx context.Context, versionID, createdBy string) (*domain.PolicyVersion, error) {
	stored, err := e.store.GetPolicyVersion(ctx, versionID)
	if err != nil {
		e.metrics.PolicyReloads.WithLabelValues("rollback", "rejected").Inc()
		return nil, fmt.Errorf("engine: rollback: %w", err)
	}
	loaded, err := policy.Load([]byte(stored.Content))
	if err != nil {
		e.metrics.PolicyReloads.WithLabelValues("rollback", "rejected").Inc()
		return nil, fmt.Errorf("engine: rollback %s: stored content is invalid: %w", versionID, err)
	}
	from := stored.ID
	return e.commitVersion(ctx, "rollback", loaded, createdBy, &from)
}

func (e *Engine) commitVersion(ctx context.Context, op string, loaded *policy.Loaded, createdBy string, rolledBackFrom *string) (*domain.PolicyVersion, error) {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	v := &domain.PolicyVersion{
		ID:             uuid.NewString(),
		Version:        loaded.Document.Version,
		Content:        string(loaded.Raw),
		ContentHash:    loaded.Hash,
		CreatedBy:      createdBy,
		CreatedAt:      e.clock(),
		RolledBackFrom: rolledBackFrom,
	}
	if prev := e.active.Load(); prev != nil {
		v.Diff = policy.Diff(prev.loaded.Document, loaded.Document)
	}

	if err := e.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertPolicyVersion(ctx, v)
	}); err != nil {
		e.metrics.PolicyReloads.WithLabelValues(op, "failed").Inc()
		return nil, fmt.Errorf("engine: %s: persist version: %w", op, err)
	}

	e.swap(loaded, v.ID)
	e.metrics.PolicyReloads.WithLabelValues(op, "ok").Inc()
	e.logger.Info("policy activated",
		zap.String("op", op),
		zap.String("version_id", v.ID),
		zap.String("version", v.Version),
		zap.String("hash", v.ContentHash),
		zap.String("by", createdBy))

	if e.publisher != nil {
		if err := e.publisher.PublishPolicyVersion(ctx, v.ID); err != nil {
			e.logger.Warn("policy update broadcast failed", zap.String("version_id", v.ID), zap.Error(err))
		}
	}
	return v, nil
}

// ActivateVersion подменяет политику сохраненной версией без создания новой строки.
// Используется при старте и по сигналу от другого инстанса.
func (e *Engine) ActivateVersion(ctx context.Context, versionID string) error {
	if _, current, ok := e.ActivePolicy(); ok && current == versionID {
		return nil
	}
	stored, err := e.store.GetPolicyVersion(ctx, versionID)
	if err != nil {
		return fmt.Errorf("engine: activate %s: %w", versionID, err)
	}
	loaded, err := policy.Load([]byte(stored.Content))
	if err != nil {
		return fmt.Errorf("engine: activate %s: %w", versionID, err)
	}

	e.reloadMu.Lock()
	e.swap(loaded, stored.ID)
	e.reloadMu.Unlock()

	e.logger.Info("policy version activated", zap.String("version_id", stored.ID), zap.String("hash", stored.ContentHash))
	return nil
}

// Bootstrap активирует последнюю сохраненную версию; при пустой истории грузит файл как первую версию.
func (e *Engine) Bootstrap(ctx context.Context, path string) error {
	latest, err := e.store.LatestPolicyVersion(ctx)
	switch {
	case err == nil:
		return e.ActivateVersion(ctx, latest.ID)
	case errors.Is(err, domain.ErrNotFound):
		_, err = e.ReloadFile(ctx, path, "system")
		return err
	default:
		return fmt.Errorf("engine: bootstrap: %w", err)
	}
}

func (e *Engine) swap(loaded *policy.Loaded, versionID string) {
	if prev := e.active.Load(); prev != nil {
		e.metrics.PolicyInfo.DeleteLabelValues(prev.loaded.Document.Version, prev.loaded.Hash)
	}
	e.active.Store(&activePolicy{loaded: loaded, versionID: versionID})
	e.metrics.PolicyInfo.WithLabelValues(loaded.Document.Version, loaded.Hash).Set(1)
}
