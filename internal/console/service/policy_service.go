package service

import (
	"context"

	"github.com/xela07ax/netops-governor/internal/domain"
	"github.com/xela07ax/netops-governor/internal/policy"
)

// PolicyEngine: операции движка над версиями политики.
type PolicyEngine interface {
	Reload(ctx context.Context, data []byte, createdBy string) (*domain.PolicyVersion, error)
	ReloadFile(ctx context.Context, path, createdBy string) (*domain.PolicyVersion, error)
	Rollback(ctx context.Context, versionID, createdBy string) (*domain.PolicyVersion, error)
	ActivePolicy() (*policy.Loaded, string, bool)
}

type PolicyVersionLister interface {
	ListPolicyVersions(ctx context.Context, limit int) ([]domain.PolicyVersion, error)
}

type PolicyService struct {
	engine   PolicyEngine
	versions PolicyVersionLister
	path     string
}

func NewPolicyService(e PolicyEngine, versions PolicyVersionLister, path string) *PolicyService {
	return &PolicyService{engine: e, versions: versions, path: path}
}

// Reload: пустое тело перечитывает настроенный файл политики.
func (s *PolicyService) Reload(ctx context.Context, content []byte, actor string) (*domain.PolicyVersion, error) {
	if len(content) == 0 {
		return s.engine.ReloadFile(ctx, s.path, actor)
	}
	return s.engine.Reload(ctx, content, actor)
}

func (s *PolicyService) Rollback(ctx context.Context, versionID, actor string) (*domain.PolicyVersion, error) {
	return s.engine.Rollback(ctx, versionID, actor)
}

func (s *PolicyService) Versions(ctx context.Context, limit int) ([]domain.PolicyVersion, error) {
	return s.versions.ListPolicyVersions(ctx, limit)
}

// ActiveInfo — краткое описание активной версии.
type ActiveInfo struct {
	VersionID string `json:"version_id"`
	Version   string `json:"version"`
	Hash      string `json:"content_hash"`
}

func (s *PolicyService) Active() (*ActiveInfo, bool) {
	loaded, id, ok := s.engine.ActivePolicy()
	if !ok {
		return nil, false
	}
	return &ActiveInfo{VersionID: id, Version: loaded.Document.Version, Hash: loaded.Hash}, true
}
