package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/netops-governor/internal/domain"
	"go.uber.org/zap"
)

type fakeOverrideRepo struct {
	list []domain.AgentPolicyOverride
	err  error
}

func (f *fakeOverrideRepo) ListAllActiveOverrides(context.Context) ([]domain.AgentPolicyOverride, error) {
	return f.list, f.err
}

func TestOverrideCacheColdThenRefreshed(t *testing.T) {
	repo := &fakeOverrideRepo{list: []domain.AgentPolicyOverride{
		{ID: "1", AgentID: "a"}, {ID: "2", AgentID: "a"}, {ID: "3", AgentID: "b"},
	}}
	cache := NewOverrideCache(repo, nil, "chan", zap.NewNop())

	_, err := cache.ListActiveOverrides(context.Background(), "a")
	assert.ErrorIs(t, err, ErrOverrideCacheCold)

	require.NoError(t, cache.Refresh(context.Background()))

	got, err := cache.ListActiveOverrides(context.Background(), "a")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = cache.ListActiveOverrides(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOverrideCacheRefreshErrorKeepsPrevious(t *testing.T) {
	repo := &fakeOverrideRepo{list: []domain.AgentPolicyOverride{{ID: "1", AgentID: "a"}}}
	cache := NewOverrideCache(repo, nil, "chan", zap.NewNop())
	require.NoError(t, cache.Refresh(context.Background()))

	repo.err = errors.New("db down")
	assert.Error(t, cache.Refresh(context.Background()))

	got, err := cache.ListActiveOverrides(context.Background(), "a")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
