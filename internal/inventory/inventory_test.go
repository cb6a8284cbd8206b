package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/netops-governor/internal/domain"
)

const sample = `
devices:
  core1:
    site: dc-east
    role: core
    tags: [pci, backbone]
    criticality: 0.9
  Dist1:
    site: dc-west
    role: distribution
    tags: [backbone]
    criticality: 0.4
  lab1:
    site: lab
`

func TestEnrichAggregatesTargets(t *testing.T) {
	inv, err := Parse([]byte(sample), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 3, inv.Len())

	facts, err := inv.Enrich(context.Background(), domain.EvaluationRequest{
		ToolName:      "set_banner",
		DeviceTargets: []string{"dist1", "core1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.9, facts[domain.ContextDeviceCriticality])
	assert.Equal(t, "dc-east", facts[domain.ContextSite])
	assert.Equal(t, "core", facts[domain.ContextDeviceRole])
	assert.Equal(t, []string{"backbone", "pci"}, facts[domain.ContextDeviceTags])
}

func TestEnrichSparseDevice(t *testing.T) {
	inv, err := Parse([]byte(sample), zap.NewNop())
	require.NoError(t, err)

	facts, err := inv.Enrich(context.Background(), domain.EvaluationRequest{DeviceTargets: []string{"lab1"}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, facts[domain.ContextDeviceCriticality])
	assert.NotContains(t, facts, domain.ContextDeviceRole)
	assert.NotContains(t, facts, domain.ContextDeviceTags)
}

func TestEnrichUnknownDevice(t *testing.T) {
	inv, err := Parse([]byte(sample), zap.NewNop())
	require.NoError(t, err)

	_, err = inv.Enrich(context.Background(), domain.EvaluationRequest{DeviceTargets: []string{"core1", "ghost"}})
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestEnrichNoTargets(t *testing.T) {
	inv, err := Parse([]byte(sample), zap.NewNop())
	require.NoError(t, err)

	facts, err := inv.Enrich(context.Background(), domain.EvaluationRequest{ToolName: "show_version"})
	require.NoError(t, err)
	assert.Nil(t, facts)
}

func TestParseRejectsBadInput(t *testing.T) {
	_, err := Parse([]byte("devices:\n  r1:\n    criticality: 1.5\n"), zap.NewNop())
	assert.Error(t, err)

	_, err = Parse([]byte("devices:\n  r1:\n    colour: red\n"), zap.NewNop())
	assert.Error(t, err)
}
