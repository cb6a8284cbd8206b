package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_FileAndDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
engine:
  initial_eas: 0.4
  history_window: 72h
executor:
  mode: grpc
  grpc_target: devices:50051
  retry_attempts: 5
  cb_failures: 7
batch:
  max_parallel: 3
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 0.4, cfg.Engine.InitialEAS)
	assert.Equal(t, 72*time.Hour, cfg.Engine.HistoryWindow)
	assert.Equal(t, "grpc", cfg.Executor.Mode)
	assert.Equal(t, uint(5), cfg.Executor.RetryAttempts)
	assert.Equal(t, uint32(7), cfg.Executor.CBFailures)
	assert.Equal(t, 3, cfg.Batch.MaxParallel)

	// Дефолты
	assert.True(t, cfg.Batch.RollbackOnFailure)
	assert.Equal(t, "default", cfg.Engine.AgentScope)
	assert.Equal(t, 0.4, cfg.Engine.Reputation.Weights.EAS)
	assert.Equal(t, 7*24*time.Hour, cfg.Engine.Reputation.HalfLife)
	assert.Equal(t, 100, cfg.ExecutionLog.BatchSize)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("SERVER_PORT", "7070")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadConfig_RejectsInitialEASOutOfRange(t *testing.T) {
	path := writeConfig(t, "engine:\n  initial_eas: 1.5\n")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial_eas")
}

func TestLoadKeyResource_PrefersEnv(t *testing.T) {
	t.Setenv("AUTH_PUBLIC_KEY_DATA", "pem-from-env")
	assert.Equal(t, []byte("pem-from-env"), loadKeyResource("/nonexistent", "AUTH_PUBLIC_KEY_DATA"))
	assert.Nil(t, loadKeyResource("/nonexistent", "UNSET_KEY_DATA"))
}

func TestNewLogger(t *testing.T) {
	_, err := NewLogger(LoggerConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	_, err = NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}
