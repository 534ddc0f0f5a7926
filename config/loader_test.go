package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentgrid/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentgrid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()

	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 256, cfg.Bus.MailboxCapacity)
	assert.Equal(t, types.PolicyLastWriteWins, cfg.Memory.Policy)
	assert.Equal(t, 3, cfg.Retry.Policy.MaxRetries)
	assert.InDelta(t, 95.0, cfg.Confidence.Threshold, 1e-9)
	assert.Equal(t, "memory", cfg.Archive.Backend)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: console
bus:
  mailbox_capacity: 64
memory:
  policy: strict
  history_limit: 20
retry:
  policy:
    max_retries: 5
    initial_delay: 250ms
confidence:
  threshold: 90
archive:
  backend: redis
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()

	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 64, cfg.Bus.MailboxCapacity)
	assert.Equal(t, types.PolicyStrict, cfg.Memory.Policy)
	assert.Equal(t, 20, cfg.Memory.HistoryLimit)
	assert.Equal(t, 5, cfg.Retry.Policy.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.Policy.InitialDelay)
	assert.InDelta(t, 90.0, cfg.Confidence.Threshold, 1e-9)
	assert.Equal(t, "redis", cfg.Archive.Backend)
}

func TestMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/agentgrid.yaml").Load()

	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "bus:\n  mailbox_capacity: 64\n")
	t.Setenv("AGENTGRID_BUS_MAILBOX_CAPACITY", "1024")
	t.Setenv("AGENTGRID_LOG_LEVEL", "warn")
	t.Setenv("AGENTGRID_MEMORY_POLICY", "strict")
	t.Setenv("AGENTGRID_RETRY_INVOKE_TIMEOUT", "5s")
	t.Setenv("AGENTGRID_TELEMETRY_ENABLED", "true")

	cfg, err := NewLoader().WithConfigPath(path).Load()

	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Bus.MailboxCapacity)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, types.PolicyStrict, cfg.Memory.Policy)
	assert.Equal(t, 5*time.Second, cfg.Retry.InvokeTimeout)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestCustomEnvPrefix(t *testing.T) {
	t.Setenv("GRID_LOG_LEVEL", "error")

	cfg, err := NewLoader().WithEnvPrefix("GRID").Load()

	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	path := writeConfig(t, "log:\n  level: loud\n")
	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log level")

	path = writeConfig(t, "confidence:\n  threshold: 150\n")
	_, err = NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confidence threshold")
}

func TestCustomValidatorRuns(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if c.Archive.Backend == "memory" {
				return assert.AnError
			}
			return nil
		}).
		Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestBuildLogger(t *testing.T) {
	logger, err := LogConfig{Level: "debug", Format: "console"}.BuildLogger()
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = LogConfig{Level: "loud"}.BuildLogger()
	assert.Error(t, err)
}
