package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 15*time.Second, cfg.Retry.BaseBackoff())
	assert.Equal(t, 15*time.Minute, cfg.Retry.MaxBackoff())
	assert.Equal(t, 30*time.Second, cfg.Drain.Interval())
	assert.Equal(t, []string{RequireDB}, cfg.Categories[CategoryRemoteDB])
	assert.Equal(t, []string{RequireInternet, RequireChannel}, cfg.Categories[CategoryNotifyChannel])
	require.NoError(t, cfg.Validate())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
log_level: debug
remote:
  dsn: postgres://sync@remote/gym?sslmode=disable
retry:
  max_attempts: 3
drain:
  interval_seconds: 5
  batch_size: 10
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres://sync@remote/gym?sslmode=disable", cfg.Remote.DSN)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Drain.Interval())
	// Untouched sections keep defaults.
	assert.Equal(t, 72*time.Hour, cfg.Queue.ChannelTTL())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GYMSYNC_MAX_ATTEMPTS", "8")
	t.Setenv("GYMSYNC_REMOTE_DSN", "postgres://env@remote/gym")
	t.Setenv("GYMSYNC_METRICS_ADDR", "127.0.0.1:9999")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Retry.MaxAttempts)
	assert.Equal(t, "postgres://env@remote/gym", cfg.Remote.DSN)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9999", cfg.Metrics.ListenAddr)
}

func TestEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("GYMSYNC_MAX_ATTEMPTS", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
}

func TestValidateRejectsUnknownRequirement(t *testing.T) {
	cfg := Default()
	cfg.Categories["remote_db"] = []string{"bluetooth"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown requirement")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
