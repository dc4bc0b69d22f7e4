package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 3, cfg.Engine.MaxRetries)
	assert.Equal(t, 2, cfg.Fallback.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Fallback.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Fallback.MaxDelay)
	assert.Equal(t, 2.0, cfg.Fallback.ExponentialBase)
	assert.Equal(t, 30*time.Second, cfg.Fallback.Timeout)
	assert.True(t, cfg.Fallback.UseCircuitBreaker)
	assert.Equal(t, 3, cfg.Circuit.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Circuit.RecoveryTimeout)

	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestLoadPartialYAMLFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
engine:
  max_retries: 5
fallback:
  max_retries: 4
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Engine.MaxRetries)
	assert.Equal(t, 4, cfg.Fallback.MaxRetries)
	// Unspecified fields fall back to defaults.
	assert.Equal(t, DefaultFallbackConfig.BaseDelay, cfg.Fallback.BaseDelay)
	assert.Equal(t, DefaultCircuitConfig.FailureThreshold, cfg.Circuit.FailureThreshold)
}

func TestLoadDurationStrings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
fallback:
  base_delay: 250ms
  max_delay: 1m30s
  timeout: 45s
circuit:
  recovery_timeout: 2m
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Fallback.BaseDelay)
	assert.Equal(t, 90*time.Second, cfg.Fallback.MaxDelay)
	assert.Equal(t, 45*time.Second, cfg.Fallback.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Circuit.RecoveryTimeout)
	// Unspecified fields keep defaults.
	assert.Equal(t, DefaultFallbackConfig.MaxRetries, cfg.Fallback.MaxRetries)
}

func TestLoadDurationNanoseconds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
fallback:
  base_delay: 250000000
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Fallback.BaseDelay)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
fallback:
  base_delay: soon
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPTICHAT_ADDR", ":9999")
	t.Setenv("OPTICHAT_MAX_RETRIES", "7")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 7, cfg.Engine.MaxRetries)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative engine retries", func(c *Config) { c.Engine.MaxRetries = -1 }},
		{"zero fallback retries", func(c *Config) { c.Fallback.MaxRetries = 0 }},
		{"exponential base below one", func(c *Config) { c.Fallback.ExponentialBase = 0.5 }},
		{"max delay below base delay", func(c *Config) { c.Fallback.MaxDelay = time.Millisecond }},
		{"zero failure threshold", func(c *Config) { c.Circuit.FailureThreshold = 0 }},
		{"zero recovery timeout", func(c *Config) { c.Circuit.RecoveryTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
