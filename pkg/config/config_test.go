package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		TokenBudget:              200000,
		CheckpointRetention:      168 * time.Hour,
		StaleThreshold:           5 * time.Minute,
		ContradictionThreshold:   0.35,
		ContextWindowPersistence: true,
		ValidationMode:           ValidationStrict,
		SectionPriorities:        []string{"system", "notes", "artifacts"},
		LockTimeout:              30 * time.Second,
		MessageRetention:         72 * time.Hour,
		DelegationTimeout:        time.Hour,
		LLMRetryConfig: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    10 * time.Second,
		},
	}
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid config passes", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("missing required fields are each reported", func(t *testing.T) {
		cases := []struct {
			name   string
			mutate func(*Config)
			want   string
		}{
			{"token_budget", func(c *Config) { c.TokenBudget = 0 }, "token_budget"},
			{"checkpoint_retention", func(c *Config) { c.CheckpointRetention = 0 }, "checkpoint_retention"},
			{"stale_threshold", func(c *Config) { c.StaleThreshold = 0 }, "stale_threshold"},
			{"validation_mode", func(c *Config) { c.ValidationMode = "" }, "validation_mode"},
			{"section_priorities", func(c *Config) { c.SectionPriorities = nil }, "section_priorities"},
			{"lock_timeout", func(c *Config) { c.LockTimeout = 0 }, "lock_timeout"},
			{"message_retention", func(c *Config) { c.MessageRetention = 0 }, "message_retention"},
			{"delegation_timeout", func(c *Config) { c.DelegationTimeout = 0 }, "delegation_timeout"},
			{"retry max_attempts", func(c *Config) { c.LLMRetryConfig.MaxAttempts = 0 }, "max_attempts"},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				cfg := validConfig()
				tc.mutate(cfg)
				err := cfg.Validate()
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.want)
			})
		}
	})

	t.Run("invalid validation_mode rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.ValidationMode = "bogus"
		require.Error(t, cfg.Validate())
	})

	t.Run("contradiction_threshold must be in (0,1]", func(t *testing.T) {
		cfg := validConfig()
		cfg.ContradictionThreshold = 1.5
		require.Error(t, cfg.Validate())
	})
}

func TestLoadConfigFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "caliber.yaml")
	const doc = `
token_budget: 200000
checkpoint_retention: 168h
stale_threshold: 5m
contradiction_threshold: 0.35
context_window_persistence: true
validation_mode: strict
section_priorities: [system, notes, artifacts]
lock_timeout: 30s
message_retention: 72h
delegation_timeout: 1h
llm_retry_config:
  max_attempts: 3
  base_delay: 500ms
  max_delay: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	require.NoError(t, err)
	defer loader.Close()

	assert.Equal(t, 200000, cfg.TokenBudget)
	assert.Equal(t, ValidationStrict, cfg.ValidationMode)
	assert.Equal(t, []string{"system", "notes", "artifacts"}, cfg.SectionPriorities)
	assert.Equal(t, 3, cfg.LLMRetryConfig.MaxAttempts)
}

func TestLoadConfigFileMissingRequiredField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "caliber.yaml")
	const doc = `
checkpoint_retention: 168h
stale_threshold: 5m
contradiction_threshold: 0.35
validation_mode: strict
section_priorities: [system]
lock_timeout: 30s
message_retention: 72h
delegation_timeout: 1h
llm_retry_config:
  max_attempts: 3
  base_delay: 500ms
  max_delay: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, _, err := LoadConfigFile(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token_budget")
}
