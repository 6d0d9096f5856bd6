// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates CALIBER's top-level configuration
// record. Every field is required unless explicitly marked optional: there
// are no implicit defaults, matching the "no implicit defaults" non-goal.
//
// Example config:
//
//	token_budget: 200000
//	checkpoint_retention: 168h
//	stale_threshold: 5m
//	contradiction_threshold: 0.35
//	context_window_persistence: true
//	validation_mode: strict
//	section_priorities:
//	  - system
//	  - notes
//	  - artifacts
//	lock_timeout: 30s
//	message_retention: 72h
//	delegation_timeout: 1h
//	llm_retry_config:
//	  max_attempts: 3
//	  base_delay: 500ms
//	  max_delay: 10s
package config

import (
	"fmt"
	"time"
)

// ValidationMode controls how strictly inbound data is checked before
// persistence.
type ValidationMode string

const (
	ValidationStrict   ValidationMode = "strict"
	ValidationLenient  ValidationMode = "lenient"
	ValidationDisabled ValidationMode = "disabled"
)

// RetryConfig bounds retry behavior for LLM/provider calls ("LLM/Provider"
// errors retried at the data-access layer with explicit, bounded backoff).
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

func (r RetryConfig) Validate() error {
	if r.MaxAttempts <= 0 {
		return fmt.Errorf("missing required field: llm_retry_config.max_attempts")
	}
	if r.BaseDelay <= 0 {
		return fmt.Errorf("missing required field: llm_retry_config.base_delay")
	}
	if r.MaxDelay <= 0 {
		return fmt.Errorf("missing required field: llm_retry_config.max_delay")
	}
	if r.MaxDelay < r.BaseDelay {
		return fmt.Errorf("llm_retry_config.max_delay must be >= base_delay")
	}
	return nil
}

// ProviderRef names an adapter CALIBER delegates to; the adapter's own
// config (API keys, endpoints) is that adapter's concern, out of scope here
// ("does not own LLM inference... beyond delegating... to adapters").
type ProviderRef struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
}

// Config is CALIBER's required top-level record.
type Config struct {
	TokenBudget               int            `yaml:"token_budget"`
	CheckpointRetention       time.Duration  `yaml:"checkpoint_retention"`
	StaleThreshold            time.Duration  `yaml:"stale_threshold"`
	ContradictionThreshold    float64        `yaml:"contradiction_threshold"`
	ContextWindowPersistence  bool           `yaml:"context_window_persistence"`
	ValidationMode            ValidationMode `yaml:"validation_mode"`
	SectionPriorities         []string       `yaml:"section_priorities"`
	LockTimeout               time.Duration  `yaml:"lock_timeout"`
	MessageRetention          time.Duration  `yaml:"message_retention"`
	DelegationTimeout         time.Duration  `yaml:"delegation_timeout"`
	LLMRetryConfig            RetryConfig    `yaml:"llm_retry_config"`

	// Optional: CALIBER does not own embedding/summarization generation;
	// these merely name which adapter a pack may route to by default.
	EmbeddingProvider     *ProviderRef `yaml:"embedding_provider,omitempty"`
	SummarizationProvider *ProviderRef `yaml:"summarization_provider,omitempty"`
}

// Validate enforces the no-defaults rule: every listed field must be present and
// well-formed; there is no fallback default.
func (c *Config) Validate() error {
	if c.TokenBudget <= 0 {
		return fmt.Errorf("missing required field: token_budget")
	}
	if c.CheckpointRetention <= 0 {
		return fmt.Errorf("missing required field: checkpoint_retention")
	}
	if c.StaleThreshold <= 0 {
		return fmt.Errorf("missing required field: stale_threshold")
	}
	if c.ContradictionThreshold <= 0 || c.ContradictionThreshold > 1 {
		return fmt.Errorf("contradiction_threshold must be in (0, 1]")
	}
	switch c.ValidationMode {
	case ValidationStrict, ValidationLenient, ValidationDisabled:
	case "":
		return fmt.Errorf("missing required field: validation_mode")
	default:
		return fmt.Errorf("invalid validation_mode: %q", c.ValidationMode)
	}
	if len(c.SectionPriorities) == 0 {
		return fmt.Errorf("missing required field: section_priorities")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("missing required field: lock_timeout")
	}
	if c.MessageRetention <= 0 {
		return fmt.Errorf("missing required field: message_retention")
	}
	if c.DelegationTimeout <= 0 {
		return fmt.Errorf("missing required field: delegation_timeout")
	}
	if err := c.LLMRetryConfig.Validate(); err != nil {
		return err
	}
	return nil
}
