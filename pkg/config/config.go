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

// Package config loads the orchestration engine's option table from a
// YAML file, overlays environment variable overrides, and validates the
// result. Unknown keys are ignored rather than rejected.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// RetryConfig mirrors resilience.Config's tunable retry parameters.
type RetryConfig struct {
	MaxAttempts  int     `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialDelay int     `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     int     `mapstructure:"max_delay" yaml:"max_delay"`
	Jitter       float64 `mapstructure:"jitter" yaml:"jitter"`
}

// BreakerConfig mirrors resilience.Config's circuit breaker parameters.
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	RecoveryTimeout  int `mapstructure:"recovery_timeout" yaml:"recovery_timeout"`
}

// PoolConfig mirrors clientpool.Config's recycling policy.
type PoolConfig struct {
	MaxAge           int `mapstructure:"max_age" yaml:"max_age"`
	FailureThreshold int `mapstructure:"failure_threshold" yaml:"failure_threshold"`
}

// RoleConfig overrides one role's system prompt or disables it entirely.
type RoleConfig struct {
	SystemPrompt string `mapstructure:"system_prompt" yaml:"system_prompt"`
	Enabled      *bool  `mapstructure:"enabled" yaml:"enabled"`
}

// Config is the full §6.4 option table.
type Config struct {
	APIBase     string  `mapstructure:"api_base" yaml:"api_base" validate:"required"`
	APIKey      string  `mapstructure:"api_key" yaml:"api_key"`
	Model       string  `mapstructure:"model" yaml:"model" validate:"required"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Stream      bool    `mapstructure:"stream" yaml:"stream"`

	LLMTimeout  int `mapstructure:"llm_timeout" yaml:"llm_timeout"`
	TaskTimeout int `mapstructure:"task_timeout" yaml:"task_timeout"`

	MaxConcurrentAgents int `mapstructure:"max_concurrent_agents" yaml:"max_concurrent_agents" validate:"gte=0"`

	Retry   RetryConfig   `mapstructure:"retry" yaml:"retry"`
	Breaker BreakerConfig `mapstructure:"breaker" yaml:"breaker"`
	Pool    PoolConfig    `mapstructure:"pool" yaml:"pool"`

	Workspace      string `mapstructure:"workspace" yaml:"workspace" validate:"required"`
	OutputDir      string `mapstructure:"output_dir" yaml:"output_dir"`
	LogDir         string `mapstructure:"log_dir" yaml:"log_dir"`
	CheckpointPath string `mapstructure:"checkpoint_path" yaml:"checkpoint_path"`

	StructuredLogging bool `mapstructure:"structured_logging" yaml:"structured_logging"`
	MetricsEnabled    bool `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`

	Roles map[string]RoleConfig `mapstructure:"roles" yaml:"roles"`
}

// SetDefaults fills in every option the spec gives a default for. Stream
// defaults to on, but that default is set inline by Load on the raw map
// before decoding, since a decoded zero-value bool cannot be told apart
// from an explicit "stream: false".
func (c *Config) SetDefaults() {
	if c.LLMTimeout == 0 {
		c.LLMTimeout = 300
	}
	if c.TaskTimeout == 0 {
		c.TaskTimeout = 600
	}
	if c.MaxConcurrentAgents == 0 {
		c.MaxConcurrentAgents = 5
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = 1
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 60
	}
	if c.Retry.Jitter == 0 {
		c.Retry.Jitter = 0.25
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.RecoveryTimeout == 0 {
		c.Breaker.RecoveryTimeout = 60
	}
	if c.OutputDir == "" {
		c.OutputDir = "./output"
	}
	if c.LogDir == "" {
		c.LogDir = "./logs"
	}
	if c.CheckpointPath == "" {
		c.CheckpointPath = "./checkpoints.db"
	}
}

var validate = validator.New()

// Validate enforces the struct's `validate` tags.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// RoleEnabled reports whether role is enabled, defaulting to true when
// unconfigured.
func (c *Config) RoleEnabled(role string) bool {
	rc, ok := c.Roles[role]
	if !ok || rc.Enabled == nil {
		return true
	}
	return *rc.Enabled
}

// Load reads path as YAML, applies "ORCH_"-prefixed environment variable
// overrides, decodes into a Config, fills defaults, and validates.
// Keys present in the file or environment that the Config struct does
// not recognize are silently ignored, per the option table's "unknown
// keys must be ignored, not fatal" rule.
func Load(path string) (*Config, error) {
	raw := make(map[string]interface{})

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(raw)
	if _, set := raw["stream"]; !set {
		raw["stream"] = true
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      false,
		Result:           cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("config: building decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// envPrefix is the namespace every recognized environment override lives
// under, e.g. ORCH_API_BASE overrides api_base.
const envPrefix = "ORCH_"

// applyEnvOverrides mutates raw in place, setting/overwriting top-level
// keys from any "ORCH_<KEY>" environment variable present. Nested keys
// (retry.*, breaker.*, pool.*, roles.*) are not overridable via
// environment variables; the YAML file is authoritative for those.
func applyEnvOverrides(raw map[string]interface{}) {
	for _, entry := range os.Environ() {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(name, envPrefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, envPrefix))
		raw[key] = coerce(value)
	}
}

// coerce turns an environment string into the scalar type mapstructure
// would otherwise find in YAML, so boolean/int fields decode correctly.
func coerce(value string) interface{} {
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}
