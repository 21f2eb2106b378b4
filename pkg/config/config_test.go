package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
api_base: http://localhost:8080/v1
model: gpt-4
workspace: /tmp/ws
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Stream)
	assert.Equal(t, 300, cfg.LLMTimeout)
	assert.Equal(t, 600, cfg.TaskTimeout)
	assert.Equal(t, 5, cfg.MaxConcurrentAgents)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 60, cfg.Retry.MaxDelay)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
}

func TestLoadHonorsExplicitStreamFalse(t *testing.T) {
	path := writeConfig(t, `
api_base: http://localhost:8080/v1
model: gpt-4
workspace: /tmp/ws
stream: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Stream)
}

func TestLoadIgnoresUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
api_base: http://localhost:8080/v1
model: gpt-4
workspace: /tmp/ws
some_future_option: true
`)
	_, err := Load(path)
	require.NoError(t, err)
}

func TestLoadMissingRequiredField(t *testing.T) {
	path := writeConfig(t, `
model: gpt-4
workspace: /tmp/ws
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	path := writeConfig(t, `
api_base: http://localhost:8080/v1
model: gpt-4
workspace: /tmp/ws
`)
	t.Setenv("ORCH_MODEL", "gpt-4o")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.Model)
}

func TestRoleEnabledDefaultsTrue(t *testing.T) {
	cfg := &Config{Roles: map[string]RoleConfig{}}
	assert.True(t, cfg.RoleEnabled("analyst"))
}

func TestRoleEnabledHonorsOverride(t *testing.T) {
	disabled := false
	cfg := &Config{Roles: map[string]RoleConfig{"operator": {Enabled: &disabled}}}
	assert.False(t, cfg.RoleEnabled("operator"))
}
