package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, toml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "skynet.toml")
	require.NoError(t, os.WriteFile(path, []byte(toml), 0o644))
	return path
}

func TestLoadDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Gateway.Bind)
	assert.Equal(t, 8787, cfg.Gateway.Port)
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.Agent.Model)
	assert.Equal(t, 1, cfg.Scheduler.TickSeconds)
	assert.Equal(t, time.Second, cfg.Scheduler.TickInterval)
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
[gateway]
bind = "127.0.0.1"
port = 9090

[agent]
model = "claude-opus-4-20250514"
workspace_path = "/tmp/skynet-workspace"

[scheduler]
tick_seconds = 5

[providers]
order = ["anthropic", "openai"]

[providers.providers.anthropic]
api_key = "sk-ant-test"
enabled = true

[providers.providers.openai]
api_key = "sk-test"
enabled = false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Gateway.Bind)
	assert.Equal(t, 9090, cfg.Gateway.Port)
	assert.Equal(t, "claude-opus-4-20250514", cfg.Agent.Model)
	assert.Equal(t, "/tmp/skynet-workspace", cfg.Agent.WorkspacePath)
	assert.Equal(t, 5, cfg.Scheduler.TickSeconds)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, []string{"anthropic", "openai"}, cfg.Providers.Order)

	require.Contains(t, cfg.Providers.Providers, "anthropic")
	assert.True(t, cfg.Providers.Providers["anthropic"].Enabled)
	assert.Equal(t, "sk-ant-test", cfg.Providers.Providers["anthropic"].APIKey)
	assert.False(t, cfg.Providers.Providers["openai"].Enabled)
}

func TestLoadNonPositiveTickSecondsFallsBackToDefault(t *testing.T) {
	path := writeConfig(t, `
[scheduler]
tick_seconds = 0
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Scheduler.TickSeconds, "non-positive tick_seconds falls back to the default")
}

func TestApplyEnvOverridesProviderCredential(t *testing.T) {
	t.Setenv("SKYNET_PROVIDER_ANTHROPIC_API_KEY", "sk-ant-from-env")
	t.Setenv("SKYNET_GATEWAY_PORT", "1234")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, 1234, cfg.Gateway.Port)
	require.Contains(t, cfg.Providers.Providers, "anthropic")
	assert.Equal(t, "sk-ant-from-env", cfg.Providers.Providers["anthropic"].APIKey)
	assert.True(t, cfg.Providers.Providers["anthropic"].Enabled)
}

func TestApplyEnvOverridesChannelTokenEnablesAdapter(t *testing.T) {
	t.Setenv("SKYNET_CHANNELS_DISCORD_TOKEN", "discord-token")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.True(t, cfg.Channels.Discord.Enabled)
	assert.Equal(t, "discord-token", cfg.Channels.Discord.Token)
}
