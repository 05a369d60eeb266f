// Package config loads the gateway's TOML configuration file and applies
// SKYNET_-prefixed environment overrides on top of it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure, loaded from
// ~/.skynet/skynet.toml by default.
type Config struct {
	Gateway   GatewayConfig   `toml:"gateway"`
	Agent     AgentConfig     `toml:"agent"`
	Providers ProvidersConfig `toml:"providers"`
	Channels  ChannelsConfig  `toml:"channels"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Storage   StorageConfig   `toml:"storage"`
	Webhooks  WebhooksConfig  `toml:"webhooks"`
}

// GatewayConfig configures the HTTP/WS bind address and auth.
type GatewayConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
	Auth string `toml:"auth"` // bearer token, empty disables auth
}

// AgentConfig configures the default model, persona, and the sandboxed
// workspace root tools operate against.
type AgentConfig struct {
	Model         string `toml:"model"`
	SoulPath      string `toml:"soul_path"`
	WorkspacePath string `toml:"workspace_path"`
}

// ProviderCredential holds per-provider credential fields. Not every
// field applies to every provider kind; unused fields are left empty.
type ProviderCredential struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Region         string `toml:"region"`
	ProjectID      string `toml:"project_id"`
	ServiceAccount string `toml:"service_account_path"`
	RefreshToken   string `toml:"refresh_token"`
	// CredentialsPath is a JSON credential file a provider refreshes and
	// rewrites in place (qwen's refresh_token flow).
	CredentialsPath string `toml:"credentials_path"`
	MaxRetries      int    `toml:"max_retries"`
	Enabled         bool   `toml:"enabled"`
}

// ProvidersConfig lists credentials for every supported backend, keyed by
// provider name (anthropic, openai, bedrock, vertex, copilot, ollama, cli, qwen).
type ProvidersConfig struct {
	Order     []string                      `toml:"order"`
	Providers map[string]ProviderCredential `toml:"providers"`
}

// ChannelsConfig configures the front-end channel adapters.
type ChannelsConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
	Discord  DiscordConfig  `toml:"discord"`
}

// TelegramConfig configures the Telegram bot adapter.
type TelegramConfig struct {
	Enabled bool   `toml:"enabled"`
	Token   string `toml:"token"`
}

// DiscordConfig configures the Discord bot adapter.
type DiscordConfig struct {
	Enabled bool   `toml:"enabled"`
	Token   string `toml:"token"`
}

// WebhooksConfig configures inbound webhook ingress, one entry per source
// name, each independently authenticated.
type WebhooksConfig struct {
	Enabled bool             `toml:"enabled"`
	Sources []WebhookSource  `toml:"sources"`
}

// WebhookSource authenticates one POST /webhooks/:source path.
type WebhookSource struct {
	Name     string `toml:"name"`
	AuthMode string `toml:"auth_mode"` // hmac_sha256, bearer_token, none
	Secret   string `toml:"secret"`
}

// SchedulerConfig configures default scheduler tick behavior.
type SchedulerConfig struct {
	TickInterval time.Duration `toml:"-"`
	TickSeconds  int           `toml:"tick_seconds"`
}

// StorageConfig configures the SQLite database location.
type StorageConfig struct {
	Path string `toml:"path"`
}

// defaults returns a Config populated with sane defaults, applied before
// the TOML file and env overrides are layered on.
func defaults() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Gateway: GatewayConfig{Bind: "0.0.0.0", Port: 8787},
		Agent: AgentConfig{
			Model:         "claude-sonnet-4-20250514",
			SoulPath:      home + "/.skynet/soul.md",
			WorkspacePath: home + "/.skynet/workspace",
		},
		Providers: ProvidersConfig{
			Providers: map[string]ProviderCredential{},
		},
		Scheduler: SchedulerConfig{TickSeconds: 1},
		Storage:   StorageConfig{Path: home + "/.skynet/skynet.db"},
	}
}

// Load reads the TOML file at path (default ~/.skynet/skynet.toml),
// applies defaults first, then SKYNET_-prefixed environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path == "" {
		home, _ := os.UserHomeDir()
		path = home + "/.skynet/skynet.toml"
	}
	if _, err := os.Stat(path); err == nil {
		expanded, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if _, err := toml.Decode(os.ExpandEnv(string(expanded)), &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	if cfg.Scheduler.TickSeconds <= 0 {
		cfg.Scheduler.TickSeconds = 1
	}
	cfg.Scheduler.TickInterval = time.Duration(cfg.Scheduler.TickSeconds) * time.Second
	return &cfg, nil
}

// applyEnvOverrides layers SKYNET_-prefixed environment variables on top
// of the file-loaded config. Only the fields operators commonly need to
// override in containerized deployments are bound; everything else stays
// file-only, matching the teacher's explicit-field-override idiom rather
// than reflection-based binding.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("SKYNET_GATEWAY_BIND"); ok {
		cfg.Gateway.Bind = v
	}
	if v, ok := os.LookupEnv("SKYNET_GATEWAY_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = n
		}
	}
	if v, ok := os.LookupEnv("SKYNET_GATEWAY_AUTH"); ok {
		cfg.Gateway.Auth = v
	}
	if v, ok := os.LookupEnv("SKYNET_AGENT_MODEL"); ok {
		cfg.Agent.Model = v
	}
	if v, ok := os.LookupEnv("SKYNET_STORAGE_PATH"); ok {
		cfg.Storage.Path = v
	}
	if v, ok := os.LookupEnv("SKYNET_CHANNELS_TELEGRAM_TOKEN"); ok {
		cfg.Channels.Telegram.Token = v
		cfg.Channels.Telegram.Enabled = true
	}
	if v, ok := os.LookupEnv("SKYNET_CHANNELS_DISCORD_TOKEN"); ok {
		cfg.Channels.Discord.Token = v
		cfg.Channels.Discord.Enabled = true
	}
	for _, e := range os.Environ() {
		const prefix = "SKYNET_PROVIDER_"
		if !strings.HasPrefix(e, prefix) {
			continue
		}
		kv := strings.SplitN(e, "=", 2)
		if len(kv) != 2 {
			continue
		}
		// SKYNET_PROVIDER_<NAME>_API_KEY=...
		rest := strings.TrimPrefix(kv[0], prefix)
		parts := strings.SplitN(rest, "_", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.ToLower(parts[0])
		field := parts[1]
		if cfg.Providers.Providers == nil {
			cfg.Providers.Providers = map[string]ProviderCredential{}
		}
		cred := cfg.Providers.Providers[name]
		switch field {
		case "API_KEY":
			cred.APIKey = kv[1]
			cred.Enabled = true
		case "BASE_URL":
			cred.BaseURL = kv[1]
		case "REGION":
			cred.Region = kv[1]
		}
		cfg.Providers.Providers[name] = cred
	}
}
