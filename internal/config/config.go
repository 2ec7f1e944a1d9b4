// Package config holds the gateway configuration: a JSON5 file merged over
// defaults, with secrets taken from the environment only.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/titanous/json5"
)

// Config is the root configuration for the swarmgate gateway.
type Config struct {
	Swarm     SwarmConfig     `json:"swarm"`
	Gateway   GatewayConfig   `json:"gateway"`
	Storage   StorageConfig   `json:"storage"`
	Providers ProvidersConfig `json:"providers"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// SwarmConfig bounds the orchestration kernel.
type SwarmConfig struct {
	// ProjectsRoot is the base path under which agent project bindings resolve.
	ProjectsRoot string `json:"projects_root"`
	// MaxDepth caps nested engine invocations (tool and delegation recursion).
	MaxDepth int `json:"max_depth"`
	// HistoryWindow is the number of trailing history entries included in prompts.
	HistoryWindow int `json:"history_window"`
}

// GatewayConfig configures the HTTP/WebSocket listener.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	// RateLimitRPM bounds WebSocket connects per client IP per minute.
	// 0 disables limiting.
	RateLimitRPM int `json:"rate_limit_rpm"`
}

// StorageConfig selects the agent persistence backend.
// Backend: "memory" (no persistence), "file", "sqlite", or "postgres".
type StorageConfig struct {
	Backend string `json:"backend"`
	// Dir holds per-agent JSON blobs for the file backend.
	Dir string `json:"dir,omitempty"`
	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `json:"sqlite_path,omitempty"`
	// PostgresDSN is never read from the config file (secret) — only from
	// env SWARMGATE_POSTGRES_DSN.
	PostgresDSN string `json:"-"`
}

// ProvidersConfig holds model-backend defaults and the retry policy.
// Per-agent endpoint and credential live on the agent record.
type ProvidersConfig struct {
	AnthropicAPIKey string `json:"-"` // env SWARMGATE_ANTHROPIC_API_KEY only
	OpenAIAPIKey    string `json:"-"` // env SWARMGATE_OPENAI_API_KEY only

	// Retry policy for transient provider failures.
	MaxRetries int `json:"max_retries"`
	// RetryBaseDelayMS is the first backoff delay; it doubles per attempt.
	RetryBaseDelayMS int `json:"retry_base_delay_ms"`
}

// RetryBaseDelay returns the configured base delay as a duration.
func (p ProvidersConfig) RetryBaseDelay() time.Duration {
	return time.Duration(p.RetryBaseDelayMS) * time.Millisecond
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	// OTLPEndpoint is the collector endpoint (host:port). Empty disables tracing.
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"`
	Insecure     bool   `json:"insecure,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Swarm: SwarmConfig{
			ProjectsRoot:  "/projects",
			MaxDepth:      5,
			HistoryWindow: 50,
		},
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         18900,
			RateLimitRPM: 0,
		},
		Storage: StorageConfig{
			Backend: "file",
			Dir:     "~/.swarmgate/agents",
		},
		Providers: ProvidersConfig{
			MaxRetries:       4,
			RetryBaseDelayMS: 2000,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.expandPaths()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("SWARMGATE_ANTHROPIC_API_KEY", &c.Providers.AnthropicAPIKey)
	envStr("SWARMGATE_OPENAI_API_KEY", &c.Providers.OpenAIAPIKey)
	envStr("SWARMGATE_POSTGRES_DSN", &c.Storage.PostgresDSN)
	envStr("SWARMGATE_PROJECTS_ROOT", &c.Swarm.ProjectsRoot)
	envStr("SWARMGATE_HOST", &c.Gateway.Host)
	envStr("SWARMGATE_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	if v := os.Getenv("SWARMGATE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Gateway.Port = port
		}
	}
	c.expandPaths()
}

// expandPaths resolves ~ in storage paths.
func (c *Config) expandPaths() {
	c.Storage.Dir = ExpandHome(c.Storage.Dir)
	c.Storage.SQLitePath = ExpandHome(c.Storage.SQLitePath)
}

// ExpandHome resolves a leading ~/ against the user's home directory.
func ExpandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
