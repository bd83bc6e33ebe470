package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Proxy     ProxyConfig
	Session   SessionConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// ProxyConfig holds rewrite engine configuration.
type ProxyConfig struct {
	// BaseURL is the public origin of this proxy, used as the gateway
	// URL prefix in rewritten content.
	BaseURL string `envconfig:"PROXY_BASE_URL" default:"http://localhost:8080"`
	// RulesFile optionally points at a YAML file with the blocklist,
	// operator scripts, and declarative rewrite rules.
	RulesFile string `envconfig:"PROXY_RULES_FILE" default:""`
	// Minify enables output minification of rewritten HTML.
	Minify bool `envconfig:"PROXY_MINIFY" default:"false"`
	// FetchTimeout bounds one origin fetch by the reference engine.
	FetchTimeout time.Duration `envconfig:"PROXY_FETCH_TIMEOUT" default:"30s"`
	// DataDir is reserved for on-disk session persistence; the core
	// contract keeps sessions in memory and does not use it yet.
	DataDir string `envconfig:"PROXY_DATA_DIR" default:""`
}

// SessionConfig bounds the session store.
type SessionConfig struct {
	MaxSessions   int           `envconfig:"SESSION_MAX" default:"1000"`
	Timeout       time.Duration `envconfig:"SESSION_TIMEOUT" default:"30m"`
	SweepInterval time.Duration `envconfig:"SESSION_SWEEP_INTERVAL" default:"1m"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration for both the API
// surface (per-second token bucket) and the pipeline handler (sliding
// window).
type RateLimitConfig struct {
	RequestsPerSecond int           `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int           `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Window            time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	MaxPerWindow      int           `envconfig:"RATE_LIMIT_MAX" default:"600"`
	Enabled           bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		Proxy: ProxyConfig{
			BaseURL:      "http://localhost:8080",
			FetchTimeout: 30 * time.Second,
		},
		Session: SessionConfig{
			MaxSessions:   1000,
			Timeout:       30 * time.Minute,
			SweepInterval: time.Minute,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Window:            time.Minute,
			MaxPerWindow:      600,
			Enabled:           true,
		},
	}
}
