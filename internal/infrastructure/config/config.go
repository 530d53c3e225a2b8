package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all workspace configuration.
type Config struct {
	Backend   BackendConfig
	Workspace WorkspaceConfig
	Logging   LogConfig
	Status    StatusConfig
}

// BackendConfig holds the remote backend connection settings.
type BackendConfig struct {
	URL         string        `envconfig:"ZCRAFT_BACKEND_URL" default:"http://localhost:8000"`
	TerminalURL string        `envconfig:"ZCRAFT_TERMINAL_URL"`
	Timeout     time.Duration `envconfig:"ZCRAFT_HTTP_TIMEOUT" default:"30s"`
	Retries     int           `envconfig:"ZCRAFT_HTTP_RETRIES" default:"3"`
	RateLimit   float64       `envconfig:"ZCRAFT_RATE_LIMIT_RPS" default:"0"`
}

// WorkspaceConfig holds client-side session policy.
type WorkspaceConfig struct {
	SaveStatusWindow time.Duration `envconfig:"ZCRAFT_SAVE_STATUS_WINDOW" default:"3s"`
	ProfilePath      string        `envconfig:"ZCRAFT_PROFILE"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// StatusConfig holds the optional local status server configuration.
type StatusConfig struct {
	Addr string `envconfig:"ZCRAFT_STATUS_ADDR"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
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
	cfg := &Config{
		Backend: BackendConfig{
			URL:     "http://localhost:8000",
			Timeout: 30 * time.Second,
			Retries: 3,
		},
		Workspace: WorkspaceConfig{
			SaveStatusWindow: 3 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
	_ = cfg.normalize()
	return cfg
}

func (c *Config) normalize() error {
	c.Backend.URL = strings.TrimSuffix(c.Backend.URL, "/")
	if c.Backend.TerminalURL == "" {
		ws, err := TerminalURLFor(c.Backend.URL)
		if err != nil {
			return fmt.Errorf("invalid backend url %q: %w", c.Backend.URL, err)
		}
		c.Backend.TerminalURL = ws
	}
	if c.Workspace.SaveStatusWindow <= 0 {
		c.Workspace.SaveStatusWindow = 3 * time.Second
	}
	return nil
}

// TerminalURLFor derives the terminal WebSocket endpoint from the backend URL.
func TerminalURLFor(backendURL string) (string, error) {
	u, err := url.Parse(backendURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/terminal/ws"
	return u.String(), nil
}
