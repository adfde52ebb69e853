package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models bountyd.yml plus the environment overrides bound in cmd.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Storage struct {
		// Path is the directory holding the SQLite database file.
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Auth struct {
		// AdminSecret guards operator endpoints (force refresh). Empty
		// means those endpoints are disabled, not open.
		AdminSecret string `yaml:"admin_secret"`
	} `yaml:"auth"`
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	Webhooks struct {
		// SigningSecret keys the HMAC signature on outbound callback
		// deliveries. Empty disables signing, not delivery.
		SigningSecret  string `yaml:"signing_secret"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"webhooks"`
	Registry RegistryConfig `yaml:"registry"`
	Expiry   struct {
		CheckIntervalSeconds int `yaml:"check_interval_seconds"`
	} `yaml:"expiry"`
}

type RegistryConfig struct {
	BaseURL             string `yaml:"base_url"`
	CachePath           string `yaml:"cache_path"`
	TTLSeconds          int    `yaml:"ttl_seconds"`
	FetchTimeoutSeconds int    `yaml:"fetch_timeout_seconds"`
	PageSize            int    `yaml:"page_size"`
	ConcurrentPages     int    `yaml:"concurrent_pages"`
}

func (r RegistryConfig) TTL() time.Duration {
	if r.TTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(r.TTLSeconds) * time.Second
}

func (r RegistryConfig) FetchTimeout() time.Duration {
	if r.FetchTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(r.FetchTimeoutSeconds) * time.Second
}

func (c *Config) WebhookTimeout() time.Duration {
	if c.Webhooks.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Webhooks.TimeoutSeconds) * time.Second
}

func (c *Config) ExpiryInterval() time.Duration {
	if c.Expiry.CheckIntervalSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(c.Expiry.CheckIntervalSeconds) * time.Second
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Registry.BaseURL != "" {
		u, err := url.Parse(c.Registry.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("config.registry.base_url must be an http(s) URL")
		}
	}
	if c.Registry.PageSize < 0 || c.Registry.ConcurrentPages < 0 {
		return fmt.Errorf("config.registry pagination values must be positive")
	}
	for _, origin := range c.CORS.AllowedOrigins {
		if origin == "" {
			return fmt.Errorf("config.cors.allowed_origins contains empty origin")
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "bountyd.yml")
}

// Load reads config from workspace, falling back to defaults when the file
// is absent.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the config used when no file or overrides are present.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = ":8080"
	cfg.Server.BasePath = "/api/v1"
	cfg.Storage.Path = "."
	cfg.Registry.BaseURL = "https://acpx.virtuals.io/api/agents"
	cfg.Registry.CachePath = filepath.Join("data", "acp_cache.json")
	cfg.Registry.TTLSeconds = 300
	cfg.Registry.FetchTimeoutSeconds = 30
	cfg.Registry.PageSize = 100
	cfg.Registry.ConcurrentPages = 5
	cfg.Webhooks.TimeoutSeconds = 5
	cfg.Expiry.CheckIntervalSeconds = 3600
	return &cfg
}
