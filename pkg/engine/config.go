package engine

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Cache backend names accepted by CacheConfig.
const (
	CacheOff    = "off"
	CacheFile   = "file"
	CacheSQLite = "sqlite"
	CacheRedis  = "redis"
)

// Config is the process-wide engine configuration installed with Configure.
type Config struct {
	// Logger receives engine and client diagnostics. Set by the caller,
	// not from YAML; the zero value discards everything.
	Logger zerolog.Logger `yaml:"-"`

	Providers []ProviderConfig `yaml:"providers"`
	Models    []ModelConfig    `yaml:"models"`
	Cache     CacheConfig      `yaml:"cache"`

	// DefaultMaxTokens is the output budget for models without their own
	// max_tokens override. Zero keeps the client default.
	DefaultMaxTokens int `yaml:"default_max_tokens"`
}

// ProviderConfig carries the credential and endpoint for one provider kind.
// An empty APIKey defers to the provider's environment variable; an empty
// BaseURL uses the provider's production endpoint.
type ProviderConfig struct {
	Kind    string `yaml:"kind"`
	APIKey  string `yaml:"api_key"` //nolint:gosec // configuration field, not a hardcoded secret
	BaseURL string `yaml:"base_url"`
}

// ModelConfig overrides the built-in reliability defaults for one full
// model identifier. Zero values keep the built-in defaults.
type ModelConfig struct {
	Model         string `yaml:"model"`
	RPM           int    `yaml:"rpm"`
	Retries       int    `yaml:"retries"`
	RetryDelay    string `yaml:"retry_delay"`    // duration string, e.g. "1s", "500ms"
	RetryStrategy string `yaml:"retry_strategy"` // "constant" or "exponential"
	MaxTokens     int    `yaml:"max_tokens"`
}

// CacheConfig selects the response cache backend. An empty Backend means no
// caching.
type CacheConfig struct {
	Backend string      `yaml:"backend"`
	Dir     string      `yaml:"dir"`  // file backend root
	Path    string      `yaml:"path"` // sqlite database file
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds the redis cache backend connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTL      string `yaml:"ttl"` // duration string; empty keeps entries forever
}

// LoadConfig reads a YAML file and returns a Config.
// Environment variables referenced as ${VAR} or $VAR in the YAML are
// expanded before parsing, so API keys can live in the environment (e.g.
// loaded from a .env file) rather than in the file itself.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("engine: load config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("engine: parse config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	kinds := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if p.Kind == "" {
			return fmt.Errorf("engine: config: provider kind is required")
		}
		if _, dup := kinds[p.Kind]; dup {
			return fmt.Errorf("engine: config: duplicate provider kind %q", p.Kind)
		}
		kinds[p.Kind] = struct{}{}
	}

	models := make(map[string]struct{}, len(c.Models))
	for _, m := range c.Models {
		if m.Model == "" {
			return fmt.Errorf("engine: config: model identifier is required")
		}
		if !strings.Contains(m.Model, ":") {
			return fmt.Errorf("engine: config: model %q: want provider:model", m.Model)
		}
		if _, dup := models[m.Model]; dup {
			return fmt.Errorf("engine: config: duplicate model %q", m.Model)
		}
		models[m.Model] = struct{}{}

		if m.RPM < 0 {
			return fmt.Errorf("engine: config: model %q: rpm must not be negative", m.Model)
		}
		if m.Retries < 0 {
			return fmt.Errorf("engine: config: model %q: retries must not be negative", m.Model)
		}
		if m.RetryDelay != "" {
			if _, err := time.ParseDuration(m.RetryDelay); err != nil {
				return fmt.Errorf("engine: config: model %q: invalid retry_delay %q: %w", m.Model, m.RetryDelay, err)
			}
		}
		switch m.RetryStrategy {
		case "", "constant", "exponential":
		default:
			return fmt.Errorf("engine: config: model %q: unknown retry_strategy %q", m.Model, m.RetryStrategy)
		}
	}

	switch c.Cache.Backend {
	case "", CacheOff:
	case CacheFile:
		if c.Cache.Dir == "" {
			return fmt.Errorf("engine: config: cache: dir is required for the file backend")
		}
	case CacheSQLite:
		if c.Cache.Path == "" {
			return fmt.Errorf("engine: config: cache: path is required for the sqlite backend")
		}
	case CacheRedis:
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("engine: config: cache: redis addr is required")
		}
		if c.Cache.Redis.TTL != "" {
			if _, err := time.ParseDuration(c.Cache.Redis.TTL); err != nil {
				return fmt.Errorf("engine: config: cache: invalid redis ttl %q: %w", c.Cache.Redis.TTL, err)
			}
		}
	default:
		return fmt.Errorf("engine: config: unknown cache backend %q", c.Cache.Backend)
	}

	if c.DefaultMaxTokens < 0 {
		return fmt.Errorf("engine: config: default_max_tokens must not be negative")
	}

	return nil
}

// provider returns the configured settings for a provider kind, or the zero
// value when the kind is not configured.
func (c Config) provider(kind string) ProviderConfig {
	for _, p := range c.Providers {
		if p.Kind == kind {
			return p
		}
	}
	return ProviderConfig{}
}

// model returns the configured override for a full model identifier.
func (c Config) model(id string) (ModelConfig, bool) {
	for _, m := range c.Models {
		if m.Model == id {
			return m, true
		}
	}
	return ModelConfig{}, false
}
