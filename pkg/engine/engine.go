package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/convokehq/convoke/pkg/llmcache"
	"github.com/convokehq/convoke/pkg/llmclient"
)

// ErrUnsupportedProvider reports a full model identifier whose provider
// segment has no registered factory.
var ErrUnsupportedProvider = errors.New("unsupported provider")

var (
	mu      sync.Mutex
	clients = map[string]*llmclient.Client{}
	global  Config
	cache   *llmcache.Cache
)

// Get returns the client for a full model identifier, building it on first
// use from the built-in defaults and the installed configuration. Later
// calls return the same client; options passed to them reconfigure it in
// place.
func Get(model string, opts ...llmclient.Option) (*llmclient.Client, error) {
	mu.Lock()
	defer mu.Unlock()

	if c, ok := clients[model]; ok {
		c.Reconfigure(opts...)
		return c, nil
	}

	c, err := build(model, opts)
	if err != nil {
		return nil, err
	}
	clients[model] = c

	return c, nil
}

// GetAsync returns the asynchronous facade over the same memoized client
// Get would return.
func GetAsync(model string, opts ...llmclient.Option) (*llmclient.AsyncClient, error) {
	c, err := Get(model, opts...)
	if err != nil {
		return nil, err
	}
	return c.Async(), nil
}

// build constructs a client for the identifier. The caller holds mu.
func build(model string, opts []llmclient.Option) (*llmclient.Client, error) {
	kind, name, ok := strings.Cut(model, ":")
	if !ok || kind == "" || name == "" {
		return nil, fmt.Errorf("engine: model %q: want provider:model", model)
	}

	factory, found := getFactory(kind)
	if !found {
		return nil, fmt.Errorf("engine: model %q: %w %q", model, ErrUnsupportedProvider, kind)
	}

	inv, err := factory(global.provider(kind), name)
	if err != nil {
		return nil, fmt.Errorf("engine: model %q: %w", model, err)
	}

	return llmclient.New(inv, append(clientDefaults(model), opts...)...), nil
}

// clientDefaults resolves the option stack a client starts from; caller
// options append after it and win. The caller holds mu.
func clientDefaults(model string) []llmclient.Option {
	d := defaultsFor(model)

	return []llmclient.Option{
		llmclient.WithRetryConfig(d.Retry),
		llmclient.WithRPM(d.RPM),
		llmclient.WithDefaultMaxTokens(d.MaxTokens),
		llmclient.WithLogger(global.Logger),
		llmclient.WithCache(cache),
	}
}

// Configure installs the configuration process-wide: it validates cfg,
// builds the selected cache backend, and re-applies the resolved defaults
// to every client already handed out. Options callers passed to Get are
// not replayed; pass them again if they must survive reconfiguration.
func Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	c, err := buildCache(cfg)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()

	global = cfg
	cache = c

	for model, client := range clients {
		client.Reconfigure(clientDefaults(model)...)
	}

	return nil
}

// Reset drops all memoized clients and the installed configuration.
// Intended for tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()

	clients = map[string]*llmclient.Client{}
	global = Config{}
	cache = nil
}

// buildCache constructs the configured cache backend, or nil when caching
// is off.
func buildCache(cfg Config) (*llmcache.Cache, error) {
	log := cfg.Logger.With().Str("component", "llmcache").Logger()

	switch cfg.Cache.Backend {
	case "", CacheOff:
		return nil, nil

	case CacheFile:
		store, err := llmcache.NewFileStore(cfg.Cache.Dir)
		if err != nil {
			return nil, fmt.Errorf("engine: cache: %w", err)
		}
		return llmcache.New(store, log), nil

	case CacheSQLite:
		store, err := llmcache.NewSQLiteStore(cfg.Cache.Path)
		if err != nil {
			return nil, fmt.Errorf("engine: cache: %w", err)
		}
		return llmcache.New(store, log), nil

	case CacheRedis:
		var ttl time.Duration
		if cfg.Cache.Redis.TTL != "" {
			ttl, _ = time.ParseDuration(cfg.Cache.Redis.TTL)
		}
		store, err := llmcache.NewRedisStore(context.Background(), llmcache.RedisStoreConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			TTL:      ttl,
		})
		if err != nil {
			return nil, fmt.Errorf("engine: cache: %w", err)
		}
		return llmcache.New(store, log), nil

	default:
		return nil, fmt.Errorf("engine: unknown cache backend %q", cfg.Cache.Backend)
	}
}
