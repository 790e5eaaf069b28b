package engine

import (
	"time"

	"github.com/convokehq/convoke/pkg/llmclient"
)

// modelDefaults is the reliability profile a client is built with.
type modelDefaults struct {
	Retry     llmclient.RetryConfig
	RPM       int
	MaxTokens int
}

// standardRetry is the policy shared by every model in the built-in table.
var standardRetry = llmclient.RetryConfig{
	Attempts: 3,
	Delay:    time.Second,
	Strategy: llmclient.RetryConstant,
}

// builtinDefaults carries known per-model service limits. Models not listed
// fall back to the zero profile: no retry, no rate limit.
var builtinDefaults = map[string]modelDefaults{
	"google:gemini-2.5-flash":            {Retry: standardRetry, RPM: 1000},
	"google:gemini-2.5-pro":              {Retry: standardRetry, RPM: 150},
	"google:gemini-2.0-flash":            {Retry: standardRetry, RPM: 2000},
	"anthropic:claude-3-7-sonnet-latest": {Retry: standardRetry, RPM: 50},
	"anthropic:claude-3-5-haiku-latest":  {Retry: standardRetry, RPM: 50},
	"anthropic:claude-3-5-sonnet-latest": {Retry: standardRetry, RPM: 50},
	"anthropic:claude-3-opus-latest":     {Retry: standardRetry, RPM: 50},
}

// defaultsFor resolves the profile for a full model identifier: the
// built-in table overlaid with the configured override, then the global
// max-tokens default. The caller holds mu.
func defaultsFor(model string) modelDefaults {
	d := builtinDefaults[model]

	if override, ok := global.model(model); ok {
		if override.RPM > 0 {
			d.RPM = override.RPM
		}
		if override.Retries > 0 {
			d.Retry = retryFromConfig(override)
		}
		if override.MaxTokens > 0 {
			d.MaxTokens = override.MaxTokens
		}
	}

	if d.MaxTokens == 0 && global.DefaultMaxTokens > 0 {
		d.MaxTokens = global.DefaultMaxTokens
	}
	if d.MaxTokens == 0 {
		d.MaxTokens = llmclient.DefaultMaxTokens
	}

	return d
}

// retryFromConfig builds a retry policy from a model override. Validate has
// already checked the delay string.
func retryFromConfig(m ModelConfig) llmclient.RetryConfig {
	cfg := llmclient.RetryConfig{
		Attempts: m.Retries,
		Delay:    time.Second,
		Strategy: llmclient.RetryConstant,
	}
	if m.RetryDelay != "" {
		if d, err := time.ParseDuration(m.RetryDelay); err == nil {
			cfg.Delay = d
		}
	}
	if m.RetryStrategy != "" {
		cfg.Strategy = m.RetryStrategy
	}
	return cfg
}
