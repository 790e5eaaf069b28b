package engine

import (
	"context"
	"os"
	"sync"

	"github.com/convokehq/convoke/pkg/invoker"
	"github.com/convokehq/convoke/pkg/providers/anthropic"
	"github.com/convokehq/convoke/pkg/providers/googleai"
	"github.com/convokehq/convoke/pkg/providers/ollama"
	"github.com/convokehq/convoke/pkg/providers/openai"
)

// ProviderFactory builds the adapter behind a client. cfg carries the
// configured credential and endpoint for the kind; model is the
// provider-local model name.
type ProviderFactory func(cfg ProviderConfig, model string) (invoker.Invoker, error)

var (
	factoryMu   sync.RWMutex
	factories   = map[string]ProviderFactory{}
	defaultsReg sync.Once
)

func ensureDefaults() {
	defaultsReg.Do(func() {
		factories[googleai.Provider] = newGoogleAI
		factories[anthropic.Provider] = newAnthropic
		factories[openai.Provider] = newOpenAI
		factories[ollama.Provider] = newOllama
	})
}

// RegisterProvider registers a custom provider factory under the given
// kind, extending the set of full model identifiers Get accepts.
func RegisterProvider(kind string, factory ProviderFactory) {
	ensureDefaults()

	factoryMu.Lock()
	defer factoryMu.Unlock()

	factories[kind] = factory
}

// getFactory returns the factory for the given kind.
func getFactory(kind string) (ProviderFactory, bool) {
	ensureDefaults()

	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factories[kind]
	return f, ok
}

// keyOrEnv returns the configured key, or the provider's environment
// variable when the configuration leaves it empty.
func keyOrEnv(key, envVar string) string {
	if key != "" {
		return key
	}
	return os.Getenv(envVar)
}

func newGoogleAI(cfg ProviderConfig, model string) (invoker.Invoker, error) {
	// Construction does not dial; the SDK client only captures settings.
	return googleai.New(context.Background(), cfg.BaseURL, keyOrEnv(cfg.APIKey, googleai.EnvAPIKey), model)
}

func newAnthropic(cfg ProviderConfig, model string) (invoker.Invoker, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropic.DefaultBaseURL
	}

	return anthropic.New(baseURL, keyOrEnv(cfg.APIKey, anthropic.EnvAPIKey), model), nil
}

func newOpenAI(cfg ProviderConfig, model string) (invoker.Invoker, error) {
	return openai.New(cfg.BaseURL, keyOrEnv(cfg.APIKey, openai.EnvAPIKey), model), nil
}

func newOllama(cfg ProviderConfig, model string) (invoker.Invoker, error) {
	return ollama.New(cfg.BaseURL, model)
}
