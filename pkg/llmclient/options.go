package llmclient

import (
	"encoding/json"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/convokehq/convoke/pkg/invoker"
	"github.com/convokehq/convoke/pkg/llmcache"
	"github.com/convokehq/convoke/pkg/messages"
)

// Option configures a Client at construction.
type Option func(*Client)

// WithRetryConfig replaces the retry policy. A zero Attempts disables
// retry entirely.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithRetryTimer substitutes the timer that paces retry delays. Tests use
// it to run the backoff on a simulated clock.
func WithRetryTimer(t backoff.Timer) Option {
	return func(c *Client) { c.retryTimer = t }
}

// WithRPM attaches the process-wide limiter for this client's model at the
// given requests-per-minute bound. rpm <= 0 leaves the model unlimited.
func WithRPM(rpm int) Option {
	return func(c *Client) { c.limiter = LimiterFor(c.modelID, rpm) }
}

// WithLimiter attaches a specific limiter instead of the process-wide one,
// detaching this client from the shared per-model window.
func WithLimiter(l *RPMLimiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithCache attaches a response cache. A nil cache disables caching.
func WithCache(cache *llmcache.Cache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithLogger sets the client logger. The model identifier is attached to
// every event.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log.With().Str("model", c.modelID).Logger() }
}

// WithMiddleware appends observability middleware, invoked in order on the
// way in and in reverse order on the way out.
func WithMiddleware(m ...Middleware) Option {
	return func(c *Client) { c.middleware = append(c.middleware, m...) }
}

// WithDefaultMaxTokens sets the output token budget used when a call does
// not set its own.
func WithDefaultMaxTokens(n int) Option {
	return func(c *Client) { c.defaultMaxTokens = n }
}

// callOptions carries the per-call knobs. Zero values defer to the
// client's defaults.
type callOptions struct {
	system       string
	maxTokens    int
	temperature  float64
	thinking     *messages.ThinkingConfig
	tools        []messages.Tool
	toolConfig   *messages.ToolConfig
	schema       json.RawMessage
	autocomplete bool
	skipCache    bool
}

// CallOption adjusts a single invocation.
type CallOption func(*callOptions)

// WithSystem sets the system instruction for this call.
func WithSystem(text string) CallOption {
	return func(co *callOptions) { co.system = text }
}

// WithMaxTokens overrides the output token budget for this call.
func WithMaxTokens(n int) CallOption {
	return func(co *callOptions) { co.maxTokens = n }
}

// WithTemperature sets the sampling temperature for this call.
func WithTemperature(t float64) CallOption {
	return func(co *callOptions) { co.temperature = t }
}

// WithThinking asks the provider to reason before answering and to include
// thought parts in the response when it can.
func WithThinking(cfg messages.ThinkingConfig) CallOption {
	return func(co *callOptions) { co.thinking = &cfg }
}

// WithTools declares the functions the model may call.
func WithTools(tools ...messages.Tool) CallOption {
	return func(co *callOptions) { co.tools = tools }
}

// WithToolConfig constrains how the model may use the declared tools.
func WithToolConfig(cfg messages.ToolConfig) CallOption {
	return func(co *callOptions) { co.toolConfig = &cfg }
}

// WithAutocomplete turns on continuation: when the provider stops short of
// a terminal finish reason the client keeps calling, merging each segment
// into the conversation, until the turn completes. Off by default.
func WithAutocomplete() CallOption {
	return func(co *callOptions) { co.autocomplete = true }
}

// WithoutCache bypasses the response cache for this call in both
// directions.
func WithoutCache() CallOption {
	return func(co *callOptions) { co.skipCache = true }
}

func withResponseSchema(schema json.RawMessage) CallOption {
	return func(co *callOptions) { co.schema = schema }
}

func (c *Client) newCallOptions(opts []CallOption) callOptions {
	co := callOptions{maxTokens: c.defaultMaxTokens}
	for _, opt := range opts {
		opt(&co)
	}
	return co
}

// request materializes the provider request for the conversation's current
// state. Continuation rebuilds it after every merge.
func (co callOptions) request(conv *messages.Conversation) invoker.Request {
	return invoker.Request{
		Contents:       conv.Contents(),
		System:         co.system,
		MaxTokens:      co.maxTokens,
		Temperature:    co.temperature,
		Thinking:       co.thinking,
		Tools:          co.tools,
		ToolConfig:     co.toolConfig,
		ResponseSchema: co.schema,
	}
}
