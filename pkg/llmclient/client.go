// Package llmclient composes a provider adapter with the reliability and
// result layers of the engine: transient-error retry, process-wide
// requests-per-minute limiting, opt-in continuation of truncated turns,
// response caching, observability middleware, and typed result decoding.
//
// Layering is fixed: the cache wraps everything, retry wraps rate limiting,
// rate limiting wraps the single provider call. Every retry attempt passes
// rate-limit admission again.
package llmclient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/convokehq/convoke/pkg/decode"
	"github.com/convokehq/convoke/pkg/invoker"
	"github.com/convokehq/convoke/pkg/invoker/usage"
	"github.com/convokehq/convoke/pkg/llmcache"
	"github.com/convokehq/convoke/pkg/messages"
)

// Client is a provider-agnostic LLM client. All entry points are blocking
// and honor ctx cancellation; the AsyncClient facade runs the same calls on
// goroutines. Client is safe for concurrent use.
type Client struct {
	inv        invoker.Invoker
	modelID    string
	retry      RetryConfig
	retryTimer retryTimer
	limiter    *RPMLimiter
	cache      *llmcache.Cache
	middleware []Middleware
	log        zerolog.Logger

	defaultMaxTokens int
	fallbackUsage    usage.Tracker
}

// DefaultMaxTokens is the output token budget applied when neither the
// client nor the call sets one.
const DefaultMaxTokens = 8192

// New creates a Client around a provider adapter. Defaults: retry per
// DefaultRetryConfig, no rate limit, no cache, Nop logger, DefaultMaxTokens
// output budget.
func New(inv invoker.Invoker, opts ...Option) *Client {
	c := &Client{
		inv:              inv,
		modelID:          inv.FullModelID(),
		retry:            DefaultRetryConfig(),
		defaultMaxTokens: DefaultMaxTokens,
		log:              zerolog.Nop(),
	}
	c.Reconfigure(opts...)
	return c
}

// Reconfigure applies options to an existing client. It is not synchronized
// with in-flight calls; apply process-wide settings at startup or between
// call batches.
func (c *Client) Reconfigure(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = LimiterFor(c.modelID, 0)
	}
}

// ModelID returns the full "provider:model" identifier.
func (c *Client) ModelID() string { return c.modelID }

// Usage returns the adapter's token usage tracker, or a client-local one
// when the adapter does not report usage.
func (c *Client) Usage() *usage.Tracker {
	if ur, ok := c.inv.(invoker.UsageReporter); ok {
		return ur.UsageTracker()
	}
	return &c.fallbackUsage
}

// Generate runs the full pipeline for one invocation and returns the raw
// response: cache lookup, then retried rate-limited provider calls, with
// continuation when the call opts in, then cache store. The conversation
// is the caller's: continuation merges land on it as they complete.
func (c *Client) Generate(ctx context.Context, conv *messages.Conversation, opts ...CallOption) (*messages.Response, error) {
	co := c.newCallOptions(opts)

	info := &CallInfo{
		ID:           uuid.NewString(),
		Model:        c.modelID,
		Autocomplete: co.autocomplete,
		Start:        time.Now(),
	}
	ctx = c.beforeGenerate(ctx, info)

	resp, err := c.generate(ctx, conv, co)

	c.afterGenerate(ctx, info, resp, err)
	return resp, err
}

func (c *Client) generate(ctx context.Context, conv *messages.Conversation, co callOptions) (*messages.Response, error) {
	if conv.Len() == 0 && co.system == "" {
		return nil, fmt.Errorf("%s: %w", c.modelID, invoker.ErrEmptyRequest)
	}

	useCache := c.cache != nil && !co.skipCache

	// Deep copy so continuation merges cannot leak into the cache key.
	var entryContents []messages.Content
	if useCache {
		entryContents = conv.Clone().Contents()

		if resp, ok := c.cache.Lookup(ctx, c.modelID, entryContents); ok {
			c.log.Debug().Msg("cache hit")
			return resp, nil
		}
	}

	var resp *messages.Response
	var err error
	if co.autocomplete {
		resp, err = c.generateToCompletion(ctx, conv, co)
	} else {
		resp, err = c.attempt(ctx, co.request(conv))
	}
	if err != nil {
		return nil, err
	}

	if useCache {
		c.cache.Save(ctx, c.modelID, entryContents, resp)
	}

	return resp, nil
}

// attempt performs one logical provider call: rate-limit admission and the
// raw invocation, wrapped in the retry policy, then the candidate check.
func (c *Client) attempt(ctx context.Context, req invoker.Request) (*messages.Response, error) {
	var resp *messages.Response

	err := c.withRetry(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		r, err := c.inv.Generate(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%s: %w", c.modelID, invoker.ErrNoCandidates)
	}

	return resp, nil
}

// GenerateText returns the response's text: the concatenated non-thought
// text parts of the first candidate.
func (c *Client) GenerateText(ctx context.Context, conv *messages.Conversation, opts ...CallOption) (string, error) {
	resp, err := c.Generate(ctx, conv, opts...)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// FromText wraps a single prompt in a user conversation and returns the
// text answer.
func (c *Client) FromText(ctx context.Context, prompt string, opts ...CallOption) (string, error) {
	return c.GenerateText(ctx, messages.FromText(prompt), opts...)
}

// GenerateJSON decodes the response's text as JSON after stripping a
// markdown fence. Decode failures yield *decode.Error.
func (c *Client) GenerateJSON(ctx context.Context, conv *messages.Conversation, opts ...CallOption) (any, error) {
	resp, err := c.Generate(ctx, conv, opts...)
	if err != nil {
		return nil, err
	}
	return decode.JSON(resp)
}

// GenerateStructured decodes the response through the given validator. The
// validator's schema rides on the request so providers with structured
// output enforce it server-side; validation failures yield *decode.Error.
func (c *Client) GenerateStructured(ctx context.Context, conv *messages.Conversation, v decode.Validator, opts ...CallOption) (any, error) {
	resp, err := c.Generate(ctx, conv, append(opts, withResponseSchema(v.ResponseSchema()))...)
	if err != nil {
		return nil, err
	}
	return decode.Structured(resp, v)
}

// GenerateFunctionCalls returns the function calls of every candidate in
// candidate-then-part order. An empty result is valid regardless of the
// function-calling mode; callers decide how to treat a model that answered
// with text instead.
func (c *Client) GenerateFunctionCalls(ctx context.Context, conv *messages.Conversation, opts ...CallOption) ([]messages.FunctionCall, error) {
	resp, err := c.Generate(ctx, conv, opts...)
	if err != nil {
		return nil, err
	}
	return decode.FunctionCalls(resp), nil
}
