// Package invoker defines the generation contract provider adapters
// implement: a single-call primitive that turns a conversation into a
// response, optional streaming and credential capabilities, and the error
// taxonomy reliability layers dispatch on.
package invoker

import (
	"context"
	"encoding/json"

	"github.com/convokehq/convoke/pkg/invoker/usage"
	"github.com/convokehq/convoke/pkg/messages"
)

// Request carries everything one generation call needs. Contents is the
// conversation snapshot in order; the remaining fields tune the call.
type Request struct {
	Contents    []messages.Content
	System      string
	MaxTokens   int
	Temperature float64
	Thinking    *messages.ThinkingConfig
	Tools       []messages.Tool
	ToolConfig  *messages.ToolConfig

	// ResponseSchema asks providers that support structured output to
	// constrain generation to this JSON Schema. Providers without support
	// ignore it; decoding still validates downstream.
	ResponseSchema json.RawMessage
}

// Invoker is the provider-agnostic generation primitive. Implementations
// perform exactly one provider call per Generate invocation; retries,
// rate limiting, continuation and caching live above this interface.
type Invoker interface {
	// FullModelID returns the stable "provider:model" identifier used for
	// rate limiter sharing and cache keys.
	FullModelID() string

	Generate(ctx context.Context, req Request) (*messages.Response, error)
}

// ResponseStream yields incremental responses from a streaming call.
// Recv returns io.EOF after the final chunk.
type ResponseStream interface {
	Recv() (*messages.Response, error)
	Close() error
}

// Streamer is an optional capability: adapters that can stream implement it
// alongside Invoker.
type Streamer interface {
	GenerateStream(ctx context.Context, req Request) (ResponseStream, error)
}

// CredentialProvider is an optional capability: adapters backed by an API
// key expose it so callers can fail fast before the first call. A missing
// credential yields *AuthError.
type CredentialProvider interface {
	Credential() (string, error)
}

// UsageReporter is an optional capability: adapters that track token usage
// expose their tracker through it.
type UsageReporter interface {
	UsageTracker() *usage.Tracker
}
