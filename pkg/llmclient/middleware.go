package llmclient

import (
	"context"
	"time"

	"github.com/convokehq/convoke/pkg/messages"
)

// CallInfo describes one invocation to middleware hooks. The ID is unique
// per invocation and stable across its retries and continuation calls.
type CallInfo struct {
	ID           string
	Model        string
	Autocomplete bool
	Start        time.Time
}

// Middleware observes invocations. BeforeGenerate may derive a new ctx
// (tracing spans, deadlines for the hook's own bookkeeping); returning nil
// keeps the current one. Hooks run outside the result path: a panicking or
// misbehaving hook is logged and cannot change what the caller gets.
type Middleware interface {
	BeforeGenerate(ctx context.Context, info *CallInfo) context.Context
	AfterGenerate(ctx context.Context, info *CallInfo, resp *messages.Response, err error)
}

func (c *Client) beforeGenerate(ctx context.Context, info *CallInfo) context.Context {
	for _, m := range c.middleware {
		ctx = c.safeBefore(m, ctx, info)
	}
	return ctx
}

func (c *Client) afterGenerate(ctx context.Context, info *CallInfo, resp *messages.Response, err error) {
	for i := len(c.middleware) - 1; i >= 0; i-- {
		c.safeAfter(c.middleware[i], ctx, info, resp, err)
	}
}

func (c *Client) safeBefore(m Middleware, ctx context.Context, info *CallInfo) (out context.Context) {
	out = ctx
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn().Str("invocation", info.ID).Any("panic", r).Msg("middleware BeforeGenerate panicked")
		}
	}()

	if next := m.BeforeGenerate(ctx, info); next != nil {
		out = next
	}
	return out
}

func (c *Client) safeAfter(m Middleware, ctx context.Context, info *CallInfo, resp *messages.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn().Str("invocation", info.ID).Any("panic", r).Msg("middleware AfterGenerate panicked")
		}
	}()

	m.AfterGenerate(ctx, info, resp, err)
}
