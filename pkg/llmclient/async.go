package llmclient

import (
	"context"

	"github.com/convokehq/convoke/pkg/decode"
	"github.com/convokehq/convoke/pkg/messages"
)

// Future is the pending result of an asynchronous call.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) complete(val T, err error) {
	f.val = val
	f.err = err
	close(f.done)
}

// Done returns a channel closed when the result is ready.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the result is ready or ctx is canceled. Cancellation
// here abandons the wait, not the underlying call; cancel the ctx passed
// to the AsyncClient method to stop the call itself.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// AsyncClient runs the client's entry points on goroutines and hands back
// futures. Semantics are otherwise identical to Client, including the
// in-place continuation merges on the conversation, so callers must not
// touch the conversation before the future resolves.
type AsyncClient struct {
	c *Client
}

// NewAsync wraps a client in the asynchronous facade.
func NewAsync(c *Client) *AsyncClient { return &AsyncClient{c: c} }

// Async returns the asynchronous facade for this client.
func (c *Client) Async() *AsyncClient { return NewAsync(c) }

// Client returns the underlying blocking client.
func (a *AsyncClient) Client() *Client { return a.c }

// Generate runs Client.Generate on a goroutine.
func (a *AsyncClient) Generate(ctx context.Context, conv *messages.Conversation, opts ...CallOption) *Future[*messages.Response] {
	f := newFuture[*messages.Response]()
	go func() { f.complete(a.c.Generate(ctx, conv, opts...)) }()
	return f
}

// GenerateText runs Client.GenerateText on a goroutine.
func (a *AsyncClient) GenerateText(ctx context.Context, conv *messages.Conversation, opts ...CallOption) *Future[string] {
	f := newFuture[string]()
	go func() { f.complete(a.c.GenerateText(ctx, conv, opts...)) }()
	return f
}

// FromText runs Client.FromText on a goroutine.
func (a *AsyncClient) FromText(ctx context.Context, prompt string, opts ...CallOption) *Future[string] {
	f := newFuture[string]()
	go func() { f.complete(a.c.FromText(ctx, prompt, opts...)) }()
	return f
}

// GenerateJSON runs Client.GenerateJSON on a goroutine.
func (a *AsyncClient) GenerateJSON(ctx context.Context, conv *messages.Conversation, opts ...CallOption) *Future[any] {
	f := newFuture[any]()
	go func() { f.complete(a.c.GenerateJSON(ctx, conv, opts...)) }()
	return f
}

// GenerateStructured runs Client.GenerateStructured on a goroutine.
func (a *AsyncClient) GenerateStructured(ctx context.Context, conv *messages.Conversation, v decode.Validator, opts ...CallOption) *Future[any] {
	f := newFuture[any]()
	go func() { f.complete(a.c.GenerateStructured(ctx, conv, v, opts...)) }()
	return f
}

// GenerateFunctionCalls runs Client.GenerateFunctionCalls on a goroutine.
func (a *AsyncClient) GenerateFunctionCalls(ctx context.Context, conv *messages.Conversation, opts ...CallOption) *Future[[]messages.FunctionCall] {
	f := newFuture[[]messages.FunctionCall]()
	go func() { f.complete(a.c.GenerateFunctionCalls(ctx, conv, opts...)) }()
	return f
}

// GenerateStream runs Client.GenerateStream on a goroutine. The future
// resolves once the stream is open (admission and retry included); chunks
// are then pulled from the stream directly.
func (a *AsyncClient) GenerateStream(ctx context.Context, conv *messages.Conversation, opts ...CallOption) *Future[*Stream] {
	f := newFuture[*Stream]()
	go func() { f.complete(a.c.GenerateStream(ctx, conv, opts...)) }()
	return f
}
