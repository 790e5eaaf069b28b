package llmclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/convokehq/convoke/pkg/invoker"
	"github.com/convokehq/convoke/pkg/messages"
)

// ErrStreamingUnsupported reports an adapter without a streaming surface.
var ErrStreamingUnsupported = errors.New("adapter does not support streaming")

// Stream delivers the incremental responses of one streaming call. Next
// returns io.EOF after the final response. Close releases the underlying
// connection and is safe after EOF.
type Stream struct {
	rs invoker.ResponseStream
}

// Next returns the next incremental response.
func (s *Stream) Next() (*messages.Response, error) { return s.rs.Recv() }

// Close releases the stream.
func (s *Stream) Close() error { return s.rs.Close() }

// GenerateStream opens a streaming call. Retry and rate limiting guard the
// open only: a stream that dies mid-flight surfaces its error from Next,
// because replaying half-delivered output would hand the caller duplicate
// text. The cache and continuation do not apply to streams.
func (c *Client) GenerateStream(ctx context.Context, conv *messages.Conversation, opts ...CallOption) (*Stream, error) {
	streamer, ok := c.inv.(invoker.Streamer)
	if !ok {
		return nil, &invoker.FatalError{Provider: c.modelID, Err: ErrStreamingUnsupported}
	}

	co := c.newCallOptions(opts)
	if conv.Len() == 0 && co.system == "" {
		return nil, fmt.Errorf("%s: %w", c.modelID, invoker.ErrEmptyRequest)
	}
	req := co.request(conv)

	info := &CallInfo{
		ID:    uuid.NewString(),
		Model: c.modelID,
		Start: time.Now(),
	}
	ctx = c.beforeGenerate(ctx, info)

	var rs invoker.ResponseStream
	err := c.withRetry(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		s, err := streamer.GenerateStream(ctx, req)
		if err != nil {
			return err
		}
		rs = s
		return nil
	})

	c.afterGenerate(ctx, info, nil, err)
	if err != nil {
		return nil, err
	}
	return &Stream{rs: rs}, nil
}
