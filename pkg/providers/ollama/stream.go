package ollama

import (
	"context"
	"fmt"
	"io"

	"github.com/ollama/ollama/api"

	"github.com/convokehq/convoke/pkg/invoker"
	"github.com/convokehq/convoke/pkg/invoker/usage"
	"github.com/convokehq/convoke/pkg/messages"
)

// GenerateStream opens a streaming chat call. The api client pushes chunks
// through a callback; a goroutine bridges them onto a channel the stream
// pulls from. Connection errors surface on the first Recv.
func (a *Adapter) GenerateStream(ctx context.Context, req invoker.Request) (invoker.ResponseStream, error) {
	ctx, cancel := context.WithCancel(ctx)

	s := &chatStream{
		ch:     make(chan streamItem),
		cancel: cancel,
	}

	chatReq := a.buildRequest(req, true)

	go func() {
		defer close(s.ch)

		err := a.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			return s.emit(ctx, a, resp)
		})
		if err != nil && ctx.Err() == nil {
			s.send(ctx, streamItem{err: fmt.Errorf("ollama: read stream: %w", classifyError(err))})
		}
	}()

	return s, nil
}

type streamItem struct {
	resp *messages.Response
	err  error
}

type chatStream struct {
	ch     chan streamItem
	cancel context.CancelFunc
}

var _ invoker.ResponseStream = (*chatStream)(nil)

func (s *chatStream) Recv() (*messages.Response, error) {
	item, ok := <-s.ch
	if !ok {
		return nil, io.EOF
	}
	return item.resp, item.err
}

func (s *chatStream) Close() error {
	s.cancel()
	// Drain so the bridge goroutine exits even mid-send.
	for range s.ch {
	}
	return nil
}

// emit converts one chunk and pushes it. The final chunk carries the finish
// reason and usage.
func (s *chatStream) emit(ctx context.Context, a *Adapter, resp api.ChatResponse) error {
	var parts []messages.Part
	if resp.Message.Thinking != "" {
		parts = append(parts, messages.ThoughtPart(resp.Message.Thinking))
	}
	if resp.Message.Content != "" {
		parts = append(parts, messages.TextPart(resp.Message.Content))
	}
	for _, tc := range resp.Message.ToolCalls {
		parts = append(parts, toolCallPart(tc))
	}

	if !resp.Done {
		if len(parts) == 0 {
			return nil
		}
		return s.send(ctx, streamItem{resp: &messages.Response{Candidates: []messages.Candidate{{
			Content: messages.Content{Role: messages.RoleModel, Parts: parts},
		}}}})
	}

	final := fromChatResponse(resp)
	if final.UsageMetadata != nil {
		a.Usage.Add(usage.FromMetadata(final.UsageMetadata))
	}

	return s.send(ctx, streamItem{resp: final})
}

func (s *chatStream) send(ctx context.Context, item streamItem) error {
	select {
	case s.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
