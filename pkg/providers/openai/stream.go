package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/convokehq/convoke/pkg/invoker"
	"github.com/convokehq/convoke/pkg/invoker/usage"
	"github.com/convokehq/convoke/pkg/messages"
)

// GenerateStream opens a streaming chat completion. Tool call arguments
// arrive as fragments and are buffered until the finish chunk; text and
// reasoning deltas pass through as they arrive.
func (a *Adapter) GenerateStream(ctx context.Context, req invoker.Request) (invoker.ResponseStream, error) {
	if _, err := a.Credential(); err != nil {
		return nil, err
	}

	chatReq := a.buildRequest(req, true)
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	s, err := a.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("openai: %w", classifyError(err))
	}

	return &chatStream{a: a, ctx: ctx, stream: s}, nil
}

// toolAccum gathers one tool call's argument fragments across chunks.
type toolAccum struct {
	id   string
	name string
	args strings.Builder
}

type chatStream struct {
	a      *Adapter
	ctx    context.Context
	stream *openai.ChatCompletionStream

	pending    []*toolAccum
	usage      *messages.UsageMetadata
	finish     messages.FinishReason
	finishSeen bool
	done       bool
}

var _ invoker.ResponseStream = (*chatStream)(nil)

func (s *chatStream) Recv() (*messages.Response, error) {
	for {
		if s.done {
			return nil, io.EOF
		}

		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			if s.finishSeen {
				return s.finalResponse(), nil
			}
			return nil, io.EOF
		}
		if err != nil {
			if s.ctx.Err() != nil {
				return nil, s.ctx.Err()
			}
			return nil, fmt.Errorf("openai: read stream: %w", classifyError(err))
		}

		// The usage chunk arrives after the finish chunk with no choices.
		if len(resp.Choices) == 0 {
			if resp.Usage != nil && resp.Usage.TotalTokens > 0 {
				s.usage = usageMetadata(*resp.Usage)
			}
			if s.finishSeen {
				s.done = true
				return s.finalResponse(), nil
			}
			continue
		}

		choice := resp.Choices[0]

		if len(choice.Delta.ToolCalls) > 0 {
			s.accumulate(choice.Delta.ToolCalls)
		}

		if choice.FinishReason != "" {
			s.finishSeen = true
			s.finish = mapFinishReason(choice.FinishReason)
			if calls := s.flushToolCalls(); len(calls) > 0 {
				return chunk(calls...), nil
			}
			continue
		}

		if choice.Delta.ReasoningContent != "" {
			return chunk(messages.ThoughtPart(choice.Delta.ReasoningContent)), nil
		}
		if choice.Delta.Content != "" {
			return chunk(messages.TextPart(choice.Delta.Content)), nil
		}
	}
}

func (s *chatStream) Close() error {
	s.done = true
	return s.stream.Close()
}

func (s *chatStream) accumulate(deltas []openai.ToolCall) {
	for _, d := range deltas {
		var acc *toolAccum
		switch {
		case d.Index != nil:
			for *d.Index >= len(s.pending) {
				s.pending = append(s.pending, &toolAccum{})
			}
			acc = s.pending[*d.Index]
		case d.ID != "" || len(s.pending) == 0:
			acc = &toolAccum{}
			s.pending = append(s.pending, acc)
		default:
			acc = s.pending[len(s.pending)-1]
		}

		if d.ID != "" {
			acc.id = d.ID
		}
		if d.Function.Name != "" {
			acc.name = d.Function.Name
		}
		acc.args.WriteString(d.Function.Arguments)
	}
}

func (s *chatStream) flushToolCalls() []messages.Part {
	if len(s.pending) == 0 {
		return nil
	}

	parts := make([]messages.Part, 0, len(s.pending))
	for _, acc := range s.pending {
		parts = append(parts, messages.FunctionCallPart(messages.FunctionCall{
			ID:   acc.id,
			Name: acc.name,
			Args: decodeArguments(acc.args.String()),
		}))
	}
	s.pending = nil

	return parts
}

func (s *chatStream) finalResponse() *messages.Response {
	resp := &messages.Response{
		Candidates: []messages.Candidate{{
			Content:      messages.Content{Role: messages.RoleModel},
			FinishReason: s.finish,
		}},
		UsageMetadata: s.usage,
	}
	if s.usage != nil {
		s.a.Usage.Add(usage.FromMetadata(s.usage))
	}
	return resp
}

func chunk(parts ...messages.Part) *messages.Response {
	return &messages.Response{Candidates: []messages.Candidate{{
		Content: messages.Content{Role: messages.RoleModel, Parts: parts},
	}}}
}
