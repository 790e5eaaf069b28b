package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/convokehq/convoke/pkg/invoker"
	"github.com/convokehq/convoke/pkg/invoker/usage"
	"github.com/convokehq/convoke/pkg/messages"
)

// GenerateStream opens a server-sent-events stream. Text and thinking
// deltas arrive one part per response; a tool_use block is buffered until
// its input JSON is complete and then delivered whole. The final response
// carries the stop reason and usage.
func (a *Adapter) GenerateStream(ctx context.Context, req invoker.Request) (invoker.ResponseStream, error) {
	if _, err := a.Credential(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(a.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := a.NewRequest(ctx, http.MethodPost, messagesPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("anthropic: %w", &invoker.TransientError{Provider: Provider, Err: err})
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("anthropic: %w", a.StatusError(resp, respBody))
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &stream{a: a, body: resp.Body, scanner: sc}, nil
}

// --- stream event types ---

type sseEvent struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	Message      *apiResponse `json:"message"`
	ContentBlock *apiBlock    `json:"content_block"`
	Delta        *sseDelta    `json:"delta"`
	Usage        *apiUsage    `json:"usage"`
	Error        *sseError    `json:"error"`
}

type sseDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	Thinking    string `json:"thinking"`
	PartialJSON string `json:"partial_json"`
	StopReason  string `json:"stop_reason"`
}

type sseError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type toolUseAccum struct {
	id    string
	name  string
	input bytes.Buffer
}

type stream struct {
	a       *Adapter
	body    io.ReadCloser
	scanner *bufio.Scanner
	pending *toolUseAccum
	usage   apiUsage
	done    bool
}

var _ invoker.ResponseStream = (*stream)(nil)

func (s *stream) Recv() (*messages.Response, error) {
	if s.done {
		return nil, io.EOF
	}

	for s.scanner.Scan() {
		data, ok := strings.CutPrefix(s.scanner.Text(), "data: ")
		if !ok {
			continue
		}

		var ev sseEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, fmt.Errorf("anthropic: decode stream event: %w", err)
		}

		resp, err := s.handle(ev)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}

	if err := s.scanner.Err(); err != nil {
		return nil, &invoker.TransientError{Provider: Provider, Err: err}
	}

	s.done = true
	return nil, io.EOF
}

func (s *stream) Close() error {
	s.done = true
	return s.body.Close()
}

func (s *stream) handle(ev sseEvent) (*messages.Response, error) {
	switch ev.Type {
	case "message_start":
		if ev.Message != nil {
			s.usage.InputTokens = ev.Message.Usage.InputTokens
		}
	case "content_block_start":
		if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
			s.pending = &toolUseAccum{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
		}
	case "content_block_delta":
		if ev.Delta == nil {
			break
		}
		switch ev.Delta.Type {
		case "text_delta":
			return chunk(messages.TextPart(ev.Delta.Text)), nil
		case "thinking_delta":
			return chunk(messages.ThoughtPart(ev.Delta.Thinking)), nil
		case "input_json_delta":
			if s.pending != nil {
				s.pending.input.WriteString(ev.Delta.PartialJSON)
			}
		}
	case "content_block_stop":
		if s.pending == nil {
			break
		}
		args, err := decodeToolInput(s.pending.input.Bytes())
		if err != nil {
			return nil, fmt.Errorf("anthropic: decode tool input for %q: %w", s.pending.name, err)
		}
		fc := messages.FunctionCall{ID: s.pending.id, Name: s.pending.name, Args: args}
		s.pending = nil
		return chunk(messages.FunctionCallPart(fc)), nil
	case "message_delta":
		if ev.Usage != nil {
			s.usage.OutputTokens = ev.Usage.OutputTokens
		}
		if ev.Delta == nil || ev.Delta.StopReason == "" {
			break
		}
		s.a.Usage.Add(usage.TokenCount{
			InputTokens:  s.usage.InputTokens,
			OutputTokens: s.usage.OutputTokens,
		})
		return &messages.Response{
			Candidates: []messages.Candidate{{
				Content:      messages.Content{Role: messages.RoleModel},
				FinishReason: mapStopReason(ev.Delta.StopReason),
			}},
			UsageMetadata: &messages.UsageMetadata{
				PromptTokenCount:     s.usage.InputTokens,
				CandidatesTokenCount: s.usage.OutputTokens,
				TotalTokenCount:      s.usage.InputTokens + s.usage.OutputTokens,
			},
		}, nil
	case "message_stop":
		s.done = true
		return nil, io.EOF
	case "error":
		if ev.Error == nil {
			return nil, &invoker.TransientError{Provider: Provider, Err: fmt.Errorf("stream error")}
		}
		err := fmt.Errorf("stream error: %s: %s", ev.Error.Type, ev.Error.Message)
		if ev.Error.Type == "overloaded_error" || ev.Error.Type == "api_error" {
			return nil, &invoker.TransientError{Provider: Provider, Err: err}
		}
		return nil, &invoker.FatalError{Provider: Provider, Err: err}
	}

	return nil, nil
}

func chunk(p messages.Part) *messages.Response {
	return &messages.Response{Candidates: []messages.Candidate{{
		Content: messages.Content{Role: messages.RoleModel, Parts: []messages.Part{p}},
	}}}
}
