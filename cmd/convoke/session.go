package main

import (
	"context"
	"fmt"

	"github.com/convokehq/convoke/pkg/invoker/usage"
	"github.com/convokehq/convoke/pkg/llmclient"
	"github.com/convokehq/convoke/pkg/messages"
)

// maxToolRounds caps the generate/execute cycles of one Send so a model that
// never stops calling tools cannot loop forever.
const maxToolRounds = 10

// toolCaller executes one model-issued function call. *mcptools.Source
// implements it.
type toolCaller interface {
	Call(ctx context.Context, call messages.FunctionCall) (map[string]any, error)
}

// session owns one conversation: the shared history, the optional tool loop
// and the autocomplete setting. Send runs on bubbletea command goroutines,
// one call at a time.
type session struct {
	client       *llmclient.Client
	tools        toolCaller
	decls        messages.Tool
	autocomplete bool
	conv         *messages.Conversation
}

func newSession(client *llmclient.Client, tools toolCaller, decls messages.Tool, autocomplete bool) *session {
	return &session{
		client:       client,
		tools:        tools,
		decls:        decls,
		autocomplete: autocomplete,
		conv:         messages.NewConversation(),
	}
}

// Send appends the user turn, runs the model until it answers with text and
// returns that answer. When a tool source is attached, function calls are
// executed and their results fed back until the model stops calling.
func (s *session) Send(ctx context.Context, text string) (string, error) {
	s.conv.Append(messages.NewText(messages.RoleUser, text))

	var opts []llmclient.CallOption
	if s.autocomplete {
		opts = append(opts, llmclient.WithAutocomplete())
	}
	if s.tools != nil {
		opts = append(opts, llmclient.WithTools(s.decls))
	}

	for range maxToolRounds {
		resp, err := s.client.Generate(ctx, s.conv, opts...)
		if err != nil {
			return "", err
		}
		s.record(resp)

		calls := resp.Candidates[0].Content.FunctionCalls()
		if s.tools == nil || len(calls) == 0 {
			return resp.Text(), nil
		}

		s.conv.Append(messages.Content{Role: messages.RoleUser, Parts: s.execute(ctx, calls)})
	}

	return "", fmt.Errorf("no text answer after %d tool rounds", maxToolRounds)
}

// record appends the model turn to the history. Autocomplete merges already
// land on the conversation, so the turn is only appended when missing.
func (s *session) record(resp *messages.Response) {
	if last, ok := s.conv.Last(); ok && last.Role == messages.RoleModel {
		return
	}
	s.conv.Append(resp.Candidates[0].Content)
}

// execute runs every call and collects the results as function-response
// parts. A failed call feeds the error back to the model instead of aborting
// the turn.
func (s *session) execute(ctx context.Context, calls []messages.FunctionCall) []messages.Part {
	parts := make([]messages.Part, 0, len(calls))
	for _, call := range calls {
		result, err := s.tools.Call(ctx, call)
		if err != nil {
			result = map[string]any{"error": err.Error()}
		}
		parts = append(parts, messages.FunctionResponsePart(messages.FunctionResponse{
			ID:       call.ID,
			Name:     call.Name,
			Response: result,
		}))
	}
	return parts
}

// Reset drops the conversation history. The client and its usage totals stay.
func (s *session) Reset() {
	s.conv = messages.NewConversation()
}

// ModelID returns the full "provider:model" identifier of the client.
func (s *session) ModelID() string {
	return s.client.ModelID()
}

// Usage returns the client's token usage tracker.
func (s *session) Usage() *usage.Tracker {
	return s.client.Usage()
}
