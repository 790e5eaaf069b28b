// Package ollama implements the invoker contract for a local Ollama
// server through its api client. The server is unauthenticated, so the
// credential gate always passes.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"

	"github.com/convokehq/convoke/pkg/invoker"
	"github.com/convokehq/convoke/pkg/invoker/usage"
	"github.com/convokehq/convoke/pkg/messages"
)

const (
	// Provider is the provider segment of the full model identifier.
	Provider = "ollama"

	// DefaultBaseURL is the default local server address.
	DefaultBaseURL = "http://localhost:11434"
)

var (
	_ invoker.Invoker            = (*Adapter)(nil)
	_ invoker.Streamer           = (*Adapter)(nil)
	_ invoker.CredentialProvider = (*Adapter)(nil)
	_ invoker.UsageReporter      = (*Adapter)(nil)
)

// Adapter calls an Ollama server.
type Adapter struct {
	invoker.HTTPAdapter

	client *api.Client
}

// New creates an Adapter. An empty baseURL selects the local default.
func New(baseURL, model string) (*Adapter, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ollama: invalid base url %q: %w", baseURL, err)
	}

	a := &Adapter{}
	a.Provider = Provider
	a.BaseURL = baseURL
	a.Name = model
	a.MaxTokens = 4096
	a.client = api.NewClient(u, &http.Client{})

	return a, nil
}

// Credential reports no requirement; local servers take no key.
func (a *Adapter) Credential() (string, error) {
	return "", nil
}

// Generate sends the conversation as a single non-streaming chat call.
func (a *Adapter) Generate(ctx context.Context, req invoker.Request) (*messages.Response, error) {
	chatReq := a.buildRequest(req, false)

	var out api.ChatResponse
	err := a.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		out = resp
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ollama: %w", classifyError(err))
	}

	resp := fromChatResponse(out)
	if resp.UsageMetadata != nil {
		a.Usage.Add(usage.FromMetadata(resp.UsageMetadata))
	}

	return resp, nil
}

// --- request conversion ---

func (a *Adapter) buildRequest(req invoker.Request, stream bool) *api.ChatRequest {
	chatReq := &api.ChatRequest{
		Model:    a.Name,
		Messages: toChatMessages(req.System, req.Contents),
		Stream:   &stream,
		Options:  map[string]any{},
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.MaxTokens
	}
	chatReq.Options["num_predict"] = maxTokens

	if t := req.Temperature; t != 0 {
		chatReq.Options["temperature"] = t
	} else if a.Temperature != 0 {
		chatReq.Options["temperature"] = a.Temperature
	}

	if req.Thinking != nil && req.Thinking.IncludeThoughts {
		chatReq.Think = &api.ThinkValue{Value: true}
	}

	for _, tool := range req.Tools {
		for _, fd := range tool.FunctionDeclarations {
			chatReq.Tools = append(chatReq.Tools, api.Tool{
				Type: "function",
				Function: api.ToolFunction{
					Name:        fd.Name,
					Description: fd.Description,
					Parameters:  toolParameters(fd.Parameters),
				},
			})
		}
	}

	if len(req.ResponseSchema) > 0 {
		chatReq.Format = req.ResponseSchema
	}

	return chatReq
}

func toolParameters(raw json.RawMessage) api.ToolFunctionParameters {
	params := api.ToolFunctionParameters{Type: "object"}
	if len(raw) == 0 {
		return params
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return api.ToolFunctionParameters{Type: "object"}
	}
	return params
}

// toChatMessages flattens contents into chat messages. Thought parts ride
// the message's thinking field; each function response becomes a tool-role
// message.
func toChatMessages(system string, contents []messages.Content) []api.Message {
	out := make([]api.Message, 0, len(contents)+1)

	if system != "" {
		out = append(out, api.Message{Role: "system", Content: system})
	}

	for _, c := range contents {
		out = append(out, contentMessages(c)...)
	}

	return out
}

func contentMessages(c messages.Content) []api.Message {
	var out []api.Message
	var text, thinking string
	var toolCalls []api.ToolCall

	flush := func() {
		if text == "" && thinking == "" && len(toolCalls) == 0 {
			return
		}
		out = append(out, api.Message{
			Role:      mapRole(c.Role),
			Content:   text,
			Thinking:  thinking,
			ToolCalls: toolCalls,
		})
		text, thinking = "", ""
		toolCalls = nil
	}

	for _, p := range c.Parts {
		switch {
		case p.FunctionResponse != nil:
			flush()
			out = append(out, api.Message{
				Role:     "tool",
				ToolName: p.FunctionResponse.Name,
				Content:  marshalResponse(p.FunctionResponse.Response),
			})
		case p.FunctionCall != nil:
			args := api.ToolCallFunctionArguments{}
			for k, v := range p.FunctionCall.Args {
				args[k] = v
			}
			toolCalls = append(toolCalls, api.ToolCall{
				Function: api.ToolCallFunction{
					Name:      p.FunctionCall.Name,
					Arguments: args,
				},
			})
		case p.Thought:
			if thinking != "" {
				thinking += "\n"
			}
			thinking += p.Text
		default:
			if text != "" {
				text += "\n"
			}
			text += p.Text
		}
	}
	flush()

	return out
}

func marshalResponse(resp map[string]any) string {
	b, err := json.Marshal(resp)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func mapRole(role messages.Role) string {
	if role == messages.RoleModel {
		return "assistant"
	}
	return "user"
}

// --- response conversion ---

func fromChatResponse(resp api.ChatResponse) *messages.Response {
	mc := messages.Content{Role: messages.RoleModel}

	if resp.Message.Thinking != "" {
		mc.Parts = append(mc.Parts, messages.ThoughtPart(resp.Message.Thinking))
	}
	if resp.Message.Content != "" {
		mc.Parts = append(mc.Parts, messages.TextPart(resp.Message.Content))
	}
	for _, tc := range resp.Message.ToolCalls {
		mc.Parts = append(mc.Parts, toolCallPart(tc))
	}

	out := &messages.Response{Candidates: []messages.Candidate{{
		Content:      mc,
		FinishReason: mapDoneReason(resp),
	}}}

	if resp.PromptEvalCount > 0 || resp.EvalCount > 0 {
		out.UsageMetadata = &messages.UsageMetadata{
			PromptTokenCount:     resp.PromptEvalCount,
			CandidatesTokenCount: resp.EvalCount,
			TotalTokenCount:      resp.PromptEvalCount + resp.EvalCount,
		}
	}

	return out
}

// toolCallPart converts a tool call, synthesizing an ID so results can
// reference the call; the server provides none.
func toolCallPart(tc api.ToolCall) messages.Part {
	args := map[string]any{}
	for k, v := range tc.Function.Arguments {
		args[k] = v
	}
	return messages.FunctionCallPart(messages.FunctionCall{
		ID:   "call_" + tc.Function.Name + "_" + uuid.NewString(),
		Name: tc.Function.Name,
		Args: args,
	})
}

func mapDoneReason(resp api.ChatResponse) messages.FinishReason {
	if !resp.Done {
		return messages.FinishReasonUnspecified
	}
	switch resp.DoneReason {
	case "stop", "":
		return messages.FinishReasonStop
	case "length":
		return messages.FinishReasonMaxTokens
	default:
		return messages.FinishReasonOther
	}
}

func classifyError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode == http.StatusRequestTimeout || statusErr.StatusCode >= 500:
			return &invoker.TransientError{Provider: Provider, StatusCode: statusErr.StatusCode, Err: err}
		default:
			return &invoker.FatalError{Provider: Provider, StatusCode: statusErr.StatusCode, Err: err}
		}
	}
	return &invoker.TransientError{Provider: Provider, Err: err}
}
