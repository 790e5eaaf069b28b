// Package openai implements the invoker contract for the OpenAI Chat
// Completions API through the go-openai SDK. It also serves
// OpenAI-compatible endpoints via the base URL override.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/convokehq/convoke/pkg/invoker"
	"github.com/convokehq/convoke/pkg/invoker/usage"
	"github.com/convokehq/convoke/pkg/messages"
)

const (
	// Provider is the provider segment of the full model identifier.
	Provider = "openai"

	// DefaultBaseURL is the production API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// EnvAPIKey is the environment variable the engine reads the key from.
	EnvAPIKey = "OPENAI_API_KEY"
)

var (
	_ invoker.Invoker            = (*Adapter)(nil)
	_ invoker.Streamer           = (*Adapter)(nil)
	_ invoker.CredentialProvider = (*Adapter)(nil)
	_ invoker.UsageReporter      = (*Adapter)(nil)
)

// Adapter calls the Chat Completions API.
type Adapter struct {
	invoker.HTTPAdapter

	client *openai.Client
}

// New creates an Adapter. An empty baseURL selects production.
func New(baseURL, apiKey, model string) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	a := &Adapter{}
	a.Provider = Provider
	a.BaseURL = baseURL
	a.Auth = invoker.Auth{
		Key:    apiKey,
		EnvVar: EnvAPIKey,
		Header: "Authorization",
		Scheme: "Bearer",
	}
	a.Name = model
	a.MaxTokens = 4096

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	a.client = openai.NewClientWithConfig(cfg)

	return a
}

// Generate sends the conversation through the SDK.
func (a *Adapter) Generate(ctx context.Context, req invoker.Request) (*messages.Response, error) {
	if _, err := a.Credential(); err != nil {
		return nil, err
	}

	resp, err := a.client.CreateChatCompletion(ctx, a.buildRequest(req, false))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("openai: %w", classifyError(err))
	}

	out := fromChatResponse(resp)
	if out.UsageMetadata != nil {
		a.Usage.Add(usage.FromMetadata(out.UsageMetadata))
	}

	return out, nil
}

// --- request conversion ---

func (a *Adapter) buildRequest(req invoker.Request, stream bool) openai.ChatCompletionRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.MaxTokens
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     a.Name,
		Messages:  toChatMessages(req.System, req.Contents),
		MaxTokens: maxTokens,
		Stream:    stream,
	}

	if t := req.Temperature; t != 0 {
		chatReq.Temperature = float32(t)
	} else if a.Temperature != 0 {
		chatReq.Temperature = float32(a.Temperature)
	}

	if req.Thinking != nil && req.Thinking.IncludeThoughts {
		chatReq.ReasoningEffort = reasoningEffort(req.Thinking.Budget)
	}

	for _, tool := range req.Tools {
		for _, fd := range tool.FunctionDeclarations {
			chatReq.Tools = append(chatReq.Tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        fd.Name,
					Description: fd.Description,
					Parameters:  toolParameters(fd.Parameters),
				},
			})
		}
	}

	if req.ToolConfig != nil && req.ToolConfig.FunctionCallingConfig != nil {
		chatReq.ToolChoice = mapToolChoice(req.ToolConfig.FunctionCallingConfig.Mode)
	}

	if len(req.ResponseSchema) > 0 {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "response",
				Schema: req.ResponseSchema,
			},
		}
	}

	return chatReq
}

// reasoningEffort maps a token budget onto the API's coarse effort levels.
func reasoningEffort(budget int32) string {
	switch {
	case budget > 0 && budget < 4096:
		return "low"
	case budget >= 16384:
		return "high"
	default:
		return "medium"
	}
}

func toolParameters(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{"type": "object"}
	}
	return raw
}

func mapToolChoice(mode messages.FunctionCallingMode) any {
	switch mode {
	case messages.ModeAny:
		return "required"
	case messages.ModeNone:
		return "none"
	default:
		return "auto"
	}
}

// toChatMessages flattens contents into chat messages. Model text and
// function calls collapse into one assistant message per content; each
// function response becomes its own tool message since the API ties results
// to a tool_call_id, not a role block.
func toChatMessages(system string, contents []messages.Content) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(contents)+1)

	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, c := range contents {
		out = append(out, contentMessages(c)...)
	}

	return out
}

func contentMessages(c messages.Content) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	var text string
	var toolCalls []openai.ToolCall

	flush := func() {
		if text == "" && len(toolCalls) == 0 {
			return
		}
		out = append(out, openai.ChatCompletionMessage{
			Role:      mapRole(c.Role),
			Content:   text,
			ToolCalls: toolCalls,
		})
		text = ""
		toolCalls = nil
	}

	for _, p := range c.Parts {
		switch {
		case p.FunctionResponse != nil:
			flush()
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: p.FunctionResponse.ID,
				Content:    marshalResponse(p.FunctionResponse.Response),
			})
		case p.FunctionCall != nil:
			args, err := json.Marshal(p.FunctionCall.Args)
			if err != nil {
				args = []byte("{}")
			}
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   p.FunctionCall.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      p.FunctionCall.Name,
					Arguments: string(args),
				},
			})
		case p.Thought:
			// Reasoning is not replayable through the chat API.
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
		return openai.ChatMessageRoleAssistant
	}
	return openai.ChatMessageRoleUser
}

// --- response conversion ---

func fromChatResponse(resp openai.ChatCompletionResponse) *messages.Response {
	out := &messages.Response{}

	for _, choice := range resp.Choices {
		mc := messages.Content{Role: messages.RoleModel}
		if choice.Message.ReasoningContent != "" {
			mc.Parts = append(mc.Parts, messages.ThoughtPart(choice.Message.ReasoningContent))
		}
		if choice.Message.Content != "" {
			mc.Parts = append(mc.Parts, messages.TextPart(choice.Message.Content))
		}
		for _, tc := range choice.Message.ToolCalls {
			mc.Parts = append(mc.Parts, messages.FunctionCallPart(messages.FunctionCall{
				ID:   tc.ID,
				Name: tc.Function.Name,
				Args: decodeArguments(tc.Function.Arguments),
			}))
		}
		out.Candidates = append(out.Candidates, messages.Candidate{
			Content:      mc,
			FinishReason: mapFinishReason(choice.FinishReason),
		})
	}

	if resp.Usage.TotalTokens > 0 {
		out.UsageMetadata = usageMetadata(resp.Usage)
	}

	return out
}

func usageMetadata(u openai.Usage) *messages.UsageMetadata {
	um := &messages.UsageMetadata{
		PromptTokenCount:     u.PromptTokens,
		CandidatesTokenCount: u.CompletionTokens,
		TotalTokenCount:      u.TotalTokens,
	}
	if d := u.CompletionTokensDetails; d != nil {
		um.ThoughtsTokenCount = d.ReasoningTokens
	}
	return um
}

func decodeArguments(raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	return args
}

func mapFinishReason(r openai.FinishReason) messages.FinishReason {
	switch r {
	case openai.FinishReasonStop, openai.FinishReasonToolCalls:
		return messages.FinishReasonStop
	case openai.FinishReasonLength:
		return messages.FinishReasonMaxTokens
	case openai.FinishReasonContentFilter:
		return messages.FinishReasonSafety
	case "":
		return messages.FinishReasonUnspecified
	default:
		return messages.FinishReasonOther
	}
}

func classifyError(err error) error {
	status := 0

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return &invoker.TransientError{Provider: Provider, Err: err}
	}

	switch {
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return &invoker.TransientError{Provider: Provider, StatusCode: status, Err: err}
	default:
		return &invoker.FatalError{Provider: Provider, StatusCode: status, Err: err}
	}
}
