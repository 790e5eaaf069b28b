// Package anthropic implements the invoker contract for the Anthropic
// Messages API over hand-rolled HTTP.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/samber/lo"

	"github.com/convokehq/convoke/pkg/invoker"
	"github.com/convokehq/convoke/pkg/invoker/usage"
	"github.com/convokehq/convoke/pkg/messages"
)

const (
	// Provider is the provider segment of the full model identifier.
	Provider = "anthropic"

	// DefaultBaseURL is the production API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	// EnvAPIKey is the environment variable the engine reads the key from.
	EnvAPIKey = "ANTHROPIC_API_KEY"

	messagesPath = "/v1/messages"
	apiVersion   = "2023-06-01"

	// minThinkingBudget is the smallest budget_tokens the API accepts.
	minThinkingBudget = 1024
)

var (
	_ invoker.Invoker            = (*Adapter)(nil)
	_ invoker.Streamer           = (*Adapter)(nil)
	_ invoker.CredentialProvider = (*Adapter)(nil)
	_ invoker.UsageReporter      = (*Adapter)(nil)
)

// Adapter calls the Anthropic Messages API.
type Adapter struct {
	invoker.HTTPAdapter
}

// New creates an Adapter. The baseURL should carry no trailing slash;
// DefaultBaseURL points at production.
func New(baseURL, apiKey, model string) *Adapter {
	a := &Adapter{}
	a.Provider = Provider
	a.BaseURL = baseURL
	a.Auth = invoker.Auth{
		Key:    apiKey,
		EnvVar: EnvAPIKey,
		Header: "x-api-key",
	}
	a.Name = model
	a.MaxTokens = 4096
	a.Headers = map[string]string{
		"anthropic-version": apiVersion,
	}

	return a
}

// Generate sends the conversation to the Messages API and returns a
// single-candidate response.
func (a *Adapter) Generate(ctx context.Context, req invoker.Request) (*messages.Response, error) {
	if _, err := a.Credential(); err != nil {
		return nil, err
	}

	apiReq := a.buildRequest(req, false)

	var apiResp apiResponse
	if err := a.PostJSON(ctx, messagesPath, apiReq, &apiResp); err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	a.Usage.Add(usage.TokenCount{
		InputTokens:  apiResp.Usage.InputTokens,
		OutputTokens: apiResp.Usage.OutputTokens,
	})

	return parseResponse(apiResp)
}

// --- request types ---

type apiRequest struct {
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens"`
	System      string         `json:"system,omitempty"`
	Messages    []apiMessage   `json:"messages"`
	Temperature *float64       `json:"temperature,omitempty"`
	Tools       []apiToolDef   `json:"tools,omitempty"`
	ToolChoice  *apiToolChoice `json:"tool_choice,omitempty"`
	Thinking    *apiThinking   `json:"thinking,omitempty"`
	Stream      bool           `json:"stream,omitempty"`
}

type apiMessage struct {
	Role    string     `json:"role"`
	Content []apiBlock `json:"content"`
}

type apiBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Signature string          `json:"signature,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type apiToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type apiToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type apiThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

// --- response types ---

type apiResponse struct {
	ID         string     `json:"id"`
	Content    []apiBlock `json:"content"`
	StopReason string     `json:"stop_reason"`
	Usage      apiUsage   `json:"usage"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- conversion helpers ---

func (a *Adapter) buildRequest(req invoker.Request, stream bool) apiRequest {
	out := apiRequest{
		Model:     a.Name,
		MaxTokens: req.MaxTokens,
		System:    req.System,
		Stream:    stream,
	}

	if out.MaxTokens <= 0 {
		out.MaxTokens = a.MaxTokens
	}

	out.Temperature = pickTemperature(req.Temperature, a.Temperature)

	if req.Thinking != nil && req.Thinking.IncludeThoughts {
		budget := int(req.Thinking.Budget)
		if budget < minThinkingBudget {
			budget = minThinkingBudget
		}
		out.Thinking = &apiThinking{Type: "enabled", BudgetTokens: budget}
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, lo.Map(tool.FunctionDeclarations, func(fd messages.FunctionDeclaration, _ int) apiToolDef {
			schema := fd.Parameters
			if len(schema) == 0 {
				schema = json.RawMessage(`{"type":"object"}`)
			}
			return apiToolDef{Name: fd.Name, Description: fd.Description, InputSchema: schema}
		})...)
	}

	if req.ToolConfig != nil && req.ToolConfig.FunctionCallingConfig != nil {
		out.ToolChoice = mapToolChoice(req.ToolConfig.FunctionCallingConfig.Mode)
	}

	for _, c := range req.Contents {
		appendContent(&out.Messages, c)
	}

	return out
}

func pickTemperature(callTemp, defaultTemp float64) *float64 {
	t := callTemp
	if t == 0 {
		t = defaultTemp
	}
	if t == 0 {
		return nil
	}
	return &t
}

func mapToolChoice(mode messages.FunctionCallingMode) *apiToolChoice {
	switch mode {
	case messages.ModeAny:
		return &apiToolChoice{Type: "any"}
	case messages.ModeNone:
		return &apiToolChoice{Type: "none"}
	case messages.ModeAuto:
		return &apiToolChoice{Type: "auto"}
	default:
		return nil
	}
}

func appendContent(msgs *[]apiMessage, c messages.Content) {
	for _, p := range c.Parts {
		block := partToBlock(p)
		if block == nil {
			continue
		}

		msgRole := mapRole(c.Role)

		// Tool results ride in a "user" role message per the Messages API.
		if p.FunctionResponse != nil {
			msgRole = "user"
		}

		// Merge into the last message when the role matches.
		if len(*msgs) > 0 && (*msgs)[len(*msgs)-1].Role == msgRole {
			(*msgs)[len(*msgs)-1].Content = append((*msgs)[len(*msgs)-1].Content, *block)
			continue
		}

		*msgs = append(*msgs, apiMessage{
			Role:    msgRole,
			Content: []apiBlock{*block},
		})
	}
}

func partToBlock(p messages.Part) *apiBlock {
	switch {
	case p.FunctionCall != nil:
		input := json.RawMessage(`{}`)
		if len(p.FunctionCall.Args) > 0 {
			if raw, err := json.Marshal(p.FunctionCall.Args); err == nil {
				input = raw
			}
		}
		return &apiBlock{Type: "tool_use", ID: p.FunctionCall.ID, Name: p.FunctionCall.Name, Input: input}
	case p.FunctionResponse != nil:
		result, err := json.Marshal(p.FunctionResponse.Response)
		if err != nil {
			result = []byte(`{}`)
		}
		return &apiBlock{Type: "tool_result", ToolUseID: p.FunctionResponse.ID, Content: string(result)}
	case p.Thought:
		return &apiBlock{Type: "thinking", Thinking: p.Text}
	default:
		return &apiBlock{Type: "text", Text: p.Text}
	}
}

func mapRole(r messages.Role) string {
	if r == messages.RoleModel {
		return "assistant"
	}
	return "user"
}

func parseResponse(resp apiResponse) (*messages.Response, error) {
	content := messages.Content{Role: messages.RoleModel}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content.Parts = append(content.Parts, messages.TextPart(block.Text))
		case "thinking":
			content.Parts = append(content.Parts, messages.ThoughtPart(block.Thinking))
		case "tool_use":
			args, err := decodeToolInput(block.Input)
			if err != nil {
				return nil, fmt.Errorf("anthropic: decode tool input for %q: %w", block.Name, err)
			}
			content.Parts = append(content.Parts, messages.FunctionCallPart(messages.FunctionCall{
				ID:   block.ID,
				Name: block.Name,
				Args: args,
			}))
		}
	}

	return &messages.Response{
		Candidates: []messages.Candidate{{
			Content:      content,
			FinishReason: mapStopReason(resp.StopReason),
		}},
		UsageMetadata: &messages.UsageMetadata{
			PromptTokenCount:     resp.Usage.InputTokens,
			CandidatesTokenCount: resp.Usage.OutputTokens,
			TotalTokenCount:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func decodeToolInput(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func mapStopReason(reason string) messages.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence", "tool_use":
		return messages.FinishReasonStop
	case "max_tokens":
		return messages.FinishReasonMaxTokens
	case "refusal":
		return messages.FinishReasonSafety
	case "":
		return messages.FinishReasonUnspecified
	default:
		return messages.FinishReasonOther
	}
}
