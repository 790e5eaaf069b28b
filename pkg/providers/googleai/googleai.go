// Package googleai implements the invoker contract for the Gemini API
// through the official genai SDK. Unary generation goes over the SDK;
// streaming uses the live API over websocket.
package googleai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/convokehq/convoke/pkg/invoker"
	"github.com/convokehq/convoke/pkg/invoker/usage"
	"github.com/convokehq/convoke/pkg/messages"
)

const (
	// Provider is the provider segment of the full model identifier.
	Provider = "google"

	// DefaultBaseURL is the production API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	// EnvAPIKey is the environment variable the engine reads the key from.
	EnvAPIKey = "GEMINI_API_KEY"
)

var (
	_ invoker.Invoker            = (*Adapter)(nil)
	_ invoker.Streamer           = (*Adapter)(nil)
	_ invoker.CredentialProvider = (*Adapter)(nil)
	_ invoker.UsageReporter      = (*Adapter)(nil)
)

// Adapter calls the Gemini API. The embedded HTTPAdapter carries identity,
// credentials and usage; the genai client does the unary transport and the
// websocket helpers carry the live stream.
type Adapter struct {
	invoker.HTTPAdapter

	client *genai.Client
}

// New creates an Adapter. An empty baseURL selects production.
func New(ctx context.Context, baseURL, apiKey, model string) (*Adapter, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	a := &Adapter{}
	a.Provider = Provider
	a.BaseURL = baseURL
	a.Auth = invoker.Auth{
		Key:    apiKey,
		EnvVar: EnvAPIKey,
		Header: "x-goog-api-key",
	}
	a.Name = model
	a.MaxTokens = 8192

	// Without a key the SDK refuses to construct a client. Leave it nil so
	// Generate reports the missing credential instead.
	if apiKey != "" {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:      apiKey,
			Backend:     genai.BackendGeminiAPI,
			HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
		})
		if err != nil {
			return nil, fmt.Errorf("googleai: create client: %w", err)
		}
		a.client = client
	}

	return a, nil
}

// Generate sends the conversation through the genai SDK.
func (a *Adapter) Generate(ctx context.Context, req invoker.Request) (*messages.Response, error) {
	if _, err := a.Credential(); err != nil {
		return nil, err
	}

	resp, err := a.client.Models.GenerateContent(ctx, a.Name, toGenAIContents(req.Contents), a.buildConfig(req))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("googleai: %w", classifyError(err))
	}

	out := fromGenAIResponse(resp)
	if out.UsageMetadata != nil {
		a.Usage.Add(usage.FromMetadata(out.UsageMetadata))
	}

	return out, nil
}

// --- request conversion ---

func (a *Adapter) buildConfig(req invoker.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.MaxTokens
	}
	cfg.MaxOutputTokens = int32(maxTokens)

	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}

	if t := req.Temperature; t != 0 {
		cfg.Temperature = genai.Ptr(float32(t))
	} else if a.Temperature != 0 {
		cfg.Temperature = genai.Ptr(float32(a.Temperature))
	}

	if req.Thinking != nil {
		tc := &genai.ThinkingConfig{IncludeThoughts: req.Thinking.IncludeThoughts}
		if req.Thinking.Budget > 0 {
			tc.ThinkingBudget = genai.Ptr(req.Thinking.Budget)
		}
		cfg.ThinkingConfig = tc
	}

	for _, tool := range req.Tools {
		decls := make([]*genai.FunctionDeclaration, len(tool.FunctionDeclarations))
		for i, fd := range tool.FunctionDeclarations {
			decls[i] = &genai.FunctionDeclaration{
				Name:                 fd.Name,
				Description:          fd.Description,
				ParametersJsonSchema: schemaValue(fd.Parameters),
			}
		}
		cfg.Tools = append(cfg.Tools, &genai.Tool{FunctionDeclarations: decls})
	}

	if req.ToolConfig != nil && req.ToolConfig.FunctionCallingConfig != nil {
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: mapCallingMode(req.ToolConfig.FunctionCallingConfig.Mode),
			},
		}
	}

	if len(req.ResponseSchema) > 0 {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseJsonSchema = schemaValue(req.ResponseSchema)
	}

	return cfg
}

// schemaValue decodes a raw schema for the SDK's any-typed schema fields.
func schemaValue(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{"type": "object"}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{"type": "object"}
	}
	return v
}

func mapCallingMode(mode messages.FunctionCallingMode) genai.FunctionCallingConfigMode {
	switch mode {
	case messages.ModeAny:
		return genai.FunctionCallingConfigModeAny
	case messages.ModeNone:
		return genai.FunctionCallingConfigModeNone
	default:
		return genai.FunctionCallingConfigModeAuto
	}
}

func toGenAIContents(contents []messages.Content) []*genai.Content {
	out := make([]*genai.Content, 0, len(contents))
	for _, c := range contents {
		gc := &genai.Content{Role: string(c.Role), Parts: make([]*genai.Part, 0, len(c.Parts))}
		for _, p := range c.Parts {
			gc.Parts = append(gc.Parts, toGenAIPart(p))
		}
		out = append(out, gc)
	}
	return out
}

func toGenAIPart(p messages.Part) *genai.Part {
	switch {
	case p.FunctionCall != nil:
		return &genai.Part{FunctionCall: &genai.FunctionCall{
			ID:   p.FunctionCall.ID,
			Name: p.FunctionCall.Name,
			Args: p.FunctionCall.Args,
		}}
	case p.FunctionResponse != nil:
		return &genai.Part{FunctionResponse: &genai.FunctionResponse{
			ID:       p.FunctionResponse.ID,
			Name:     p.FunctionResponse.Name,
			Response: p.FunctionResponse.Response,
		}}
	default:
		return &genai.Part{Text: p.Text, Thought: p.Thought}
	}
}

// --- response conversion ---

func fromGenAIResponse(resp *genai.GenerateContentResponse) *messages.Response {
	out := &messages.Response{}

	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		mc := messages.Content{Role: messages.RoleModel}
		if cand.Content != nil {
			for _, p := range cand.Content.Parts {
				if p == nil {
					continue
				}
				mc.Parts = append(mc.Parts, fromGenAIPart(p))
			}
		}
		out.Candidates = append(out.Candidates, messages.Candidate{
			Content:      mc,
			FinishReason: mapFinishReason(cand.FinishReason),
		})
	}

	if um := resp.UsageMetadata; um != nil {
		out.UsageMetadata = &messages.UsageMetadata{
			PromptTokenCount:        int(um.PromptTokenCount),
			CandidatesTokenCount:    int(um.CandidatesTokenCount),
			ThoughtsTokenCount:      int(um.ThoughtsTokenCount),
			CachedContentTokenCount: int(um.CachedContentTokenCount),
			TotalTokenCount:         int(um.TotalTokenCount),
		}
	}

	return out
}

func fromGenAIPart(p *genai.Part) messages.Part {
	switch {
	case p.FunctionCall != nil:
		id := p.FunctionCall.ID
		if id == "" {
			// The API often omits call IDs; synthesize one so tool results
			// can reference the call.
			id = "call_" + p.FunctionCall.Name + "_" + uuid.NewString()
		}
		args := p.FunctionCall.Args
		if args == nil {
			args = map[string]any{}
		}
		return messages.FunctionCallPart(messages.FunctionCall{ID: id, Name: p.FunctionCall.Name, Args: args})
	case p.FunctionResponse != nil:
		return messages.FunctionResponsePart(messages.FunctionResponse{
			ID:       p.FunctionResponse.ID,
			Name:     p.FunctionResponse.Name,
			Response: p.FunctionResponse.Response,
		})
	case p.Thought:
		return messages.ThoughtPart(p.Text)
	default:
		return messages.TextPart(p.Text)
	}
}

func mapFinishReason(r genai.FinishReason) messages.FinishReason {
	switch r {
	case genai.FinishReasonStop:
		return messages.FinishReasonStop
	case genai.FinishReasonMaxTokens:
		return messages.FinishReasonMaxTokens
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
		return messages.FinishReasonSafety
	case genai.FinishReasonRecitation:
		return messages.FinishReasonRecitation
	case genai.FinishReasonUnspecified, "":
		return messages.FinishReasonUnspecified
	default:
		return messages.FinishReasonOther
	}
}

func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429 || apiErr.Code == 408 || apiErr.Code >= 500:
			return &invoker.TransientError{Provider: Provider, StatusCode: apiErr.Code, Err: err}
		default:
			return &invoker.FatalError{Provider: Provider, StatusCode: apiErr.Code, Err: err}
		}
	}
	return &invoker.TransientError{Provider: Provider, Err: err}
}
