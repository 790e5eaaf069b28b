package googleai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/convokehq/convoke/pkg/invoker"
	"github.com/convokehq/convoke/pkg/invoker/usage"
	"github.com/convokehq/convoke/pkg/messages"
)

// livePath is the BidiGenerateContent websocket endpoint.
const livePath = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// readLimit allows model turns well beyond the websocket default.
const readLimit = 8 << 20

// GenerateStream opens a live API session, sends the conversation as a
// single complete turn and yields the model turn incrementally. The session
// is closed when the stream is closed.
func (a *Adapter) GenerateStream(ctx context.Context, req invoker.Request) (invoker.ResponseStream, error) {
	if _, err := a.Credential(); err != nil {
		return nil, err
	}

	conn, resp, err := a.DialWS(ctx, livePath)
	if err != nil {
		return nil, fmt.Errorf("googleai: %w", dialError(resp, err))
	}
	conn.SetReadLimit(readLimit)

	setup := liveClientMessage{Setup: &liveSetup{
		Model:             "models/" + a.Name,
		GenerationConfig:  a.liveGenConfig(req),
		SystemInstruction: liveSystem(req.System),
		Tools:             toWireTools(req.Tools),
	}}
	if err := wsjson.Write(ctx, conn, setup); err != nil {
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("googleai: send setup: %w", &invoker.TransientError{Provider: Provider, Err: err})
	}

	var ack liveServerMessage
	if err := wsjson.Read(ctx, conn, &ack); err != nil {
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("googleai: await setup: %w", &invoker.TransientError{Provider: Provider, Err: err})
	}
	if ack.SetupComplete == nil {
		conn.Close(websocket.StatusInternalError, "setup rejected")
		return nil, fmt.Errorf("googleai: %w", &invoker.FatalError{Provider: Provider, Err: fmt.Errorf("live setup rejected")})
	}

	turn := liveClientMessage{ClientContent: &liveClientContent{
		Turns:        toWireContents(req.Contents),
		TurnComplete: true,
	}}
	if err := wsjson.Write(ctx, conn, turn); err != nil {
		conn.Close(websocket.StatusInternalError, "send failed")
		return nil, fmt.Errorf("googleai: send turn: %w", &invoker.TransientError{Provider: Provider, Err: err})
	}

	return &liveStream{a: a, ctx: ctx, conn: conn}, nil
}

func dialError(resp *http.Response, err error) error {
	if resp == nil {
		return &invoker.TransientError{Provider: Provider, Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		return &invoker.TransientError{
			Provider:   Provider,
			StatusCode: resp.StatusCode,
			RetryAfter: invoker.ParseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        err,
		}
	default:
		return &invoker.FatalError{Provider: Provider, StatusCode: resp.StatusCode, Err: err}
	}
}

// --- live wire types ---

type liveClientMessage struct {
	Setup         *liveSetup         `json:"setup,omitempty"`
	ClientContent *liveClientContent `json:"clientContent,omitempty"`
}

type liveSetup struct {
	Model             string         `json:"model"`
	GenerationConfig  *liveGenConfig `json:"generationConfig,omitempty"`
	SystemInstruction *wireContent   `json:"systemInstruction,omitempty"`
	Tools             []wireTool     `json:"tools,omitempty"`
}

type liveGenConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type liveClientContent struct {
	Turns        []wireContent `json:"turns,omitempty"`
	TurnComplete bool          `json:"turnComplete"`
}

type liveServerMessage struct {
	SetupComplete *struct{}          `json:"setupComplete,omitempty"`
	ServerContent *liveServerContent `json:"serverContent,omitempty"`
	ToolCall      *liveToolCall      `json:"toolCall,omitempty"`
	UsageMetadata *wireUsage         `json:"usageMetadata,omitempty"`
	GoAway        *liveGoAway        `json:"goAway,omitempty"`
}

type liveServerContent struct {
	ModelTurn    *wireContent `json:"modelTurn,omitempty"`
	TurnComplete bool         `json:"turnComplete,omitempty"`
	Interrupted  bool         `json:"interrupted,omitempty"`
}

type liveToolCall struct {
	FunctionCalls []wireFunctionCall `json:"functionCalls,omitempty"`
}

type liveGoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts,omitempty"`
}

type wirePart struct {
	Text             string                `json:"text,omitempty"`
	Thought          bool                  `json:"thought,omitempty"`
	FunctionCall     *wireFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *wireFunctionResponse `json:"functionResponse,omitempty"`
}

type wireFunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type wireFunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

type wireTool struct {
	FunctionDeclarations []wireFunctionDeclaration `json:"functionDeclarations,omitempty"`
}

type wireFunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// wireUsage covers both the unary field names and the live API's
// responseTokenCount.
type wireUsage struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
	ResponseTokenCount   int `json:"responseTokenCount,omitempty"`
	ThoughtsTokenCount   int `json:"thoughtsTokenCount,omitempty"`
	TotalTokenCount      int `json:"totalTokenCount,omitempty"`
}

func (a *Adapter) liveGenConfig(req invoker.Request) *liveGenConfig {
	cfg := &liveGenConfig{}

	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = req.MaxTokens
	} else {
		cfg.MaxOutputTokens = a.MaxTokens
	}

	if t := req.Temperature; t != 0 {
		cfg.Temperature = &t
	} else if a.Temperature != 0 {
		t := a.Temperature
		cfg.Temperature = &t
	}

	return cfg
}

func liveSystem(system string) *wireContent {
	if system == "" {
		return nil
	}
	return &wireContent{Parts: []wirePart{{Text: system}}}
}

func toWireTools(tools []messages.Tool) []wireTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]wireTool, len(tools))
	for i, tool := range tools {
		decls := make([]wireFunctionDeclaration, len(tool.FunctionDeclarations))
		for j, fd := range tool.FunctionDeclarations {
			decls[j] = wireFunctionDeclaration{
				Name:        fd.Name,
				Description: fd.Description,
				Parameters:  fd.Parameters,
			}
		}
		out[i] = wireTool{FunctionDeclarations: decls}
	}
	return out
}

func toWireContents(contents []messages.Content) []wireContent {
	out := make([]wireContent, 0, len(contents))
	for _, c := range contents {
		wc := wireContent{Role: string(c.Role), Parts: make([]wirePart, 0, len(c.Parts))}
		for _, p := range c.Parts {
			wc.Parts = append(wc.Parts, toWirePart(p))
		}
		out = append(out, wc)
	}
	return out
}

func toWirePart(p messages.Part) wirePart {
	switch {
	case p.FunctionCall != nil:
		return wirePart{FunctionCall: &wireFunctionCall{
			ID:   p.FunctionCall.ID,
			Name: p.FunctionCall.Name,
			Args: p.FunctionCall.Args,
		}}
	case p.FunctionResponse != nil:
		return wirePart{FunctionResponse: &wireFunctionResponse{
			ID:       p.FunctionResponse.ID,
			Name:     p.FunctionResponse.Name,
			Response: p.FunctionResponse.Response,
		}}
	default:
		return wirePart{Text: p.Text, Thought: p.Thought}
	}
}

// --- live stream ---

// liveStream adapts live API server messages to the response stream
// contract. The stream ends at the first turnComplete.
type liveStream struct {
	a    *Adapter
	ctx  context.Context
	conn *websocket.Conn

	usage    messages.UsageMetadata
	sawUsage bool
	done     bool
}

var _ invoker.ResponseStream = (*liveStream)(nil)

func (s *liveStream) Recv() (*messages.Response, error) {
	for {
		if s.done {
			return nil, io.EOF
		}

		var msg liveServerMessage
		if err := wsjson.Read(s.ctx, s.conn, &msg); err != nil {
			if s.ctx.Err() != nil {
				return nil, s.ctx.Err()
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.done = true
				return nil, io.EOF
			}
			return nil, fmt.Errorf("googleai: read live stream: %w", &invoker.TransientError{Provider: Provider, Err: err})
		}

		// Usage piggybacks on content messages rather than replacing them.
		if msg.UsageMetadata != nil {
			s.addUsage(msg.UsageMetadata)
		}

		switch {
		case msg.ToolCall != nil:
			parts := make([]messages.Part, 0, len(msg.ToolCall.FunctionCalls))
			for _, fc := range msg.ToolCall.FunctionCalls {
				id := fc.ID
				if id == "" {
					id = "call_" + fc.Name + "_" + uuid.NewString()
				}
				args := fc.Args
				if args == nil {
					args = map[string]any{}
				}
				parts = append(parts, messages.FunctionCallPart(messages.FunctionCall{ID: id, Name: fc.Name, Args: args}))
			}
			return s.chunk(parts, messages.FinishReasonUnspecified), nil

		case msg.ServerContent != nil:
			var parts []messages.Part
			if mt := msg.ServerContent.ModelTurn; mt != nil {
				for _, p := range mt.Parts {
					parts = append(parts, fromWirePart(p))
				}
			}
			switch {
			case msg.ServerContent.TurnComplete:
				s.done = true
				s.recordUsage()
				return s.chunk(parts, messages.FinishReasonStop), nil
			case msg.ServerContent.Interrupted:
				s.done = true
				s.recordUsage()
				return s.chunk(parts, messages.FinishReasonOther), nil
			case len(parts) > 0:
				return s.chunk(parts, messages.FinishReasonUnspecified), nil
			}

		case msg.GoAway != nil:
			return nil, fmt.Errorf("googleai: %w", &invoker.TransientError{
				Provider: Provider,
				Err:      fmt.Errorf("live session closing, time left %s", msg.GoAway.TimeLeft),
			})
		}
	}
}

func (s *liveStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

func (s *liveStream) chunk(parts []messages.Part, reason messages.FinishReason) *messages.Response {
	resp := &messages.Response{Candidates: []messages.Candidate{{
		Content:      messages.Content{Role: messages.RoleModel, Parts: parts},
		FinishReason: reason,
	}}}
	if reason.Terminal() && s.sawUsage {
		u := s.usage
		resp.UsageMetadata = &u
	}
	return resp
}

func (s *liveStream) addUsage(u *wireUsage) {
	out := u.CandidatesTokenCount
	if u.ResponseTokenCount > 0 {
		out = u.ResponseTokenCount
	}
	s.usage.Add(&messages.UsageMetadata{
		PromptTokenCount:     u.PromptTokenCount,
		CandidatesTokenCount: out,
		ThoughtsTokenCount:   u.ThoughtsTokenCount,
		TotalTokenCount:      u.TotalTokenCount,
	})
	s.sawUsage = true
}

func (s *liveStream) recordUsage() {
	if s.sawUsage {
		s.a.Usage.Add(usage.FromMetadata(&s.usage))
	}
}

func fromWirePart(p wirePart) messages.Part {
	switch {
	case p.FunctionCall != nil:
		id := p.FunctionCall.ID
		if id == "" {
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
