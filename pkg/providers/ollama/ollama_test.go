package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convokehq/convoke/pkg/invoker"
	"github.com/convokehq/convoke/pkg/messages"
	"github.com/convokehq/convoke/pkg/providers/ollama"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *ollama.Adapter) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a, err := ollama.New(srv.URL, "llama-test")
	require.NoError(t, err)

	return srv, a
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("failed to encode response: %v", err)
	}
}

func readBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

	return body
}

func chatBody(reply, doneReason string, in, out int) map[string]any {
	return map[string]any{
		"model":             "llama-test",
		"created_at":        "2024-01-01T00:00:00Z",
		"message":           map[string]any{"role": "assistant", "content": reply},
		"done":              true,
		"done_reason":       doneReason,
		"prompt_eval_count": in,
		"eval_count":        out,
	}
}

func TestGenerate_SimpleText(t *testing.T) {
	_, a := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat", r.URL.Path)

		body := readBody(t, r)
		assert.Equal(t, "llama-test", body["model"])
		assert.Equal(t, false, body["stream"])

		msgs := body["messages"].([]any)
		require.Len(t, msgs, 2)
		system := msgs[0].(map[string]any)
		assert.Equal(t, "system", system["role"])
		assert.Equal(t, "Be brief.", system["content"])
		user := msgs[1].(map[string]any)
		assert.Equal(t, "user", user["role"])
		assert.Equal(t, "Hello", user["content"])

		opts := body["options"].(map[string]any)
		assert.EqualValues(t, 512, opts["num_predict"])
		assert.EqualValues(t, 0.5, opts["temperature"])

		writeJSON(t, w, chatBody("Hi there!", "stop", 10, 5))
	})

	resp, err := a.Generate(context.Background(), invoker.Request{
		Contents:    messages.FromText("Hello").Contents(),
		System:      "Be brief.",
		MaxTokens:   512,
		Temperature: 0.5,
	})
	require.NoError(t, err)

	assert.Equal(t, "Hi there!", resp.Text())
	assert.Equal(t, messages.FinishReasonStop, resp.FinishReason())

	require.NotNil(t, resp.UsageMetadata)
	assert.Equal(t, 10, resp.UsageMetadata.PromptTokenCount)
	assert.Equal(t, 5, resp.UsageMetadata.CandidatesTokenCount)

	last, ok := a.UsageTracker().Last()
	require.True(t, ok)
	assert.Equal(t, 10, last.InputTokens)
	assert.Equal(t, 5, last.OutputTokens)
}

func TestGenerate_FullModelID(t *testing.T) {
	_, a := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	assert.Equal(t, "ollama:llama-test", a.FullModelID())
}

func TestGenerate_ToolRoundTrip(t *testing.T) {
	_, a := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)

		tools := body["tools"].([]any)
		require.Len(t, tools, 1)
		fn := tools[0].(map[string]any)["function"].(map[string]any)
		assert.Equal(t, "get_weather", fn["name"])
		params := fn["parameters"].(map[string]any)
		assert.Equal(t, "object", params["type"])

		writeJSON(t, w, map[string]any{
			"model":      "llama-test",
			"created_at": "2024-01-01T00:00:00Z",
			"message": map[string]any{
				"role": "assistant",
				"tool_calls": []any{map[string]any{
					"function": map[string]any{
						"name":      "get_weather",
						"arguments": map[string]any{"city": "Paris"},
					},
				}},
			},
			"done":              true,
			"done_reason":       "stop",
			"prompt_eval_count": 20,
			"eval_count":        10,
		})
	})

	resp, err := a.Generate(context.Background(), invoker.Request{
		Contents: messages.FromText("Weather in Paris?").Contents(),
		Tools: []messages.Tool{{FunctionDeclarations: []messages.FunctionDeclaration{{
			Name:        "get_weather",
			Description: "Current weather for a city",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`),
		}}}},
	})
	require.NoError(t, err)

	calls := resp.Candidates[0].Content.FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "get_weather", calls[0].Name)
	assert.Equal(t, "Paris", calls[0].Args["city"])
	assert.True(t, strings.HasPrefix(calls[0].ID, "call_get_weather_"))
}

func TestGenerate_FunctionResponseBecomesToolMessage(t *testing.T) {
	_, a := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)

		msgs := body["messages"].([]any)
		require.Len(t, msgs, 3)

		assistant := msgs[1].(map[string]any)
		assert.Equal(t, "assistant", assistant["role"])
		toolCalls := assistant["tool_calls"].([]any)
		require.Len(t, toolCalls, 1)

		tool := msgs[2].(map[string]any)
		assert.Equal(t, "tool", tool["role"])
		assert.Equal(t, "get_weather", tool["tool_name"])
		assert.JSONEq(t, `{"temp":"22C"}`, tool["content"].(string))

		writeJSON(t, w, chatBody("It is 22C in Paris.", "stop", 30, 8))
	})

	conv := messages.FromText("Weather in Paris?")
	conv.Append(messages.Content{Role: messages.RoleModel, Parts: []messages.Part{
		messages.FunctionCallPart(messages.FunctionCall{ID: "call_1", Name: "get_weather", Args: map[string]any{"city": "Paris"}}),
	}})
	conv.Append(messages.Content{Role: messages.RoleUser, Parts: []messages.Part{
		messages.FunctionResponsePart(messages.FunctionResponse{ID: "call_1", Name: "get_weather", Response: map[string]any{"temp": "22C"}}),
	}})

	resp, err := a.Generate(context.Background(), invoker.Request{Contents: conv.Contents()})
	require.NoError(t, err)
	assert.Equal(t, "It is 22C in Paris.", resp.Text())
}

func TestGenerate_Thinking(t *testing.T) {
	_, a := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)
		assert.Equal(t, true, body["think"])

		writeJSON(t, w, map[string]any{
			"model":      "llama-test",
			"created_at": "2024-01-01T00:00:00Z",
			"message": map[string]any{
				"role":     "assistant",
				"thinking": "Six times seven...",
				"content":  "42",
			},
			"done":              true,
			"done_reason":       "stop",
			"prompt_eval_count": 12,
			"eval_count":        4,
		})
	})

	resp, err := a.Generate(context.Background(), invoker.Request{
		Contents: messages.FromText("What is six times seven?").Contents(),
		Thinking: &messages.ThinkingConfig{IncludeThoughts: true},
	})
	require.NoError(t, err)

	parts := resp.Candidates[0].Content.Parts
	require.Len(t, parts, 2)
	assert.True(t, parts[0].Thought)
	assert.Equal(t, "42", resp.Text())
}

func TestGenerate_StructuredFormat(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}}}`)

	_, a := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)

		got, err := json.Marshal(body["format"])
		require.NoError(t, err)
		assert.JSONEq(t, string(schema), string(got))

		writeJSON(t, w, chatBody(`{"name":"Ada"}`, "stop", 9, 6))
	})

	resp, err := a.Generate(context.Background(), invoker.Request{
		Contents:       messages.FromText("Who wrote the first program?").Contents(),
		ResponseSchema: schema,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ada"}`, resp.Text())
}

func TestGenerate_LengthFinish(t *testing.T) {
	_, a := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, chatBody("truncated outp", "length", 10, 16))
	})

	resp, err := a.Generate(context.Background(), invoker.Request{
		Contents: messages.FromText("Write a novel.").Contents(),
	})
	require.NoError(t, err)
	assert.Equal(t, messages.FinishReasonMaxTokens, resp.FinishReason())
}

func TestGenerate_ServerError(t *testing.T) {
	_, a := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model failed to load"}`))
	})

	_, err := a.Generate(context.Background(), invoker.Request{
		Contents: messages.FromText("hi").Contents(),
	})
	require.Error(t, err)

	var transient *invoker.TransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, http.StatusInternalServerError, transient.StatusCode)
}

func TestGenerate_ModelNotFound(t *testing.T) {
	_, a := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"llama-test\" not found"}`))
	})

	_, err := a.Generate(context.Background(), invoker.Request{
		Contents: messages.FromText("hi").Contents(),
	})

	var fatal *invoker.FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, http.StatusNotFound, fatal.StatusCode)
}

func TestGenerate_ServerUnreachable(t *testing.T) {
	srv, a := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := a.Generate(context.Background(), invoker.Request{
		Contents: messages.FromText("hi").Contents(),
	})
	require.Error(t, err)

	var transient *invoker.TransientError
	require.ErrorAs(t, err, &transient)
	assert.Zero(t, transient.StatusCode)
}
