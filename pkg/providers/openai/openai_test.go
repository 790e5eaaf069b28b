package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convokehq/convoke/pkg/invoker"
	"github.com/convokehq/convoke/pkg/messages"
	"github.com/convokehq/convoke/pkg/providers/openai"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *openai.Adapter) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a := openai.New(srv.URL, "test-key", "gpt-test")

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

func completionBody(reply, finish string, in, out int) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-test",
		"choices": []any{map[string]any{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": reply},
			"finish_reason": finish,
		}},
		"usage": map[string]any{
			"prompt_tokens":     in,
			"completion_tokens": out,
			"total_tokens":      in + out,
		},
	}
}

func TestGenerate_SimpleText(t *testing.T) {
	_, a := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		body := readBody(t, r)
		assert.Equal(t, "gpt-test", body["model"])
		assert.EqualValues(t, 512, body["max_tokens"])
		assert.EqualValues(t, 0.5, body["temperature"])

		msgs := body["messages"].([]any)
		require.Len(t, msgs, 2)
		system := msgs[0].(map[string]any)
		assert.Equal(t, "system", system["role"])
		assert.Equal(t, "Be brief.", system["content"])
		user := msgs[1].(map[string]any)
		assert.Equal(t, "user", user["role"])
		assert.Equal(t, "Hello", user["content"])

		writeJSON(t, w, completionBody("Hi there!", "stop", 10, 5))
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

	assert.Equal(t, "openai:gpt-test", a.FullModelID())
}

func TestGenerate_ToolRoundTrip(t *testing.T) {
	_, a := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)

		tools := body["tools"].([]any)
		require.Len(t, tools, 1)
		fn := tools[0].(map[string]any)["function"].(map[string]any)
		assert.Equal(t, "get_weather", fn["name"])
		assert.Equal(t, "Current weather for a city", fn["description"])
		params := fn["parameters"].(map[string]any)
		assert.Equal(t, "object", params["type"])

		assert.Equal(t, "required", body["tool_choice"])

		writeJSON(t, w, map[string]any{
			"id":      "chatcmpl-2",
			"object":  "chat.completion",
			"choices": []any{map[string]any{
				"index": 0,
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []any{map[string]any{
						"id":       "call_1",
						"type":     "function",
						"function": map[string]any{"name": "get_weather", "arguments": `{"city":"Paris"}`},
					}},
				},
				"finish_reason": "tool_calls",
			}},
			"usage": map[string]any{"prompt_tokens": 20, "completion_tokens": 10, "total_tokens": 30},
		})
	})

	resp, err := a.Generate(context.Background(), invoker.Request{
		Contents: messages.FromText("Weather in Paris?").Contents(),
		Tools: []messages.Tool{{FunctionDeclarations: []messages.FunctionDeclaration{{
			Name:        "get_weather",
			Description: "Current weather for a city",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`),
		}}}},
		ToolConfig: &messages.ToolConfig{
			FunctionCallingConfig: &messages.FunctionCallingConfig{Mode: messages.ModeAny},
		},
	})
	require.NoError(t, err)

	// tool_calls still ends the provider turn.
	assert.Equal(t, messages.FinishReasonStop, resp.FinishReason())

	calls := resp.Candidates[0].Content.FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "get_weather", calls[0].Name)
	assert.Equal(t, "Paris", calls[0].Args["city"])
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
		assert.Equal(t, "call_1", toolCalls[0].(map[string]any)["id"])

		tool := msgs[2].(map[string]any)
		assert.Equal(t, "tool", tool["role"])
		assert.Equal(t, "call_1", tool["tool_call_id"])
		assert.JSONEq(t, `{"temp":"22C"}`, tool["content"].(string))

		writeJSON(t, w, completionBody("It is 22C in Paris.", "stop", 30, 8))
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

func TestGenerate_Reasoning(t *testing.T) {
	_, a := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)
		assert.Equal(t, "low", body["reasoning_effort"])

		writeJSON(t, w, map[string]any{
			"id":      "chatcmpl-3",
			"object":  "chat.completion",
			"choices": []any{map[string]any{
				"index": 0,
				"message": map[string]any{
					"role":              "assistant",
					"reasoning_content": "Six times seven...",
					"content":           "42",
				},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{
				"prompt_tokens":     12,
				"completion_tokens": 24,
				"total_tokens":      36,
				"completion_tokens_details": map[string]any{
					"reasoning_tokens": 20,
				},
			},
		})
	})

	resp, err := a.Generate(context.Background(), invoker.Request{
		Contents: messages.FromText("What is six times seven?").Contents(),
		Thinking: &messages.ThinkingConfig{IncludeThoughts: true, Budget: 2048},
	})
	require.NoError(t, err)

	parts := resp.Candidates[0].Content.Parts
	require.Len(t, parts, 2)
	assert.True(t, parts[0].Thought)
	assert.Equal(t, "42", resp.Text())

	last, ok := a.UsageTracker().Last()
	require.True(t, ok)
	assert.Equal(t, 20, last.ThoughtTokens)
}

func TestGenerate_StructuredOutput(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`)

	_, a := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)

		rf := body["response_format"].(map[string]any)
		assert.Equal(t, "json_schema", rf["type"])
		js := rf["json_schema"].(map[string]any)
		assert.Equal(t, "response", js["name"])

		got, err := json.Marshal(js["schema"])
		require.NoError(t, err)
		assert.JSONEq(t, string(schema), string(got))

		writeJSON(t, w, completionBody(`{"name":"Ada"}`, "stop", 9, 6))
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
		writeJSON(t, w, completionBody("truncated outp", "length", 10, 16))
	})

	resp, err := a.Generate(context.Background(), invoker.Request{
		Contents: messages.FromText("Write a novel.").Contents(),
	})
	require.NoError(t, err)
	assert.Equal(t, messages.FinishReasonMaxTokens, resp.FinishReason())
}

func TestGenerate_RateLimited(t *testing.T) {
	_, a := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit exceeded","type":"requests"}}`))
	})

	_, err := a.Generate(context.Background(), invoker.Request{
		Contents: messages.FromText("hi").Contents(),
	})
	require.Error(t, err)

	var transient *invoker.TransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, http.StatusTooManyRequests, transient.StatusCode)
}

func TestGenerate_BadRequest(t *testing.T) {
	_, a := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid request","type":"invalid_request_error"}}`))
	})

	_, err := a.Generate(context.Background(), invoker.Request{
		Contents: messages.FromText("hi").Contents(),
	})

	var fatal *invoker.FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, http.StatusBadRequest, fatal.StatusCode)
}

func TestGenerate_MissingKey(t *testing.T) {
	calls := 0
	_, a := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
	})
	a.Auth.Key = ""

	_, err := a.Generate(context.Background(), invoker.Request{
		Contents: messages.FromText("hi").Contents(),
	})
	require.Error(t, err)

	var authErr *invoker.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, openai.EnvAPIKey, authErr.EnvVar)
	assert.Equal(t, 0, calls)
}
