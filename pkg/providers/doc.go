// Package providers groups the concrete adapters that implement the invoker
// contract for specific LLM backends.
//
// It is organized into sub-packages:
//   - [github.com/convokehq/convoke/pkg/providers/anthropic] — Anthropic Messages API over a hand-rolled HTTP adapter, with SSE streaming
//   - [github.com/convokehq/convoke/pkg/providers/googleai] — Google Gemini through the official genai SDK, with live-API websocket streaming
//   - [github.com/convokehq/convoke/pkg/providers/openai] — OpenAI Chat Completions through sashabaranov/go-openai; its BaseURL override covers OpenAI-compatible endpoints
//   - [github.com/convokehq/convoke/pkg/providers/ollama] — local Ollama servers through ollama/api
//
// This package contains no provider-specific code — every adapter converts
// between the neutral messages model and its wire format on its own, and the
// reliability layers in llmclient sit above all of them.
package providers
