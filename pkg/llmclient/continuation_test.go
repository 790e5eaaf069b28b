package llmclient_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convokehq/convoke/pkg/invoker"
	"github.com/convokehq/convoke/pkg/llmclient"
	"github.com/convokehq/convoke/pkg/messages"
)

func TestClientAutocompleteOffByDefault(t *testing.T) {
	inv := newScriptedInvoker(step{resp: textResponse(messages.FinishReasonOther, "partial")})
	c := llmclient.New(inv)

	conv := messages.FromText("hi")
	resp, err := c.Generate(context.Background(), conv)

	require.NoError(t, err)
	assert.Equal(t, messages.FinishReasonOther, resp.FinishReason())
	assert.Equal(t, "partial", resp.Text())
	assert.Equal(t, 1, inv.calls())
	assert.Equal(t, 1, conv.Len())
}

func TestClientAutocompleteMergesUntilTerminal(t *testing.T) {
	inv := newScriptedInvoker(
		step{resp: textResponse(messages.FinishReasonOther, "Hel")},
		step{resp: textResponse(messages.FinishReasonStop, "lo")},
	)
	c := llmclient.New(inv)

	conv := messages.FromText("greet me")
	resp, err := c.Generate(context.Background(), conv, llmclient.WithAutocomplete())

	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.Text())
	assert.Equal(t, messages.FinishReasonStop, resp.FinishReason())
	assert.Equal(t, 2, inv.calls())

	// Same-flag segments extend the same part rather than stacking new ones.
	require.Len(t, resp.Candidates, 1)
	require.Len(t, resp.Candidates[0].Content.Parts, 1)
	assert.Equal(t, "Hello", resp.Candidates[0].Content.Parts[0].Text)

	// The merge landed on the caller's conversation.
	require.Equal(t, 2, conv.Len())
	last, ok := conv.Last()
	require.True(t, ok)
	assert.Equal(t, messages.RoleModel, last.Role)
	assert.Equal(t, "Hello", last.Text())

	// Usage is summed across all continuation calls.
	require.NotNil(t, resp.UsageMetadata)
	assert.Equal(t, 16, resp.UsageMetadata.TotalTokenCount)
}

func TestClientAutocompleteSendsMergedConversation(t *testing.T) {
	inv := newScriptedInvoker(
		step{resp: textResponse(messages.FinishReasonOther, "Hel")},
		step{resp: textResponse(messages.FinishReasonStop, "lo")},
	)
	c := llmclient.New(inv)

	_, err := c.Generate(context.Background(), messages.FromText("greet me"), llmclient.WithAutocomplete())
	require.NoError(t, err)

	second := inv.request(1)
	require.Len(t, second.Contents, 2)
	assert.Equal(t, messages.RoleModel, second.Contents[1].Role)
	assert.Equal(t, "Hel", second.Contents[1].Text())
}

func TestClientAutocompleteTerminalFirstCallPassesThrough(t *testing.T) {
	resp := &messages.Response{Candidates: []messages.Candidate{{
		Content: messages.Content{Role: messages.RoleModel, Parts: []messages.Part{
			messages.TextPart("calling now"),
			messages.FunctionCallPart(messages.FunctionCall{Name: "lookup"}),
		}},
		FinishReason: messages.FinishReasonStop,
	}}}
	inv := newScriptedInvoker(step{resp: resp})
	c := llmclient.New(inv)

	conv := messages.FromText("hi")
	got, err := c.Generate(context.Background(), conv, llmclient.WithAutocomplete())

	require.NoError(t, err)
	assert.Same(t, resp, got, "a complete first turn is returned untouched")
	assert.Equal(t, 1, inv.calls())
	assert.Equal(t, 1, conv.Len())
	require.Len(t, got.Candidates[0].Content.FunctionCalls(), 1)
}

func TestClientAutocompleteThoughtOnlySegments(t *testing.T) {
	inv := newScriptedInvoker(
		step{resp: thoughtResponse(messages.FinishReasonOther, "mulling it over")},
		step{resp: textResponse(messages.FinishReasonStop, "the answer")},
	)
	c := llmclient.New(inv)

	conv := messages.FromText("hard question")
	resp, err := c.Generate(context.Background(), conv, llmclient.WithAutocomplete())

	require.NoError(t, err)
	assert.Equal(t, "the answer", resp.Text(), "thought text stays out of the visible answer")

	parts := resp.Candidates[0].Content.Parts
	require.Len(t, parts, 2, "flag change opens a new part")
	assert.True(t, parts[0].Thought)
	assert.Equal(t, "mulling it over", parts[0].Text)
	assert.False(t, parts[1].Thought)
	assert.Equal(t, "the answer", parts[1].Text)
}

func TestClientAutocompleteExtendsExistingModelTail(t *testing.T) {
	inv := newScriptedInvoker(
		step{resp: textResponse(messages.FinishReasonOther, "lo")},
		step{resp: textResponse(messages.FinishReasonStop, "!")},
	)
	c := llmclient.New(inv)

	conv := messages.NewConversation(
		messages.NewText(messages.RoleUser, "greet me"),
		messages.NewText(messages.RoleModel, "Hel"),
	)
	resp, err := c.Generate(context.Background(), conv, llmclient.WithAutocomplete())

	require.NoError(t, err)
	assert.Equal(t, "Hello!", resp.Text())
	assert.Equal(t, 2, conv.Len(), "segments extend the existing model entry")
}

func TestClientAutocompleteMalformedSegment(t *testing.T) {
	callOnly := &messages.Response{Candidates: []messages.Candidate{{
		Content: messages.Content{Role: messages.RoleModel, Parts: []messages.Part{
			messages.FunctionCallPart(messages.FunctionCall{Name: "lookup"}),
		}},
		FinishReason: messages.FinishReasonOther,
	}}}
	inv := newScriptedInvoker(step{resp: callOnly})
	c := llmclient.New(inv)

	_, err := c.Generate(context.Background(), messages.FromText("hi"), llmclient.WithAutocomplete())

	require.ErrorIs(t, err, llmclient.ErrMalformedContinuation)
}

func TestClientAutocompleteNoCandidatesMidTurn(t *testing.T) {
	inv := newScriptedInvoker(
		step{resp: textResponse(messages.FinishReasonOther, "started")},
		step{resp: &messages.Response{}},
	)
	c := llmclient.New(inv)

	conv := messages.FromText("hi")
	_, err := c.Generate(context.Background(), conv, llmclient.WithAutocomplete())

	require.ErrorIs(t, err, invoker.ErrNoCandidates)

	// Progress made before the failure stays on the conversation.
	last, ok := conv.Last()
	require.True(t, ok)
	assert.Equal(t, "started", last.Text())
}
