package decode_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convokehq/convoke/pkg/decode"
	"github.com/convokehq/convoke/pkg/messages"
)

func textResponse(text string) *messages.Response {
	return &messages.Response{Candidates: []messages.Candidate{
		{Content: messages.NewText(messages.RoleModel, text), FinishReason: messages.FinishReasonStop},
	}}
}

func TestStripFence_Variants(t *testing.T) {
	cases := map[string]struct {
		in   string
		want string
	}{
		"json tag":      {"```json\n{\"a\":1}\n```", "{\"a\":1}\n"},
		"no tag":        {"```\n{\"a\":1}\n```", "\n{\"a\":1}\n"},
		"bare":          {`{"a":1}`, `{"a":1}`},
		"prose around":  {"Here you go: ```json\n{}\n``` enjoy", "{}\n"},
		"tag no space":  {"```jsonx```", "jsonx"},
		"empty":         {"", ""},
		"unclosed":      {"```json\n{\"a\":1}", "```json\n{\"a\":1}"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, decode.StripFence(tc.in))
		})
	}
}

func TestJSON_Fenced(t *testing.T) {
	v, err := decode.JSON(textResponse("```json\n{\"name\": \"go\", \"stars\": 5}\n```"))
	require.NoError(t, err)

	obj, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "go", obj["name"])
	assert.InDelta(t, 5, obj["stars"], 1e-9)
}

func TestJSON_Bare(t *testing.T) {
	v, err := decode.JSON(textResponse(`[1, 2, 3]`))
	require.NoError(t, err)
	assert.Len(t, v, 3)
}

func TestJSON_FencedAndBare_Agree(t *testing.T) {
	fenced, err := decode.JSON(textResponse("```json\n{\"k\":true}\n```"))
	require.NoError(t, err)
	bare, err := decode.JSON(textResponse(`{"k":true}`))
	require.NoError(t, err)

	assert.Equal(t, bare, fenced)
}

func TestJSON_ControlCharsInsideStrings(t *testing.T) {
	raw := "{\"text\": \"line one\nline two\ttabbed\"}"

	v, err := decode.JSON(textResponse(raw))
	require.NoError(t, err)

	obj := v.(map[string]any)
	assert.Equal(t, "line one\nline two\ttabbed", obj["text"])
}

func TestJSON_Invalid(t *testing.T) {
	_, err := decode.JSON(textResponse("not json at all"))

	var decErr *decode.Error
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, "not json at all", decErr.Text)
	assert.Contains(t, err.Error(), "not json at all")
}

func TestJSON_SkipsThoughts(t *testing.T) {
	resp := &messages.Response{Candidates: []messages.Candidate{
		{Content: messages.Content{Role: messages.RoleModel, Parts: []messages.Part{
			messages.ThoughtPart("I should answer with JSON {"),
			messages.TextPart(`{"ok": true}`),
		}}},
	}}

	v, err := decode.JSON(resp)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, v)
}

type stubValidator struct {
	schema json.RawMessage
	val    any
	err    error
	got    []byte
}

func (s *stubValidator) ResponseSchema() json.RawMessage { return s.schema }

func (s *stubValidator) Validate(payload []byte) (any, error) {
	s.got = payload
	if s.err != nil {
		return nil, s.err
	}
	return s.val, nil
}

func TestStructured(t *testing.T) {
	v := &stubValidator{val: map[string]any{"name": "go"}}

	got, err := decode.Structured(textResponse("```json\n{\"name\":\"go\"}\n```"), v)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "go"}, got)
	assert.JSONEq(t, `{"name":"go"}`, string(v.got))
}

func TestStructured_ValidationFailure(t *testing.T) {
	v := &stubValidator{err: errors.New("missing field name")}

	_, err := decode.Structured(textResponse(`{}`), v)

	var decErr *decode.Error
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, `{}`, decErr.Text)
	assert.ErrorContains(t, err, "missing field name")
}

func TestFunctionCalls_AcrossCandidates(t *testing.T) {
	resp := &messages.Response{Candidates: []messages.Candidate{
		{Content: messages.Content{Role: messages.RoleModel, Parts: []messages.Part{
			messages.FunctionCallPart(messages.FunctionCall{Name: "first"}),
			messages.TextPart("and"),
			messages.FunctionCallPart(messages.FunctionCall{Name: "second"}),
		}}},
		{Content: messages.Content{Role: messages.RoleModel, Parts: []messages.Part{
			messages.FunctionCallPart(messages.FunctionCall{Name: "third"}),
		}}},
	}}

	calls := decode.FunctionCalls(resp)
	require.Len(t, calls, 3)
	assert.Equal(t, "first", calls[0].Name)
	assert.Equal(t, "second", calls[1].Name)
	assert.Equal(t, "third", calls[2].Name)
}

func TestFunctionCalls_EmptyIsValid(t *testing.T) {
	calls := decode.FunctionCalls(textResponse("plain answer"))
	assert.Empty(t, calls)
}
