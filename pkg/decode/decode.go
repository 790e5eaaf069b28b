// Package decode turns raw model responses into caller-facing result
// shapes: lenient JSON, externally validated structured values, and
// function-call lists. Plain text needs no decoding and stays on
// messages.Response.Text. Decoding never issues provider calls; it only
// interprets a Response that has already been obtained.
package decode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/convokehq/convoke/pkg/messages"
)

// Error reports a response payload that could not be decoded. Text carries
// the offending raw output for diagnosis.
type Error struct {
	Text string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("decode response: %v\n%s", e.Err, e.Text)
}

func (e *Error) Unwrap() error { return e.Err }

// Validator is the external schema mechanism structured decoding delegates
// to. ResponseSchema supplies a JSON Schema that providers with structured
// output support may enforce server-side; Validate turns the raw payload
// into the structured value or fails.
type Validator interface {
	ResponseSchema() json.RawMessage
	Validate(payload []byte) (any, error)
}

// Models wrap JSON answers in a markdown fence more often than not.
// The match spans from the first fence to the last, so surrounding prose
// is dropped along with the fence itself.
var fenceRE = regexp.MustCompile("(?s)```(?:json\\s)?(.*)```")

// StripFence removes one enclosing markdown code fence (with an optional
// json language tag) from text. Text without a fence is returned unchanged.
func StripFence(text string) string {
	if m := fenceRE.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return text
}

// JSON decodes the response's text as JSON after stripping a markdown
// fence. Raw control characters inside string literals are tolerated, the
// way lenient parsers accept them. Failures yield an *Error carrying the
// raw text.
func JSON(resp *messages.Response) (any, error) {
	text := resp.Text()

	var v any
	if err := json.Unmarshal(sanitizeControlChars([]byte(StripFence(text))), &v); err != nil {
		return nil, &Error{Text: text, Err: err}
	}

	return v, nil
}

// Structured decodes the response's text through the given validator.
// The fence-stripped payload is handed to Validate; failures come back as
// *Error.
func Structured(resp *messages.Response, v Validator) (any, error) {
	text := resp.Text()

	val, err := v.Validate([]byte(StripFence(text)))
	if err != nil {
		return nil, &Error{Text: text, Err: err}
	}

	return val, nil
}

// FunctionCalls collects the function-call parts of every candidate, in
// candidate order then part order. An empty result is valid: models may
// answer with text even when tools are offered.
func FunctionCalls(resp *messages.Response) []messages.FunctionCall {
	var calls []messages.FunctionCall
	for _, cand := range resp.Candidates {
		calls = append(calls, cand.Content.FunctionCalls()...)
	}
	return calls
}

// sanitizeControlChars escapes raw control characters that appear inside
// JSON string literals, leaving everything else untouched. encoding/json
// rejects them outright; model output contains them regularly.
func sanitizeControlChars(data []byte) []byte {
	if !bytes.ContainsFunc(data, func(r rune) bool { return r < 0x20 }) {
		return data
	}

	var out bytes.Buffer
	out.Grow(len(data) + 16)

	inString, escaped := false, false
	for _, b := range data {
		if !inString {
			if b == '"' {
				inString = true
			}
			out.WriteByte(b)
			continue
		}

		switch {
		case escaped:
			escaped = false
			out.WriteByte(b)
		case b == '\\':
			escaped = true
			out.WriteByte(b)
		case b == '"':
			inString = false
			out.WriteByte(b)
		case b < 0x20:
			switch b {
			case '\n':
				out.WriteString(`\n`)
			case '\r':
				out.WriteString(`\r`)
			case '\t':
				out.WriteString(`\t`)
			default:
				fmt.Fprintf(&out, `\u%04x`, b)
			}
		default:
			out.WriteByte(b)
		}
	}

	return out.Bytes()
}
