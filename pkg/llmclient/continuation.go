package llmclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/convokehq/convoke/pkg/messages"
)

// ErrMalformedContinuation reports a continuation segment that carried no
// text at all, thought or otherwise. Continuing past it would call the
// provider forever with an unchanged conversation.
var ErrMalformedContinuation = errors.New("continuation segment has no text parts")

// generateToCompletion keeps calling the provider until a terminal finish
// reason, merging each segment into the conversation's trailing model
// entry. A first call that is already terminal passes through untouched,
// function calls and all; once continuation has begun the result is the
// merged text turn.
//
// There is no iteration cap. The loop ends on a terminal finish reason, a
// malformed segment, or ctx cancellation via the provider call.
func (c *Client) generateToCompletion(ctx context.Context, conv *messages.Conversation, co callOptions) (*messages.Response, error) {
	resp, err := c.attempt(ctx, co.request(conv))
	if err != nil {
		return nil, err
	}
	if resp.FinishReason().Terminal() {
		return resp, nil
	}

	total := &messages.UsageMetadata{}
	total.Add(resp.UsageMetadata)

	for {
		text, thought, err := continuationSegment(resp)
		if err != nil {
			return nil, err
		}
		conv.MergeModelText(text, thought)

		if resp.FinishReason().Terminal() {
			break
		}

		resp, err = c.attempt(ctx, co.request(conv))
		if err != nil {
			return nil, err
		}
		total.Add(resp.UsageMetadata)
	}

	merged, _ := conv.Last()
	return &messages.Response{
		Candidates:    []messages.Candidate{{Content: merged, FinishReason: resp.FinishReason()}},
		UsageMetadata: total,
	}, nil
}

// continuationSegment extracts the text to merge from one segment: the
// non-thought text parts when any exist, else the thought parts.
func continuationSegment(resp *messages.Response) (text string, thought bool, err error) {
	var plain, thoughts strings.Builder
	hasPlain, hasThoughts := false, false

	for _, p := range resp.Candidates[0].Content.Parts {
		if !p.IsText() {
			continue
		}
		if p.Thought {
			hasThoughts = true
			thoughts.WriteString(p.Text)
		} else {
			hasPlain = true
			plain.WriteString(p.Text)
		}
	}

	switch {
	case hasPlain:
		return plain.String(), false, nil
	case hasThoughts:
		return thoughts.String(), true, nil
	default:
		return "", false, fmt.Errorf("finish reason %q: %w", resp.FinishReason(), ErrMalformedContinuation)
	}
}
