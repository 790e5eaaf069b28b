package messages

import "strings"

// FinishReason explains why a model stopped emitting tokens.
type FinishReason string

const (
	// FinishReasonUnspecified means the provider reported no reason.
	FinishReasonUnspecified FinishReason = ""
	// FinishReasonStop is a natural end of generation.
	FinishReasonStop FinishReason = "STOP"
	// FinishReasonMaxTokens means the output token budget was exhausted.
	FinishReasonMaxTokens FinishReason = "MAX_TOKENS"
	// FinishReasonSafety means generation was cut off by a content filter.
	FinishReasonSafety FinishReason = "SAFETY"
	// FinishReasonRecitation means generation was cut off for quoting
	// training data.
	FinishReasonRecitation FinishReason = "RECITATION"
	// FinishReasonOther covers provider-specific reasons with no mapping.
	FinishReasonOther FinishReason = "OTHER"
)

// Terminal reports whether the reason ends a generation turn. Anything else
// marks an incomplete turn that continuation may resume.
func (r FinishReason) Terminal() bool {
	return r == FinishReasonStop || r == FinishReasonMaxTokens
}

// Candidate is one alternative completion within a response.
type Candidate struct {
	Content      Content      `json:"content"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
}

// UsageMetadata reports token accounting for one response.
type UsageMetadata struct {
	PromptTokenCount        int `json:"prompt_token_count,omitempty"`
	CandidatesTokenCount    int `json:"candidates_token_count,omitempty"`
	ThoughtsTokenCount      int `json:"thoughts_token_count,omitempty"`
	CachedContentTokenCount int `json:"cached_content_token_count,omitempty"`
	TotalTokenCount         int `json:"total_token_count,omitempty"`
}

// Add accumulates other into u. Continuation sums usage across its calls.
func (u *UsageMetadata) Add(other *UsageMetadata) {
	if other == nil {
		return
	}
	u.PromptTokenCount += other.PromptTokenCount
	u.CandidatesTokenCount += other.CandidatesTokenCount
	u.ThoughtsTokenCount += other.ThoughtsTokenCount
	u.CachedContentTokenCount += other.CachedContentTokenCount
	u.TotalTokenCount += other.TotalTokenCount
}

// Response is the result of one generation call. A successful response
// always carries at least one candidate. Parsed holds the structured value
// produced by result decoding, when any was requested.
type Response struct {
	Candidates    []Candidate    `json:"candidates"`
	UsageMetadata *UsageMetadata `json:"usage_metadata,omitempty"`
	Parsed        any            `json:"parsed,omitempty"`
}

// Text returns the concatenated non-thought text parts of the first
// candidate, or the empty string when there is no usable text.
func (r *Response) Text() string {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		if p.IsText() && !p.Thought {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// FinishReason returns the first candidate's finish reason, or
// FinishReasonUnspecified when the response has no candidates.
func (r *Response) FinishReason() FinishReason {
	if r == nil || len(r.Candidates) == 0 {
		return FinishReasonUnspecified
	}
	return r.Candidates[0].FinishReason
}
