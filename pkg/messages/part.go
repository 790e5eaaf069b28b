package messages

// Part is a piece of content within a conversation entry. Exactly one of
// Text, FunctionCall or FunctionResponse is the primary payload. Thought
// marks text produced by a model's internal reasoning rather than its
// user-visible answer; it is meaningful only alongside Text.
type Part struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

// TextPart returns a plain text part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// ThoughtPart returns a text part flagged as model reasoning.
func ThoughtPart(text string) Part {
	return Part{Text: text, Thought: true}
}

// FunctionCallPart returns a part carrying a model-issued function call.
func FunctionCallPart(fc FunctionCall) Part {
	return Part{FunctionCall: &fc}
}

// FunctionResponsePart returns a part carrying a tool execution result.
func FunctionResponsePart(fr FunctionResponse) Part {
	return Part{FunctionResponse: &fr}
}

// IsText reports whether the part carries text, thought or not.
func (p Part) IsText() bool {
	return p.FunctionCall == nil && p.FunctionResponse == nil
}

// FunctionCall is a model-issued request to invoke a declared function.
// Args holds the decoded argument object.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse carries the result of executing a function call back to
// the model. Name and ID echo the originating call.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}
