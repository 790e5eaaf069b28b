package messages

import "strings"

// Role identifies the author of a conversation entry.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleModel
}

// String returns the underlying string value of the role.
func (r Role) String() string {
	return string(r)
}

// Content is one conversation entry: an ordered list of parts from a single
// author. Part order is significant and must be preserved end to end.
type Content struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// NewText returns a single-part text entry for the given role.
func NewText(role Role, text string) Content {
	return Content{Role: role, Parts: []Part{TextPart(text)}}
}

// Text returns the concatenation of the entry's non-thought text parts.
func (c Content) Text() string {
	var sb strings.Builder
	for _, p := range c.Parts {
		if p.IsText() && !p.Thought {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// FunctionCalls returns the entry's function-call parts in order.
func (c Content) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range c.Parts {
		if p.FunctionCall != nil {
			calls = append(calls, *p.FunctionCall)
		}
	}
	return calls
}
