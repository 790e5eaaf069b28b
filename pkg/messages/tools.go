package messages

import "encoding/json"

// FunctionDeclaration describes one callable function exposed to the model.
// Parameters holds a JSON Schema object for the argument shape.
type FunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Tool groups function declarations offered to the model in one request.
type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"function_declarations"`
}

// FunctionCallingMode controls whether the model may, must, or must not
// call functions.
type FunctionCallingMode string

const (
	ModeNone FunctionCallingMode = "NONE"
	ModeAuto FunctionCallingMode = "AUTO"
	ModeAny  FunctionCallingMode = "ANY"
)

// FunctionCallingConfig selects the function-calling mode for a request.
type FunctionCallingConfig struct {
	Mode FunctionCallingMode `json:"mode"`
}

// ToolConfig carries tool behavior settings for a request.
type ToolConfig struct {
	FunctionCallingConfig *FunctionCallingConfig `json:"function_calling_config,omitempty"`
}

// ThinkingConfig controls a model's internal reasoning output.
// Budget caps reasoning tokens where the provider supports a budget;
// zero leaves the provider default in place.
type ThinkingConfig struct {
	IncludeThoughts bool  `json:"include_thoughts"`
	Budget          int32 `json:"budget,omitempty"`
}
