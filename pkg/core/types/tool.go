package types

// JSONSchema is a minimal JSON Schema representation for tool inputs.
type JSONSchema struct {
	Type       string                 `json:"type"`
	Properties map[string]*JSONSchema `json:"properties,omitempty"`
	Required   []string               `json:"required,omitempty"`
	Items      *JSONSchema            `json:"items,omitempty"`

	Description string `json:"description,omitempty"`
	Minimum     *int   `json:"minimum,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// Tool describes a function the model may call.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema *JSONSchema `json:"input_schema,omitempty"`
}

// NewFunctionTool creates a tool definition.
func NewFunctionTool(name, description string, schema *JSONSchema) Tool {
	return Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
	}
}
