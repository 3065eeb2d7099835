package types

import (
	"encoding/json"
)

// Message is a single conversation turn.
type Message struct {
	Role    string         `json:"role"` // "user" or "assistant"
	Content []ContentBlock `json:"content"`
}

// UnmarshalJSON parses content blocks through the block type switch.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role

	// Accept bare strings as a single text block.
	var str string
	if err := json.Unmarshal(raw.Content, &str); err == nil {
		m.Content = []ContentBlock{TextBlock{Type: "text", Text: str}}
		return nil
	}

	blocks, err := UnmarshalContentBlocks(raw.Content)
	if err != nil {
		return err
	}
	m.Content = blocks
	return nil
}

// UserText builds a user message from plain text.
func UserText(text string) Message {
	return Message{Role: "user", Content: []ContentBlock{TextBlock{Type: "text", Text: text}}}
}

// TextContent concatenates all text blocks in the message.
func (m Message) TextContent() string {
	var text string
	for _, block := range m.Content {
		if tb, ok := block.(TextBlock); ok {
			text += tb.Text
		}
	}
	return text
}

// ToolUses returns all tool_use blocks in the message.
func (m Message) ToolUses() []ToolUseBlock {
	var uses []ToolUseBlock
	for _, block := range m.Content {
		if tu, ok := block.(ToolUseBlock); ok {
			uses = append(uses, tu)
		}
	}
	return uses
}
