package types

import (
	"encoding/json"
	"fmt"
)

// ContentBlock is a single piece of message content.
type ContentBlock interface {
	BlockType() string
}

// TextBlock carries plain text.
type TextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (b TextBlock) BlockType() string { return "text" }

// ToolUseBlock is a model request to invoke a tool.
type ToolUseBlock struct {
	Type  string         `json:"type"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

func (b ToolUseBlock) BlockType() string { return "tool_use" }

// ToolResultBlock feeds a tool's output back to the model.
type ToolResultBlock struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

func (b ToolResultBlock) BlockType() string { return "tool_result" }

// UnmarshalContentBlocks parses a JSON array of content blocks.
func UnmarshalContentBlocks(data []byte) ([]ContentBlock, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, err
	}

	blocks := make([]ContentBlock, 0, len(raws))
	for i, raw := range raws {
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, fmt.Errorf("content[%d]: %w", i, err)
		}
		switch envelope.Type {
		case "text":
			var b TextBlock
			if err := json.Unmarshal(raw, &b); err != nil {
				return nil, fmt.Errorf("content[%d]: %w", i, err)
			}
			blocks = append(blocks, b)
		case "tool_use":
			var b ToolUseBlock
			if err := json.Unmarshal(raw, &b); err != nil {
				return nil, fmt.Errorf("content[%d]: %w", i, err)
			}
			blocks = append(blocks, b)
		case "tool_result":
			var b ToolResultBlock
			if err := json.Unmarshal(raw, &b); err != nil {
				return nil, fmt.Errorf("content[%d]: %w", i, err)
			}
			blocks = append(blocks, b)
		default:
			return nil, fmt.Errorf("content[%d]: unknown block type %q", i, envelope.Type)
		}
	}
	return blocks, nil
}
