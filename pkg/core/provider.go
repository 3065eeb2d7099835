package core

import (
	"context"

	"github.com/sunrisecafe/cafe-agent/pkg/core/types"
)

// GenerateRequest is a single model invocation.
type GenerateRequest struct {
	Model       string
	System      string
	Messages    []types.Message
	Tools       []types.Tool
	MaxTokens   int
	Temperature *float64
}

// StopReason indicates why the model stopped generating.
type StopReason string

const (
	StopReasonEndTurn StopReason = "end_turn"
	StopReasonToolUse StopReason = "tool_use"
)

// GenerateResponse carries the model's turn.
type GenerateResponse struct {
	Content    []types.ContentBlock
	StopReason StopReason
}

// ToolUses returns all tool_use blocks in the response.
func (r *GenerateResponse) ToolUses() []types.ToolUseBlock {
	if r == nil {
		return nil
	}
	var uses []types.ToolUseBlock
	for _, block := range r.Content {
		if tu, ok := block.(types.ToolUseBlock); ok {
			uses = append(uses, tu)
		}
	}
	return uses
}

// TextContent concatenates all text blocks in the response.
func (r *GenerateResponse) TextContent() string {
	if r == nil {
		return ""
	}
	var text string
	for _, block := range r.Content {
		if tb, ok := block.(types.TextBlock); ok {
			text += tb.Text
		}
	}
	return text
}

// Provider is the interface a model backend must implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "gemini").
	Name() string

	// Generate sends a request and waits for the full response.
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}
