// Package gemini adapts the Gemini API to the core Provider interface.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/sunrisecafe/cafe-agent/pkg/core"
	"github.com/sunrisecafe/cafe-agent/pkg/core/types"
)

// DefaultModel is used when a request does not name a model.
const DefaultModel = "gemini-2.0-flash"

// Provider calls Gemini through the official SDK.
type Provider struct {
	client *genai.Client
	model  string
}

// New creates a Provider using an API key. The model is the default for
// requests that do not specify one.
func New(ctx context.Context, apiKey, model string) (*Provider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return &Provider{client: client, model: model}, nil
}

func (p *Provider) Name() string { return "gemini" }

// Generate runs one model call and maps the response back into content
// blocks. Tool calls come back as tool_use blocks with generated IDs when
// the API omits them.
func (p *Provider) Generate(ctx context.Context, req *core.GenerateRequest) (*core.GenerateResponse, error) {
	if req == nil {
		return nil, core.NewInvalidRequestError("generate request is required")
	}

	model := req.Model
	if strings.TrimSpace(model) == "" {
		model = p.model
	}

	contents, err := toContents(req.Messages)
	if err != nil {
		return nil, core.NewInvalidRequestError(err.Error())
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		cfg.Temperature = &temp
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  toSchema(tool.InputSchema),
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, core.NewUpstreamModelError("gemini", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, core.NewUpstreamModelError("gemini", fmt.Errorf("empty response"))
	}
	return fromCandidate(resp.Candidates[0]), nil
}

// toContents converts conversation history into Gemini contents. Assistant
// turns become role "model"; tool results ride in user turns as function
// responses.
func toContents(messages []types.Message) ([]*genai.Content, error) {
	out := make([]*genai.Content, 0, len(messages))
	for i, msg := range messages {
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		parts := make([]*genai.Part, 0, len(msg.Content))
		for _, block := range msg.Content {
			switch b := block.(type) {
			case types.TextBlock:
				parts = append(parts, &genai.Part{Text: b.Text})
			case types.ToolUseBlock:
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   b.ID,
					Name: b.Name,
					Args: b.Input,
				}})
			case types.ToolResultBlock:
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       b.ToolUseID,
					Name:     toolNameFromResultID(messages[:i], b.ToolUseID),
					Response: toolResponseMap(b.Content),
				}})
			default:
				return nil, fmt.Errorf("messages[%d]: unsupported content block %T", i, block)
			}
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}
	return out, nil
}

// toolNameFromResultID finds the tool name a result answers by scanning
// earlier assistant turns for the matching tool_use id.
func toolNameFromResultID(earlier []types.Message, toolUseID string) string {
	for i := len(earlier) - 1; i >= 0; i-- {
		for _, use := range earlier[i].ToolUses() {
			if use.ID == toolUseID {
				return use.Name
			}
		}
	}
	return ""
}

// toolResponseMap decodes a tool result payload. Non-JSON content is
// wrapped so the API always sees an object.
func toolResponseMap(content string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(content), &m); err != nil || m == nil {
		return map[string]any{"output": content}
	}
	return m
}

func fromCandidate(candidate *genai.Candidate) *core.GenerateResponse {
	blocks := make([]types.ContentBlock, 0, len(candidate.Content.Parts))
	sawToolCall := false
	for _, part := range candidate.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			sawToolCall = true
			id := part.FunctionCall.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			blocks = append(blocks, types.ToolUseBlock{
				Type:  "tool_use",
				ID:    id,
				Name:  part.FunctionCall.Name,
				Input: part.FunctionCall.Args,
			})
		case part.Text != "":
			blocks = append(blocks, types.TextBlock{Type: "text", Text: part.Text})
		}
	}

	stop := core.StopReasonEndTurn
	if sawToolCall {
		stop = core.StopReasonToolUse
	}
	return &core.GenerateResponse{Content: blocks, StopReason: stop}
}

// toSchema converts a tool input schema to the SDK's type.
func toSchema(s *types.JSONSchema) *genai.Schema {
	if s == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	out := &genai.Schema{
		Type:        schemaType(s.Type),
		Description: s.Description,
		Required:    s.Required,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toSchema(prop)
		}
	}
	if s.Items != nil {
		out.Items = toSchema(s.Items)
	}
	if s.Minimum != nil {
		min := float64(*s.Minimum)
		out.Minimum = &min
	}
	return out
}

func schemaType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object", "":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}
