// Package convo drives one customer's conversation with the model. Each
// committed utterance or text message becomes a turn: the engine calls the
// model, executes any requested tools, feeds results back, and repeats
// until the model stops asking for tools.
package convo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sunrisecafe/cafe-agent/pkg/core"
	"github.com/sunrisecafe/cafe-agent/pkg/core/types"
)

// SystemPrompt instructs the model to act as the café's order taker. Order
// state lives in the store, so every mutation must go through the tools.
const SystemPrompt = `You are the order assistant for the Sunrise Café. You help customers ` +
	`order from the menu and nothing else. Always use the provided tools to read the menu, ` +
	`add items, and submit the order. Never invent menu items or prices. Keep replies to one ` +
	`or two short sentences. After submitting an order, confirm the total to the customer. ` +
	`Respond in English.`

// State names one phase of a turn. The engine is Idle between turns; a
// running turn moves through AwaitingModel and, when the model requests
// tools, ToolRequested and AwaitingToolResult before returning to
// AwaitingModel for the follow-up call.
type State string

const (
	StateIdle              State = "idle"
	StateAwaitingModel     State = "awaiting_model"
	StateToolRequested     State = "tool_requested"
	StateAwaitingToolResult State = "awaiting_tool_result"
)

// Dispatcher executes one validated tool call.
type Dispatcher interface {
	Dispatch(ctx context.Context, call types.ToolCall) (map[string]any, error)
}

// Options configures an Engine.
type Options struct {
	Provider   core.Provider
	Dispatcher Dispatcher
	Tools      []types.Tool
	Model      string
	MaxTokens  int
	// MaxSteps caps model calls per turn so a tool loop cannot spin
	// forever. Zero means DefaultMaxSteps.
	MaxSteps int
	Logger   *slog.Logger
}

// DefaultMaxSteps bounds the tool loop within a single turn.
const DefaultMaxSteps = 8

// Engine holds one channel's conversation history and runs turns against
// it. Methods are safe for concurrent use; turns are serialized.
type Engine struct {
	provider   core.Provider
	dispatcher Dispatcher
	tools      []types.Tool
	model      string
	maxTokens  int
	maxSteps   int
	logger     *slog.Logger

	mu      sync.Mutex
	state   State
	history []types.Message
}

// NewEngine builds an engine in the Idle state with empty history.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("convo: provider is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("convo: dispatcher is required")
	}
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		provider:   opts.Provider,
		dispatcher: opts.Dispatcher,
		tools:      opts.Tools,
		model:      opts.Model,
		maxTokens:  opts.MaxTokens,
		maxSteps:   maxSteps,
		logger:     logger,
		state:      StateIdle,
	}, nil
}

// State reports the engine's current phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// History returns a copy of the conversation so far.
func (e *Engine) History() []types.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.Message, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// RunTurn feeds one user message through the model and tool loop and
// returns the assistant's final text. The engine ends every turn Idle,
// whether the turn succeeded or failed.
func (e *Engine) RunTurn(ctx context.Context, userText string) (string, error) {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return "", fmt.Errorf("convo: turn already in progress (state %s)", e.state)
	}
	e.state = StateAwaitingModel
	e.history = append(e.history, types.UserText(userText))
	working := make([]types.Message, len(e.history))
	copy(working, e.history)
	e.mu.Unlock()

	defer e.setState(StateIdle)

	for step := 0; step < e.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		resp, err := e.provider.Generate(ctx, &core.GenerateRequest{
			Model:     e.model,
			System:    SystemPrompt,
			Messages:  working,
			Tools:     e.tools,
			MaxTokens: e.maxTokens,
		})
		if err != nil {
			return "", err
		}

		assistantMsg := types.Message{Role: "assistant", Content: resp.Content}
		working = append(working, assistantMsg)

		toolUses := resp.ToolUses()
		if resp.StopReason != core.StopReasonToolUse || len(toolUses) == 0 {
			e.mu.Lock()
			e.history = working
			e.mu.Unlock()
			return resp.TextContent(), nil
		}

		e.setState(StateToolRequested)
		resultBlocks := make([]types.ContentBlock, 0, len(toolUses))
		for _, use := range toolUses {
			block, err := e.runTool(ctx, use)
			if err != nil {
				return "", err
			}
			resultBlocks = append(resultBlocks, block)
		}

		working = append(working, types.Message{Role: "user", Content: resultBlocks})
		e.setState(StateAwaitingModel)
	}

	e.mu.Lock()
	e.history = working
	e.mu.Unlock()
	return "", fmt.Errorf("convo: turn exceeded %d model calls", e.maxSteps)
}

// runTool executes one tool_use block. Malformed calls and domain
// rejections become error results the model can recover from; only store
// and transport failures abort the turn.
func (e *Engine) runTool(ctx context.Context, use types.ToolUseBlock) (types.ContentBlock, error) {
	e.setState(StateAwaitingToolResult)

	call, err := types.ParseToolCall(use.Name, use.Input)
	if err != nil {
		e.logger.Warn("rejected tool call", "tool", use.Name, "error", err)
		return types.ToolResultBlock{
			Type:      "tool_result",
			ToolUseID: use.ID,
			Content:   encodePayload(map[string]any{"error": err.Error()}),
			IsError:   true,
		}, nil
	}

	payload, err := e.dispatcher.Dispatch(ctx, call)
	if err != nil {
		return nil, err
	}

	_, isError := payload["error"]
	e.logger.Debug("tool executed", "tool", use.Name, "is_error", isError)
	return types.ToolResultBlock{
		Type:      "tool_result",
		ToolUseID: use.ID,
		Content:   encodePayload(payload),
		IsError:   isError,
	}, nil
}

func encodePayload(payload map[string]any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return `{"error":"result encoding failed"}`
	}
	return string(data)
}
