package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Tool names exposed to the model. The set is closed: anything else is a
// protocol violation reported back to the model, never executed.
const (
	ToolListMenu    = "list_menu"
	ToolAddItem     = "add_item"
	ToolSubmitOrder = "submit_order"
)

// ToolCall is a decoded, validated tool invocation. Implementations form a
// closed set; consumers switch on the concrete type rather than on names.
type ToolCall interface {
	ToolName() string
}

// ListMenuCall requests the full menu.
type ListMenuCall struct{}

func (ListMenuCall) ToolName() string { return ToolListMenu }

// AddItemCall adds a quantity of a named item to the caller's draft order.
type AddItemCall struct {
	Item string
	Qty  int
}

func (AddItemCall) ToolName() string { return ToolAddItem }

// SubmitOrderCall finalizes the caller's draft order.
type SubmitOrderCall struct{}

func (SubmitOrderCall) ToolName() string { return ToolSubmitOrder }

// ParseToolCall converts a raw tool_use block into a typed call.
// Unknown names and malformed arguments are rejected here, before any
// domain code runs.
func ParseToolCall(name string, input map[string]any) (ToolCall, error) {
	switch strings.TrimSpace(name) {
	case ToolListMenu:
		return ListMenuCall{}, nil
	case ToolAddItem:
		item, _ := input["item"].(string)
		item = strings.TrimSpace(item)
		if item == "" {
			return nil, fmt.Errorf("add_item: item is required")
		}
		qty := 1
		if raw, ok := input["qty"]; ok {
			n, err := intArg(raw)
			if err != nil {
				return nil, fmt.Errorf("add_item: qty: %w", err)
			}
			qty = n
		}
		return AddItemCall{Item: item, Qty: qty}, nil
	case ToolSubmitOrder:
		return SubmitOrderCall{}, nil
	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
}

// intArg accepts the numeric shapes JSON decoding produces for integers.
func intArg(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("must be an integer, got %v", v)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("must be an integer, got %q", v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("must be an integer, got %T", raw)
	}
}
