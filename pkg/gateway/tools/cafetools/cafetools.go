// Package cafetools executes the model's ordering tools against the menu
// and order store. Recoverable domain problems (unknown item, empty order)
// come back as tool error payloads the model can react to; only store
// failures surface as errors to the caller.
package cafetools

import (
	"context"
	"errors"
	"fmt"

	"github.com/sunrisecafe/cafe-agent/pkg/core"
	"github.com/sunrisecafe/cafe-agent/pkg/core/types"
	"github.com/sunrisecafe/cafe-agent/pkg/order"
)

// ResultSink receives every tool result as it is produced, so the transport
// can stream results to the client while the conversation turn is still
// running.
type ResultSink interface {
	PushToolResult(toolName string, payload map[string]any)
}

// NopSink discards results. Useful when no client transport is attached.
type NopSink struct{}

func (NopSink) PushToolResult(string, map[string]any) {}

// Dispatcher executes typed tool calls for one channel.
type Dispatcher struct {
	store   order.Store
	channel string
	sink    ResultSink
}

// NewDispatcher builds a dispatcher bound to a channel's draft order.
// A nil sink is replaced with NopSink.
func NewDispatcher(store order.Store, channel string, sink ResultSink) *Dispatcher {
	if sink == nil {
		sink = NopSink{}
	}
	return &Dispatcher{store: store, channel: channel, sink: sink}
}

// Definitions returns the tool declarations advertised to the model.
func Definitions() []types.Tool {
	one := 1
	return []types.Tool{
		types.NewFunctionTool(types.ToolListMenu,
			"List every item on the menu with prices and dietary flags.",
			&types.JSONSchema{Type: "object"}),
		types.NewFunctionTool(types.ToolAddItem,
			"Add a quantity of a menu item to the customer's order. The item name may be approximate.",
			&types.JSONSchema{
				Type: "object",
				Properties: map[string]*types.JSONSchema{
					"item": {Type: "string", Description: "Menu item name, matched case-insensitively."},
					"qty":  {Type: "integer", Minimum: &one, Default: 1, Description: "How many to add."},
				},
				Required: []string{"item"},
			}),
		types.NewFunctionTool(types.ToolSubmitOrder,
			"Submit the customer's current order for preparation.",
			&types.JSONSchema{Type: "object"}),
	}
}

// Dispatch executes one tool call and returns the result payload. The
// payload is also pushed to the sink before returning. The error return is
// non-nil only for store failures; domain rejections are encoded inside the
// payload so the model can recover.
func (d *Dispatcher) Dispatch(ctx context.Context, call types.ToolCall) (map[string]any, error) {
	payload, err := d.execute(ctx, call)
	if err != nil {
		return nil, err
	}
	d.sink.PushToolResult(call.ToolName(), payload)
	return payload, nil
}

func (d *Dispatcher) execute(ctx context.Context, call types.ToolCall) (map[string]any, error) {
	switch c := call.(type) {
	case types.ListMenuCall:
		return d.listMenu(ctx)
	case types.AddItemCall:
		return d.addItem(ctx, c)
	case types.SubmitOrderCall:
		return d.submitOrder(ctx)
	default:
		return nil, core.NewInvalidRequestError(fmt.Sprintf("unsupported tool call %T", call))
	}
}

func (d *Dispatcher) listMenu(ctx context.Context) (map[string]any, error) {
	items, err := d.store.ListMenuItems(ctx)
	if err != nil {
		return nil, core.NewStoreError("list_menu", err)
	}
	menu := make([]map[string]any, 0, len(items))
	for _, item := range items {
		menu = append(menu, map[string]any{
			"name":           item.Name,
			"price":          item.Price.StringFixed(2),
			"is_gluten_free": item.GlutenFree,
		})
	}
	return map[string]any{"menu": menu}, nil
}

func (d *Dispatcher) addItem(ctx context.Context, call types.AddItemCall) (map[string]any, error) {
	item, err := d.store.FindMenuItemByName(ctx, call.Item)
	if errors.Is(err, order.ErrMenuItemNotFound) {
		return map[string]any{"error": fmt.Sprintf("'%s' not found", call.Item)}, nil
	}
	if err != nil {
		return nil, core.NewStoreError("add_item", err)
	}

	if _, err := d.store.AppendLine(ctx, d.channel, item.ID, call.Qty); err != nil {
		if errors.Is(err, order.ErrInvalidQuantity) {
			return map[string]any{"error": "qty must be a positive integer"}, nil
		}
		if errors.Is(err, order.ErrMenuItemNotFound) {
			return map[string]any{"error": fmt.Sprintf("'%s' not found", call.Item)}, nil
		}
		return nil, core.NewStoreError("add_item", err)
	}
	return map[string]any{
		"status": "added",
		"item":   item.Name,
		"qty":    call.Qty,
	}, nil
}

func (d *Dispatcher) submitOrder(ctx context.Context) (map[string]any, error) {
	submitted, err := d.store.Finalize(ctx, d.channel)
	if errors.Is(err, order.ErrNothingToSubmit) {
		return map[string]any{"error": "there is nothing to submit"}, nil
	}
	if err != nil {
		return nil, core.NewStoreError("submit_order", err)
	}
	return map[string]any{
		"status":   "submitted",
		"order_id": submitted.ID,
		"total":    submitted.Total.StringFixed(2),
	}, nil
}
