package order

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Order lifecycle statuses.
const (
	StatusDraft     = "draft"
	StatusSubmitted = "submitted"
)

// Domain errors. These are recoverable at the dispatch layer: they are
// reported back to the model as tool error payloads, not session failures.
var (
	ErrMenuItemNotFound = errors.New("menu item not found")
	ErrInvalidQuantity  = errors.New("quantity must be a positive integer")
	ErrNothingToSubmit  = errors.New("nothing to submit")
	ErrOrderNotFound    = errors.New("order not found")
	ErrOrderSubmitted   = errors.New("order already submitted")
)

// MenuItem is one purchasable product.
type MenuItem struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	GlutenFree bool            `json:"is_gluten_free"`
	Available  bool            `json:"is_available"`
}

// Line is one menu item with a quantity inside an order.
type Line struct {
	ID         int64  `json:"id"`
	OrderID    int64  `json:"order_id"`
	MenuItemID int64  `json:"menu_item_id"`
	Name       string `json:"name"`
	Quantity   int    `json:"qty"`
}

// Order is the aggregate: a draft accumulates lines, a submitted order is
// immutable. Total is always derived from the lines, never stored-forward.
type Order struct {
	ID        int64           `json:"id"`
	Channel   string          `json:"channel"`
	Status    string          `json:"status"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
	Lines     []Line          `json:"lines,omitempty"`
}

// NewMenuItemInput is the shape accepted when creating menu items.
type NewMenuItemInput struct {
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	GlutenFree bool            `json:"is_gluten_free"`
	Available  bool            `json:"is_available"`
}

// Store is the persistence boundary for menu and orders.
//
// Implementations must keep the aggregate invariants: at most one draft per
// channel, totals recomputed from lines inside the mutating transaction, and
// submitted orders immutable.
type Store interface {
	// ListMenuItems returns available menu items ordered by id.
	ListMenuItems(ctx context.Context) ([]MenuItem, error)

	// CreateMenuItem adds a product to the menu.
	CreateMenuItem(ctx context.Context, in NewMenuItemInput) (MenuItem, error)

	// FindMenuItemByName resolves a fuzzy, case-insensitive substring match
	// against available items. Ties resolve to the lowest id. Returns
	// ErrMenuItemNotFound when nothing matches.
	FindMenuItemByName(ctx context.Context, name string) (MenuItem, error)

	// GetOrCreateDraft returns the channel's open draft, creating it when
	// absent. Concurrent callers on the same channel observe one draft.
	GetOrCreateDraft(ctx context.Context, channel string) (Order, error)

	// AppendLine adds quantity of a menu item to the channel's draft and
	// recomputes the total. Returns ErrInvalidQuantity for qty <= 0 and
	// ErrMenuItemNotFound for unknown or unavailable items.
	AppendLine(ctx context.Context, channel string, menuItemID int64, qty int) (Order, error)

	// Finalize flips the channel's draft to submitted with a freshly
	// recomputed total. Returns ErrNothingToSubmit when the channel has no
	// draft or the draft has no lines.
	Finalize(ctx context.Context, channel string) (Order, error)

	// ListOrders returns all orders, newest first, without lines.
	ListOrders(ctx context.Context) ([]Order, error)

	// GetOrder returns one order with its lines and recomputed total.
	GetOrder(ctx context.Context, id int64) (Order, error)
}
