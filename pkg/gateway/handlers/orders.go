package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sunrisecafe/cafe-agent/pkg/core"
	"github.com/sunrisecafe/cafe-agent/pkg/gateway/mw"
	"github.com/sunrisecafe/cafe-agent/pkg/order"
)

// OrdersHandler serves GET /api/orders.
type OrdersHandler struct {
	Store  order.Store
	Logger *slog.Logger
}

type orderLineResponse struct {
	ID         int64  `json:"id"`
	MenuItemID int64  `json:"menu_item_id"`
	Name       string `json:"name"`
	Qty        int    `json:"qty"`
}

type orderResponse struct {
	ID        int64               `json:"id"`
	Channel   string              `json:"channel"`
	Status    string              `json:"status"`
	Total     string              `json:"total"`
	CreatedAt time.Time           `json:"created_at"`
	Lines     []orderLineResponse `json:"lines,omitempty"`
}

func orderToResponse(o order.Order) orderResponse {
	out := orderResponse{
		ID:        o.ID,
		Channel:   o.Channel,
		Status:    o.Status,
		Total:     o.Total.StringFixed(2),
		CreatedAt: o.CreatedAt,
	}
	for _, line := range o.Lines {
		out.Lines = append(out.Lines, orderLineResponse{
			ID:         line.ID,
			MenuItemID: line.MenuItemID,
			Name:       line.Name,
			Qty:        line.Quantity,
		})
	}
	return out
}

func (h OrdersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		methodNotAllowed(w, reqID)
		return
	}
	orders, err := h.Store.ListOrders(r.Context())
	if err != nil {
		writeErrorFrom(w, reqID, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderToResponse(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

// OrderHandler serves GET /api/orders/{id}.
type OrderHandler struct {
	Store  order.Store
	Logger *slog.Logger
}

func (h OrderHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		methodNotAllowed(w, reqID)
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("order id must be a positive integer", "id"), http.StatusBadRequest)
		return
	}
	o, err := h.Store.GetOrder(r.Context(), id)
	if err != nil {
		writeErrorFrom(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToResponse(o))
}
