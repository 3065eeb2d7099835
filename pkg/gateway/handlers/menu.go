package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sunrisecafe/cafe-agent/pkg/core"
	"github.com/sunrisecafe/cafe-agent/pkg/gateway/mw"
	"github.com/sunrisecafe/cafe-agent/pkg/order"
)

// MenuHandler serves /api/menu: GET lists available items, POST adds one.
type MenuHandler struct {
	Store  order.Store
	Logger *slog.Logger
}

type menuItemResponse struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Price      string `json:"price"`
	GlutenFree bool   `json:"is_gluten_free"`
	Available  bool   `json:"is_available"`
}

func menuItemToResponse(item order.MenuItem) menuItemResponse {
	return menuItemResponse{
		ID:         item.ID,
		Name:       item.Name,
		Price:      item.Price.StringFixed(2),
		GlutenFree: item.GlutenFree,
		Available:  item.Available,
	}
}

func (h MenuHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	switch r.Method {
	case http.MethodGet:
		h.list(w, r, reqID)
	case http.MethodPost:
		h.create(w, r, reqID)
	default:
		methodNotAllowed(w, reqID)
	}
}

func (h MenuHandler) list(w http.ResponseWriter, r *http.Request, reqID string) {
	items, err := h.Store.ListMenuItems(r.Context())
	if err != nil {
		writeErrorFrom(w, reqID, err)
		return
	}
	out := make([]menuItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, menuItemToResponse(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"menu": out})
}

type createMenuItemRequest struct {
	Name       string `json:"name"`
	Price      string `json:"price"`
	GlutenFree bool   `json:"is_gluten_free"`
	Available  *bool  `json:"is_available,omitempty"`
}

func (h MenuHandler) create(w http.ResponseWriter, r *http.Request, reqID string) {
	var req createMenuItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("invalid json body"), http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("name is required", "name"), http.StatusBadRequest)
		return
	}
	price, err := decimal.NewFromString(strings.TrimSpace(req.Price))
	if err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("price must be a decimal string", "price"), http.StatusBadRequest)
		return
	}
	if price.IsNegative() {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("price must be >= 0", "price"), http.StatusBadRequest)
		return
	}
	available := true
	if req.Available != nil {
		available = *req.Available
	}

	item, err := h.Store.CreateMenuItem(r.Context(), order.NewMenuItemInput{
		Name:       name,
		Price:      price,
		GlutenFree: req.GlutenFree,
		Available:  available,
	})
	if err != nil {
		writeErrorFrom(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusCreated, menuItemToResponse(item))
}
