package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/sunrisecafe/cafe-agent/pkg/core"
	"github.com/sunrisecafe/cafe-agent/pkg/order"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

// FromError maps any error to the canonical wire error plus an HTTP status.
func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Order store sentinels.
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		e := core.NewNotFoundError("order not found")
		e.RequestID = requestID
		return e, http.StatusNotFound
	case errors.Is(err, order.ErrMenuItemNotFound):
		e := core.NewNotFoundError("menu item not found")
		e.RequestID = requestID
		return e, http.StatusNotFound
	case errors.Is(err, order.ErrInvalidQuantity):
		return &core.Error{
			Type:      core.ErrInvalidRequest,
			Message:   "quantity must be a positive integer",
			Param:     "qty",
			RequestID: requestID,
		}, http.StatusBadRequest
	case errors.Is(err, order.ErrNothingToSubmit):
		return &core.Error{
			Type:      core.ErrInvalidRequest,
			Message:   "there is nothing to submit",
			Code:      "nothing_to_submit",
			RequestID: requestID,
		}, http.StatusConflict
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrUpstreamModel:
		return http.StatusBadGateway
	case core.ErrStore:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
