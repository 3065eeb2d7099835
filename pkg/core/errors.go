package core

import (
	"fmt"
)

// Error is the canonical error shape surfaced by the gateway.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest  ErrorType = "invalid_request_error"
	ErrNotFound        ErrorType = "not_found_error"
	ErrUpstreamModel   ErrorType = "upstream_model_error"
	ErrStore           ErrorType = "store_error"
	ErrTransportClosed ErrorType = "transport_closed"
	ErrAPI             ErrorType = "api_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewUpstreamModelError wraps a failure from the model provider.
// Upstream failures are fatal for the session that hit them.
func NewUpstreamModelError(provider string, underlying error) *Error {
	return &Error{
		Type:    ErrUpstreamModel,
		Message: fmt.Sprintf("%s: %v", provider, underlying),
		Cause:   underlying,
	}
}

// NewStoreError wraps a persistence failure.
func NewStoreError(op string, underlying error) *Error {
	return &Error{
		Type:    ErrStore,
		Message: fmt.Sprintf("%s: %v", op, underlying),
		Cause:   underlying,
	}
}

// NewTransportClosedError marks a session whose connection went away.
func NewTransportClosedError(message string) *Error {
	return &Error{
		Type:    ErrTransportClosed,
		Message: message,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// IsSessionFatal reports whether an error of this type should tear the
// live session down rather than be reported back to the model.
func (e *Error) IsSessionFatal() bool {
	switch e.Type {
	case ErrUpstreamModel, ErrTransportClosed:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}
