// Package errors provides standardized error kinds for the proxy and their HTTP mapping.
package errors

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeInvalidRequest       ErrorCode = "INVALID_REQUEST"
	ErrCodeInvalidModel         ErrorCode = "INVALID_MODEL"
	ErrCodeBackendUnavailable   ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeBackendProtocolError ErrorCode = "BACKEND_PROTOCOL_ERROR"
	ErrCodeTransportError       ErrorCode = "TRANSPORT_ERROR"
	ErrCodeBackendTimeout       ErrorCode = "BACKEND_TIMEOUT"
	ErrCodeInternal             ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
}

// Unwrap exposes the underlying cause, if any.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// Is matches another StandardError by code so errors.Is works against the sentinels below.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == "" && t.Details == ""
}

// Sentinels for errors.Is checks by kind.
var (
	ErrInvalidModel         = &StandardError{Code: ErrCodeInvalidModel}
	ErrBackendUnavailable   = &StandardError{Code: ErrCodeBackendUnavailable}
	ErrBackendProtocolError = &StandardError{Code: ErrCodeBackendProtocolError}
	ErrTransportError       = &StandardError{Code: ErrCodeTransportError}
	ErrBackendTimeout       = &StandardError{Code: ErrCodeBackendTimeout}
)

// ==========================
// 2. Error Constructors
// ==========================

// NewInvalidRequestError creates a client error for a malformed or incomplete request.
func NewInvalidRequestError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidRequest,
		Message:   "Query is required",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidModelError creates a client error listing the accepted model names.
func NewInvalidModelError(model string, valid []string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidModel,
		Message:   "Invalid model",
		Details:   fmt.Sprintf("model %q is not supported, valid options: %s", model, strings.Join(valid, ", ")),
		Retryable: false,
		Metadata: map[string]interface{}{
			"model":       model,
			"validModels": valid,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewBackendUnavailableError is returned when a conversation cannot be created.
func NewBackendUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeBackendUnavailable,
		Message:   "Failed to create conversation",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewBackendProtocolError carries the backend-supplied message verbatim in Details.
func NewBackendProtocolError(details string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeBackendProtocolError,
		Message:   "Backend protocol error",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewTransportError wraps a connection-level failure of the streaming exchange.
func NewTransportError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTransportError,
		Message:   "Connection to backend failed",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewBackendTimeoutError is returned when the exchange exceeds its deadline.
func NewBackendTimeoutError(timeout time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeBackendTimeout,
		Message:   "Backend did not answer in time",
		Details:   fmt.Sprintf("no terminal event within %s", timeout),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInternalError wraps anything that is not already a StandardError.
func NewInternalError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// HTTPStatus maps an error code to the status returned to API callers.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidRequest, ErrCodeInvalidModel:
		return http.StatusBadRequest
	case ErrCodeBackendTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError reports whether the code is caused by caller input.
func IsClientError(code ErrorCode) bool {
	return HTTPStatus(code) < http.StatusInternalServerError
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID"):
		return "VALIDATION"
	case strings.HasPrefix(codeStr, "BACKEND"):
		return "BACKEND"
	case strings.HasPrefix(codeStr, "TRANSPORT"):
		return "TRANSPORT"
	default:
		return "OTHER"
	}
}
