package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"
)

// ErrorWriter turns errors into JSON API failures with standardized handling.
type ErrorWriter struct {
	logger Logger
}

type Logger interface {
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Response is the JSON body written for a failed API call.
type Response struct {
	Success bool      `json:"success"`
	Error   string    `json:"error"`
	Message string    `json:"message,omitempty"`
	Code    ErrorCode `json:"code"`
}

func NewErrorWriter(logger Logger) *ErrorWriter {
	return &ErrorWriter{logger: logger}
}

// WriteHTTPError normalizes err, logs it and writes the failure body.
func (h *ErrorWriter) WriteHTTPError(w http.ResponseWriter, requestID string, err error) {
	stdErr := Normalize(err)
	status := HTTPStatus(stdErr.Code)

	h.logError(requestID, status, stdErr)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ToResponse(stdErr))
}

// Normalize ensures we always have a StandardError.
func Normalize(err error) *StandardError {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return &StandardError{
			Code:      ErrCodeBackendTimeout,
			Message:   "Backend did not answer in time",
			Details:   err.Error(),
			Timestamp: time.Now().UTC(),
			cause:     err,
		}
	}
	return NewInternalError(err)
}

// ToResponse builds the response body for a StandardError.
func ToResponse(stdErr *StandardError) Response {
	return Response{
		Success: false,
		Error:   stdErr.Message,
		Message: stdErr.Details,
		Code:    stdErr.Code,
	}
}

func (h *ErrorWriter) logError(requestID string, status int, stdErr *StandardError) {
	fields := map[string]interface{}{
		"requestId":     requestID,
		"status":        status,
		"errorCode":     string(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"errorCategory": GetErrorCategory(stdErr.Code),
	}
	if IsClientError(stdErr.Code) {
		h.logger.Warn("Request rejected", fields)
		return
	}
	h.logger.Error("Request failed", fields)
}
