package api

import (
	"errors"
	"net/http"

	"github.com/good-yellow-bee/lognexus/internal/alerting"
	"github.com/good-yellow-bee/lognexus/internal/ingest"
)

// Error represents an API error response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// Standard errors
var (
	ErrNotFound = &Error{
		Code:    ErrCodeNotFound,
		Message: "Resource not found",
		Status:  http.StatusNotFound,
	}

	ErrInternalServer = &Error{
		Code:    ErrCodeInternalError,
		Message: "Internal server error",
		Status:  http.StatusInternalServerError,
	}
)

// NewBadRequest creates a bad request error with custom message.
func NewBadRequest(message string) *Error {
	return &Error{Code: ErrCodeBadRequest, Message: message, Status: http.StatusBadRequest}
}

// NewValidationError creates a validation error with custom message.
func NewValidationError(message string) *Error {
	return &Error{Code: ErrCodeValidationFailed, Message: message, Status: http.StatusBadRequest}
}

// NewConflict creates a conflict error with custom message.
func NewConflict(message string) *Error {
	return &Error{Code: ErrCodeConflict, Message: message, Status: http.StatusConflict}
}

// NewNotFound creates a not found error with custom message.
func NewNotFound(message string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: message, Status: http.StatusNotFound}
}

// NewUnavailable reports a feature that is not configured.
func NewUnavailable(message string) *Error {
	return &Error{Code: ErrCodeServiceUnavailable, Message: message, Status: http.StatusServiceUnavailable}
}

// FromError maps a core error to its HTTP form. Unknown errors become a
// generic 500 so internals are not leaked.
func FromError(err error) *Error {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, alerting.ErrNotFound):
		return NewNotFound(err.Error())
	case errors.Is(err, alerting.ErrIllegalTransition), errors.Is(err, ingest.ErrExecutionFinished):
		return NewConflict(err.Error())
	case errors.Is(err, ingest.ErrInvalid):
		return NewValidationError(err.Error())
	}
	return ErrInternalServer
}
