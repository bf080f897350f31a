package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application error with an HTTP-style status code.
// The codes double as the machine-checkable error taxonomy: 404 not found,
// 503 service unavailable, 400 validation, 504 timeout, 500 internal.
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("code=%d, message=%s, details=%s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("code=%d, message=%s", e.Code, e.Message)
}

// Is matches AppErrors by code so wrapped errors compare against the
// sentinels below with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// Common errors
var (
	ErrNotFound           = &AppError{Code: http.StatusNotFound, Message: "Resource not found"}
	ErrServiceUnavailable = &AppError{Code: http.StatusServiceUnavailable, Message: "Service unavailable"}
	ErrValidation         = &AppError{Code: http.StatusBadRequest, Message: "Validation failed"}
	ErrTimeout            = &AppError{Code: http.StatusGatewayTimeout, Message: "Operation timed out"}
	ErrUnauthorized       = &AppError{Code: http.StatusUnauthorized, Message: "Unauthorized"}
	ErrForbidden          = &AppError{Code: http.StatusForbidden, Message: "Forbidden"}
	ErrInternalServer     = &AppError{Code: http.StatusInternalServerError, Message: "Internal server error"}
)

// New creates a new AppError
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of err with details attached
func WithDetails(err *AppError, details string) *AppError {
	return &AppError{
		Code:    err.Code,
		Message: err.Message,
		Details: details,
	}
}

// NotFound builds a not-found error with details
func NotFound(format string, args ...interface{}) *AppError {
	return WithDetails(ErrNotFound, fmt.Sprintf(format, args...))
}

// Unavailable builds a service-unavailable error with details
func Unavailable(format string, args ...interface{}) *AppError {
	return WithDetails(ErrServiceUnavailable, fmt.Sprintf(format, args...))
}

// Invalid builds a validation error with details
func Invalid(format string, args ...interface{}) *AppError {
	return WithDetails(ErrValidation, fmt.Sprintf(format, args...))
}

// Timeout builds a timeout error with details
func Timeout(format string, args ...interface{}) *AppError {
	return WithDetails(ErrTimeout, fmt.Sprintf(format, args...))
}

// Internal builds an internal error with details
func Internal(format string, args ...interface{}) *AppError {
	return WithDetails(ErrInternalServer, fmt.Sprintf(format, args...))
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetStatusCode returns the HTTP status code from an error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return http.StatusInternalServerError
}
