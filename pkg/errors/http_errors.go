package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ConflictWithDetails creates a 409 Conflict error with details
func ConflictWithDetails(code string, message string, details any) *AppError {
	return NewConflictError(code, message).WithDetails(details)
}

// ForbiddenWithDetails creates a 403 Forbidden error with details
func ForbiddenWithDetails(code string, message string, details any) *AppError {
	return NewForbiddenError(code, message).WithDetails(details)
}

// ValidationWithDetails creates a 400 error with details
func ValidationWithDetails(code string, message string, details any) *AppError {
	return NewValidationError(code, message).WithDetails(details)
}

// FromError converts a standard error to an AppError
// If the error is already an AppError, it is returned as-is
// Otherwise, it is wrapped as an internal server error
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	return NewInternalServerError(
		"INTERNAL_ERROR",
		fmt.Sprintf("An unexpected error occurred: %s", err.Error()),
	).WithCause(err)
}

// GetStatusCode extracts the HTTP status code from an AppError, returns 500 if not an AppError
func GetStatusCode(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// GetErrorCode extracts the error code from an AppError, returns "UNKNOWN_ERROR" if not an AppError
func GetErrorCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetErrorDetails extracts the details from an AppError, returns nil if not an AppError
func GetErrorDetails(err error) any {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Details
	}
	return nil
}
