package errors

import (
	"fmt"
)

// AppError is the base error type for all application errors
type AppError struct {
	Message  string        // Human-readable error message
	Context  *ErrorContext // Rich error context
	Cause    error         // Underlying error (for wrapping)
	ExitCode ExitCode      // Exit code for CLI
}

// Error returns the error message with cause if present
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// GetUserMessage returns a user-friendly error message with context
func (e *AppError) GetUserMessage() string {
	msg := fmt.Sprintf("ERROR: %s", e.Message)

	if e.Cause != nil {
		msg += fmt.Sprintf("\nCause: %v", e.Cause)
	}

	if e.Context != nil {
		msg += e.Context.Format()
	}

	return msg
}

// NewError creates a new AppError with the given message and exit code
func NewError(message string, exitCode ExitCode) *AppError {
	return &AppError{
		Message:  message,
		ExitCode: exitCode,
	}
}

// WrapError wraps an existing error with additional context
func WrapError(cause error, message string, exitCode ExitCode) *AppError {
	return &AppError{
		Message:  message,
		Cause:    cause,
		ExitCode: exitCode,
	}
}

// UserMessager is implemented by every error in this package that can render
// an actionable message for the user.
type UserMessager interface {
	GetUserMessage() string
}
