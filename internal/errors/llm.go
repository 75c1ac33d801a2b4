package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Kind classifies a provider failure. Every failed completion surfaces as
// exactly one kind.
type Kind int

const (
	KindGeneric Kind = iota
	KindConnection
	KindTimeout
	KindRateLimit
	KindInvalidRequest
	KindAuthentication
)

// String returns the taxonomy name of the kind
func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "ConnectionError"
	case KindTimeout:
		return "TimeoutError"
	case KindRateLimit:
		return "RateLimitError"
	case KindInvalidRequest:
		return "InvalidRequestError"
	case KindAuthentication:
		return "AuthenticationError"
	default:
		return "GenericError"
	}
}

// Retryable reports whether failures of this kind are worth another attempt.
func (k Kind) Retryable() bool {
	return k == KindConnection || k == KindTimeout || k == KindRateLimit
}

// Kind sentinels for errors.Is checks, e.g. errors.Is(err, ErrRateLimit).
var (
	ErrConnection     = &ProviderError{Kind: KindConnection}
	ErrTimeout        = &ProviderError{Kind: KindTimeout}
	ErrRateLimit      = &ProviderError{Kind: KindRateLimit}
	ErrInvalidRequest = &ProviderError{Kind: KindInvalidRequest}
	ErrAuthentication = &ProviderError{Kind: KindAuthentication}
	ErrGeneric        = &ProviderError{Kind: KindGeneric}
)

// ProviderError is raised when a backend call fails
type ProviderError struct {
	*AppError
	Kind       Kind
	Provider   string
	StatusCode int           // HTTP status, 0 for transport failures
	RetryAfter time.Duration // Backend-requested wait, when it sent one
}

// NewProviderError creates a provider error of the given kind
func NewProviderError(kind Kind, provider, message string, cause error) *ProviderError {
	return &ProviderError{
		AppError: &AppError{
			Message: fmt.Sprintf("%s from %s: %s", kind, provider, message),
			Cause:   cause,
			Context: &ErrorContext{
				Operation: "LLM API Call",
				Component: provider,
				Details: map[string]any{
					"provider": provider,
					"kind":     kind.String(),
				},
				Suggestions: suggestionsFor(kind),
				Retryable:   kind.Retryable(),
			},
			ExitCode: exitCodeFor(kind),
		},
		Kind:     kind,
		Provider: provider,
	}
}

// WithStatus records the HTTP status the backend answered with
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.StatusCode = status
	if e.Context != nil && status != 0 {
		e.Context.Details["status"] = status
	}
	return e
}

// WithRetryAfter records a backend-requested retry delay
func (e *ProviderError) WithRetryAfter(d time.Duration) *ProviderError {
	e.RetryAfter = d
	return e
}

// Error returns the error message, nil-safe for the kind sentinels
func (e *ProviderError) Error() string {
	if e.AppError == nil {
		return e.Kind.String()
	}
	return e.AppError.Error()
}

// Unwrap returns the underlying cause
func (e *ProviderError) Unwrap() error {
	if e.AppError == nil {
		return nil
	}
	return e.Cause
}

// Is matches any ProviderError sentinel of the same kind
func (e *ProviderError) Is(target error) bool {
	t, ok := target.(*ProviderError)
	if !ok || t.AppError != nil {
		return false
	}
	return t.Kind == e.Kind
}

// RecordAttempts stores how many attempts the retry policy made
func (e *ProviderError) RecordAttempts(attempts, maxAttempts int) {
	if e.Context == nil {
		return
	}
	e.Context.Attempts = attempts
	e.Context.MaxAttempts = maxAttempts
}

// KindOf returns the taxonomy kind of err. Errors that did not come from a
// provider are GenericError.
func KindOf(err error) Kind {
	var pe *ProviderError
	if as(err, &pe) {
		return pe.Kind
	}
	return KindGeneric
}

// IsRetryable reports whether err is transient and the call may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err).Retryable()
}

// RetryAfterOf returns the backend-requested retry delay carried by err.
func RetryAfterOf(err error) time.Duration {
	var pe *ProviderError
	if as(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

func as(err error, target any) bool {
	return stderrors.As(err, target)
}

func exitCodeFor(kind Kind) ExitCode {
	if kind == KindAuthentication {
		return ExitAuthError
	}
	return ExitLLMError
}

func suggestionsFor(kind Kind) []string {
	switch kind {
	case KindConnection:
		return []string{
			"Check your network connection",
			"Verify the backend base_url is reachable (is the local model server running?)",
			"Switch to another provider with --backend",
		}
	case KindTimeout:
		return []string{
			"Increase the backend timeout in the configuration",
			"Try a smaller or faster model",
		}
	case KindRateLimit:
		return []string{
			"Wait a moment and try again",
			"Check the quota of your API account",
			"Switch to another provider with --backend",
		}
	case KindInvalidRequest:
		return []string{
			"Check that the model name is correct",
			"Verify tool definitions have unique names and valid schemas",
		}
	case KindAuthentication:
		return []string{
			"Check your credentials",
			"Make sure the environment variable named by api_key_env is exported or present in .env",
		}
	default:
		return []string{
			"Try again later",
			"Run with --debug for more details",
		}
	}
}
