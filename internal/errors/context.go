package errors

import (
	"fmt"
	"sort"
	"strings"
)

// ErrorContext provides rich error information for user-friendly error messages
type ErrorContext struct {
	Operation   string         // The operation that failed
	Component   string         // The component that failed
	Details     map[string]any // Additional details about the error
	Suggestions []string       // Actionable suggestions for the user
	Retryable   bool           // Whether the failure is transient
	Attempts    int            // Attempts made before the error surfaced
	MaxAttempts int            // Attempts allowed by the retry policy
}

// Format returns a formatted string representation of the error context
func (ec *ErrorContext) Format() string {
	var sb strings.Builder

	if ec.Operation != "" || ec.Component != "" {
		sb.WriteString("\nWhat happened:\n")
		switch {
		case ec.Operation != "" && ec.Component != "":
			sb.WriteString(fmt.Sprintf("  %s failed in %s.\n", ec.Operation, ec.Component))
		case ec.Operation != "":
			sb.WriteString(fmt.Sprintf("  %s failed.\n", ec.Operation))
		default:
			sb.WriteString(fmt.Sprintf("  Failure in %s.\n", ec.Component))
		}
	}

	if len(ec.Details) > 0 {
		keys := make([]string, 0, len(ec.Details))
		for key := range ec.Details {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		sb.WriteString("\nDetails:\n")
		for _, key := range keys {
			sb.WriteString(fmt.Sprintf("  - %s: %v\n", key, ec.Details[key]))
		}
	}

	if len(ec.Suggestions) > 0 {
		sb.WriteString("\nWhat you can do:\n")
		for i, suggestion := range ec.Suggestions {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, suggestion))
		}
	}

	if ec.Retryable && ec.MaxAttempts > 0 {
		sb.WriteString(fmt.Sprintf("\nTransient: Yes (gave up after attempt %d/%d)\n", ec.Attempts, ec.MaxAttempts))
	}

	return sb.String()
}
