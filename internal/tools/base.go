package tools

import (
	"context"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/llmtypes"
)

// ModelRetryError is raised when a tool fails because of its arguments.
// The message goes back to the model so it can correct the call.
type ModelRetryError struct {
	Message string
}

func (e *ModelRetryError) Error() string {
	return e.Message
}

// Tool is the interface that all tools must implement
type Tool interface {
	// Name returns the tool name the model calls it by
	Name() string

	// Description returns a description of what the tool does
	Description() string

	// Parameters returns the JSON schema for the tool's arguments
	Parameters() map[string]any

	// Execute runs the tool with the arguments the model sent
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Definition returns the definition a provider advertises for t
func Definition(t Tool) llmtypes.ToolDefinition {
	return llmtypes.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Parameters(),
	}
}
