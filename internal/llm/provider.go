package llm

import (
	"context"
	"iter"
	"time"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/llmtypes"
)

// Type aliases so callers rarely need to import llmtypes directly
type (
	Message          = llmtypes.Message
	ToolCall         = llmtypes.ToolCall
	ToolDefinition   = llmtypes.ToolDefinition
	CompletionResult = llmtypes.CompletionResult
	TokenUsage       = llmtypes.TokenUsage
)

const (
	RoleSystem    = llmtypes.RoleSystem
	RoleUser      = llmtypes.RoleUser
	RoleAssistant = llmtypes.RoleAssistant
	RoleTool      = llmtypes.RoleTool
)

// Provider is the interface every text-generation backend implements.
//
// Providers hold no per-conversation state and are safe for concurrent use by
// independent conversations.
type Provider interface {
	// Name returns the backend kind, e.g. "anthropic"
	Name() string

	// Complete sends messages and returns the normalized result. Transient
	// failures are retried before an error is returned.
	Complete(ctx context.Context, messages []Message, opts ...CallOption) (*CompletionResult, error)

	// StreamComplete returns the response as ordered text fragments. The
	// request starts on first iteration. A failure after fragments have been
	// yielded is reported as the final element instead of truncating silently.
	StreamComplete(ctx context.Context, messages []Message, opts ...CallOption) iter.Seq2[string, error]

	// Close releases idle connections. Calls after Close fail.
	Close() error
}

// ModelInfo describes a model a backend has available
type ModelInfo struct {
	Name       string
	Size       int64
	ModifiedAt time.Time
}

// HealthReporter is implemented by backends that can report their own
// availability, typically an on-device model server.
type HealthReporter interface {
	Heartbeat(ctx context.Context) error
	ListModels(ctx context.Context) ([]ModelInfo, error)
}
