package llm

import (
	"fmt"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/errors"
)

// CallOptions holds the per-request overrides of a completion
type CallOptions struct {
	Tools       []ToolDefinition
	Temperature *float64
	MaxTokens   int
	Model       string
}

// CallOption configures a single Complete or StreamComplete call
type CallOption func(*CallOptions)

// WithTools offers tools to the model for this call
func WithTools(tools ...ToolDefinition) CallOption {
	return func(o *CallOptions) {
		o.Tools = append(o.Tools, tools...)
	}
}

// WithTemperature overrides the configured sampling temperature
func WithTemperature(t float64) CallOption {
	return func(o *CallOptions) {
		o.Temperature = &t
	}
}

// WithMaxTokens overrides the configured output token limit
func WithMaxTokens(n int) CallOption {
	return func(o *CallOptions) {
		o.MaxTokens = n
	}
}

// WithModel overrides the configured model
func WithModel(model string) CallOption {
	return func(o *CallOptions) {
		o.Model = model
	}
}

func applyOptions(opts []CallOption) CallOptions {
	var o CallOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// ValidateTools rejects tool definitions no backend would accept: empty names
// and names repeated within one request.
func ValidateTools(provider string, tools []ToolDefinition) error {
	seen := make(map[string]bool, len(tools))
	for i, tool := range tools {
		if tool.Name == "" {
			return errors.NewProviderError(errors.KindInvalidRequest, provider,
				fmt.Sprintf("tool definition %d has no name", i), nil)
		}
		if seen[tool.Name] {
			return errors.NewProviderError(errors.KindInvalidRequest, provider,
				fmt.Sprintf("duplicate tool name %q", tool.Name), nil)
		}
		seen[tool.Name] = true
	}
	return nil
}

// ValidateMessages rejects histories that violate the message invariants
func ValidateMessages(provider string, messages []Message) error {
	if len(messages) == 0 {
		return errors.NewProviderError(errors.KindInvalidRequest, provider, "no messages to send", nil)
	}
	for i, msg := range messages {
		switch msg.Role {
		case RoleSystem, RoleUser, RoleAssistant:
			if msg.ToolCallID != "" {
				return errors.NewProviderError(errors.KindInvalidRequest, provider,
					fmt.Sprintf("message %d has role %s but carries a tool_call_id", i, msg.Role), nil)
			}
		case RoleTool:
			if msg.ToolCallID == "" {
				return errors.NewProviderError(errors.KindInvalidRequest, provider,
					fmt.Sprintf("tool message %d has no tool_call_id", i), nil)
			}
		default:
			return errors.NewProviderError(errors.KindInvalidRequest, provider,
				fmt.Sprintf("message %d has unknown role %q", i, msg.Role), nil)
		}
	}
	return nil
}
