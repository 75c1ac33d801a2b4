package llm

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/config"
)

func testBackendConfig(baseURL string) config.BackendConfig {
	return config.BackendConfig{
		BaseURL:     baseURL,
		Model:       "test-model",
		APIKey:      "test-key",
		Timeout:     5,
		MaxTokens:   256,
		Temperature: 0.5,
	}
}

// fastDeps retries quickly so failure tests stay fast
func fastDeps() Deps {
	return Deps{
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
	}
}

func userMessages(text string) []Message {
	return []Message{
		{Role: RoleSystem, Content: "You are a test assistant"},
		{Role: RoleUser, Content: text},
	}
}

// collectStream drains seq and returns the fragments and the first error
func collectStream(seq iter.Seq2[string, error]) ([]string, error) {
	var fragments []string
	for fragment, err := range seq {
		if err != nil {
			return fragments, err
		}
		fragments = append(fragments, fragment)
	}
	return fragments, nil
}

func streamText(p Provider, messages []Message, opts ...CallOption) (string, error) {
	fragments, err := collectStream(p.StreamComplete(context.Background(), messages, opts...))
	return strings.Join(fragments, ""), err
}

// toolRoundTrip is a history where the assistant asked for two tools and
// both results were fed back
func toolRoundTrip() []Message {
	return []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "what time is it in Paris and Tokyo?"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "call_1", Name: "current_time", Arguments: map[string]any{"zone": "Europe/Paris"}},
			{ID: "call_2", Name: "current_time", Arguments: map[string]any{"zone": "Asia/Tokyo"}},
		}},
		{Role: RoleTool, ToolCallID: "call_1", Content: "10:00"},
		{Role: RoleTool, ToolCallID: "call_2", Content: "17:00", Name: "current_time"},
	}
}

func timeTool() ToolDefinition {
	return ToolDefinition{
		Name:        "current_time",
		Description: "Returns the current time in a zone",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"zone": map[string]any{"type": "string"}},
		},
	}
}
