package llmcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/llmtypes"
)

// KeyRequest holds everything that influences a completion
type KeyRequest struct {
	Backend     string       `json:"backend"`
	Model       string       `json:"model"`
	Messages    []KeyMessage `json:"messages"`
	Tools       []KeyTool    `json:"tools"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens"`
}

// KeyMessage is the hashed form of a message
type KeyMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	Name       string        `json:"name,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	ToolCalls  []KeyToolCall `json:"tool_calls,omitempty"`
}

// KeyToolCall is the hashed form of an assistant tool call
type KeyToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// KeyTool is the hashed form of a tool definition
type KeyTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// NewKeyRequest converts a request into its hashed form. Message order is
// kept; tools are sorted by name since their order does not change the answer.
func NewKeyRequest(backend, model string, messages []llmtypes.Message, tools []llmtypes.ToolDefinition, temperature float64, maxTokens int) KeyRequest {
	req := KeyRequest{
		Backend:     backend,
		Model:       model,
		Messages:    make([]KeyMessage, 0, len(messages)),
		Tools:       make([]KeyTool, 0, len(tools)),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	for _, msg := range messages {
		km := KeyMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			km.ToolCalls = append(km.ToolCalls, KeyToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		req.Messages = append(req.Messages, km)
	}

	for _, tool := range tools {
		req.Tools = append(req.Tools, KeyTool{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}
	sort.Slice(req.Tools, func(i, j int) bool {
		return req.Tools[i].Name < req.Tools[j].Name
	})

	return req
}

// GenerateCacheKey hashes the canonical JSON of req. encoding/json sorts map
// keys, so argument and schema maps hash the same regardless of build order.
func GenerateCacheKey(req KeyRequest) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cache key request: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}
