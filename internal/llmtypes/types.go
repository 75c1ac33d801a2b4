package llmtypes

// Role identifies the author of a message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message represents a chat message
type Message struct {
	Role       Role
	Content    string
	Name       string     // Tool name (for role="tool")
	ToolCallID string     // ID of the tool call this message answers (for role="tool")
	ToolCalls  []ToolCall // Tool calls requested by the assistant (for role="assistant")
}

// Clone returns a deep copy of the message
func (m Message) Clone() Message {
	out := m
	if len(m.ToolCalls) > 0 {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = tc.Clone()
		}
	}
	return out
}

// ToolCall represents a tool/function call from the LLM
type ToolCall struct {
	ID               string         // Backend-provided or synthesized call ID
	Name             string         // Name of the tool to call
	Arguments        map[string]any // Arguments for the tool
	ThoughtSignature string         // Opaque token some backends require echoed back
}

// Clone returns a copy of the call with its own argument map
func (tc ToolCall) Clone() ToolCall {
	out := tc
	if tc.Arguments != nil {
		out.Arguments = make(map[string]any, len(tc.Arguments))
		for k, v := range tc.Arguments {
			out.Arguments[k] = v
		}
	}
	return out
}

// ToolDefinition defines a tool for the LLM
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// FinishReason is the normalized reason a completion ended
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishToolCalls FinishReason = "tool_calls"
	FinishError     FinishReason = "error"
)

// TokenUsage tracks token usage
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// CompletionResult is the normalized response of any backend
type CompletionResult struct {
	Content      string
	Model        string
	TokensUsed   int
	FinishReason FinishReason
	ToolCalls    []ToolCall
	Usage        TokenUsage
	Metadata     map[string]any // Provider-specific values
}

// HasToolCalls reports whether the backend asked the caller to run tools
func (r *CompletionResult) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}
