// Package conversation holds the mutable history of one conversation session
// and the pruning policy that bounds it.
package conversation

import (
	"fmt"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/errors"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/llmtypes"
)

// DefaultMaxTurns is used by callers that do not configure a limit
const DefaultMaxTurns = 10

// Context is the ordered history of one conversation plus its system message.
//
// A Context is not safe for concurrent mutation. Drive one conversation from
// one goroutine, or serialize access yourself. Independent Contexts may share
// a Provider.
type Context struct {
	systemMessage string
	maxTurns      int
	messages      []llmtypes.Message
}

// NewContext creates a conversation. An empty systemMessage means no system
// message is sent.
func NewContext(systemMessage string, maxTurns int) (*Context, error) {
	if maxTurns < 1 {
		return nil, errors.NewInvalidConfigValueError("conversation.max_turns", maxTurns, "must be at least 1")
	}
	return &Context{
		systemMessage: systemMessage,
		maxTurns:      maxTurns,
	}, nil
}

// SystemMessage returns the configured system message
func (c *Context) SystemMessage() string {
	return c.systemMessage
}

// MaxTurns returns the number of completed turns kept in history
func (c *Context) MaxTurns() int {
	return c.maxTurns
}

// AddUserMessage appends a user message
func (c *Context) AddUserMessage(text string) {
	c.append(llmtypes.Message{Role: llmtypes.RoleUser, Content: text})
}

// AddAssistantMessage appends an assistant message. toolCalls are the calls the
// assistant requested in that message, if any.
func (c *Context) AddAssistantMessage(text string, toolCalls ...llmtypes.ToolCall) {
	msg := llmtypes.Message{Role: llmtypes.RoleAssistant, Content: text}
	if len(toolCalls) > 0 {
		msg.ToolCalls = toolCalls
	}
	c.append(msg)
}

// AddAssistantResult appends the content and tool calls of a completion result
func (c *Context) AddAssistantResult(result *llmtypes.CompletionResult) {
	if result == nil {
		return
	}
	c.AddAssistantMessage(result.Content, result.ToolCalls...)
}

// AddToolResult appends the output of a tool the caller executed.
//
// The id is not checked against earlier tool calls: a result for an unknown id
// is stored as given and reported by UnmatchedToolResults. Only an empty id is
// rejected because a tool message without one cannot be sent to any backend.
func (c *Context) AddToolResult(toolCallID, content, name string) error {
	if toolCallID == "" {
		return errors.NewConfigurationError(fmt.Sprintf("tool result for %q has no tool_call_id", name))
	}
	c.append(llmtypes.Message{
		Role:       llmtypes.RoleTool,
		Content:    content,
		Name:       name,
		ToolCallID: toolCallID,
	})
	return nil
}

// GetMessages returns the sequence to submit to a provider: the system message
// first when one is configured, then the history in append order. The slice is
// a copy and may be modified freely.
func (c *Context) GetMessages() []llmtypes.Message {
	out := make([]llmtypes.Message, 0, len(c.messages)+1)
	if c.systemMessage != "" {
		out = append(out, llmtypes.Message{Role: llmtypes.RoleSystem, Content: c.systemMessage})
	}
	for _, msg := range c.messages {
		out = append(out, msg.Clone())
	}
	return out
}

// History returns a copy of the history without the system message
func (c *Context) History() []llmtypes.Message {
	out := make([]llmtypes.Message, len(c.messages))
	for i, msg := range c.messages {
		out[i] = msg.Clone()
	}
	return out
}

// Len returns the number of history messages, system message excluded
func (c *Context) Len() int {
	return len(c.messages)
}

// Turns returns the number of completed turns in history
func (c *Context) Turns() int {
	completed := 0
	for _, t := range c.turns() {
		if t.completed {
			completed++
		}
	}
	return completed
}

// Reset drops the whole history. The system message is kept.
func (c *Context) Reset() {
	c.messages = nil
}

// UnmatchedToolResults returns the tool_call_ids of tool messages that answer
// no tool call present in history, in append order.
func (c *Context) UnmatchedToolResults() []string {
	issued := make(map[string]bool)
	var unmatched []string
	for _, msg := range c.messages {
		switch msg.Role {
		case llmtypes.RoleAssistant:
			for _, tc := range msg.ToolCalls {
				issued[tc.ID] = true
			}
		case llmtypes.RoleTool:
			if !issued[msg.ToolCallID] {
				unmatched = append(unmatched, msg.ToolCallID)
			}
		}
	}
	return unmatched
}

func (c *Context) append(msg llmtypes.Message) {
	c.messages = append(c.messages, msg.Clone())
	c.prune()
}

// turn is a half-open range [start, end) of history messages
type turn struct {
	start, end int
	completed  bool
}

// turns splits history at every user message. Messages before the first user
// message form a leading turn of their own.
func (c *Context) turns() []turn {
	var out []turn
	start := 0
	for i := 1; i <= len(c.messages); i++ {
		if i < len(c.messages) && c.messages[i].Role != llmtypes.RoleUser {
			continue
		}
		out = append(out, turn{start: start, end: i})
		start = i
	}
	if len(c.messages) == 0 {
		return nil
	}

	for i := range out {
		if i < len(out)-1 {
			// A later user message closes the turn.
			out[i].completed = true
			continue
		}
		last := c.messages[out[i].end-1]
		out[i].completed = last.Role == llmtypes.RoleAssistant && len(last.ToolCalls) == 0
	}
	return out
}

// prune drops the oldest completed turns until at most maxTurns remain.
// Turns are removed whole and only from the front.
func (c *Context) prune() {
	ts := c.turns()
	completed := 0
	for _, t := range ts {
		if t.completed {
			completed++
		}
	}
	if completed <= c.maxTurns {
		return
	}

	drop := completed - c.maxTurns
	cut := 0
	for _, t := range ts {
		if drop == 0 || !t.completed {
			break
		}
		cut = t.end
		drop--
	}
	if cut == 0 {
		return
	}
	kept := make([]llmtypes.Message, len(c.messages)-cut)
	copy(kept, c.messages[cut:])
	c.messages = kept
}
