package llm

import (
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/config"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/llmtypes"
)

const defaultAnthropicVersion = "2023-06-01"

// AnthropicProvider implements Provider for the Anthropic Messages API
type AnthropicProvider struct {
	*baseProvider
	apiKey  string
	baseURL string
	version string
}

var _ Provider = (*AnthropicProvider)(nil)

// anthropicRequest represents the request body for Anthropic API
type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Stream      bool               `json:"stream"`
}

// anthropicMessage represents a message in Anthropic format
type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

// anthropicContentBlock represents a content block
type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// Tool use fields (type=="tool_use")
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`
	// Tool result fields (type=="tool_result")
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// anthropicTool represents a tool definition
type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(cfg config.BackendConfig, deps Deps) *AnthropicProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	version := cfg.APIVersion
	if version == "" {
		version = defaultAnthropicVersion
	}

	p := &AnthropicProvider{
		apiKey:  cfg.APIKey,
		baseURL: trimBaseURL(baseURL),
		version: version,
	}
	p.baseProvider = newBaseProvider(config.BackendAnthropic, cfg, deps, p)
	return p
}

func (p *AnthropicProvider) buildRequest(messages []Message, s callSettings) (*wireRequest, error) {
	system, rest := splitSystem(messages)
	temperature := s.Temperature

	body := anthropicRequest{
		Model:       s.Model,
		Messages:    convertAnthropicMessages(rest),
		System:      system,
		MaxTokens:   s.MaxTokens,
		Temperature: &temperature,
		Stream:      true,
	}
	for _, tool := range s.Tools {
		schema := tool.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		body.Tools = append(body.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}

	return &wireRequest{
		URL: p.baseURL + "/v1/messages",
		Headers: map[string]string{
			"x-api-key":         p.apiKey,
			"anthropic-version": p.version,
			"Accept":            "text/event-stream",
		},
		Body: body,
	}, nil
}

// convertAnthropicMessages translates history into alternating user and
// assistant turns. Tool results become tool_result blocks of a user turn, and
// consecutive turns of the same role are merged.
func convertAnthropicMessages(messages []Message) []anthropicMessage {
	var out []anthropicMessage
	appendBlocks := func(role string, blocks ...anthropicContentBlock) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropicMessage{Role: role, Content: blocks})
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleTool:
			appendBlocks("user", anthropicContentBlock{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
			})
		case RoleAssistant:
			var blocks []anthropicContentBlock
			if msg.Content != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropicContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: argumentsOrEmpty(tc.Arguments),
				})
			}
			appendBlocks("assistant", blocks...)
		case RoleUser:
			if msg.Content != "" {
				appendBlocks("user", anthropicContentBlock{Type: "text", Text: msg.Content})
			}
		}
	}
	return out
}

// anthropicToolBuilder accumulates one tool_use content block
type anthropicToolBuilder struct {
	id   string
	name string
	args strings.Builder
}

func (p *AnthropicProvider) decodeStream(body io.Reader, sink *streamSink) error {
	parser := NewSSEParser(body)
	tools := make(map[int64]*anthropicToolBuilder)
	var order []int64

	for {
		event, err := parser.NextEvent()
		if err == io.EOF {
			return fmt.Errorf("stream ended before message_stop: %w", io.ErrUnexpectedEOF)
		}
		if err != nil {
			return err
		}
		if len(event.Data) == 0 {
			continue
		}
		if !gjson.ValidBytes(event.Data) {
			return fmt.Errorf("failed to parse event data: %q", event.Data)
		}

		data := gjson.ParseBytes(event.Data)
		eventType := data.Get("type").String()
		if eventType == "" {
			eventType = event.Event
		}

		switch eventType {
		case "message_start":
			msg := data.Get("message")
			sink.setModel(msg.Get("model").String())
			if id := msg.Get("id").String(); id != "" {
				sink.metadata["response_id"] = id
			}
			sink.usage.InputTokens = int(msg.Get("usage.input_tokens").Int())
			sink.usage.OutputTokens = int(msg.Get("usage.output_tokens").Int())

		case "content_block_start":
			block := data.Get("content_block")
			if block.Get("type").String() == "tool_use" {
				idx := data.Get("index").Int()
				tools[idx] = &anthropicToolBuilder{
					id:   block.Get("id").String(),
					name: block.Get("name").String(),
				}
				order = append(order, idx)
			}

		case "content_block_delta":
			delta := data.Get("delta")
			switch delta.Get("type").String() {
			case "text_delta":
				if !sink.text(delta.Get("text").String()) {
					return nil
				}
			case "input_json_delta":
				if b, ok := tools[data.Get("index").Int()]; ok {
					b.args.WriteString(delta.Get("partial_json").String())
				}
			}

		case "message_delta":
			if stop := data.Get("delta.stop_reason"); stop.Exists() && stop.String() != "" {
				sink.setFinish(anthropicFinishReason(stop.String()), stop.String())
			}
			if out := data.Get("usage.output_tokens"); out.Exists() {
				sink.usage.OutputTokens = int(out.Int())
			}

		case "message_stop":
			for _, idx := range order {
				b := tools[idx]
				args, err := parseArguments(p.name, b.args.String())
				if err != nil {
					return err
				}
				sink.addToolCall(ToolCall{ID: b.id, Name: b.name, Arguments: args})
			}
			return nil

		case "error":
			return errorFromEvent(p.name, event.Data)
		}
		// ping and content_block_stop carry nothing to accumulate
	}
}

// anthropicFinishReason normalizes Anthropic stop_reason values
func anthropicFinishReason(raw string) llmtypes.FinishReason {
	switch raw {
	case "end_turn", "stop_sequence", "pause_turn":
		return llmtypes.FinishStop
	case "max_tokens":
		return llmtypes.FinishLength
	case "tool_use":
		return llmtypes.FinishToolCalls
	default:
		// refusal and anything new
		return llmtypes.FinishError
	}
}
