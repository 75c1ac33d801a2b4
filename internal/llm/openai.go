package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/config"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/llmtypes"
)

// OpenAIProvider implements Provider for OpenAI-compatible chat completion APIs
type OpenAIProvider struct {
	*baseProvider
	apiKey  string
	baseURL string
}

var _ Provider = (*OpenAIProvider)(nil)

// openaiRequest represents the request body for OpenAI API
type openaiRequest struct {
	Model         string               `json:"model"`
	Messages      []openaiMessage      `json:"messages"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Temperature   float64              `json:"temperature"`
	Tools         []openaiTool         `json:"tools,omitempty"`
	Stream        bool                 `json:"stream"`
	StreamOptions *openaiStreamOptions `json:"stream_options,omitempty"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// openaiMessage represents a message in OpenAI format
type openaiMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	Name       string           `json:"name,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// openaiTool represents a tool definition in OpenAI format
type openaiTool struct {
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// openaiToolCall represents a tool call in OpenAI format
type openaiToolCall struct {
	Index    *int               `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openaiToolCallFunc `json:"function"`
}

type openaiToolCallFunc struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

// openaiStreamChunk is one data event of a streamed chat completion
type openaiStreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Content   string           `json:"content"`
			Refusal   string           `json:"refusal"`
			ToolCalls []openaiToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage     `json:"usage"`
	Error *json.RawMessage `json:"error"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(cfg config.BackendConfig, deps Deps) *OpenAIProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	p := &OpenAIProvider{
		apiKey:  cfg.APIKey,
		baseURL: trimBaseURL(baseURL),
	}
	p.baseProvider = newBaseProvider(config.BackendOpenAI, cfg, deps, p)
	return p
}

func (p *OpenAIProvider) buildRequest(messages []Message, s callSettings) (*wireRequest, error) {
	body := openaiRequest{
		Model:         s.Model,
		Messages:      convertOpenAIMessages(messages),
		MaxTokens:     s.MaxTokens,
		Temperature:   s.Temperature,
		Stream:        true,
		StreamOptions: &openaiStreamOptions{IncludeUsage: true},
	}
	for _, tool := range s.Tools {
		params := tool.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		body.Tools = append(body.Tools, openaiTool{
			Type: "function",
			Function: openaiToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}

	headers := map[string]string{
		"Accept": "text/event-stream",
	}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	if p.cfg.Organization != "" {
		headers["OpenAI-Organization"] = p.cfg.Organization
	}

	return &wireRequest{
		URL:     p.baseURL + "/chat/completions",
		Headers: headers,
		Body:    body,
	}, nil
}

func convertOpenAIMessages(messages []Message) []openaiMessage {
	out := make([]openaiMessage, 0, len(messages))
	for _, msg := range messages {
		content := msg.Content
		om := openaiMessage{
			Role:    string(msg.Role),
			Content: &content,
		}
		switch msg.Role {
		case RoleAssistant:
			for _, tc := range msg.ToolCalls {
				args, _ := json.Marshal(argumentsOrEmpty(tc.Arguments))
				om.ToolCalls = append(om.ToolCalls, openaiToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openaiToolCallFunc{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			if len(om.ToolCalls) > 0 && content == "" {
				om.Content = nil
			}
		case RoleTool:
			om.ToolCallID = msg.ToolCallID
		}
		out = append(out, om)
	}
	return out
}

// openaiToolCallBuilder accumulates the fragments of one indexed tool call
type openaiToolCallBuilder struct {
	id   string
	name string
	args strings.Builder
}

func (p *OpenAIProvider) decodeStream(body io.Reader, sink *streamSink) error {
	parser := NewSSEParser(body)
	calls := make(map[int]*openaiToolCallBuilder)

	finishCalls := func() error {
		indexes := make([]int, 0, len(calls))
		for idx := range calls {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		for _, idx := range indexes {
			b := calls[idx]
			args, err := parseArguments(p.name, b.args.String())
			if err != nil {
				return err
			}
			sink.addToolCall(ToolCall{ID: b.id, Name: b.name, Arguments: args})
		}
		return nil
	}

	for {
		event, err := parser.NextEvent()
		if err == io.EOF {
			return fmt.Errorf("stream ended before [DONE]: %w", io.ErrUnexpectedEOF)
		}
		if err != nil {
			return err
		}
		if IsSSEDone(event.Data) {
			return finishCalls()
		}
		if len(event.Data) == 0 {
			continue
		}

		var chunk openaiStreamChunk
		if err := json.Unmarshal(event.Data, &chunk); err != nil {
			return fmt.Errorf("failed to parse stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return errorFromEvent(p.name, []byte(fmt.Sprintf(`{"error":%s}`, *chunk.Error)))
		}
		if chunk.ID != "" {
			sink.metadata["response_id"] = chunk.ID
		}
		sink.setModel(chunk.Model)
		if chunk.Usage != nil {
			sink.usage = TokenUsage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}
		}

		for _, choice := range chunk.Choices {
			if choice.Index != 0 {
				continue
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				b, ok := calls[idx]
				if !ok {
					b = &openaiToolCallBuilder{}
					calls[idx] = b
				}
				if tc.ID != "" {
					b.id = tc.ID
				}
				if tc.Function.Name != "" {
					b.name = tc.Function.Name
				}
				b.args.WriteString(tc.Function.Arguments)
			}
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				sink.setFinish(openAIFinishReason(*choice.FinishReason), *choice.FinishReason)
			}
			if !sink.text(choice.Delta.Content) {
				return nil
			}
			if choice.Delta.Refusal != "" {
				if !sink.text(choice.Delta.Refusal) {
					return nil
				}
				sink.setFinish(llmtypes.FinishError, "refusal")
			}
		}
	}
}

// openAIFinishReason normalizes OpenAI finish_reason values
func openAIFinishReason(raw string) llmtypes.FinishReason {
	switch raw {
	case "stop":
		return llmtypes.FinishStop
	case "length":
		return llmtypes.FinishLength
	case "tool_calls", "function_call":
		return llmtypes.FinishToolCalls
	default:
		// content_filter and anything new
		return llmtypes.FinishError
	}
}

func argumentsOrEmpty(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}
