package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/config"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/llmtypes"
)

// OllamaProvider implements Provider for a local Ollama server
type OllamaProvider struct {
	*baseProvider
	baseURL string
}

// Compile-time interface guards.
var (
	_ Provider       = (*OllamaProvider)(nil)
	_ HealthReporter = (*OllamaProvider)(nil)
)

type ollamaChatRequest struct {
	Model     string          `json:"model"`
	Messages  []ollamaMessage `json:"messages"`
	Tools     []ollamaTool    `json:"tools,omitempty"`
	Stream    bool            `json:"stream"`
	Options   map[string]any  `json:"options,omitempty"`
	KeepAlive string          `json:"keep_alive,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaChatChunk struct {
	Model      string        `json:"model"`
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason"`
	Error      string        `json:"error"`

	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

type ollamaListResponse struct {
	Models []struct {
		Name       string    `json:"name"`
		Size       int64     `json:"size"`
		ModifiedAt time.Time `json:"modified_at"`
	} `json:"models"`
}

// NewOllamaProvider creates an Ollama provider. It does not verify
// connectivity; call Heartbeat for an early health check.
func NewOllamaProvider(cfg config.BackendConfig, deps Deps) *OllamaProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	p := &OllamaProvider{baseURL: trimBaseURL(baseURL)}
	p.baseProvider = newBaseProvider(config.BackendOllama, cfg, deps, p)
	return p
}

func (p *OllamaProvider) buildRequest(messages []Message, s callSettings) (*wireRequest, error) {
	body := ollamaChatRequest{
		Model:     s.Model,
		Messages:  convertOllamaMessages(messages),
		Stream:    true,
		KeepAlive: p.cfg.KeepAlive,
		Options: map[string]any{
			"temperature": s.Temperature,
		},
	}
	if s.MaxTokens > 0 {
		body.Options["num_predict"] = s.MaxTokens
	}
	for _, tool := range s.Tools {
		params := tool.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		body.Tools = append(body.Tools, ollamaTool{
			Type: "function",
			Function: openaiToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}

	return &wireRequest{
		URL:  p.baseURL + "/api/chat",
		Body: body,
	}, nil
}

func convertOllamaMessages(messages []Message) []ollamaMessage {
	names := toolResultNames(messages)
	out := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		om := ollamaMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		switch msg.Role {
		case RoleAssistant:
			for _, tc := range msg.ToolCalls {
				var call ollamaToolCall
				call.Function.Name = tc.Name
				call.Function.Arguments = argumentsOrEmpty(tc.Arguments)
				om.ToolCalls = append(om.ToolCalls, call)
			}
		case RoleTool:
			om.ToolName = msg.Name
			if om.ToolName == "" {
				om.ToolName = names[msg.ToolCallID]
			}
		}
		out = append(out, om)
	}
	return out
}

func (p *OllamaProvider) decodeStream(body io.Reader, sink *streamSink) error {
	reader := NewNDJSONReader(body)
	for {
		line, err := reader.Next()
		if err == io.EOF {
			return fmt.Errorf("stream ended before done: %w", io.ErrUnexpectedEOF)
		}
		if err != nil {
			return err
		}

		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("failed to parse stream chunk: %w", err)
		}
		if chunk.Error != "" {
			return errorFromEvent(p.name, line)
		}
		sink.setModel(chunk.Model)

		// Tool calls arrive whole, never split across chunks, and carry no id.
		for _, tc := range chunk.Message.ToolCalls {
			sink.addToolCall(ToolCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		if !sink.text(chunk.Message.Content) {
			return nil
		}

		if chunk.Done {
			sink.usage = TokenUsage{
				InputTokens:  chunk.PromptEvalCount,
				OutputTokens: chunk.EvalCount,
			}
			if chunk.DoneReason != "" {
				sink.setFinish(ollamaFinishReason(chunk.DoneReason), chunk.DoneReason)
			}
			return nil
		}
	}
}

// ollamaFinishReason normalizes Ollama done_reason values
func ollamaFinishReason(raw string) llmtypes.FinishReason {
	switch raw {
	case "stop", "load", "unload":
		return llmtypes.FinishStop
	case "length":
		return llmtypes.FinishLength
	default:
		return llmtypes.FinishError
	}
}

// Heartbeat checks whether the Ollama server is reachable.
func (p *OllamaProvider) Heartbeat(ctx context.Context) error {
	resp, err := p.transport.open(ctx, &wireRequest{Method: http.MethodGet, URL: p.baseURL + "/"})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ListModels returns the locally available models.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var result ollamaListResponse
	if err := p.transport.getJSON(ctx, p.baseURL+"/api/tags", nil, &result); err != nil {
		return nil, err
	}

	models := make([]ModelInfo, len(result.Models))
	for i, m := range result.Models {
		models[i] = ModelInfo{Name: m.Name, Size: m.Size, ModifiedAt: m.ModifiedAt}
	}
	return models, nil
}
