package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/config"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/llmtypes"
)

// GeminiProvider implements Provider for the Google Gemini API
type GeminiProvider struct {
	*baseProvider
	apiKey  string
	baseURL string
}

var _ Provider = (*GeminiProvider)(nil)

// geminiRequest represents the request body for Gemini API
type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	Tools             []geminiTool           `json:"tools,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
}

// geminiContent represents content in Gemini format
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// geminiPart represents a part of content
type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	Thought          bool                    `json:"thought,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
	ThoughtSignature string                  `json:"thoughtSignature,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// geminiFunctionResponse is addressed by function name, not call id
type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// geminiTool represents a tool declaration
type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations,omitempty"`
}

type geminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

// geminiStreamChunk is one SSE data event of streamGenerateContent
type geminiStreamChunk struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
		Index        int           `json:"index"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string           `json:"modelVersion"`
	ResponseID   string           `json:"responseId"`
	Error        *json.RawMessage `json:"error"`
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(cfg config.BackendConfig, deps Deps) *GeminiProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	p := &GeminiProvider{
		apiKey:  cfg.APIKey,
		baseURL: trimBaseURL(baseURL),
	}
	p.baseProvider = newBaseProvider(config.BackendGemini, cfg, deps, p)
	return p
}

func (p *GeminiProvider) buildRequest(messages []Message, s callSettings) (*wireRequest, error) {
	system, rest := splitSystem(messages)
	temperature := s.Temperature

	body := geminiRequest{
		Contents: convertGeminiContents(rest, toolResultNames(messages)),
		GenerationConfig: geminiGenerationConfig{
			Temperature:     &temperature,
			MaxOutputTokens: s.MaxTokens,
		},
	}
	if system != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	if len(s.Tools) > 0 {
		decls := make([]geminiFunctionDeclaration, len(s.Tools))
		for i, tool := range s.Tools {
			decls[i] = geminiFunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			}
		}
		body.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	return &wireRequest{
		URL: fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", p.baseURL, url.PathEscape(s.Model)),
		Headers: map[string]string{
			"x-goog-api-key": p.apiKey,
			"Accept":         "text/event-stream",
		},
		Body: body,
	}, nil
}

// convertGeminiContents translates history into user and model contents.
// Function responses are matched to their call by name; names missing on a
// tool message are recovered from the assistant call with the same id.
func convertGeminiContents(messages []Message, names map[string]string) []geminiContent {
	var out []geminiContent
	appendParts := func(role string, parts ...geminiPart) {
		if len(parts) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, parts...)
			return
		}
		out = append(out, geminiContent{Role: role, Parts: parts})
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleTool:
			name := msg.Name
			if name == "" {
				name = names[msg.ToolCallID]
			}
			appendParts("user", geminiPart{
				FunctionResponse: &geminiFunctionResponse{
					Name:     name,
					Response: map[string]any{"result": msg.Content},
				},
			})
		case RoleAssistant:
			var parts []geminiPart
			if msg.Content != "" {
				parts = append(parts, geminiPart{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, geminiPart{
					FunctionCall: &geminiFunctionCall{
						Name: tc.Name,
						Args: argumentsOrEmpty(tc.Arguments),
					},
					ThoughtSignature: tc.ThoughtSignature,
				})
			}
			appendParts("model", parts...)
		case RoleUser:
			if msg.Content != "" {
				appendParts("user", geminiPart{Text: msg.Content})
			}
		}
	}
	return out
}

func (p *GeminiProvider) decodeStream(body io.Reader, sink *streamSink) error {
	parser := NewSSEParser(body)
	finished := false

	for {
		event, err := parser.NextEvent()
		if err == io.EOF {
			if !finished {
				return fmt.Errorf("stream ended before a finishReason: %w", io.ErrUnexpectedEOF)
			}
			return nil
		}
		if err != nil {
			return err
		}
		if len(event.Data) == 0 {
			continue
		}

		var chunk geminiStreamChunk
		if err := json.Unmarshal(event.Data, &chunk); err != nil {
			return fmt.Errorf("failed to parse stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return errorFromEvent(p.name, []byte(fmt.Sprintf(`{"error":%s}`, *chunk.Error)))
		}
		if chunk.ResponseID != "" {
			sink.metadata["response_id"] = chunk.ResponseID
		}
		sink.setModel(chunk.ModelVersion)
		if u := chunk.UsageMetadata; u != nil {
			sink.usage = TokenUsage{
				InputTokens:  u.PromptTokenCount,
				OutputTokens: u.CandidatesTokenCount,
				TotalTokens:  u.TotalTokenCount,
			}
		}
		if fb := chunk.PromptFeedback; fb != nil && fb.BlockReason != "" {
			sink.setFinish(llmtypes.FinishError, fb.BlockReason)
			finished = true
		}

		for _, cand := range chunk.Candidates {
			if cand.Index != 0 {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.FunctionCall != nil {
					sink.addToolCall(ToolCall{
						Name:             part.FunctionCall.Name,
						Arguments:        part.FunctionCall.Args,
						ThoughtSignature: part.ThoughtSignature,
					})
					continue
				}
				if part.Thought {
					continue
				}
				if !sink.text(part.Text) {
					return nil
				}
			}
			if cand.FinishReason != "" {
				sink.setFinish(geminiFinishReason(cand.FinishReason), cand.FinishReason)
				finished = true
			}
		}
	}
}

// geminiFinishReason normalizes Gemini finishReason values
func geminiFinishReason(raw string) llmtypes.FinishReason {
	switch raw {
	case "STOP":
		return llmtypes.FinishStop
	case "MAX_TOKENS":
		return llmtypes.FinishLength
	default:
		// SAFETY, RECITATION, BLOCKLIST, PROHIBITED_CONTENT, MALFORMED_FUNCTION_CALL, ...
		return llmtypes.FinishError
	}
}
