package testing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

func WriteSSE(w http.ResponseWriter, event, data string) {
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flush(w)
}

func WriteSSEDone(w http.ResponseWriter) {
	fmt.Fprint(w, "data: [DONE]\n\n")
	flush(w)
}

// WriteNDJSON writes one newline-delimited JSON object
func WriteNDJSON(w http.ResponseWriter, data string) {
	fmt.Fprintln(w, data)
	flush(w)
}

func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
}

func SetNDJSONHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/x-ndjson")
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// JSONString quotes s as a JSON string literal
func JSONString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}

type MockServerOption func(*mockServerConfig)

type mockServerConfig struct {
	validateAuth bool
	authHeader   string
	authValue    string
}

func WithAuthValidation(header, value string) MockServerOption {
	return func(cfg *mockServerConfig) {
		cfg.validateAuth = true
		cfg.authHeader = header
		cfg.authValue = value
	}
}

// NewMockServer starts a server that is closed when the test ends
func NewMockServer(t *testing.T, handler http.HandlerFunc, opts ...MockServerOption) *httptest.Server {
	t.Helper()
	cfg := &mockServerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	wrappedHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.validateAuth {
			if r.Header.Get(cfg.authHeader) != cfg.authValue {
				t.Errorf("Expected %s header '%s', got '%s'", cfg.authHeader, cfg.authValue, r.Header.Get(cfg.authHeader))
			}
		}
		handler(w, r)
	})

	server := httptest.NewServer(wrappedHandler)
	t.Cleanup(server.Close)
	return server
}

// ErrorHandler answers every request with status and body
func ErrorHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

// OpenAI

func OpenAIStreamChunk(content string, finishReason string) string {
	fr := "null"
	if finishReason != "" {
		fr = JSONString(finishReason)
	}
	delta := ""
	if content != "" {
		delta = `"content":` + JSONString(content)
	}
	return fmt.Sprintf(`{"id":"chatcmpl-123","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[{"index":0,"delta":{%s},"finish_reason":%s}]}`, delta, fr)
}

func OpenAIToolCallChunk(index int, id, name, args string) string {
	idPart := ""
	if id != "" {
		idPart = fmt.Sprintf(`"id":%s,"type":"function",`, JSONString(id))
	}
	namePart := ""
	if name != "" {
		namePart = fmt.Sprintf(`"name":%s,`, JSONString(name))
	}
	return fmt.Sprintf(`{"id":"chatcmpl-123","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"tool_calls":[{"index":%d,%s"function":{%s"arguments":%s}}]},"finish_reason":null}]}`, index, idPart, namePart, JSONString(args))
}

func OpenAIUsageChunk(prompt, completion int) string {
	return fmt.Sprintf(`{"id":"chatcmpl-123","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[],"usage":{"prompt_tokens":%d,"completion_tokens":%d,"total_tokens":%d}}`, prompt, completion, prompt+completion)
}

// OpenAIStreamHandler streams fragments, a stop chunk, usage and [DONE]
func OpenAIStreamHandler(fragments ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetSSEHeaders(w)
		for _, f := range fragments {
			WriteSSE(w, "", OpenAIStreamChunk(f, ""))
		}
		WriteSSE(w, "", OpenAIStreamChunk("", "stop"))
		WriteSSE(w, "", OpenAIUsageChunk(10, 5))
		WriteSSEDone(w)
	}
}

// Anthropic

func AnthropicMessageStart(inputTokens int) string {
	return fmt.Sprintf(`{"type":"message_start","message":{"id":"msg_123","type":"message","role":"assistant","content":[],"model":"claude-3-5-sonnet-latest","stop_reason":null,"usage":{"input_tokens":%d,"output_tokens":1}}}`, inputTokens)
}

func AnthropicTextBlockStart(index int) string {
	return fmt.Sprintf(`{"type":"content_block_start","index":%d,"content_block":{"type":"text","text":""}}`, index)
}

func AnthropicToolUseBlockStart(index int, id, name string) string {
	return fmt.Sprintf(`{"type":"content_block_start","index":%d,"content_block":{"type":"tool_use","id":%s,"name":%s,"input":{}}}`, index, JSONString(id), JSONString(name))
}

func AnthropicTextDelta(index int, text string) string {
	return fmt.Sprintf(`{"type":"content_block_delta","index":%d,"delta":{"type":"text_delta","text":%s}}`, index, JSONString(text))
}

func AnthropicInputJSONDelta(index int, partial string) string {
	return fmt.Sprintf(`{"type":"content_block_delta","index":%d,"delta":{"type":"input_json_delta","partial_json":%s}}`, index, JSONString(partial))
}

func AnthropicContentBlockStop(index int) string {
	return fmt.Sprintf(`{"type":"content_block_stop","index":%d}`, index)
}

func AnthropicMessageDelta(stopReason string, outputTokens int) string {
	return fmt.Sprintf(`{"type":"message_delta","delta":{"stop_reason":%s,"stop_sequence":null},"usage":{"output_tokens":%d}}`, JSONString(stopReason), outputTokens)
}

func AnthropicMessageStop() string {
	return `{"type":"message_stop"}`
}

// AnthropicStreamHandler streams one text block built from fragments
func AnthropicStreamHandler(fragments ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetSSEHeaders(w)
		WriteSSE(w, "message_start", AnthropicMessageStart(10))
		WriteSSE(w, "content_block_start", AnthropicTextBlockStart(0))
		WriteSSE(w, "ping", `{"type":"ping"}`)
		for _, f := range fragments {
			WriteSSE(w, "content_block_delta", AnthropicTextDelta(0, f))
		}
		WriteSSE(w, "content_block_stop", AnthropicContentBlockStop(0))
		WriteSSE(w, "message_delta", AnthropicMessageDelta("end_turn", 5))
		WriteSSE(w, "message_stop", AnthropicMessageStop())
	}
}

// Gemini

func GeminiChunk(text string, finishReason string, inputTokens, outputTokens int) string {
	fr := ""
	if finishReason != "" {
		fr = `,"finishReason":` + JSONString(finishReason)
	}
	textPart := ""
	if text != "" {
		textPart = `{"text":` + JSONString(text) + `}`
	}
	return fmt.Sprintf(`{"candidates":[{"content":{"parts":[%s],"role":"model"}%s,"index":0}],"usageMetadata":{"promptTokenCount":%d,"candidatesTokenCount":%d,"totalTokenCount":%d},"modelVersion":"gemini-1.5-flash","responseId":"resp-123"}`, textPart, fr, inputTokens, outputTokens, inputTokens+outputTokens)
}

func GeminiFunctionCallChunk(name, argsJSON string) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"parts":[{"functionCall":{"name":%s,"args":%s}}],"role":"model"},"finishReason":"STOP","index":0}],"modelVersion":"gemini-1.5-flash"}`, JSONString(name), argsJSON)
}

// GeminiStreamHandler streams fragments as SSE chunks, the last carrying STOP
func GeminiStreamHandler(fragments ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetSSEHeaders(w)
		for i, f := range fragments {
			finish := ""
			if i == len(fragments)-1 {
				finish = "STOP"
			}
			WriteSSE(w, "", GeminiChunk(f, finish, 10, i+1))
		}
	}
}

// Ollama

func OllamaChunk(content string) string {
	return fmt.Sprintf(`{"model":"llama3.2","created_at":"2024-01-01T00:00:00Z","message":{"role":"assistant","content":%s},"done":false}`, JSONString(content))
}

func OllamaDoneChunk(reason string, promptTokens, evalTokens int) string {
	return fmt.Sprintf(`{"model":"llama3.2","created_at":"2024-01-01T00:00:00Z","message":{"role":"assistant","content":""},"done":true,"done_reason":%s,"prompt_eval_count":%d,"eval_count":%d}`, JSONString(reason), promptTokens, evalTokens)
}

func OllamaToolCallChunk(name, argsJSON string) string {
	return fmt.Sprintf(`{"model":"llama3.2","created_at":"2024-01-01T00:00:00Z","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":%s,"arguments":%s}}]},"done":false}`, JSONString(name), argsJSON)
}

// OllamaStreamHandler streams fragments as NDJSON followed by a done line
func OllamaStreamHandler(fragments ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetNDJSONHeaders(w)
		for _, f := range fragments {
			WriteNDJSON(w, OllamaChunk(f))
		}
		WriteNDJSON(w, OllamaDoneChunk("stop", 10, len(fragments)))
	}
}

// RetryHandler fails the first failUntil requests with failStatusCode, then
// delegates to successHandler
type RetryHandler struct {
	callCount      atomic.Int32
	failUntil      int32
	failStatusCode int
	failBody       string
	header         http.Header
	successHandler http.HandlerFunc
}

func NewRetryHandler(failUntil, failStatusCode int, failBody string, successHandler http.HandlerFunc) *RetryHandler {
	return &RetryHandler{
		failUntil:      int32(failUntil),
		failStatusCode: failStatusCode,
		failBody:       failBody,
		header:         http.Header{},
		successHandler: successHandler,
	}
}

// WithHeader adds a header to the failing responses, e.g. Retry-After
func (h *RetryHandler) WithHeader(key, value string) *RetryHandler {
	h.header.Set(key, value)
	return h
}

func (h *RetryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.callCount.Add(1) <= h.failUntil {
		for k, v := range h.header {
			w.Header()[k] = v
		}
		w.WriteHeader(h.failStatusCode)
		w.Write([]byte(h.failBody))
		return
	}
	h.successHandler(w, r)
}

func (h *RetryHandler) CallCount() int {
	return int(h.callCount.Load())
}

// RecordedRequest is a request captured by RecordingHandler
type RecordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   map[string]any
}

// RecordingHandler captures every request before delegating to next
type RecordingHandler struct {
	mu       sync.Mutex
	requests []RecordedRequest
	next     http.HandlerFunc
}

func NewRecordingHandler(next http.HandlerFunc) *RecordingHandler {
	return &RecordingHandler{next: next}
}

func (h *RecordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(data))
	var body map[string]any
	if len(data) > 0 {
		_ = json.Unmarshal(data, &body)
	}

	h.mu.Lock()
	h.requests = append(h.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   body,
	})
	h.mu.Unlock()

	h.next(w, r)
}

// Requests returns the captured requests in arrival order
func (h *RecordingHandler) Requests() []RecordedRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]RecordedRequest, len(h.requests))
	copy(out, h.requests)
	return out
}

// Last returns the most recent request
func (h *RecordingHandler) Last() RecordedRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.requests) == 0 {
		return RecordedRequest{}
	}
	return h.requests[len(h.requests)-1]
}
