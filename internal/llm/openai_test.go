package llm

import (
	"context"
	"net/http"
	"testing"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/errors"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/llmtypes"
	testHelpers "github.com/AR6420/macos-siri-2.0-sub002/internal/testing"
)

func TestOpenAIProvider_Complete_Success(t *testing.T) {
	rec := testHelpers.NewRecordingHandler(testHelpers.OpenAIStreamHandler("test ", "response"))
	server := testHelpers.NewMockServer(t, rec.ServeHTTP,
		testHelpers.WithAuthValidation("Authorization", "Bearer test-key"))

	cfg := testBackendConfig(server.URL)
	cfg.Organization = "org-1"
	provider := NewOpenAIProvider(cfg, fastDeps())

	result, err := provider.Complete(context.Background(), userMessages("hello"))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if result.Content != "test response" {
		t.Errorf("Expected content 'test response', got '%s'", result.Content)
	}
	if result.FinishReason != llmtypes.FinishStop {
		t.Errorf("Expected finish reason stop, got %s", result.FinishReason)
	}
	if result.Usage.InputTokens != 10 || result.Usage.OutputTokens != 5 || result.TokensUsed != 15 {
		t.Errorf("Expected usage 10/5/15, got %+v (tokens %d)", result.Usage, result.TokensUsed)
	}
	if result.Model != "gpt-4o-mini" {
		t.Errorf("Expected model from stream, got %q", result.Model)
	}
	if result.Metadata["response_id"] != "chatcmpl-123" {
		t.Errorf("Expected response_id metadata, got %v", result.Metadata["response_id"])
	}

	req := rec.Last()
	if req.Path != "/chat/completions" {
		t.Errorf("Expected path /chat/completions, got %s", req.Path)
	}
	if req.Header.Get("OpenAI-Organization") != "org-1" {
		t.Errorf("Expected organization header, got %q", req.Header.Get("OpenAI-Organization"))
	}
	if req.Body["stream"] != true {
		t.Errorf("Expected stream=true, got %v", req.Body["stream"])
	}
	if opts, _ := req.Body["stream_options"].(map[string]any); opts["include_usage"] != true {
		t.Errorf("Expected stream_options.include_usage, got %v", req.Body["stream_options"])
	}
	if req.Body["model"] != "test-model" || req.Body["temperature"] != 0.5 || req.Body["max_tokens"] != float64(256) {
		t.Errorf("Expected configured model/temperature/max_tokens, got %v/%v/%v",
			req.Body["model"], req.Body["temperature"], req.Body["max_tokens"])
	}
	messages := req.Body["messages"].([]any)
	if first := messages[0].(map[string]any); first["role"] != "system" {
		t.Errorf("Expected system message first, got %v", first["role"])
	}
}

func TestOpenAIProvider_CallOptionsOverrideConfig(t *testing.T) {
	rec := testHelpers.NewRecordingHandler(testHelpers.OpenAIStreamHandler("ok"))
	server := testHelpers.NewMockServer(t, rec.ServeHTTP)
	provider := NewOpenAIProvider(testBackendConfig(server.URL), fastDeps())

	_, err := provider.Complete(context.Background(), userMessages("hi"),
		WithModel("gpt-4o"), WithTemperature(0), WithMaxTokens(32), WithTools(timeTool()))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	body := rec.Last().Body
	if body["model"] != "gpt-4o" || body["temperature"] != float64(0) || body["max_tokens"] != float64(32) {
		t.Errorf("Expected overrides, got %v/%v/%v", body["model"], body["temperature"], body["max_tokens"])
	}
	tools := body["tools"].([]any)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	if fn["name"] != "current_time" {
		t.Errorf("Expected tool current_time, got %v", fn["name"])
	}
}

func TestOpenAIProvider_ToolCallDeltas(t *testing.T) {
	server := testHelpers.NewMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		testHelpers.SetSSEHeaders(w)
		testHelpers.WriteSSE(w, "", testHelpers.OpenAIToolCallChunk(0, "call_a", "current_time", ""))
		testHelpers.WriteSSE(w, "", testHelpers.OpenAIToolCallChunk(1, "call_b", "current_time", `{"zone":`))
		testHelpers.WriteSSE(w, "", testHelpers.OpenAIToolCallChunk(0, "", "", `{"zone":"Europe/Paris"}`))
		testHelpers.WriteSSE(w, "", testHelpers.OpenAIToolCallChunk(1, "", "", `"Asia/Tokyo"}`))
		testHelpers.WriteSSE(w, "", testHelpers.OpenAIStreamChunk("", "tool_calls"))
		testHelpers.WriteSSEDone(w)
	})
	provider := NewOpenAIProvider(testBackendConfig(server.URL), fastDeps())

	result, err := provider.Complete(context.Background(), userMessages("time?"), WithTools(timeTool()))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if !result.HasToolCalls() || len(result.ToolCalls) != 2 {
		t.Fatalf("Expected 2 tool calls, got %+v", result.ToolCalls)
	}
	if result.FinishReason != llmtypes.FinishToolCalls {
		t.Errorf("Expected finish reason tool_calls, got %s", result.FinishReason)
	}
	first, second := result.ToolCalls[0], result.ToolCalls[1]
	if first.ID != "call_a" || first.Arguments["zone"] != "Europe/Paris" {
		t.Errorf("Unexpected first call %+v", first)
	}
	if second.ID != "call_b" || second.Arguments["zone"] != "Asia/Tokyo" {
		t.Errorf("Unexpected second call %+v", second)
	}
}

func TestOpenAIProvider_ToolRoundTripRequest(t *testing.T) {
	rec := testHelpers.NewRecordingHandler(testHelpers.OpenAIStreamHandler("done"))
	server := testHelpers.NewMockServer(t, rec.ServeHTTP)
	provider := NewOpenAIProvider(testBackendConfig(server.URL), fastDeps())

	if _, err := provider.Complete(context.Background(), toolRoundTrip(), WithTools(timeTool())); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	messages := rec.Last().Body["messages"].([]any)
	assistant := messages[2].(map[string]any)
	if assistant["content"] != nil {
		t.Errorf("Expected null content on tool-calling assistant message, got %v", assistant["content"])
	}
	calls := assistant["tool_calls"].([]any)
	fn := calls[0].(map[string]any)["function"].(map[string]any)
	if fn["arguments"] != `{"zone":"Europe/Paris"}` {
		t.Errorf("Expected arguments as JSON string, got %v", fn["arguments"])
	}
	tool := messages[3].(map[string]any)
	if tool["role"] != "tool" || tool["tool_call_id"] != "call_1" {
		t.Errorf("Expected tool result for call_1 after the assistant message, got %v", tool)
	}
}

func TestOpenAIFinishReason(t *testing.T) {
	tests := map[string]llmtypes.FinishReason{
		"stop":           llmtypes.FinishStop,
		"length":         llmtypes.FinishLength,
		"tool_calls":     llmtypes.FinishToolCalls,
		"function_call":  llmtypes.FinishToolCalls,
		"content_filter": llmtypes.FinishError,
		"something_new":  llmtypes.FinishError,
	}
	for raw, want := range tests {
		if got := openAIFinishReason(raw); got != want {
			t.Errorf("openAIFinishReason(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestOpenAIProvider_ContentFilterKeepsRawReason(t *testing.T) {
	server := testHelpers.NewMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		testHelpers.SetSSEHeaders(w)
		testHelpers.WriteSSE(w, "", testHelpers.OpenAIStreamChunk("partial", ""))
		testHelpers.WriteSSE(w, "", testHelpers.OpenAIStreamChunk("", "content_filter"))
		testHelpers.WriteSSEDone(w)
	})
	provider := NewOpenAIProvider(testBackendConfig(server.URL), fastDeps())

	result, err := provider.Complete(context.Background(), userMessages("hi"))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result.FinishReason != llmtypes.FinishError {
		t.Errorf("Expected finish reason error, got %s", result.FinishReason)
	}
	if result.Metadata["raw_finish_reason"] != "content_filter" {
		t.Errorf("Expected raw reason content_filter, got %v", result.Metadata["raw_finish_reason"])
	}
}

func TestOpenAIProvider_AuthErrorNotRetried(t *testing.T) {
	handler := testHelpers.NewRetryHandler(10, http.StatusUnauthorized,
		`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`, nil)
	server := testHelpers.NewMockServer(t, handler.ServeHTTP)
	provider := NewOpenAIProvider(testBackendConfig(server.URL), fastDeps())

	_, err := provider.Complete(context.Background(), userMessages("hi"))
	if errors.KindOf(err) != errors.KindAuthentication {
		t.Errorf("Expected AuthenticationError, got %v", err)
	}
	if handler.CallCount() != 1 {
		t.Errorf("Expected 1 request, got %d", handler.CallCount())
	}
}

func TestOpenAIProvider_RateLimitRetriedThenSucceeds(t *testing.T) {
	handler := testHelpers.NewRetryHandler(2, http.StatusTooManyRequests,
		`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`,
		testHelpers.OpenAIStreamHandler("finally"))
	server := testHelpers.NewMockServer(t, handler.ServeHTTP)
	provider := NewOpenAIProvider(testBackendConfig(server.URL), fastDeps())

	result, err := provider.Complete(context.Background(), userMessages("hi"))
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if result.Content != "finally" {
		t.Errorf("Expected content 'finally', got %q", result.Content)
	}
	if handler.CallCount() != 3 {
		t.Errorf("Expected 3 requests, got %d", handler.CallCount())
	}
}

func TestOpenAIProvider_LongRetryAfterReturnsRateLimit(t *testing.T) {
	handler := testHelpers.NewRetryHandler(1, http.StatusTooManyRequests,
		`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`,
		testHelpers.OpenAIStreamHandler("too late")).WithHeader("Retry-After", "86400")
	server := testHelpers.NewMockServer(t, handler.ServeHTTP)
	provider := NewOpenAIProvider(testBackendConfig(server.URL), fastDeps())

	_, err := provider.Complete(context.Background(), userMessages("hi"))
	if errors.KindOf(err) != errors.KindRateLimit {
		t.Errorf("Expected RateLimitError, got %v", err)
	}
	if handler.CallCount() != 1 {
		t.Errorf("Expected 1 request, got %d", handler.CallCount())
	}
}

func TestOpenAIProvider_InStreamError(t *testing.T) {
	server := testHelpers.NewMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		testHelpers.SetSSEHeaders(w)
		testHelpers.WriteSSE(w, "", `{"error":{"message":"The server had an error","type":"server_error"}}`)
	})
	provider := NewOpenAIProvider(testBackendConfig(server.URL), fastDeps())

	_, err := provider.Complete(context.Background(), userMessages("hi"))
	if errors.KindOf(err) != errors.KindGeneric {
		t.Errorf("Expected GenericError, got %v", err)
	}
}

func TestOpenAIProvider_TruncatedStreamIsConnectionError(t *testing.T) {
	server := testHelpers.NewMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		testHelpers.SetSSEHeaders(w)
		testHelpers.WriteSSE(w, "", testHelpers.OpenAIStreamChunk("Hel", ""))
	})
	provider := NewOpenAIProvider(testBackendConfig(server.URL), fastDeps())

	result, err := provider.Complete(context.Background(), userMessages("hi"))
	if errors.KindOf(err) != errors.KindConnection {
		t.Errorf("Expected ConnectionError, got %v (result %+v)", err, result)
	}

	fragments, err := collectStream(provider.StreamComplete(context.Background(), userMessages("hi")))
	if len(fragments) != 1 || fragments[0] != "Hel" {
		t.Errorf("Expected the fragment before the cut, got %v", fragments)
	}
	if errors.KindOf(err) != errors.KindConnection {
		t.Errorf("Expected the stream to end with ConnectionError, got %v", err)
	}
}

func TestOpenAIProvider_FinishReasonWithoutDoneIsConnectionError(t *testing.T) {
	server := testHelpers.NewMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		testHelpers.SetSSEHeaders(w)
		testHelpers.WriteSSE(w, "", testHelpers.OpenAIStreamChunk("Hello", ""))
		testHelpers.WriteSSE(w, "", testHelpers.OpenAIStreamChunk("", "stop"))
	})
	provider := NewOpenAIProvider(testBackendConfig(server.URL), fastDeps())

	_, err := provider.Complete(context.Background(), userMessages("hi"))
	if errors.KindOf(err) != errors.KindConnection {
		t.Errorf("Expected ConnectionError without [DONE], got %v", err)
	}
}
