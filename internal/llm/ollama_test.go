package llm

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/errors"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/llmtypes"
	testHelpers "github.com/AR6420/macos-siri-2.0-sub002/internal/testing"
)

func TestOllamaProvider_Complete_Success(t *testing.T) {
	rec := testHelpers.NewRecordingHandler(testHelpers.OllamaStreamHandler("Hi", " there"))
	server := testHelpers.NewMockServer(t, rec.ServeHTTP)

	cfg := testBackendConfig(server.URL)
	cfg.APIKey = ""
	cfg.KeepAlive = "5m"
	provider := NewOllamaProvider(cfg, fastDeps())

	result, err := provider.Complete(context.Background(), userMessages("hello"))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if result.Content != "Hi there" {
		t.Errorf("Expected content 'Hi there', got '%s'", result.Content)
	}
	if result.FinishReason != llmtypes.FinishStop {
		t.Errorf("Expected finish reason stop, got %s", result.FinishReason)
	}
	if result.Usage.InputTokens != 10 || result.Usage.OutputTokens != 2 || result.TokensUsed != 12 {
		t.Errorf("Expected usage 10/2/12, got %+v", result.Usage)
	}
	if result.Model != "llama3.2" {
		t.Errorf("Expected model llama3.2, got %q", result.Model)
	}

	req := rec.Last()
	if req.Path != "/api/chat" {
		t.Errorf("Expected path /api/chat, got %s", req.Path)
	}
	if req.Header.Get("Authorization") != "" {
		t.Errorf("Expected no auth header, got %q", req.Header.Get("Authorization"))
	}
	if req.Body["stream"] != true || req.Body["keep_alive"] != "5m" {
		t.Errorf("Expected stream and keep_alive, got %v / %v", req.Body["stream"], req.Body["keep_alive"])
	}
	options := req.Body["options"].(map[string]any)
	if options["temperature"] != 0.5 || options["num_predict"] != float64(256) {
		t.Errorf("Unexpected options %v", options)
	}
}

func TestOllamaProvider_ToolCalls(t *testing.T) {
	server := testHelpers.NewMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		testHelpers.SetNDJSONHeaders(w)
		testHelpers.WriteNDJSON(w, testHelpers.OllamaToolCallChunk("current_time", `{"zone":"UTC"}`))
		testHelpers.WriteNDJSON(w, testHelpers.OllamaDoneChunk("stop", 8, 3))
	})
	provider := NewOllamaProvider(testBackendConfig(server.URL), fastDeps())

	result, err := provider.Complete(context.Background(), userMessages("time?"), WithTools(timeTool()))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(result.ToolCalls) != 1 {
		t.Fatalf("Expected 1 tool call, got %d", len(result.ToolCalls))
	}
	call := result.ToolCalls[0]
	if !strings.HasPrefix(call.ID, "call_") || call.Name != "current_time" || call.Arguments["zone"] != "UTC" {
		t.Errorf("Unexpected tool call %+v", call)
	}
	if result.FinishReason != llmtypes.FinishToolCalls {
		t.Errorf("Expected finish reason tool_calls, got %s", result.FinishReason)
	}
}

func TestOllamaProvider_ToolMessageCarriesToolName(t *testing.T) {
	rec := testHelpers.NewRecordingHandler(testHelpers.OllamaStreamHandler("ok"))
	server := testHelpers.NewMockServer(t, rec.ServeHTTP)
	provider := NewOllamaProvider(testBackendConfig(server.URL), fastDeps())

	if _, err := provider.Complete(context.Background(), toolRoundTrip()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	messages := rec.Last().Body["messages"].([]any)
	tool := messages[3].(map[string]any)
	if tool["role"] != "tool" || tool["tool_name"] != "current_time" {
		t.Errorf("Expected tool message named by lookup, got %v", tool)
	}
	assistant := messages[2].(map[string]any)
	if calls := assistant["tool_calls"].([]any); len(calls) != 2 {
		t.Errorf("Expected 2 tool calls on the assistant message, got %d", len(calls))
	}
}

func TestOllamaProvider_ModelNotFound(t *testing.T) {
	server := testHelpers.NewMockServer(t, testHelpers.ErrorHandler(http.StatusNotFound,
		`{"error":"model \"nope\" not found, try pulling it first"}`))
	provider := NewOllamaProvider(testBackendConfig(server.URL), fastDeps())

	_, err := provider.Complete(context.Background(), userMessages("hi"))
	if errors.KindOf(err) != errors.KindInvalidRequest {
		t.Errorf("Expected InvalidRequestError, got %v", err)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("Expected backend message in error, got %v", err)
	}
}

func TestOllamaProvider_ServerDownIsConnectionError(t *testing.T) {
	server := testHelpers.NewMockServer(t, testHelpers.OllamaStreamHandler("x"))
	url := server.URL
	server.Close()

	provider := NewOllamaProvider(testBackendConfig(url), fastDeps())
	_, err := provider.Complete(context.Background(), userMessages("hi"))
	if errors.KindOf(err) != errors.KindConnection {
		t.Errorf("Expected ConnectionError, got %v", err)
	}
}

func TestOllamaProvider_MissingDoneIsConnectionError(t *testing.T) {
	server := testHelpers.NewMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		testHelpers.SetNDJSONHeaders(w)
		testHelpers.WriteNDJSON(w, testHelpers.OllamaChunk("partial"))
	})
	provider := NewOllamaProvider(testBackendConfig(server.URL), fastDeps())

	_, err := provider.Complete(context.Background(), userMessages("hi"))
	if errors.KindOf(err) != errors.KindConnection {
		t.Errorf("Expected ConnectionError, got %v", err)
	}
}

func TestOllamaProvider_HealthReporter(t *testing.T) {
	server := testHelpers.NewMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Write([]byte("Ollama is running"))
		case "/api/tags":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"models":[{"name":"llama3.2:latest","size":2019393189,"modified_at":"2024-09-25T12:00:00Z"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	provider := NewOllamaProvider(testBackendConfig(server.URL), fastDeps())

	var reporter HealthReporter = provider
	if err := reporter.Heartbeat(context.Background()); err != nil {
		t.Fatalf("Expected heartbeat to succeed, got %v", err)
	}

	models, err := reporter.ListModels(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(models) != 1 || models[0].Name != "llama3.2:latest" || models[0].Size != 2019393189 {
		t.Errorf("Unexpected models %+v", models)
	}
}

func TestOllamaFinishReason(t *testing.T) {
	tests := map[string]llmtypes.FinishReason{
		"stop":   llmtypes.FinishStop,
		"load":   llmtypes.FinishStop,
		"length": llmtypes.FinishLength,
		"other":  llmtypes.FinishError,
	}
	for raw, want := range tests {
		if got := ollamaFinishReason(raw); got != want {
			t.Errorf("ollamaFinishReason(%q) = %s, want %s", raw, got, want)
		}
	}
}
