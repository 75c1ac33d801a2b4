package llm

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/errors"
)

func TestStatusError_KindMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   errors.Kind
	}{
		{"unauthorized", 401, `{"error":{"message":"bad key"}}`, errors.KindAuthentication},
		{"forbidden", 403, ``, errors.KindAuthentication},
		{"rate limited", 429, `{"error":{"message":"slow down"}}`, errors.KindRateLimit},
		{"anthropic overloaded", 529, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`, errors.KindRateLimit},
		{"bad request", 400, `{"error":{"message":"unknown model"}}`, errors.KindInvalidRequest},
		{"not found", 404, ``, errors.KindInvalidRequest},
		{"too large", 413, ``, errors.KindInvalidRequest},
		{"unprocessable", 422, ``, errors.KindInvalidRequest},
		{"request timeout", 408, ``, errors.KindTimeout},
		{"gateway timeout", 504, ``, errors.KindTimeout},
		{"bad gateway", 502, ``, errors.KindConnection},
		{"unavailable", 503, ``, errors.KindConnection},
		{"internal", 500, `oops`, errors.KindGeneric},
		{"quota as 400", 400, `{"error":{"code":"insufficient_quota","message":"quota"}}`, errors.KindRateLimit},
		{"gemini exhausted", 400, `{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`, errors.KindRateLimit},
		{"invalid key as 400", 400, `{"error":{"code":"invalid_api_key","message":"nope"}}`, errors.KindAuthentication},
		{"gemini unauthenticated", 400, `{"error":{"code":400,"message":"API key not valid","status":"UNAUTHENTICATED"}}`, errors.KindAuthentication},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := statusError("test", tt.status, nil, []byte(tt.body))
			if err.Kind != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, err.Kind)
			}
			if err.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, err.StatusCode)
			}
			if err.Provider != "test" {
				t.Errorf("Expected provider 'test', got %q", err.Provider)
			}
		})
	}
}

func TestParseErrorBody(t *testing.T) {
	tests := []struct {
		body        string
		wantMessage string
		wantType    string
	}{
		{`{"error":"model not found"}`, "model not found", ""},
		{`{"error":{"message":"m","type":"invalid_request_error"}}`, "m", "invalid_request_error"},
		{`{"type":"error","error":{"type":"rate_limit_error","message":"r"}}`, "r", "rate_limit_error"},
		{`plain text failure`, "plain text failure", ""},
	}
	for _, tt := range tests {
		message, errType := parseErrorBody([]byte(tt.body))
		if message != tt.wantMessage || errType != tt.wantType {
			t.Errorf("parseErrorBody(%s) = (%q, %q), want (%q, %q)", tt.body, message, errType, tt.wantMessage, tt.wantType)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	h := http.Header{}
	if got := parseRetryAfter(h); got != 0 {
		t.Errorf("Expected 0 without header, got %v", got)
	}

	h.Set("Retry-After", "2")
	if got := parseRetryAfter(h); got != 2*time.Second {
		t.Errorf("Expected 2s, got %v", got)
	}

	h.Set("Retry-After-Ms", "150")
	if got := parseRetryAfter(h); got != 150*time.Millisecond {
		t.Errorf("Expected Retry-After-Ms to win, got %v", got)
	}

	date := http.Header{}
	date.Set("Retry-After", time.Now().Add(10*time.Second).UTC().Format(http.TimeFormat))
	if got := parseRetryAfter(date); got <= 0 || got > 11*time.Second {
		t.Errorf("Expected about 10s from HTTP date, got %v", got)
	}

	bad := http.Header{}
	bad.Set("Retry-After", "soon")
	if got := parseRetryAfter(bad); got != 0 {
		t.Errorf("Expected 0 for unparsable value, got %v", got)
	}
}

func TestStatusError_CarriesRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "3")
	err := statusError("openai", 429, h, nil)

	if errors.RetryAfterOf(err) != 3*time.Second {
		t.Errorf("Expected 3s retry-after, got %v", errors.RetryAfterOf(err))
	}
	if !stderrors.Is(err, errors.ErrRateLimit) {
		t.Error("Expected errors.Is to match ErrRateLimit")
	}
}

func TestStreamError_Mapping(t *testing.T) {
	ctx := context.Background()

	if k := errors.KindOf(streamError("p", ctx, fmt.Errorf("cut: %w", io.ErrUnexpectedEOF))); k != errors.KindConnection {
		t.Errorf("Expected ConnectionError for truncated stream, got %s", k)
	}
	if k := errors.KindOf(streamError("p", ctx, fmt.Errorf("bad json"))); k != errors.KindGeneric {
		t.Errorf("Expected GenericError for undecodable stream, got %s", k)
	}

	typed := errors.NewProviderError(errors.KindRateLimit, "p", "in-stream", nil)
	if got := streamError("p", ctx, typed); got != error(typed) {
		t.Errorf("Expected typed error to pass through, got %v", got)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if k := errors.KindOf(streamError("p", canceled, io.ErrUnexpectedEOF)); k != errors.KindGeneric {
		t.Errorf("Expected GenericError after cancel, got %s", k)
	}
}

func TestContextError(t *testing.T) {
	if k := contextError("p", context.DeadlineExceeded).Kind; k != errors.KindTimeout {
		t.Errorf("Expected TimeoutError for deadline, got %s", k)
	}
	err := contextError("p", context.Canceled)
	if err.Kind != errors.KindGeneric {
		t.Errorf("Expected GenericError for cancel, got %s", err.Kind)
	}
	if !stderrors.Is(err, context.Canceled) {
		t.Error("Expected cancel error to wrap context.Canceled")
	}
}
