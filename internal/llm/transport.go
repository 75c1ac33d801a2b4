package llm

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/config"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/errors"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/logging"
)

const maxErrorBody = 64 << 10

// wireRequest is a backend request ready to be sent
type wireRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any
}

// httpTransport owns the HTTP client of one provider
type httpTransport struct {
	provider string
	client   *http.Client
	rt       *http.Transport
	limiter  *rate.Limiter
	headers  map[string]string
	logger   *logging.Logger
	closed   atomic.Bool
}

func newHTTPTransport(provider string, cfg config.BackendConfig, logger *logging.Logger) *httpTransport {
	rt := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	t := &httpTransport{
		provider: provider,
		client: &http.Client{
			Transport: rt,
			Timeout:   cfg.GetTimeout(),
		},
		rt:      rt,
		headers: cfg.Clone().Headers,
		logger:  logging.OrNop(logger),
	}
	if cfg.RequestsPerMinute > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}
	return t
}

// open sends req and returns the response once the backend answered with a
// success status. Error statuses are mapped into the error taxonomy. The
// caller must close resp.Body.
func (t *httpTransport) open(ctx context.Context, req *wireRequest) (*http.Response, error) {
	if t.closed.Load() {
		return nil, errors.NewProviderError(errors.KindGeneric, t.provider, "provider is closed", nil)
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, contextError(t.provider, ctx.Err())
			}
			return nil, errors.NewProviderError(errors.KindRateLimit, t.provider, "client-side rate limit exceeded", err)
		}
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, errors.NewProviderError(errors.KindInvalidRequest, t.provider, "failed to marshal request", err)
		}
		body = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, errors.NewProviderError(errors.KindInvalidRequest, t.provider, "failed to create request", err)
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, value := range t.headers {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, transportError(t.provider, ctx, err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		perr := statusError(t.provider, resp.StatusCode, resp.Header, data)
		t.logger.Debug("Backend returned error status",
			logging.String("provider", t.provider),
			logging.Int("status", resp.StatusCode),
			logging.String("kind", perr.Kind.String()),
		)
		return nil, perr
	}

	return resp, nil
}

// getJSON issues a GET and decodes the JSON body into v
func (t *httpTransport) getJSON(ctx context.Context, url string, headers map[string]string, v any) error {
	resp, err := t.open(ctx, &wireRequest{Method: http.MethodGet, URL: url, Headers: headers})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errors.NewProviderError(errors.KindGeneric, t.provider, "failed to decode response", err)
	}
	return nil
}

func (t *httpTransport) close() {
	if t.closed.CompareAndSwap(false, true) {
		t.rt.CloseIdleConnections()
	}
}

func (t *httpTransport) isClosed() bool {
	return t.closed.Load()
}

// statusError maps an HTTP error response into the error taxonomy. The body
// is inspected for the error type backends put next to the status.
func statusError(provider string, status int, header http.Header, body []byte) *errors.ProviderError {
	message, errType := parseErrorBody(body)
	if message == "" {
		message = http.StatusText(status)
		if message == "" {
			message = fmt.Sprintf("status %d", status)
		}
	}

	kind := kindForStatus(status)
	switch errType {
	case "overloaded_error", "rate_limit_error", "RESOURCE_EXHAUSTED", "insufficient_quota", "rate_limit_exceeded":
		kind = errors.KindRateLimit
	case "authentication_error", "permission_error", "UNAUTHENTICATED", "PERMISSION_DENIED", "invalid_api_key":
		kind = errors.KindAuthentication
	}

	return errors.NewProviderError(kind, provider, message, nil).
		WithStatus(status).
		WithRetryAfter(parseRetryAfter(header))
}

// errorFromEvent maps an error object a backend delivered inside a stream
// after answering 200
func errorFromEvent(provider string, data []byte) *errors.ProviderError {
	return statusError(provider, 0, nil, data)
}

func kindForStatus(status int) errors.Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.KindAuthentication
	case http.StatusTooManyRequests, 529:
		return errors.KindRateLimit
	case http.StatusBadRequest, http.StatusNotFound, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return errors.KindInvalidRequest
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return errors.KindTimeout
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return errors.KindConnection
	default:
		return errors.KindGeneric
	}
}

// parseErrorBody extracts the message and type from the error envelopes the
// supported backends use:
//
//	OpenAI:    {"error": {"message": "...", "type": "...", "code": "..."}}
//	Anthropic: {"type": "error", "error": {"type": "...", "message": "..."}}
//	Gemini:    {"error": {"code": 429, "message": "...", "status": "RESOURCE_EXHAUSTED"}}
//	Ollama:    {"error": "..."}
func parseErrorBody(body []byte) (message, errType string) {
	if !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body)), ""
	}
	parsed := gjson.ParseBytes(body)
	errField := parsed.Get("error")
	if errField.Type == gjson.String {
		return errField.String(), ""
	}

	message = errField.Get("message").String()
	if message == "" {
		message = parsed.Get("message").String()
	}
	for _, path := range []string{"error.code", "error.type", "error.status"} {
		if v := parsed.Get(path); v.Type == gjson.String && v.String() != "" {
			errType = v.String()
			if isKnownErrorType(errType) {
				break
			}
		}
	}
	return message, errType
}

func isKnownErrorType(t string) bool {
	switch t {
	case "overloaded_error", "rate_limit_error", "RESOURCE_EXHAUSTED", "insufficient_quota", "rate_limit_exceeded",
		"authentication_error", "permission_error", "UNAUTHENTICATED", "PERMISSION_DENIED", "invalid_api_key":
		return true
	}
	return false
}

// parseRetryAfter reads Retry-After (seconds or HTTP date) and the
// millisecond variant some backends send
func parseRetryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	if ms := header.Get("Retry-After-Ms"); ms != "" {
		if v, err := strconv.ParseFloat(ms, 64); err == nil && v > 0 {
			return time.Duration(v * float64(time.Millisecond))
		}
	}
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// transportError maps a failure to reach the backend
func transportError(provider string, ctx context.Context, err error) *errors.ProviderError {
	if ctx.Err() != nil {
		return contextError(provider, ctx.Err())
	}

	var netErr net.Error
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewProviderError(errors.KindTimeout, provider, "request timed out", err)
	case stderrors.As(err, &netErr) && netErr.Timeout():
		return errors.NewProviderError(errors.KindTimeout, provider, "request timed out", err)
	case stderrors.Is(err, context.Canceled):
		return errors.NewProviderError(errors.KindGeneric, provider, "request canceled", err)
	default:
		return errors.NewProviderError(errors.KindConnection, provider, "failed to reach backend", err)
	}
}

// streamError maps a failure while reading a response body. Errors that are
// already typed pass through.
func streamError(provider string, ctx context.Context, err error) error {
	var pe *errors.ProviderError
	if stderrors.As(err, &pe) {
		return err
	}
	if ctx.Err() != nil {
		return contextError(provider, ctx.Err())
	}

	var netErr net.Error
	switch {
	case stderrors.Is(err, context.DeadlineExceeded),
		stderrors.As(err, &netErr) && netErr.Timeout():
		return errors.NewProviderError(errors.KindTimeout, provider, "stream timed out", err)
	case stderrors.Is(err, io.ErrUnexpectedEOF),
		stderrors.Is(err, syscall.ECONNRESET),
		stderrors.Is(err, net.ErrClosed):
		return errors.NewProviderError(errors.KindConnection, provider, "stream interrupted", err)
	default:
		return errors.NewProviderError(errors.KindGeneric, provider, "failed to decode response", err)
	}
}

// contextError maps the end of the caller's context. A deadline is a
// timeout; an explicit cancel is not something to retry.
func contextError(provider string, err error) *errors.ProviderError {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewProviderError(errors.KindTimeout, provider, "deadline exceeded", err)
	}
	return errors.NewProviderError(errors.KindGeneric, provider, "request canceled", err)
}
