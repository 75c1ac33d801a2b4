package llm

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/config"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/errors"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/llmtypes"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/logging"
)

// callSettings are the resolved parameters of one request: call options
// layered over the backend configuration
type callSettings struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Tools       []ToolDefinition
}

// backend is what each concrete provider supplies to baseProvider
type backend interface {
	buildRequest(messages []Message, s callSettings) (*wireRequest, error)
	decodeStream(body io.Reader, sink *streamSink) error
}

// baseProvider implements Complete and StreamComplete on top of a backend.
// Both paths decode the same wire stream, so the concatenated fragments of
// StreamComplete always equal the Content of Complete.
type baseProvider struct {
	name      string
	cfg       config.BackendConfig
	transport *httpTransport
	retry     RetryPolicy
	logger    *logging.Logger
	backend   backend
}

// Deps are the collaborators the factory hands to every provider constructor
type Deps struct {
	Logger *logging.Logger
	Retry  RetryPolicy
}

func newBaseProvider(name string, cfg config.BackendConfig, deps Deps, b backend) *baseProvider {
	logger := logging.OrNop(deps.Logger).Named(name)
	retry := deps.Retry
	if retry.MaxAttempts == 0 && retry.BaseDelay == 0 {
		retry = DefaultRetryPolicy()
	}
	if retry.Logger == nil {
		retry.Logger = logger
	}
	return &baseProvider{
		name:      name,
		cfg:       cfg,
		transport: newHTTPTransport(name, cfg, logger),
		retry:     retry.ForProvider(name),
		logger:    logger,
		backend:   b,
	}
}

// Name returns the backend kind
func (p *baseProvider) Name() string {
	return p.name
}

// Close releases idle connections; it is safe to call more than once
func (p *baseProvider) Close() error {
	p.transport.close()
	return nil
}

func (p *baseProvider) settings(opts []CallOption) callSettings {
	o := applyOptions(opts)
	s := callSettings{
		Model:       p.cfg.Model,
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.GetMaxTokens(),
		Tools:       o.Tools,
	}
	if o.Model != "" {
		s.Model = o.Model
	}
	if o.Temperature != nil {
		s.Temperature = *o.Temperature
	}
	if o.MaxTokens > 0 {
		s.MaxTokens = o.MaxTokens
	}
	return s
}

func (p *baseProvider) prepare(messages []Message, opts []CallOption) (*wireRequest, callSettings, error) {
	if p.transport.isClosed() {
		return nil, callSettings{}, errors.NewProviderError(errors.KindGeneric, p.name, "provider is closed", nil)
	}
	s := p.settings(opts)
	if err := ValidateMessages(p.name, messages); err != nil {
		return nil, s, err
	}
	if err := ValidateTools(p.name, s.Tools); err != nil {
		return nil, s, err
	}
	if s.Temperature < 0 || s.Temperature > 1 {
		return nil, s, errors.NewProviderError(errors.KindInvalidRequest, p.name, "temperature must be between 0.0 and 1.0", nil)
	}
	req, err := p.backend.buildRequest(messages, s)
	if err != nil {
		return nil, s, err
	}
	return req, s, nil
}

// Complete sends messages and returns the accumulated result. The whole
// exchange, including reading the stream, runs under the retry policy since
// nothing has been handed to the caller yet.
func (p *baseProvider) Complete(ctx context.Context, messages []Message, opts ...CallOption) (*CompletionResult, error) {
	req, s, err := p.prepare(messages, opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	p.logger.Debug("Starting completion",
		logging.String("model", s.Model),
		logging.Int("messages", len(messages)),
		logging.Int("tools", len(s.Tools)),
	)

	var result *CompletionResult
	err = p.retry.Do(ctx, func(ctx context.Context) error {
		resp, err := p.transport.open(ctx, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		sink := newStreamSink(p.name, s.Model, nil)
		if err := p.backend.decodeStream(resp.Body, sink); err != nil {
			return streamError(p.name, ctx, err)
		}
		result = sink.result()
		return nil
	})
	if err != nil {
		p.logger.Debug("Completion failed",
			logging.Duration("elapsed", time.Since(start)),
			logging.Error(err),
		)
		return nil, err
	}

	p.logger.Debug("Completion finished",
		logging.Duration("elapsed", time.Since(start)),
		logging.String("finish_reason", string(result.FinishReason)),
		logging.Int("tokens", result.TokensUsed),
		logging.Int("tool_calls", len(result.ToolCalls)),
	)
	return result, nil
}

// StreamComplete yields text fragments as they arrive. Only opening the
// connection is retried; once a fragment was yielded a failure is reported as
// the last element.
func (p *baseProvider) StreamComplete(ctx context.Context, messages []Message, opts ...CallOption) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		req, s, err := p.prepare(messages, opts)
		if err != nil {
			yield("", err)
			return
		}

		var body io.ReadCloser
		err = p.retry.Do(ctx, func(ctx context.Context) error {
			resp, err := p.transport.open(ctx, req)
			if err != nil {
				return err
			}
			body = resp.Body
			return nil
		})
		if err != nil {
			yield("", err)
			return
		}
		defer body.Close()

		stopped := false
		sink := newStreamSink(p.name, s.Model, func(fragment string) bool {
			if !yield(fragment, nil) {
				stopped = true
				return false
			}
			return true
		})
		err = p.backend.decodeStream(body, sink)
		if stopped {
			return
		}
		if err != nil {
			yield("", streamError(p.name, ctx, err))
		}
	}
}

// streamSink accumulates a result while forwarding text fragments
type streamSink struct {
	provider  string
	model     string
	emit      func(string) bool
	content   strings.Builder
	toolCalls []ToolCall
	finish    llmtypes.FinishReason
	rawFinish string
	usage     TokenUsage
	metadata  map[string]any
}

func newStreamSink(provider, model string, emit func(string) bool) *streamSink {
	return &streamSink{
		provider: provider,
		model:    model,
		emit:     emit,
		metadata: map[string]any{"provider": provider},
	}
}

// text records a fragment and forwards it. It returns false when the consumer
// stopped iterating and decoding should end.
func (s *streamSink) text(fragment string) bool {
	if fragment == "" {
		return true
	}
	s.content.WriteString(fragment)
	if s.emit == nil {
		return true
	}
	return s.emit(fragment)
}

func (s *streamSink) addToolCall(tc ToolCall) {
	if tc.ID == "" {
		tc.ID = newToolCallID()
	}
	if tc.Arguments == nil {
		tc.Arguments = map[string]any{}
	}
	s.toolCalls = append(s.toolCalls, tc)
}

func (s *streamSink) setFinish(reason llmtypes.FinishReason, raw string) {
	s.finish = reason
	s.rawFinish = raw
}

func (s *streamSink) setModel(model string) {
	if model != "" {
		s.model = model
	}
}

func (s *streamSink) result() *CompletionResult {
	finish := s.finish
	switch {
	case len(s.toolCalls) > 0:
		finish = llmtypes.FinishToolCalls
	case finish == "":
		finish = llmtypes.FinishStop
	}
	if s.rawFinish != "" {
		s.metadata["raw_finish_reason"] = s.rawFinish
	}

	usage := s.usage
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}

	return &CompletionResult{
		Content:      s.content.String(),
		Model:        s.model,
		TokensUsed:   usage.TotalTokens,
		FinishReason: finish,
		ToolCalls:    s.toolCalls,
		Usage:        usage,
		Metadata:     s.metadata,
	}
}

func newToolCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// parseArguments decodes the JSON object a backend sent as tool arguments
func parseArguments(provider, raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, errors.NewProviderError(errors.KindGeneric, provider, "tool call arguments are not a JSON object", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// toolResultNames maps tool_call_id to tool name for every assistant tool
// call in messages. Backends that address tool results by name use it when
// a tool message carries no name.
func toolResultNames(messages []Message) map[string]string {
	names := make(map[string]string)
	for _, msg := range messages {
		if msg.Role != RoleAssistant {
			continue
		}
		for _, tc := range msg.ToolCalls {
			names[tc.ID] = tc.Name
		}
	}
	return names
}

// splitSystem separates system messages from the rest of the history
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if msg.Content != "" {
				system = append(system, msg.Content)
			}
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(system, "\n\n"), rest
}

func trimBaseURL(u string) string {
	return strings.TrimRight(u, "/")
}
