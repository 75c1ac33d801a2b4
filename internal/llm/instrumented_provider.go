package llm

import (
	"context"
	"iter"
	"time"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/errors"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/metrics"
)

// InstrumentedProvider records request metrics around a Provider
type InstrumentedProvider struct {
	provider Provider
	metrics  *metrics.Metrics
}

var _ Provider = (*InstrumentedProvider)(nil)

// NewInstrumentedProvider wraps provider
func NewInstrumentedProvider(provider Provider, m *metrics.Metrics) *InstrumentedProvider {
	return &InstrumentedProvider{provider: provider, metrics: m}
}

// Name returns the name of the wrapped provider
func (p *InstrumentedProvider) Name() string {
	return p.provider.Name()
}

// Complete delegates and records the outcome, latency and token usage
func (p *InstrumentedProvider) Complete(ctx context.Context, messages []Message, opts ...CallOption) (*CompletionResult, error) {
	start := time.Now()
	result, err := p.provider.Complete(ctx, messages, opts...)
	p.metrics.ObserveRequest(p.Name(), "complete", outcome(err), time.Since(start))
	if err == nil {
		if cached, _ := result.Metadata["cached"].(bool); !cached {
			p.metrics.ObserveTokens(p.Name(), result.Usage.InputTokens, result.Usage.OutputTokens)
		}
	}
	return result, err
}

// StreamComplete delegates and counts fragments. The request is recorded when
// the stream ends, including when the consumer stops early.
func (p *InstrumentedProvider) StreamComplete(ctx context.Context, messages []Message, opts ...CallOption) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		start := time.Now()
		var streamErr error
		defer func() {
			p.metrics.ObserveRequest(p.Name(), "stream", outcome(streamErr), time.Since(start))
		}()

		for fragment, err := range p.provider.StreamComplete(ctx, messages, opts...) {
			if err != nil {
				streamErr = err
			} else {
				p.metrics.ObserveFragment(p.Name())
			}
			if !yield(fragment, err) {
				return
			}
		}
	}
}

// Close closes the wrapped provider
func (p *InstrumentedProvider) Close() error {
	return p.provider.Close()
}

// Unwrap returns the wrapped provider
func (p *InstrumentedProvider) Unwrap() Provider {
	return p.provider
}

func outcome(err error) string {
	if err == nil {
		return metrics.OutcomeOK
	}
	return errors.KindOf(err).String()
}
