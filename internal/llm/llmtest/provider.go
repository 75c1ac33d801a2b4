// Package llmtest provides a scripted, deterministic llm.Provider for tests
// of code that drives conversations.
package llmtest

import (
	"context"
	"iter"
	"strings"
	"sync"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/errors"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/llm"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/llmtypes"
)

// Step is one scripted answer. Fragments is what StreamComplete yields; their
// concatenation is the Content Complete returns. Err, when set, fails the call.
type Step struct {
	Fragments []string
	ToolCalls []llmtypes.ToolCall
	Err       error
}

// Text returns a step answering with the given fragments
func Text(fragments ...string) Step {
	return Step{Fragments: fragments}
}

// Call records one request the provider received
type Call struct {
	Messages []llmtypes.Message
	Options  llm.CallOptions
}

// Provider replays Steps in order. When the script runs out, the last step
// repeats. It is safe for concurrent use.
type Provider struct {
	name string

	mu     sync.Mutex
	steps  []Step
	next   int
	calls  []Call
	closed bool
}

var _ llm.Provider = (*Provider)(nil)

// New creates a provider named "scripted"
func New(steps ...Step) *Provider {
	return NewNamed("scripted", steps...)
}

// NewNamed creates a provider reporting name
func NewNamed(name string, steps ...Step) *Provider {
	return &Provider{name: name, steps: steps}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return p.name
}

// Complete returns the next scripted answer
func (p *Provider) Complete(ctx context.Context, messages []llmtypes.Message, opts ...llm.CallOption) (*llmtypes.CompletionResult, error) {
	step, err := p.take(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	return result(p.name, step), nil
}

// StreamComplete yields the fragments of the next scripted answer
func (p *Provider) StreamComplete(ctx context.Context, messages []llmtypes.Message, opts ...llm.CallOption) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		step, err := p.take(ctx, messages, opts)
		if err != nil {
			yield("", err)
			return
		}
		for _, f := range step.Fragments {
			if ctx.Err() != nil {
				yield("", errors.NewProviderError(errors.KindGeneric, p.name, "request canceled", ctx.Err()))
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

// Close marks the provider closed; later calls fail
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Calls returns the recorded requests in order
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns how many requests were made
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *Provider) take(ctx context.Context, messages []llmtypes.Message, opts []llm.CallOption) (Step, error) {
	if err := ctx.Err(); err != nil {
		return Step{}, errors.NewProviderError(errors.KindGeneric, p.name, "request canceled", err)
	}

	var o llm.CallOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return Step{}, errors.NewProviderError(errors.KindGeneric, p.name, "provider is closed", nil)
	}

	copied := make([]llmtypes.Message, len(messages))
	for i, m := range messages {
		copied[i] = m.Clone()
	}
	p.calls = append(p.calls, Call{Messages: copied, Options: o})

	if err := llm.ValidateMessages(p.name, messages); err != nil {
		return Step{}, err
	}
	if err := llm.ValidateTools(p.name, o.Tools); err != nil {
		return Step{}, err
	}
	if len(p.steps) == 0 {
		return Step{}, errors.NewProviderError(errors.KindGeneric, p.name, "no scripted responses", nil)
	}

	idx := p.next
	if idx >= len(p.steps) {
		idx = len(p.steps) - 1
	} else {
		p.next++
	}
	step := p.steps[idx]
	if step.Err != nil {
		return Step{}, step.Err
	}
	return step, nil
}

func result(name string, step Step) *llmtypes.CompletionResult {
	finish := llmtypes.FinishStop
	var calls []llmtypes.ToolCall
	if len(step.ToolCalls) > 0 {
		finish = llmtypes.FinishToolCalls
		calls = make([]llmtypes.ToolCall, len(step.ToolCalls))
		for i, tc := range step.ToolCalls {
			calls[i] = tc.Clone()
		}
	}
	content := strings.Join(step.Fragments, "")
	tokens := len(step.Fragments)
	return &llmtypes.CompletionResult{
		Content:      content,
		Model:        name,
		TokensUsed:   tokens,
		FinishReason: finish,
		ToolCalls:    calls,
		Usage:        llmtypes.TokenUsage{OutputTokens: tokens, TotalTokens: tokens},
		Metadata:     map[string]any{"provider": name},
	}
}
