package llm

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/config"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/errors"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/logging"
)

// RetryPolicy retries transient provider failures with exponential backoff.
//
// The delay after failed attempt n is BaseDelay * 2^n, capped at MaxDelay and
// never shorter than a Retry-After the backend sent. A Retry-After longer than
// MaxDelay is not waited out: the error is returned at once so the caller sees
// it. Only connection, timeout and rate-limit failures are retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	Logger *logging.Logger
	// OnRetry is called before each wait, e.g. to count retries
	OnRetry func(provider string, attempt int, err error, delay time.Duration)

	provider string
}

// DefaultRetryPolicy returns the default retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// RetryPolicyFromConfig builds a policy from the retry section of the config
func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.GetMaxAttempts(),
		BaseDelay:   cfg.GetBaseDelay(),
		MaxDelay:    cfg.GetMaxDelay(),
	}
}

// ForProvider returns a copy of the policy that tags logs and errors with provider
func (p RetryPolicy) ForProvider(provider string) RetryPolicy {
	p.provider = provider
	return p
}

func (p RetryPolicy) maxDelay() time.Duration {
	if p.MaxDelay <= 0 {
		return 30 * time.Second
	}
	return p.MaxDelay
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff returns the wait after failed attempt n (1-based)
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	maxDelay := p.maxDelay()
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 0; i < n; i++ {
		delay *= 2
		if delay >= maxDelay || delay <= 0 {
			return maxDelay
		}
	}
	return delay
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. The last error is returned with its kind unchanged.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	maxAttempts := p.attempts()
	logger := logging.OrNop(p.Logger)

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		if !errors.IsRetryable(err) || attempt >= maxAttempts {
			recordAttempts(err, attempt, maxAttempts)
			return err
		}
		if ctx.Err() != nil {
			return contextError(p.provider, ctx.Err())
		}

		delay := p.Backoff(attempt)
		if retryAfter := errors.RetryAfterOf(err); retryAfter > delay {
			if retryAfter > p.maxDelay() {
				logger.Warn("Retry-After exceeds the maximum retry delay, giving up",
					logging.String("provider", p.provider),
					logging.Int("attempt", attempt),
					logging.Duration("retry_after", retryAfter),
					logging.Duration("max_delay", p.maxDelay()),
				)
				recordAttempts(err, attempt, maxAttempts)
				return err
			}
			delay = retryAfter
		}

		logger.Warn("Retrying LLM request",
			logging.String("provider", p.provider),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", maxAttempts),
			logging.String("kind", errors.KindOf(err).String()),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
		if p.OnRetry != nil {
			p.OnRetry(p.provider, attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return contextError(p.provider, ctx.Err())
		case <-timer.C:
		}
	}
}

func recordAttempts(err error, attempt, maxAttempts int) {
	var pe *errors.ProviderError
	if stderrors.As(err, &pe) && pe.AppError != nil && pe.Kind.Retryable() {
		pe.RecordAttempts(attempt, maxAttempts)
	}
}
