package llm

import (
	"context"
	"iter"
	"time"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/config"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/llmcache"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/llmtypes"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/logging"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/metrics"
)

// CachedProvider wraps a Provider with an in-memory response cache.
// Only Complete is cached; streams always reach the backend.
type CachedProvider struct {
	provider Provider
	cfg      config.BackendConfig
	cache    *llmcache.LRUCache
	ttl      time.Duration
	metrics  *metrics.Metrics
	logger   *logging.Logger
}

var _ Provider = (*CachedProvider)(nil)

// NewCachedProvider wraps provider. cfg supplies the model, temperature and
// token limit a call falls back to, which are part of the cache key.
func NewCachedProvider(provider Provider, cfg config.BackendConfig, cache *llmcache.LRUCache, ttl time.Duration, m *metrics.Metrics, logger *logging.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = llmcache.DefaultTTL
	}
	return &CachedProvider{
		provider: provider,
		cfg:      cfg,
		cache:    cache,
		ttl:      ttl,
		metrics:  m,
		logger:   logging.OrNop(logger),
	}
}

// Name returns the name of the wrapped provider
func (c *CachedProvider) Name() string {
	return c.provider.Name()
}

// Complete returns a cached result when an identical request was answered
// before. Hits carry Metadata["cached"] = true.
func (c *CachedProvider) Complete(ctx context.Context, messages []Message, opts ...CallOption) (*CompletionResult, error) {
	key, err := c.key(messages, opts)
	if err != nil {
		c.logger.Debug("Bypassing cache", logging.Error(err))
		return c.provider.Complete(ctx, messages, opts...)
	}

	if cached, ok := c.cache.Get(key); ok {
		c.metrics.ObserveCache(c.Name(), true)
		result := cached.CompletionResult()
		if result.Metadata == nil {
			result.Metadata = map[string]any{}
		}
		result.Metadata["cached"] = true
		return result, nil
	}
	c.metrics.ObserveCache(c.Name(), false)

	result, err := c.provider.Complete(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	if result.FinishReason != llmtypes.FinishError {
		c.cache.Put(key, llmcache.NewCachedResponse(key, result, c.ttl))
	}
	return result, nil
}

// StreamComplete delegates to the wrapped provider
func (c *CachedProvider) StreamComplete(ctx context.Context, messages []Message, opts ...CallOption) iter.Seq2[string, error] {
	return c.provider.StreamComplete(ctx, messages, opts...)
}

// Close closes the wrapped provider
func (c *CachedProvider) Close() error {
	return c.provider.Close()
}

// Stats returns the cache statistics
func (c *CachedProvider) Stats() llmcache.CacheStats {
	return c.cache.Stats()
}

// Unwrap returns the wrapped provider
func (c *CachedProvider) Unwrap() Provider {
	return c.provider
}

func (c *CachedProvider) key(messages []Message, opts []CallOption) (string, error) {
	o := applyOptions(opts)
	model := c.cfg.Model
	if o.Model != "" {
		model = o.Model
	}
	temperature := c.cfg.Temperature
	if o.Temperature != nil {
		temperature = *o.Temperature
	}
	maxTokens := c.cfg.GetMaxTokens()
	if o.MaxTokens > 0 {
		maxTokens = o.MaxTokens
	}
	return llmcache.GenerateCacheKey(
		llmcache.NewKeyRequest(c.Name(), model, messages, o.Tools, temperature, maxTokens))
}
