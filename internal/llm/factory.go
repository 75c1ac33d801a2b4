package llm

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/config"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/errors"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/llmcache"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/logging"
	"github.com/AR6420/macos-siri-2.0-sub002/internal/metrics"
)

// Constructor builds a provider from resolved backend settings
type Constructor func(cfg config.BackendConfig, deps Deps) (Provider, error)

// Registration describes how to build one backend kind
type Registration struct {
	Constructor Constructor
	// RequiresCredential makes a missing api_key/api_key_env an error
	RequiresCredential bool
	// Defaults fill settings the configuration leaves empty
	Defaults config.BackendConfig
}

// Factory creates providers from configuration. Each factory owns its
// registrations; there is no global registry.
type Factory struct {
	mu            sync.RWMutex
	registrations map[string]Registration

	logger   *logging.Logger
	retry    *RetryPolicy
	metrics  *metrics.Metrics
	cache    *llmcache.LRUCache
	cacheTTL time.Duration
	lookup   func(string) (string, bool)
}

// FactoryOption configures a Factory
type FactoryOption func(*Factory)

// WithLogger sets the logger handed to providers
func WithLogger(logger *logging.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithRetryPolicy overrides the retry policy taken from the configuration
func WithRetryPolicy(policy RetryPolicy) FactoryOption {
	return func(f *Factory) {
		f.retry = &policy
	}
}

// WithMetrics wraps created providers with request metrics
func WithMetrics(m *metrics.Metrics) FactoryOption {
	return func(f *Factory) {
		f.metrics = m
	}
}

// WithCache wraps created providers with a response cache. The cache is
// shared by every provider the factory builds; keys include the backend kind.
func WithCache(cache *llmcache.LRUCache, ttl time.Duration) FactoryOption {
	return func(f *Factory) {
		f.cache = cache
		f.cacheTTL = ttl
	}
}

// WithEnvLookup replaces os.LookupEnv for credential resolution
func WithEnvLookup(lookup func(string) (string, bool)) FactoryOption {
	return func(f *Factory) {
		f.lookup = lookup
	}
}

// NewFactory creates a factory with the built-in backends registered
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		registrations: make(map[string]Registration),
		lookup:        os.LookupEnv,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = logging.OrNop(f.logger)

	for kind, reg := range builtinRegistrations() {
		f.registrations[kind] = reg
	}
	return f
}

func builtinRegistrations() map[string]Registration {
	defaults := func(kind string) config.BackendConfig {
		d, _ := config.BuiltinBackendDefaults(kind)
		return d
	}
	return map[string]Registration{
		config.BackendOllama: {
			Constructor: func(cfg config.BackendConfig, deps Deps) (Provider, error) {
				return NewOllamaProvider(cfg, deps), nil
			},
			Defaults: defaults(config.BackendOllama),
		},
		config.BackendOpenAI: {
			Constructor: func(cfg config.BackendConfig, deps Deps) (Provider, error) {
				return NewOpenAIProvider(cfg, deps), nil
			},
			RequiresCredential: true,
			Defaults:           defaults(config.BackendOpenAI),
		},
		config.BackendAnthropic: {
			Constructor: func(cfg config.BackendConfig, deps Deps) (Provider, error) {
				return NewAnthropicProvider(cfg, deps), nil
			},
			RequiresCredential: true,
			Defaults:           defaults(config.BackendAnthropic),
		},
		config.BackendGemini: {
			Constructor: func(cfg config.BackendConfig, deps Deps) (Provider, error) {
				return NewGeminiProvider(cfg, deps), nil
			},
			RequiresCredential: true,
			Defaults:           defaults(config.BackendGemini),
		},
	}
}

// Register adds a backend kind. Kinds cannot be replaced.
func (f *Factory) Register(kind string, reg Registration) error {
	if kind == "" {
		return errors.NewConfigurationError("cannot register a backend without a kind")
	}
	if reg.Constructor == nil {
		return errors.NewConfigurationError(fmt.Sprintf("backend %q has no constructor", kind))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.registrations[kind]; exists {
		return errors.NewConfigurationError(fmt.Sprintf("backend %q is already registered", kind))
	}
	f.registrations[kind] = reg
	return nil
}

// SupportedBackends returns the registered kinds, sorted
func (f *Factory) SupportedBackends() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	kinds := make([]string, 0, len(f.registrations))
	for kind := range f.registrations {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// CreateFromConfig validates cfg and builds a provider for the selected
// backend. Every call returns a new provider with its own connection pool.
func (f *Factory) CreateFromConfig(cfg *config.Config) (Provider, error) {
	if cfg == nil {
		return nil, errors.NewConfigurationError("no configuration given")
	}
	if cfg.Backend == "" {
		return nil, errors.NewConfigurationError("no backend selected: set 'backend' in the configuration")
	}

	f.mu.RLock()
	reg, ok := f.registrations[cfg.Backend]
	f.mu.RUnlock()
	if !ok {
		return nil, errors.NewUnknownBackendError(cfg.Backend, f.SupportedBackends())
	}

	// A kind without a backends entry runs on its registered defaults
	active := config.ProviderConfig{Kind: cfg.Backend, Settings: cfg.Backends[cfg.Backend].Clone()}
	settings := config.MergeBackendDefaults(active.Settings, reg.Defaults)

	// Only the sections a provider reads are checked, against the merged
	// settings so registered defaults count
	if err := config.ValidateBackend(active.Kind, settings); err != nil {
		return nil, err
	}
	if err := config.ValidateRetry(cfg.Retry); err != nil {
		return nil, err
	}

	key, inline, err := config.ResolveAPIKey(active.Kind, settings, f.lookup)
	if err != nil {
		return nil, err
	}
	if inline {
		f.logger.Warn("Using inline api_key from configuration; prefer api_key_env",
			logging.String("backend", active.Kind))
	}
	if reg.RequiresCredential && key == "" {
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("backend %q requires a credential: set backends.%s.api_key_env", active.Kind, active.Kind))
	}
	settings.APIKey = key

	provider, err := reg.Constructor(settings, Deps{
		Logger: f.logger,
		Retry:  f.retryPolicy(cfg.Retry),
	})
	if err != nil {
		return nil, err
	}

	f.logger.Debug("Created provider", logging.Provider(active.Kind, settings.Model))

	if f.cache != nil && cfg.Cache.Enabled {
		ttl := f.cacheTTL
		if ttl <= 0 {
			ttl = cfg.Cache.GetTTL()
		}
		provider = NewCachedProvider(provider, settings, f.cache, ttl, f.metrics, f.logger)
	}
	if f.metrics != nil {
		provider = NewInstrumentedProvider(provider, f.metrics)
	}
	return provider, nil
}

func (f *Factory) retryPolicy(cfg config.RetryConfig) RetryPolicy {
	policy := RetryPolicyFromConfig(cfg)
	if f.retry != nil {
		policy = *f.retry
	}
	if f.metrics != nil {
		m := f.metrics
		next := policy.OnRetry
		policy.OnRetry = func(provider string, attempt int, err error, delay time.Duration) {
			m.ObserveRetry(provider, errors.KindOf(err).String())
			if next != nil {
				next(provider, attempt, err, delay)
			}
		}
	}
	return policy
}

// Unwrap strips decorators and returns the provider that talks to the backend
func Unwrap(p Provider) Provider {
	for {
		w, ok := p.(interface{ Unwrap() Provider })
		if !ok {
			return p
		}
		p = w.Unwrap()
	}
}
