package metrics

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AR6420/macos-siri-2.0-sub002/internal/logging"
)

const namespace = "assistant_llm"

// Outcome label of a successful request
const OutcomeOK = "ok"

// Metrics holds the collectors of the inference layer. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	retries         *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	tokens          *prometheus.CounterVec
	streamFragments *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
}

// New creates the collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Completion requests by backend, mode and outcome kind.",
			},
			[]string{"backend", "mode", "outcome"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Retries of transient failures by backend and error kind.",
			},
			[]string{"backend", "kind"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Completion latency in seconds.",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"backend", "mode"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Tokens reported by backends, by direction.",
			},
			[]string{"backend", "direction"},
		),
		streamFragments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_fragments_total",
				Help:      "Text fragments delivered by streaming completions.",
			},
			[]string{"backend"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Response cache lookups by result.",
			},
			[]string{"backend", "result"},
		),
	}

	m.registry.MustRegister(
		m.requests,
		m.retries,
		m.latency,
		m.tokens,
		m.streamFragments,
		m.cacheLookups,
	)
	return m
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records one finished completion. outcome is OutcomeOK or the
// name of the error kind.
func (m *Metrics) ObserveRequest(backend, mode, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(backend, mode, outcome).Inc()
	m.latency.WithLabelValues(backend, mode).Observe(elapsed.Seconds())
}

// ObserveRetry records a retry of a transient failure
func (m *Metrics) ObserveRetry(backend, kind string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(backend, kind).Inc()
}

// ObserveTokens records token usage of one completion
func (m *Metrics) ObserveTokens(backend string, input, output int) {
	if m == nil {
		return
	}
	if input > 0 {
		m.tokens.WithLabelValues(backend, "input").Add(float64(input))
	}
	if output > 0 {
		m.tokens.WithLabelValues(backend, "output").Add(float64(output))
	}
}

// ObserveFragment records one streamed text fragment
func (m *Metrics) ObserveFragment(backend string) {
	if m == nil {
		return
	}
	m.streamFragments.WithLabelValues(backend).Inc()
}

// ObserveCache records a response cache lookup
func (m *Metrics) ObserveCache(backend string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(backend, result).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx ends
func (m *Metrics) Serve(ctx context.Context, addr string, logger *logging.Logger) error {
	logger = logging.OrNop(logger)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", logging.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
