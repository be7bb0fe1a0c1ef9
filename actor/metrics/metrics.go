// Package metrics holds the Prometheus collectors for job runs and the
// status server, on a private registry that is served at /metrics and
// optionally pushed to a Pushgateway when the job exits.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Run outcomes used as the "outcome" label.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics encapsulates the job's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal             *prometheus.CounterVec
	RunDuration           prometheus.Histogram
	ProviderDuration      *prometheus.HistogramVec
	ErrorsTotal           *prometheus.CounterVec
	UsageTokens           *prometheus.CounterVec
	PromptTokensEstimated prometheus.Gauge
	LastSuccessTimestamp  prometheus.Gauge
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	BreakerState          *prometheus.GaugeVec
	BreakerTrips          *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with a custom registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plexity_runs_total",
				Help: "Total number of runs by outcome",
			},
			[]string{"outcome"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "plexity_run_duration_seconds",
				Help:    "Duration of a whole run in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		ProviderDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plexity_provider_request_duration_seconds",
				Help:    "Duration of completion requests in seconds",
				Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			},
			[]string{"provider"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plexity_errors_total",
				Help: "Total number of failed runs by error type",
			},
			[]string{"type"},
		),
		UsageTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plexity_usage_tokens_total",
				Help: "Tokens reported in completion usage, by kind",
			},
			[]string{"kind"},
		),
		PromptTokensEstimated: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "plexity_prompt_tokens_estimated",
				Help: "Estimated prompt tokens of the last run",
			},
		),
		LastSuccessTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "plexity_last_success_timestamp_seconds",
				Help: "Unix time of the last successful run",
			},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plexity_http_requests_total",
				Help: "Total number of status server requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plexity_http_request_duration_seconds",
				Help:    "Duration of status server requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "plexity_circuit_breaker_state",
				Help: "Current state of the provider circuit breaker (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		BreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plexity_circuit_breaker_trips_total",
				Help: "Total number of times the provider circuit breaker opened",
			},
			[]string{"name"},
		),
	}

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m.RunsTotal.WithLabelValues(OutcomeSuccess).Add(0)
	m.RunsTotal.WithLabelValues(OutcomeFailure).Add(0)

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns a handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: false,
	})
}

// ObserveRun records the outcome and duration of a run. errType is empty
// for a successful run.
func (m *Metrics) ObserveRun(duration time.Duration, errType string) {
	m.RunDuration.Observe(duration.Seconds())
	if errType == "" {
		m.RunsTotal.WithLabelValues(OutcomeSuccess).Inc()
		m.LastSuccessTimestamp.SetToCurrentTime()
		return
	}
	m.RunsTotal.WithLabelValues(OutcomeFailure).Inc()
	m.ErrorsTotal.WithLabelValues(errType).Inc()
}

// ObserveUsage adds the token counts of a completion's usage block. Missing
// or non-numeric counts are skipped.
func (m *Metrics) ObserveUsage(usage any) {
	obj, ok := usage.(map[string]any)
	if !ok {
		return
	}
	for _, kind := range []string{"prompt_tokens", "completion_tokens", "total_tokens"} {
		if n, ok := number(obj[kind]); ok && n >= 0 {
			m.UsageTokens.WithLabelValues(kind).Add(n)
		}
	}
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Push sends the registry to a Pushgateway under job.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	return push.New(url, job).
		Gatherer(m.registry).
		PushContext(ctx)
}
