package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for fact resolution. A Metrics built
// with metrics disabled accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	// Resolver metrics
	resolverRuns     *prometheus.CounterVec
	resolverDuration *prometheus.HistogramVec
	probeFailures    *prometheus.CounterVec

	// Pass metrics
	passes        *prometheus.CounterVec
	passDuration  prometheus.Histogram
	factsResolved prometheus.Gauge

	// Query API metrics
	httpRequests *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		resolverRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolver_runs_total",
				Help:      "Resolver executions by outcome",
			},
			[]string{"resolver", "outcome"},
		),
		resolverDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolver_duration_seconds",
				Help:      "Time spent in a resolver",
				Buckets:   buckets,
			},
			[]string{"resolver"},
		),
		probeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probe_failures_total",
				Help:      "System probes that returned an error",
			},
			[]string{"probe"},
		),

		passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "passes_total",
				Help:      "Resolution passes by status",
			},
			[]string{"status"},
		),
		passDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pass_duration_seconds",
				Help:      "Duration of a full resolution pass",
				Buckets:   buckets,
			},
		),
		factsResolved: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "facts_resolved",
				Help:      "Number of facts in the latest tree",
			},
		),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Query API requests by route and status code",
			},
			[]string{"route", "code"},
		),
	}

	registry.MustRegister(
		m.resolverRuns,
		m.resolverDuration,
		m.probeFailures,
		m.passes,
		m.passDuration,
		m.factsResolved,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m, nil
}

// RecordResolver records one resolver outcome.
func (m *Metrics) RecordResolver(resolver, outcome string, duration time.Duration) {
	if m.resolverRuns == nil {
		return
	}
	m.resolverRuns.WithLabelValues(resolver, outcome).Inc()
	m.resolverDuration.WithLabelValues(resolver).Observe(duration.Seconds())
}

// RecordProbeFailure counts a failed probe.
func (m *Metrics) RecordProbeFailure(probe string) {
	if m.probeFailures == nil {
		return
	}
	m.probeFailures.WithLabelValues(probe).Inc()
}

// RecordPass records a finished pass and the size of its tree.
func (m *Metrics) RecordPass(status string, duration time.Duration, factCount int) {
	if m.passes == nil {
		return
	}
	m.passes.WithLabelValues(status).Inc()
	m.passDuration.Observe(duration.Seconds())
	if status == "completed" {
		m.factsResolved.Set(float64(factCount))
	}
}

// RecordHTTPRequest counts a query API request.
func (m *Metrics) RecordHTTPRequest(route, code string) {
	if m.httpRequests == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, code).Inc()
}

// Registry exposes the underlying registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
