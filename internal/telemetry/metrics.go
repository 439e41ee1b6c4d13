// Package telemetry provides observability primitives for the Radagast gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	BackendDuration  *prometheus.HistogramVec
	BackendErrors    *prometheus.CounterVec
	BackendRetries   *prometheus.CounterVec
	CacheEvents      *prometheus.CounterVec
	FlightCoalesced  prometheus.Counter
	RateLimitRejects prometheus.Counter
	TokensProcessed  *prometheus.CounterVec
	ActivePipelines  prometheus.Gauge
	BatchSize        prometheus.Histogram
	UsageQueueLength prometheus.Gauge
	ModelsReady      prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radagast",
			Name:      "requests_total",
			Help:      "Total generation requests by model and outcome.",
		}, []string{"model", "outcome"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "radagast",
			Name:                            "request_duration_seconds",
			Help:                            "End-to-end pipeline duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"model"}),

		BackendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "radagast",
			Name:                            "backend_duration_seconds",
			Help:                            "Backend generate call duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"model"}),

		BackendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radagast",
			Name:      "backend_errors_total",
			Help:      "Backend HTTP errors by status class.",
		}, []string{"class"}),

		BackendRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radagast",
			Name:      "backend_retries_total",
			Help:      "Backend retries by cause.",
		}, []string{"cause"}),

		CacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radagast",
			Name:      "cache_events_total",
			Help:      "Cache outcomes: hit, miss, refresh, bypass.",
		}, []string{"status"}),

		FlightCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radagast",
			Name:      "singleflight_coalesced_total",
			Help:      "Requests served by joining another caller's in-flight computation.",
		}),

		RateLimitRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radagast",
			Name:      "ratelimit_rejects_total",
			Help:      "Requests rejected by the per-key rate limiter.",
		}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radagast",
			Name:      "tokens_total",
			Help:      "Tokens processed by model and type (prompt, completion).",
		}, []string{"model", "type"}),

		ActivePipelines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "radagast",
			Name:      "active_pipelines",
			Help:      "Number of currently in-flight pipeline invocations.",
		}),

		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "radagast",
			Name:      "batch_size",
			Help:      "Sizes of submitted generation batches.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),

		UsageQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "radagast",
			Name:      "usage_queue_length",
			Help:      "Current number of queued usage records.",
		}),

		ModelsReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "radagast",
			Name:      "models_ready",
			Help:      "Number of backend models currently in the ready state.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.BackendDuration,
		m.BackendErrors,
		m.BackendRetries,
		m.CacheEvents,
		m.FlightCoalesced,
		m.RateLimitRejects,
		m.TokensProcessed,
		m.ActivePipelines,
		m.BatchSize,
		m.UsageQueueLength,
		m.ModelsReady,
	)

	return m
}
