// Package metrics exposes Prometheus collectors for the gateway's
// queue depth, hook latency, keep-alive timeouts and chunk throughput,
// served on /metrics (spec §6 "observability surface").
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the gateway registers. Callers hold
// one instance for the process lifetime and pass it down to the HTTP
// layer.
type Metrics struct {
	QueueDepth       prometheus.Gauge
	HookLatency      *prometheus.HistogramVec
	KeepaliveTimeout *prometheus.CounterVec
	ChunksProcessed  *prometheus.CounterVec
	RequestsTotal    *prometheus.CounterVec
}

// New registers every collector against reg. Passing
// prometheus.NewRegistry() keeps tests isolated from the global
// default registry; cmd/luthien also passes its own
// prometheus.NewRegistry() and serves it on /metrics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "luthien",
			Name:      "egress_queue_depth",
			Help:      "Number of chunks currently buffered in a streaming response's egress queue.",
		}),
		HookLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "luthien",
			Name:      "policy_hook_duration_seconds",
			Help:      "Latency of individual policy hook invocations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"hook"}),
		KeepaliveTimeout: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "luthien",
			Name:      "keepalive_timeouts_total",
			Help:      "Number of streaming transactions aborted by keep-alive timeout.",
		}, []string{"provider"}),
		ChunksProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "luthien",
			Name:      "chunks_processed_total",
			Help:      "Total IR chunks processed, by pipeline stage.",
		}, []string{"stage"}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "luthien",
			Name:      "requests_total",
			Help:      "Total proxied requests, by outcome.",
		}, []string{"outcome"}),
	}
}

// ObserveHook records the duration of a single policy hook invocation.
func (m *Metrics) ObserveHook(hook string, seconds float64) {
	m.HookLatency.WithLabelValues(hook).Observe(seconds)
}

// RecordKeepaliveTimeout increments the timeout counter for provider.
func (m *Metrics) RecordKeepaliveTimeout(provider string) {
	m.KeepaliveTimeout.WithLabelValues(provider).Inc()
}

// RecordChunk increments the processed-chunk counter for stage (e.g.
// "ingress", "egress").
func (m *Metrics) RecordChunk(stage string) {
	m.ChunksProcessed.WithLabelValues(stage).Inc()
}

// RecordRequest increments the request counter for outcome (e.g. "ok",
// "rejected", "upstream_error", "stream_error").
func (m *Metrics) RecordRequest(outcome string) {
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}
