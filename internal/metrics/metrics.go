// Package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "toolbridge"

var (
	// RequestsTotal counts message requests by response status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of message requests.",
		},
		[]string{"status"}, // "ok", "client_error", "upstream_error", "stream_error"
	)

	// RequestDuration measures message request latency in seconds.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Message request duration in seconds.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stream"},
	)

	// ActiveStreams tracks responses currently streaming.
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Current number of streaming responses.",
		},
	)

	// FramesTotal counts delivered output frames by event name.
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total number of delivered output frames.",
		},
		[]string{"event"},
	)

	// ToolCallsTotal counts tool calls recovered from backend output.
	ToolCallsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls recovered from backend output.",
		},
	)

	// MalformedInvocationsTotal counts discarded invocation fragments.
	MalformedInvocationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_invocations_total",
			Help:      "Total number of discarded invocation fragments.",
		},
	)

	// WriterRetriesTotal counts frame delivery retries by tier.
	WriterRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writer_retries_total",
			Help:      "Total number of frame delivery retries.",
		},
		[]string{"tier"}, // "critical" or "delta"
	)

	// WriterFailuresTotal counts writers closed after exhausting retries.
	WriterFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writer_failures_total",
			Help:      "Total number of writers closed after failed delivery.",
		},
	)

	// UpstreamRequestsTotal counts backend calls by outcome.
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of backend requests.",
		},
		[]string{"outcome"}, // "ok", "http_error", "transport_error", "circuit_open", "timeout"
	)

	// UpstreamFirstChunk measures the time until the backend's first chunk.
	UpstreamFirstChunk = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_first_chunk_seconds",
			Help:      "Time until the first backend chunk in seconds.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
)

// Handler returns the HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
