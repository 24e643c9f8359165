// Package metrics holds the prometheus instrumentation for the event
// backbone. Collectors live on a private registry so tests can construct
// isolated instances and the admin surface can expose exactly this set.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lifebus"

// Metrics bundles every collector the components report into.
type Metrics struct {
	registry *prometheus.Registry

	// Bus flow.
	ProducedTotal   *prometheus.CounterVec
	ProduceErrors   *prometheus.CounterVec
	ConsumedTotal   *prometheus.CounterVec
	HandlerRetries  *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec

	// Dead letter flow.
	DLQTotal        *prometheus.CounterVec
	DLQReprocessed  prometheus.Counter
	DLQQuarantined  prometheus.Counter
	DLQManualReview prometheus.Counter

	// Webhook ingress.
	WebhookRequests    *prometheus.CounterVec
	WebhookRateLimited prometheus.Counter

	// HRMS polling.
	PollRuns   *prometheus.CounterVec
	PollEvents *prometheus.CounterVec
}

// New builds a Metrics with a fresh registry including the standard Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ProducedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "produced_total",
			Help:      "Envelopes successfully produced, by topic.",
		}, []string{"topic"}),
		ProduceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "produce_errors_total",
			Help:      "Produce attempts that failed after client retries, by topic.",
		}, []string{"topic"}),
		ConsumedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "consumed_total",
			Help:      "Records handled to completion, by topic and group.",
		}, []string{"topic", "group"}),
		HandlerRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "handler_retries_total",
			Help:      "In-process handler retries, by topic and group.",
		}, []string{"topic", "group"}),
		HandlerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "handler_duration_seconds",
			Help:      "Handler latency per record, by topic and group.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic", "group"}),

		DLQTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dlq",
			Name:      "messages_total",
			Help:      "Envelopes dead-lettered, by original topic.",
		}, []string{"topic"}),
		DLQReprocessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dlq",
			Name:      "reprocessed_total",
			Help:      "Dead-lettered envelopes republished to their original topic.",
		}),
		DLQQuarantined: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dlq",
			Name:      "quarantined_total",
			Help:      "Dead-lettered envelopes parked on quarantine.queue.",
		}),
		DLQManualReview: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dlq",
			Name:      "manual_review_total",
			Help:      "Dead-lettered envelopes flagged for operator review.",
		}),

		WebhookRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Webhook deliveries received, by source and HTTP status.",
		}, []string{"source", "status"}),
		WebhookRateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "rate_limited_total",
			Help:      "Webhook deliveries rejected with 429.",
		}),

		PollRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hrms",
			Name:      "poll_runs_total",
			Help:      "Adapter poll cycles, by source and result.",
		}, []string{"source", "result"}),
		PollEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hrms",
			Name:      "poll_events_total",
			Help:      "Lifecycle events produced by polling, by source.",
		}, []string{"source"}),
	}
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
