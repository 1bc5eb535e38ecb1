package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_deliveries_total",
			Help: "Total number of webhook deliveries by terminal status.",
		},
		[]string{"status"},
	)

	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_attempts_total",
			Help: "Total number of delivery attempts by status and transport scheme.",
		},
		[]string{"status", "scheme"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, timeout, network, other
	)

	AttemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hookrelay_attempt_duration_seconds",
			Help:    "Outbound transport call duration per attempt.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scheme"},
	)

	ObservabilityDrainedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_observability_drained_total",
			Help: "Total number of observability samples drained and delivered.",
		},
		[]string{"event_type"},
	)

	ObservabilityDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookrelay_observability_dropped_total",
			Help: "Total number of expired observability batch tasks dropped.",
		},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		DeliveriesTotal,
		AttemptsTotal,
		RetriesTotal,
		AttemptDuration,
		ObservabilityDrainedTotal,
		ObservabilityDroppedTotal,
	)
}

// RecordAttempt records one delivery attempt outcome.
func RecordAttempt(status, scheme string, duration time.Duration) {
	AttemptsTotal.WithLabelValues(status, scheme).Inc()
	AttemptDuration.WithLabelValues(scheme).Observe(duration.Seconds())
}

// RecordDelivery records a delivery reaching a terminal status.
func RecordDelivery(status string) {
	DeliveriesTotal.WithLabelValues(status).Inc()
}

// RecordRetry records a scheduled retry by failure reason.
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordDrained records observability samples drained for an event type.
func RecordDrained(eventType string, n int) {
	ObservabilityDrainedTotal.WithLabelValues(eventType).Add(float64(n))
}
