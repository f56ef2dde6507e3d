package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracks the number of outbound API calls to the aggregator.
	AggregatorRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregator_requests_total",
			Help: "Total number of aggregator API requests made (by operation and result).",
		},
		[]string{"operation", "result"},
	)

	// Measures duration of aggregator API requests.
	AggregatorRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aggregator_request_duration_seconds",
			Help:    "Duration of aggregator API requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"operation"},
	)

	// Tracks quote consumption outcomes (ok, expired, not_found, already_used).
	QuoteConsumeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_consume_total",
			Help: "Quote cache consume outcomes.",
		},
		[]string{"outcome"},
	)

	// Tracks observed trade status transitions.
	TradeTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trade_status_transitions_total",
			Help: "Trade lifecycle transitions applied (by target status).",
		},
		[]string{"to"},
	)

	// Tracks trades created, by owner kind (authenticated/anonymous).
	TradesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trades_created_total",
			Help: "Trades created, by owner kind.",
		},
		[]string{"owner"},
	)

	// Tracks NATS publishes by subject and result.
	NATSMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Total number of NATS messages published.",
		},
		[]string{"subject", "result"}, // result = "ok" | "error"
	)

	NATSMessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nats_message_latency_seconds",
			Help:    "Time taken to publish NATS messages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	// Tracks total errors (aggregated).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapd_errors_total",
			Help: "Count of service-level errors by component.",
		},
		[]string{"component", "reason"},
	)

	// Gauges the last successful status sweep (seconds since epoch).
	LastSweepTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swapd_last_sweep_timestamp",
			Help: "Timestamp (unix seconds) of the last completed status sweep.",
		},
	)
)

// IncError increments the aggregated error counter.
func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

// IncNATSMessage records a NATS publish outcome.
func IncNATSMessage(subject, result string) {
	NATSMessageCount.WithLabelValues(subject, result).Inc()
}

// ObserveDuration records elapsed time since start on a histogram vec.
func ObserveDuration(h *prometheus.HistogramVec, start time.Time, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
}
