package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	IdempotencyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idempotency_requests_total",
			Help: "Total number of guarded requests by outcome (count)",
		},
		[]string{"outcome"},
	)

	IdempotencyStoreDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idempotency_store_duration_ms",
			Help:    "Duration of idempotency store operations in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"operation"},
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total number of events handed to the transport by topic and status (count)",
		},
		[]string{"topic", "status"},
	)

	ConsumerEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_events_total",
			Help: "Total number of consumed events by terminal state (count)",
		},
		[]string{"topic", "state"},
	)

	ConsumerProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "consumer_processing_duration_ms",
			Help:    "End-to-end processing duration per delivery in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"topic", "state"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of side-effect retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages routed to the dead-letter topic (count)",
		},
		[]string{"source_topic", "error_class"},
	)

	DLQPublishFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_publish_failures_total",
			Help: "Total number of failed dead-letter envelope writes; each one is potential message loss (count)",
		},
		[]string{"source_topic"},
	)

	DLQReplayedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_replayed_total",
			Help: "Total number of dead-lettered messages re-published to their original topic (count)",
		},
		[]string{"original_topic", "status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through a circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failed requests through a circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests seen by the rate limiter (count)",
		},
		[]string{"status"},
	)
)

var (
	registerAPIOnce      sync.Once
	registerConsumerOnce sync.Once
	registerBrokerOnce   sync.Once
	registerCBOnce       sync.Once
	registerRLOnce       sync.Once
)

func RegisterAPIMetrics() {
	registerAPIOnce.Do(func() {
		prometheus.MustRegister(
			IdempotencyRequestsTotal,
			IdempotencyStoreDuration,
		)
	})
}

func RegisterConsumerMetrics() {
	registerConsumerOnce.Do(func() {
		prometheus.MustRegister(
			ConsumerEventsTotal,
			ConsumerProcessingDuration,
			RetryAttemptsTotal,
			DLQMessagesTotal,
			DLQPublishFailuresTotal,
			DLQReplayedTotal,
		)
	})
}

func RegisterBrokerMetrics() {
	registerBrokerOnce.Do(func() {
		prometheus.MustRegister(EventsPublishedTotal)
	})
}

func RegisterCircuitBreakerMetrics() {
	registerCBOnce.Do(func() {
		prometheus.MustRegister(
			CircuitBreakerState,
			CircuitBreakerRequests,
			CircuitBreakerFailures,
		)
	})
}

func RegisterRateLimitMetrics() {
	registerRLOnce.Do(func() {
		prometheus.MustRegister(RateLimitRequestsTotal)
	})
}

func ObserveStoreDuration(operation string, d time.Duration) {
	IdempotencyStoreDuration.WithLabelValues(operation).Observe(float64(d.Milliseconds()))
}

func ObserveConsumerDuration(topic, state string, d time.Duration) {
	ConsumerProcessingDuration.WithLabelValues(topic, state).Observe(float64(d.Milliseconds()))
}
