package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Listener metrics

	// ListenerMessagesReceived tracks messages received from queues
	ListenerMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sqsbinder",
			Subsystem: "listener",
			Name:      "messages_received_total",
			Help:      "Total messages received by listener pools",
		},
		[]string{"pool", "queue"},
	)

	// ListenerMessagesForwarded tracks messages handed to the application sink
	ListenerMessagesForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sqsbinder",
			Subsystem: "listener",
			Name:      "messages_forwarded_total",
			Help:      "Total messages forwarded to the application sink",
		},
		[]string{"pool", "result"}, // result: success, failed
	)

	// ListenerMessagesAcknowledged tracks messages deleted after forwarding
	ListenerMessagesAcknowledged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sqsbinder",
			Subsystem: "listener",
			Name:      "messages_acknowledged_total",
			Help:      "Total messages deleted from the queue after successful forwarding",
		},
		[]string{"pool", "result"}, // result: success, failed
	)

	// ListenerTransformErrors tracks envelope transformation failures
	ListenerTransformErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sqsbinder",
			Subsystem: "listener",
			Name:      "transform_errors_total",
			Help:      "Total messages dropped because the envelope could not be unwrapped",
		},
		[]string{"pool", "reason"},
	)

	// ListenerPollErrors tracks failed receive calls
	ListenerPollErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sqsbinder",
			Subsystem: "listener",
			Name:      "poll_errors_total",
			Help:      "Total failed receive calls",
		},
		[]string{"pool", "queue"},
	)

	// ListenerRunningWorkers tracks running workers per pool
	ListenerRunningWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sqsbinder",
			Subsystem: "listener",
			Name:      "running_workers",
			Help:      "Number of running workers in the listener pool",
		},
		[]string{"pool"},
	)

	// Health metrics

	// HealthQueueUp tracks the result of the last health check per queue
	// 1 = running and reachable, 0 = not
	HealthQueueUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sqsbinder",
			Subsystem: "health",
			Name:      "queue_up",
			Help:      "Whether the queue was consumed and reachable at the last health check",
		},
		[]string{"queue"},
	)

	// HealthChecks tracks health check verdicts
	HealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sqsbinder",
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Total health checks by verdict",
		},
		[]string{"status"},
	)

	// Producer metrics

	// ProducerMessagesSent tracks messages sent by producers
	ProducerMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sqsbinder",
			Subsystem: "producer",
			Name:      "messages_sent_total",
			Help:      "Total messages sent to queues",
		},
		[]string{"binding", "result"},
	)

	// Client metrics

	// ClientCircuitBreakerState tracks circuit breaker state
	// 0 = closed (healthy), 1 = open (tripped), 2 = half-open (testing)
	ClientCircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sqsbinder",
			Subsystem: "client",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	// Sink metrics

	// SinkPublishErrors tracks failures publishing to an external sink
	SinkPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sqsbinder",
			Subsystem: "sink",
			Name:      "publish_errors_total",
			Help:      "Total sink publish errors",
		},
		[]string{"sink"},
	)

	// SinkHTTPRequests tracks webhook requests by status code
	SinkHTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sqsbinder",
			Subsystem: "sink",
			Name:      "http_requests_total",
			Help:      "Total webhook requests by status",
		},
		[]string{"binding", "status"},
	)

	// SinkHTTPDuration tracks webhook request latency
	SinkHTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sqsbinder",
			Subsystem: "sink",
			Name:      "http_duration_seconds",
			Help:      "Webhook request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"binding"},
	)
)

// CircuitBreakerState constants
const (
	CircuitBreakerClosed   = 0
	CircuitBreakerOpen     = 1
	CircuitBreakerHalfOpen = 2
)
