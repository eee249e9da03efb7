package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Event bus
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_events_published_total",
		Help: "Total number of domain events accepted by the bus",
	}, []string{"event_type"})
	EventsUnrouted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_events_unrouted_total",
		Help: "Total number of published events that had no registered handler",
	}, []string{"event_type"})
	PublishErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_publish_errors_total",
		Help: "Total number of publish calls rejected by the bus",
	}, []string{"reason"})
	HandlerInvocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_handler_invocations_total",
		Help: "Total number of handler invocations grouped by outcome",
	}, []string{"handler", "event_type", "outcome"})
	HandlerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "integration_handler_duration_seconds",
		Help:    "Latency of handler invocations",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})
	HandlerQueueDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_handler_queue_dropped_total",
		Help: "Total number of deliveries not handed to a handler because its queue was full or closed",
	}, []string{"handler", "reason"})
	HandlerQueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "integration_handler_queue_length",
		Help: "Current number of deliveries waiting in a handler queue",
	}, []string{"handler"})
	Subscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "integration_subscriptions",
		Help: "Current number of handler registrations",
	})
	DuplicateDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_duplicate_deliveries_total",
		Help: "Total number of deliveries skipped because the handler already processed the event",
	}, []string{"handler"})
	DedupClaims = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_dedup_claims_total",
		Help: "Total number of delivery dedup claims grouped by result",
	}, []string{"handler", "result"})

	// Retry / dead letter
	RetriesScheduled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_retries_scheduled_total",
		Help: "Total number of handler retries scheduled",
	}, []string{"handler"})
	RetriesSucceeded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_retries_succeeded_total",
		Help: "Total number of deliveries that succeeded after at least one retry",
	}, []string{"handler"})
	RetryPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "integration_retry_pending",
		Help: "Current number of deliveries waiting for a retry",
	})
	DeadLetters = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_dead_letters_total",
		Help: "Total number of deliveries dead-lettered after exhausting retries",
	}, []string{"handler", "event_type"})
	DeadLetterReplays = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_dead_letter_replays_total",
		Help: "Total number of dead letters replayed by operators",
	}, []string{"handler"})

	// Workflows
	WorkflowsInitiated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_workflows_initiated_total",
		Help: "Total number of workflow initiations grouped by result",
	}, []string{"workflow", "result"})

	// Audit store and sinks
	AuditAppends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_audit_appends_total",
		Help: "Total number of audit append attempts grouped by result",
	}, []string{"store", "result"})
	AuditEventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_audit_mirror_dropped_total",
		Help: "Total number of audit records not mirrored to a sink",
	}, []string{"sink", "reason"})
	AuditSinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_audit_sink_errors_total",
		Help: "Total number of audit sink write errors",
	}, []string{"sink", "error_type"})
	AuditEventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_audit_mirror_processed_total",
		Help: "Total number of audit records mirrored to a sink",
	}, []string{"sink"})
	AuditSinkLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "integration_audit_sink_duration_seconds",
		Help:    "Latency of audit sink writes",
		Buckets: prometheus.DefBuckets,
	}, []string{"sink"})
	AuditSinkConnected = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "integration_audit_sink_connected",
		Help: "Whether an audit sink is currently reachable (1) or not (0)",
	}, []string{"sink"})
	AuditCircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "integration_audit_circuit_breaker_state",
		Help: "Circuit breaker state per audit sink (0 closed, 1 open, 2 half-open)",
	}, []string{"sink"})
	AuditCircuitBreakerRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_audit_circuit_breaker_rejections_total",
		Help: "Total number of audit sink writes rejected by an open circuit",
	}, []string{"sink"})
	AuditKafkaMessagesInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "integration_audit_kafka_messages_in_flight",
		Help: "Number of audit records currently being written to Kafka",
	}, []string{"sink"})

	// Notifications
	NotificationsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_notifications_sent_total",
		Help: "Total number of operator notifications sent",
	}, []string{"channel"})
	NotificationsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_notifications_failed_total",
		Help: "Total number of operator notifications that could not be sent",
	}, []string{"channel"})

	// HTTP API
	APIRateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_api_rate_limited_total",
		Help: "Total number of API requests rejected by the rate limiter",
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(EventsUnrouted)
	prometheus.MustRegister(PublishErrors)
	prometheus.MustRegister(HandlerInvocations)
	prometheus.MustRegister(HandlerLatency)
	prometheus.MustRegister(HandlerQueueDropped)
	prometheus.MustRegister(HandlerQueueLength)
	prometheus.MustRegister(Subscriptions)
	prometheus.MustRegister(DuplicateDeliveries)
	prometheus.MustRegister(DedupClaims)
	prometheus.MustRegister(RetriesScheduled)
	prometheus.MustRegister(RetriesSucceeded)
	prometheus.MustRegister(RetryPending)
	prometheus.MustRegister(DeadLetters)
	prometheus.MustRegister(DeadLetterReplays)
	prometheus.MustRegister(WorkflowsInitiated)
	prometheus.MustRegister(AuditAppends)
	prometheus.MustRegister(AuditEventsDropped)
	prometheus.MustRegister(AuditSinkErrors)
	prometheus.MustRegister(AuditEventsProcessed)
	prometheus.MustRegister(AuditSinkLatency)
	prometheus.MustRegister(AuditSinkConnected)
	prometheus.MustRegister(AuditCircuitBreakerState)
	prometheus.MustRegister(AuditCircuitBreakerRejections)
	prometheus.MustRegister(AuditKafkaMessagesInFlight)
	prometheus.MustRegister(NotificationsSent)
	prometheus.MustRegister(NotificationsFailed)
	prometheus.MustRegister(APIRateLimited)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
