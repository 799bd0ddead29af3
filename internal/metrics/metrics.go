package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Rate limit metrics
	rateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faithtrack_rate_limit_decisions_total",
		Help: "Total number of rate limit decisions",
	}, []string{"action", "decision"})

	// Failure policy metrics
	failurePolicyEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faithtrack_failure_policy_events_total",
		Help: "Total number of errors resolved by the failure policy",
	}, []string{"operation", "decision"})

	// Moderation metrics
	moderationResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faithtrack_moderation_results_total",
		Help: "Total number of moderation verdicts",
	}, []string{"category", "outcome"})

	moderationFlags = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faithtrack_moderation_flags_total",
		Help: "Total number of moderation flags raised",
	}, []string{"flag"})

	// Notification metrics
	notificationsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faithtrack_notifications_delivered_total",
		Help: "Total number of daily notifications delivered",
	}, []string{"bucket", "urgency", "status"})

	// Storage metrics
	storeOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faithtrack_store_operations_total",
		Help: "Total number of persisted store operations",
	}, []string{"store", "operation", "status"})

	storeOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "faithtrack_store_operation_duration_seconds",
		Help:    "Duration of persisted store operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"store", "operation"})

	// Bot metrics
	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faithtrack_bot_messages_received_total",
		Help: "Total number of bot messages received",
	}, []string{"chat_type"})

	commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faithtrack_bot_commands_executed_total",
		Help: "Total number of bot commands executed",
	}, []string{"command"})

	// HTTP API metrics
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faithtrack_http_requests_total",
		Help: "Total number of HTTP API requests",
	}, []string{"route", "method", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "faithtrack_http_request_duration_seconds",
		Help:    "Duration of HTTP API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	// Rate limiter memory tier size
	memoryEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "faithtrack_rate_limit_memory_entries",
		Help: "Number of live entries in the rate limiter memory tier",
	})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordRateLimit records an allow or deny decision for an action
func (m *Metrics) RecordRateLimit(action string, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	rateLimitDecisions.WithLabelValues(action, decision).Inc()
}

// RecordFailurePolicy records an error resolved by the failure policy
func (m *Metrics) RecordFailurePolicy(operation, decision string) {
	failurePolicyEvents.WithLabelValues(operation, decision).Inc()
}

// RecordModeration records a moderation verdict and its flags
func (m *Metrics) RecordModeration(category string, approved, review bool, flags []string) {
	outcome := "approved"
	switch {
	case !approved:
		outcome = "rejected"
	case review:
		outcome = "review"
	}
	moderationResults.WithLabelValues(category, outcome).Inc()
	for _, flag := range flags {
		moderationFlags.WithLabelValues(flag).Inc()
	}
}

// RecordNotification records a delivery attempt
func (m *Metrics) RecordNotification(bucket, urgency, status string) {
	notificationsDelivered.WithLabelValues(bucket, urgency, status).Inc()
}

// RecordStoreOperation records a persisted store operation
func (m *Metrics) RecordStoreOperation(store, operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	storeOperations.WithLabelValues(store, operation, status).Inc()
	storeOperationDuration.WithLabelValues(store, operation).Observe(duration.Seconds())
}

// RecordMessageReceived records a received bot message
func (m *Metrics) RecordMessageReceived(chatType string) {
	messagesReceived.WithLabelValues(chatType).Inc()
}

// RecordCommandExecuted records an executed bot command
func (m *Metrics) RecordCommandExecuted(command string) {
	commandsExecuted.WithLabelValues(command).Inc()
}

// RecordHTTPRequest records a served API request
func (m *Metrics) RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// SetMemoryEntries sets the rate limiter memory tier size
func (m *Metrics) SetMemoryEntries(count int) {
	memoryEntries.Set(float64(count))
}
