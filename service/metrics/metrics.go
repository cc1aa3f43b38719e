package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Explorer API metrics
	explorerCallsTotal   *prometheus.CounterVec
	explorerCallDuration *prometheus.HistogramVec
	limiterWaitDuration  *prometheus.HistogramVec
	limiterQueueDepth    *prometheus.GaugeVec
	keyRotationsTotal    *prometheus.CounterVec

	// Resolution / reconciliation metrics
	transfersResolvedTotal *prometheus.CounterVec
	verificationsTotal     *prometheus.CounterVec
	balanceFoldDuration    *prometheus.HistogramVec

	// Temporal activity metrics
	activityDuration *prometheus.HistogramVec

	// Database metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		explorerCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "explorer_api_calls_total",
				Help: "Total number of explorer API calls by provider, endpoint and status",
			},
			[]string{"provider", "endpoint", "status"},
		),
		explorerCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "explorer_api_call_duration_seconds",
				Help:    "Duration of explorer API calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"provider", "endpoint"},
		),
		limiterWaitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "explorer_rate_limiter_wait_seconds",
				Help:    "Time spent waiting for a rate limiter token",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"provider"},
		),
		limiterQueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "explorer_rate_limiter_queue_depth",
				Help: "Number of callers currently queued on the rate limiter",
			},
			[]string{"provider"},
		),
		keyRotationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "explorer_key_rotations_total",
				Help: "Total number of API key rotations per provider",
			},
			[]string{"provider"},
		),

		transfersResolvedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chain_transfers_resolved_total",
				Help: "Total number of on-chain transfers resolved by chain and outcome",
			},
			[]string{"chain", "outcome"},
		),
		verificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_verifications_total",
				Help: "Total number of reconciliation checks by outcome",
			},
			[]string{"outcome"},
		),
		balanceFoldDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_balance_fold_duration_seconds",
				Help:    "Duration of balance aggregation in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"scope"},
		),

		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "temporal_activity_duration_seconds",
				Help:    "Duration of Temporal activity executions in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0},
			},
			[]string{"activity"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations by type and status",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"method", "path"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path and status code",
			},
			[]string{"method", "path", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of messages published to NATS by subject prefix and status",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// RecordExplorerCall records one outbound explorer API call.
func (m *Metrics) RecordExplorerCall(provider, endpoint, status string, duration float64) {
	if m == nil {
		return
	}
	m.explorerCallsTotal.WithLabelValues(provider, endpoint, status).Inc()
	m.explorerCallDuration.WithLabelValues(provider, endpoint).Observe(duration)
}

// RecordLimiterWait records how long a caller waited for a limiter token.
func (m *Metrics) RecordLimiterWait(provider string, duration float64) {
	if m == nil {
		return
	}
	m.limiterWaitDuration.WithLabelValues(provider).Observe(duration)
}

// SetLimiterQueueDepth reports the current limiter queue depth.
func (m *Metrics) SetLimiterQueueDepth(provider string, depth float64) {
	if m == nil {
		return
	}
	m.limiterQueueDepth.WithLabelValues(provider).Set(depth)
}

// RecordKeyRotation records one API key rotation.
func (m *Metrics) RecordKeyRotation(provider string) {
	if m == nil {
		return
	}
	m.keyRotationsTotal.WithLabelValues(provider).Inc()
}

// RecordTransfersResolved records the outcome of a hash resolution.
func (m *Metrics) RecordTransfersResolved(chain, outcome string, count float64) {
	if m == nil {
		return
	}
	m.transfersResolvedTotal.WithLabelValues(chain, outcome).Add(count)
}

// RecordVerification records one reconciliation check outcome
// ("confirmed", "mismatch", "unavailable").
func (m *Metrics) RecordVerification(outcome string) {
	if m == nil {
		return
	}
	m.verificationsTotal.WithLabelValues(outcome).Inc()
}

// RecordBalanceFold records the duration of one balance aggregation.
func (m *Metrics) RecordBalanceFold(scope string, duration float64) {
	if m == nil {
		return
	}
	m.balanceFoldDuration.WithLabelValues(scope).Observe(duration)
}

// RecordActivityDuration records the duration of one Temporal activity run.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	if m == nil {
		return
	}
	m.activityDuration.WithLabelValues(activity).Observe(duration)
}

// RecordDBOperation records a database operation with its duration.
func (m *Metrics) RecordDBOperation(operation, status string, duration float64) {
	if m == nil {
		return
	}
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
	m.dbQueryDuration.WithLabelValues(operation).Observe(duration)
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordNATSPublish records a NATS publish attempt.
func (m *Metrics) RecordNATSPublish(subject, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration.Seconds())
}
