package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Agent metrics
	agentItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msh_agent_items_total",
			Help: "Total number of items processed by an agent, by outcome",
		},
		[]string{"agent", "outcome"},
	)

	agentItemDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "msh_agent_item_duration_seconds",
			Help:    "Time spent processing one item in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agent"},
	)

	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "msh_step_duration_seconds",
			Help:    "Step execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agent", "step", "result"},
	)

	// Storage metrics
	claimedRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msh_claimed_records_total",
			Help: "Total number of records claimed by polling receivers",
		},
		[]string{"agent", "table"},
	)

	cleanupDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msh_cleanup_deleted_total",
			Help: "Total number of records removed by clean-up",
		},
		[]string{"table"},
	)

	// Transport metrics
	senderResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msh_sender_results_total",
			Help: "Total number of deliver and notify attempts, by result",
		},
		[]string{"method", "result"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msh_http_requests_total",
			Help: "Total number of inbound HTTP requests",
		},
		[]string{"path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "msh_http_request_duration_seconds",
			Help:    "Inbound HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	initOnce sync.Once
)

// InitMetrics registers the MSH metrics with the default registry
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			agentItemsTotal,
			agentItemDuration,
			stepDuration,
			claimedRecordsTotal,
			cleanupDeletedTotal,
			senderResultsTotal,
			httpRequestsTotal,
			httpRequestDuration,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordAgentItem records the outcome of one pipeline item
func RecordAgentItem(agent, outcome string, duration time.Duration) {
	agentItemsTotal.WithLabelValues(agent, outcome).Inc()
	agentItemDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// RecordStep records one step execution
func RecordStep(agent, step, result string, duration time.Duration) {
	stepDuration.WithLabelValues(agent, step, result).Observe(duration.Seconds())
}

// RecordClaimed records records claimed from a table
func RecordClaimed(agent, table string, n int) {
	if n > 0 {
		claimedRecordsTotal.WithLabelValues(agent, table).Add(float64(n))
	}
}

// RecordCleanUp records records removed from a table
func RecordCleanUp(table string, n int64) {
	if n > 0 {
		cleanupDeletedTotal.WithLabelValues(table).Add(float64(n))
	}
}

// RecordSend records a send, deliver or notify attempt
func RecordSend(method, result string) {
	senderResultsTotal.WithLabelValues(method, result).Inc()
}

// RecordHTTPRequest records an inbound HTTP request
func RecordHTTPRequest(path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(path, status).Inc()
	httpRequestDuration.WithLabelValues(path).Observe(duration.Seconds())
}
