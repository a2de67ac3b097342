// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ledger metrics
	OperationsTotal     *prometheus.CounterVec
	OperationLatency    *prometheus.HistogramVec
	SlippageRejections  prometheus.Counter
	JournalWriteErrors  prometheus.Counter
	CustodyBalanced     *prometheus.GaugeVec
	LastCommittedOpTime prometheus.Gauge

	// Exchange metrics
	ExchangeCallLatency *prometheus.HistogramVec
	ExchangeCallErrors  *prometheus.CounterVec

	// API metrics
	EnvelopesRejected *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
	DBConnections   *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "custody_ledger"
	}

	return &Metrics{
		OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Total number of ledger operations by outcome",
		}, []string{"op", "status"}),
		OperationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation duration in seconds, including the unit of work commit",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		SlippageRejections: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "slippage_rejections_total",
			Help:      "Total number of swaps rolled back because the received amount was below the minimum",
		}),
		JournalWriteErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "journal_write_errors_total",
			Help:      "Total number of committed operations whose activity record could not be written",
		}),
		CustodyBalanced: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "custody_balanced",
			Help:      "1 when the custody invariant for the asset held at the last audit, 0 otherwise",
		}, []string{"asset"}),
		LastCommittedOpTime: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "last_committed_operation_timestamp",
			Help:      "Unix timestamp of the last committed operation",
		}),

		ExchangeCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "call_latency_seconds",
			Help:      "External exchange call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		ExchangeCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "call_errors_total",
			Help:      "Total number of failed external exchange calls",
		}, []string{"method"}),

		EnvelopesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "envelopes_rejected_total",
			Help:      "Total number of operation envelopes rejected before reaching the ledger",
		}, []string{"reason"}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
		DBConnections: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "connections",
			Help:      "Number of database connections by state",
		}, []string{"database", "state"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordOperation records the outcome of a ledger operation. status is "ok"
// or the error kind.
func RecordOperation(op, status string, seconds float64, committedAt int64) {
	DefaultMetrics.OperationsTotal.WithLabelValues(op, status).Inc()
	DefaultMetrics.OperationLatency.WithLabelValues(op).Observe(seconds)
	if status == "ok" {
		DefaultMetrics.LastCommittedOpTime.Set(float64(committedAt))
	}
}

// RecordSlippageRejected increments the slippage rejection counter.
func RecordSlippageRejected() {
	DefaultMetrics.SlippageRejections.Inc()
}

// RecordJournalError increments the journal write error counter.
func RecordJournalError() {
	DefaultMetrics.JournalWriteErrors.Inc()
}

// SetCustodyBalanced records the result of a custody audit for one asset.
func SetCustodyBalanced(asset string, balanced bool) {
	v := 0.0
	if balanced {
		v = 1
	}
	DefaultMetrics.CustodyBalanced.WithLabelValues(asset).Set(v)
}

// RecordExchangeCall records exchange call latency and failures.
func RecordExchangeCall(method string, seconds float64, err error) {
	DefaultMetrics.ExchangeCallLatency.WithLabelValues(method).Observe(seconds)
	if err != nil {
		DefaultMetrics.ExchangeCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordEnvelopeRejected counts an envelope refused by the submission layer.
func RecordEnvelopeRejected(reason string) {
	DefaultMetrics.EnvelopesRejected.WithLabelValues(reason).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// UpdateDBConnections publishes pool connection counts.
func UpdateDBConnections(database string, idle, inUse int32) {
	DefaultMetrics.DBConnections.WithLabelValues(database, "idle").Set(float64(idle))
	DefaultMetrics.DBConnections.WithLabelValues(database, "in_use").Set(float64(inUse))
}
