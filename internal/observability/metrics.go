// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wallet-sync/internal/domain"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Refresh metrics
	FetchesDispatched     *prometheus.CounterVec
	MergesApplied         *prometheus.CounterVec
	StaleResultsDiscarded *prometheus.CounterVec
	SourceErrors          *prometheus.CounterVec
	FetchesInFlight       prometheus.Gauge
	FetchLatency          *prometheus.HistogramVec
	LastSuccessfulMerge   prometheus.Gauge

	// Session metrics
	SessionEvents     *prometheus.CounterVec
	SessionGeneration prometheus.Gauge
	RegisteredTokens  prometheus.Gauge

	// Transport metrics
	RPCCallLatency *prometheus.HistogramVec

	// Subscriber metrics
	Subscribers         prometheus.Gauge
	SubscriberMessages  prometheus.Counter
	HistoryRecordsSaved prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered with the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance registered with reg.
func NewMetricsWithRegistry(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "wallet_sync"
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Refresh metrics
		FetchesDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "fetches_dispatched_total",
			Help:      "Total number of source fetches dispatched by source kind",
		}, []string{"source"}),
		MergesApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "merges_applied_total",
			Help:      "Total number of fetch results merged into the snapshot by outcome",
		}, []string{"source", "outcome"}),
		StaleResultsDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "stale_results_discarded_total",
			Help:      "Total number of fetch results discarded because the session generation changed",
		}, []string{"source"}),
		SourceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "source_errors_total",
			Help:      "Total number of failed fetches by source kind and error kind",
		}, []string{"source", "kind"}),
		FetchesInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "fetches_in_flight",
			Help:      "Number of source fetches currently in flight",
		}),
		FetchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "fetch_latency_seconds",
			Help:      "Source fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		LastSuccessfulMerge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "last_successful_merge_timestamp",
			Help:      "Unix timestamp of the last successful merge",
		}),

		// Session metrics
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Total number of wallet session events by type",
		}, []string{"event"}),
		SessionGeneration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "generation",
			Help:      "Current wallet session generation",
		}),
		RegisteredTokens: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "registered_tokens",
			Help:      "Number of registered token contracts",
		}),

		// Transport metrics
		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "Chain RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"client", "method"}),

		// Subscriber metrics
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscribers",
			Name:      "connected",
			Help:      "Number of connected push subscribers",
		}),
		SubscriberMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscribers",
			Name:      "messages_sent_total",
			Help:      "Total number of snapshot messages pushed to subscribers",
		}),
		HistoryRecordsSaved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "records_saved_total",
			Help:      "Total number of balance history records stored",
		}),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// sourceLabel collapses token sources into one label value to bound cardinality.
func sourceLabel(source domain.SourceID) string {
	if _, ok := source.TokenContract(); ok {
		return "token"
	}
	return source.String()
}

// RecordDispatch records a dispatched fetch.
func (m *Metrics) RecordDispatch(source domain.SourceID) {
	m.FetchesDispatched.WithLabelValues(sourceLabel(source)).Inc()
	m.FetchesInFlight.Inc()
}

// RecordCompletion records a finished fetch and its latency.
func (m *Metrics) RecordCompletion(source domain.SourceID, seconds float64) {
	m.FetchesInFlight.Dec()
	m.FetchLatency.WithLabelValues(sourceLabel(source)).Observe(seconds)
}

// RecordMerge records an accepted merge. kind is empty on success.
func (m *Metrics) RecordMerge(source domain.SourceID, kind domain.ErrorKind, nowUnix int64) {
	label := sourceLabel(source)
	if kind == "" {
		m.MergesApplied.WithLabelValues(label, "success").Inc()
		m.LastSuccessfulMerge.Set(float64(nowUnix))
		return
	}
	m.MergesApplied.WithLabelValues(label, "error").Inc()
	m.SourceErrors.WithLabelValues(label, kind.String()).Inc()
}

// RecordStale records a discarded stale result.
func (m *Metrics) RecordStale(source domain.SourceID) {
	m.StaleResultsDiscarded.WithLabelValues(sourceLabel(source)).Inc()
}

// RecordSession records a session event and the resulting generation.
func (m *Metrics) RecordSession(event string, generation uint64) {
	m.SessionEvents.WithLabelValues(event).Inc()
	m.SessionGeneration.Set(float64(generation))
}

// RecordRPCLatency records chain RPC call latency.
func RecordRPCLatency(client, method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(client, method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// UpdateRegisteredTokens sets the registered tokens gauge.
func UpdateRegisteredTokens(n int) {
	DefaultMetrics.RegisteredTokens.Set(float64(n))
}
