package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"wallet-sync/internal/domain"
)

func TestMetrics_RefreshLifecycle(t *testing.T) {
	m := NewMetricsWithRegistry("test", prometheus.NewRegistry())

	m.RecordDispatch(domain.SourceNative)
	m.RecordDispatch(domain.TokenSource("0xaa"))
	m.RecordDispatch(domain.TokenSource("0xbb"))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FetchesInFlight))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchesDispatched.WithLabelValues("token")))

	m.RecordCompletion(domain.SourceNative, 0.1)
	m.RecordMerge(domain.SourceNative, "", 1700000000)
	m.RecordCompletion(domain.TokenSource("0xaa"), 0.2)
	m.RecordMerge(domain.TokenSource("0xaa"), domain.ErrorKindChain, 1700000001)
	m.RecordCompletion(domain.TokenSource("0xbb"), 0.3)
	m.RecordStale(domain.TokenSource("0xbb"))

	assert.Equal(t, 0.0, testutil.ToFloat64(m.FetchesInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MergesApplied.WithLabelValues("native", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MergesApplied.WithLabelValues("token", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceErrors.WithLabelValues("token", "ChainError")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StaleResultsDiscarded.WithLabelValues("token")))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.LastSuccessfulMerge))
}

func TestMetrics_RecordSession(t *testing.T) {
	m := NewMetricsWithRegistry("test", prometheus.NewRegistry())

	m.RecordSession("connect", 1)
	m.RecordSession("disconnect", 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionEvents.WithLabelValues("connect")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionGeneration))
}
