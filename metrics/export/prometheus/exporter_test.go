package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/accountguard"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snapshot accountguard.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() accountguard.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                          { return f.dropped }

func populated() fakeSource {
	return fakeSource{
		snapshot: accountguard.MetricsSnapshot{
			Counters: map[accountguard.MetricID]uint64{
				accountguard.MetricResetRequested: 7,
				accountguard.MetricAccountLocked:  2,
			},
			Histograms: map[accountguard.MetricID][]uint64{
				accountguard.MetricResetRequestLatency: {0, 0, 1, 3, 0, 0, 0, 1},
			},
			HistogramSums: map[accountguard.MetricID]time.Duration{
				accountguard.MetricResetRequestLatency: 3 * time.Second,
			},
		},
		dropped: 4,
	}
}

func TestCollectEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: accountguard.MetricsSnapshot{
			Counters:   map[accountguard.MetricID]uint64{},
			Histograms: map[accountguard.MetricID][]uint64{},
		},
	})

	assert.Equal(t, 0, testutil.CollectAndCount(exp))
}

func TestCollectCounters(t *testing.T) {
	exp := NewPrometheusExporterFromSource(populated())

	expected := `
# HELP accountguard_reset_requested_total Recovery requests received.
# TYPE accountguard_reset_requested_total counter
accountguard_reset_requested_total 7
# HELP accountguard_account_locked_total Failures that applied or extended a lock.
# TYPE accountguard_account_locked_total counter
accountguard_account_locked_total 2
# HELP accountguard_audit_dropped_total Dropped audit events due to dispatcher backpressure.
# TYPE accountguard_audit_dropped_total counter
accountguard_audit_dropped_total 4
`
	err := testutil.CollectAndCompare(exp, strings.NewReader(expected),
		"accountguard_reset_requested_total",
		"accountguard_account_locked_total",
		"accountguard_audit_dropped_total",
	)
	require.NoError(t, err)
}

func TestCollectHistogramIsCumulative(t *testing.T) {
	exp := NewPrometheusExporterFromSource(populated())

	expected := `
# HELP accountguard_reset_request_latency_seconds RequestReset latency including enumeration padding.
# TYPE accountguard_reset_request_latency_seconds histogram
accountguard_reset_request_latency_seconds_bucket{le="0.05"} 0
accountguard_reset_request_latency_seconds_bucket{le="0.1"} 0
accountguard_reset_request_latency_seconds_bucket{le="0.2"} 1
accountguard_reset_request_latency_seconds_bucket{le="0.25"} 4
accountguard_reset_request_latency_seconds_bucket{le="0.3"} 4
accountguard_reset_request_latency_seconds_bucket{le="0.5"} 4
accountguard_reset_request_latency_seconds_bucket{le="1"} 4
accountguard_reset_request_latency_seconds_bucket{le="+Inf"} 5
accountguard_reset_request_latency_seconds_sum 3
accountguard_reset_request_latency_seconds_count 5
`
	err := testutil.CollectAndCompare(exp, strings.NewReader(expected),
		"accountguard_reset_request_latency_seconds")
	require.NoError(t, err)
}

func TestHandlerServesExposition(t *testing.T) {
	exp := NewPrometheusExporterFromSource(populated())

	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "accountguard_reset_requested_total 7")
	assert.Contains(t, string(body), `accountguard_reset_request_latency_seconds_bucket{le="+Inf"} 5`)
}

func TestCollectorLintClean(t *testing.T) {
	problems, err := testutil.CollectAndLint(NewPrometheusExporterFromSource(populated()))
	require.NoError(t, err)
	assert.Empty(t, problems)
}
