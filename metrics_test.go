package accountguard

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricResetRequested)

	assert.Zero(t, m.Value(MetricResetRequested))
	assert.Empty(t, m.Snapshot().Counters)
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 2000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricLoginFailed)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(goroutines*perG), m.Value(MetricLoginFailed))
}

func TestMetricsHistogramBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	observations := []time.Duration{
		10 * time.Millisecond,
		100 * time.Millisecond,
		150 * time.Millisecond,
		210 * time.Millisecond,
		250 * time.Millisecond,
		400 * time.Millisecond,
		900 * time.Millisecond,
		3 * time.Second,
	}
	for _, d := range observations {
		m.Observe(MetricResetRequestLatency, d)
	}
	// only the latency metric accepts observations
	m.Observe(MetricLoginFailed, time.Second)

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricResetRequestLatency]
	require.Len(t, buckets, 8)
	assert.Equal(t, []uint64{1, 1, 1, 2, 0, 1, 1, 1}, buckets)

	var total time.Duration
	for _, d := range observations {
		total += d
	}
	assert.Equal(t, total, snap.HistogramSums[MetricResetRequestLatency])
	_, hasCounter := snap.Counters[MetricResetRequestLatency]
	assert.False(t, hasCounter)
}

func TestMetricsHistogramDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricResetRequestLatency, time.Millisecond)

	assert.Empty(t, m.Snapshot().Histograms)
}
