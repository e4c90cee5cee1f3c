package otel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/accountguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot accountguard.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() accountguard.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := accountguard.MetricsSnapshot{
		Counters:      make(map[accountguard.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms:    make(map[accountguard.MetricID][]uint64, len(f.snapshot.Histograms)),
		HistogramSums: make(map[accountguard.MetricID]time.Duration, len(f.snapshot.HistogramSums)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	for k, v := range f.snapshot.HistogramSums {
		out.HistogramSums[k] = v
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return reader, provider
}

func findInt64(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if len(data.DataPoints) > 0 {
					return data.DataPoints[0].Value, true
				}
			case metricdata.Gauge[int64]:
				if len(data.DataPoints) > 0 {
					return data.DataPoints[0].Value, true
				}
			}
		}
	}
	return 0, false
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newReader(t)

	src := &fakeSource{
		snapshot: accountguard.MetricsSnapshot{
			Counters: map[accountguard.MetricID]uint64{
				accountguard.MetricResetCompleted: 3,
			},
			Histograms: map[accountguard.MetricID][]uint64{
				accountguard.MetricResetRequestLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
			HistogramSums: map[accountguard.MetricID]time.Duration{
				accountguard.MetricResetRequestLatency: 2 * time.Second,
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(provider.Meter("accountguard-test"), src)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, exp.Close())
	}()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.NotEmpty(t, rm.ScopeMetrics)

	completed, ok := findInt64(rm, "accountguard_reset_completed_total")
	require.True(t, ok)
	assert.Equal(t, int64(3), completed)

	le200, ok := findInt64(rm, "accountguard_reset_request_latency_seconds_bucket_le_0_2")
	require.True(t, ok)
	assert.Equal(t, int64(3), le200)

	count, ok := findInt64(rm, "accountguard_reset_request_latency_seconds_count")
	require.True(t, ok)
	assert.Equal(t, int64(8), count)

	dropped, ok := findInt64(rm, "accountguard_audit_dropped_total")
	require.True(t, ok)
	assert.Equal(t, int64(1), dropped)
}

func TestExporterRejectsNil(t *testing.T) {
	_, provider := newReader(t)

	_, err := NewOTelExporterFromSource(provider.Meter("accountguard-test"), nil)
	assert.ErrorIs(t, err, ErrNilSource)

	_, err = NewOTelExporterFromSource(nil, &fakeSource{})
	assert.ErrorIs(t, err, ErrNilMeter)
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader(t)

	src := &fakeSource{
		snapshot: accountguard.MetricsSnapshot{
			Counters: map[accountguard.MetricID]uint64{
				accountguard.MetricLoginFailed: 1,
			},
			Histograms: map[accountguard.MetricID][]uint64{
				accountguard.MetricResetRequestLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(provider.Meter("accountguard-test"), src)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, exp.Close())
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[accountguard.MetricLoginFailed] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
