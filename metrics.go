package accountguard

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

const (
	// MetricResetRequested counts RequestReset calls.
	MetricResetRequested MetricID = iota
	// MetricResetRequestRateLimited counts requests swallowed by the rate limiter.
	MetricResetRequestRateLimited
	// MetricResetTokenIssued counts persisted recovery tokens.
	MetricResetTokenIssued
	// MetricResetUnknownAccount counts requests for unknown or disabled accounts.
	MetricResetUnknownAccount
	// MetricResetCompleted counts successful credential resets.
	MetricResetCompleted
	// MetricResetInvalidToken counts rejected redemptions.
	MetricResetInvalidToken
	// MetricResetWeakCredential counts redemptions rejected by the strength policy.
	MetricResetWeakCredential
	// MetricResetCompleteRateLimited counts redemptions denied by the rate limiter.
	MetricResetCompleteRateLimited
	// MetricStorageUnavailable counts operations that failed closed on storage.
	MetricStorageUnavailable
	// MetricSessionInvalidationFailed counts resets whose session revocation failed.
	MetricSessionInvalidationFailed
	// MetricLoginFailed counts recorded authentication failures.
	MetricLoginFailed
	// MetricLoginSucceeded counts recorded authentication successes.
	MetricLoginSucceeded
	// MetricAccountLocked counts failures that applied or extended a lock.
	MetricAccountLocked
	// MetricAccountUnlocked counts locks lifted by success, reset or operator.
	MetricAccountUnlocked
	// MetricAccessDenied counts CheckAccess calls that returned a lock.
	MetricAccessDenied
	// MetricNotificationFailed counts recovery notifications that failed or timed out.
	MetricNotificationFailed
	// MetricAuditWriteFailed counts audit events that were dropped or rejected.
	MetricAuditWriteFailed
	// MetricResetRequestLatency is the RequestReset latency histogram, padding included.
	MetricResetRequestLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// HistogramBounds are the upper bounds of the latency buckets, the last is +Inf.
var HistogramBounds = [histBucketCount]time.Duration{
	50 * time.Millisecond,
	100 * time.Millisecond,
	200 * time.Millisecond,
	250 * time.Millisecond,
	300 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	0,
}

type metricHistogram struct {
	buckets [histBucketCount]uint64
	sumNs   uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter. Histograms holds
// non-cumulative bucket counts; HistogramSums holds the observed total.
type MetricsSnapshot struct {
	Counters      map[MetricID]uint64
	Histograms    map[MetricID][]uint64
	HistogramSums map[MetricID]time.Duration
}

// MetricsConfig toggles collection.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to id. It is a no-op when metrics are disabled.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram for id. Only latency metrics accept
// observations.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricResetRequestLatency {
		return
	}
	if d < 0 {
		d = 0
	}

	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
	atomic.AddUint64(&m.histograms[id].sumNs, uint64(d))
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return emptySnapshot()
	}

	s := MetricsSnapshot{
		Counters:      make(map[MetricID]uint64, int(metricIDCount)),
		Histograms:    make(map[MetricID][]uint64, 1),
		HistogramSums: make(map[MetricID]time.Duration, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricResetRequestLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		h := &m.histograms[MetricResetRequestLatency]
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&h.buckets[i])
		}
		s.Histograms[MetricResetRequestLatency] = buckets
		s.HistogramSums[MetricResetRequestLatency] = time.Duration(atomic.LoadUint64(&h.sumNs))
	}

	return s
}

func emptySnapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Counters:      map[MetricID]uint64{},
		Histograms:    map[MetricID][]uint64{},
		HistogramSums: map[MetricID]time.Duration{},
	}
}

func bucketIndex(d time.Duration) int {
	for i := 0; i < histBucketCount-1; i++ {
		if d <= HistogramBounds[i] {
			return i
		}
	}
	return histBucketCount - 1
}
