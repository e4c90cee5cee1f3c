package accountguard

import (
	"testing"
	"time"
)

// resetRequestOutcomes is the metric emitted next to MetricResetRequested, in
// the proportions a public reset form sees: mostly known accounts, some typos,
// an occasional burst hitting the limiter.
var resetRequestOutcomes = [...]MetricID{
	MetricResetTokenIssued,
	MetricResetTokenIssued,
	MetricResetTokenIssued,
	MetricResetTokenIssued,
	MetricResetTokenIssued,
	MetricResetUnknownAccount,
	MetricResetUnknownAccount,
	MetricResetRequestRateLimited,
}

// loginAttemptOutcomes mirrors RecordLoginAttempt under credential stuffing:
// failures dominate and every fifth one crosses the threshold.
var loginAttemptOutcomes = [...][]MetricID{
	{MetricLoginFailed},
	{MetricLoginFailed},
	{MetricLoginFailed},
	{MetricLoginFailed},
	{MetricLoginFailed, MetricAccountLocked},
	{MetricLoginSucceeded, MetricAccountUnlocked},
}

func BenchmarkMetricsRequestResetPath(b *testing.B) {
	for _, tc := range []struct {
		name string
		cfg  MetricsConfig
	}{
		{"enabled", MetricsConfig{Enabled: true, EnableLatencyHistograms: true}},
		{"counters-only", MetricsConfig{Enabled: true}},
		{"disabled", MetricsConfig{}},
	} {
		b.Run(tc.name, func(b *testing.B) {
			m := NewMetrics(tc.cfg)
			floor := 200 * time.Millisecond
			b.ReportAllocs()
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				i := 0
				for pb.Next() {
					m.Inc(MetricResetRequested)
					m.Inc(resetRequestOutcomes[i%len(resetRequestOutcomes)])
					// floor plus up to 50ms of jitter
					m.Observe(MetricResetRequestLatency, floor+time.Duration(i%50)*time.Millisecond)
					i++
				}
			})
		})
	}
}

func BenchmarkMetricsLoginAttemptPath(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			for _, id := range loginAttemptOutcomes[i%len(loginAttemptOutcomes)] {
				m.Inc(id)
			}
			i++
		}
	})
}

func BenchmarkMetricsResetLatencyBuckets(b *testing.B) {
	for _, tc := range []struct {
		name string
		d    time.Duration
	}{
		{"below-floor", 40 * time.Millisecond},
		{"default-floor", 215 * time.Millisecond},
		{"slow-notifier", 420 * time.Millisecond},
		{"overflow", 1500 * time.Millisecond},
	} {
		b.Run(tc.name, func(b *testing.B) {
			m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
			b.ReportAllocs()
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					m.Observe(MetricResetRequestLatency, tc.d)
				}
			})
		})
	}
}

// BenchmarkMetricsSnapshotWhileRecording measures a scrape racing the lockout
// hot path.
func BenchmarkMetricsSnapshotWhileRecording(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			m.Inc(MetricLoginFailed)
			m.Observe(MetricResetRequestLatency, 210*time.Millisecond)
		}
	}()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.Snapshot()
	}
	b.StopTimer()

	close(stop)
	<-done
}
