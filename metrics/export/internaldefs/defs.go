package internaldefs

import (
	"strconv"
	"strings"

	"github.com/MrEthical07/accountguard"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   accountguard.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   accountguard.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in MetricID order.
var CounterDefs = []CounterDef{
	{ID: accountguard.MetricResetRequested, Name: "accountguard_reset_requested_total", Help: "Recovery requests received."},
	{ID: accountguard.MetricResetRequestRateLimited, Name: "accountguard_reset_request_rate_limited_total", Help: "Recovery requests silently rate limited."},
	{ID: accountguard.MetricResetTokenIssued, Name: "accountguard_reset_token_issued_total", Help: "Recovery tokens persisted."},
	{ID: accountguard.MetricResetUnknownAccount, Name: "accountguard_reset_unknown_account_total", Help: "Recovery requests for unknown or disabled accounts."},
	{ID: accountguard.MetricResetCompleted, Name: "accountguard_reset_completed_total", Help: "Successful credential resets."},
	{ID: accountguard.MetricResetInvalidToken, Name: "accountguard_reset_invalid_token_total", Help: "Rejected recovery token redemptions."},
	{ID: accountguard.MetricResetWeakCredential, Name: "accountguard_reset_weak_credential_total", Help: "Redemptions rejected by the credential policy."},
	{ID: accountguard.MetricResetCompleteRateLimited, Name: "accountguard_reset_complete_rate_limited_total", Help: "Redemptions denied by the rate limiter."},
	{ID: accountguard.MetricStorageUnavailable, Name: "accountguard_storage_unavailable_total", Help: "Operations that failed closed on storage errors."},
	{ID: accountguard.MetricSessionInvalidationFailed, Name: "accountguard_session_invalidation_failed_total", Help: "Resets whose session revocation failed."},
	{ID: accountguard.MetricLoginFailed, Name: "accountguard_login_failed_total", Help: "Recorded authentication failures."},
	{ID: accountguard.MetricLoginSucceeded, Name: "accountguard_login_succeeded_total", Help: "Recorded authentication successes."},
	{ID: accountguard.MetricAccountLocked, Name: "accountguard_account_locked_total", Help: "Failures that applied or extended a lock."},
	{ID: accountguard.MetricAccountUnlocked, Name: "accountguard_account_unlocked_total", Help: "Locks lifted by success, reset or operator."},
	{ID: accountguard.MetricAccessDenied, Name: "accountguard_access_denied_total", Help: "Access checks that returned a lock."},
	{ID: accountguard.MetricNotificationFailed, Name: "accountguard_notification_failed_total", Help: "Recovery notifications that failed or timed out."},
	{ID: accountguard.MetricAuditWriteFailed, Name: "accountguard_audit_write_failed_total", Help: "Audit events rejected by the sink."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: accountguard.MetricResetRequestLatency, Name: "accountguard_reset_request_latency_seconds", Help: "RequestReset latency including enumeration padding."},
}

// BucketCount is the number of latency buckets, +Inf included.
const BucketCount = len(accountguard.HistogramBounds)

// UpperBounds returns the finite bucket bounds in seconds.
func UpperBounds() []float64 {
	out := make([]float64, 0, BucketCount-1)
	for _, b := range accountguard.HistogramBounds[:BucketCount-1] {
		out = append(out, b.Seconds())
	}
	return out
}

// BoundSuffix renders bucket i as an instrument-name-safe suffix ("0_05", "inf").
func BoundSuffix(i int) string {
	if i >= BucketCount-1 {
		return "inf"
	}
	s := strconv.FormatFloat(accountguard.HistogramBounds[i].Seconds(), 'f', -1, 64)
	return strings.ReplaceAll(s, ".", "_")
}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
