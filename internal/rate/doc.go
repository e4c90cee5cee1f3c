// Package rate implements fixed-window request throttling keyed by
// (action, identifier).
//
// # Window semantics
//
// The first hit starts a window with count = 1. Hits while count < max increment
// and are allowed. Hits once count >= max are denied without incrementing and
// report the time left in the window. When the window elapses the bucket is
// replaced, never decremented.
//
// Key layout: {prefix}:{action}:{identifier}
//
// # Backends
//
//   - [RedisBackend]: a Lua script makes check-and-increment a single atomic step,
//     shared across instances.
//   - [MemoryBackend]: per-process buckets for single-instance deployments and tests.
//
// # What this package must NOT do
//
//   - Count login attempts (the lockout policy owns those).
//   - Decide what a denial means to the caller.
package rate
