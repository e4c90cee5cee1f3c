// Package audit records security events without blocking the operation being audited.
//
// # Components
//
//   - [Event]: append-only record of the actor, action, outcome, reason and correlation metadata.
//   - [Chain]: assigns seq/prev_hash/hash so edits, drops and reorders are detectable.
//   - [Dispatcher]: buffered async relay; each sink write is bounded by a timeout and
//     every failure or drop is reported through a FailureFunc.
//   - [Sink]: persistence target (channel, JSON lines, multi, no-op; Postgres lives in
//     internal/infra/postgres).
//
// # Architecture boundaries
//
// This package owns sealing, buffering and sink delivery. It does NOT decide which
// events to emit; the Engine and flow functions do.
//
// # What this package must NOT do
//
//   - Mutate or delete an event after sealing.
//   - Return sink errors to the audited operation.
package audit
