// Package flows contains the orchestrators behind every Engine operation.
//
// Each flow function (RunRequestReset, RunCompleteReset, RunRecordLoginAttempt,
// RunCheckAccess, RunUnlock) accepts a typed dependency struct of functions and
// returns results without side effects beyond those dependencies. The Engine
// builds the structs once and keeps ownership of the underlying stores.
//
// # Ordering
//
// Within one call steps run strictly as rate limit, lockout check, token
// operation, audit. Any failure short-circuits the remaining steps; every
// storage step runs under its own bounded timeout and a timeout is a failure.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import the root package (to avoid import cycles).
//   - Reveal account existence, lockout or rate-limit state through a
//     RunRequestReset result.
package flows
