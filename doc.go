// Package accountguard provides the account security and recovery engine:
// single-use credential recovery tokens, progressive account lockout, fixed-window
// rate limiting of recovery requests, and a hash-chained security audit trail.
//
// Engine methods are safe to call from multiple goroutines after initialization
// through [Builder.Build].
//
// # Architecture boundaries
//
// accountguard is the public surface. It exposes [Engine], [Builder], [Config], the
// error taxonomy and the collaborator interfaces ([AccountProvider],
// [RecoveryNotifier], [SessionInvalidator], [AuditSink]). Flow orchestration, token
// and lockout stores, rate limiting and audit dispatch live under internal/.
//
// # Externally visible errors
//
// RequestReset returns the same [ResetAccepted] whether or not the address belongs to
// an account, and whether or not the request was rate limited. CompleteReset reports
// every token rejection as [ErrInvalidToken]; the precise reason is only recorded in
// the audit trail.
//
// # What this package must NOT do
//
//   - Persist or log raw recovery tokens or credentials.
//   - Mutate lockout state from CheckAccess or LockoutStatus.
//   - Fail an operation because its audit event could not be written.
package accountguard
