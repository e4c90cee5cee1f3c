// Package stores persists recovery token records.
//
// # Design
//
// Records are keyed by the SHA-256 hash of the raw token; the raw token is
// never stored. Two backends implement [TokenStore]:
//
//   - [RedisTokenStore] keeps a record per hash plus a pointer to the
//     account's current token and uses WATCH/MULTI optimistic transactions so concurrent Consume calls for
//     the same token yield exactly one winner.
//   - [PostgresTokenStore] relies on a conditional UPDATE ... RETURNING on the
//     password_reset_tokens table for the same guarantee.
//
// Saving a token for an account supersedes every unconsumed token it already
// had. Consume failures are classified as not found, expired, already
// consumed or superseded; callers collapse them into a single external error.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for token records. It
// does NOT generate tokens, enforce rate limits or change credentials; those
// belong to internal/tokens and internal/flows.
//
// # What this package must NOT do
//
//   - Import accountguard or the flow package.
//   - Log or expose raw tokens or token hashes.
package stores
