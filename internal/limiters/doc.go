// Package limiters implements progressive account lockout.
//
// [LockoutPolicy] is the state machine: failures accumulate until the
// threshold is reached, then every further failure locks the account for
// base * multiplier^(failures-threshold), capped at the configured maximum.
// A successful login or an administrative unlock resets the state.
//
// State lives behind [LockoutStore], with Redis and Postgres implementations.
// A failure is one store step: the increment and any lock it triggers are
// applied together (a Lua script in Redis, a single UPDATE in Postgres). A
// concurrent reset therefore lands either before or after the whole step,
// concurrent failures are never lost and a lock is never shortened.
//
// This package does NOT emit audit events or decide what a lock means for a
// request; flow functions in internal/flows do.
package limiters
