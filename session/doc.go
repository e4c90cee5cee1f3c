// Package session revokes an account's active sessions after a credential change.
//
// The session layer itself (issuance, refresh, JWT) lives outside this module; this
// package only needs the per-account index it maintains in Redis.
//
// # What this package must NOT do
//
//   - Create or refresh sessions.
//   - Make authentication decisions.
package session
