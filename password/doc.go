// Package password hashes credentials with argon2id and applies the credential
// strength policy used before a reset is committed.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters so the
// caller can re-hash on the next successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve credentials.
//   - Log plaintext credentials or hash parameters at runtime.
package password
