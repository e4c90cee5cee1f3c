// Package tokens generates recovery tokens and derives their storage hashes.
//
// # Format
//
// A token is 32 bytes from crypto/rand, transported as unpadded base64url (43 chars).
// Storage sees only SHA-256(secret) as lowercase hex.
//
// # What this package must NOT do
//
//   - Persist tokens (that is the TokenStore's job).
//   - Fall back to a non-cryptographic generator when the entropy source fails.
package tokens
