package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	// SecretSize is the number of random bytes in a recovery token (256 bits).
	SecretSize = 32

	// DefaultTTL is used when the issuer is built with a non-positive TTL.
	DefaultTTL = time.Hour
)

var (
	// ErrEntropyUnavailable indicates the randomness source failed. Callers must not retry
	// with a weaker generator.
	ErrEntropyUnavailable = errors.New("entropy source unavailable")
	// ErrMalformedToken indicates a raw token that cannot have been produced by Issue.
	ErrMalformedToken = errors.New("malformed recovery token")
)

// Hash is the SHA-256 digest of a raw token secret. Only hashes are persisted.
type Hash [sha256.Size]byte

// String returns the lowercase hex form used as a storage key.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Token is a freshly issued recovery token. Value is the transport form handed to the
// account holder and must never be persisted or logged.
type Token struct {
	AccountID string
	Value     string
	Hash      Hash
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer generates single-use recovery tokens.
type Issuer struct {
	ttl     time.Duration
	now     func() time.Time
	entropy io.Reader
}

// NewIssuer creates an Issuer. A nil clock defaults to time.Now and a nil entropy
// source defaults to crypto/rand.
func NewIssuer(ttl time.Duration, now func() time.Time, entropy io.Reader) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	if entropy == nil {
		entropy = rand.Reader
	}
	return &Issuer{ttl: ttl, now: now, entropy: entropy}
}

// TTL returns the configured token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue generates a token for accountID that expires TTL from now.
func (i *Issuer) Issue(accountID string) (Token, error) {
	var secret [SecretSize]byte
	if _, err := io.ReadFull(i.entropy, secret[:]); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}

	issuedAt := i.now()
	return Token{
		AccountID: accountID,
		// base64url, no padding: safe inside a query string
		Value:     base64.RawURLEncoding.EncodeToString(secret[:]),
		Hash:      sha256.Sum256(secret[:]),
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(i.ttl),
	}, nil
}

// ParseHash decodes a raw transport token and returns its storage hash.
func ParseHash(raw string) (Hash, error) {
	secret, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return Hash{}, ErrMalformedToken
	}
	if len(secret) != SecretSize {
		return Hash{}, ErrMalformedToken
	}
	return sha256.Sum256(secret), nil
}
