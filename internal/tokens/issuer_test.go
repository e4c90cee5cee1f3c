package tokens

import (
	"errors"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueProducesURLSafe256BitToken(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	issuer := NewIssuer(time.Hour, func() time.Time { return now }, nil)

	tok, err := issuer.Issue("u1")
	require.NoError(t, err)

	assert.Equal(t, "u1", tok.AccountID)
	assert.Len(t, tok.Value, 43)
	assert.False(t, strings.ContainsAny(tok.Value, "+/="))
	assert.Equal(t, now, tok.IssuedAt)
	assert.Equal(t, now.Add(time.Hour), tok.ExpiresAt)

	hash, err := ParseHash(tok.Value)
	require.NoError(t, err)
	assert.Equal(t, tok.Hash, hash)
	assert.Len(t, hash.String(), 64)
}

func TestIssueTokensAreUnique(t *testing.T) {
	issuer := NewIssuer(0, nil, nil)
	assert.Equal(t, DefaultTTL, issuer.TTL())

	seen := make(map[string]struct{}, 256)
	for i := 0; i < 256; i++ {
		tok, err := issuer.Issue("u1")
		require.NoError(t, err)
		_, dup := seen[tok.Value]
		require.False(t, dup, "duplicate token generated")
		seen[tok.Value] = struct{}{}
	}
}

func TestIssueFailsClosedOnEntropyError(t *testing.T) {
	issuer := NewIssuer(time.Hour, nil, iotest.ErrReader(errors.New("exhausted")))

	tok, err := issuer.Issue("u1")
	require.ErrorIs(t, err, ErrEntropyUnavailable)
	assert.Empty(t, tok.Value)
}

func TestParseHashRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "not base64!!", "c2hvcnQ"} {
		_, err := ParseHash(raw)
		assert.ErrorIs(t, err, ErrMalformedToken, raw)
	}
}
