package password

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func TestHashAndVerify(t *testing.T) {
	hasher, err := NewArgon2(fastConfig())
	require.NoError(t, err)

	hash, err := hasher.Hash("P@ssw0rd-Ascii")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$"), hash)

	ok, err := hasher.Verify("P@ssw0rd-Ascii", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hasher.Verify("wrong-password", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashesAreSalted(t *testing.T) {
	hasher, err := NewArgon2(fastConfig())
	require.NoError(t, err)

	a, err := hasher.Hash("same-credential")
	require.NoError(t, err)
	b, err := hasher.Hash("same-credential")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestNeedsUpgrade(t *testing.T) {
	weak, err := NewArgon2(fastConfig())
	require.NoError(t, err)
	hash, err := weak.Hash("upgrade-me-please")
	require.NoError(t, err)

	strongCfg := fastConfig()
	strongCfg.Time = 2
	strong, err := NewArgon2(strongCfg)
	require.NoError(t, err)

	upgrade, err := strong.NeedsUpgrade(hash)
	require.NoError(t, err)
	assert.True(t, upgrade)

	upgrade, err = weak.NeedsUpgrade(hash)
	require.NoError(t, err)
	assert.False(t, upgrade)
}

func TestVerifyRejectsMalformedHashes(t *testing.T) {
	hasher, err := NewArgon2(fastConfig())
	require.NoError(t, err)

	for _, encoded := range []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$c2hvcnQ$aGFzaA",
	} {
		_, err := hasher.Verify("x", encoded)
		assert.True(t, errors.Is(err, ErrMalformedHash), "expected malformed for %q, got %v", encoded, err)
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := fastConfig()
	cfg.SaltLength = 8
	_, err := NewArgon2(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPolicyCheck(t *testing.T) {
	policy := DefaultPolicy()

	assert.NoError(t, policy.Check("correct-Horse-battery"))

	cases := map[string]string{
		"short1":                  "too_short",
		"alllowercaseletters":     "too_few_character_classes",
		"MyPassword-2026":         "common_password",
		"alice-Wonderland-77":     "contains_account_detail",
		strings.Repeat("aB", 600): "too_long",
	}
	for credential, reason := range cases {
		err := policy.Check(credential, "alice")
		var weak *WeakCredentialError
		require.ErrorAs(t, err, &weak, credential)
		assert.Contains(t, weak.Reasons, reason)
		assert.ErrorIs(t, err, ErrWeakCredential)
	}
}
