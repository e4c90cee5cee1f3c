package password

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrWeakCredential matches every *WeakCredentialError.
var ErrWeakCredential = errors.New("credential does not meet strength policy")

// WeakCredentialError lists the policy rules a candidate credential failed.
type WeakCredentialError struct {
	Reasons []string
}

func (e *WeakCredentialError) Error() string {
	return ErrWeakCredential.Error() + ": " + strings.Join(e.Reasons, ", ")
}

func (e *WeakCredentialError) Unwrap() error {
	return ErrWeakCredential
}

// Policy is the credential strength policy applied before a credential change.
type Policy struct {
	MinLength         int      `koanf:"minLength"`
	MaxBytes          int      `koanf:"maxBytes"`
	MinCharacterClass int      `koanf:"minCharacterClasses"`
	Denylist          []string `koanf:"denylist"`
}

// DefaultPolicy requires 10 characters, at most 1024 bytes and two character classes.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:         10,
		MaxBytes:          1024,
		MinCharacterClass: 2,
		Denylist:          []string{"password", "123456", "qwerty", "letmein"},
	}
}

// Check returns nil or a *WeakCredentialError. Hints are account attributes
// (for example the email local part) that must not appear in the credential.
func (p Policy) Check(credential string, hints ...string) error {
	var reasons []string

	if p.MinLength > 0 && utf8.RuneCountInString(credential) < p.MinLength {
		reasons = append(reasons, "too_short")
	}
	if p.MaxBytes > 0 && len(credential) > p.MaxBytes {
		reasons = append(reasons, "too_long")
	}
	if p.MinCharacterClass > 0 && characterClasses(credential) < p.MinCharacterClass {
		reasons = append(reasons, "too_few_character_classes")
	}

	lower := strings.ToLower(credential)
	for _, banned := range p.Denylist {
		if banned != "" && strings.Contains(lower, strings.ToLower(banned)) {
			reasons = append(reasons, "common_password")
			break
		}
	}
	for _, hint := range hints {
		if len(hint) >= 3 && strings.Contains(lower, strings.ToLower(hint)) {
			reasons = append(reasons, "contains_account_detail")
			break
		}
	}

	if len(reasons) > 0 {
		return &WeakCredentialError{Reasons: reasons}
	}
	return nil
}

func characterClasses(s string) int {
	var lower, upper, digit, other bool
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			other = true
		}
	}

	n := 0
	for _, set := range []bool{lower, upper, digit, other} {
		if set {
			n++
		}
	}
	return n
}
