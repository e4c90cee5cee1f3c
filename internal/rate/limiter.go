package rate

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Action names a throttled operation.
type Action string

const (
	ActionPasswordResetRequest  Action = "password_reset_request"
	ActionPasswordResetComplete Action = "password_reset_complete"
)

// Rule is the per-action fixed-window budget. Max <= 0 disables throttling.
type Rule struct {
	Max    int
	Window time.Duration
}

// Decision is the outcome of a single bucket hit.
type Decision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// Backend stores buckets. Hit must check and increment atomically.
type Backend interface {
	Hit(ctx context.Context, key string, rule Rule) (Decision, error)
}

// Limiter applies per-action rules to identifiers.
type Limiter struct {
	backend Backend
	rules   map[Action]Rule
	prefix  string
}

// New creates a [Limiter] over backend with the given per-action rules.
func New(backend Backend, rules map[Action]Rule, prefix string) *Limiter {
	if prefix == "" {
		prefix = "arl"
	}
	copied := make(map[Action]Rule, len(rules))
	for action, rule := range rules {
		copied[action] = rule
	}
	return &Limiter{backend: backend, rules: copied, prefix: prefix}
}

// Rule returns the configured rule for action.
func (l *Limiter) Rule(action Action) (Rule, bool) {
	rule, ok := l.rules[action]
	return rule, ok
}

// Allow records one request by identifier for action.
func (l *Limiter) Allow(ctx context.Context, identifier string, action Action) (Decision, error) {
	rule, ok := l.rules[action]
	if !ok || rule.Max <= 0 || rule.Window <= 0 {
		return Decision{Allowed: true}, nil
	}
	if identifier == "" {
		return Decision{Allowed: true}, nil
	}

	d, err := l.backend.Hit(ctx, l.key(action, identifier), rule)
	if err != nil {
		if errors.Is(err, ErrBackendUnavailable) {
			return Decision{}, err
		}
		return Decision{}, errors.Join(ErrBackendUnavailable, err)
	}
	return d, nil
}

// AllowAll checks every non-empty identifier independently; the most restrictive
// decision wins. Backend failure on any identifier fails the whole check.
func (l *Limiter) AllowAll(ctx context.Context, action Action, identifiers ...string) (Decision, error) {
	result := Decision{Allowed: true}
	for _, id := range identifiers {
		if id == "" {
			continue
		}

		d, err := l.Allow(ctx, id, action)
		if err != nil {
			return Decision{}, err
		}
		if d.Count > result.Count {
			result.Count = d.Count
		}
		if !d.Allowed {
			result.Allowed = false
			if d.RetryAfter > result.RetryAfter {
				result.RetryAfter = d.RetryAfter
			}
		}
	}
	return result, nil
}

// Enforce is AllowAll returning ErrRateLimited on denial.
func (l *Limiter) Enforce(ctx context.Context, action Action, identifiers ...string) (time.Duration, error) {
	d, err := l.AllowAll(ctx, action, identifiers...)
	if err != nil {
		return 0, err
	}
	if !d.Allowed {
		return d.RetryAfter, ErrRateLimited
	}
	return 0, nil
}

func (l *Limiter) key(action Action, identifier string) string {
	return l.prefix + ":" + string(action) + ":" + strings.ToLower(strings.TrimSpace(identifier))
}
