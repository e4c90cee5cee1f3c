package accountguard

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/MrEthical07/accountguard/password"
)

// Config is the complete engine configuration. Start from DefaultConfig and
// override fields; Build validates the result.
type Config struct {
	Token        TokenConfig
	Lockout      LockoutConfig
	RateLimit    RateLimitConfig
	Storage      StorageConfig
	Audit        AuditConfig
	Enumeration  EnumerationConfig
	Notification NotificationConfig
	Password     password.Config
	Policy       password.Policy
	Metrics      MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls recovery token lifetime.
type TokenConfig struct {
	TTL time.Duration
	// Retention keeps consumed and expired records for audit correlation.
	Retention time.Duration
	// ResetURL is the page the notification links to; the token is appended as
	// the "token" query parameter.
	ResetURL string
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig is the progressive lockout policy.
type LockoutConfig struct {
	Threshold    int
	BaseDuration time.Duration
	Multiplier   float64
	MaxDuration  time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitRule is one fixed window.
type RateLimitRule struct {
	Max    int
	Window time.Duration
}

// RateLimitConfig holds the fixed windows per action.
type RateLimitConfig struct {
	// Backend is "redis" (default when a client is supplied) or "memory".
	Backend       string
	Prefix        string
	ResetRequest  RateLimitRule
	ResetComplete RateLimitRule
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StorageBackend selects where tokens and lockout state live.
type StorageBackend string

const (
	// StorageRedis keeps tokens and lockout state in Redis.
	StorageRedis StorageBackend = "redis"
	// StoragePostgres keeps tokens and lockout state in Postgres.
	StoragePostgres StorageBackend = "postgres"
)

// StorageConfig controls the durable stores.
type StorageConfig struct {
	Backend StorageBackend
	// Timeout bounds every individual storage round trip.
	Timeout       time.Duration
	TokenPrefix   string
	LockoutPrefix string
	SessionPrefix string
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled      bool
	BufferSize   int
	DropIfFull   bool
	WriteTimeout time.Duration
}

/*
====================================
ENUMERATION CONFIG
====================================
*/

// EnumerationConfig pads RequestReset so latency does not depend on whether
// the account exists.
type EnumerationConfig struct {
	ResponseFloor time.Duration
	MaxJitter     time.Duration
}

// NotificationConfig bounds fire-and-forget notification dispatch.
type NotificationConfig struct {
	Timeout time.Duration
}

// DefaultConfig returns the recommended configuration.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			TTL:       time.Hour,
			Retention: 24 * time.Hour,
			ResetURL:  "http://localhost:8080/reset-password",
		},
		Lockout: LockoutConfig{
			Threshold:    5,
			BaseDuration: 15 * time.Minute,
			Multiplier:   2,
			MaxDuration:  24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Backend:       "redis",
			Prefix:        "arl",
			ResetRequest:  RateLimitRule{Max: 3, Window: 15 * time.Minute},
			ResetComplete: RateLimitRule{Max: 10, Window: 15 * time.Minute},
		},
		Storage: StorageConfig{
			Backend:       StorageRedis,
			Timeout:       2 * time.Second,
			TokenPrefix:   "art",
			LockoutPrefix: "alo",
			SessionPrefix: "as",
		},
		Audit: AuditConfig{
			Enabled:      true,
			BufferSize:   1024,
			WriteTimeout: 2 * time.Second,
		},
		Enumeration: EnumerationConfig{
			ResponseFloor: 200 * time.Millisecond,
			MaxJitter:     50 * time.Millisecond,
		},
		Notification: NotificationConfig{
			Timeout: 10 * time.Second,
		},
		Password: password.DefaultConfig(),
		Policy:   password.DefaultPolicy(),
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Policy.Denylist != nil {
		out.Policy.Denylist = append([]string(nil), cfg.Policy.Denylist...)
	}
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Token
	if c.Token.TTL <= 0 {
		return errors.New("Token TTL must be > 0")
	}
	if c.Token.Retention < 0 {
		return errors.New("Token Retention must be >= 0")
	}
	if c.Token.ResetURL != "" {
		u, err := url.Parse(c.Token.ResetURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("Token ResetURL must be an absolute URL")
		}
	}

	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.BaseDuration <= 0 {
		return errors.New("Lockout BaseDuration must be > 0")
	}
	if c.Lockout.Multiplier < 1 {
		return errors.New("Lockout Multiplier must be >= 1")
	}
	if c.Lockout.MaxDuration < c.Lockout.BaseDuration {
		return errors.New("Lockout MaxDuration must be >= BaseDuration")
	}

	// Rate limits
	switch c.RateLimit.Backend {
	case "", "redis", "memory":
	default:
		return fmt.Errorf("RateLimit Backend %q is invalid", c.RateLimit.Backend)
	}
	for name, rule := range map[string]RateLimitRule{
		"ResetRequest":  c.RateLimit.ResetRequest,
		"ResetComplete": c.RateLimit.ResetComplete,
	} {
		if rule.Max <= 0 || rule.Window <= 0 {
			return fmt.Errorf("RateLimit %s requires Max > 0 and Window > 0", name)
		}
	}

	// Storage
	switch c.Storage.Backend {
	case StorageRedis, StoragePostgres:
	default:
		return fmt.Errorf("Storage Backend %q is invalid", c.Storage.Backend)
	}
	if c.Storage.Timeout <= 0 {
		return errors.New("Storage Timeout must be > 0")
	}

	// Audit
	if c.Audit.Enabled {
		if c.Audit.BufferSize <= 0 {
			return errors.New("Audit BufferSize must be > 0 when audit is enabled")
		}
		if c.Audit.WriteTimeout <= 0 {
			return errors.New("Audit WriteTimeout must be > 0 when audit is enabled")
		}
	}

	if c.Enumeration.ResponseFloor < 0 || c.Enumeration.MaxJitter < 0 {
		return errors.New("Enumeration durations must be >= 0")
	}
	if c.Notification.Timeout <= 0 {
		return errors.New("Notification Timeout must be > 0")
	}

	if err := c.Password.Validate(); err != nil {
		return err
	}
	if c.Policy.MinLength <= 0 {
		return errors.New("Policy MinLength must be > 0")
	}
	return nil
}

// LintWarning is a setting that is valid but weakens a guarantee.
type LintWarning struct {
	Code    string
	Message string
}

// LintWarnings is the result of Config.Lint.
type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Code
	}
	return out
}

// Lint reports valid but risky settings.
func (c *Config) Lint() LintWarnings {
	var ws LintWarnings
	add := func(code, msg string) {
		ws = append(ws, LintWarning{Code: code, Message: msg})
	}

	if c.Token.TTL > 2*time.Hour {
		add("token_ttl_long", "recovery tokens valid for more than 2h widen the interception window")
	}
	if c.Enumeration.ResponseFloor == 0 {
		add("enumeration_floor_disabled", "RequestReset latency may reveal whether an account exists")
	}
	if c.RateLimit.Backend == "memory" {
		add("rate_limit_memory", "in-memory rate limits are per process and reset on restart")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", "security events will not be recorded")
	}
	if c.Audit.Enabled && c.Audit.DropIfFull {
		add("audit_drop_if_full", "audit events are dropped under backpressure")
	}
	if c.Lockout.Threshold > 10 {
		add("lockout_threshold_high", "more than 10 failures are allowed before locking")
	}
	if c.Storage.Timeout > 5*time.Second {
		add("storage_timeout_long", "storage timeouts above 5s hold requests open during outages")
	}
	if c.Policy.MinLength < 10 {
		add("policy_min_length_short", "credentials shorter than 10 characters are accepted")
	}
	return ws
}
