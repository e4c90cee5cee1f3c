// Package config loads the accountguard daemon configuration from a YAML file
// with environment variable overrides.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"

	"github.com/MrEthical07/accountguard"
)

const defaultPath = "."

// Config is the daemon configuration. Zero durations and counts fall back to
// accountguard.DefaultConfig.
type Config struct {
	Env struct {
		Env         string `json:"env" yaml:"env"`
		ServiceName string `json:"serviceName" yaml:"serviceName"`
		Log         Log    `json:"log" yaml:"log"`
	} `json:"env" yaml:"env"`

	HTTP struct {
		Port        int    `json:"port" yaml:"port"`
		InternalKey string `json:"internalKey" yaml:"internalKey"`
		Timeouts    struct {
			ReadTimeout       time.Duration `json:"readTimeout" yaml:"readTimeout"`
			ReadHeaderTimeout time.Duration `json:"readHeaderTimeout" yaml:"readHeaderTimeout"`
			WriteTimeout      time.Duration `json:"writeTimeout" yaml:"writeTimeout"`
			IdleTimeout       time.Duration `json:"idleTimeout" yaml:"idleTimeout"`
		} `json:"timeouts" yaml:"timeouts"`
	} `json:"http" yaml:"http"`

	Redis struct {
		Addr     string `json:"addr" yaml:"addr"`
		Password string `json:"password" yaml:"password"`
		DB       int    `json:"db" yaml:"db"`
	} `json:"redis" yaml:"redis"`

	Postgres struct {
		DSN             string        `json:"dsn" yaml:"dsn"`
		MaxConns        int32         `json:"maxConns" yaml:"maxConns"`
		MaxConnLifetime time.Duration `json:"maxConnLifetime" yaml:"maxConnLifetime"`
	} `json:"postgres" yaml:"postgres"`

	Recovery *RecoveryConfig `json:"recovery" yaml:"recovery"`

	Audit *AuditConfig `json:"audit" yaml:"audit"`

	// Notification selects how reset links reach the email worker.
	Notification *NotificationConfig `json:"notification" yaml:"notification"`
}

// Log configures the slog handler.
type Log struct {
	Pretty bool   `json:"pretty" yaml:"pretty"`
	Level  string `json:"level" yaml:"level"`
}

// RecoveryConfig mirrors the tunables of accountguard.Config.
type RecoveryConfig struct {
	StorageBackend   string        `json:"storageBackend" yaml:"storageBackend"`
	RateLimitBackend string        `json:"rateLimitBackend" yaml:"rateLimitBackend"`
	StorageTimeout   time.Duration `json:"storageTimeout" yaml:"storageTimeout"`

	TokenTTL       time.Duration `json:"tokenTTL" yaml:"tokenTTL"`
	TokenRetention time.Duration `json:"tokenRetention" yaml:"tokenRetention"`
	ResetURL       string        `json:"resetURL" yaml:"resetURL"`

	LockoutThreshold    int           `json:"lockoutThreshold" yaml:"lockoutThreshold"`
	LockoutBaseDuration time.Duration `json:"lockoutBaseDuration" yaml:"lockoutBaseDuration"`
	LockoutMultiplier   float64       `json:"lockoutMultiplier" yaml:"lockoutMultiplier"`
	LockoutMaxDuration  time.Duration `json:"lockoutMaxDuration" yaml:"lockoutMaxDuration"`

	RequestLimit   RateRule      `json:"requestLimit" yaml:"requestLimit"`
	CompleteLimit  RateRule      `json:"completeLimit" yaml:"completeLimit"`
	ResponseFloor  time.Duration `json:"responseFloor" yaml:"responseFloor"`
	ResponseJitter time.Duration `json:"responseJitter" yaml:"responseJitter"`

	PasswordMinLength int `json:"passwordMinLength" yaml:"passwordMinLength"`
}

// RateRule is one fixed window.
type RateRule struct {
	Max    int           `json:"max" yaml:"max"`
	Window time.Duration `json:"window" yaml:"window"`
}

// AuditConfig selects where audit events go.
type AuditConfig struct {
	// Sink is "postgres", "file" or "stdout".
	Sink       string `json:"sink" yaml:"sink"`
	File       string `json:"file" yaml:"file"`
	BufferSize int    `json:"bufferSize" yaml:"bufferSize"`
	DropIfFull bool   `json:"dropIfFull" yaml:"dropIfFull"`
}

// NotificationConfig defines how recovery notices are published.
type NotificationConfig struct {
	// Provider is "google" for Google Pub/Sub, "local" for an HTTP push endpoint
	// or "log" to only log that a notice was produced.
	Provider      string        `json:"provider" yaml:"provider"`
	ProjectID     string        `json:"projectId" yaml:"projectId"`
	TopicID       string        `json:"topicId" yaml:"topicId"`
	LocalEndpoint string        `json:"localEndpoint" yaml:"localEndpoint"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
}

// LoadWithEnv loads <currEnv>.yaml from the first search path containing it and
// overlays environment variables such as RECOVERY_TOKENTTL=30m.
func LoadWithEnv[T any](currEnv string, configPath ...string) (*T, error) {
	cfg := new(T)
	k := koanf.New(".")

	searchPaths := []string{defaultPath}
	if len(configPath) != 0 {
		pwd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "os.Getwd")
		}
		for _, path := range configPath {
			if filepath.IsAbs(path) {
				searchPaths = append(searchPaths, path)
				continue
			}
			searchPaths = append(searchPaths, filepath.Join(pwd, path))
		}
	}

	var configFile string
	for _, path := range searchPaths {
		candidate := filepath.Join(path, currEnv+".yaml")
		if _, err := os.Stat(candidate); err == nil {
			configFile = candidate
			break
		}
	}
	if configFile == "" {
		return nil, errors.Errorf("config file %s.yaml not found in any search path", currEnv)
	}

	if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
		return nil, errors.Wrapf(err, "read %s config failed", currEnv)
	}

	existing := k.Raw()
	if err := k.Load(env.Provider(".", env.Opt{
		TransformFunc: func(key, value string) (string, any) {
			return canonicalizeEnvKey(key, existing), value
		},
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load env variables failed")
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
			MatchName: func(mapKey, fieldName string) bool {
				return strings.EqualFold(mapKey, fieldName)
			},
		},
	}); err != nil {
		return nil, errors.Wrapf(err, "unmarshal %s config failed", currEnv)
	}

	return cfg, nil
}

// New loads config.yaml from the working directory or a nearby config directory.
func New() (*Config, error) {
	return Load("")
}

// Load reads path when set, otherwise searches the default locations.
func Load(path string) (*Config, error) {
	if path != "" {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		dir, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return nil, errors.Wrap(err, "resolve config path")
		}
		return LoadWithEnv[Config](name, dir)
	}
	return LoadWithEnv[Config]("config", "config", "../config", "../../config")
}

// EngineConfig overlays the daemon settings on accountguard.DefaultConfig.
func (c *Config) EngineConfig() accountguard.Config {
	out := accountguard.DefaultConfig()

	if r := c.Recovery; r != nil {
		setString(&out.Storage.Backend, accountguard.StorageBackend(r.StorageBackend))
		setString(&out.RateLimit.Backend, r.RateLimitBackend)
		setPositive(&out.Storage.Timeout, r.StorageTimeout)
		setPositive(&out.Token.TTL, r.TokenTTL)
		setPositive(&out.Token.Retention, r.TokenRetention)
		setString(&out.Token.ResetURL, r.ResetURL)
		setPositive(&out.Lockout.Threshold, r.LockoutThreshold)
		setPositive(&out.Lockout.BaseDuration, r.LockoutBaseDuration)
		setPositive(&out.Lockout.Multiplier, r.LockoutMultiplier)
		setPositive(&out.Lockout.MaxDuration, r.LockoutMaxDuration)
		setPositive(&out.RateLimit.ResetRequest.Max, r.RequestLimit.Max)
		setPositive(&out.RateLimit.ResetRequest.Window, r.RequestLimit.Window)
		setPositive(&out.RateLimit.ResetComplete.Max, r.CompleteLimit.Max)
		setPositive(&out.RateLimit.ResetComplete.Window, r.CompleteLimit.Window)
		setPositive(&out.Enumeration.ResponseFloor, r.ResponseFloor)
		setPositive(&out.Enumeration.MaxJitter, r.ResponseJitter)
		setPositive(&out.Policy.MinLength, r.PasswordMinLength)
	}
	if a := c.Audit; a != nil {
		setPositive(&out.Audit.BufferSize, a.BufferSize)
		out.Audit.DropIfFull = a.DropIfFull
	}
	if n := c.Notification; n != nil {
		setPositive(&out.Notification.Timeout, n.Timeout)
	}

	return out
}

type positive interface {
	~int | ~int32 | ~int64 | ~float64
}

func setPositive[T positive](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

func setString[T ~string](dst *T, v T) {
	if v != "" {
		*dst = v
	}
}

func canonicalizeEnvKey(rawKey string, existing map[string]any) string {
	segments := strings.Split(strings.ToLower(rawKey), "_")
	canonical := make([]string, 0, len(segments))
	current := existing

	for _, segment := range segments {
		if segment == "" {
			continue
		}

		if matched, next, ok := findExistingSegment(current, segment); ok {
			canonical = append(canonical, matched)
			current = next
		} else {
			canonical = append(canonical, segment)
			current = nil
		}
	}

	return strings.Join(canonical, ".")
}

func findExistingSegment(current map[string]any, segment string) (string, map[string]any, bool) {
	if len(current) == 0 {
		return "", nil, false
	}

	needle := normalizeToken(segment)
	for key, value := range current {
		if normalizeToken(key) != needle {
			continue
		}
		child, _ := value.(map[string]any)
		return key, child, true
	}

	return "", nil, false
}

func normalizeToken(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
