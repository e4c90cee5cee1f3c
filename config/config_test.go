package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/accountguard"
)

func TestCanonicalizeEnvKeyUsesExistingCamelCaseKeys(t *testing.T) {
	existing := map[string]any{
		"recovery": map[string]any{
			"tokenTTL": "1h",
			"requestLimit": map[string]any{
				"max": 3,
			},
		},
		"http": map[string]any{
			"internalKey": "",
		},
	}

	tests := []struct {
		envKey string
		want   string
	}{
		{envKey: "RECOVERY_TOKENTTL", want: "recovery.tokenTTL"},
		{envKey: "RECOVERY_REQUESTLIMIT_MAX", want: "recovery.requestLimit.max"},
		{envKey: "HTTP_INTERNALKEY", want: "http.internalKey"},
		{envKey: "NEW_FEATURE_FLAG", want: "new.feature.flag"},
	}

	for _, tt := range tests {
		t.Run(tt.envKey, func(t *testing.T) {
			assert.Equal(t, tt.want, canonicalizeEnvKey(tt.envKey, existing))
		})
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	t.Setenv("RECOVERY_TOKENTTL", "45m")
	t.Setenv("HTTP_INTERNALKEY", "from-env")

	cfg, err := Load("testdata/test.yaml")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "from-env", cfg.HTTP.InternalKey)
	assert.Equal(t, "debug", cfg.Env.Log.Level)
	require.NotNil(t, cfg.Recovery)
	assert.Equal(t, 45*time.Minute, cfg.Recovery.TokenTTL)
	assert.Equal(t, RateRule{Max: 2, Window: 10 * time.Minute}, cfg.Recovery.RequestLimit)
	require.NotNil(t, cfg.Notification)
	assert.Equal(t, "google", cfg.Notification.Provider)
	assert.Equal(t, "demo-project", cfg.Notification.ProjectID)
}

func TestEngineConfigOverlaysDefaults(t *testing.T) {
	cfg, err := Load("testdata/test.yaml")
	require.NoError(t, err)

	engineCfg := cfg.EngineConfig()
	defaults := accountguard.DefaultConfig()

	assert.Equal(t, accountguard.StoragePostgres, engineCfg.Storage.Backend)
	assert.Equal(t, "memory", engineCfg.RateLimit.Backend)
	assert.Equal(t, 30*time.Minute, engineCfg.Token.TTL)
	assert.Equal(t, 3, engineCfg.Lockout.Threshold)
	assert.Equal(t, 2, engineCfg.RateLimit.ResetRequest.Max)
	assert.Equal(t, 64, engineCfg.Audit.BufferSize)

	// unset values keep the library defaults
	assert.Equal(t, defaults.Lockout.BaseDuration, engineCfg.Lockout.BaseDuration)
	assert.Equal(t, defaults.RateLimit.ResetComplete, engineCfg.RateLimit.ResetComplete)
	assert.Equal(t, defaults.Enumeration.ResponseFloor, engineCfg.Enumeration.ResponseFloor)
	require.NoError(t, engineCfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("testdata/missing.yaml")
	assert.Error(t, err)
}
