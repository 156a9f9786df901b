package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigAppliesDefaults(t *testing.T) {
	input := `
scan:
  api_key: test-key
url_check:
  api_key: test-key
`

	cfg, err := loadConfig([]byte(input))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Global.LogLevel)
	assert.Equal(t, 4, cfg.Quota.Capacity)
	assert.Equal(t, 60, cfg.Quota.WindowSeconds)
	assert.Equal(t, 20, cfg.Scan.PollMaxAttempts)
	assert.Equal(t, DefaultMaxScanSizeBytes, cfg.Scan.MaxFileSizeBytes)
	assert.Equal(t, 300, cfg.URLCheck.CleanCacheTTLSeconds)
	assert.Equal(t, ":8480", cfg.Webhook.ListenAddress)
	assert.True(t, cfg.Webhook.RateLimiting.Enabled)
}

func TestLoadConfigOverrides(t *testing.T) {
	input := `
global:
  log_level: debug
quota:
  capacity: 2
  window_seconds: 30
scan:
  api_key: test-key
  poll_max_attempts: 5
  poll_delay_seconds: 1
url_check:
  api_key: test-key
`

	cfg, err := loadConfig([]byte(input))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Global.LogLevel)
	assert.Equal(t, 2, cfg.Quota.Capacity)
	assert.Equal(t, 30, cfg.Quota.WindowSeconds)
	assert.Equal(t, 5, cfg.Scan.PollMaxAttempts)
	assert.Equal(t, 1, cfg.Scan.PollDelaySeconds)
}

func TestLoadConfigCollectsAllErrors(t *testing.T) {
	input := `
global:
  log_level: loud
`

	_, err := loadConfig([]byte(input))
	require.Error(t, err)

	configErrs, ok := err.(ConfigErrors)
	require.True(t, ok)
	assert.Contains(t, configErrs, `invalid value for config key "global.log_level": "loud"`)
	// Missing API keys are reported in the same pass.
	assert.Contains(t, configErrs, `missing config key "scan.api_key"`)
	assert.Contains(t, configErrs, `missing config key "url_check.api_key"`)
}

func TestQuotaVerifyRejectsNegative(t *testing.T) {
	q := Quota{Capacity: -1, WindowSeconds: 60, IdlePollMS: 250}

	var configErrs ConfigErrors
	q.Verify(&configErrs)

	assert.Contains(t, configErrs, `invalid value for config key "quota.capacity": -1`)
}
