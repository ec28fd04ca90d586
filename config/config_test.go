package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/taskmill/runtime/internal/telemetry"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"TELEMETRY_ENABLED", "TELEMETRY_DIR", "HEARTBEAT_INTERVAL_S",
		"MODEL_PRICES", "BOTTLENECK_AGE_S", "RETRY_HEAVY_ATTEMPTS", "ERROR_RATE_WARN",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.True(t, cfg.TelemetryEnabled)
	assert.Equal(t, "telemetry", cfg.TelemetryDir)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, telemetry.DefaultPriceTable(), cfg.Prices)
	assert.Equal(t, telemetry.DefaultSlowTaskAge, cfg.SlowTaskAge)
	assert.Equal(t, telemetry.DefaultRetryHeavyAttempts, cfg.RetryHeavyAttempts)
	assert.Equal(t, telemetry.DefaultErrorRateWarn, cfg.ErrorRateWarn)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TELEMETRY_ENABLED", "false")
	t.Setenv("TELEMETRY_DIR", "/var/log/tasks")
	t.Setenv("HEARTBEAT_INTERVAL_S", "0.5")
	t.Setenv("BOTTLENECK_AGE_S", "60")
	t.Setenv("RETRY_HEAVY_ATTEMPTS", "5")
	t.Setenv("ERROR_RATE_WARN", "0.25")
	t.Setenv("MODEL_PRICES", `{"my-model": 0.002}`)

	cfg := Load()

	assert.False(t, cfg.TelemetryEnabled)
	assert.Equal(t, "/var/log/tasks", cfg.TelemetryDir)
	assert.Equal(t, 500*time.Millisecond, cfg.HeartbeatInterval)
	assert.Equal(t, time.Minute, cfg.SlowTaskAge)
	assert.Equal(t, 5, cfg.RetryHeavyAttempts)
	assert.Equal(t, 0.25, cfg.ErrorRateWarn)
	assert.Equal(t, telemetry.PriceTable{"my-model": {Prompt: 0.002, Completion: 0.002}}, cfg.Prices)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("TELEMETRY_ENABLED", "not-a-bool")
	t.Setenv("HEARTBEAT_INTERVAL_S", "-3")
	t.Setenv("RETRY_HEAVY_ATTEMPTS", "zero")
	t.Setenv("ERROR_RATE_WARN", "1.5")
	t.Setenv("MODEL_PRICES", `{"broken":`)

	cfg := Load()

	assert.True(t, cfg.TelemetryEnabled)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, telemetry.DefaultRetryHeavyAttempts, cfg.RetryHeavyAttempts)
	assert.Equal(t, telemetry.DefaultErrorRateWarn, cfg.ErrorRateWarn)
	assert.Equal(t, telemetry.DefaultPriceTable(), cfg.Prices, "malformed MODEL_PRICES keeps defaults")
}
