// Package config provides the environment configuration surface of the
// runtime and the YAML workflow-file loader.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/taskmill/runtime/internal/telemetry"
)

// Config holds the environment-driven runtime settings.
type Config struct {
	// TelemetryEnabled toggles event emission (TELEMETRY_ENABLED).
	TelemetryEnabled bool

	// TelemetryDir is the event log directory (TELEMETRY_DIR).
	TelemetryDir string

	// HeartbeatInterval controls liveness emission (HEARTBEAT_INTERVAL_S).
	HeartbeatInterval time.Duration

	// Prices is the per-model price table (MODEL_PRICES, JSON map of
	// model name to {prompt, completion} per-1k rates or a flat rate).
	Prices telemetry.PriceTable

	// SlowTaskAge flags long-running tasks (BOTTLENECK_AGE_S).
	SlowTaskAge time.Duration

	// RetryHeavyAttempts flags retry-heavy tasks (RETRY_HEAVY_ATTEMPTS).
	RetryHeavyAttempts int

	// ErrorRateWarn is the failed/finished spike threshold, 0..1
	// (ERROR_RATE_WARN).
	ErrorRateWarn float64
}

// Load reads configuration from environment variables, falling back to
// defaults. Malformed values are logged and replaced by the default;
// configuration never aborts the process.
func Load() *Config {
	cfg := &Config{
		TelemetryEnabled:   envBool("TELEMETRY_ENABLED", true),
		TelemetryDir:       envString("TELEMETRY_DIR", "telemetry"),
		HeartbeatInterval:  envSeconds("HEARTBEAT_INTERVAL_S", 5*time.Second),
		Prices:             telemetry.DefaultPriceTable(),
		SlowTaskAge:        envSeconds("BOTTLENECK_AGE_S", telemetry.DefaultSlowTaskAge),
		RetryHeavyAttempts: envInt("RETRY_HEAVY_ATTEMPTS", telemetry.DefaultRetryHeavyAttempts),
		ErrorRateWarn:      envFloat("ERROR_RATE_WARN", telemetry.DefaultErrorRateWarn),
	}

	if raw := os.Getenv("MODEL_PRICES"); raw != "" {
		prices, err := telemetry.ParsePriceTable(raw)
		if err != nil {
			slog.Warn("ignoring malformed MODEL_PRICES", "error", err)
		} else {
			cfg.Prices = prices
		}
	}
	return cfg
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("ignoring malformed env value", "key", key, "value", v)
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("ignoring malformed env value", "key", key, "value", v)
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 || f > 1 {
		slog.Warn("ignoring malformed env value", "key", key, "value", v)
		return fallback
	}
	return f
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n <= 0 {
		slog.Warn("ignoring malformed env value", "key", key, "value", v)
		return fallback
	}
	return time.Duration(n * float64(time.Second))
}
