package config

import (
	"log/slog"
	"os"
	"strconv"
)

// applyEnv overrides file values with ROLLCALL_* environment variables.
func applyEnv(c *Config) {
	c.DataRoot = getEnv("ROLLCALL_DATA_ROOT", c.DataRoot)
	c.Log.Level = getEnv("ROLLCALL_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("ROLLCALL_LOG_FORMAT", c.Log.Format)
	c.Webhook.URL = getEnv("ROLLCALL_WEBHOOK_URL", c.Webhook.URL)
	c.Webhook.AdminURL = getEnv("ROLLCALL_ADMIN_WEBHOOK_URL", c.Webhook.AdminURL)
	c.HTTP.Addr = getEnv("ROLLCALL_HTTP_ADDR", c.HTTP.Addr)
	c.Detail.IntervalHours = getIntEnv("ROLLCALL_DETAIL_INTERVAL_HOURS", c.Detail.IntervalHours)
	c.Detail.PerRun = getIntEnv("ROLLCALL_DETAIL_PER_RUN", c.Detail.PerRun)
	c.Detail.BackoffMinutes = getIntEnv("ROLLCALL_DETAIL_BACKOFF_MINUTES", c.Detail.BackoffMinutes)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring non-numeric environment override", "key", key, "value", v)
		return fallback
	}
	return n
}
