package config

import (
	"os"
	"strconv"
	"time"
)

// RateLimitConfig configures the fixed-window limiter.  Limits maps an
// endpoint name ("token", "introspect", "session") to its per-window limit.
type RateLimitConfig struct {
	Enabled bool
	Window  time.Duration
	Limits  map[string]int
	Prefix  string
	Debug   bool
}

func LoadRateLimitConfig() RateLimitConfig {
	def := RateLimitConfig{
		Enabled: envBool("RATE_LIMIT_ENABLED", true),
		Window:  envDur("RATE_LIMIT_WINDOW", time.Minute),
		Limits: map[string]int{
			"token":      envInt("RATE_LIMIT_TOKEN", 30),
			"introspect": envInt("RATE_LIMIT_INTROSPECT", 100),
			"session":    envInt("RATE_LIMIT_SESSION", 20),
		},
		Prefix: envStr("RATE_LIMIT_PREFIX", "olp:rl"),
		Debug:  envBool("RATE_LIMIT_DEBUG", false),
	}
	if def.Window < time.Second {
		def.Window = time.Minute
	}
	for k, v := range def.Limits {
		if v < 1 {
			def.Limits[k] = 1
		}
	}
	return def
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
