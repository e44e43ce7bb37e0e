package config

import "time"

// CacheConfig defines settings for the license lookup cache.  When Enabled
// is false or no Redis client is configured, lookups go straight to the
// license store.  TTL bounds how long an edited license may be served
// stale.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
	Prefix  string
}

// LoadCacheConfig reads environment variables to build a CacheConfig.
func LoadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled: envBool("CACHE_ENABLED", true),
		TTL:     envDur("CACHE_TTL", 30*time.Second),
		Prefix:  envStr("CACHE_PREFIX", "olp:cache"),
	}
}
