package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/content-license-server/internal/config"
	"github.com/iliyamo/content-license-server/internal/model"
)

// LicenseGetter is anything that can load a license by id.
type LicenseGetter interface {
	GetLicense(ctx context.Context, id int64) (model.License, error)
}

// CachedLicenses is a read-through Redis cache in front of a LicenseGetter.
// Misses and cache errors fall through to the underlying source; "not
// found" results are never cached.
type CachedLicenses struct {
	next   LicenseGetter
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	log    zerolog.Logger
}

// NewCachedLicenses wraps next.  When caching is disabled or rdb is nil it
// returns next unchanged.
func NewCachedLicenses(next LicenseGetter, cfg config.CacheConfig, rdb *redis.Client, log zerolog.Logger) LicenseGetter {
	if !cfg.Enabled || rdb == nil {
		return next
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedLicenses{
		next:   next,
		rdb:    rdb,
		ttl:    ttl,
		prefix: cfg.Prefix,
		log:    log.With().Str("component", "license_cache").Logger(),
	}
}

func (c *CachedLicenses) key(id int64) string {
	return c.prefix + ":license:" + strconv.FormatInt(id, 10)
}

func (c *CachedLicenses) GetLicense(ctx context.Context, id int64) (model.License, error) {
	key := c.key(id)
	if b, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var l model.License
		if jerr := json.Unmarshal(b, &l); jerr == nil {
			return l, nil
		}
	}
	l, err := c.next.GetLicense(ctx, id)
	if err != nil {
		return model.License{}, err
	}
	if b, err := json.Marshal(l); err == nil {
		if err := c.rdb.SetEx(ctx, key, b, c.ttl).Err(); err != nil {
			c.log.Warn().Err(err).Int64("license_id", id).Msg("cache write failed")
		}
	}
	return l, nil
}

// Invalidate drops the cached copy of a license.
func (c *CachedLicenses) Invalidate(ctx context.Context, id int64) error {
	return c.rdb.Del(ctx, c.key(id)).Err()
}
