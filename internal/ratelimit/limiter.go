// Package ratelimit implements fixed-window request counters per
// (endpoint, caller).  A burst straddling a window boundary can reach up to
// twice the nominal rate; that approximation is accepted.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/content-license-server/internal/apperr"
	"github.com/iliyamo/content-license-server/internal/config"
)

// Endpoint names with their own limits.
const (
	EndpointToken      = "token"
	EndpointIntrospect = "introspect"
	EndpointSession    = "session"
)

// CounterStore increments a counter that expires after ttl.  A lost
// increment only under-counts.
type CounterStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Result describes the caller's quota after a check.  Limit is zero when
// limiting is disabled.
type Result struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Headers returns the X-RateLimit-* headers for r.
func (r Result) Headers() map[string]string {
	if r.Limit == 0 {
		return nil
	}
	return map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(r.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(r.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(r.Reset.Unix(), 10),
	}
}

// Limiter enforces per-endpoint limits.
type Limiter struct {
	store CounterStore
	cfg   config.RateLimitConfig
	log   zerolog.Logger
	now   func() time.Time
}

func NewLimiter(store CounterStore, cfg config.RateLimitConfig, log zerolog.Logger) *Limiter {
	if cfg.Window < time.Second {
		cfg.Window = time.Minute
	}
	return &Limiter{
		store: store,
		cfg:   cfg,
		log:   log.With().Str("component", "ratelimit").Logger(),
		now:   time.Now,
	}
}

// LimitFor returns the per-window limit of endpoint.  Unknown endpoints
// share the token limit.
func (l *Limiter) LimitFor(endpoint string) int {
	if n, ok := l.cfg.Limits[endpoint]; ok && n > 0 {
		return n
	}
	return l.cfg.Limits[EndpointToken]
}

// Check counts one request by callerID against endpoint.  It returns a
// rate_limit_exceeded error carrying Retry-After and X-RateLimit-* headers
// once the window's limit is used up.  Store failures let the request
// through.
func (l *Limiter) Check(ctx context.Context, endpoint, callerID string) (Result, error) {
	if !l.cfg.Enabled || l.store == nil {
		return Result{}, nil
	}
	limit := l.LimitFor(endpoint)
	if limit <= 0 {
		return Result{}, nil
	}
	now := l.now()
	win := int64(l.cfg.Window / time.Second)
	start := now.Unix() / win * win
	reset := time.Unix(start+win, 0)

	key := l.cfg.Prefix + ":" + endpoint + ":" + callerID + ":" + strconv.FormatInt(start, 10)
	ttl := reset.Sub(now)
	if ttl < time.Second {
		ttl = time.Second
	}
	count, err := l.store.Incr(ctx, key, ttl)
	if err != nil {
		l.log.Warn().Err(err).Str("endpoint", endpoint).Msg("rate counter unavailable; allowing request")
		return Result{Limit: limit, Remaining: limit, Reset: reset}, nil
	}
	res := Result{Limit: limit, Remaining: limit - int(count), Reset: reset}
	if res.Remaining >= 0 {
		return res, nil
	}
	res.Remaining = 0
	retry := int64(reset.Sub(now).Seconds() + 0.999)
	if retry < 1 {
		retry = 1
	}
	if l.cfg.Debug {
		l.log.Info().Str("endpoint", endpoint).Str("caller", callerID).Int64("count", count).Msg("rate limit exceeded")
	}
	e := apperr.New(429, apperr.CodeRateLimitExceeded, "rate limit exceeded").
		WithData("retry_after", retry).
		WithHeader("Retry-After", strconv.FormatInt(retry, 10))
	for k, v := range res.Headers() {
		e = e.WithHeader(k, v)
	}
	return res, e
}
