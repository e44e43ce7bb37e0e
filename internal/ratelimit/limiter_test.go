package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/content-license-server/internal/apperr"
	"github.com/iliyamo/content-license-server/internal/config"
	"github.com/iliyamo/content-license-server/internal/repository"
)

func testConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled: true,
		Window:  time.Minute,
		Prefix:  "rl",
		Limits: map[string]int{
			EndpointToken:      30,
			EndpointIntrospect: 100,
			EndpointSession:    20,
		},
	}
}

func newLimiter(now time.Time) *Limiter {
	l := NewLimiter(repository.NewMemoryCounterStore(), testConfig(), zerolog.Nop())
	l.now = func() time.Time { return now }
	return l
}

func TestTokenLimitPerCaller(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_010, 0) // 30s into the window starting at 1699999980
	l := newLimiter(now)

	for i := 1; i <= 30; i++ {
		res, err := l.Check(ctx, EndpointToken, "c1")
		require.NoError(t, err, "call %d", i)
		assert.Equal(t, 30-i, res.Remaining)
	}

	res, err := l.Check(ctx, EndpointToken, "c1")
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, 429, ae.Status)
	assert.Equal(t, apperr.CodeRateLimitExceeded, ae.Code)
	assert.Equal(t, "30", ae.Headers["Retry-After"])
	assert.Equal(t, "30", ae.Headers["X-RateLimit-Limit"])
	assert.Equal(t, "0", ae.Headers["X-RateLimit-Remaining"])
	assert.Equal(t, "1700000040", ae.Headers["X-RateLimit-Reset"])
	assert.Equal(t, 0, res.Remaining)

	_, err = l.Check(ctx, EndpointToken, "c2")
	assert.NoError(t, err, "other callers keep their own quota")
}

func TestNewWindowResets(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	l := newLimiter(now)
	for i := 0; i < 20; i++ {
		_, err := l.Check(ctx, EndpointSession, "c1")
		require.NoError(t, err)
	}
	_, err := l.Check(ctx, EndpointSession, "c1")
	require.Error(t, err)

	l.now = func() time.Time { return now.Add(time.Minute) }
	_, err = l.Check(ctx, EndpointSession, "c1")
	assert.NoError(t, err)
}

func TestLimits(t *testing.T) {
	l := newLimiter(time.Now())
	assert.Equal(t, 30, l.LimitFor(EndpointToken))
	assert.Equal(t, 100, l.LimitFor(EndpointIntrospect))
	assert.Equal(t, 20, l.LimitFor(EndpointSession))
	assert.Equal(t, 30, l.LimitFor("unknown"))
}

func TestEndpointsCountedSeparately(t *testing.T) {
	ctx := context.Background()
	l := newLimiter(time.Unix(1_700_000_000, 0))
	for i := 0; i < 30; i++ {
		_, err := l.Check(ctx, EndpointToken, "c1")
		require.NoError(t, err)
	}
	_, err := l.Check(ctx, EndpointIntrospect, "c1")
	assert.NoError(t, err)
}

type failingStore struct{}

func (failingStore) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("redis down")
}

func TestStoreFailureFailsOpen(t *testing.T) {
	l := NewLimiter(failingStore{}, testConfig(), zerolog.Nop())
	res, err := l.Check(context.Background(), EndpointToken, "c1")
	assert.NoError(t, err)
	assert.Equal(t, 30, res.Limit)
}

func TestDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	l := NewLimiter(repository.NewMemoryCounterStore(), cfg, zerolog.Nop())
	for i := 0; i < 100; i++ {
		res, err := l.Check(context.Background(), EndpointToken, "c1")
		require.NoError(t, err)
		assert.Nil(t, res.Headers())
	}
}
