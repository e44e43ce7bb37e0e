package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounterRepo implements fixed-window counters with INCR + EXPIRE in
// a MULTI block, so the counter and its expiry are set together.
type RedisCounterRepo struct {
	client *redis.Client
}

func NewRedisCounterRepo(client *redis.Client) *RedisCounterRepo {
	return &RedisCounterRepo{client: client}
}

// Incr increments key and (re)sets its expiry to ttl.
func (r *RedisCounterRepo) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
