package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/content-license-server/internal/model"
)

// RedisSessionRepo keeps payment sessions as JSON values whose Redis TTL
// matches the session expiry.
type RedisSessionRepo struct {
	client *redis.Client
	prefix string
}

func NewRedisSessionRepo(client *redis.Client, prefix string) *RedisSessionRepo {
	if prefix == "" {
		prefix = "olp"
	}
	return &RedisSessionRepo{client: client, prefix: prefix}
}

func (r *RedisSessionRepo) key(id string) string { return r.prefix + ":session:" + id }

// Put stores s until s.ExpiresAt.  Already expired sessions are removed.
func (r *RedisSessionRepo) Put(ctx context.Context, s model.Session) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return r.Delete(ctx, s.ID)
	}
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(s.ID), b, ttl).Err()
}

func (r *RedisSessionRepo) Get(ctx context.Context, id string) (model.Session, error) {
	b, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Session{}, ErrNotFound
	}
	if err != nil {
		return model.Session{}, err
	}
	var s model.Session
	if err := json.Unmarshal(b, &s); err != nil {
		return model.Session{}, err
	}
	return s, nil
}

func (r *RedisSessionRepo) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.key(id)).Err()
}

// DeleteExpired is a no-op: Redis evicts session keys on their own TTL.
func (r *RedisSessionRepo) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
