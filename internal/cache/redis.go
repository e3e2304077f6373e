// Package cache holds the Redis-backed idempotency keys and response cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyPrefix = "idem:"
	jsonKeyPrefix        = "cache:"
)

// releaseScript deletes an idempotency key only while it still holds the
// token of the request that claimed it.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

// Connect opens a client and checks that the server answers
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return client, nil
}

// SetIdempotency claims key for token. It reports false when the key was
// already claimed within ttl.
func (r *RedisAdapter) SetIdempotency(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, token, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// ReleaseIdempotency frees key if token still owns it, so a failed request can be retried.
func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, r.client, []string{idempotencyKeyPrefix + key}, token).Err()
}

// GetJSON decodes the cached value at key into dst. It reports false on a miss.
func (r *RedisAdapter) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := r.client.Get(ctx, jsonKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return true, nil
}

func (r *RedisAdapter) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return r.client.Set(ctx, jsonKeyPrefix+key, raw, ttl).Err()
}
