// internal/cache/redis.go
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps entries in redis; expiry is enforced server-side with EX.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	shared bool
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string
}

// NewRedisStore dials redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, opts RedisOptions, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, prefix: opts.Prefix, ttl: ttl}, nil
}

// WithPrefix returns a store sharing the connection but with its own TTL and
// key namespace. Closing the derived store leaves the connection open.
func (r *RedisStore) WithPrefix(prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: r.client, prefix: r.prefix + prefix, ttl: ttl, shared: true}
}

func (r *RedisStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if dst == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := r.client.Set(ctx, r.prefix+key, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) TTL() time.Duration {
	return r.ttl
}

func (r *RedisStore) Close() error {
	if r.shared {
		return nil
	}
	return r.client.Close()
}
