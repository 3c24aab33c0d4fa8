package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces keys when no prefix is configured.
const DefaultRedisPrefix = "bookmarker:"

// redisClient is the subset of *redis.Client the backend uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Redis keeps keys in a Redis server so several hosts can share a session.
// Keys never expire; the credential's lifetime is governed by the service.
type Redis struct {
	client redisClient
	prefix string
}

// NewRedis connects lazily to addr. An empty prefix uses DefaultRedisPrefix.
func NewRedis(addr, prefix string) *Redis {
	return newRedisWithClient(redis.NewClient(&redis.Options{Addr: addr}), prefix)
}

func newRedisWithClient(client redisClient, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("kvstore: redis get %q: %w", key, err)
	}

	return data, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("kvstore: redis set %q: %w", key, err)
	}

	return nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("kvstore: redis del %q: %w", key, err)
	}

	return nil
}

// Close closes the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
