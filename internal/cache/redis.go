package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/scamscore/internal/domain"
)

// keyPrefix namespaces every key this service writes to a shared Redis.
const keyPrefix = "scamscore:"

// incrWithExpiry increments a counter and starts its window on first use.
var incrWithExpiry = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// RedisCache stores entries and counters in Redis under keyPrefix.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to cfg.RedisAddr and verifies the connection.
func NewRedisCache(cfg domain.CacheConfig) (*RedisCache, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisCache{client: client}, nil
}

func redisKey(tenantID, key string) (string, error) {
	k, err := scopedKey(tenantID, key)
	if err != nil {
		return "", err
	}
	return keyPrefix + k, nil
}

// Get returns nil, nil for a missing key.
func (c *RedisCache) Get(ctx context.Context, tenantID, key string) ([]byte, error) {
	k, err := redisKey(tenantID, key)
	if err != nil {
		return nil, err
	}
	val, err := c.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

// Set stores value with ttl.
func (c *RedisCache) Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	k, err := redisKey(tenantID, key)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, k, value, ttl).Err()
}

// Delete removes key.
func (c *RedisCache) Delete(ctx context.Context, tenantID, key string) error {
	k, err := redisKey(tenantID, key)
	if err != nil {
		return err
	}
	return c.client.Del(ctx, k).Err()
}

// SetIfAbsent stores value with SET NX semantics.
func (c *RedisCache) SetIfAbsent(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) (bool, error) {
	k, err := redisKey(tenantID, key)
	if err != nil {
		return false, err
	}
	return c.client.SetNX(ctx, k, value, ttl).Result()
}

// IncrementCounter increments atomically; the expiry is set only when the
// window opens so later increments do not extend it.
func (c *RedisCache) IncrementCounter(ctx context.Context, tenantID, key string, window time.Duration) (int64, error) {
	k, err := redisKey(tenantID, counterPrefix+key)
	if err != nil {
		return 0, err
	}
	return incrWithExpiry.Run(ctx, c.client, []string{k}, window.Milliseconds()).Int64()
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
