// Package cache provides the tenant-scoped stores behind actor history and
// request replay: an in-process LRU, Redis, and a two-phase combination that
// reads through a local LRU to a shared Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/scamscore/internal/domain"
)

// ErrTenantRequired is returned by every operation given an empty tenant.
var ErrTenantRequired = errors.New("cache: tenantID is required")

// counterPrefix keeps counters apart from plain entries with the same key.
const counterPrefix = "counter:"

func scopedKey(tenantID, key string) (string, error) {
	if tenantID == "" {
		return "", ErrTenantRequired
	}
	return tenantID + ":" + key, nil
}

// New creates the cache selected by cfg.Type: "memory" for an LRU, "redis"
// for Redis, optionally fronted by an LRU when EnableTwoPhase is set.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		remote, err := NewRedisCache(cfg)
		if err != nil {
			return nil, err
		}
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
		}
		return remote, nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache serves reads from a local LRU and falls back to Redis.
// Writes go to both; local copies never outlive localTTL so other nodes'
// writes become visible within that bound. Counters and first-seen markers
// are decided by Redis alone.
type TwoPhaseCache struct {
	local    *LRUCache
	remote   *RedisCache
	localTTL time.Duration
}

// NewTwoPhaseCache combines local and remote. A zero localTTL means one minute.
func NewTwoPhaseCache(local *LRUCache, remote *RedisCache, localTTL time.Duration) *TwoPhaseCache {
	if localTTL <= 0 {
		localTTL = time.Minute
	}
	return &TwoPhaseCache{local: local, remote: remote, localTTL: localTTL}
}

func (c *TwoPhaseCache) ttlLocal(ttl time.Duration) time.Duration {
	return min(ttl, c.localTTL)
}

// Get reads L1, then L2, copying L2 hits into L1.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID, key string) ([]byte, error) {
	if val, err := c.local.Get(ctx, tenantID, key); err != nil || val != nil {
		return val, err
	}

	val, err := c.remote.Get(ctx, tenantID, key)
	if err != nil || val == nil {
		return nil, err
	}
	_ = c.local.Set(ctx, tenantID, key, val, c.localTTL)
	return val, nil
}

// Set writes L2 first so a failed remote write leaves no local-only value.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	if err := c.remote.Set(ctx, tenantID, key, value, ttl); err != nil {
		return err
	}
	return c.local.Set(ctx, tenantID, key, value, c.ttlLocal(ttl))
}

// Delete removes key from both layers.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// SetIfAbsent is decided by L2 so that every node agrees on the first writer.
func (c *TwoPhaseCache) SetIfAbsent(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) (bool, error) {
	stored, err := c.remote.SetIfAbsent(ctx, tenantID, key, value, ttl)
	if err != nil || !stored {
		return stored, err
	}
	_ = c.local.Set(ctx, tenantID, key, value, c.ttlLocal(ttl))
	return true, nil
}

// IncrementCounter counts in Redis only.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, tenantID, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, tenantID, key, window)
}

// Ping reports the first failing layer.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both layers.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns the L1 statistics.
func (c *TwoPhaseCache) Stats() Stats {
	return c.local.Stats()
}
