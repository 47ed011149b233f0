// Package redis implements recall.KV, the distributed L1 cache, on top
// of a shared go-redis client.
//
// The adapter enforces the cache failure model: a transport error on the
// read path is reported as a miss and logged at WARN, never surfaced to
// the caller. Version tags use INCR, so bumps are atomic and monotonic
// regardless of clock skew.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/recallio/recall"
)

// DefaultTTL is the entry lifetime used when SetEx is called with a
// non-positive TTL.
const DefaultTTL = time.Hour

// scanDelBatch bounds how many keys one ScanDel round trips delete.
const scanDelBatch = 100

// Cache implements recall.KV backed by Redis.
type Cache struct {
	rdb    *goredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ recall.KV = (*Cache)(nil)

// Option configures a Cache.
type Option func(*Cache)

// WithDefaultTTL overrides the fallback entry lifetime (default: 1h).
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithLogger sets the logger for swallowed transport errors.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a Cache using an existing go-redis client.
// The caller owns the client and is responsible for closing it.
func New(rdb *goredis.Client, opts ...Option) *Cache {
	c := &Cache{rdb: rdb, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Get returns the value stored under key. Absent keys and transport
// failures both present as a miss; failures are logged.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		c.logger.Warn("redis get failed, treating as miss", "key", key, "error", err)
		return "", false, nil
	}
	return v, true, nil
}

// SetEx stores value under key with the given TTL (non-positive falls
// back to the default). Best-effort: failures are logged and swallowed.
func (c *Cache) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn("redis set failed", "key", key, "error", err)
	}
	return nil
}

// Del removes the given keys. Best-effort.
func (c *Cache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("redis del failed", "error", err)
	}
	return nil
}

// ScanDel deletes every key matching the glob pattern, in batches, and
// returns how many keys were removed. Used for whole-user invalidation
// sweeps ("search:{u}:*").
func (c *Cache) ScanDel(ctx context.Context, pattern string) (int, error) {
	deleted := 0
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, scanDelBatch).Result()
		if err != nil {
			c.logger.Warn("redis scan failed", "pattern", pattern, "error", err)
			return deleted, nil
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				c.logger.Warn("redis del failed during scan", "error", err)
			} else {
				deleted += len(keys)
			}
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// UserVersion returns the user's cache version tag, or "" when the user
// has never been bumped (or the transport failed).
func (c *Cache) UserVersion(ctx context.Context, userID string) (string, error) {
	v, ok, _ := c.Get(ctx, versionKey(userID))
	if !ok {
		return "", nil
	}
	return v, nil
}

// BumpUserVersion atomically increments and returns the user's version
// tag. Every cache key derived with the previous tag becomes unreachable.
func (c *Cache) BumpUserVersion(ctx context.Context, userID string) (string, error) {
	v, err := c.rdb.Incr(ctx, versionKey(userID)).Result()
	if err != nil {
		c.logger.Warn("redis incr failed", "user_id", userID, "error", err)
		return "", fmt.Errorf("bump user version: %w", err)
	}
	return fmt.Sprintf("%d", v), nil
}

func versionKey(userID string) string {
	return "user:version:" + userID
}
