package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/knowd/internal/knowledge"
	"github.com/fyrsmithlabs/knowd/internal/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const backendRedis = "redis"

// RedisOptions configures a RedisCache.
type RedisOptions struct {
	TTL    time.Duration // default 5m
	Prefix string        // default "knowd:qc:"
	Now    func() time.Time
	Logger *logging.Logger
}

// RedisCache stores results as JSON with a native key TTL, so several knowd
// processes can share one cache.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	now    func() time.Time
	logger *logging.Logger
}

type redisEntry struct {
	Result    *knowledge.QueryResult `json:"result"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewRedis wraps an existing client. Close closes the client.
func NewRedis(client *redis.Client, opts RedisOptions) *RedisCache {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.Prefix == "" {
		opts.Prefix = "knowd:qc:"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &RedisCache{
		client: client,
		ttl:    opts.TTL,
		prefix: opts.Prefix,
		now:    opts.Now,
		logger: opts.Logger,
	}
}

func (c *RedisCache) redisKey(k Key) string {
	return c.prefix + k.String()
}

// Get returns the cached result. Entries are also checked against their
// creation time, so clock skew with the server never serves a stale entry.
func (c *RedisCache) Get(ctx context.Context, key Key) (*knowledge.QueryResult, bool, error) {
	data, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			LookupsTotal.WithLabelValues(backendRedis, "miss").Inc()
			return nil, false, nil
		}
		LookupsTotal.WithLabelValues(backendRedis, "error").Inc()
		return nil, false, fmt.Errorf("%w: get: %v", ErrCacheUnavailable, err)
	}

	var e redisEntry
	if err := json.Unmarshal(data, &e); err != nil || e.Result == nil {
		c.logger.Warn(ctx, "dropping undecodable cache entry", zap.String("key", key.String()), zap.Error(err))
		_ = c.client.Del(ctx, c.redisKey(key)).Err()
		LookupsTotal.WithLabelValues(backendRedis, "miss").Inc()
		return nil, false, nil
	}

	if c.now().After(e.CreatedAt.Add(c.ttl)) {
		_ = c.client.Del(ctx, c.redisKey(key)).Err()
		EvictionsTotal.WithLabelValues(backendRedis, "expired").Inc()
		LookupsTotal.WithLabelValues(backendRedis, "miss").Inc()
		return nil, false, nil
	}

	LookupsTotal.WithLabelValues(backendRedis, "hit").Inc()
	e.Result.FromCache = true
	return e.Result, true, nil
}

// Put stores result with the cache TTL.
func (c *RedisCache) Put(ctx context.Context, key Key, result *knowledge.QueryResult) error {
	if result == nil {
		return nil
	}
	stored := result.Clone()
	stored.FromCache = false

	data, err := json.Marshal(redisEntry{Result: stored, CreatedAt: c.now()})
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := c.client.Set(ctx, c.redisKey(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("%w: set: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// InvalidateTenant deletes every key of tenantID using SCAN.
func (c *RedisCache) InvalidateTenant(ctx context.Context, tenantID string) (int, error) {
	pattern := c.prefix + tenantID + ":*"
	n := 0
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			return n, fmt.Errorf("%w: scan: %v", ErrCacheUnavailable, err)
		}
		if len(keys) > 0 {
			deleted, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return n, fmt.Errorf("%w: del: %v", ErrCacheUnavailable, err)
			}
			n += int(deleted)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if n > 0 {
		EvictionsTotal.WithLabelValues(backendRedis, "invalidated").Add(float64(n))
	}
	return n, nil
}

// Len counts keys under the prefix.
func (c *RedisCache) Len(ctx context.Context) (int, error) {
	n := 0
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 512).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("%w: scan: %v", ErrCacheUnavailable, err)
	}
	return n, nil
}

// Close closes the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
