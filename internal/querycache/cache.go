// Package querycache caches query results for a bounded time.
//
// Keys fingerprint the tenant, the domain, the normalized query text and the
// serialized query context. Entries older than the TTL are never served; a
// lookup that finds one reports a miss and evicts it. The cache does not
// watch the partition store: a cached answer stays valid, possibly stale,
// until its TTL runs out or the tenant is torn down.
package querycache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/knowd/internal/config"
	"github.com/fyrsmithlabs/knowd/internal/knowledge"
	"github.com/fyrsmithlabs/knowd/internal/logging"
	"github.com/redis/go-redis/v9"
)

// ErrCacheUnavailable indicates the cache backend could not be reached.
var ErrCacheUnavailable = errors.New("query cache unavailable")

// Key identifies a cached result.
type Key struct {
	TenantID    string
	Domain      string
	Fingerprint string
}

func (k Key) String() string {
	return k.TenantID + ":" + k.Domain + ":" + k.Fingerprint
}

// NewKey builds the key of a query. Queries that differ only in case or
// whitespace share a key; any difference in the context does not.
func NewKey(query string, qc knowledge.QueryContext) Key {
	ctxJSON, _ := json.Marshal(qc)

	h := sha256.New()
	h.Write([]byte(qc.TenantID))
	h.Write([]byte{0})
	h.Write([]byte(qc.Domain))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeQuery(query)))
	h.Write([]byte{0})
	h.Write(ctxJSON)

	return Key{
		TenantID:    qc.TenantID,
		Domain:      qc.Domain,
		Fingerprint: hex.EncodeToString(h.Sum(nil)),
	}
}

// NormalizeQuery lowercases q, trims it and collapses inner whitespace.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// Cache stores query results. Implementations are safe for concurrent use
// and return copies, never shared references.
type Cache interface {
	// Get returns the cached result and true, or false on a miss.
	Get(ctx context.Context, key Key) (*knowledge.QueryResult, bool, error)
	// Put stores result under key.
	Put(ctx context.Context, key Key, result *knowledge.QueryResult) error
	// InvalidateTenant removes every entry of a tenant and returns the count.
	InvalidateTenant(ctx context.Context, tenantID string) (int, error)
	// Len returns the number of stored entries, expired or not.
	Len(ctx context.Context) (int, error)
	// Close stops background work and releases connections.
	Close() error
}

// New creates the configured backend. The memory backend starts its sweeper.
func New(cfg config.CacheConfig, logger *logging.Logger) (Cache, error) {
	switch cfg.Backend {
	case "memory", "":
		c := NewMemory(MemoryOptions{
			TTL:        cfg.TTL.Duration(),
			MaxEntries: cfg.MaxEntries,
		})
		c.StartSweeper(cfg.SweepInterval.Duration())
		return c, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword.Value(),
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("%w: redis %s: %v", ErrCacheUnavailable, cfg.RedisAddr, err)
		}
		return NewRedis(client, RedisOptions{
			TTL:    cfg.TTL.Duration(),
			Prefix: cfg.RedisPrefix,
			Logger: logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

func servedCopy(r *knowledge.QueryResult) *knowledge.QueryResult {
	out := r.Clone()
	out.FromCache = true
	return out
}
