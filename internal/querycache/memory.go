package querycache

import (
	"context"
	"sync"
	"time"

	"github.com/fyrsmithlabs/knowd/internal/knowledge"
)

const backendMemory = "memory"

// MemoryOptions configures a MemoryCache.
type MemoryOptions struct {
	TTL        time.Duration // default 5m
	MaxEntries int           // default 10000
	Now        func() time.Time
}

type memoryEntry struct {
	key       Key
	result    *knowledge.QueryResult
	createdAt time.Time
}

// MemoryCache is a mutex-guarded map with lazy expiry on read, an optional
// background sweep, and oldest-first eviction at capacity.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[Key]*memoryEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMemory creates an in-memory cache.
func NewMemory(opts MemoryOptions) *MemoryCache {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 10000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &MemoryCache{
		entries:    make(map[Key]*memoryEntry),
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		now:        opts.Now,
		stop:       make(chan struct{}),
	}
}

func (c *MemoryCache) expired(e *memoryEntry, now time.Time) bool {
	return now.After(e.createdAt.Add(c.ttl))
}

// Get returns a copy of the cached result. An expired entry is evicted and
// reported as a miss.
func (c *MemoryCache) Get(_ context.Context, key Key) (*knowledge.QueryResult, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		LookupsTotal.WithLabelValues(backendMemory, "miss").Inc()
		return nil, false, nil
	}

	if c.expired(e, c.now()) {
		c.mu.Lock()
		// Re-check: a concurrent Put may have refreshed the entry.
		if cur, ok := c.entries[key]; ok && cur == e {
			delete(c.entries, key)
			EvictionsTotal.WithLabelValues(backendMemory, "expired").Inc()
			Entries.Set(float64(len(c.entries)))
		}
		c.mu.Unlock()
		LookupsTotal.WithLabelValues(backendMemory, "miss").Inc()
		return nil, false, nil
	}

	LookupsTotal.WithLabelValues(backendMemory, "hit").Inc()
	return servedCopy(e.result), true, nil
}

// Put stores a copy of result. At capacity the oldest entry is evicted.
func (c *MemoryCache) Put(_ context.Context, key Key, result *knowledge.QueryResult) error {
	if result == nil {
		return nil
	}
	stored := result.Clone()
	stored.FromCache = false

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = &memoryEntry{key: key, result: stored, createdAt: c.now()}
	Entries.Set(float64(len(c.entries)))
	return nil
}

// evictOldest removes the entry created first. Caller holds the write lock.
func (c *MemoryCache) evictOldest() {
	var oldest *memoryEntry
	for _, e := range c.entries {
		if oldest == nil || e.createdAt.Before(oldest.createdAt) {
			oldest = e
		}
	}
	if oldest != nil {
		delete(c.entries, oldest.key)
		EvictionsTotal.WithLabelValues(backendMemory, "capacity").Inc()
	}
}

// InvalidateTenant removes every entry of tenantID.
func (c *MemoryCache) InvalidateTenant(_ context.Context, tenantID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.entries {
		if k.TenantID == tenantID {
			delete(c.entries, k)
			n++
		}
	}
	if n > 0 {
		EvictionsTotal.WithLabelValues(backendMemory, "invalidated").Add(float64(n))
		Entries.Set(float64(len(c.entries)))
	}
	return n, nil
}

// Sweep removes expired entries and returns how many were removed.
func (c *MemoryCache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, k)
			n++
		}
	}
	if n > 0 {
		EvictionsTotal.WithLabelValues(backendMemory, "expired").Add(float64(n))
		Entries.Set(float64(len(c.entries)))
	}
	return n
}

// StartSweeper runs Sweep every interval until Close. A non-positive interval
// leaves expiry to lookups alone.
func (c *MemoryCache) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// Len returns the number of stored entries.
func (c *MemoryCache) Len(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), nil
}

// Close stops the sweeper.
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() {
		close(c.stop)
		if c.done != nil {
			<-c.done
		}
	})
	return nil
}
