package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is a process-local Cache backed by patrickmn/go-cache.
type MemoryCache struct {
	store     *gocache.Cache
	retention time.Duration
	now       func() time.Time
}

// NewMemoryCache creates a MemoryCache whose janitor sweeps expired items every minute.
func NewMemoryCache(retention time.Duration) *MemoryCache {
	return &MemoryCache{
		store:     gocache.New(gocache.NoExpiration, time.Minute),
		retention: retention,
		now:       time.Now,
	}
}

func (c *MemoryCache) load(key string) (entry, bool) {
	v, ok := c.store.Get(key)
	if !ok {
		return entry{}, false
	}
	e, ok := v.(entry)
	return e, ok
}

// Get implements Cache.Get.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	e, ok := c.load(key)
	if !ok || !e.fresh(c.now()) {
		return nil, false, nil
	}
	return e.Data, true, nil
}

// Set implements Cache.Set.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := newEntry(value, ttl, c.now())
	if err != nil {
		return err
	}
	c.store.Set(key, e, physicalTTL(ttl, c.retention))
	return nil
}

// GetStale implements Cache.GetStale.
func (c *MemoryCache) GetStale(ctx context.Context, key string, maxAge time.Duration) ([]byte, time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, false, err
	}
	e, ok := c.load(key)
	if !ok || !e.withinAge(c.now(), maxAge) {
		return nil, time.Time{}, false, nil
	}
	return e.Data, e.StoredAt, true, nil
}

// Len returns the number of stored items, including stale ones.
func (c *MemoryCache) Len() int {
	return c.store.ItemCount()
}

// Ping always succeeds.
func (c *MemoryCache) Ping(context.Context) error { return nil }

// Close drops all entries.
func (c *MemoryCache) Close() error {
	c.store.Flush()
	return nil
}
