package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache on Redis or Valkey.
type RedisCache struct {
	client    *redis.Client
	retention time.Duration
	now       func() time.Time
}

// NewRedisCache creates a RedisCache for addr ("host:port").
func NewRedisCache(addr, password string, db int, retention time.Duration) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	return &RedisCache{client: client, retention: retention, now: time.Now}, nil
}

func (c *RedisCache) load(ctx context.Context, key string) (entry, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return entry{}, false, nil
		}
		return entry{}, false, err
	}
	e, err := decodeEntry(raw)
	if err != nil {
		return entry{}, false, err
	}
	return e, true, nil
}

// Get implements Cache.Get.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	e, ok, err := c.load(ctx, key)
	if err != nil || !ok || !e.fresh(c.now()) {
		return nil, false, err
	}
	return e.Data, true, nil
}

// Set implements Cache.Set.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e, err := newEntry(value, ttl, c.now())
	if err != nil {
		return err
	}
	raw, err := encodeEntry(e)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+key, raw, physicalTTL(ttl, c.retention)).Err()
}

// GetStale implements Cache.GetStale.
func (c *RedisCache) GetStale(ctx context.Context, key string, maxAge time.Duration) ([]byte, time.Time, bool, error) {
	e, ok, err := c.load(ctx, key)
	if err != nil || !ok || !e.withinAge(c.now(), maxAge) {
		return nil, time.Time{}, false, err
	}
	return e.Data, e.StoredAt, true, nil
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
