// Package cache stores upstream responses as JSON envelopes with a freshness
// deadline and a longer stale window, over in-memory, memcached or Redis backends.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Backend names accepted by New.
const (
	BackendInMemory  = "in_memory"
	BackendMemcached = "memcached"
	BackendRedis     = "redis"
)

// keyPrefix namespaces keys in shared memcached/Redis deployments.
const keyPrefix = "tempo:"

// Cache stores opaque JSON payloads. Get only returns fresh entries;
// GetStale returns entries past their TTL as long as they are younger than maxAge.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	GetStale(ctx context.Context, key string, maxAge time.Duration) ([]byte, time.Time, bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend string
	// Retention keeps entries this long past their TTL for stale serving.
	Retention time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// New builds the configured backend.
func New(opts Options) (Cache, error) {
	switch opts.Backend {
	case "", BackendInMemory:
		return NewMemoryCache(opts.Retention), nil
	case BackendMemcached:
		return NewMemcachedCache(opts.MemcachedAddrs, opts.MemcachedTimeout, opts.MemcachedMaxIdleConns, opts.Retention)
	case BackendRedis:
		return NewRedisCache(opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.Retention)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}

// entry is the stored envelope.
type entry struct {
	StoredAt  time.Time       `json:"storedAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Data      json.RawMessage `json:"data"`
}

func (e entry) fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

func (e entry) withinAge(now time.Time, maxAge time.Duration) bool {
	return now.Sub(e.StoredAt) <= maxAge
}

func newEntry(value []byte, ttl time.Duration, now time.Time) (entry, error) {
	if !json.Valid(value) {
		return entry{}, errors.New("cache value is not valid JSON")
	}
	return entry{StoredAt: now, ExpiresAt: now.Add(ttl), Data: value}, nil
}

func encodeEntry(e entry) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEntry(raw []byte) (entry, error) {
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return entry{}, fmt.Errorf("decode cache entry: %w", err)
	}
	return e, nil
}

// physicalTTL is how long a backend keeps the bytes: TTL plus the stale window.
func physicalTTL(ttl, retention time.Duration) time.Duration {
	return ttl + retention
}
