package reportsource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
)

// cacheKeyPrefix namespaces payload entries in a shared cache.
const cacheKeyPrefix = "lectern:report:"

// Cache stores encoded payloads by key.
type Cache interface {
	// Get returns the cached bytes and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CacheKey derives a stable key from every field of req.
func CacheKey(req Request) string {
	data, _ := json.Marshal(req)
	sum := sha256.Sum256(data)
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

// RedisCache keeps payloads in Redis.
type RedisCache struct {
	pool *redis.Pool
}

// NewRedisCache connects lazily to the Redis server at url (redis://host:port/db).
func NewRedisCache(url string) *RedisCache {
	return &RedisCache{pool: &redis.Pool{
		MaxIdle:     4,
		IdleTimeout: 5 * time.Minute,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialURLContext(ctx, url,
				redis.DialConnectTimeout(2*time.Second),
				redis.DialReadTimeout(2*time.Second),
				redis.DialWriteTimeout(2*time.Second),
			)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}}
}

// Get implements Cache.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("redis connect: %w", err)
	}
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("GET", key))
	if errors.Is(err, redis.ErrNil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return data, true, nil
}

// Set implements Cache.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer conn.Close()

	if ttl > 0 {
		_, err = conn.Do("SET", key, value, "PX", ttl.Milliseconds())
	} else {
		_, err = conn.Do("SET", key, value)
	}
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (r *RedisCache) Ping(ctx context.Context) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Do("PING")
	return err
}

// Close releases pooled connections.
func (r *RedisCache) Close() error {
	return r.pool.Close()
}

// MemoryCache is an in-process LRU used when no Redis server is configured.
// Entries share one TTL fixed at construction.
type MemoryCache struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemoryCache holds up to size payloads for ttl each.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

// Get implements Cache.
func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.lru.Get(key)
	return v, ok, nil
}

// Set implements Cache. The per-call ttl is ignored in favor of the cache-wide one.
func (m *MemoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.lru.Add(key, value)
	return nil
}

// Len returns the number of live entries.
func (m *MemoryCache) Len() int {
	return m.lru.Len()
}

// CachingSource serves payloads from Cache and falls back to Source on a miss.
// Cache failures are logged and never fail a fetch.
type CachingSource struct {
	Source Source
	Cache  Cache
	TTL    time.Duration
}

// NewCachingSource wraps src with cache.
func NewCachingSource(src Source, cache Cache, ttl time.Duration) *CachingSource {
	return &CachingSource{Source: src, Cache: cache, TTL: ttl}
}

// Fetch implements Source.
func (c *CachingSource) Fetch(ctx context.Context, req Request) (*Payload, error) {
	key := CacheKey(req)

	data, ok, err := c.Cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Report cache read failed")
	} else if ok {
		var p Payload
		if err := json.Unmarshal(data, &p); err == nil {
			log.Debug().Str("key", key).Msg("Report cache hit")
			return &p, nil
		}
		log.Warn().Str("key", key).Msg("Discarding undecodable cached report")
	}

	p, err := c.Source.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(p); err == nil {
		if err := c.Cache.Set(ctx, key, encoded, c.TTL); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Report cache write failed")
		}
	}
	return p, nil
}
