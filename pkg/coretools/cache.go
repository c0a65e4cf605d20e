package coretools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/briefing/internal/observability"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const articleCachePrefix = "briefing:article:"

// ContentCache stores extracted article text by URL.
type ContentCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisCache is a ContentCache backed by Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to a redis:// URL and pings it.
func NewRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Close closes the Redis client.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

const (
	memorySweepInterval = time.Minute
	maxMemoryEntries    = 1024
)

type memoryEntry struct {
	value   string
	expires time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// MemoryCache is an in-process ContentCache with per-entry expiry. Expired
// entries are swept on Set, and a full cache evicts the entry closest to
// expiry.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	maxEntries int
	nextSweep  time.Time
	now        func() time.Time
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries:    make(map[string]memoryEntry),
		maxEntries: maxMemoryEntries,
		now:        time.Now,
	}
}

func (m *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !now.Before(m.nextSweep) {
		for k, e := range m.entries {
			if e.expired(now) {
				delete(m.entries, k)
			}
		}
		m.nextSweep = now.Add(memorySweepInterval)
	}
	if _, ok := m.entries[key]; !ok && len(m.entries) >= m.maxEntries {
		m.evictOne()
	}

	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// evictOne drops the entry that expires first; entries without expiry go last.
func (m *MemoryCache) evictOne() {
	victim := ""
	var soonest time.Time
	for k, e := range m.entries {
		if victim == "" || (!e.expires.IsZero() && (soonest.IsZero() || e.expires.Before(soonest))) {
			victim, soonest = k, e.expires
		}
	}
	delete(m.entries, victim)
}

// CachedExtractor serves repeat extractions of the same URL from a cache.
// Cache errors are logged and fall through to the wrapped extractor.
type CachedExtractor struct {
	inner Extractor
	cache ContentCache
	ttl   time.Duration
}

// NewCachedExtractor wraps inner with cache.
func NewCachedExtractor(inner Extractor, cache ContentCache, ttl time.Duration) *CachedExtractor {
	return &CachedExtractor{inner: inner, cache: cache, ttl: ttl}
}

func (c *CachedExtractor) Extract(ctx context.Context, articleURL string) (string, error) {
	key := articleCachePrefix + articleURL

	cached, ok, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		observability.RecordArticleCache("error")
		log.Warn().Err(err).Str("url", articleURL).Msg("Article cache read failed")
	case ok:
		observability.RecordArticleCache("hit")
		return cached, nil
	default:
		observability.RecordArticleCache("miss")
	}

	text, err := c.inner.Extract(ctx, articleURL)
	if err != nil {
		return "", err
	}

	if err := c.cache.Set(ctx, key, text, c.ttl); err != nil {
		log.Warn().Err(err).Str("url", articleURL).Msg("Article cache write failed")
	}
	return text, nil
}
