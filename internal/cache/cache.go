// Package cache holds recently rendered answers so repeated questions skip
// the whole retrieval pipeline.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"zapask/internal/metrics"
)

const DefaultTTL = 2 * time.Minute

// Backend stores values with a TTL. A missing key is reported as found ==
// false with no error.
type Backend interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Key derives the cache key for a question asked in a channel. The question
// is compared case-insensitively after trimming.
func Key(teamID, channelID, query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("ask_response:%s:%s:%s", teamID, channelID, hex.EncodeToString(sum[:]))
}

// ResponseCache is best effort: backend errors are logged and read as
// misses.
type ResponseCache struct {
	backend Backend
	ttl     time.Duration
	logger  *slog.Logger
}

func NewResponseCache(backend Backend, ttl time.Duration, logger *slog.Logger) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseCache{backend: backend, ttl: ttl, logger: logger}
}

func (c *ResponseCache) Get(ctx context.Context, key string) (string, bool) {
	value, found, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Response cache read failed", "error", err)
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return "", false
	}
	if !found {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return "", false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return value, true
}

func (c *ResponseCache) Set(ctx context.Context, key, value string) {
	if err := c.backend.Set(ctx, key, value, c.ttl); err != nil {
		c.logger.Warn("Response cache write failed", "error", err)
	}
}

type RedisBackend struct {
	rdb redis.Cmdable
}

func NewRedisBackend(rdb redis.Cmdable) *RedisBackend {
	return &RedisBackend{rdb: rdb}
}

func (b *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := b.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := b.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// MemoryBackend keeps entries in process. Every entry lives for the TTL
// given at construction; the per-call TTL is ignored.
type MemoryBackend struct {
	lru *expirable.LRU[string, string]
}

func NewMemoryBackend(size int, ttl time.Duration) *MemoryBackend {
	if size <= 0 {
		size = 1000
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryBackend{lru: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (b *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	value, ok := b.lru.Get(key)
	return value, ok, nil
}

func (b *MemoryBackend) Set(_ context.Context, key, value string, _ time.Duration) error {
	b.lru.Add(key, value)
	return nil
}
