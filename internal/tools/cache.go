package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jorge-barreto/synthflow/internal/metrics"
)

// Cache stores successful tool outputs by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

// RedisCache stores outputs in Redis so separate processes share lookups.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client, prefix: "synthflow:tool:"}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, value, ttl).Err()
}

// Cached wraps t so successful outputs are served from c for ttl. Cache
// errors are logged and otherwise ignored.
func Cached(t Tool, c Cache, ttl time.Duration, logger *zap.Logger) Tool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &cachedTool{Tool: t, cache: c, ttl: ttl, logger: logger}
}

type cachedTool struct {
	Tool
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

func (t *cachedTool) Call(ctx context.Context, args Args) (any, error) {
	name := t.Spec().Name
	keyArgs, err := json.Marshal(args)
	if err != nil {
		return t.Tool.Call(ctx, args)
	}
	key := name + ":" + string(keyArgs)

	if val, ok, err := t.cache.Get(ctx, key); err != nil {
		t.logger.Warn("Tool cache read failed", zap.String("tool", name), zap.Error(err))
	} else if ok {
		metrics.ToolCacheHits.WithLabelValues(name).Inc()
		return json.RawMessage(val), nil
	}

	out, err := t.Tool.Call(ctx, args)
	if err != nil {
		return nil, err
	}
	val, err := json.Marshal(out)
	if err != nil {
		return out, nil
	}
	if err := t.cache.Set(ctx, key, val, t.ttl); err != nil {
		t.logger.Warn("Tool cache write failed", zap.String("tool", name), zap.Error(err))
	}
	return out, nil
}
