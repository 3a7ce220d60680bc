package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jorge-barreto/synthflow/internal/config"
)

func TestMemoryCache_TTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(val))

	now = now.Add(2 * time.Minute)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok, "entry should expire")
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	c := NewRedisCache(client)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte(`{"a":1}`), time.Minute))
	assert.True(t, mr.Exists("synthflow:tool:k"))

	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(val))

	mr.FastForward(2 * time.Minute)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCached_ServesRepeatCallsFromCache(t *testing.T) {
	tool := searchTool(func(_ context.Context, args Args) (any, error) {
		return map[string]string{"term": args.String("term")}, nil
	})
	reg := newTestRegistry(t, Cached(tool, NewMemoryCache(), time.Minute, zaptest.NewLogger(t)))

	first := reg.Invoke(context.Background(), "search", map[string]any{"term": "asthma"})
	second := reg.Invoke(context.Background(), "search", map[string]any{"term": "asthma"})
	require.True(t, first.OK())
	require.True(t, second.OK())
	assert.Equal(t, int32(1), tool.calls.Load())
	assert.JSONEq(t, string(first.Output), string(second.Output))

	reg.Invoke(context.Background(), "search", map[string]any{"term": "copd"})
	assert.Equal(t, int32(2), tool.calls.Load())
}

func TestCached_FailuresAreNotCached(t *testing.T) {
	tool := searchTool(func(context.Context, Args) (any, error) {
		return nil, errors.New("upstream down")
	})
	reg := newTestRegistry(t, Cached(tool, NewMemoryCache(), time.Minute, nil))

	reg.Invoke(context.Background(), "search", map[string]any{"term": "asthma"})
	rec := reg.Invoke(context.Background(), "search", map[string]any{"term": "asthma"})
	assert.False(t, rec.OK())
	assert.Equal(t, int32(2), tool.calls.Load())
}

func TestOpenCache_RedisFallsBackToMemory(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	c, closeFn := OpenCache(context.Background(), config.Cache{Backend: "redis", RedisAddr: addr}, zaptest.NewLogger(t))
	defer closeFn()
	_, isMem := c.(*MemoryCache)
	assert.True(t, isMem)
}

func TestOpenCache_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	c, closeFn := OpenCache(context.Background(), config.Cache{Backend: "redis", RedisAddr: mr.Addr()}, zaptest.NewLogger(t))
	defer closeFn()
	_, isRedis := c.(*RedisCache)
	assert.True(t, isRedis)
}

func TestOpenCache_None(t *testing.T) {
	c, closeFn := OpenCache(context.Background(), config.Cache{Backend: "none"}, zaptest.NewLogger(t))
	defer closeFn()
	assert.Nil(t, c)
}
