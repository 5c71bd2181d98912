package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/promptflow/llm"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func prompt(model, text string) *llm.ChatRequest {
	return llm.UserPrompt(model, text)
}

// ---------------------------------------------------------------------------
// Key strategies
// ---------------------------------------------------------------------------

func TestHashKeyStrategy_GenerateKey(t *testing.T) {
	s := NewHashKeyStrategy()
	assert.Equal(t, "hash", s.Name())

	a := prompt("gpt-4o-mini", "hello")
	b := prompt("gpt-4o-mini", "hello")
	b.TraceID = "other-trace"
	b.Timeout = time.Second

	assert.Equal(t, s.GenerateKey(a), s.GenerateKey(b), "trace id and timeout must not change the key")
	assert.Contains(t, s.GenerateKey(a), "reply:")
	assert.NotEqual(t, s.GenerateKey(a), s.GenerateKey(prompt("gpt-4o-mini", "world")))
	assert.NotEqual(t, s.GenerateKey(a), s.GenerateKey(prompt("gpt-4o", "hello")))

	withExtra := prompt("gpt-4o-mini", "hello")
	withExtra.Extra = map[string]any{"seed": 1}
	assert.NotEqual(t, s.GenerateKey(a), s.GenerateKey(withExtra), "extras are part of the key")
}

func TestModelKeyStrategy_GenerateKey(t *testing.T) {
	s := NewModelKeyStrategy()
	assert.Equal(t, "model", s.Name())

	key := s.GenerateKey(prompt("gpt-4o", "hello"))
	assert.Regexp(t, `^reply:gpt-4o:[0-9a-f]{24}$`, key)
	assert.Regexp(t, `^reply:default:`, s.GenerateKey(prompt("", "hello")))
}

// ---------------------------------------------------------------------------
// LRU
// ---------------------------------------------------------------------------

func TestLRUCache_Eviction(t *testing.T) {
	c := NewLRUCache(2, time.Minute)
	c.Set("k1", &Entry{Reply: "1"})
	c.Set("k2", &Entry{Reply: "2"})
	_, ok := c.Get("k1") // k1 becomes most recent
	require.True(t, ok)
	c.Set("k3", &Entry{Reply: "3"})

	_, ok = c.Get("k2")
	assert.False(t, ok, "k2 should have been evicted")
	_, ok = c.Get("k1")
	assert.True(t, ok)
	_, ok = c.Get("k3")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestLRUCache_TTL(t *testing.T) {
	c := NewLRUCache(10, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set("k", &Entry{Reply: "v"})

	_, ok := c.Get("k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLRUCache_ReturnsCopies(t *testing.T) {
	c := NewLRUCache(10, time.Minute)
	in := &Entry{Reply: "v"}
	c.Set("k", in)
	in.Reply = "mutated"

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got.Reply)
	got.Reply = "again"

	got, _ = c.Get("k")
	assert.Equal(t, "v", got.Reply)
	assert.Equal(t, 2, got.HitCount)
}

func TestLRUCache_DeletePrefix(t *testing.T) {
	c := NewLRUCache(10, time.Minute)
	c.Set("reply:a:1", &Entry{})
	c.Set("reply:a:2", &Entry{})
	c.Set("reply:b:1", &Entry{})

	assert.Equal(t, 2, c.DeletePrefix("reply:a:"))
	assert.Equal(t, 1, c.Len())
	c.Clear()
	assert.Equal(t, 0, c.Len())
}

// ---------------------------------------------------------------------------
// MultiLevelCache
// ---------------------------------------------------------------------------

func TestMultiLevelCache_LocalOnly(t *testing.T) {
	c := NewMultiLevelCache(nil, nil, nil)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", &Entry{Reply: "[[ ## answer ## ]]\n4"}))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "[[ ## answer ## ]]\n4", got.Reply)
	assert.False(t, got.CreatedAt.IsZero())

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	assert.Error(t, c.Set(ctx, "nil", nil))
}

func TestMultiLevelCache_RedisBackfillsLocal(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	cfg := DefaultConfig()

	writer := NewMultiLevelCache(rdb, cfg, zap.NewNop())
	require.NoError(t, writer.Set(ctx, "k", &Entry{Reply: "cached", Model: "m"}))
	assert.True(t, mr.Exists("promptflow:k"))
	assert.Greater(t, mr.TTL("promptflow:k"), time.Duration(0))

	// A second process with a cold local level reads through to Redis.
	reader := NewMultiLevelCache(rdb, cfg, zap.NewNop())
	got, err := reader.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "cached", got.Reply)
	assert.Equal(t, 1, got.HitCount)

	mr.Del("promptflow:k")
	got, err = reader.Get(ctx, "k")
	require.NoError(t, err, "local level was backfilled")
	assert.Equal(t, "cached", got.Reply)
}

func TestMultiLevelCache_RedisFailureIsMiss(t *testing.T) {
	mr, rdb := newRedis(t)
	cfg := DefaultConfig()
	cfg.EnableLocal = false
	c := NewMultiLevelCache(rdb, cfg, nil)

	mr.Close()
	_, err := c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Error(t, c.Set(context.Background(), "k", &Entry{Reply: "x"}))
}

func TestMultiLevelCache_CorruptEntryIsMiss(t *testing.T) {
	mr, rdb := newRedis(t)
	require.NoError(t, mr.Set("promptflow:k", "{not json"))

	c := NewMultiLevelCache(rdb, DefaultConfig(), nil)
	_, err := c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMultiLevelCache_IsCacheable(t *testing.T) {
	c := NewMultiLevelCache(nil, nil, nil)
	assert.True(t, c.IsCacheable(prompt("m", "q")))
	assert.False(t, c.IsCacheable(nil))
	assert.False(t, c.IsCacheable(&llm.ChatRequest{Model: "m"}))

	hot := prompt("m", "q")
	hot.Temperature = 0.7
	assert.False(t, c.IsCacheable(hot))
}

func TestMultiLevelCache_InvalidateModel(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.KeyStrategyType = "model"
	c := NewMultiLevelCache(rdb, cfg, nil)

	for _, q := range []string{"a", "b", "c"} {
		req := prompt("old", q)
		require.NoError(t, c.Set(ctx, c.GenerateKey(req), &Entry{Reply: q}))
	}
	keep := prompt("new", "a")
	require.NoError(t, c.Set(ctx, c.GenerateKey(keep), &Entry{Reply: "a"}))

	removed, err := c.InvalidateModel(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, 6, removed, "three local and three redis entries")
	assert.Len(t, mr.Keys(), 1)

	_, err = c.Get(ctx, c.GenerateKey(keep))
	assert.NoError(t, err)
	_, err = c.Get(ctx, c.GenerateKey(prompt("old", "a")))
	assert.ErrorIs(t, err, ErrCacheMiss)

	flat := NewMultiLevelCache(nil, nil, nil)
	_, err = flat.InvalidateModel(ctx, "old")
	assert.Error(t, err)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	_ = client.Close()

	addr := mr.Addr()
	mr.Close()
	_, err = NewRedisClient(context.Background(), RedisOptions{Addr: addr})
	assert.Error(t, err)
}
