package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/promptflow/internal/tlsutil"
	"github.com/BaSui01/promptflow/llm"
)

var ErrCacheMiss = errors.New("cache miss")

// ReplyCache stores complete model replies keyed by request.
type ReplyCache interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry *Entry) error
	Delete(ctx context.Context, key string) error
	GenerateKey(req *llm.ChatRequest) string
}

// Entry 缓存条目
type Entry struct {
	Reply        string    `json:"reply"`
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model,omitempty"`
	PromptTokens int       `json:"prompt_tokens,omitempty"`
	TokensSaved  int       `json:"tokens_saved"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	HitCount     int       `json:"hit_count"`
}

// Config 缓存配置
type Config struct {
	LocalMaxSize    int                             // 本地缓存最大条目数
	LocalTTL        time.Duration                   // 本地缓存 TTL
	RedisTTL        time.Duration                   // Redis 缓存 TTL
	EnableLocal     bool                            // 是否启用本地缓存
	EnableRedis     bool                            // 是否启用 Redis 缓存
	KeyPrefix       string                          // Redis 键前缀
	KeyStrategyType string                          // 缓存键策略类型：hash | model
	CacheableCheck  func(req *llm.ChatRequest) bool // 判断请求是否可缓存
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		LocalMaxSize: 1000,
		LocalTTL:     5 * time.Minute,
		RedisTTL:     time.Hour,
		EnableLocal:  true,
		EnableRedis:  true,
		KeyPrefix:    "promptflow:",
		CacheableCheck: func(req *llm.ChatRequest) bool {
			// 只有确定性的请求值得缓存：温度为 0 且至少有一条消息。
			return req != nil && len(req.Messages) > 0 && req.Temperature == 0
		},
	}
}

// MultiLevelCache is an in-process LRU in front of an optional Redis level.
// Redis failures degrade to a miss; they never fail a prediction.
type MultiLevelCache struct {
	local    *LRUCache
	redis    redis.UniversalClient
	config   *Config
	strategy KeyStrategy
	logger   *zap.Logger
}

// NewMultiLevelCache 创建多级缓存。rdb 为 nil 时只使用本地缓存。
func NewMultiLevelCache(rdb redis.UniversalClient, config *Config, logger *zap.Logger) *MultiLevelCache {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "reply_cache"))

	var local *LRUCache
	if config.EnableLocal {
		local = NewLRUCache(config.LocalMaxSize, config.LocalTTL)
	}

	var strategy KeyStrategy
	switch config.KeyStrategyType {
	case "model":
		strategy = NewModelKeyStrategy()
	default:
		strategy = NewHashKeyStrategy()
	}
	logger.Debug("reply cache configured",
		zap.String("key_strategy", strategy.Name()),
		zap.Bool("local", local != nil),
		zap.Bool("redis", config.EnableRedis && rdb != nil))

	return &MultiLevelCache{
		local:    local,
		redis:    rdb,
		config:   config,
		strategy: strategy,
		logger:   logger,
	}
}

func (c *MultiLevelCache) useRedis() bool {
	return c.config.EnableRedis && c.redis != nil
}

// Get 获取缓存
func (c *MultiLevelCache) Get(ctx context.Context, key string) (*Entry, error) {
	if c.local != nil {
		if entry, ok := c.local.Get(key); ok {
			c.logger.Debug("local cache hit", zap.String("key", key))
			return entry, nil
		}
	}

	if c.useRedis() {
		data, err := c.redis.Get(ctx, c.redisKey(key)).Bytes()
		switch {
		case err == nil:
			var entry Entry
			if err := json.Unmarshal(data, &entry); err != nil {
				c.logger.Warn("discarding corrupt cache entry", zap.String("key", key), zap.Error(err))
				break
			}
			entry.HitCount++
			if c.local != nil {
				c.local.Set(key, &entry)
			}
			c.logger.Debug("redis cache hit", zap.String("key", key))
			return &entry, nil
		case !errors.Is(err, redis.Nil):
			c.logger.Warn("redis get error", zap.Error(err))
		}
	}

	return nil, ErrCacheMiss
}

// Set 设置缓存
func (c *MultiLevelCache) Set(ctx context.Context, key string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache set %q: nil entry", key)
	}
	now := time.Now()
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(c.config.RedisTTL)

	if c.local != nil {
		c.local.Set(key, entry)
	}

	if c.useRedis() {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal cache entry: %w", err)
		}
		if err := c.redis.Set(ctx, c.redisKey(key), data, c.config.RedisTTL).Err(); err != nil {
			c.logger.Warn("redis set error", zap.Error(err))
			return fmt.Errorf("redis set: %w", err)
		}
	}

	c.logger.Debug("cache set", zap.String("key", key))
	return nil
}

// Delete 删除缓存
func (c *MultiLevelCache) Delete(ctx context.Context, key string) error {
	if c.local != nil {
		c.local.Delete(key)
	}
	if c.useRedis() {
		if err := c.redis.Del(ctx, c.redisKey(key)).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	return nil
}

// GenerateKey 生成缓存键（使用策略模式）
func (c *MultiLevelCache) GenerateKey(req *llm.ChatRequest) string {
	return c.strategy.GenerateKey(req)
}

// IsCacheable 判断请求是否可缓存
func (c *MultiLevelCache) IsCacheable(req *llm.ChatRequest) bool {
	if c.config.CacheableCheck != nil {
		return c.config.CacheableCheck(req)
	}
	return req != nil
}

// InvalidateModel drops every cached reply of model. It needs the "model" key
// strategy; with flat hash keys there is nothing to match on.
func (c *MultiLevelCache) InvalidateModel(ctx context.Context, model string) (int, error) {
	if _, ok := c.strategy.(*ModelKeyStrategy); !ok {
		return 0, fmt.Errorf("invalidate by model needs the model key strategy, have %q", c.strategy.Name())
	}
	prefix := fmt.Sprintf("reply:%s:", model)

	removed := 0
	if c.local != nil {
		removed = c.local.DeletePrefix(prefix)
	}
	if !c.useRedis() {
		return removed, nil
	}

	iter := c.redis.Scan(ctx, 0, c.redisKey(prefix)+"*", 100).Iterator()
	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.redis.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	if err := flush(); err != nil {
		return removed, err
	}

	c.logger.Info("cache invalidated by model", zap.String("model", model), zap.Int("removed", removed))
	return removed, nil
}

func (c *MultiLevelCache) redisKey(key string) string {
	return c.config.KeyPrefix + key
}

// RedisOptions 描述回复缓存使用的 Redis 连接
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
}

// NewRedisClient opens a client for the reply cache and pings it.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	var tlsCfg *tls.Config
	if opts.TLS {
		tlsCfg = tlsutil.ClientConfig("")
	}
	client := redis.NewClient(&redis.Options{
		Addr:      opts.Addr,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: tlsCfg,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return client, nil
}
