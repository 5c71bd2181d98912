package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/promptflow/config"
	"github.com/BaSui01/promptflow/history"
	"github.com/BaSui01/promptflow/internal/metrics"
	"github.com/BaSui01/promptflow/internal/telemetry"
	"github.com/BaSui01/promptflow/llm/cache"
	"github.com/BaSui01/promptflow/llm/providers/openaicompat"
	"github.com/BaSui01/promptflow/llm/streaming"
	"github.com/BaSui01/promptflow/predict"
)

// =============================================================================
// 🧩 运行时装配
// =============================================================================

// app holds everything a prediction run needs, built from one Config.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	predictor *predict.Predictor
	registry  *prometheus.Registry
	store     *history.Store
	redis     *redis.Client
	otel      *telemetry.Providers
}

// newApp wires provider, cache, history, metrics and telemetry. Optional
// backends that fail to come up are logged and skipped.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	otelProviders, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	a.otel = otelProviders

	provider := openaicompat.New(openaicompat.Config{
		ProviderName: cfg.LLM.Provider,
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		DefaultModel: cfg.LLM.Model,
		Timeout:      cfg.LLM.Timeout,
		EndpointPath: cfg.LLM.EndpointPath,
	}, logger)

	streamCfg := streaming.DefaultBackpressureConfig()
	if cfg.Predict.StreamBuffer > 0 {
		streamCfg.BufferSize = cfg.Predict.StreamBuffer
	}

	opts := []predict.Option{
		predict.WithLogger(logger),
		predict.WithDefaults(defaultsFromConfig(cfg)),
		predict.WithBackpressure(streamCfg),
		predict.WithTracerProvider(a.otel.TracerProvider()),
		predict.WithMeterProvider(a.otel.MeterProvider()),
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		collector = metrics.NewCollector(cfg.Metrics.Namespace, a.registry, logger)
		opts = append(opts, predict.WithMetrics(collector))
	}

	if cfg.Cache.Enabled {
		opts = append(opts, predict.WithCache(a.openCache(ctx)))
	}

	if cfg.History.Enabled {
		store, err := history.Open(historyConfig(cfg.History), logger)
		if err != nil {
			logger.Warn("history store not available, predictions will not be recorded", zap.Error(err))
		} else {
			if collector != nil {
				store.Observe(collector.RecordDBQuery)
			}
			a.store = store
			opts = append(opts, predict.WithRecorder(store))
			a.applyRetention(ctx)
		}
	}

	p, err := predict.New(provider, opts...)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("create predictor: %w", err)
	}
	a.predictor = p
	return a, nil
}

// openCache builds the reply cache. An unreachable Redis degrades to the
// in-process level.
func (a *app) openCache(ctx context.Context) cache.ReplyCache {
	cc := a.cfg.Cache
	cacheCfg := cache.DefaultConfig()
	cacheCfg.LocalMaxSize = cc.LocalMaxSize
	cacheCfg.LocalTTL = cc.LocalTTL
	cacheCfg.KeyStrategyType = cc.KeyStrategy
	cacheCfg.EnableRedis = cc.Redis.Enabled
	if cc.Redis.KeyPrefix != "" {
		cacheCfg.KeyPrefix = cc.Redis.KeyPrefix
	}
	if cc.Redis.TTL > 0 {
		cacheCfg.RedisTTL = cc.Redis.TTL
	}

	if cc.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cache.RedisOptions{
			Addr:     cc.Redis.Addr,
			Password: cc.Redis.Password,
			DB:       cc.Redis.DB,
			TLS:      cc.Redis.TLS,
		})
		if err != nil {
			a.logger.Warn("redis not available, using local reply cache only", zap.Error(err))
			cacheCfg.EnableRedis = false
		} else {
			a.redis = client
		}
	}

	// 避免把 nil *redis.Client 装进接口
	if a.redis == nil {
		return cache.NewMultiLevelCache(nil, cacheCfg, a.logger)
	}
	return cache.NewMultiLevelCache(a.redis, cacheCfg, a.logger)
}

func (a *app) applyRetention(ctx context.Context) {
	if a.store == nil || a.cfg.History.Retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-a.cfg.History.Retention)
	if _, err := a.store.Prune(ctx, cutoff); err != nil {
		a.logger.Warn("failed to prune prediction records", zap.Error(err))
	}
}

// writeMetrics dumps the registry in Prometheus text format.
func (a *app) writeMetrics(path string) error {
	if path == "" {
		return nil
	}
	if a.registry == nil {
		return errors.New("metrics are disabled; set metrics.enabled to write a metrics file")
	}
	if err := prometheus.WriteToTextfile(path, a.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// Close releases backends in reverse order of creation.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close history store: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.otel.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// defaultsFromConfig turns the predict section into per-call defaults.
func defaultsFromConfig(cfg *config.Config) predict.Options {
	return predict.Options{
		Model:      cfg.LLM.Model,
		Validate:   predict.Bool(cfg.Predict.Validate),
		DebounceMs: predict.Int(cfg.Predict.DebounceMs),
		Extra:      cfg.Predict.Extra,
	}
}

// historyConfig maps the history section onto the store configuration.
func historyConfig(h config.HistoryConfig) history.Config {
	return history.Config{
		Driver:          h.Driver,
		DSN:             h.ConnectionString(),
		MaxIdleConns:    h.MaxIdleConns,
		MaxOpenConns:    h.MaxOpenConns,
		ConnMaxLifetime: h.ConnMaxLifetime,
		MaxRetries:      h.MaxRetries,
	}
}
