// Package metrics exports prediction metrics to Prometheus.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 预测指标
	predictionsTotal   *prometheus.CounterVec
	predictionDuration *prometheus.HistogramVec
	validationFailures *prometheus.CounterVec

	// 解析指标
	parseFallbacks *prometheus.CounterVec
	missingFields  *prometheus.CounterVec

	// 流式指标
	streamEmissions  *prometheus.CounterVec
	streamSuppressed prometheus.Counter

	// LLM 指标
	llmTokensUsed *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库指标
	dbQueryDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers the prediction metrics under namespace with reg.
// A nil reg uses the default Prometheus registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.predictionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Total number of predictions",
		},
		[]string{"provider", "mode", "status"}, // mode: batch, stream
	)

	c.predictionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_duration_seconds",
			Help:      "Prediction duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "mode"},
	)

	c.validationFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Total number of schema validation failures",
		},
		[]string{"side"}, // side: input, output
	)

	c.parseFallbacks = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_fallbacks_total",
			Help:      "Numeric output values kept as raw text because coercion failed",
		},
		[]string{"field"},
	)

	c.missingFields = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_missing_fields_total",
			Help:      "Output fields absent from the final reply",
		},
		[]string{"field"},
	)

	c.streamEmissions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_emissions_total",
			Help:      "Streaming updates delivered to callers",
		},
		[]string{"kind"}, // kind: partial, final
	)

	c.streamSuppressed = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_debounced_total",
			Help:      "Changed partial results held back by the debounce window",
		},
	)

	c.llmTokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"provider", "model", "type"}, // type: prompt, completion
	)

	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.dbQueryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 预测指标记录
// =============================================================================

// RecordPrediction 记录一次预测的结果与耗时
func (c *Collector) RecordPrediction(provider, mode, status string, duration time.Duration) {
	c.predictionsTotal.WithLabelValues(provider, mode, status).Inc()
	c.predictionDuration.WithLabelValues(provider, mode).Observe(duration.Seconds())
}

// RecordValidationFailure 记录一次 schema 校验失败
func (c *Collector) RecordValidationFailure(side string) {
	c.validationFailures.WithLabelValues(side).Inc()
}

// RecordParse 记录解析时回退为原始文本与缺失的字段
func (c *Collector) RecordParse(fallbacks, missing []string) {
	for _, f := range fallbacks {
		c.parseFallbacks.WithLabelValues(f).Inc()
	}
	for _, f := range missing {
		c.missingFields.WithLabelValues(f).Inc()
	}
}

// RecordStreamEmission 记录一次流式推送
func (c *Collector) RecordStreamEmission(final bool) {
	kind := "partial"
	if final {
		kind = "final"
	}
	c.streamEmissions.WithLabelValues(kind).Inc()
}

// RecordStreamDebounced 记录一次被去抖窗口压下的变化
func (c *Collector) RecordStreamDebounced() {
	c.streamSuppressed.Inc()
}

// =============================================================================
// 🤖 LLM 指标记录
// =============================================================================

// RecordTokens 记录 token 用量
func (c *Collector) RecordTokens(provider, model string, promptTokens, completionTokens int) {
	if promptTokens > 0 {
		c.llmTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.llmTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBQuery 记录数据库操作耗时
func (c *Collector) RecordDBQuery(operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
