// =============================================================================
// 📦 PromptFlow 默认配置
// =============================================================================
// 默认值可以直接对接本地 OpenAI 兼容服务；缓存、审计与遥测默认关闭
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		LLM:       DefaultLLMConfig(),
		Predict:   DefaultPredictConfig(),
		Cache:     DefaultCacheConfig(),
		History:   DefaultHistoryConfig(),
		Log:       DefaultLogConfig(),
		Metrics:   DefaultMetricsConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider: "openai",
		BaseURL:  "https://api.openai.com",
		Model:    "gpt-4o-mini",
		Timeout:  2 * time.Minute,
	}
}

// DefaultPredictConfig 返回默认预测选项
func DefaultPredictConfig() PredictConfig {
	return PredictConfig{
		Validate:     true,
		DebounceMs:   100,
		StreamBuffer: 256,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      false,
		KeyStrategy:  "hash",
		LocalMaxSize: 1000,
		LocalTTL:     5 * time.Minute,
		Redis: RedisConfig{
			Enabled:   false,
			Addr:      "localhost:6379",
			KeyPrefix: "promptflow:",
			TTL:       time.Hour,
		},
	}
}

// DefaultHistoryConfig 返回默认审计记录配置
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Enabled:         false,
		Driver:          "sqlite",
		Name:            "promptflow.db",
		Port:            5432,
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		MaxRetries:      3,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     false,
		EnableStacktrace: false,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Namespace: "promptflow",
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "promptflow",
		SampleRate:   0.1,
	}
}
