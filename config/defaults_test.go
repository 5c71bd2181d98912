package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, LLMConfig{}, cfg.LLM)
	assert.NotEqual(t, PredictConfig{}, cfg.Predict)
	assert.NotEqual(t, CacheConfig{}, cfg.Cache)
	assert.NotEqual(t, HistoryConfig{}, cfg.History)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, MetricsConfig{}, cfg.Metrics)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
}

func TestDefaultConfig_IsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

// --- Individual Default*Config functions ---

func TestDefaultLLMConfig(t *testing.T) {
	cfg := DefaultLLMConfig()
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, "https://api.openai.com", cfg.BaseURL)
	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.Empty(t, cfg.APIKey)
}

func TestDefaultPredictConfig(t *testing.T) {
	cfg := DefaultPredictConfig()
	assert.True(t, cfg.Validate)
	assert.Equal(t, 100, cfg.DebounceMs)
	assert.Equal(t, 256, cfg.StreamBuffer)
	assert.Nil(t, cfg.Extra)
}

func TestDefaultCacheConfig(t *testing.T) {
	cfg := DefaultCacheConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "hash", cfg.KeyStrategy)
	assert.Equal(t, 1000, cfg.LocalMaxSize)
	assert.Equal(t, 5*time.Minute, cfg.LocalTTL)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "promptflow:", cfg.Redis.KeyPrefix)
	assert.Equal(t, time.Hour, cfg.Redis.TTL)
}

func TestDefaultHistoryConfig(t *testing.T) {
	cfg := DefaultHistoryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, "promptflow.db", cfg.ConnectionString())
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Zero(t, cfg.Retention)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, []string{"stderr"}, cfg.OutputPaths)
}

func TestDefaultMetricsConfig(t *testing.T) {
	cfg := DefaultMetricsConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "promptflow", cfg.Namespace)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "promptflow", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 0.001)
}
