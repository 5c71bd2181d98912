package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("test", reg, zap.NewNop()), reg
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector_RegistersWithRegisterer(t *testing.T) {
	c, reg := newTestCollector(t)
	c.RecordPrediction("openai", "batch", "ok", 100*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "test_predictions_total")
	assert.Contains(t, names, "test_prediction_duration_seconds")

	// Registering the same namespace twice on one registry must fail loudly.
	assert.Panics(t, func() { NewCollector("test", reg, nil) })
}

func TestCollector_RecordPrediction(t *testing.T) {
	c, _ := newTestCollector(t)
	c.RecordPrediction("openai", "batch", "ok", 100*time.Millisecond)
	c.RecordPrediction("openai", "batch", "ok", 50*time.Millisecond)
	c.RecordPrediction("openai", "stream", "error", time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.predictionsTotal.WithLabelValues("openai", "batch", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.predictionsTotal.WithLabelValues("openai", "stream", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.predictionDuration))
}

func TestCollector_RecordParse(t *testing.T) {
	c, _ := newTestCollector(t)
	c.RecordParse([]string{"count"}, []string{"answer", "count"})
	c.RecordParse(nil, []string{"answer"})

	assert.Equal(t, float64(1), testutil.ToFloat64(c.parseFallbacks.WithLabelValues("count")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.missingFields.WithLabelValues("answer")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.missingFields.WithLabelValues("count")))
}

func TestCollector_StreamAndValidation(t *testing.T) {
	c, _ := newTestCollector(t)
	c.RecordStreamEmission(false)
	c.RecordStreamEmission(false)
	c.RecordStreamEmission(true)
	c.RecordStreamDebounced()
	c.RecordValidationFailure("output")

	expected := `
# HELP test_stream_emissions_total Streaming updates delivered to callers
# TYPE test_stream_emissions_total counter
test_stream_emissions_total{kind="final"} 1
test_stream_emissions_total{kind="partial"} 2
`
	require.NoError(t, testutil.CollectAndCompare(c.streamEmissions, strings.NewReader(expected)))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.streamSuppressed))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.validationFailures.WithLabelValues("output")))
}

func TestCollector_RecordTokens(t *testing.T) {
	c, _ := newTestCollector(t)
	c.RecordTokens("openai", "gpt-4o", 120, 0)

	assert.Equal(t, float64(120), testutil.ToFloat64(c.llmTokensUsed.WithLabelValues("openai", "gpt-4o", "prompt")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.llmTokensUsed), "zero completion tokens are not recorded")
}

func TestCollector_CacheAndDB(t *testing.T) {
	c, _ := newTestCollector(t)
	c.RecordCacheHit("reply")
	c.RecordCacheMiss("reply")
	c.RecordCacheMiss("reply")
	c.RecordDBQuery("insert", 3*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.cacheHits.WithLabelValues("reply")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.cacheMisses.WithLabelValues("reply")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.dbQueryDuration))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	c, _ := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordPrediction("openai", "stream", "ok", 10*time.Millisecond)
			c.RecordStreamEmission(true)
			c.RecordCacheHit("reply")
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(10), testutil.ToFloat64(c.predictionsTotal.WithLabelValues("openai", "stream", "ok")))
	assert.Equal(t, float64(10), testutil.ToFloat64(c.cacheHits.WithLabelValues("reply")))
}
