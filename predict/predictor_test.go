package predict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/promptflow/history"
	"github.com/BaSui01/promptflow/internal/metrics"
	"github.com/BaSui01/promptflow/llm"
	"github.com/BaSui01/promptflow/llm/cache"
	"github.com/BaSui01/promptflow/llm/tokenizer"
	"github.com/BaSui01/promptflow/schema"
	"github.com/BaSui01/promptflow/signature"
	"github.com/BaSui01/promptflow/testutil/fixtures"
	"github.com/BaSui01/promptflow/testutil/mocks"
)

func questionAnswer() signature.Module {
	return signature.Module{
		Inputs:  []signature.Field{signature.NewField("question", signature.TypeString, "")},
		Outputs: []signature.Field{signature.NewField("answer", signature.TypeString, "")},
	}
}

func newPredictor(t *testing.T, provider llm.Provider, opts ...Option) *Predictor {
	t.Helper()
	opts = append([]Option{
		WithLogger(zap.NewNop()),
		WithTokenizer(tokenizer.NewEstimatorTokenizer("test", 4096)),
	}, opts...)
	p, err := New(provider, opts...)
	require.NoError(t, err)
	return p
}

// =============================================================================
// 🧪 批量预测
// =============================================================================

func TestNew_NilProvider(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilProvider)
}

func TestPredict_EndToEndExample(t *testing.T) {
	provider := mocks.NewSuccessProvider("[[ ## answer ## ]]\n4")
	p := newPredictor(t, provider)

	values, err := p.Predict(context.Background(), questionAnswer(), map[string]any{"question": "2+2?"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"answer": "4"}, values.Map())

	call := provider.GetLastCall()
	require.NotNil(t, call)
	require.Len(t, call.Request.Messages, 1)
	want := signature.Render(signature.Normalize(questionAnswer()), map[string]any{"question": "2+2?"})
	assert.Equal(t, want, call.Request.Messages[0].Content)
	assert.Equal(t, llm.RoleUser, call.Request.Messages[0].Role)
	assert.NotEmpty(t, call.Request.TraceID)
}

func TestPredict_ForwardsOptions(t *testing.T) {
	provider := mocks.NewSuccessProvider("[[ ## answer ## ]]\nok")
	p := newPredictor(t, provider, WithDefaults(Options{Model: "default-model", Extra: map[string]any{"seed": 1}}))

	opts, err := OptionsFromMap(map[string]any{"temperature": 0.3})
	require.NoError(t, err)
	_, err = p.Predict(context.Background(), questionAnswer(), map[string]any{"question": "q"}, opts)
	require.NoError(t, err)

	req := provider.GetLastCall().Request
	assert.Equal(t, "default-model", req.Model)
	assert.Equal(t, map[string]any{"seed": 1, "temperature": 0.3}, req.Extra)

	_, err = p.Predict(context.Background(), questionAnswer(), nil, Options{Model: "override"})
	require.NoError(t, err)
	assert.Equal(t, "override", provider.GetLastCall().Request.Model)
}

func TestPredictDetailed(t *testing.T) {
	provider := mocks.NewSuccessProvider("[[ ## result ## ]]\nforty-two").WithTokenUsage(12, 3)
	p := newPredictor(t, provider)

	pred, err := p.PredictDetailed(context.Background(), fixtures.MathModule(), map[string]any{"expression": "6*7"}, Options{})
	require.NoError(t, err)

	result, _ := pred.Values.Get("result")
	assert.Equal(t, "forty-two", result, "a failed int coercion keeps the raw text")
	assert.Equal(t, []string{"result"}, pred.Fallbacks)
	assert.Equal(t, []string{"ratio"}, pred.Missing)
	assert.Equal(t, 15, pred.Usage.TotalTokens)
	assert.Equal(t, "[[ ## result ## ]]\nforty-two", pred.Reply)
	assert.NotEmpty(t, pred.TraceID)
	assert.False(t, pred.CacheHit)
}

func TestPredict_SchemaModule(t *testing.T) {
	m := signature.Module{
		InputSchema: schema.NewObjectSchema().
			AddProperty("question", schema.NewStringSchema().WithMinLength(1)).
			AddRequired("question"),
		OutputSchema: schema.NewObjectSchema().
			AddProperty("answer", schema.NewStringSchema()).
			AddProperty("confidence", schema.NewNumberSchema().WithMaximum(1)).
			AddRequired("answer"),
	}

	t.Run("valid", func(t *testing.T) {
		provider := mocks.NewSuccessProvider("[[ ## answer ## ]]\n4\n\n[[ ## confidence ## ]]\n0.9")
		values, err := newPredictor(t, provider).Predict(context.Background(), m, map[string]any{"question": "2+2?"}, Options{})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"answer": "4", "confidence": 0.9}, values.Map())
	})

	t.Run("input fails", func(t *testing.T) {
		provider := mocks.NewSuccessProvider("unused")
		_, err := newPredictor(t, provider).Predict(context.Background(), m, map[string]any{"question": ""}, Options{})

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, SideInput, verr.Side)
		assert.Equal(t, map[string]any{"question": ""}, verr.Value)
		assert.Equal(t, 0, provider.GetCallCount(), "transport must not be called")
	})

	t.Run("output fails", func(t *testing.T) {
		provider := mocks.NewSuccessProvider("[[ ## confidence ## ]]\n3")
		_, err := newPredictor(t, provider).Predict(context.Background(), m, map[string]any{"question": "q"}, Options{})

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, SideOutput, verr.Side)
		assert.Equal(t, map[string]any{"answer": nil, "confidence": 3.0}, verr.Value)
		assert.Len(t, verr.Diagnostics, 2)
	})

	t.Run("validation disabled", func(t *testing.T) {
		provider := mocks.NewSuccessProvider("[[ ## confidence ## ]]\n3")
		values, err := newPredictor(t, provider).Predict(context.Background(), m, map[string]any{}, Options{Validate: Bool(false)})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"answer": nil, "confidence": 3.0}, values.Map())
	})
}

func TestPredict_ExplicitFieldsShadowSchema(t *testing.T) {
	m := questionAnswer()
	m.OutputSchema = schema.NewObjectSchema().AddProperty("other", schema.NewStringSchema()).AddRequired("other")

	provider := mocks.NewSuccessProvider("[[ ## answer ## ]]\n4")
	values, err := newPredictor(t, provider).Predict(context.Background(), m, map[string]any{"question": "q"}, Options{})
	require.NoError(t, err, "a shadowed schema takes no part in validation")
	assert.Equal(t, []string{"answer"}, values.Keys())
}

func TestPredict_InvalidModule(t *testing.T) {
	m := signature.Module{Outputs: []signature.Field{
		signature.NewField("a", signature.TypeString, ""),
		signature.NewField("a", signature.TypeInt, ""),
	}}
	provider := mocks.NewSuccessProvider("x")
	_, err := newPredictor(t, provider).Predict(context.Background(), m, nil, Options{})
	assert.ErrorContains(t, err, "duplicate name")
	assert.Equal(t, 0, provider.GetCallCount())
}

func TestPredict_TransportError(t *testing.T) {
	provider := mocks.NewErrorProvider(&llm.Error{Code: llm.ErrRateLimited, Message: "slow down", Retryable: true, Provider: "mock"})
	_, err := newPredictor(t, provider).Predict(context.Background(), questionAnswer(), map[string]any{"question": "q"}, Options{})

	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrRateLimited, llmErr.Code)
	assert.True(t, llmErr.Retryable)
}

func TestPredict_CallsAreIndependent(t *testing.T) {
	provider := mocks.NewFlakeyProvider(1, fixtures.QAReply).WithName("flaky")
	p := newPredictor(t, provider)
	in := map[string]any{"question": "Capital of France?"}

	values, err := p.Predict(context.Background(), fixtures.QAModule(), in, Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"answer": "Paris", "correct": true}, values.Map())

	_, err = p.Predict(context.Background(), fixtures.QAModule(), in, Options{})
	require.Error(t, err)

	calls := provider.GetCalls()
	require.Len(t, calls, 2)
	assert.NoError(t, calls[0].Error)
	assert.ErrorIs(t, calls[1].Error, mocks.ErrFailAfter)
	assert.ErrorIs(t, err, mocks.ErrFailAfter)
	assert.Equal(t, calls[0].Request.Messages, calls[1].Request.Messages, "no state carried between calls")
}

func TestPredict_EmptyChoices(t *testing.T) {
	provider := mocks.NewMockProvider().WithCompletionFunc(func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{}, nil
	})
	_, err := newPredictor(t, provider).Predict(context.Background(), questionAnswer(), nil, Options{})
	assert.ErrorContains(t, err, "read reply")
}

func TestProperty_PredictReturnsEchoedValues(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		answer := rapid.StringMatching(`[A-Za-z0-9][A-Za-z0-9 ,.?]{0,30}[A-Za-z0-9]`).Draw(t, "answer")
		provider := mocks.NewSuccessProvider(signature.Marker("answer") + "\n" + answer + "\n\n" + signature.Marker("completed"))
		p, err := New(provider)
		if err != nil {
			t.Fatal(err)
		}
		values, err := p.Predict(context.Background(), questionAnswer(), map[string]any{"question": "q"}, Options{})
		if err != nil {
			t.Fatal(err)
		}
		if got, _ := values.Get("answer"); got != answer {
			t.Fatalf("got %q, want %q", got, answer)
		}
	})
}

// =============================================================================
// 🗄️ 缓存、审计与可观测性
// =============================================================================

func TestPredict_ReplyCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := cache.DefaultConfig()
	cfg.EnableLocal = false
	replies := cache.NewMultiLevelCache(rdb, cfg, zap.NewNop())

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("test", reg, nil)

	provider := mocks.NewSuccessProvider("[[ ## answer ## ]]\n4")
	p := newPredictor(t, provider, WithCache(replies), WithMetrics(collector))
	ctx := context.Background()
	in := map[string]any{"question": "2+2?"}

	first, err := p.PredictDetailed(ctx, questionAnswer(), in, Options{})
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := p.PredictDetailed(ctx, questionAnswer(), in, Options{})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.True(t, first.Values.Equal(second.Values))
	assert.NotEqual(t, first.TraceID, second.TraceID)

	assert.Equal(t, 1, provider.GetCallCount())
	assert.Len(t, mr.Keys(), 1)
	assert.Equal(t, 1.0, counterValue(t, reg, "test_cache_hits_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "test_cache_misses_total"))

	// A different input is a different key.
	_, err = p.Predict(ctx, questionAnswer(), map[string]any{"question": "3+3?"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, provider.GetCallCount())
}

func TestPredict_UncacheableRequestSkipsCache(t *testing.T) {
	cfg := cache.DefaultConfig()
	cfg.CacheableCheck = func(*llm.ChatRequest) bool { return false }
	provider := mocks.NewSuccessProvider("[[ ## answer ## ]]\n4")
	p := newPredictor(t, provider, WithCache(cache.NewMultiLevelCache(nil, cfg, nil)))

	for i := 0; i < 2; i++ {
		pred, err := p.PredictDetailed(context.Background(), questionAnswer(), map[string]any{"question": "q"}, Options{})
		require.NoError(t, err)
		assert.False(t, pred.CacheHit)
	}
	assert.Equal(t, 2, provider.GetCallCount())
}

func TestPredict_RecordsHistory(t *testing.T) {
	store, err := history.Open(history.Config{Driver: "sqlite", DSN: ":memory:", MaxOpenConns: 1, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m := signature.Module{
		Inputs:       []signature.Field{signature.NewField("question", signature.TypeString, "")},
		OutputSchema: schema.NewObjectSchema().AddProperty("answer", schema.NewStringSchema()).AddRequired("answer"),
		Instructions: "Answer briefly.",
	}
	ctx := context.Background()

	p := newPredictor(t, mocks.NewSuccessProvider("[[ ## answer ## ]]\n4"), WithRecorder(store))
	pred, err := p.PredictDetailed(ctx, m, map[string]any{"question": "2+2?"}, Options{Model: "m1"})
	require.NoError(t, err)

	failing := newPredictor(t, mocks.NewSuccessProvider("no markers"), WithRecorder(store))
	_, err = failing.Predict(ctx, m, map[string]any{"question": "?"}, Options{Model: "m1"})
	require.Error(t, err)

	recs, err := store.List(ctx, history.Filter{TraceID: pred.TraceID})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, history.StatusOK, rec.Status)
	assert.Equal(t, history.ModeBatch, rec.Mode)
	assert.Equal(t, "mock", rec.Provider)
	assert.Equal(t, "m1", rec.Model)
	assert.Equal(t, "Answer briefly.", rec.Instructions)
	assert.Equal(t, map[string]any{"question": "2+2?"}, rec.Inputs)
	assert.Equal(t, map[string]any{"answer": "4"}, rec.Outputs)
	assert.Positive(t, rec.PromptTokens)

	failed, err := store.List(ctx, history.Filter{Status: history.StatusValidationFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, []string{"answer"}, failed[0].Missing)
	assert.Contains(t, failed[0].Error, "output validation failed")
}

type failingRecorder struct{ calls int }

func (f *failingRecorder) Record(context.Context, *history.PredictionRecord) error {
	f.calls++
	return errors.New("disk full")
}

func TestPredict_RecorderErrorIsNotFatal(t *testing.T) {
	rec := &failingRecorder{}
	p := newPredictor(t, mocks.NewSuccessProvider("[[ ## answer ## ]]\n4"), WithRecorder(rec))
	_, err := p.Predict(context.Background(), questionAnswer(), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.calls)
}

func TestPredict_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("test", reg, zap.NewNop())
	provider := mocks.NewSuccessProvider("[[ ## result ## ]]\nnope").WithTokenUsage(7, 2)
	p := newPredictor(t, provider, WithMetrics(collector))

	_, err := p.Predict(context.Background(), fixtures.MathModule(), map[string]any{"expression": "1"}, Options{Model: "m"})
	require.NoError(t, err)

	assert.Equal(t, 1.0, counterValue(t, reg, "test_predictions_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "test_parse_fallbacks_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "test_parse_missing_fields_total"))
	assert.Equal(t, 9.0, counterValue(t, reg, "test_llm_tokens_used_total"))

	n, err := testutil.GatherAndCount(reg, "test_prediction_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPredict_Tracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ok := newPredictor(t, mocks.NewSuccessProvider("[[ ## answer ## ]]\n4"), WithTracerProvider(tp))
	_, err := ok.Predict(context.Background(), questionAnswer(), nil, Options{Model: "m"})
	require.NoError(t, err)

	bad := newPredictor(t, mocks.NewErrorProvider(errors.New("boom")), WithTracerProvider(tp))
	_, err = bad.Predict(context.Background(), questionAnswer(), nil, Options{})
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "predict.batch", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "mock", attrs["llm.provider"])
	assert.Equal(t, "m", attrs["llm.model"])
	assert.Equal(t, "ok", attrs["predict.status"])

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "boom", spans[1].Status().Description)
	require.NotEmpty(t, spans[1].Events())
	assert.Equal(t, "exception", spans[1].Events()[0].Name)
}

func TestPredict_OTelInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	p := newPredictor(t, mocks.NewSuccessProvider("[[ ## answer ## ]]\n4"), WithMeterProvider(mp))
	for i := 0; i < 3; i++ {
		_, err := p.Predict(context.Background(), questionAnswer(), nil, Options{})
		require.NoError(t, err)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
			if m.Name == "promptflow.predict.requests" {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				require.Len(t, sum.DataPoints, 1)
				assert.Equal(t, int64(3), sum.DataPoints[0].Value)
			}
		}
	}
	assert.True(t, found["promptflow.predict.requests"])
	assert.True(t, found["promptflow.predict.duration"])
}

func TestPredict_Clock(t *testing.T) {
	store, err := history.Open(history.Config{Driver: "sqlite", DSN: ":memory:", MaxOpenConns: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(250 * time.Millisecond)
		return now
	}
	p := newPredictor(t, mocks.NewSuccessProvider("[[ ## answer ## ]]\n4"), WithRecorder(store), WithClock(clock))
	pred, err := p.PredictDetailed(context.Background(), questionAnswer(), nil, Options{})
	require.NoError(t, err)

	recs, err := store.List(context.Background(), history.Filter{TraceID: pred.TraceID})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(250), recs[0].DurationMs)
}

func TestPredictor_CompilePrompt(t *testing.T) {
	p := newPredictor(t, mocks.NewMockProvider())
	assert.Equal(t, signature.CompilePrompt(questionAnswer()), p.CompilePrompt(questionAnswer()))
}

// counterValue sums every series of a counter family.
func counterValue(t *testing.T, g prometheus.Gatherer, name string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		total := 0.0
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	return 0
}
