package predict

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/promptflow/history"
	"github.com/BaSui01/promptflow/llm"
	"github.com/BaSui01/promptflow/llm/cache"
	"github.com/BaSui01/promptflow/llm/streaming"
	"github.com/BaSui01/promptflow/llm/tokenizer"
	"github.com/BaSui01/promptflow/signature"
)

const instrumentationName = "github.com/BaSui01/promptflow/predict"

// ErrNilProvider is returned by New without a transport.
var ErrNilProvider = errors.New("predict: nil provider")

// Recorder persists finished predictions. *history.Store implements it.
type Recorder interface {
	Record(ctx context.Context, rec *history.PredictionRecord) error
}

// MetricsRecorder receives prediction metrics. *metrics.Collector implements it.
type MetricsRecorder interface {
	RecordPrediction(provider, mode, status string, duration time.Duration)
	RecordValidationFailure(side string)
	RecordParse(fallbacks, missing []string)
	RecordStreamEmission(final bool)
	RecordStreamDebounced()
	RecordTokens(provider, model string, promptTokens, completionTokens int)
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

type nopMetrics struct{}

func (nopMetrics) RecordPrediction(string, string, string, time.Duration) {}
func (nopMetrics) RecordValidationFailure(string)                         {}
func (nopMetrics) RecordParse([]string, []string)                         {}
func (nopMetrics) RecordStreamEmission(bool)                              {}
func (nopMetrics) RecordStreamDebounced()                                 {}
func (nopMetrics) RecordTokens(string, string, int, int)                  {}
func (nopMetrics) RecordCacheHit(string)                                  {}
func (nopMetrics) RecordCacheMiss(string)                                 {}

// cacheabler is implemented by caches that filter requests.
type cacheabler interface {
	IsCacheable(req *llm.ChatRequest) bool
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Predictor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithEngine replaces the schema validator.
func WithEngine(engine Engine) Option {
	return func(p *Predictor) {
		if engine != nil {
			p.engine = engine
		}
	}
}

// WithCache serves repeated batch requests from c.
func WithCache(c cache.ReplyCache) Option {
	return func(p *Predictor) { p.cache = c }
}

// WithRecorder stores every finished prediction in r.
func WithRecorder(r Recorder) Option {
	return func(p *Predictor) { p.recorder = r }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m MetricsRecorder) Option {
	return func(p *Predictor) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithTokenizer fixes the tokenizer used for prompt accounting. By default
// one is picked per model.
func WithTokenizer(t tokenizer.Tokenizer) Option {
	return func(p *Predictor) { p.tokenizer = t }
}

// WithTracerProvider sets where spans and OTel instruments go. The global
// providers are used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Predictor) {
		if tp != nil {
			p.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithMeterProvider sets the OTel meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(p *Predictor) {
		if mp != nil {
			p.meter = mp.Meter(instrumentationName)
		}
	}
}

// WithBackpressure configures the chunk queue between transport and
// reassembler.
func WithBackpressure(cfg streaming.BackpressureConfig) Option {
	return func(p *Predictor) { p.streamCfg = cfg }
}

// WithDefaults sets options applied under every call's own options.
func WithDefaults(opts Options) Option {
	return func(p *Predictor) { p.defaults = opts }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Predictor) {
		if now != nil {
			p.now = now
		}
	}
}

// Predictor runs modules against a language model.
type Predictor struct {
	provider  llm.Provider
	logger    *zap.Logger
	engine    Engine
	cache     cache.ReplyCache
	recorder  Recorder
	metrics   MetricsRecorder
	tokenizer tokenizer.Tokenizer
	tracer    trace.Tracer
	meter     metric.Meter
	streamCfg streaming.BackpressureConfig
	defaults  Options
	now       func() time.Time

	tokenizers sync.Map // model -> tokenizer.Tokenizer

	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates a Predictor over provider.
func New(provider llm.Provider, opts ...Option) (*Predictor, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}
	p := &Predictor{
		provider:  provider,
		logger:    zap.NewNop(),
		engine:    DefaultEngine(),
		metrics:   nopMetrics{},
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
		streamCfg: streaming.DefaultBackpressureConfig(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "predict"), zap.String("provider", provider.Name()))

	var err error
	p.requests, err = p.meter.Int64Counter("promptflow.predict.requests",
		metric.WithDescription("Predictions started"))
	if err != nil {
		return nil, fmt.Errorf("create request counter: %w", err)
	}
	p.duration, err = p.meter.Float64Histogram("promptflow.predict.duration",
		metric.WithDescription("Prediction duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	return p, nil
}

// Prediction is the detailed outcome of a batch call.
type Prediction struct {
	Values    *signature.Values
	Missing   []string
	Fallbacks []string
	Reply     string
	TraceID   string
	Usage     llm.ChatUsage
	CacheHit  bool
}

// call carries the per-request state shared by batch and streaming runs.
type call struct {
	module  signature.Normalized
	inputs  map[string]any
	opts    Options
	req     *llm.ChatRequest
	mode    string
	start   time.Time
	span    trace.Span
	ctx     context.Context
	tokens  int
	logger  *zap.Logger
	traceID string
}

// Predict renders module with inputs, sends the prompt and returns the parsed
// output map.
func (p *Predictor) Predict(ctx context.Context, m signature.Module, inputs map[string]any, opts Options) (*signature.Values, error) {
	pred, err := p.PredictDetailed(ctx, m, inputs, opts)
	if err != nil {
		return nil, err
	}
	return pred.Values, nil
}

// PredictDetailed is Predict with parse details, usage and the raw reply.
func (p *Predictor) PredictDetailed(ctx context.Context, m signature.Module, inputs map[string]any, opts Options) (*Prediction, error) {
	c, err := p.begin(ctx, m, inputs, opts, history.ModeBatch)
	if err != nil {
		return nil, err
	}

	pred, err := p.complete(c)
	if err != nil {
		p.end(c, pred, err)
		return nil, err
	}

	values := pred.Values.Map()
	if c.opts.ShouldValidate() {
		if _, err := ValidateAgainst(p.engine, SideOutput, c.module.OutputSchema, values); err != nil {
			p.end(c, pred, err)
			return nil, err
		}
	}
	p.end(c, pred, nil)
	return pred, nil
}

// CompilePrompt returns the prompt template of m.
func (p *Predictor) CompilePrompt(m signature.Module) string {
	return signature.CompilePrompt(m)
}

// begin normalizes the module, validates inputs and builds the request.
func (p *Predictor) begin(ctx context.Context, m signature.Module, inputs map[string]any, opts Options, mode string) (*call, error) {
	opts = opts.Merge(p.defaults)
	n := signature.NormalizeModule(m)
	if err := n.Check(); err != nil {
		return nil, fmt.Errorf("invalid module: %w", err)
	}
	if inputs == nil {
		inputs = map[string]any{}
	}

	traceID := uuid.NewString()
	c := &call{
		module:  n,
		inputs:  inputs,
		opts:    opts,
		mode:    mode,
		start:   p.now(),
		traceID: traceID,
		logger:  p.logger.With(zap.String("trace_id", traceID), zap.String("mode", mode)),
	}
	c.ctx, c.span = p.tracer.Start(ctx, "predict."+mode,
		trace.WithAttributes(
			attribute.String("llm.provider", p.provider.Name()),
			attribute.String("llm.model", opts.Model),
			attribute.String("predict.trace_id", traceID),
			attribute.Int("predict.outputs", len(n.Outputs)),
		))
	p.requests.Add(c.ctx, 1, metric.WithAttributes(
		attribute.String("provider", p.provider.Name()),
		attribute.String("mode", mode)))

	if opts.ShouldValidate() {
		if _, err := ValidateAgainst(p.engine, SideInput, n.InputSchema, inputs); err != nil {
			p.end(c, nil, err)
			return nil, err
		}
	}

	prompt := signature.Render(n, inputs)
	c.req = llm.UserPrompt(opts.Model, prompt)
	c.req.TraceID = traceID
	c.req.Extra = opts.Extra
	c.tokens = p.countTokens(c)

	c.logger.Debug("prediction started",
		zap.String("model", opts.Model),
		zap.Int("prompt_tokens", c.tokens),
		zap.Strings("outputs", c.module.OutputNames()))
	return c, nil
}

func (p *Predictor) countTokens(c *call) int {
	tk := p.tokenizer
	if tk == nil {
		cached, ok := p.tokenizers.Load(c.opts.Model)
		if !ok {
			cached, _ = p.tokenizers.LoadOrStore(c.opts.Model, tokenizer.ForModel(c.opts.Model))
		}
		tk = cached.(tokenizer.Tokenizer)
	}
	n, err := tk.CountMessages(c.req.Messages)
	if err != nil {
		c.logger.Debug("token count failed", zap.Error(err))
		return 0
	}
	return n
}

// complete fetches the reply, from cache when possible, and parses it.
func (p *Predictor) complete(c *call) (*Prediction, error) {
	pred := &Prediction{TraceID: c.traceID}

	key, cacheable := p.cacheKey(c.req)
	if cacheable {
		if entry, err := p.cache.Get(c.ctx, key); err == nil {
			p.metrics.RecordCacheHit("reply")
			c.logger.Debug("reply served from cache", zap.String("key", key))
			pred.Reply = entry.Reply
			pred.CacheHit = true
		} else {
			p.metrics.RecordCacheMiss("reply")
		}
	}

	if !pred.CacheHit {
		resp, err := p.provider.Completion(c.ctx, c.req)
		if err != nil {
			return pred, err
		}
		reply, err := llm.ReplyText(resp)
		if err != nil {
			return pred, fmt.Errorf("read reply: %w", err)
		}
		pred.Reply = reply
		pred.Usage = resp.Usage
		p.metrics.RecordTokens(p.provider.Name(), c.opts.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

		if cacheable {
			entry := &cache.Entry{
				Reply:        reply,
				Provider:     p.provider.Name(),
				Model:        c.opts.Model,
				PromptTokens: c.tokens,
				TokensSaved:  resp.Usage.TotalTokens,
			}
			if err := p.cache.Set(c.ctx, key, entry); err != nil {
				c.logger.Warn("cache write failed", zap.Error(err))
			}
		}
	}

	res := signature.ParseWithResult(pred.Reply, c.module.Outputs)
	pred.Values = res.Values
	pred.Missing = res.Missing
	pred.Fallbacks = res.Fallbacks
	p.metrics.RecordParse(res.Fallbacks, res.Missing)
	return pred, nil
}

func (p *Predictor) cacheKey(req *llm.ChatRequest) (string, bool) {
	if p.cache == nil {
		return "", false
	}
	if cc, ok := p.cache.(cacheabler); ok && !cc.IsCacheable(req) {
		return "", false
	}
	return p.cache.GenerateKey(req), true
}

// end closes the span, records metrics and writes the audit record.
func (p *Predictor) end(c *call, pred *Prediction, err error) {
	elapsed := p.now().Sub(c.start)
	status := history.StatusOK
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		status = history.StatusValidationFailed
		p.metrics.RecordValidationFailure(string(verr.Side))
	case err != nil:
		status = history.StatusError
	}

	p.metrics.RecordPrediction(p.provider.Name(), c.mode, status, elapsed)
	p.duration.Record(c.ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("provider", p.provider.Name()),
		attribute.String("mode", c.mode),
		attribute.String("status", status)))

	c.span.SetAttributes(attribute.String("predict.status", status))
	if pred != nil {
		c.span.SetAttributes(
			attribute.Bool("predict.cache_hit", pred.CacheHit),
			attribute.Int("predict.missing", len(pred.Missing)),
			attribute.Int("predict.fallbacks", len(pred.Fallbacks)))
	}
	if err != nil {
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("prediction failed", zap.String("status", status), zap.Error(err))
	} else {
		c.span.SetStatus(codes.Ok, "")
		c.logger.Debug("prediction finished", zap.Duration("duration", elapsed))
	}
	c.span.End()

	p.record(c, pred, status, err, elapsed)
}

func (p *Predictor) record(c *call, pred *Prediction, status string, err error, elapsed time.Duration) {
	if p.recorder == nil {
		return
	}
	rec := &history.PredictionRecord{
		TraceID:      c.traceID,
		Provider:     p.provider.Name(),
		Model:        c.opts.Model,
		Mode:         c.mode,
		Instructions: c.module.Instructions,
		Inputs:       c.inputs,
		PromptTokens: c.tokens,
		Status:       status,
		DurationMs:   elapsed.Milliseconds(),
	}
	if pred != nil {
		if pred.Values != nil {
			rec.Outputs = pred.Values.Map()
		}
		rec.Reply = pred.Reply
		rec.Missing = pred.Missing
		rec.Fallbacks = pred.Fallbacks
		rec.CacheHit = pred.CacheHit
	}
	if err != nil {
		rec.Error = err.Error()
	}
	// The caller's context may already be cancelled; the audit write is not.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), 5*time.Second)
	defer cancel()
	if err := p.recorder.Record(ctx, rec); err != nil {
		c.logger.Warn("failed to record prediction", zap.Error(err))
	}
}
