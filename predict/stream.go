package predict

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/promptflow/history"
	"github.com/BaSui01/promptflow/llm"
	"github.com/BaSui01/promptflow/llm/streaming"
	"github.com/BaSui01/promptflow/signature"
)

// StreamUpdate is one emission of a streaming prediction. Updates carry
// increasing Seq numbers; exactly one has Final set and it is the last.
type StreamUpdate struct {
	Seq    int
	Values *signature.Values
	Final  bool
	// Err is set on the final update when the prediction failed. A failed
	// output validation still carries the final Values.
	Err error
}

// Stream is a running streaming prediction. The caller either drains
// Updates until it is closed or calls Close. When the context passed to
// PredictStream is cancelled the channel may close without a final update;
// Wait reports why.
type Stream struct {
	traceID string
	updates chan StreamUpdate
	stop    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc

	stopOnce sync.Once
	err      error
}

// Updates returns the emission channel. It is closed after the final update.
func (s *Stream) Updates() <-chan StreamUpdate {
	return s.updates
}

// TraceID identifies the prediction in logs, spans and history.
func (s *Stream) TraceID() string {
	return s.traceID
}

// Close stops the prediction and releases the transport. It waits for the
// pipeline to exit and is safe to call more than once.
func (s *Stream) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.cancel()
	})
	<-s.done
	return nil
}

// Wait blocks until the prediction ends and returns its error. After Close
// the error is context.Canceled unless the stream had already finished.
func (s *Stream) Wait() error {
	<-s.done
	return s.err
}

func (s *Stream) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// PredictStream starts a streaming prediction. Errors raised before the
// transport starts, such as a failed input validation, are returned directly;
// later ones arrive on the final update.
func (p *Predictor) PredictStream(ctx context.Context, m signature.Module, inputs map[string]any, opts Options) (*Stream, error) {
	c, err := p.begin(ctx, m, inputs, opts, history.ModeStream)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(c.ctx)
	src, err := p.provider.Stream(sctx, c.req)
	if err != nil {
		cancel()
		p.end(c, nil, err)
		return nil, err
	}

	s := &Stream{
		traceID: c.traceID,
		updates: make(chan StreamUpdate),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go p.runStream(sctx, c, src, s)
	return s, nil
}

// runStream pumps transport chunks into a backpressure queue and lets the
// reassembler drain it. The pump is the only writer of the queue and the
// consumer the only owner of the reassembler.
func (p *Predictor) runStream(ctx context.Context, c *call, src <-chan llm.StreamChunk, s *Stream) {
	defer close(s.done)
	defer close(s.updates)
	defer s.cancel()

	q := streaming.NewBackpressureStream(p.streamCfg)
	r := NewReassembler(c.module.Outputs, c.opts.Debounce())
	var usage atomic.Pointer[llm.ChatUsage]
	var pred *Prediction
	delivered := false
	seq := 0

	g, gctx := errgroup.WithContext(ctx)

	send := func(u StreamUpdate) error {
		u.Seq = seq
		select {
		case s.updates <- u:
			seq++
			p.metrics.RecordStreamEmission(u.Final)
			return nil
		case <-s.stop:
			return context.Canceled
		case <-gctx.Done():
			return gctx.Err()
		}
	}

	g.Go(func() error {
		idx := 0
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case chunk, ok := <-src:
				if !ok {
					q.CloseWrite()
					return nil
				}
				if chunk.Err != nil {
					return chunk.Err
				}
				if chunk.Usage != nil {
					usage.Store(chunk.Usage)
				}
				if chunk.Delta.Content == "" {
					continue
				}
				if err := q.Write(gctx, streaming.Chunk{Text: chunk.Delta.Content, Index: idx, Timestamp: p.now()}); err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					return err
				}
				idx++
			}
		}
	})

	g.Go(func() error {
		defer q.Close()
		var timer *time.Timer
		var timerC <-chan time.Time
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		arm := func() {
			if !r.Pending() {
				return
			}
			p.metrics.RecordStreamDebounced()
			if timerC != nil {
				return
			}
			wait := r.NextEmit().Sub(p.now())
			if wait < 0 {
				wait = 0
			}
			if timer == nil {
				timer = time.NewTimer(wait)
			} else {
				timer.Reset(wait)
			}
			timerC = timer.C
		}
		emit := func(values *signature.Values) error {
			if err := send(StreamUpdate{Values: values}); err != nil {
				return err
			}
			r.Emitted(p.now())
			return nil
		}

		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case chunk, ok := <-q.ReadChan():
				if !ok {
					return p.finishStream(c, r, &pred, usage.Load(), send, &delivered)
				}
				if values, ready := r.Feed(chunk.Text, p.now()); ready {
					if err := emit(values); err != nil {
						return err
					}
				}
				arm()
			case <-timerC:
				timerC = nil
				if values, ready := r.Flush(p.now()); ready {
					if err := emit(values); err != nil {
						return err
					}
				}
				arm()
			}
		}
	})

	err := g.Wait()
	if err != nil && s.stopped() && !delivered {
		err = context.Canceled
	}
	if err != nil && !delivered && !s.stopped() {
		select {
		case s.updates <- StreamUpdate{Seq: seq, Final: true, Err: err}:
		case <-s.stop:
		case <-ctx.Done():
		}
	}
	if pred == nil {
		pred = &Prediction{TraceID: c.traceID, Reply: r.Text()}
	}
	if errors.Is(err, context.Canceled) && s.stopped() {
		c.logger.Debug("stream closed by caller", zap.Int("updates", seq))
	}
	s.err = err
	p.end(c, pred, err)
}

// finishStream produces the final emission: full parse, output validation
// and an unconditional send.
func (p *Predictor) finishStream(c *call, r *Reassembler, pred **Prediction, usage *llm.ChatUsage, send func(StreamUpdate) error, delivered *bool) error {
	res := r.Finish()
	p.metrics.RecordParse(res.Fallbacks, res.Missing)

	out := &Prediction{
		Values:    res.Values,
		Missing:   res.Missing,
		Fallbacks: res.Fallbacks,
		Reply:     r.Text(),
		TraceID:   c.traceID,
	}
	if usage != nil {
		out.Usage = *usage
		p.metrics.RecordTokens(p.provider.Name(), c.opts.Model, usage.PromptTokens, usage.CompletionTokens)
	}
	*pred = out

	var verr error
	if c.opts.ShouldValidate() {
		_, verr = ValidateAgainst(p.engine, SideOutput, c.module.OutputSchema, res.Values.Map())
	}
	if err := send(StreamUpdate{Values: res.Values, Final: true, Err: verr}); err != nil {
		return err
	}
	*delivered = true
	c.logger.Debug("stream finished",
		zap.Int("reply_bytes", len(out.Reply)),
		zap.Strings("missing", res.Missing))
	return verr
}
