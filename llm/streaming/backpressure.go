package streaming

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var (
	ErrBufferFull   = errors.New("buffer full, backpressure applied")
	ErrStreamClosed = errors.New("stream closed")
)

// Chunk is one piece of reply text.
type Chunk struct {
	Text      string    `json:"text"`
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
}

// OverflowPolicy decides what a producer does once the buffer reaches its
// high water mark. Reply text must arrive complete, so chunks are never
// dropped: the producer either waits or fails.
type OverflowPolicy int

const (
	OverflowBlock OverflowPolicy = iota // Block producer until the consumer catches up
	OverflowError                       // Return ErrBufferFull
)

// BackpressureConfig configures backpressure behavior.
type BackpressureConfig struct {
	BufferSize    int            `json:"buffer_size" yaml:"buffer_size"`
	HighWaterMark float64        `json:"high_water_mark" yaml:"high_water_mark"` // 0.0-1.0
	LowWaterMark  float64        `json:"low_water_mark" yaml:"low_water_mark"`   // 0.0-1.0
	Overflow      OverflowPolicy `json:"overflow" yaml:"overflow"`
}

// DefaultBackpressureConfig returns the defaults used by predict streams.
func DefaultBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{
		BufferSize:    256,
		HighWaterMark: 0.8,
		LowWaterMark:  0.2,
		Overflow:      OverflowBlock,
	}
}

// BackpressureStream is a single-producer, single-consumer chunk queue.
//
// The producer calls Write for every chunk and CloseWrite at end of reply.
// The consumer calls Read until it returns ErrStreamClosed, or calls Close to
// walk away early, which makes every pending and later Write fail.
type BackpressureStream struct {
	config BackpressureConfig
	buffer chan Chunk
	done   chan struct{}

	writeClosed atomic.Bool
	closed      atomic.Bool

	produced  atomic.Int64
	consumed  atomic.Int64
	blocked   atomic.Int64
	lastWrite atomic.Int64
	lastRead  atomic.Int64
	paused    atomic.Bool
}

// NewBackpressureStream creates a new backpressure-aware stream.
func NewBackpressureStream(config BackpressureConfig) *BackpressureStream {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBackpressureConfig().BufferSize
	}
	if config.HighWaterMark <= 0 || config.HighWaterMark > 1 {
		config.HighWaterMark = 1
	}
	return &BackpressureStream{
		config: config,
		buffer: make(chan Chunk, config.BufferSize),
		done:   make(chan struct{}),
	}
}

// Write queues a chunk, applying backpressure at the high water mark.
func (s *BackpressureStream) Write(ctx context.Context, chunk Chunk) error {
	if s.closed.Load() || s.writeClosed.Load() {
		return ErrStreamClosed
	}
	s.lastWrite.Store(time.Now().UnixNano())

	level := s.BufferLevel()
	if level >= s.config.HighWaterMark {
		s.paused.Store(true)
		s.blocked.Add(1)
		if s.config.Overflow == OverflowError {
			return ErrBufferFull
		}
	} else if level <= s.config.LowWaterMark {
		s.paused.Store(false)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStreamClosed
	case s.buffer <- chunk:
		s.produced.Add(1)
		return nil
	}
}

// CloseWrite marks the end of the reply. Chunks already queued stay readable.
// Only the producer may call it.
func (s *BackpressureStream) CloseWrite() {
	if s.writeClosed.Swap(true) {
		return
	}
	close(s.buffer)
}

// Read returns the next chunk. It returns ErrStreamClosed once the producer
// has finished and the buffer is drained, or after Close.
func (s *BackpressureStream) Read(ctx context.Context) (Chunk, error) {
	if s.closed.Load() {
		return Chunk{}, ErrStreamClosed
	}
	s.lastRead.Store(time.Now().UnixNano())

	select {
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	case <-s.done:
		return Chunk{}, ErrStreamClosed
	case chunk, ok := <-s.buffer:
		if !ok {
			return Chunk{}, ErrStreamClosed
		}
		s.consumed.Add(1)
		return chunk, nil
	}
}

// ReadChan returns the underlying channel; it is closed by CloseWrite.
func (s *BackpressureStream) ReadChan() <-chan Chunk {
	return s.buffer
}

// Done is closed when the consumer calls Close.
func (s *BackpressureStream) Done() <-chan struct{} {
	return s.done
}

// Close stops the stream from the consumer side.
func (s *BackpressureStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)
	return nil
}

// IsPaused returns whether the stream is paused due to backpressure.
func (s *BackpressureStream) IsPaused() bool {
	return s.paused.Load()
}

// BufferLevel returns the current buffer utilization (0.0-1.0).
func (s *BackpressureStream) BufferLevel() float64 {
	return float64(len(s.buffer)) / float64(s.config.BufferSize)
}

// Stats returns stream statistics.
func (s *BackpressureStream) Stats() StreamStats {
	return StreamStats{
		Produced:   s.produced.Load(),
		Consumed:   s.consumed.Load(),
		Blocked:    s.blocked.Load(),
		BufferSize: len(s.buffer),
		BufferCap:  s.config.BufferSize,
		IsPaused:   s.paused.Load(),
		LastWrite:  time.Unix(0, s.lastWrite.Load()),
		LastRead:   time.Unix(0, s.lastRead.Load()),
	}
}

// StreamStats contains stream statistics.
type StreamStats struct {
	Produced   int64     `json:"produced"`
	Consumed   int64     `json:"consumed"`
	Blocked    int64     `json:"blocked"`
	BufferSize int       `json:"buffer_size"`
	BufferCap  int       `json:"buffer_cap"`
	IsPaused   bool      `json:"is_paused"`
	LastWrite  time.Time `json:"last_write"`
	LastRead   time.Time `json:"last_read"`
}
