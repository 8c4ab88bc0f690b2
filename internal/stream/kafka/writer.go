// Package kafka appends published price events to a Kafka topic.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/giftagg/internal/config"
	"github.com/alanyoungcy/giftagg/internal/domain"
)

const (
	writeTimeout  = 5 * time.Second
	closeTimeout  = 10 * time.Second
	defaultBuffer = 1024
	maxBatch      = 100
)

var errSinkClosed = errors.New("sink closed")

// MessageWriter is the subset of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SinkStats counts messages handed to the writer, dropped on a full queue,
// and reported failed by the writer.
type SinkStats struct {
	Sent    int64 `json:"sent"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
}

// Sink implements domain.EventSink on a kafka.Writer. Write only enqueues;
// a single goroutine drains the queue into the writer, so a slow broker
// costs dropped events, never a stalled publisher.
type Sink struct {
	w      MessageWriter
	logger *slog.Logger
	queue  chan kafka.Message
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool

	sent    atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

var _ domain.EventSink = (*Sink)(nil)

// NewWriter builds the topic writer from config. The writer is async:
// WriteMessages returns once messages are batched, and delivery errors
// arrive through Completion, which NewSink installs.
func NewWriter(cfg config.KafkaConfig) *kafka.Writer {
	batchTimeout := cfg.BatchTimeout.Duration
	if batchTimeout <= 0 {
		batchTimeout = 50 * time.Millisecond
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    maxBatch,
		BatchTimeout: batchTimeout,
		Async:        true,
		Compression:  kafka.Zstd,
	}
}

// NewSink wraps w with a queue of buffer messages. Messages are keyed so that
// one item's events stay on one partition.
func NewSink(w MessageWriter, buffer int, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sink{
		w:      w,
		logger: logger.With(slog.String("component", "kafka_sink")),
		queue:  make(chan kafka.Message, buffer),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	if kw, ok := w.(*kafka.Writer); ok && kw.Async && kw.Completion == nil {
		kw.Completion = s.complete
	}
	go s.drain()
	return s
}

// Write enqueues one event without waiting on the broker. A full queue drops
// the event and returns domain.ErrQueueFull.
func (s *Sink) Write(_ context.Context, key string, value []byte) error {
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now().UTC(),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("kafka: write %s: %w", key, errSinkClosed)
	}
	select {
	case s.queue <- msg:
		return nil
	default:
		s.dropped.Add(1)
		return fmt.Errorf("kafka: write %s: %w", key, domain.ErrQueueFull)
	}
}

// Stats returns the sink counters.
func (s *Sink) Stats() SinkStats {
	return SinkStats{
		Sent:    s.sent.Load(),
		Dropped: s.dropped.Load(),
		Failed:  s.failed.Load(),
	}
}

// drain moves queued messages to the writer in batches of what is already
// waiting, up to maxBatch.
func (s *Sink) drain() {
	defer close(s.done)
	batch := make([]kafka.Message, 0, maxBatch)
	for msg := range s.queue {
		batch = append(batch[:0], msg)
	fill:
		for len(batch) < maxBatch {
			select {
			case m, ok := <-s.queue:
				if !ok {
					break fill
				}
				batch = append(batch, m)
			default:
				break fill
			}
		}
		s.flush(batch)
	}
}

func (s *Sink) flush(batch []kafka.Message) {
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	if err := s.w.WriteMessages(ctx, batch...); err != nil {
		s.complete(batch, err)
		return
	}
	s.sent.Add(int64(len(batch)))
}

// complete records failed deliveries, either from a synchronous write or
// from the async writer's Completion callback.
func (s *Sink) complete(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	s.failed.Add(int64(len(msgs)))
	s.logger.Warn("kafka: delivery failed",
		slog.Int("messages", len(msgs)),
		slog.String("error", err.Error()),
	)
}

// Close stops accepting events, flushes the queue for up to closeTimeout and
// closes the writer.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	timer := time.NewTimer(closeTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
		s.logger.Warn("kafka: flush timed out, abandoning queued events",
			slog.Int("queued", len(s.queue)))
		s.cancel()
		<-s.done
	}
	s.cancel()

	if err := s.w.Close(); err != nil {
		return fmt.Errorf("kafka: close: %w", err)
	}
	return nil
}
