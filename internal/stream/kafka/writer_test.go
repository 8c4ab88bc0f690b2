package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/giftagg/internal/config"
	"github.com/alanyoungcy/giftagg/internal/domain"
)

type captureWriter struct {
	mu      sync.Mutex
	msgs    []kafka.Message
	err     error
	closed  bool
	release chan struct{} // when set, writes block until closed or ctx ends
}

func (c *captureWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *captureWriter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestSinkWritesKeyedMessage(t *testing.T) {
	w := &captureWriter{}
	s := NewSink(w, 8, nil)

	if err := s.Write(context.Background(), "item:7", []byte(`{"type":"price_update"}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Close(); err != nil || !w.closed {
		t.Fatalf("Close = %v, closed = %v", err, w.closed)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	if got := string(w.msgs[0].Key); got != "item:7" {
		t.Errorf("key = %q, want item:7", got)
	}
	if w.msgs[0].Time.IsZero() {
		t.Error("message time not set")
	}
	if st := s.Stats(); st.Sent != 1 || st.Dropped != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSinkCountsWriterErrors(t *testing.T) {
	s := NewSink(&captureWriter{err: errors.New("broker down")}, 8, nil)
	if err := s.Write(context.Background(), "k", nil); err != nil {
		t.Fatalf("Write = %v, want nil (delivery is asynchronous)", err)
	}
	s.Close()
	if st := s.Stats(); st.Failed != 1 || st.Sent != 0 {
		t.Errorf("stats = %+v, want 1 failed", st)
	}
}

func TestStalledBrokerDoesNotBlockWrite(t *testing.T) {
	w := &captureWriter{release: make(chan struct{})}
	s := NewSink(w, 2, nil)

	start := time.Now()
	var full int
	for i := 0; i < 10; i++ {
		err := s.Write(context.Background(), "item:1", []byte(`{}`))
		if errors.Is(err, domain.ErrQueueFull) {
			full++
		} else if err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("10 writes took %v against a stalled broker", elapsed)
	}
	// One message may be held by the drain goroutine, two fit the queue.
	if full < 7 {
		t.Errorf("dropped = %d, want at least 7", full)
	}
	if got := s.Stats().Dropped; got != int64(full) {
		t.Errorf("Stats().Dropped = %d, want %d", got, full)
	}

	close(w.release)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := w.count(); got != 10-full {
		t.Errorf("delivered = %d, want %d", got, 10-full)
	}
}

func TestWriteAfterClose(t *testing.T) {
	s := NewSink(&captureWriter{}, 1, nil)
	s.Close()
	if err := s.Write(context.Background(), "k", nil); err == nil {
		t.Error("Write after Close succeeded")
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestNewWriterDefaults(t *testing.T) {
	w := NewWriter(config.KafkaConfig{Brokers: []string{"a:9092", "b:9092"}, Topic: "gift-price-events"})
	if w.Topic != "gift-price-events" {
		t.Errorf("Topic = %q", w.Topic)
	}
	if w.BatchTimeout <= 0 {
		t.Errorf("BatchTimeout = %v, want default", w.BatchTimeout)
	}
	if _, ok := w.Balancer.(*kafka.Hash); !ok {
		t.Errorf("Balancer = %T, want *kafka.Hash", w.Balancer)
	}
	if !w.Async {
		t.Error("writer must be async")
	}

	s := NewSink(w, 1, nil)
	defer s.Close()
	if w.Completion == nil {
		t.Error("sink did not install the Completion callback")
	}
}
