package redis

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

func newTestClient(t *testing.T, prefix string) (*Client, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: m.Addr(), KeyPrefix: prefix})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, m
}

func TestKeyNamespace(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "giftagg:lock:cron:sync"},
		{"staging", "staging:lock:cron:sync"},
		{"staging:", "staging:lock:cron:sync"},
	}
	for _, tt := range tests {
		c := Wrap(redis.NewClient(&redis.Options{Addr: "localhost:0"}), tt.prefix)
		if got := c.Key("lock", "cron:sync"); got != tt.want {
			t.Errorf("Key with prefix %q = %q, want %q", tt.prefix, got, tt.want)
		}
		c.Close()
	}
}

func TestNewFailsWithoutServer(t *testing.T) {
	m := miniredis.RunT(t)
	addr := m.Addr()
	m.Close()
	if _, err := New(context.Background(), ClientConfig{Addr: addr}); err == nil {
		t.Error("New succeeded against a closed server")
	}
}

func TestJobStoreRoundTrip(t *testing.T) {
	c, m := newTestClient(t, "t1")
	s := NewJobStore(c, time.Hour)
	ctx := context.Background()

	job := domain.Job{ID: "j-1", Status: domain.JobQueued, Request: domain.JobRequest{Kind: domain.JobMarket, Market: "tonnel"}}
	if err := s.Save(ctx, job); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !m.Exists("t1:job:j-1") {
		t.Fatalf("keys = %v, want t1:job:j-1", m.Keys())
	}
	if ttl := m.TTL("t1:job:j-1"); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}

	got, err := s.Get(ctx, "j-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.JobQueued || got.Request.Market != "tonnel" {
		t.Errorf("Get = %+v", got)
	}

	m.FastForward(2 * time.Hour)
	if _, err := s.Get(ctx, "j-1"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("expired Get = %v, want ErrJobNotFound", err)
	}
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	c, m := newTestClient(t, "")
	rl := NewRateLimiter(c)
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i, want := range []bool{true, true, false} {
		ok, err := rl.Allow(ctx, "api:1.2.3.4", 2, time.Minute)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if ok != want {
			t.Errorf("request %d allowed = %v, want %v", i, ok, want)
		}
	}
	if ok, _ := rl.Allow(ctx, "api:5.6.7.8", 2, time.Minute); !ok {
		t.Error("other client limited")
	}
	if !m.Exists("giftagg:ratelimit:api:1.2.3.4") {
		t.Errorf("keys = %v", m.Keys())
	}

	now = now.Add(61 * time.Second)
	if ok, _ := rl.Allow(ctx, "api:1.2.3.4", 2, time.Minute); !ok {
		t.Error("window did not slide")
	}
}

func TestLockExclusive(t *testing.T) {
	c, m := newTestClient(t, "t2")
	lm := NewLockManager(c, nil)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "cron:sync", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := lm.Acquire(ctx, "cron:sync", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Errorf("second Acquire = %v, want ErrLockHeld", err)
	}

	host, _ := os.Hostname()
	holder, err := lm.Holder(ctx, "cron:sync")
	if err != nil || holder != host+"/"+strconv.Itoa(os.Getpid()) {
		t.Errorf("Holder = %q, %v", holder, err)
	}

	unlock()
	unlock()
	if m.Exists("t2:lock:cron:sync") {
		t.Error("lock still present after unlock")
	}
	if holder, _ := lm.Holder(ctx, "cron:sync"); holder != "" {
		t.Errorf("Holder after release = %q", holder)
	}
}

func TestLockUnlockKeepsForeignHolder(t *testing.T) {
	c, m := newTestClient(t, "t3")
	lm := NewLockManager(c, nil)

	unlock, err := lm.Acquire(context.Background(), "cron:sweep", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	// Our lease expired and another replica took the lock.
	m.Set("t3:lock:cron:sweep", "other-host/1#x")
	unlock()
	if v, _ := m.Get("t3:lock:cron:sweep"); v != "other-host/1#x" {
		t.Errorf("foreign lock = %q, want untouched", v)
	}
}

func TestLockRenewedWhileHeld(t *testing.T) {
	c, m := newTestClient(t, "t4")
	lm := NewLockManager(c, nil)
	ttl := 90 * time.Millisecond

	unlock, err := lm.Acquire(context.Background(), "cron:sync", ttl)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer unlock()

	m.FastForward(80 * time.Millisecond)
	deadline := time.Now().Add(time.Second)
	for m.TTL("t4:lock:cron:sync") <= 10*time.Millisecond && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := m.TTL("t4:lock:cron:sync"); got != ttl {
		t.Errorf("TTL = %v, want renewed to %v", got, ttl)
	}
}

func TestSignalBusPattern(t *testing.T) {
	c, _ := newTestClient(t, "")
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := bus.Subscribe(ctx, "prices:*")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := bus.Publish(ctx, "prices:item:42", []byte(`{"type":"price_update"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-msgs:
		if msg.Channel != "prices:item:42" || !strings.Contains(string(msg.Payload), "price_update") {
			t.Errorf("message = %s %s", msg.Channel, msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}

	cancel()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-msgs:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("subscription channel not closed after cancel")
		}
	}
}

func TestHasPattern(t *testing.T) {
	if !hasPattern("prices:*") || hasPattern("prices:all") {
		t.Error("hasPattern misclassified")
	}
}
