package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

type fakeLocks struct {
	held map[string]bool
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() { delete(l.held, key) }, nil
}

func TestJobRunnerRoutesKinds(t *testing.T) {
	f := newFixture(OrchestratorConfig{})
	f.getgems.set(testCollection, listing("g1", "EQa", "10"))
	f.fragment.set(testCollection, listing("f1", "EQb", "10"))
	sw := NewSweeper(memListings{f.db}, memItems{f.db}, f.pub, time.Hour, nil)
	sw.now = func() time.Time { return f.db.now }
	run := JobRunner(f.orch, sw)

	stats, err := run(context.Background(), domain.JobRequest{Kind: domain.JobMarket, Market: "getgems"})
	if err != nil || len(stats.Counts) != 1 || stats.Counts["getgems"] != 1 {
		t.Errorf("market job = %v, %v", stats.Counts, err)
	}
	stats, err = run(context.Background(), domain.JobRequest{Kind: domain.JobFull})
	if err != nil || stats.Counts["fragment"] != 1 {
		t.Errorf("full job = %v, %v", stats.Counts, err)
	}

	f.db.advance(2 * time.Hour)
	stats, err = run(context.Background(), domain.JobRequest{Kind: domain.JobSweep})
	if err != nil || stats.Counts["getgems"] != 1 || stats.Counts["fragment"] != 1 {
		t.Errorf("sweep job = %v, %v", stats.Counts, err)
	}

	if _, err := run(context.Background(), domain.JobRequest{Kind: "reindex"}); err == nil {
		t.Error("unknown kind ran")
	}
}

func TestLockedSkipsHeldTick(t *testing.T) {
	locks := &fakeLocks{held: map[string]bool{}}
	s := NewScheduler(nil, nil, nil, nil, locks, nil, SchedulerConfig{}, nil)
	if s.cfg.SyncInterval != DefaultSyncInterval {
		t.Errorf("SyncInterval = %v, want default", s.cfg.SyncInterval)
	}

	calls := 0
	fn := s.locked("sweep", func(context.Context) error {
		calls++
		return nil
	})

	locks.held["cron:sweep"] = true
	if err := fn(context.Background()); err != nil {
		t.Errorf("held tick err = %v, want nil", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d while lock held", calls)
	}

	delete(locks.held, "cron:sweep")
	if err := fn(context.Background()); err != nil {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 || locks.held["cron:sweep"] {
		t.Errorf("calls = %d, held = %v; want 1 call and lock released", calls, locks.held)
	}
}

func TestLockedPassesErrors(t *testing.T) {
	boom := errors.New("boom")
	s := NewScheduler(nil, nil, nil, nil, &fakeLocks{held: map[string]bool{}}, nil, SchedulerConfig{}, nil)
	err := s.locked("archive", func(context.Context) error { return boom })(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestSchedulerSyncsOnStartup(t *testing.T) {
	f := newFixture(OrchestratorConfig{})
	f.getgems.set(testCollection, listing("g1", "EQa", "10"))
	s := NewScheduler(f.orch, nil, nil, nil, nil, nil, SchedulerConfig{SyncInterval: time.Hour, SyncOnStartup: true}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for f.db.activeCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run = %v, want nil on cancel", err)
	}
	if f.db.activeCount() != 1 {
		t.Errorf("active = %d, want 1 after startup sync", f.db.activeCount())
	}
}
