package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/giftagg/internal/domain"
	"github.com/alanyoungcy/giftagg/internal/notify"
)

// DefaultSyncInterval is the listing sync period when none is configured.
const DefaultSyncInterval = 60 * time.Second

// cronLockTTL bounds how long one replica holds a cron tick.
const cronLockTTL = 10 * time.Minute

// JobRunner routes a job request to the orchestrator or the sweeper.
func JobRunner(orch *Orchestrator, sweeper *Sweeper) RunFunc {
	return func(ctx context.Context, req domain.JobRequest) (*domain.RunStats, error) {
		switch req.Kind {
		case domain.JobSweep:
			return sweeper.Run(ctx)
		case domain.JobMarket:
			return orch.Run(ctx, RunRequest{Market: req.Market})
		case domain.JobFull, "":
			return orch.Run(ctx, RunRequest{})
		default:
			return nil, fmt.Errorf("pipeline: unknown job kind %q", req.Kind)
		}
	}
}

// SchedulerConfig holds the loop timings.
type SchedulerConfig struct {
	SyncInterval  time.Duration
	SyncOnStartup bool
	SweepCron     string // empty disables the sweep loop
	ArchiveCron   string // empty disables the archive loop
}

// Scheduler drives the background loops: periodic listing sync, stale sweep
// and archive crons, and the admin job worker.
type Scheduler struct {
	orch     *Orchestrator
	sweeper  *Sweeper
	archiver *Archiver
	jobs     *JobQueue
	locks    domain.LockManager
	notifier *notify.Notifier
	cfg      SchedulerConfig
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler. archiver, jobs, locks and notifier may
// be nil; the corresponding loop or guard is then skipped.
func NewScheduler(
	orch *Orchestrator,
	sweeper *Sweeper,
	archiver *Archiver,
	jobs *JobQueue,
	locks domain.LockManager,
	notifier *notify.Notifier,
	cfg SchedulerConfig,
	logger *slog.Logger,
) *Scheduler {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		orch:     orch,
		sweeper:  sweeper,
		archiver: archiver,
		jobs:     jobs,
		locks:    locks,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// Run blocks until ctx is cancelled or a loop fails to start.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.syncLoop(ctx) })

	if s.cfg.SweepCron != "" && s.sweeper != nil {
		g.Go(func() error {
			return runCron(ctx, s.cfg.SweepCron, "sweep", s.logger, s.locked("sweep", func(ctx context.Context) error {
				stats, err := s.sweeper.Run(ctx)
				s.report(ctx, "sweep", stats)
				return err
			}))
		})
	}
	if s.cfg.ArchiveCron != "" && s.archiver != nil {
		g.Go(func() error {
			return runCron(ctx, s.cfg.ArchiveCron, "archive", s.logger, s.locked("archive", func(ctx context.Context) error {
				_, err := s.archiver.Run(ctx)
				return err
			}))
		})
	}
	if s.jobs != nil {
		g.Go(func() error { return s.jobs.Run(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Scheduler) syncLoop(ctx context.Context) error {
	s.logger.Info("sync loop started",
		slog.Duration("interval", s.cfg.SyncInterval),
		slog.Bool("on_startup", s.cfg.SyncOnStartup),
	)
	if s.cfg.SyncOnStartup {
		s.syncOnce(ctx)
	}

	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.syncOnce(ctx)
		}
	}
}

func (s *Scheduler) syncOnce(ctx context.Context) {
	stats, err := s.orch.Run(ctx, RunRequest{})
	if err != nil && ctx.Err() == nil {
		s.logger.Error("scheduled sync failed", slog.String("error", err.Error()))
	}
	s.report(ctx, "sync", stats)
}

// report alerts on per-pair errors collected by a scheduled run.
func (s *Scheduler) report(ctx context.Context, source string, stats *domain.RunStats) {
	if ctx.Err() != nil {
		return
	}
	if err := s.notifier.RunErrors(ctx, notify.EventSyncErrors, source, stats); err != nil {
		s.logger.Warn("notify failed", slog.String("source", source), slog.String("error", err.Error()))
	}
}

// lockHolder names the replica holding a cron lock when the lock manager can
// tell.
func (s *Scheduler) lockHolder(ctx context.Context, name string) string {
	h, ok := s.locks.(interface {
		Holder(ctx context.Context, key string) (string, error)
	})
	if !ok {
		return ""
	}
	holder, err := h.Holder(ctx, "cron:"+name)
	if err != nil {
		return ""
	}
	return holder
}

// locked wraps fn so only one replica runs a given cron tick.
func (s *Scheduler) locked(name string, fn func(ctx context.Context) error) func(ctx context.Context) error {
	if s.locks == nil {
		return fn
	}
	return func(ctx context.Context) error {
		unlock, err := s.locks.Acquire(ctx, "cron:"+name, cronLockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.Info("cron tick held by another replica", slog.String("job", name), slog.String("holder", s.lockHolder(ctx, name)))
			return nil
		}
		if err != nil {
			return err
		}
		defer unlock()
		return fn(ctx)
	}
}
