package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/giftagg/internal/domain"
	"github.com/alanyoungcy/giftagg/internal/notify"
)

// DefaultQueueSize bounds the number of jobs waiting for the worker.
const DefaultQueueSize = 16

// saveTimeout bounds job record writes made after the run context is gone.
const saveTimeout = 5 * time.Second

// RunFunc executes one job request.
type RunFunc func(ctx context.Context, req domain.JobRequest) (*domain.RunStats, error)

// JobQueue accepts admin-triggered runs, persists their status and executes
// them one at a time on a worker goroutine.
type JobQueue struct {
	store    domain.JobStore
	run      RunFunc
	audit    domain.AuditStore
	notifier *notify.Notifier
	queue    chan domain.Job
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	running  map[string]context.CancelFunc
	canceled map[string]bool // queued jobs cancelled before they started
}

// NewJobQueue creates a JobQueue. audit and notifier may be nil.
func NewJobQueue(store domain.JobStore, run RunFunc, size int, audit domain.AuditStore, notifier *notify.Notifier, logger *slog.Logger) *JobQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JobQueue{
		store:    store,
		run:      run,
		audit:    audit,
		notifier: notifier,
		queue:    make(chan domain.Job, size),
		logger:   logger.With(slog.String("component", "job_queue")),
		now:      time.Now,
		running:  make(map[string]context.CancelFunc),
		canceled: make(map[string]bool),
	}
}

// Enqueue validates req, records it as queued and hands it to the worker.
// It returns domain.ErrQueueFull without blocking, and without recording
// anything, when the queue is full.
func (q *JobQueue) Enqueue(ctx context.Context, req domain.JobRequest) (domain.Job, error) {
	if err := req.Validate(); err != nil {
		return domain.Job{}, err
	}
	job := domain.Job{
		ID:        uuid.NewString(),
		Request:   req,
		Status:    domain.JobQueued,
		CreatedAt: q.now().UTC(),
	}

	// Only Enqueue sends, under mu, so a free slot seen here stays free. The
	// worker takes mu before recording a job as running, so the queued record
	// can never land after it.
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) == cap(q.queue) {
		return domain.Job{}, domain.ErrQueueFull
	}
	if err := q.store.Save(ctx, job); err != nil {
		return domain.Job{}, fmt.Errorf("pipeline: save job: %w", err)
	}
	q.queue <- job
	q.logger.Info("job queued", slog.String("job_id", job.ID), slog.String("kind", string(req.Kind)), slog.String("market", req.Market))
	return job, nil
}

// Get returns the job record.
func (q *JobQueue) Get(ctx context.Context, id string) (domain.Job, error) {
	return q.store.Get(ctx, id)
}

// Cancel stops a running job cooperatively or marks a queued one so the
// worker skips it. Cancelling a finished job is a no-op. The whole decision
// is made under mu, so a job the worker has dequeued is either already
// running or will see the mark.
func (q *JobQueue) Cancel(ctx context.Context, id string) (domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if cancel, ok := q.running[id]; ok {
		cancel()
		q.logger.Info("job cancel requested", slog.String("job_id", id))
		return q.store.Get(ctx, id)
	}

	job, err := q.store.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if job.Status != domain.JobQueued {
		return job, nil
	}

	job.Status = domain.JobCancelled
	finished := q.now().UTC()
	job.FinishedAt = &finished
	if err := q.store.Save(ctx, job); err != nil {
		return domain.Job{}, fmt.Errorf("pipeline: save job: %w", err)
	}
	q.canceled[id] = true
	return job, nil
}

// Pending returns the number of jobs waiting for the worker.
func (q *JobQueue) Pending() int {
	return len(q.queue)
}

// Run is the worker loop. It returns when ctx is cancelled.
func (q *JobQueue) Run(ctx context.Context) error {
	q.logger.Info("job worker started")
	for {
		select {
		case <-ctx.Done():
			q.logger.Info("job worker stopped")
			return ctx.Err()
		case job := <-q.queue:
			q.execute(ctx, job)
		}
	}
}

func (q *JobQueue) execute(ctx context.Context, job domain.Job) {
	q.mu.Lock()
	if q.canceled[job.ID] {
		delete(q.canceled, job.ID)
		q.mu.Unlock()
		return
	}
	jobCtx, cancel := context.WithCancel(ctx)
	q.running[job.ID] = cancel
	started := q.now().UTC()
	job.Status = domain.JobRunning
	job.StartedAt = &started
	q.save(ctx, job)
	q.mu.Unlock()

	defer func() {
		cancel()
		q.mu.Lock()
		delete(q.running, job.ID)
		q.mu.Unlock()
	}()

	stats, err := q.run(jobCtx, job.Request)

	finished := q.now().UTC()
	job.FinishedAt = &finished
	job.Stats = stats
	switch {
	case err == nil:
		job.Status = domain.JobSucceeded
	case errors.Is(err, context.Canceled) && ctx.Err() == nil:
		job.Status = domain.JobCancelled
	case ctx.Err() != nil:
		job.Status = domain.JobCancelled
		job.Error = "shutdown"
	default:
		job.Status = domain.JobFailed
		job.Error = err.Error()
	}
	q.save(ctx, job)

	log := q.logger.With(slog.String("job_id", job.ID), slog.String("status", string(job.Status)))
	log.Info("job finished", slog.Duration("elapsed", finished.Sub(started)))

	bg, done := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer done()
	if q.audit != nil {
		detail := map[string]any{
			"job_id": job.ID,
			"kind":   string(job.Request.Kind),
			"market": job.Request.Market,
			"status": string(job.Status),
		}
		if stats != nil {
			detail["stats"] = stats
		}
		if job.Error != "" {
			detail["error"] = job.Error
		}
		if err := q.audit.Log(bg, domain.AuditJobFinished, detail); err != nil {
			log.Warn("audit log failed", slog.String("error", err.Error()))
		}
	}
	if job.Status == domain.JobFailed {
		if err := q.notifier.Notify(bg, notify.EventJobFailed, "giftagg job "+job.ID+" failed", job.Error); err != nil {
			log.Warn("notify failed", slog.String("error", err.Error()))
		}
	} else if err := q.notifier.RunErrors(bg, notify.EventSyncErrors, "job "+job.ID, stats); err != nil {
		log.Warn("notify failed", slog.String("error", err.Error()))
	}
}

// save persists job even when ctx is already cancelled.
func (q *JobQueue) save(ctx context.Context, job domain.Job) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := q.store.Save(saveCtx, job); err != nil {
		q.logger.Warn("save job failed", slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
}
