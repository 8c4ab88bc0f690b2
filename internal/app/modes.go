package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/giftagg/internal/domain"
	"github.com/alanyoungcy/giftagg/internal/pipeline"
	"github.com/alanyoungcy/giftagg/internal/server"
	"github.com/alanyoungcy/giftagg/internal/server/handler"
	"github.com/alanyoungcy/giftagg/internal/server/ws"
	"github.com/alanyoungcy/giftagg/internal/service"
)

// components are the pipeline pieces built on top of Dependencies.
type components struct {
	orch      *pipeline.Orchestrator
	sweeper   *pipeline.Sweeper
	archiver  *pipeline.Archiver // nil unless archiving is enabled
	jobs      *pipeline.JobQueue
	scheduler *pipeline.Scheduler
}

func (a *App) buildPipeline(deps *Dependencies) *components {
	cfg := a.cfg
	c := &components{}

	c.orch = pipeline.NewOrchestrator(deps.Stores, deps.Adapters, deps.Propagator, pipeline.OrchestratorConfig{
		BatchSize:   cfg.Sync.BatchSize,
		MaxListings: cfg.Sync.MaxListings,
	}, a.logger)
	if cfg.Sync.SalesEnabled {
		c.orch.WithSales(pipeline.NewSalesSyncer(deps.Stores, deps.Adapters, cfg.Sync.SalesLimit, a.logger))
	}

	c.sweeper = pipeline.NewSweeper(deps.Stores.Listings, deps.Stores.Items, deps.Propagator, cfg.Sweep.TTL.Duration, a.logger)

	if cfg.Archive.Enabled && deps.BlobArchiver != nil {
		c.archiver = pipeline.NewArchiver(deps.BlobArchiver, cfg.Archive.RetentionDays, deps.AuditStore, deps.Notifier, a.logger)
	}

	c.jobs = pipeline.NewJobQueue(deps.JobStore, pipeline.JobRunner(c.orch, c.sweeper),
		cfg.Sync.QueueSize, deps.AuditStore, deps.Notifier, a.logger)

	archiveCron := ""
	if c.archiver != nil {
		archiveCron = cfg.Archive.Cron
	}
	c.scheduler = pipeline.NewScheduler(c.orch, c.sweeper, c.archiver, c.jobs, deps.LockManager, deps.Notifier,
		pipeline.SchedulerConfig{
			SyncInterval:  cfg.Sync.Interval.Duration,
			SyncOnStartup: cfg.Sync.OnStartup,
			SweepCron:     cfg.Sweep.Cron,
			ArchiveCron:   archiveCron,
		}, a.logger)
	return c
}

func (a *App) buildRegistry() *ws.Registry {
	return ws.NewRegistry(ws.Config{
		SendBuffer: a.cfg.WS.SendBuffer,
		Heartbeat:  a.cfg.WS.HeartbeatInterval.Duration,
		StaleAfter: a.cfg.WS.StaleAfter.Duration,
	}, a.logger)
}

func (a *App) buildServer(deps *Dependencies, jobs handler.JobQueue, reg *ws.Registry) *server.Server {
	sc := a.cfg.Server
	return server.NewServer(server.Config{
		Port:           sc.Port,
		CORSOrigins:    sc.CORSOrigins,
		AdminAPIKey:    sc.AdminAPIKey,
		AdminReadKeys:  sc.AdminReadKeys,
		AdminRateLimit: sc.AdminRateLimit,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(deps.Checks, a.logger),
		Admin:    handler.NewAdminHandler(jobs, deps.AuditStore, a.logger),
		Items:    handler.NewItemHandler(deps.Stores.Items, deps.Stores.Listings, a.logger),
		WSStatus: handler.NewWSStatusHandler(reg, deps.Propagator),
		WS:       ws.NewHandler(reg, sc.CORSOrigins, a.logger),
	}, deps.RateLimiter, a.logger)
}

// FullMode runs the scheduler, the job worker, the subscription registry and
// the HTTP/WebSocket server in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	c := a.buildPipeline(deps)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.scheduler.Run(ctx) })
	a.startSubscribers(ctx, g, deps, c.jobs)
	return ignoreCanceled(g.Wait())
}

// WorkerMode runs the scheduler and job worker without serving HTTP. Price
// events still reach subscribers of any server-mode process through the bus.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")
	c := a.buildPipeline(deps)
	return ignoreCanceled(c.scheduler.Run(ctx))
}

// ServerMode serves HTTP and WebSocket subscribers and executes admin jobs,
// leaving the periodic loops to worker processes.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	c := a.buildPipeline(deps)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.jobs.Run(ctx) })
	a.startSubscribers(ctx, g, deps, c.jobs)
	return ignoreCanceled(g.Wait())
}

// startSubscribers launches the registry heartbeat, the bus listener and,
// when enabled, the HTTP server.
func (a *App) startSubscribers(ctx context.Context, g *errgroup.Group, deps *Dependencies, jobs *pipeline.JobQueue) {
	reg := a.buildRegistry()
	g.Go(func() error { return reg.Run(ctx) })
	g.Go(func() error { return reg.Listen(ctx, deps.SignalBus) })

	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "http server disabled")
		return
	}
	srv := a.buildServer(deps, jobs, reg)
	g.Go(func() error { return srv.Run(ctx) })
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// SyncOnce runs one listing sync, for every active market or only market.
func (a *App) SyncOnce(ctx context.Context, market string) (*domain.RunStats, error) {
	deps, err := a.dependencies(ctx)
	if err != nil {
		return nil, err
	}
	return a.buildPipeline(deps).orch.Run(ctx, pipeline.RunRequest{Market: market})
}

// Sweep retires listings not seen within ttl; a non-positive ttl uses the
// configured one.
func (a *App) Sweep(ctx context.Context, ttl time.Duration) (*domain.RunStats, error) {
	deps, err := a.dependencies(ctx)
	if err != nil {
		return nil, err
	}
	return a.buildPipeline(deps).sweeper.WithTTL(ttl).Run(ctx)
}

// Seed writes the default market registry and the configured collections.
func (a *App) Seed(ctx context.Context) (service.SeedResult, error) {
	deps, err := a.dependencies(ctx)
	if err != nil {
		return service.SeedResult{}, err
	}
	collections := make([]domain.Collection, 0, len(a.cfg.Collections))
	for _, cc := range a.cfg.Collections {
		collections = append(collections, domain.Collection{Address: cc.Address, Name: cc.Name, IsActive: true})
	}
	return deps.Markets.Seed(ctx, domain.DefaultMarkets(), collections)
}

// Archive copies retired listings and old sales to object storage once.
func (a *App) Archive(ctx context.Context) (pipeline.ArchiveResult, error) {
	deps, err := a.dependencies(ctx)
	if err != nil {
		return pipeline.ArchiveResult{}, err
	}
	c := a.buildPipeline(deps)
	if c.archiver == nil {
		return pipeline.ArchiveResult{}, errArchiveDisabled
	}
	res, err := c.archiver.Run(ctx)
	if err == nil {
		a.logger.InfoContext(ctx, "archive complete",
			slog.Time("cutoff", res.Cutoff),
			slog.Int64("listings", res.Listings),
			slog.Int64("sales", res.Sales),
		)
	}
	return res, err
}

var errArchiveDisabled = errors.New("app: archive requires archive.enabled and s3.enabled")
