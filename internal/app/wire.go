package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/giftagg/internal/adapter"
	s3blob "github.com/alanyoungcy/giftagg/internal/blob/s3"
	"github.com/alanyoungcy/giftagg/internal/cache/redis"
	"github.com/alanyoungcy/giftagg/internal/config"
	"github.com/alanyoungcy/giftagg/internal/domain"
	"github.com/alanyoungcy/giftagg/internal/notify"
	"github.com/alanyoungcy/giftagg/internal/pipeline"
	"github.com/alanyoungcy/giftagg/internal/platform"
	"github.com/alanyoungcy/giftagg/internal/server/handler"
	"github.com/alanyoungcy/giftagg/internal/service"
	"github.com/alanyoungcy/giftagg/internal/store/postgres"
	"github.com/alanyoungcy/giftagg/internal/stream/kafka"
)

// Dependencies bundles every concrete dependency the application modes and
// commands need. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Stores     pipeline.Stores
	AuditStore domain.AuditStore

	// Redis-backed coordination
	JobStore    domain.JobStore
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Optional sinks; nil when disabled
	EventSink    domain.EventSink
	BlobArchiver domain.Archiver

	// Upstreams
	Adapters map[string]domain.MarketAdapter

	// Services
	Propagator *service.Propagator
	Markets    *service.MarketService
	Notifier   *notify.Notifier

	// Checks ping each external dependency for the health endpoint.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: map[string]handler.Check{}}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ConfigFrom(cfg.Postgres))
	if err != nil {
		return fail(fmt.Errorf("wire: postgres: %w", err))
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("wire: postgres migrations: %w", err))
		}
	}

	pool := pgClient.Pool()
	listingStore := postgres.NewListingStore(pool)
	saleStore := postgres.NewSaleStore(pool)
	deps.Stores = pipeline.Stores{
		Markets:     postgres.NewMarketStore(pool),
		Collections: postgres.NewCollectionStore(pool),
		Items:       postgres.NewItemStore(pool),
		Listings:    listingStore,
		Sales:       saleStore,
	}
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.Checks["postgres"] = pgClient.Ping

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ConfigFrom(cfg.Redis))
	if err != nil {
		return fail(fmt.Errorf("wire: redis: %w", err))
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.JobStore = redis.NewJobStore(redisClient, cfg.Redis.JobTTL.Duration)
	deps.LockManager = redis.NewLockManager(redisClient, logger)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.Checks["redis"] = redisClient.Ping

	// --- Kafka event stream (optional) ---
	var sink domain.EventSink
	if cfg.Kafka.Enabled {
		ks := kafka.NewSink(kafka.NewWriter(cfg.Kafka), cfg.Kafka.Buffer, logger)
		closers = append(closers, func() { _ = ks.Close() })
		sink = ks
		deps.EventSink = ks
		logger.Info("kafka event sink enabled",
			slog.Any("brokers", cfg.Kafka.Brokers),
			slog.String("topic", cfg.Kafka.Topic),
		)
	}

	// --- S3 archive (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ConfigFrom(cfg.S3))
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobArchiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client, s3blob.WriterOptions{Prefix: cfg.S3.Prefix, Compress: cfg.S3.Compress}), listingStore, saleStore)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	deps.Notifier = notify.FromConfig(cfg.Notify, logger)

	// --- Market adapters ---
	reg := adapter.NewRegistry(platform.Constructors(), cfg.Markets, cfg.FX, logger)
	adapters, err := reg.Build(reg.Slugs())
	if err != nil {
		return fail(fmt.Errorf("wire: adapters: %w", err))
	}
	closers = append(closers, func() { adapter.CloseAll(adapters, logger) })
	deps.Adapters = adapters

	// --- Services ---
	deps.Propagator = service.NewPropagator(deps.SignalBus, sink,
		logger.With(slog.String("component", "propagator")))
	deps.Markets = service.NewMarketService(deps.Stores.Markets, deps.Stores.Collections,
		logger.With(slog.String("component", "market_service")))

	return deps, cleanup, nil
}

// Migrate applies the embedded schema migrations and returns.
func Migrate(ctx context.Context, cfg *config.Config) error {
	pgClient, err := postgres.New(ctx, postgres.ConfigFrom(cfg.Postgres))
	if err != nil {
		return fmt.Errorf("migrate: postgres: %w", err)
	}
	defer pgClient.Close()
	if err := pgClient.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
