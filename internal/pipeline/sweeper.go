package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

// DefaultStaleTTL is how long an active listing may go unseen before the
// sweep retires it.
const DefaultStaleTTL = 24 * time.Hour

// Sweeper retires listings no sync has re-observed within the TTL, which
// covers markets whose adapters stopped reporting entirely.
type Sweeper struct {
	listings  domain.ListingStore
	items     domain.ItemStore
	publisher domain.Publisher
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewSweeper creates a Sweeper. A non-positive ttl uses DefaultStaleTTL.
func NewSweeper(listings domain.ListingStore, items domain.ItemStore, publisher domain.Publisher, ttl time.Duration, logger *slog.Logger) *Sweeper {
	if ttl <= 0 {
		ttl = DefaultStaleTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		listings:  listings,
		items:     items,
		publisher: publisher,
		ttl:       ttl,
		logger:    logger.With(slog.String("component", "sweeper")),
		now:       time.Now,
	}
}

// WithTTL returns a copy of the sweeper using ttl.
func (s *Sweeper) WithTTL(ttl time.Duration) *Sweeper {
	c := *s
	if ttl > 0 {
		c.ttl = ttl
	}
	return &c
}

// Run deactivates listings last seen before now - ttl, recomputes the
// affected items and publishes the removals and summary changes. Counts in
// the returned stats are deactivations per market.
func (s *Sweeper) Run(ctx context.Context) (*domain.RunStats, error) {
	stats := domain.NewRunStats()
	now := s.now()
	cutoff := now.Add(-s.ttl)

	removed, err := s.listings.DeactivateStale(ctx, cutoff)
	if err != nil {
		return stats, fmt.Errorf("pipeline: sweep stale listings: %w", err)
	}

	touched := make(map[int64]bool, len(removed))
	events := make([]domain.PriceEvent, 0, len(removed))
	for _, l := range removed {
		stats.AddCount(l.MarketSlug, 1)
		stats.Market(l.MarketSlug).Deactivated++
		touched[l.ItemID] = true
		events = append(events, removedListingEvent(l))
	}

	changes, errs := recomputeItems(ctx, s.items, touched)
	for _, err := range errs {
		stats.AddError("sweep: %v", err)
	}
	for _, c := range changes {
		events = append(events, priceUpdateEvent(c))
	}
	publishAll(ctx, s.publisher, events, now, s.logger)

	s.logger.Info("stale sweep complete",
		slog.Time("cutoff", cutoff),
		slog.Int("deactivated", len(removed)),
		slog.Int("items_changed", len(changes)),
	)
	return stats, ctx.Err()
}
