package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

// RunRequest narrows a sync run. An empty Market means every active market.
type RunRequest struct {
	Market string
}

// OrchestratorConfig tunes the per-pair fetch.
type OrchestratorConfig struct {
	BatchSize   int // page size requested from adapters
	MaxListings int // cap per (market, collection); <= 0 means no cap
}

// Stores groups the persistence dependencies of the pipeline.
type Stores struct {
	Markets     domain.MarketStore
	Collections domain.CollectionStore
	Items       domain.ItemStore
	Listings    domain.ListingStore
	Sales       domain.SaleStore
}

// Orchestrator merges per-market listing snapshots into the per-item lowest
// price view and publishes every change it makes.
type Orchestrator struct {
	stores    Stores
	adapters  map[string]domain.MarketAdapter
	publisher domain.Publisher
	sales     *SalesSyncer
	cfg       OrchestratorConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator creates an Orchestrator. adapters is keyed by market slug;
// active markets without an entry are skipped.
func NewOrchestrator(
	stores Stores,
	adapters map[string]domain.MarketAdapter,
	publisher domain.Publisher,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		stores:    stores,
		adapters:  adapters,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "orchestrator")),
		now:       time.Now,
	}
}

// WithSales makes every run also pull sales history after listings.
func (o *Orchestrator) WithSales(s *SalesSyncer) *Orchestrator {
	o.sales = s
	return o
}

// Run syncs the selected markets against every active collection. Per-pair
// failures are recorded in the returned stats; the error is only non-nil when
// the registry cannot be read or ctx is cancelled, in which case the stats
// gathered so far are still returned.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*domain.RunStats, error) {
	stats := domain.NewRunStats()
	start := o.now()

	markets, err := o.selectMarkets(ctx, req.Market)
	if err != nil {
		return stats, err
	}
	cols, err := o.stores.Collections.ListActive(ctx)
	if err != nil {
		return stats, fmt.Errorf("pipeline: list collections: %w", err)
	}

	for _, m := range markets {
		a, ok := o.adapters[m.Slug]
		if !ok {
			o.logger.Debug("no adapter for market, skipping", slog.String("market", m.Slug))
			continue
		}
		stats.Market(m.Slug)
		for _, col := range cols {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			o.syncPair(ctx, m, col, a, stats)
		}
		if o.sales != nil {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			o.sales.syncMarket(ctx, m, cols, a, stats)
		}
	}

	o.logger.Info("sync run complete",
		slog.String("market", req.Market),
		slog.Any("counts", stats.Counts),
		slog.Int("errors", len(stats.Errors)),
		slog.Duration("elapsed", o.now().Sub(start)),
	)
	return stats, ctx.Err()
}

func (o *Orchestrator) selectMarkets(ctx context.Context, slug string) ([]domain.Market, error) {
	markets, err := o.stores.Markets.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: list markets: %w", err)
	}
	if slug == "" {
		return markets, nil
	}
	for _, m := range markets {
		if m.Slug == slug {
			return []domain.Market{m}, nil
		}
	}
	return nil, fmt.Errorf("pipeline: market %q is not active: %w", slug, domain.ErrNotFound)
}

// snapshot is the validated result of one fetch.
type snapshot struct {
	listings []domain.NormalizedListing
	// complete is false when the cap cut the iteration short; such a
	// snapshot must not drive deactivation.
	complete bool
	fetched  int
	rejected int
}

// fetch drains the adapter's iterator up to MaxListings, validates every
// record and drops duplicate listing ids.
func (o *Orchestrator) fetch(ctx context.Context, a domain.MarketAdapter, slug, collection string) (snapshot, error) {
	it := a.IterateCollectionListings(ctx, collection, o.cfg.BatchSize)
	var snap snapshot
	seen := make(map[string]bool)
	for {
		if o.cfg.MaxListings > 0 && snap.fetched >= o.cfg.MaxListings {
			return snap, nil
		}
		batch, err := it.Next(ctx)
		if errors.Is(err, domain.ErrIteratorDone) {
			snap.complete = true
			return snap, nil
		}
		if err != nil {
			return snap, fmt.Errorf("fetch at position %q: %w", it.Position(), err)
		}
		for _, l := range batch {
			if o.cfg.MaxListings > 0 && snap.fetched >= o.cfg.MaxListings {
				break
			}
			snap.fetched++
			l.MarketSlug = slug
			if err := l.Validate(); err != nil {
				snap.rejected++
				o.logger.Warn("rejecting listing", slog.String("market", slug), slog.String("error", err.Error()))
				continue
			}
			if seen[l.MarketListingID] {
				continue
			}
			seen[l.MarketListingID] = true
			snap.listings = append(snap.listings, l)
		}
	}
}

// syncPair runs fetch, resolve, upsert, deactivate, recompute and publish for
// one (market, collection) pair.
func (o *Orchestrator) syncPair(ctx context.Context, m domain.Market, col domain.Collection, a domain.MarketAdapter, stats *domain.RunStats) {
	ms := stats.Market(m.Slug)
	log := o.logger.With(slog.String("market", m.Slug), slog.String("collection", col.Address))

	snap, err := o.fetch(ctx, a, m.Slug, col.Address)
	ms.Fetched += snap.fetched
	ms.Rejected += snap.rejected
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		stats.AddError("%s/%s: %v", m.Slug, col.Address, err)
		log.Warn("fetch failed, pair skipped", slog.String("error", err.Error()))
		return
	}

	var events []domain.PriceEvent
	touched := make(map[int64]bool)
	itemIDs := make(map[string]int64)
	seenIDs := make([]string, 0, len(snap.listings))
	synced, inserted := 0, 0

	for _, l := range snap.listings {
		if ctx.Err() != nil {
			return
		}
		seenIDs = append(seenIDs, l.MarketListingID)

		itemID, ok := itemIDs[l.ItemAddress]
		if !ok {
			itemID, err = o.stores.Items.Resolve(ctx, col.ID, domain.SeedFromListing(l))
			if err != nil {
				stats.AddError("%s/%s: resolve item %s: %v", m.Slug, col.Address, l.ItemAddress, err)
				continue
			}
			itemIDs[l.ItemAddress] = itemID
		}

		res, err := o.stores.Listings.Upsert(ctx, domain.ListingUpsert{
			ItemID: itemID, CollectionID: col.ID, MarketID: m.ID, Listing: l,
		})
		if err != nil {
			stats.AddError("%s/%s: upsert listing %s: %v", m.Slug, col.Address, l.MarketListingID, err)
			continue
		}
		synced++
		touched[itemID] = true

		switch {
		case res.Inserted:
			ms.Inserted++
			inserted++
			events = append(events, newListingEvent(itemID, col.ID, l))
		default:
			ms.Updated++
			if res.PrevPriceTon != nil && !res.PrevPriceTon.Equal(l.PriceTon) {
				ms.PriceChanges++
			}
			if !res.WasActive {
				events = append(events, newListingEvent(itemID, col.ID, l))
			}
		}
	}
	stats.AddCount(m.Slug, synced)

	if ctx.Err() != nil {
		return
	}
	var removed []domain.Listing
	if snap.complete {
		removed, err = o.stores.Listings.DeactivateUnseen(ctx, m.ID, col.ID, seenIDs)
		if err != nil {
			stats.AddError("%s/%s: deactivate unseen: %v", m.Slug, col.Address, err)
		}
		ms.Deactivated += len(removed)
		for _, l := range removed {
			touched[l.ItemID] = true
			events = append(events, removedListingEvent(l))
		}
	} else {
		log.Warn("snapshot hit the listing cap, skipping deactivation", slog.Int("max_listings", o.cfg.MaxListings))
	}

	if ctx.Err() != nil {
		return
	}
	changes, errs := recomputeItems(ctx, o.stores.Items, touched)
	for _, err := range errs {
		stats.AddError("%s/%s: %v", m.Slug, col.Address, err)
	}
	for _, c := range changes {
		events = append(events, priceUpdateEvent(c))
	}

	publishAll(ctx, o.publisher, events, o.now(), log)

	log.Info("pair synced",
		slog.Int("listings", synced),
		slog.Int("inserted", inserted),
		slog.Int("deactivated", len(removed)),
		slog.Int("summary_changes", len(changes)),
	)
}

// recomputeItems recomputes every touched item in id order and returns the
// summaries that changed.
func recomputeItems(ctx context.Context, items domain.ItemStore, touched map[int64]bool) ([]domain.SummaryChange, []error) {
	ids := make([]int64, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var changes []domain.SummaryChange
	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		c, err := items.RecomputeSummary(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("recompute item %d: %w", id, err))
			continue
		}
		if c.Changed() {
			changes = append(changes, c)
		}
	}
	return changes, errs
}

func publishAll(ctx context.Context, pub domain.Publisher, events []domain.PriceEvent, ts time.Time, log *slog.Logger) {
	if pub == nil {
		return
	}
	for _, e := range events {
		e.Timestamp = ts
		if err := pub.Publish(ctx, e); err != nil {
			log.Warn("publish event", slog.String("type", string(e.Type)), slog.Int64("item_id", e.ItemID), slog.String("error", err.Error()))
		}
	}
}

func newListingEvent(itemID, collectionID int64, l domain.NormalizedListing) domain.PriceEvent {
	price, raw := l.PriceTon, l.PriceRaw
	return domain.PriceEvent{
		Type:            domain.EventNewListing,
		ItemID:          itemID,
		CollectionID:    collectionID,
		PriceTon:        &price,
		PriceRaw:        &raw,
		Currency:        l.Currency,
		MarketSlug:      l.MarketSlug,
		MarketListingID: l.MarketListingID,
		SellerAddress:   l.SellerAddress,
		ListingURL:      l.ListingURL,
		ItemAddress:     l.ItemAddress,
	}
}

func removedListingEvent(l domain.Listing) domain.PriceEvent {
	price := l.PriceTon
	return domain.PriceEvent{
		Type:            domain.EventListingRemoved,
		ItemID:          l.ItemID,
		CollectionID:    l.CollectionID,
		PriceTon:        &price,
		Currency:        l.Currency,
		MarketSlug:      l.MarketSlug,
		MarketListingID: l.MarketListingID,
	}
}

func priceUpdateEvent(c domain.SummaryChange) domain.PriceEvent {
	onSale := c.After.IsOnSale
	e := domain.PriceEvent{
		Type:         domain.EventPriceUpdate,
		ItemID:       c.ItemID,
		CollectionID: c.CollectionID,
		PriceTon:     c.After.LowestPriceTon,
		IsOnSale:     &onSale,
	}
	if c.After.LowestPriceMarket != nil {
		e.MarketSlug = *c.After.LowestPriceMarket
	}
	return e
}
