package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

// MarketService seeds and reads the market registry and the tracked
// collections.
type MarketService struct {
	markets     domain.MarketStore
	collections domain.CollectionStore
	logger      *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	markets domain.MarketStore,
	collections domain.CollectionStore,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets:     markets,
		collections: collections,
		logger:      logger,
	}
}

// SeedResult reports what Seed wrote.
type SeedResult struct {
	Markets     []domain.Market
	Collections []domain.Collection
}

// Seed upserts the given markets and collections. Re-seeding is idempotent
// and does not re-enable a market an operator switched off.
func (s *MarketService) Seed(ctx context.Context, markets []domain.Market, collections []domain.Collection) (SeedResult, error) {
	var res SeedResult
	for _, m := range markets {
		saved, err := s.markets.Upsert(ctx, m)
		if err != nil {
			return res, fmt.Errorf("market_service: seed market %q: %w", m.Slug, err)
		}
		res.Markets = append(res.Markets, saved)
	}
	for _, c := range collections {
		if c.Address == "" {
			continue
		}
		saved, err := s.collections.Upsert(ctx, c)
		if err != nil {
			return res, fmt.Errorf("market_service: seed collection %q: %w", c.Address, err)
		}
		res.Collections = append(res.Collections, saved)
	}

	s.logger.InfoContext(ctx, "market_service: seeded",
		slog.Int("markets", len(res.Markets)),
		slog.Int("collections", len(res.Collections)),
	)
	return res, nil
}

// ActiveMarkets returns active markets by priority.
func (s *MarketService) ActiveMarkets(ctx context.Context) ([]domain.Market, error) {
	markets, err := s.markets.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("market_service: list active markets: %w", err)
	}
	return markets, nil
}

// ActiveCollections returns the tracked collections.
func (s *MarketService) ActiveCollections(ctx context.Context) ([]domain.Collection, error) {
	cols, err := s.collections.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("market_service: list active collections: %w", err)
	}
	return cols, nil
}
