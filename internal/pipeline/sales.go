package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

// DefaultSalesLimit is the per-collection sales window requested from
// adapters.
const DefaultSalesLimit = 100

// SalesSyncer records completed sales reported by sales-capable adapters.
// Sales are immutable; a tx hash already stored is skipped.
type SalesSyncer struct {
	stores   Stores
	adapters map[string]domain.MarketAdapter
	limit    int
	logger   *slog.Logger
}

// NewSalesSyncer creates a SalesSyncer.
func NewSalesSyncer(stores Stores, adapters map[string]domain.MarketAdapter, limit int, logger *slog.Logger) *SalesSyncer {
	if limit <= 0 {
		limit = DefaultSalesLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SalesSyncer{
		stores:   stores,
		adapters: adapters,
		limit:    limit,
		logger:   logger.With(slog.String("component", "sales_syncer")),
	}
}

// Run pulls sales for every active market with an adapter.
func (s *SalesSyncer) Run(ctx context.Context, req RunRequest) (*domain.RunStats, error) {
	stats := domain.NewRunStats()
	markets, err := s.stores.Markets.ListActive(ctx)
	if err != nil {
		return stats, fmt.Errorf("pipeline: list markets: %w", err)
	}
	cols, err := s.stores.Collections.ListActive(ctx)
	if err != nil {
		return stats, fmt.Errorf("pipeline: list collections: %w", err)
	}
	for _, m := range markets {
		if req.Market != "" && m.Slug != req.Market {
			continue
		}
		a, ok := s.adapters[m.Slug]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		s.syncMarket(ctx, m, cols, a, stats)
	}
	return stats, ctx.Err()
}

func (s *SalesSyncer) syncMarket(ctx context.Context, m domain.Market, cols []domain.Collection, a domain.MarketAdapter, stats *domain.RunStats) {
	ms := stats.Market(m.Slug)
	for _, col := range cols {
		if ctx.Err() != nil {
			return
		}
		sales, err := a.FetchSalesHistory(ctx, domain.SalesQuery{Collection: col.Address, Limit: s.limit})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			stats.AddError("%s/%s: sales: %v", m.Slug, col.Address, err)
			continue
		}
		if len(sales) == 0 {
			continue
		}

		rows := make([]domain.Sale, 0, len(sales))
		itemIDs := make(map[string]int64)
		for _, ns := range sales {
			if ns.ItemAddress == "" || !ns.PriceTon.IsPositive() {
				s.logger.Warn("dropping sale", slog.String("market", m.Slug), slog.String("tx", ns.TxHash))
				continue
			}
			itemID, ok := itemIDs[ns.ItemAddress]
			if !ok {
				itemID, err = s.stores.Items.Resolve(ctx, col.ID, domain.ItemSeed{Address: ns.ItemAddress, Name: ns.ItemName})
				if err != nil {
					stats.AddError("%s/%s: resolve item %s: %v", m.Slug, col.Address, ns.ItemAddress, err)
					continue
				}
				itemIDs[ns.ItemAddress] = itemID
			}
			rows = append(rows, saleRow(m.ID, col.ID, itemID, ns))
		}

		n, err := s.stores.Sales.InsertBatch(ctx, rows)
		ms.Sales += n
		if err != nil {
			stats.AddError("%s/%s: insert sales: %v", m.Slug, col.Address, err)
			continue
		}
		s.logger.Debug("sales recorded",
			slog.String("market", m.Slug),
			slog.String("collection", col.Address),
			slog.Int("fetched", len(sales)),
			slog.Int("new", n),
		)
	}
}

func saleRow(marketID, collectionID, itemID int64, ns domain.NormalizedSale) domain.Sale {
	return domain.Sale{
		ItemID:        &itemID,
		CollectionID:  &collectionID,
		MarketID:      marketID,
		ItemAddress:   ns.ItemAddress,
		ItemName:      ns.ItemName,
		PriceRaw:      ns.PriceRaw,
		Currency:      ns.Currency,
		PriceTon:      ns.PriceTon,
		BuyerAddress:  ns.BuyerAddress,
		SellerAddress: ns.SellerAddress,
		TxHash:        ns.TxHash,
		TxLt:          ns.TxLt,
		SoldAt:        ns.SoldAt,
	}
}
