package tonapi

import (
	"context"
	"log/slog"
	"sort"

	"github.com/alanyoungcy/giftagg/internal/adapter"
	"github.com/alanyoungcy/giftagg/internal/domain"
)

const (
	// SalesSlug is the market identity of the blockchain sales adapter.
	SalesSlug = "tonapi-sales"

	// collectionSampleSize bounds how many items a collection-wide sales
	// scan inspects; each one costs a history request.
	collectionSampleSize = 50
)

// SalesAdapter detects completed sales from on-chain NFT history. It has no
// view of active listings.
type SalesAdapter struct {
	client *Client
	logger *slog.Logger
}

var _ domain.MarketAdapter = (*SalesAdapter)(nil)

// NewSales is the registry constructor.
func NewSales(deps adapter.Deps) (domain.MarketAdapter, error) {
	return NewSalesAdapter(NewClientFromDeps(deps), deps.Logger), nil
}

// NewSalesAdapter creates a SalesAdapter.
func NewSalesAdapter(c *Client, logger *slog.Logger) *SalesAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SalesAdapter{client: c, logger: logger}
}

// Slug implements domain.MarketAdapter.
func (a *SalesAdapter) Slug() string { return SalesSlug }

// FetchCollectionListings always returns nothing.
func (a *SalesAdapter) FetchCollectionListings(context.Context, string, int) ([]domain.NormalizedListing, error) {
	return []domain.NormalizedListing{}, nil
}

// IterateCollectionListings returns an exhausted iterator.
func (a *SalesAdapter) IterateCollectionListings(ctx context.Context, collection string, _ int) domain.ListingIterator {
	return adapter.IterateFromFetch(func(ctx context.Context, limit int) ([]domain.NormalizedListing, error) {
		return a.FetchCollectionListings(ctx, collection, limit)
	}, 0)
}

// FetchItemListing always returns nil.
func (a *SalesAdapter) FetchItemListing(context.Context, string) (*domain.NormalizedListing, error) {
	return nil, nil
}

// FetchSalesHistory implements domain.MarketAdapter. With an item address it
// reads that item's history; with only a collection it samples the first
// items of the collection.
func (a *SalesAdapter) FetchSalesHistory(ctx context.Context, q domain.SalesQuery) ([]domain.NormalizedSale, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	if q.ItemAddress != "" {
		events, err := a.client.ItemHistory(ctx, q.ItemAddress, limit)
		if err != nil {
			return nil, err
		}
		return filterSince(SalesFromEvents(SalesSlug, q.ItemAddress, events), q, limit), nil
	}
	if q.Collection == "" {
		return []domain.NormalizedSale{}, nil
	}

	items, _, err := a.client.CollectionItems(ctx, q.Collection, collectionSampleSize, 0)
	if err != nil {
		return nil, err
	}
	var out []domain.NormalizedSale
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		events, err := a.client.ItemHistory(ctx, it.Address, 10)
		if err != nil {
			a.logger.Warn("item history failed", slog.String("item", it.Address), slog.String("error", err.Error()))
			continue
		}
		sales := SalesFromEvents(SalesSlug, it.Address, events)
		for i := range sales {
			sales[i].ItemName = it.Metadata.Name
		}
		out = append(out, sales...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SoldAt.After(out[j].SoldAt) })
	return filterSince(out, q, limit), nil
}

// Close implements domain.MarketAdapter.
func (a *SalesAdapter) Close() error { return nil }

func filterSince(sales []domain.NormalizedSale, q domain.SalesQuery, limit int) []domain.NormalizedSale {
	out := make([]domain.NormalizedSale, 0, len(sales))
	for _, s := range sales {
		if q.Since != nil && s.SoldAt.Before(*q.Since) {
			continue
		}
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out
}
