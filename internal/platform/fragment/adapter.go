// Package fragment implements the Fragment adapter. Fragment has no public
// listing API; sale contracts are read from tonapi item records.
package fragment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/giftagg/internal/adapter"
	"github.com/alanyoungcy/giftagg/internal/domain"
	"github.com/alanyoungcy/giftagg/internal/platform/tonapi"
)

const (
	// Slug is the market identity of this adapter.
	Slug = "fragment"

	listingURL = "https://fragment.com/gift/"
)

// Adapter reads Fragment sales through tonapi.
type Adapter struct {
	client *tonapi.Client
	logger *slog.Logger
}

var _ domain.MarketAdapter = (*Adapter)(nil)

// New is the registry constructor.
func New(deps adapter.Deps) (domain.MarketAdapter, error) {
	return NewAdapter(tonapi.NewClientFromDeps(deps), deps.Logger), nil
}

// NewAdapter creates an Adapter.
func NewAdapter(c *tonapi.Client, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{client: c, logger: logger}
}

// Slug implements domain.MarketAdapter.
func (a *Adapter) Slug() string { return Slug }

// FetchCollectionListings implements domain.MarketAdapter.
func (a *Adapter) FetchCollectionListings(ctx context.Context, collection string, limit int) ([]domain.NormalizedListing, error) {
	return adapter.FetchViaIterator(ctx, a.IterateCollectionListings(ctx, collection, tonapi.MaxItemsPage), limit)
}

// IterateCollectionListings walks the whole collection by offset and keeps
// only items with an attached sale. A short page ends iteration.
func (a *Adapter) IterateCollectionListings(_ context.Context, collection string, batchSize int) domain.ListingIterator {
	if batchSize <= 0 || batchSize > tonapi.MaxItemsPage {
		batchSize = tonapi.MaxItemsPage
	}
	return adapter.NewPageIterator(func(ctx context.Context, pos string, limit int) (adapter.Page, error) {
		offset := adapter.OffsetPosition(pos)
		items, fetched, err := a.client.CollectionItems(ctx, collection, limit, offset)
		if err != nil {
			return adapter.Page{}, fmt.Errorf("fragment: %w", err)
		}
		out := make([]domain.NormalizedListing, 0, len(items))
		for _, it := range items {
			if l, ok := a.parseItem(it); ok {
				out = append(out, l)
			}
		}
		return adapter.OffsetPage(out, offset, fetched, limit), nil
	}, "", batchSize)
}

// FetchItemListing implements domain.MarketAdapter.
func (a *Adapter) FetchItemListing(ctx context.Context, itemAddress string) (*domain.NormalizedListing, error) {
	item, err := a.client.Item(ctx, itemAddress)
	if err != nil {
		return nil, fmt.Errorf("fragment: %w", err)
	}
	if item == nil {
		return nil, nil
	}
	l, ok := a.parseItem(*item)
	if !ok {
		return nil, nil
	}
	return &l, nil
}

// FetchSalesHistory implements domain.MarketAdapter for a single item.
func (a *Adapter) FetchSalesHistory(ctx context.Context, q domain.SalesQuery) ([]domain.NormalizedSale, error) {
	if q.ItemAddress == "" {
		return []domain.NormalizedSale{}, nil
	}
	events, err := a.client.ItemHistory(ctx, q.ItemAddress, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("fragment: %w", err)
	}
	sales := tonapi.SalesFromEvents(Slug, q.ItemAddress, events)
	if q.Since == nil {
		return sales, nil
	}
	out := sales[:0]
	for _, s := range sales {
		if !s.SoldAt.Before(*q.Since) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Close implements domain.MarketAdapter.
func (a *Adapter) Close() error { return nil }

func (a *Adapter) parseItem(it tonapi.NftItem) (domain.NormalizedListing, bool) {
	if it.Sale == nil {
		return domain.NormalizedListing{}, false
	}
	nano := it.Sale.Price.Value
	seller := it.Sale.Owner.Address
	if seller == "" && it.Owner != nil {
		seller = it.Owner.Address
	}
	marketplace := it.Sale.Market.Name
	if marketplace == "" {
		marketplace = "Fragment"
	}

	l := domain.NormalizedListing{
		MarketSlug:      Slug,
		MarketListingID: it.Address,
		ItemAddress:     it.Address,
		PriceRaw:        nano,
		Currency:        domain.CurrencyTON,
		PriceTon:        domain.NanotonToTon(nano),
		SellerAddress:   seller,
		ListingURL:      listingURL + it.Address,
		Status:          domain.ListingActive,
		Extra: map[string]any{
			"name":                it.Metadata.Name,
			"image_url":           it.ImageURL(),
			"sale_market_address": it.Sale.Address,
			"marketplace":         marketplace,
		},
	}
	if it.Index != nil {
		l.Extra["index"] = *it.Index
	}
	if attrs := it.Attributes(); attrs != nil {
		l.Extra["attributes"] = attrs
	}
	if it.Collection != nil {
		l.Extra["collection"] = it.Collection.Address
	}
	return l, adapter.Accept(a.logger, l)
}
