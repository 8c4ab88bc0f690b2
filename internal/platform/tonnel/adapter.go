// Package tonnel implements the Tonnel REST marketplace adapter.
package tonnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/giftagg/internal/adapter"
	"github.com/alanyoungcy/giftagg/internal/domain"
	"github.com/alanyoungcy/giftagg/internal/httpx"
)

const (
	// Slug is the market identity of this adapter.
	Slug = "tonnel"
	// DefaultBaseURL is the Tonnel API root.
	DefaultBaseURL = "https://api.tonnel.network"

	listingURL = "https://tonnel.network/nft/"
)

// Adapter reads Tonnel listings. The on-sale endpoint has no paging, so
// iteration is a single bounded fetch.
type Adapter struct {
	client *httpx.Client
	logger *slog.Logger
}

var _ domain.MarketAdapter = (*Adapter)(nil)

// New is the registry constructor.
func New(deps adapter.Deps) (domain.MarketAdapter, error) {
	var extra []httpx.Option
	if deps.Config.APIKey != "" {
		extra = append(extra, httpx.WithHeader("Authorization", "Bearer "+deps.Config.APIKey))
	}
	return NewAdapter(deps.HTTPClient(DefaultBaseURL, extra...), deps.Logger), nil
}

// NewAdapter creates an Adapter.
func NewAdapter(c *httpx.Client, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{client: c, logger: logger}
}

// Slug implements domain.MarketAdapter.
func (a *Adapter) Slug() string { return Slug }

// FetchCollectionListings implements domain.MarketAdapter. A 404 means the
// collection has nothing on sale.
func (a *Adapter) FetchCollectionListings(ctx context.Context, collection string, limit int) ([]domain.NormalizedListing, error) {
	if limit <= 0 {
		limit = 1000
	}
	q := url.Values{}
	q.Set("collection", collection)
	q.Set("limit", strconv.Itoa(limit))

	var resp listingsResponse
	err := a.client.GetJSON(ctx, "/api/v1/nfts/on-sale", q, &resp)
	if errors.Is(err, domain.ErrNotFound) {
		a.logger.Warn("on-sale endpoint returned 404", slog.String("collection", collection))
		return []domain.NormalizedListing{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tonnel: on-sale %s: %w", collection, err)
	}

	records := adapter.DecodeRecords[APIListing](a.logger, Slug, resp.records())
	out := make([]domain.NormalizedListing, 0, len(records))
	for _, r := range records {
		if l, ok := a.parseListing(r); ok {
			out = append(out, l)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// IterateCollectionListings implements domain.MarketAdapter.
func (a *Adapter) IterateCollectionListings(_ context.Context, collection string, batchSize int) domain.ListingIterator {
	return adapter.IterateFromFetch(func(ctx context.Context, limit int) ([]domain.NormalizedListing, error) {
		return a.FetchCollectionListings(ctx, collection, limit)
	}, 0)
}

// FetchItemListing implements domain.MarketAdapter.
func (a *Adapter) FetchItemListing(ctx context.Context, itemAddress string) (*domain.NormalizedListing, error) {
	var rec APIListing
	err := a.client.GetJSON(ctx, "/api/v1/nfts/"+url.PathEscape(itemAddress), nil, &rec)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tonnel: item %s: %w", itemAddress, err)
	}
	if rec.OnSale == nil || !*rec.OnSale {
		return nil, nil
	}
	if rec.address() == "" {
		rec.Address = itemAddress
	}
	l, ok := a.parseListing(rec)
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
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))

	var resp historyResponse
	err := a.client.GetJSON(ctx, "/api/v1/nfts/"+url.PathEscape(q.ItemAddress)+"/history", params, &resp)
	if errors.Is(err, domain.ErrNotFound) {
		return []domain.NormalizedSale{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tonnel: history %s: %w", q.ItemAddress, err)
	}

	records := adapter.DecodeRecords[APISale](a.logger, Slug, resp.records())
	out := make([]domain.NormalizedSale, 0, len(records))
	for _, r := range records {
		s, ok := parseSale(r, q.ItemAddress)
		if !ok {
			continue
		}
		if q.Since != nil && s.SoldAt.Before(*q.Since) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Close implements domain.MarketAdapter.
func (a *Adapter) Close() error { return nil }

func (a *Adapter) parseListing(r APIListing) (domain.NormalizedListing, bool) {
	nano := r.nanoton()
	if nano == nil {
		a.logger.Warn("dropping listing without price", slog.String("market", Slug), slog.String("item", r.address()))
		return domain.NormalizedListing{}, false
	}
	addr := r.address()
	l := domain.NormalizedListing{
		MarketSlug:      Slug,
		MarketListingID: addr,
		ItemAddress:     addr,
		PriceRaw:        *nano,
		Currency:        domain.CurrencyTON,
		PriceTon:        domain.NanotonToTon(*nano),
		SellerAddress:   string(r.Owner),
		ListingURL:      listingURL + addr,
		ListedAt:        adapter.ParseTime(r.ListedAt),
		Status:          domain.ListingActive,
		Extra:           map[string]any{"name": r.Name},
	}
	return l, adapter.Accept(a.logger, l)
}

func parseSale(r APISale, itemAddress string) (domain.NormalizedSale, bool) {
	if r.Price == nil || !r.Price.IsPositive() {
		return domain.NormalizedSale{}, false
	}
	soldAt := time.Now().UTC()
	if t := adapter.ParseTime(r.SaleDate); t != nil {
		soldAt = *t
	} else if t := adapter.ParseTime(r.Timestamp); t != nil {
		soldAt = *t
	}
	tx := r.TxHash
	if tx == "" {
		tx = r.TransactionHash
	}
	return domain.NormalizedSale{
		MarketSlug:    Slug,
		ItemAddress:   itemAddress,
		PriceRaw:      *r.Price,
		Currency:      domain.CurrencyTON,
		PriceTon:      domain.NanotonToTon(*r.Price),
		BuyerAddress:  string(r.Buyer),
		SellerAddress: string(r.Seller),
		TxHash:        tx,
		SoldAt:        soldAt,
	}, true
}
