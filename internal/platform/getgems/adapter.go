// Package getgems implements the GetGems GraphQL marketplace adapter.
package getgems

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/giftagg/internal/adapter"
	"github.com/alanyoungcy/giftagg/internal/domain"
	"github.com/alanyoungcy/giftagg/internal/httpx"
)

const (
	// Slug is the market identity of this adapter.
	Slug = "getgems"
	// DefaultBaseURL is the public GraphQL endpoint.
	DefaultBaseURL = "https://api.getgems.io/graphql"

	maxPageSize = 100
	listingURL  = "https://getgems.io/nft/"
)

// Adapter queries GetGems for fixed-price sales.
type Adapter struct {
	client *httpx.Client
	logger *slog.Logger
}

var _ domain.MarketAdapter = (*Adapter)(nil)

// New is the registry constructor.
func New(deps adapter.Deps) (domain.MarketAdapter, error) {
	return NewAdapter(deps.HTTPClient(DefaultBaseURL), deps.Logger), nil
}

// NewAdapter creates an Adapter on an existing client.
func NewAdapter(client *httpx.Client, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{client: client, logger: logger}
}

// Slug implements domain.MarketAdapter.
func (a *Adapter) Slug() string { return Slug }

// FetchCollectionListings implements domain.MarketAdapter.
func (a *Adapter) FetchCollectionListings(ctx context.Context, collection string, limit int) ([]domain.NormalizedListing, error) {
	batch := limit
	if batch <= 0 || batch > maxPageSize {
		batch = maxPageSize
	}
	return adapter.FetchViaIterator(ctx, a.IterateCollectionListings(ctx, collection, batch), limit)
}

// IterateCollectionListings implements domain.MarketAdapter with cursor paging.
func (a *Adapter) IterateCollectionListings(_ context.Context, collection string, batchSize int) domain.ListingIterator {
	if batchSize <= 0 || batchSize > maxPageSize {
		batchSize = maxPageSize
	}
	return adapter.NewPageIterator(func(ctx context.Context, cursor string, first int) (adapter.Page, error) {
		vars := map[string]any{
			"collectionAddress": collection,
			"first":             first,
		}
		if cursor != "" {
			vars["after"] = cursor
		}

		var data itemsOnSaleData
		if err := a.doQuery(ctx, collectionSalesQuery, vars, &data); err != nil {
			return adapter.Page{}, fmt.Errorf("getgems: items on sale: %w", err)
		}

		conn := data.NftItemsOnSale
		out := make([]domain.NormalizedListing, 0, len(conn.Edges))
		for _, e := range adapter.DecodeRecords[itemEdge](a.logger, Slug, conn.Edges) {
			if l, ok := a.parseListing(e.Node); ok {
				out = append(out, l)
			}
		}
		return adapter.Page{
			Listings: out,
			Next:     conn.PageInfo.EndCursor,
			Done:     !conn.PageInfo.HasNextPage || len(conn.Edges) == 0,
		}, nil
	}, "", batchSize)
}

// FetchItemListing implements domain.MarketAdapter.
func (a *Adapter) FetchItemListing(ctx context.Context, itemAddress string) (*domain.NormalizedListing, error) {
	var data itemByAddressData
	if err := a.doQuery(ctx, itemSaleQuery, map[string]any{"address": itemAddress}, &data); err != nil {
		return nil, fmt.Errorf("getgems: item %s: %w", itemAddress, err)
	}
	if data.NftItemByAddress == nil {
		return nil, nil
	}
	l, ok := a.parseListing(*data.NftItemByAddress)
	if !ok {
		return nil, nil
	}
	return &l, nil
}

// FetchSalesHistory implements domain.MarketAdapter. Only collection-wide
// history is supported upstream.
func (a *Adapter) FetchSalesHistory(ctx context.Context, q domain.SalesQuery) ([]domain.NormalizedSale, error) {
	if q.Collection == "" {
		return []domain.NormalizedSale{}, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	sales := make([]domain.NormalizedSale, 0, limit)
	cursor := ""
	for len(sales) < limit {
		first := limit - len(sales)
		if first > maxPageSize {
			first = maxPageSize
		}
		vars := map[string]any{"collectionAddress": q.Collection, "first": first}
		if cursor != "" {
			vars["after"] = cursor
		}

		var data saleEventsData
		if err := a.doQuery(ctx, salesHistoryQuery, vars, &data); err != nil {
			return nil, fmt.Errorf("getgems: sale events: %w", err)
		}
		conn := data.NftSaleEvents
		for _, e := range adapter.DecodeRecords[saleEdge](a.logger, Slug, conn.Edges) {
			s, ok := a.parseSale(e.Node)
			if !ok {
				continue
			}
			if q.Since != nil && s.SoldAt.Before(*q.Since) {
				// DATE_DESC: everything after this is older
				return sales, nil
			}
			sales = append(sales, s)
		}
		if !conn.PageInfo.HasNextPage || len(conn.Edges) == 0 || conn.PageInfo.EndCursor == "" {
			break
		}
		cursor = conn.PageInfo.EndCursor
	}
	if len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

// Close implements domain.MarketAdapter.
func (a *Adapter) Close() error { return nil }

func (a *Adapter) parseListing(n APIItem) (domain.NormalizedListing, bool) {
	if n.Sale == nil || n.Sale.FullPrice == nil {
		return domain.NormalizedListing{}, false
	}
	l := domain.NormalizedListing{
		MarketSlug:      Slug,
		MarketListingID: n.Address,
		ItemAddress:     n.Address,
		PriceRaw:        *n.Sale.FullPrice,
		Currency:        domain.CurrencyTON,
		PriceTon:        domain.NanotonToTon(*n.Sale.FullPrice),
		SellerAddress:   n.Sale.Owner.Address,
		ListingURL:      listingURL + n.Address,
		ListedAt:        adapter.ParseTime(n.Sale.CreatedAt),
		Status:          domain.ListingActive,
		Extra: map[string]any{
			"name":        n.Name,
			"collection":  n.Collection.Address,
			"marketplace": n.Sale.Marketplace.Name,
			"image_url":   n.Content.Image.OriginalURL,
		},
	}
	if n.Index != nil {
		l.Extra["index"] = *n.Index
	}
	return l, adapter.Accept(a.logger, l)
}

func (a *Adapter) parseSale(n APISaleEvent) (domain.NormalizedSale, bool) {
	if n.NftItem.Address == "" || n.Price == nil || !n.Price.IsPositive() {
		a.logger.Warn("dropping sale event", slog.String("market", Slug), slog.String("tx_hash", n.TxHash))
		return domain.NormalizedSale{}, false
	}
	soldAt := time.Now().UTC()
	if t := adapter.ParseTime(n.CreatedAt); t != nil {
		soldAt = *t
	}
	return domain.NormalizedSale{
		MarketSlug:    Slug,
		ItemAddress:   n.NftItem.Address,
		ItemName:      n.NftItem.Name,
		PriceRaw:      *n.Price,
		Currency:      domain.CurrencyTON,
		PriceTon:      domain.NanotonToTon(*n.Price),
		BuyerAddress:  n.Buyer.Address,
		SellerAddress: n.Seller.Address,
		TxHash:        n.TxHash,
		SoldAt:        soldAt,
		Extra:         map[string]any{"event_type": n.EventType},
	}, true
}

// doQuery executes a GraphQL query and decodes the "data" field into out.
func (a *Adapter) doQuery(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("marshal graphql request: %w", err)
	}

	resp, err := a.client.Do(ctx, httpx.Request{Method: http.MethodPost, Body: body})
	if err != nil {
		return err
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(resp.Body, &gqlResp); err != nil {
		return fmt.Errorf("decode graphql response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		msgs := make([]string, 0, len(gqlResp.Errors))
		for _, e := range gqlResp.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("graphql error: %s", strings.Join(msgs, "; "))
	}
	if len(gqlResp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(gqlResp.Data, out); err != nil {
		return fmt.Errorf("decode graphql data: %w", err)
	}
	return nil
}
