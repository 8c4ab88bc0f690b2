// Package mrkt implements the MRKT Telegram gift marketplace adapter.
package mrkt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alanyoungcy/giftagg/internal/adapter"
	"github.com/alanyoungcy/giftagg/internal/config"
	"github.com/alanyoungcy/giftagg/internal/crypto"
	"github.com/alanyoungcy/giftagg/internal/domain"
	"github.com/alanyoungcy/giftagg/internal/httpx"
)

const (
	// Slug is the market identity of this adapter.
	Slug = "mrkt"
	// DefaultBaseURL is the MRKT API root.
	DefaultBaseURL = "https://api.tgmrkt.io/api/v1"

	maxPageSize  = 100
	lookupWindow = 500
	listingURL   = "https://tgmrkt.io/gift/"
)

// Adapter reads MRKT resale listings with a bearer token obtained from
// Telegram initData.
type Adapter struct {
	client *httpx.Client
	tokens *tokenSource
	fx     config.FXConfig
	logger *slog.Logger
}

var _ domain.MarketAdapter = (*Adapter)(nil)

// New is the registry constructor. A missing initData is not a construction
// error; fetches fail with domain.ErrUnauthorized instead.
func New(deps adapter.Deps) (domain.MarketAdapter, error) {
	initData, err := deps.Config.Secret()
	if err != nil && !errors.Is(err, crypto.ErrNoSecret) {
		return nil, fmt.Errorf("mrkt: load initData: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if initData == "" {
		logger.Warn("mrkt initData not configured, fetches will fail")
	}
	return NewAdapter(deps.HTTPClient(DefaultBaseURL), initData, deps.FX, logger), nil
}

// NewAdapter creates an Adapter.
func NewAdapter(c *httpx.Client, initData string, fx config.FXConfig, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		client: c,
		tokens: newTokenSource(c, initData, logger),
		fx:     fx,
		logger: logger,
	}
}

// Slug implements domain.MarketAdapter.
func (a *Adapter) Slug() string { return Slug }

// FetchCollectionListings implements domain.MarketAdapter.
func (a *Adapter) FetchCollectionListings(ctx context.Context, collection string, limit int) ([]domain.NormalizedListing, error) {
	return adapter.FetchViaIterator(ctx, a.IterateCollectionListings(ctx, collection, maxPageSize), limit)
}

// IterateCollectionListings pages /gifts/saling by offset until total is
// reached or a short page arrives.
func (a *Adapter) IterateCollectionListings(_ context.Context, collection string, batchSize int) domain.ListingIterator {
	if batchSize <= 0 || batchSize > maxPageSize {
		batchSize = maxPageSize
	}
	return adapter.NewPageIterator(func(ctx context.Context, pos string, limit int) (adapter.Page, error) {
		offset := adapter.OffsetPosition(pos)
		resp, err := a.saling(ctx, collection, limit, offset)
		if err != nil {
			return adapter.Page{}, err
		}
		records := resp.records()
		out := make([]domain.NormalizedListing, 0, len(records))
		for _, g := range adapter.DecodeRecords[APIGift](a.logger, Slug, records) {
			l, ok := a.parseGift(g)
			if !ok || !matchesCollection(l, collection) {
				continue
			}
			out = append(out, l)
		}
		page := adapter.OffsetPage(out, offset, len(records), limit)
		if offset+limit >= resp.Total {
			page.Done = true
		}
		return page, nil
	}, "", batchSize)
}

// FetchItemListing scans the first page of listings for the address or
// listing id; there is no direct lookup endpoint.
func (a *Adapter) FetchItemListing(ctx context.Context, itemAddress string) (*domain.NormalizedListing, error) {
	resp, err := a.saling(ctx, "", lookupWindow, 0)
	if err != nil {
		return nil, err
	}
	for _, g := range adapter.DecodeRecords[APIGift](a.logger, Slug, resp.records()) {
		l, ok := a.parseGift(g)
		if !ok {
			continue
		}
		if l.ItemAddress == itemAddress || l.MarketListingID == itemAddress {
			return &l, nil
		}
	}
	return nil, nil
}

// FetchSalesHistory is not offered by MRKT.
func (a *Adapter) FetchSalesHistory(context.Context, domain.SalesQuery) ([]domain.NormalizedSale, error) {
	return []domain.NormalizedSale{}, nil
}

// Close drops the cached token.
func (a *Adapter) Close() error {
	a.tokens.reset()
	return nil
}

func (a *Adapter) saling(ctx context.Context, collection string, limit, offset int) (salingResponse, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	if collection != "" {
		q.Set("collection", collection)
	}
	var resp salingResponse
	if err := a.authedGet(ctx, "/gifts/saling", q, &resp); err != nil {
		return salingResponse{}, fmt.Errorf("mrkt: saling: %w", err)
	}
	return resp, nil
}

// authedGet sends the bearer token and re-authenticates once on 401.
func (a *Adapter) authedGet(ctx context.Context, path string, q url.Values, out any) error {
	tok, err := a.tokens.Token(ctx)
	if err != nil {
		return err
	}
	err = a.getWithToken(ctx, path, q, tok, out)
	if !errors.Is(err, domain.ErrUnauthorized) {
		return err
	}

	a.logger.Warn("token rejected, re-authenticating")
	tok, err = a.tokens.Refresh(ctx, tok)
	if err != nil {
		return err
	}
	return a.getWithToken(ctx, path, q, tok, out)
}

func (a *Adapter) getWithToken(ctx context.Context, path string, q url.Values, tok string, out any) error {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok)
	return a.client.DoJSON(ctx, httpx.Request{Method: http.MethodGet, Path: path, Query: q, Header: h}, out)
}

func (a *Adapter) parseGift(g APIGift) (domain.NormalizedListing, bool) {
	if g.ID == "" || g.Price == nil {
		a.logger.Warn("dropping gift without id or price", slog.String("market", Slug), slog.String("id", string(g.ID)))
		return domain.NormalizedListing{}, false
	}
	cur := domain.ParseCurrency(g.Currency)
	priceTon, err := adapter.ToTon(*g.Price, cur, a.fx)
	if err != nil {
		a.logger.Warn("dropping gift", slog.String("market", Slug), slog.String("id", string(g.ID)), slog.String("error", err.Error()))
		return domain.NormalizedListing{}, false
	}
	seller := g.Seller.Address
	if seller == "" {
		seller = g.Seller.Wallet
	}
	created := g.CreatedAt
	if created == nil {
		created = g.CreatedAtC
	}

	l := domain.NormalizedListing{
		MarketSlug:      Slug,
		MarketListingID: string(g.ID),
		ItemAddress:     g.itemAddress(),
		PriceRaw:        *g.Price,
		Currency:        cur,
		PriceTon:        priceTon,
		SellerAddress:   seller,
		ListingURL:      listingURL + string(g.ID),
		ListedAt:        adapter.ParseTime(created),
		Status:          domain.ListingActive,
		Extra: map[string]any{
			"name":       g.Gift.Name,
			"collection": g.Gift.Collection,
			"seller_id":  string(g.Seller.ID),
		},
	}
	return l, adapter.Accept(a.logger, l)
}

// matchesCollection filters client side in case the upstream ignores the
// collection parameter.
func matchesCollection(l domain.NormalizedListing, collection string) bool {
	if collection == "" {
		return true
	}
	got := l.ExtraString("collection")
	return got == "" || strings.Contains(strings.ToLower(got), strings.ToLower(collection))
}
