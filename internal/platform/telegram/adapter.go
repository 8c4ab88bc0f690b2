// Package telegram reads unique gifts on Telegram's own resale market over
// MTProto. Every market that settles through Telegram shows up here, so it
// sees gifts that never leave the platform.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/giftagg/internal/adapter"
	"github.com/alanyoungcy/giftagg/internal/config"
	"github.com/alanyoungcy/giftagg/internal/domain"
)

const (
	// Slug is the market identity of this adapter.
	Slug = "telegram"

	pageSize   = 100
	maxPages   = 100
	catalogTTL = 10 * time.Minute
	listingURL = "https://t.me/nft/"
	imageURL   = "https://nft.fragment.com/gift/"
)

// Adapter pages payments.getResaleStarGifts for the gift type mapped to each
// collection.
type Adapter struct {
	api     ResaleAPI
	giftIDs map[string]int64
	fx      config.FXConfig
	pace    *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	catalog   map[int64]CatalogGift
	catalogAt time.Time
}

var _ domain.MarketAdapter = (*Adapter)(nil)

// New is the registry constructor. Missing app credentials are not a
// construction error; fetches fail with domain.ErrUnauthorized instead.
func New(deps adapter.Deps) (domain.MarketAdapter, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := deps.Config
	var api ResaleAPI = unconfigured{}
	if mc.AppID != 0 && mc.AppHash != "" {
		api = NewSession(SessionConfig{
			AppID:       mc.AppID,
			AppHash:     mc.AppHash,
			SessionFile: mc.SessionFile,
		}, logger)
	} else {
		logger.Warn("telegram app_id/app_hash not configured, fetches will fail")
	}
	return NewAdapter(api, mc.GiftIDs, mc.RateLimit, deps.FX, logger), nil
}

type unconfigured struct{}

func (unconfigured) ResalePage(context.Context, int64, string, int) (ResalePage, error) {
	return ResalePage{}, fmt.Errorf("telegram: no app credentials: %w", domain.ErrUnauthorized)
}

func (unconfigured) Catalog(context.Context) ([]CatalogGift, error) {
	return nil, fmt.Errorf("telegram: no app credentials: %w", domain.ErrUnauthorized)
}

func (unconfigured) Close() error { return nil }

// NewAdapter creates an Adapter. giftIDs maps collection addresses to
// Telegram gift type ids; rps paces page requests.
func NewAdapter(api ResaleAPI, giftIDs map[string]int64, rps float64, fx config.FXConfig, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if rps <= 0 {
		rps = 1
	}
	return &Adapter{
		api:     api,
		giftIDs: giftIDs,
		fx:      fx,
		pace:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
		now:     time.Now,
	}
}

// Slug implements domain.MarketAdapter.
func (a *Adapter) Slug() string { return Slug }

// FetchCollectionListings implements domain.MarketAdapter.
func (a *Adapter) FetchCollectionListings(ctx context.Context, collection string, limit int) ([]domain.NormalizedListing, error) {
	return adapter.FetchViaIterator(ctx, a.IterateCollectionListings(ctx, collection, pageSize), limit)
}

// IterateCollectionListings follows next_offset, cheapest first, for at most
// maxPages pages. Collections without a gift type, or whose gift type has
// nothing on resale, yield no listings.
func (a *Adapter) IterateCollectionListings(_ context.Context, collection string, batchSize int) domain.ListingIterator {
	if batchSize <= 0 || batchSize > pageSize {
		batchSize = pageSize
	}
	pages := 0
	return adapter.NewPageIterator(func(ctx context.Context, offset string, limit int) (adapter.Page, error) {
		giftID, ok := a.giftID(collection)
		if !ok {
			a.logger.Debug("no gift type mapped for collection", slog.String("collection", collection))
			return adapter.Page{Done: true}, nil
		}
		if pages == 0 && !a.onResale(ctx, giftID) {
			return adapter.Page{Done: true}, nil
		}
		if err := a.pace.Wait(ctx); err != nil {
			return adapter.Page{}, err
		}
		res, err := a.api.ResalePage(ctx, giftID, offset, limit)
		if err != nil {
			return adapter.Page{}, err
		}
		pages++

		out := make([]domain.NormalizedListing, 0, len(res.Gifts))
		for _, g := range res.Gifts {
			if l, ok := a.parseGift(g); ok {
				out = append(out, l)
			}
		}
		page := adapter.Page{Listings: out, Next: res.NextOffset}
		if res.NextOffset == "" || pages >= maxPages {
			page.Done = true
		}
		if pages >= maxPages && res.NextOffset != "" {
			a.logger.Warn("page cap reached", slog.Int64("gift_id", giftID), slog.Int("pages", pages))
		}
		return page, nil
	}, "", batchSize)
}

// FetchItemListing is not offered: resale is only browsable by gift type.
func (a *Adapter) FetchItemListing(context.Context, string) (*domain.NormalizedListing, error) {
	return nil, nil
}

// FetchSalesHistory is not offered by the MTProto API.
func (a *Adapter) FetchSalesHistory(context.Context, domain.SalesQuery) ([]domain.NormalizedSale, error) {
	return []domain.NormalizedSale{}, nil
}

// Close disconnects the session.
func (a *Adapter) Close() error {
	return a.api.Close()
}

// giftID resolves the configured gift type, accepting a numeric collection
// as the id itself.
func (a *Adapter) giftID(collection string) (int64, bool) {
	if id, ok := a.giftIDs[collection]; ok {
		return id, true
	}
	if id, err := strconv.ParseInt(strings.TrimSpace(collection), 10, 64); err == nil && id > 0 {
		return id, true
	}
	return 0, false
}

// onResale consults the cached catalog. A catalog failure or a gift type
// missing from it does not block the fetch.
func (a *Adapter) onResale(ctx context.Context, giftID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.catalog == nil || a.now().Sub(a.catalogAt) > catalogTTL {
		gifts, err := a.api.Catalog(ctx)
		if err != nil {
			a.logger.Warn("catalog unavailable", slog.String("error", err.Error()))
			return true
		}
		a.catalog = make(map[int64]CatalogGift, len(gifts))
		for _, g := range gifts {
			a.catalog[g.ID] = g
		}
		a.catalogAt = a.now()
	}
	g, ok := a.catalog[giftID]
	return !ok || g.AvailabilityResale > 0
}

func (a *Adapter) parseGift(g ResaleGift) (domain.NormalizedListing, bool) {
	var (
		raw      decimal.Decimal
		cur      domain.Currency
		priceTon decimal.Decimal
	)
	switch {
	case g.TonNano > 0:
		raw, cur = decimal.NewFromInt(g.TonNano), domain.CurrencyTON
		priceTon = domain.NanotonToTon(raw)
	case g.Stars > 0:
		raw, cur = decimal.NewFromInt(g.Stars), domain.CurrencySTARS
		var err error
		if priceTon, err = adapter.ToTon(raw, cur, a.fx); err != nil {
			a.logger.Warn("dropping gift", slog.String("slug", g.Slug), slog.String("error", err.Error()))
			return domain.NormalizedListing{}, false
		}
	default:
		a.logger.Debug("gift has no resale price", slog.String("slug", g.Slug))
		return domain.NormalizedListing{}, false
	}

	addr := g.GiftAddress
	if addr == "" {
		addr = g.Slug
	}
	l := domain.NormalizedListing{
		MarketSlug:      Slug,
		MarketListingID: strconv.FormatInt(g.ID, 10),
		ItemAddress:     addr,
		PriceRaw:        raw,
		Currency:        cur,
		PriceTon:        priceTon,
		SellerAddress:   g.OwnerAddress,
		Status:          domain.ListingActive,
		Extra: map[string]any{
			"name":       fmt.Sprintf("%s #%d", g.Title, g.Num),
			"collection": g.Title,
			"index":      g.Num,
			"slug":       g.Slug,
			"gift_id":    g.GiftID,
			"onchain":    g.GiftAddress != "",
		},
	}
	if g.Slug != "" {
		l.ListingURL = listingURL + g.Slug
		l.Extra["image_url"] = imageURL + strings.ToLower(g.Slug) + ".webp"
	}
	return l, adapter.Accept(a.logger, l)
}
