package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

// ItemReader loads one item with its denormalized summary.
type ItemReader interface {
	GetByID(ctx context.Context, id int64) (domain.Item, error)
}

// ListingReader loads an item's active listings, cheapest first.
type ListingReader interface {
	ListActiveByItem(ctx context.Context, itemID int64) ([]domain.Listing, error)
}

// ItemHandler serves the cross-market view of one gift.
type ItemHandler struct {
	items    ItemReader
	listings ListingReader
	logger   *slog.Logger
}

// NewItemHandler creates an ItemHandler.
func NewItemHandler(items ItemReader, listings ListingReader, logger *slog.Logger) *ItemHandler {
	return &ItemHandler{items: items, listings: listings, logger: logHandler(logger, "item")}
}

type listingView struct {
	Market     string          `json:"market"`
	ListingID  string          `json:"listing_id"`
	PriceTon   decimal.Decimal `json:"price_ton"`
	PriceRaw   decimal.Decimal `json:"price_raw"`
	Currency   domain.Currency `json:"currency"`
	Seller     string          `json:"seller,omitempty"`
	URL        string          `json:"url,omitempty"`
	LastSeenAt time.Time       `json:"last_seen_at"`
}

type itemView struct {
	ID                int64            `json:"id"`
	Address           string           `json:"address"`
	CollectionID      int64            `json:"collection_id"`
	Index             *int64           `json:"index,omitempty"`
	Name              string           `json:"name,omitempty"`
	ImageURL          string           `json:"image_url,omitempty"`
	IsOnSale          bool             `json:"is_on_sale"`
	LowestPriceTon    *decimal.Decimal `json:"lowest_price_ton"`
	LowestPriceMarket *string          `json:"lowest_price_market"`
	Listings          []listingView    `json:"listings"`
}

// GetItem returns the item summary and every active listing across markets.
// GET /api/items/{id}
func (h *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	item, err := h.items.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get item failed", slog.Int64("item_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load item")
		return
	}
	listings, err := h.listings.ListActiveByItem(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list listings failed", slog.Int64("item_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load listings")
		return
	}

	view := itemView{
		ID:                item.ID,
		Address:           item.Address,
		CollectionID:      item.CollectionID,
		Index:             item.Index,
		Name:              item.Name,
		ImageURL:          item.ImageURL,
		IsOnSale:          item.Summary.IsOnSale,
		LowestPriceTon:    item.Summary.LowestPriceTon,
		LowestPriceMarket: item.Summary.LowestPriceMarket,
		Listings:          make([]listingView, 0, len(listings)),
	}
	for _, l := range listings {
		view.Listings = append(view.Listings, listingView{
			Market:     l.MarketSlug,
			ListingID:  l.MarketListingID,
			PriceTon:   l.PriceTon,
			PriceRaw:   l.PriceRaw,
			Currency:   l.Currency,
			Seller:     l.SellerAddress,
			URL:        l.ListingURL,
			LastSeenAt: l.LastSeenAt,
		})
	}
	writeJSON(w, http.StatusOK, view)
}
