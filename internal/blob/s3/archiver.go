package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

// ListingArchiveStore is the read side of the listing store the archiver needs.
type ListingArchiveStore interface {
	ListInactiveBefore(ctx context.Context, cutoff time.Time) ([]domain.Listing, error)
}

// SaleArchiveStore is the read side of the sale store the archiver needs.
type SaleArchiveStore interface {
	ListBefore(ctx context.Context, cutoff time.Time) ([]domain.Sale, error)
}

// ArchiveImpl implements domain.Archiver by serializing old rows to JSONL and
// handing each kind to the BlobWriter as one batch.
//
// Rows are not deleted from PostgreSQL here.
type ArchiveImpl struct {
	writer   domain.BlobWriter
	listings ListingArchiveStore
	sales    SaleArchiveStore
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, listings ListingArchiveStore, sales SaleArchiveStore) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, listings: listings, sales: sales}
}

// listingRecord is the archived shape of a retired listing.
type listingRecord struct {
	ID              int64      `json:"id"`
	ItemID          int64      `json:"item_id"`
	CollectionID    int64      `json:"collection_id"`
	Market          string     `json:"market"`
	MarketListingID string     `json:"market_listing_id"`
	PriceRaw        string     `json:"price_raw"`
	Currency        string     `json:"currency"`
	PriceTon        string     `json:"price_ton"`
	SellerAddress   string     `json:"seller_address,omitempty"`
	ListingURL      string     `json:"listing_url,omitempty"`
	ListedAt        *time.Time `json:"listed_at,omitempty"`
	FirstSeenAt     time.Time  `json:"first_seen_at"`
	LastSeenAt      time.Time  `json:"last_seen_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// saleRecord is the archived shape of a sale.
type saleRecord struct {
	ID            int64     `json:"id"`
	ItemID        *int64    `json:"item_id,omitempty"`
	CollectionID  *int64    `json:"collection_id,omitempty"`
	MarketID      int64     `json:"market_id"`
	ItemAddress   string    `json:"item_address"`
	ItemName      string    `json:"item_name,omitempty"`
	PriceRaw      string    `json:"price_raw"`
	Currency      string    `json:"currency"`
	PriceTon      string    `json:"price_ton"`
	BuyerAddress  string    `json:"buyer_address,omitempty"`
	SellerAddress string    `json:"seller_address,omitempty"`
	TxHash        string    `json:"tx_hash,omitempty"`
	SoldAt        time.Time `json:"sold_at"`
}

// ArchiveListings uploads listings retired before the cutoff.
func (a *ArchiveImpl) ArchiveListings(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.listings.ListInactiveBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive listings query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	recs := make([]listingRecord, len(rows))
	for i, l := range rows {
		recs[i] = listingRecord{
			ID:              l.ID,
			ItemID:          l.ItemID,
			CollectionID:    l.CollectionID,
			Market:          l.MarketSlug,
			MarketListingID: l.MarketListingID,
			PriceRaw:        l.PriceRaw.String(),
			Currency:        string(l.Currency),
			PriceTon:        l.PriceTon.String(),
			SellerAddress:   l.SellerAddress,
			ListingURL:      l.ListingURL,
			ListedAt:        l.ListedAt,
			FirstSeenAt:     l.FirstSeenAt,
			LastSeenAt:      l.LastSeenAt,
			UpdatedAt:       l.UpdatedAt,
		}
	}
	if err := a.upload(ctx, "listings", before, len(recs), recs); err != nil {
		return 0, err
	}
	return int64(len(recs)), nil
}

// ArchiveSales uploads sales recorded before the cutoff.
func (a *ArchiveImpl) ArchiveSales(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.sales.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive sales query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	recs := make([]saleRecord, len(rows))
	for i, s := range rows {
		recs[i] = saleRecord{
			ID:            s.ID,
			ItemID:        s.ItemID,
			CollectionID:  s.CollectionID,
			MarketID:      s.MarketID,
			ItemAddress:   s.ItemAddress,
			ItemName:      s.ItemName,
			PriceRaw:      s.PriceRaw.String(),
			Currency:      string(s.Currency),
			PriceTon:      s.PriceTon.String(),
			BuyerAddress:  s.BuyerAddress,
			SellerAddress: s.SellerAddress,
			TxHash:        s.TxHash,
			SoldAt:        s.SoldAt,
		}
	}
	if err := a.upload(ctx, "sales", before, len(recs), recs); err != nil {
		return 0, err
	}
	return int64(len(recs)), nil
}

func (a *ArchiveImpl) upload(ctx context.Context, kind string, before time.Time, rows int, recs any) error {
	buf, err := marshalJSONL(recs)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	if _, err := a.writer.PutArchive(ctx, domain.ArchiveBatch{Kind: kind, Cutoff: before, Rows: rows, JSONL: buf}); err != nil {
		return fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}
	return nil
}

// marshalJSONL encodes each element of a slice as one compact JSON line.
func marshalJSONL(records any) ([]byte, error) {
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("jsonl: expected a slice: %w", err)
	}
	var buf bytes.Buffer
	for _, it := range items {
		buf.Write(it)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
