package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// MarketStore persists the market registry.
type MarketStore interface {
	// Upsert inserts or refreshes a market by slug. The active flag is only
	// set on insert so operator changes survive re-seeding.
	Upsert(ctx context.Context, market Market) (Market, error)
	GetBySlug(ctx context.Context, slug string) (Market, error)
	// ListActive returns active markets by priority DESC, slug ASC.
	ListActive(ctx context.Context) ([]Market, error)
}

// CollectionStore persists tracked collections.
type CollectionStore interface {
	Upsert(ctx context.Context, col Collection) (Collection, error)
	GetByAddress(ctx context.Context, address string) (Collection, error)
	ListActive(ctx context.Context) ([]Collection, error)
}

// ItemStore persists items and their computed summaries.
type ItemStore interface {
	// Resolve returns the id of the item with seed.Address, creating it in
	// the collection if unseen.
	Resolve(ctx context.Context, collectionID int64, seed ItemSeed) (int64, error)
	GetByID(ctx context.Context, id int64) (Item, error)
	// RecomputeSummary atomically re-reads the item's active listings,
	// writes the lowest-price summary and returns the before/after pair.
	RecomputeSummary(ctx context.Context, itemID int64) (SummaryChange, error)
}

// ListingUpsert is one listing write keyed by (MarketID, MarketListingID).
type ListingUpsert struct {
	ItemID       int64
	CollectionID int64
	MarketID     int64
	Listing      NormalizedListing
}

// UpsertResult describes what a listing upsert did.
type UpsertResult struct {
	ListingID    int64
	Inserted     bool
	WasActive    bool
	PrevPriceTon *decimal.Decimal
}

// ListingStore persists listings. Only the orchestrator writes to it.
type ListingStore interface {
	// Upsert is a single INSERT .. ON CONFLICT write that marks the listing
	// active and stamps last_seen_at.
	Upsert(ctx context.Context, u ListingUpsert) (UpsertResult, error)
	// DeactivateUnseen retires active listings of the (market, collection)
	// pair whose market listing id is not in seen, and returns them.
	DeactivateUnseen(ctx context.Context, marketID, collectionID int64, seen []string) ([]Listing, error)
	// DeactivateStale retires active listings last seen before cutoff.
	DeactivateStale(ctx context.Context, cutoff time.Time) ([]Listing, error)
	ListActiveByItem(ctx context.Context, itemID int64) ([]Listing, error)
	// ListInactiveBefore returns retired listings last updated before cutoff.
	ListInactiveBefore(ctx context.Context, cutoff time.Time) ([]Listing, error)
}

// SaleStore persists completed sales.
type SaleStore interface {
	// InsertBatch inserts sales, skipping tx hashes already recorded, and
	// returns the number of new rows.
	InsertBatch(ctx context.Context, sales []Sale) (int, error)
	ListBefore(ctx context.Context, cutoff time.Time) ([]Sale, error)
}

// Audit events written by the job worker and the archiver.
const (
	AuditJobFinished = "job_finished"
	AuditArchive     = "archive"
)

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditFilter selects recent audit entries. Zero fields match everything;
// Limit is clamped by the store.
type AuditFilter struct {
	Event string
	Since *time.Time
	Limit int
}

// AuditStore persists an append-only audit log of operator-visible runs.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	// Recent returns matching entries, newest first.
	Recent(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}
