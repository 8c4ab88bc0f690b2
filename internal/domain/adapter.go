package domain

import (
	"context"
	"time"
)

// MarketAdapter is the capability set every marketplace integration
// implements. Adapters differ only in wire parsing and auth.
type MarketAdapter interface {
	// Slug is the market identity the adapter reports listings under.
	Slug() string

	// FetchCollectionListings returns up to limit active listings.
	FetchCollectionListings(ctx context.Context, collection string, limit int) ([]NormalizedListing, error)

	// IterateCollectionListings pages through the collection lazily.
	IterateCollectionListings(ctx context.Context, collection string, batchSize int) ListingIterator

	// FetchItemListing returns the item's active listing, or nil when the
	// item is not listed on this market.
	FetchItemListing(ctx context.Context, itemAddress string) (*NormalizedListing, error)

	// FetchSalesHistory returns recent completed sales. Adapters without a
	// sales source return an empty slice.
	FetchSalesHistory(ctx context.Context, q SalesQuery) ([]NormalizedSale, error)

	// Close releases adapter-owned resources. Safe to call more than once.
	Close() error
}

// ListingIterator yields listings page by page. Next returns ErrIteratorDone
// once the upstream is exhausted. Position is the offset or cursor of the
// next page and can be used to restart iteration.
type ListingIterator interface {
	Next(ctx context.Context) ([]NormalizedListing, error)
	Position() string
}

// SalesQuery selects a sales history window.
type SalesQuery struct {
	Collection  string
	ItemAddress string
	Limit       int
	Since       *time.Time
}
