package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL.
type ListingStore struct {
	pool *pgxpool.Pool
}

var _ domain.ListingStore = (*ListingStore)(nil)

// NewListingStore creates a new ListingStore.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

// listingCols expects listings aliased as l and markets as m.
const listingCols = `l.id, l.item_id, l.collection_id, l.market_id, m.slug, l.market_listing_id,
	l.price_raw, l.currency, l.price_ton, l.seller_address, l.listing_url, l.is_active,
	l.listed_at, l.expires_at, l.first_seen_at, l.last_seen_at, l.updated_at`

func scanListing(row pgx.Row) (domain.Listing, error) {
	var l domain.Listing
	var currency string
	err := row.Scan(
		&l.ID, &l.ItemID, &l.CollectionID, &l.MarketID, &l.MarketSlug, &l.MarketListingID,
		&l.PriceRaw, &currency, &l.PriceTon, &l.SellerAddress, &l.ListingURL, &l.IsActive,
		&l.ListedAt, &l.ExpiresAt, &l.FirstSeenAt, &l.LastSeenAt, &l.UpdatedAt,
	)
	l.Currency = domain.Currency(currency)
	return l, err
}

func collectListings(rows pgx.Rows, op string) ([]domain.Listing, error) {
	defer rows.Close()
	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing (%s): %w", op, err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}

// Upsert writes one listing keyed by (market_id, market_listing_id). The prev
// CTE reads the pre-statement snapshot, so the previous price and active flag
// come back in the same round trip. xmax = 0 only holds for freshly inserted
// tuples.
func (s *ListingStore) Upsert(ctx context.Context, u domain.ListingUpsert) (domain.UpsertResult, error) {
	const query = `
		WITH prev AS (
			SELECT price_ton, is_active FROM listings
			WHERE market_id = $1 AND market_listing_id = $2
		)
		INSERT INTO listings (
			market_id, market_listing_id, item_id, collection_id,
			price_raw, currency, price_ton, seller_address, listing_url,
			listed_at, expires_at, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE)
		ON CONFLICT (market_id, market_listing_id) DO UPDATE SET
			item_id        = EXCLUDED.item_id,
			collection_id  = EXCLUDED.collection_id,
			price_raw      = EXCLUDED.price_raw,
			currency       = EXCLUDED.currency,
			price_ton      = EXCLUDED.price_ton,
			seller_address = EXCLUDED.seller_address,
			listing_url    = EXCLUDED.listing_url,
			listed_at      = COALESCE(EXCLUDED.listed_at, listings.listed_at),
			expires_at     = EXCLUDED.expires_at,
			is_active      = TRUE,
			last_seen_at   = NOW(),
			updated_at     = NOW()
		RETURNING id, (xmax = 0),
			(SELECT price_ton FROM prev),
			COALESCE((SELECT is_active FROM prev), FALSE)`

	l := u.Listing
	var res domain.UpsertResult
	err := s.pool.QueryRow(ctx, query,
		u.MarketID, l.MarketListingID, u.ItemID, u.CollectionID,
		l.PriceRaw, string(l.Currency), l.PriceTon, l.SellerAddress, l.ListingURL,
		l.ListedAt, l.ExpiresAt,
	).Scan(&res.ListingID, &res.Inserted, &res.PrevPriceTon, &res.WasActive)
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("postgres: upsert listing %s/%s: %w", l.MarketSlug, l.MarketListingID, err)
	}
	return res, nil
}

// DeactivateUnseen retires the pair's active listings missing from seen.
func (s *ListingStore) DeactivateUnseen(ctx context.Context, marketID, collectionID int64, seen []string) ([]domain.Listing, error) {
	if seen == nil {
		// A NULL array would match nothing.
		seen = []string{}
	}
	rows, err := s.pool.Query(ctx, `
		UPDATE listings l SET is_active = FALSE, updated_at = NOW()
		FROM markets m
		WHERE m.id = l.market_id
		  AND l.market_id = $1 AND l.collection_id = $2 AND l.is_active
		  AND NOT (l.market_listing_id = ANY($3))
		RETURNING `+listingCols,
		marketID, collectionID, seen)
	if err != nil {
		return nil, fmt.Errorf("postgres: deactivate unseen (market %d, collection %d): %w", marketID, collectionID, err)
	}
	return collectListings(rows, "deactivate unseen")
}

// DeactivateStale retires active listings last seen before cutoff.
func (s *ListingStore) DeactivateStale(ctx context.Context, cutoff time.Time) ([]domain.Listing, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE listings l SET is_active = FALSE, updated_at = NOW()
		FROM markets m
		WHERE m.id = l.market_id AND l.is_active AND l.last_seen_at < $1
		RETURNING `+listingCols, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: deactivate stale: %w", err)
	}
	return collectListings(rows, "deactivate stale")
}

// ListActiveByItem returns the item's active listings, cheapest first.
func (s *ListingStore) ListActiveByItem(ctx context.Context, itemID int64) ([]domain.Listing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+listingCols+`
		FROM listings l JOIN markets m ON m.id = l.market_id
		WHERE l.item_id = $1 AND l.is_active
		ORDER BY l.price_ton ASC, m.priority DESC, m.slug ASC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active listings of item %d: %w", itemID, err)
	}
	return collectListings(rows, "list active by item")
}

// ListInactiveBefore returns retired listings last updated before cutoff.
func (s *ListingStore) ListInactiveBefore(ctx context.Context, cutoff time.Time) ([]domain.Listing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+listingCols+`
		FROM listings l JOIN markets m ON m.id = l.market_id
		WHERE NOT l.is_active AND l.updated_at < $1
		ORDER BY l.id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: list inactive listings: %w", err)
	}
	return collectListings(rows, "list inactive before")
}
