package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

// ItemStore implements domain.ItemStore using PostgreSQL.
type ItemStore struct {
	pool *pgxpool.Pool
}

var _ domain.ItemStore = (*ItemStore)(nil)

// NewItemStore creates a new ItemStore.
func NewItemStore(pool *pgxpool.Pool) *ItemStore {
	return &ItemStore{pool: pool}
}

// Resolve upserts the item by address and returns its id. Known metadata is
// only replaced by non-empty values.
func (s *ItemStore) Resolve(ctx context.Context, collectionID int64, seed domain.ItemSeed) (int64, error) {
	const query = `
		INSERT INTO items (address, collection_id, item_index, name, image_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address) DO UPDATE SET
			name       = COALESCE(NULLIF(EXCLUDED.name, ''), items.name),
			image_url  = COALESCE(NULLIF(EXCLUDED.image_url, ''), items.image_url),
			item_index = COALESCE(items.item_index, EXCLUDED.item_index)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		seed.Address, collectionID, seed.Index, seed.Name, seed.ImageURL,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: resolve item %s: %w", seed.Address, err)
	}
	return id, nil
}

// GetByID retrieves an item with its summary.
func (s *ItemStore) GetByID(ctx context.Context, id int64) (domain.Item, error) {
	const query = `
		SELECT id, address, collection_id, item_index, name, image_url, attributes,
		       is_on_sale, lowest_price_ton, lowest_price_market, created_at, updated_at
		FROM items WHERE id = $1`

	var it domain.Item
	var attrs []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&it.ID, &it.Address, &it.CollectionID, &it.Index, &it.Name, &it.ImageURL, &attrs,
		&it.Summary.IsOnSale, &it.Summary.LowestPriceTon, &it.Summary.LowestPriceMarket,
		&it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Item{}, domain.ErrNotFound
		}
		return domain.Item{}, fmt.Errorf("postgres: get item %d: %w", id, err)
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &it.Attributes); err != nil {
			return domain.Item{}, fmt.Errorf("postgres: unmarshal item %d attributes: %w", id, err)
		}
	}
	return it, nil
}

// RecomputeSummary locks the item row, re-reads its active listings and
// writes the lowest price. Concurrent recomputes of the same item serialize
// on the row lock, so the last writer always sees every committed listing.
func (s *ItemStore) RecomputeSummary(ctx context.Context, itemID int64) (domain.SummaryChange, error) {
	change := domain.SummaryChange{ItemID: itemID}

	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT collection_id, is_on_sale, lowest_price_ton, lowest_price_market
			FROM items WHERE id = $1 FOR UPDATE`, itemID,
		).Scan(&change.CollectionID, &change.Before.IsOnSale,
			&change.Before.LowestPriceTon, &change.Before.LowestPriceMarket)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("postgres: lock item %d: %w", itemID, err)
		}

		rows, err := tx.Query(ctx, `
			SELECT l.price_ton, m.slug, m.priority
			FROM listings l
			JOIN markets m ON m.id = l.market_id
			WHERE l.item_id = $1 AND l.is_active
			ORDER BY m.priority DESC, m.slug ASC`, itemID)
		if err != nil {
			return fmt.Errorf("postgres: active quotes for item %d: %w", itemID, err)
		}
		quotes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ActiveQuote, error) {
			var q domain.ActiveQuote
			err := row.Scan(&q.PriceTon, &q.MarketSlug, &q.MarketPriority)
			return q, err
		})
		if err != nil {
			return fmt.Errorf("postgres: scan quotes for item %d: %w", itemID, err)
		}

		change.After = domain.LowestQuote(quotes)
		if !change.Changed() {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE items
			SET is_on_sale = $2, lowest_price_ton = $3, lowest_price_market = $4, updated_at = NOW()
			WHERE id = $1`,
			itemID, change.After.IsOnSale, change.After.LowestPriceTon, change.After.LowestPriceMarket)
		if err != nil {
			return fmt.Errorf("postgres: update summary of item %d: %w", itemID, err)
		}
		return nil
	})
	if err != nil {
		return domain.SummaryChange{}, err
	}
	return change, nil
}
