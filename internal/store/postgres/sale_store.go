package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

// SaleStore implements domain.SaleStore using PostgreSQL.
type SaleStore struct {
	pool *pgxpool.Pool
}

var _ domain.SaleStore = (*SaleStore)(nil)

// NewSaleStore creates a new SaleStore.
func NewSaleStore(pool *pgxpool.Pool) *SaleStore {
	return &SaleStore{pool: pool}
}

// InsertBatch inserts sales in one batch. Rows whose tx hash is already
// stored are skipped; sales without a hash are always inserted.
func (s *SaleStore) InsertBatch(ctx context.Context, sales []domain.Sale) (int, error) {
	if len(sales) == 0 {
		return 0, nil
	}

	const query = `
		INSERT INTO sales (
			item_id, collection_id, market_id, item_address, item_name,
			price_raw, currency, price_ton, buyer_address, seller_address,
			tx_hash, tx_lt, sold_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13)
		ON CONFLICT (tx_hash) DO NOTHING`

	batch := &pgx.Batch{}
	for _, sl := range sales {
		batch.Queue(query,
			sl.ItemID, sl.CollectionID, sl.MarketID, sl.ItemAddress, sl.ItemName,
			sl.PriceRaw, string(sl.Currency), sl.PriceTon, sl.BuyerAddress, sl.SellerAddress,
			sl.TxHash, sl.TxLt, sl.SoldAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for i := range sales {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("postgres: insert sale batch item %d: %w", i, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ListBefore returns sales completed before cutoff, oldest first.
func (s *SaleStore) ListBefore(ctx context.Context, cutoff time.Time) ([]domain.Sale, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, item_id, collection_id, market_id, item_address, item_name,
		       price_raw, currency, price_ton, buyer_address, seller_address,
		       COALESCE(tx_hash, ''), tx_lt, sold_at, created_at
		FROM sales WHERE sold_at < $1 ORDER BY sold_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sales before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var out []domain.Sale
	for rows.Next() {
		var sl domain.Sale
		var currency string
		if err := rows.Scan(
			&sl.ID, &sl.ItemID, &sl.CollectionID, &sl.MarketID, &sl.ItemAddress, &sl.ItemName,
			&sl.PriceRaw, &currency, &sl.PriceTon, &sl.BuyerAddress, &sl.SellerAddress,
			&sl.TxHash, &sl.TxLt, &sl.SoldAt, &sl.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan sale: %w", err)
		}
		sl.Currency = domain.Currency(currency)
		out = append(out, sl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list sales rows: %w", err)
	}
	return out, nil
}
