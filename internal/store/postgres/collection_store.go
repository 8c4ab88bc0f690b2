package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

// CollectionStore implements domain.CollectionStore using PostgreSQL.
type CollectionStore struct {
	pool *pgxpool.Pool
}

var _ domain.CollectionStore = (*CollectionStore)(nil)

// NewCollectionStore creates a new CollectionStore.
func NewCollectionStore(pool *pgxpool.Pool) *CollectionStore {
	return &CollectionStore{pool: pool}
}

const collectionCols = `id, address, name, is_active, created_at`

func scanCollection(row pgx.Row) (domain.Collection, error) {
	var c domain.Collection
	err := row.Scan(&c.ID, &c.Address, &c.Name, &c.IsActive, &c.CreatedAt)
	return c, err
}

// Upsert inserts a collection or refreshes its name. A blank name never
// overwrites a known one.
func (s *CollectionStore) Upsert(ctx context.Context, c domain.Collection) (domain.Collection, error) {
	query := `
		INSERT INTO collections (address, name, is_active)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), collections.name)
		RETURNING ` + collectionCols

	out, err := scanCollection(s.pool.QueryRow(ctx, query, c.Address, c.Name, c.IsActive))
	if err != nil {
		return domain.Collection{}, fmt.Errorf("postgres: upsert collection %s: %w", c.Address, err)
	}
	return out, nil
}

// GetByAddress retrieves a collection by its contract address.
func (s *CollectionStore) GetByAddress(ctx context.Context, address string) (domain.Collection, error) {
	c, err := scanCollection(s.pool.QueryRow(ctx,
		`SELECT `+collectionCols+` FROM collections WHERE address = $1`, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Collection{}, domain.ErrNotFound
		}
		return domain.Collection{}, fmt.Errorf("postgres: get collection %s: %w", address, err)
	}
	return c, nil
}

// ListActive returns active collections ordered by id.
func (s *CollectionStore) ListActive(ctx context.Context) ([]domain.Collection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+collectionCols+` FROM collections WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active collections: %w", err)
	}
	defer rows.Close()

	var out []domain.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan collection: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active collections rows: %w", err)
	}
	return out, nil
}
