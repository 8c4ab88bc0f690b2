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

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

var _ domain.MarketStore = (*MarketStore)(nil)

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, slug, name, website_url, api_base_url,
	fee_buy_percent, fee_sell_percent, is_active, priority, config,
	created_at, updated_at`

// Upsert inserts a market or refreshes its descriptive columns. is_active is
// left alone on conflict so an operator's toggle survives a re-seed.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) (domain.Market, error) {
	cfg := m.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: marshal market config %s: %w", m.Slug, err)
	}

	query := `
		INSERT INTO markets (
			slug, name, website_url, api_base_url,
			fee_buy_percent, fee_sell_percent, is_active, priority, config
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (slug) DO UPDATE SET
			name             = EXCLUDED.name,
			website_url      = EXCLUDED.website_url,
			api_base_url     = EXCLUDED.api_base_url,
			fee_buy_percent  = EXCLUDED.fee_buy_percent,
			fee_sell_percent = EXCLUDED.fee_sell_percent,
			priority         = EXCLUDED.priority,
			config           = EXCLUDED.config,
			updated_at       = NOW()
		RETURNING ` + marketCols

	row := s.pool.QueryRow(ctx, query,
		m.Slug, m.Name, m.WebsiteURL, m.APIBaseURL,
		m.FeeBuyPercent, m.FeeSellPercent, m.IsActive, m.Priority, cfgJSON,
	)
	out, err := scanMarket(row)
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: upsert market %s: %w", m.Slug, err)
	}
	return out, nil
}

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var cfgJSON []byte
	err := row.Scan(
		&m.ID, &m.Slug, &m.Name, &m.WebsiteURL, &m.APIBaseURL,
		&m.FeeBuyPercent, &m.FeeSellPercent, &m.IsActive, &m.Priority, &cfgJSON,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	if len(cfgJSON) > 0 {
		if err := json.Unmarshal(cfgJSON, &m.Config); err != nil {
			return domain.Market{}, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	return m, nil
}

// GetBySlug retrieves a market by its slug.
func (s *MarketStore) GetBySlug(ctx context.Context, slug string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE slug = $1`, slug)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market by slug %s: %w", slug, err)
	}
	return m, nil
}

// ListActive returns active markets by priority DESC, slug ASC.
func (s *MarketStore) ListActive(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets WHERE is_active ORDER BY priority DESC, slug ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan active market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active markets rows: %w", err)
	}
	return markets, nil
}
