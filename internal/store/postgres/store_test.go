package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

// testDSNEnv points the store tests at a disposable PostgreSQL database. The
// tests skip when it is unset.
const testDSNEnv = "GIFTAGG_TEST_POSTGRES_DSN"

type testDB struct {
	pool        *pgxpool.Pool
	markets     *MarketStore
	collections *CollectionStore
	items       *ItemStore
	listings    *ListingStore
	sales       *SaleStore
	audit       *AuditStore
}

// newTestDB migrates a fresh schema and drops it when the test ends.
func newTestDB(t *testing.T) *testDB {
	t.Helper()
	dsn := os.Getenv(testDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", testDSNEnv)
	}
	ctx := context.Background()

	admin, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	schema := "giftagg_test_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	c, err := New(ctx, ClientConfig{DSN: dsn + sep + "search_path=" + schema})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	if err := c.RunMigrations(ctx); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	// A second run must be a no-op.
	if err := c.RunMigrations(ctx); err != nil {
		t.Fatalf("RunMigrations again: %v", err)
	}

	p := c.Pool()
	return &testDB{
		pool:        p,
		markets:     NewMarketStore(p),
		collections: NewCollectionStore(p),
		items:       NewItemStore(p),
		listings:    NewListingStore(p),
		sales:       NewSaleStore(p),
		audit:       NewAuditStore(p),
	}
}

func (db *testDB) market(t *testing.T, slug string, priority int) domain.Market {
	t.Helper()
	m, err := db.markets.Upsert(context.Background(), domain.Market{Slug: slug, Name: slug, Priority: priority, IsActive: true})
	if err != nil {
		t.Fatalf("market %s: %v", slug, err)
	}
	return m
}

func (db *testDB) upsert(t *testing.T, m domain.Market, colID, itemID int64, id, price string) domain.UpsertResult {
	t.Helper()
	p := decimal.RequireFromString(price)
	res, err := db.listings.Upsert(context.Background(), domain.ListingUpsert{
		ItemID: itemID, CollectionID: colID, MarketID: m.ID,
		Listing: domain.NormalizedListing{
			MarketSlug: m.Slug, MarketListingID: id, ItemAddress: "unused",
			PriceRaw: p, Currency: domain.CurrencyTON, PriceTon: p, Status: domain.ListingActive,
		},
	})
	if err != nil {
		t.Fatalf("upsert %s/%s: %v", m.Slug, id, err)
	}
	return res
}

func (db *testDB) recompute(t *testing.T, itemID int64) domain.SummaryChange {
	t.Helper()
	ch, err := db.items.RecomputeSummary(context.Background(), itemID)
	if err != nil {
		t.Fatalf("RecomputeSummary: %v", err)
	}
	return ch
}

func summaryString(s domain.ItemSummary) string {
	if !s.IsOnSale {
		return "off sale"
	}
	return fmt.Sprintf("%s@%s", s.LowestPriceTon.String(), *s.LowestPriceMarket)
}

func seedItem(t *testing.T, db *testDB) (domain.Collection, int64) {
	t.Helper()
	ctx := context.Background()
	col, err := db.collections.Upsert(ctx, domain.Collection{Address: "EQcol", Name: "Plush Pepe", IsActive: true})
	if err != nil {
		t.Fatalf("collection: %v", err)
	}
	id, err := db.items.Resolve(ctx, col.ID, domain.ItemSeed{Address: "EQitem", Name: "Plush Pepe #1"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return col, id
}

func TestLowestPriceLifecycleAcrossMarkets(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a, b, c := db.market(t, "getgems", 100), db.market(t, "fragment", 90), db.market(t, "tonnel", 80)
	col, item := seedItem(t, db)

	db.upsert(t, a, col.ID, item, "a1", "10")
	db.upsert(t, b, col.ID, item, "b1", "8")
	db.upsert(t, c, col.ID, item, "c1", "12")
	ch := db.recompute(t, item)
	if got := summaryString(ch.After); got != "8@fragment" || ch.Before.IsOnSale {
		t.Fatalf("after listing = %s (before %s), want 8@fragment from off sale", got, summaryString(ch.Before))
	}

	gone, err := db.listings.DeactivateUnseen(ctx, b.ID, col.ID, nil)
	if err != nil {
		t.Fatalf("DeactivateUnseen: %v", err)
	}
	if len(gone) != 1 || gone[0].MarketListingID != "b1" || gone[0].MarketSlug != "fragment" || gone[0].IsActive {
		t.Fatalf("deactivated = %+v", gone)
	}
	if got := summaryString(db.recompute(t, item).After); got != "10@getgems" {
		t.Errorf("after B leaves = %s, want 10@getgems", got)
	}

	active, err := db.listings.ListActiveByItem(ctx, item)
	if err != nil {
		t.Fatalf("ListActiveByItem: %v", err)
	}
	if len(active) != 2 || active[0].MarketSlug != "getgems" || active[1].MarketSlug != "tonnel" {
		t.Errorf("active = %+v", active)
	}

	for _, m := range []domain.Market{a, c} {
		if _, err := db.listings.DeactivateUnseen(ctx, m.ID, col.ID, []string{}); err != nil {
			t.Fatalf("DeactivateUnseen: %v", err)
		}
	}
	ch = db.recompute(t, item)
	if got := summaryString(ch.After); got != "off sale" {
		t.Errorf("after all leave = %s, want off sale", got)
	}

	it, err := db.items.GetByID(ctx, item)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if it.Summary.IsOnSale || it.Summary.LowestPriceTon != nil || it.Name != "Plush Pepe #1" {
		t.Errorf("stored item = %+v", it)
	}
}

func TestUpsertReportsInsertAndPreviousPrice(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	m := db.market(t, "getgems", 100)
	col, item := seedItem(t, db)

	first := db.upsert(t, m, col.ID, item, "g1", "5")
	if !first.Inserted || first.WasActive || first.PrevPriceTon != nil {
		t.Errorf("first upsert = %+v, want inserted with no previous price", first)
	}

	second := db.upsert(t, m, col.ID, item, "g1", "4.5")
	if second.Inserted || !second.WasActive || second.ListingID != first.ListingID {
		t.Errorf("second upsert = %+v", second)
	}
	if second.PrevPriceTon == nil || !second.PrevPriceTon.Equal(decimal.RequireFromString("5")) {
		t.Errorf("PrevPriceTon = %v, want 5", second.PrevPriceTon)
	}

	var n int
	if err := db.pool.QueryRow(ctx, "SELECT count(*) FROM listings WHERE market_listing_id = 'g1'").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("rows for g1 = %d, want 1", n)
	}

	if _, err := db.listings.DeactivateUnseen(ctx, m.ID, col.ID, []string{}); err != nil {
		t.Fatal(err)
	}
	back := db.upsert(t, m, col.ID, item, "g1", "4.5")
	if back.Inserted || back.WasActive {
		t.Errorf("reappearing upsert = %+v, want an update of an inactive row", back)
	}
}

func TestDeactivateUnseenKeepsSeenAndOtherPairs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	g, f := db.market(t, "getgems", 100), db.market(t, "fragment", 90)
	col, item := seedItem(t, db)

	db.upsert(t, g, col.ID, item, "g1", "1")
	db.upsert(t, g, col.ID, item, "g2", "2")
	db.upsert(t, f, col.ID, item, "f1", "3")

	gone, err := db.listings.DeactivateUnseen(ctx, g.ID, col.ID, []string{"g2"})
	if err != nil {
		t.Fatalf("DeactivateUnseen: %v", err)
	}
	if len(gone) != 1 || gone[0].MarketListingID != "g1" {
		t.Errorf("deactivated = %+v, want g1 only", gone)
	}
	active, _ := db.listings.ListActiveByItem(ctx, item)
	if len(active) != 2 {
		t.Errorf("active = %d, want g2 and f1", len(active))
	}

	stale, err := db.listings.DeactivateStale(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DeactivateStale: %v", err)
	}
	if len(stale) != 2 {
		t.Errorf("stale = %d, want 2", len(stale))
	}
	old, err := db.listings.ListInactiveBefore(ctx, time.Now().Add(time.Hour))
	if err != nil || len(old) != 3 {
		t.Errorf("ListInactiveBefore = %d, %v; want 3", len(old), err)
	}
}

func TestRecomputeTieGoesToPriority(t *testing.T) {
	db := newTestDB(t)
	low, high := db.market(t, "tonnel", 80), db.market(t, "getgems", 100)
	col, item := seedItem(t, db)

	db.upsert(t, low, col.ID, item, "t1", "7")
	db.upsert(t, high, col.ID, item, "g1", "7")
	if got := summaryString(db.recompute(t, item).After); got != "7@getgems" {
		t.Errorf("tie = %s, want 7@getgems", got)
	}
	if ch := db.recompute(t, item); ch.Changed() {
		t.Errorf("second recompute changed %s -> %s", summaryString(ch.Before), summaryString(ch.After))
	}
	if _, err := db.items.RecomputeSummary(context.Background(), 999999); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing item = %v, want ErrNotFound", err)
	}
}

func TestSalesDeduplicateByTxHash(t *testing.T) {
	db := newTestDB(t)
	m := db.market(t, "getgems", 100)
	sale := domain.Sale{
		MarketID: m.ID, ItemAddress: "EQitem", PriceRaw: decimal.NewFromInt(3), PriceTon: decimal.NewFromInt(3),
		Currency: domain.CurrencyTON, TxHash: "tx1", SoldAt: time.Now().Add(-time.Hour),
	}
	n, err := db.sales.InsertBatch(context.Background(), []domain.Sale{sale, sale})
	if err != nil || n != 1 {
		t.Errorf("InsertBatch = %d, %v; want 1", n, err)
	}
	before, err := db.sales.ListBefore(context.Background(), time.Now())
	if err != nil || len(before) != 1 {
		t.Errorf("ListBefore = %d, %v", len(before), err)
	}
}

func TestAuditRecentFilters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := db.audit.Log(ctx, domain.AuditJobFinished, map[string]any{"n": i}); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
	if err := db.audit.Log(ctx, domain.AuditArchive, nil); err != nil {
		t.Fatalf("Log: %v", err)
	}

	jobs, err := db.audit.Recent(ctx, domain.AuditFilter{Event: domain.AuditJobFinished, Limit: 2})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(jobs) != 2 || jobs[0].Detail["n"] != float64(2) {
		t.Errorf("recent jobs = %+v, want the newest two", jobs)
	}

	future := time.Now().Add(time.Hour)
	if got, _ := db.audit.Recent(ctx, domain.AuditFilter{Since: &future}); len(got) != 0 {
		t.Errorf("future since = %d entries", len(got))
	}
	if all, _ := db.audit.Recent(ctx, domain.AuditFilter{}); len(all) != 4 {
		t.Errorf("all = %d entries, want 4", len(all))
	}
}
