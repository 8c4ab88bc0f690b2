package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

func sale(tx, item, price string) domain.NormalizedSale {
	p := ton(price)
	return domain.NormalizedSale{
		ItemAddress: item,
		PriceRaw:    p,
		Currency:    domain.CurrencyTON,
		PriceTon:    p,
		TxHash:      tx,
		SoldAt:      time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestSalesSyncDedupesByTxHash(t *testing.T) {
	f := newFixture(OrchestratorConfig{})
	f.getgems.sales[testCollection] = []domain.NormalizedSale{
		sale("tx-a", "EQa", "12"),
		sale("tx-a", "EQa", "12"),
		sale("tx-b", "EQb", "4.5"),
		sale("tx-c", "", "1"),
		sale("tx-d", "EQd", "0"),
	}
	s := NewSalesSyncer(f.db.stores(), map[string]domain.MarketAdapter{"getgems": f.getgems}, 0, nil)
	if s.limit != DefaultSalesLimit {
		t.Errorf("limit = %d, want default", s.limit)
	}

	stats, err := s.Run(context.Background(), RunRequest{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := stats.Details["getgems"].Sales; got != 2 {
		t.Errorf("sales = %d, want 2", got)
	}
	if it := f.db.item("EQb"); it.ID == 0 || it.CollectionID != 10 {
		t.Errorf("item for sale = %+v, want resolved into collection 10", it)
	}
	if it := f.db.item("EQd"); it.ID != 0 {
		t.Error("item resolved for a zero-price sale")
	}

	stats, err = s.Run(context.Background(), RunRequest{})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if got := stats.Details["getgems"].Sales; got != 0 {
		t.Errorf("second run sales = %d, want 0", got)
	}
}

func TestOrchestratorRunsSalesAfterListings(t *testing.T) {
	f := newFixture(OrchestratorConfig{})
	f.getgems.set(testCollection, listing("g1", "EQa", "10"))
	f.getgems.sales[testCollection] = []domain.NormalizedSale{sale("tx-a", "EQa", "9")}
	f.orch.WithSales(NewSalesSyncer(f.db.stores(), nil, 10, nil))

	stats := runOK(t, f, RunRequest{Market: "getgems"})
	if d := stats.Details["getgems"]; d.Sales != 1 || d.Inserted != 1 {
		t.Errorf("detail = %+v, want 1 sale and 1 listing", d)
	}
	if stats.Counts["getgems"] != 1 {
		t.Errorf("counts = %v, sales must not count as listings", stats.Counts)
	}
}
