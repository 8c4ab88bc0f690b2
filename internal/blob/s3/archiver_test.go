package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/giftagg/internal/domain"
)

type captureWriter struct {
	batches []domain.ArchiveBatch
}

func (w *captureWriter) PutArchive(_ context.Context, b domain.ArchiveBatch) (string, error) {
	w.batches = append(w.batches, b)
	return ObjectKey("archive", b.Kind, b.Cutoff, false), nil
}

type stubListings []domain.Listing

func (s stubListings) ListInactiveBefore(context.Context, time.Time) ([]domain.Listing, error) {
	return s, nil
}

type stubSales []domain.Sale

func (s stubSales) ListBefore(context.Context, time.Time) ([]domain.Sale, error) {
	return s, nil
}

func TestArchiveListingsWritesJSONL(t *testing.T) {
	w := &captureWriter{}
	rows := stubListings{
		{ID: 1, ItemID: 5, MarketSlug: "getgems", MarketListingID: "g1", PriceTon: decimal.RequireFromString("12.5"), Currency: domain.CurrencyTON},
		{ID: 2, ItemID: 6, MarketSlug: "fragment", MarketListingID: "f1", PriceTon: decimal.RequireFromString("3"), Currency: domain.CurrencyTON},
	}
	a := NewArchiver(w, rows, stubSales{})
	cutoff := time.Date(2025, 1, 15, 3, 0, 0, 0, time.UTC)

	n, err := a.ArchiveListings(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveListings: %v", err)
	}
	if n != 2 || len(w.batches) != 1 {
		t.Fatalf("n = %d, batches = %d; want 2 rows in one object", n, len(w.batches))
	}
	b := w.batches[0]
	if b.Kind != "listings" || b.Rows != 2 || !b.Cutoff.Equal(cutoff) {
		t.Errorf("batch = %s/%d/%v", b.Kind, b.Rows, b.Cutoff)
	}

	sc := bufio.NewScanner(bytes.NewReader(b.JSONL))
	var lines []map[string]any
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		lines = append(lines, m)
	}
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[0]["price_ton"] != "12.5" || lines[0]["market"] != "getgems" {
		t.Errorf("first line = %v", lines[0])
	}
}

func TestArchiveSkipsEmpty(t *testing.T) {
	w := &captureWriter{}
	a := NewArchiver(w, stubListings{}, stubSales{})
	n, err := a.ArchiveSales(context.Background(), time.Now())
	if err != nil || n != 0 || len(w.batches) != 0 {
		t.Errorf("ArchiveSales = %d, %v with %d batches; want a no-op", n, err, len(w.batches))
	}
}

func TestArchiveSalesBatch(t *testing.T) {
	w := &captureWriter{}
	a := NewArchiver(w, stubListings{}, stubSales{{ID: 1, TxHash: "abc", PriceTon: decimal.NewFromInt(4)}})
	if _, err := a.ArchiveSales(context.Background(), time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("ArchiveSales: %v", err)
	}
	if b := w.batches[0]; b.Kind != "sales" || b.Rows != 1 || !bytes.Contains(b.JSONL, []byte(`"tx_hash":"abc"`)) {
		t.Errorf("batch = %s/%d %s", b.Kind, b.Rows, b.JSONL)
	}
}
