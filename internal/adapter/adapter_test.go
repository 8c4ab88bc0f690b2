package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/giftagg/internal/config"
	"github.com/alanyoungcy/giftagg/internal/domain"
	"github.com/alanyoungcy/giftagg/internal/httpx"
)

func listings(from, n int) []domain.NormalizedListing {
	out := make([]domain.NormalizedListing, 0, n)
	for i := from; i < from+n; i++ {
		out = append(out, domain.NormalizedListing{
			MarketListingID: strconv.Itoa(i),
			ItemAddress:     "EQ" + strconv.Itoa(i),
			PriceTon:        decimal.NewFromInt(1),
		})
	}
	return out
}

// offsetSource serves total listings in offset pages.
func offsetSource(total int, calls *int) PageFunc {
	return func(ctx context.Context, pos string, batch int) (Page, error) {
		*calls++
		off := OffsetPosition(pos)
		n := batch
		if off+n > total {
			n = total - off
		}
		if n < 0 {
			n = 0
		}
		return OffsetPage(listings(off, n), off, n, batch), nil
	}
}

func TestPageIteratorOffsetPaging(t *testing.T) {
	calls := 0
	it := NewPageIterator(offsetSource(25, &calls), "", 10)

	got, err := Drain(context.Background(), it, 0)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != 25 {
		t.Errorf("len = %d, want 25", len(got))
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if _, err := it.Next(context.Background()); !errors.Is(err, domain.ErrIteratorDone) {
		t.Errorf("Next after end = %v, want ErrIteratorDone", err)
	}
}

func TestPageIteratorExactMultipleStopsOnEmptyPage(t *testing.T) {
	calls := 0
	it := NewPageIterator(offsetSource(20, &calls), "", 10)

	got, err := Drain(context.Background(), it, 0)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != 20 {
		t.Errorf("len = %d, want 20", len(got))
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestPageIteratorRestartsFromPosition(t *testing.T) {
	calls := 0
	it := NewPageIterator(offsetSource(30, &calls), "", 10)
	if _, err := it.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}
	pos := it.Position()
	if pos != "10" {
		t.Fatalf("Position = %q, want 10", pos)
	}

	resumed := NewPageIterator(offsetSource(30, &calls), pos, 10)
	batch, err := resumed.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if batch[0].MarketListingID != "10" {
		t.Errorf("first id = %s, want 10", batch[0].MarketListingID)
	}
}

func TestPageIteratorErrorKeepsPosition(t *testing.T) {
	fail := true
	it := NewPageIterator(func(ctx context.Context, pos string, batch int) (Page, error) {
		if fail {
			return Page{}, errors.New("boom")
		}
		return Page{Listings: listings(0, 1), Done: true}, nil
	}, "cursor-1", 10)

	if _, err := it.Next(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if it.Position() != "cursor-1" {
		t.Errorf("Position = %q, want cursor-1", it.Position())
	}
	fail = false
	if batch, err := it.Next(context.Background()); err != nil || len(batch) != 1 {
		t.Errorf("retry = %d, %v", len(batch), err)
	}
}

func TestDrainRespectsMax(t *testing.T) {
	calls := 0
	it := NewPageIterator(offsetSource(100, &calls), "", 10)
	got, err := Drain(context.Background(), it, 15)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != 15 {
		t.Errorf("len = %d, want 15", len(got))
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestIterateFromFetch(t *testing.T) {
	it := IterateFromFetch(func(ctx context.Context, limit int) ([]domain.NormalizedListing, error) {
		return listings(0, limit), nil
	}, 3)
	got, err := Drain(context.Background(), it, 0)
	if err != nil || len(got) != 3 {
		t.Fatalf("Drain = %d, %v; want 3, nil", len(got), err)
	}
}

type stubAdapter struct {
	slug   string
	closed int
}

func (s *stubAdapter) Slug() string { return s.slug }
func (s *stubAdapter) FetchCollectionListings(context.Context, string, int) ([]domain.NormalizedListing, error) {
	return nil, nil
}
func (s *stubAdapter) IterateCollectionListings(context.Context, string, int) domain.ListingIterator {
	return IterateFromFetch(func(context.Context, int) ([]domain.NormalizedListing, error) { return nil, nil }, 0)
}
func (s *stubAdapter) FetchItemListing(context.Context, string) (*domain.NormalizedListing, error) {
	return nil, nil
}
func (s *stubAdapter) FetchSalesHistory(context.Context, domain.SalesQuery) ([]domain.NormalizedSale, error) {
	return nil, nil
}
func (s *stubAdapter) Close() error { s.closed++; return nil }

func TestRegistryBuild(t *testing.T) {
	var built []*stubAdapter
	ctor := func(d Deps) (domain.MarketAdapter, error) {
		a := &stubAdapter{slug: d.Slug}
		built = append(built, a)
		return a, nil
	}
	failing := func(Deps) (domain.MarketAdapter, error) { return nil, errors.New("bad config") }

	markets := map[string]config.MarketConfig{
		"alpha": {Enabled: true},
		"off":   {Enabled: false},
	}
	r := NewRegistry(map[string]Constructor{"alpha": ctor, "beta": ctor, "off": ctor, "broken": failing}, markets, config.FXConfig{}, nil)

	got, err := r.Build([]string{"alpha", "beta", "off", "pawnstars"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(got) != 2 || got["alpha"] == nil || got["beta"] == nil {
		t.Errorf("built = %v, want alpha and beta", got)
	}

	if _, err := r.New("pawnstars"); !errors.Is(err, domain.ErrAdapterNotFound) {
		t.Errorf("New(unknown) = %v, want ErrAdapterNotFound", err)
	}

	built = nil
	if _, err := r.Build([]string{"alpha", "broken"}); err == nil {
		t.Fatal("expected construction error")
	}
	if len(built) != 1 || built[0].closed != 1 {
		t.Error("adapters built before the failure should be closed")
	}
}

func TestDepsHTTPClientBaseURL(t *testing.T) {
	hits := map[string]int{}
	serve := func(name string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits[name+r.URL.Path]++
			w.Write([]byte(`{}`))
		}))
	}
	def, override := serve("default"), serve("override")
	defer def.Close()
	defer override.Close()

	d := Deps{Config: config.MarketConfig{}}
	if _, err := d.HTTPClient(def.URL+"/").Do(context.Background(), httpx.Request{Method: http.MethodGet, Path: "/ping"}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	d.Config.BaseURL = override.URL
	if _, err := d.HTTPClient(def.URL).Do(context.Background(), httpx.Request{Method: http.MethodGet, Path: "/ping"}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if hits["default/ping"] != 1 || hits["override/ping"] != 1 {
		t.Errorf("hits = %v, want one request on each server", hits)
	}
}

func TestToTon(t *testing.T) {
	fx := config.FXConfig{StarsToTon: 0.005}
	got, err := ToTon(decimal.NewFromInt(1000), domain.CurrencySTARS, fx)
	if err != nil || !got.Equal(decimal.NewFromInt(5)) {
		t.Errorf("ToTon(1000 STARS) = %s, %v; want 5", got, err)
	}
	if _, err := ToTon(decimal.NewFromInt(1), domain.CurrencyUSDT, fx); err == nil {
		t.Error("expected error without USDT rate")
	}
	got, _ = ToTon(decimal.RequireFromString("2.5"), domain.CurrencyTON, fx)
	if !got.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("ToTon(TON) = %s", got)
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for _, in := range []any{"2024-05-01T10:00:00Z", float64(want.Unix()), want.UnixMilli(), strconv.FormatInt(want.Unix(), 10)} {
		got := ParseTime(in)
		if got == nil || !got.Equal(want) {
			t.Errorf("ParseTime(%v) = %v, want %v", in, got, want)
		}
	}
	if ParseTime("") != nil || ParseTime(nil) != nil {
		t.Error("empty input should give nil")
	}
}
