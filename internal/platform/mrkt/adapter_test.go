package mrkt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/giftagg/internal/config"
	"github.com/alanyoungcy/giftagg/internal/domain"
	"github.com/alanyoungcy/giftagg/internal/httpx"
)

type fakeMRKT struct {
	mu         sync.Mutex
	authCalls  atomic.Int32
	tokens     []string
	validToken string
	expiresIn  int
	total      int
	offsets    []int
	malformed  map[int]bool // indexes served with an undecodable price
}

func (f *fakeMRKT) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth":
			var req authRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Data != "query_id=abc" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			n := f.authCalls.Add(1)
			tok := "tok-" + strconv.Itoa(int(n))
			f.mu.Lock()
			f.tokens = append(f.tokens, tok)
			if f.validToken == "" || n > 1 {
				f.validToken = tok
			}
			f.mu.Unlock()
			fmt.Fprintf(w, `{"token":%q,"expires_in":%d}`, tok, f.expiresIn)
		case "/gifts/saling":
			f.mu.Lock()
			valid := f.validToken
			f.mu.Unlock()
			if r.Header.Get("Authorization") != "Bearer "+valid {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			off, _ := strconv.Atoi(r.URL.Query().Get("offset"))
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			f.mu.Lock()
			f.offsets = append(f.offsets, off)
			f.mu.Unlock()
			var gifts []string
			for i := off; i < off+limit && i < f.total; i++ {
				cur := "TON"
				price := strconv.Itoa(i + 1)
				if i%3 == 2 {
					cur = "STARS"
					price = "1000"
				}
				if f.malformed[i] {
					price = `"12 TON"`
				}
				gifts = append(gifts, fmt.Sprintf(`{"id":%d,"price":%s,"currency":%q,"gift":{"name":"Gift %d","collection":"Plush Pepe","address":"EQ%d"},"seller":{"wallet":"W%d"},"created_at":1714557600}`, 100+i, price, cur, i, i, i))
			}
			fmt.Fprintf(w, `{"gifts":[%s],"total":%d}`, strings.Join(gifts, ","), f.total)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestAdapter(t *testing.T, f *fakeMRKT, initData string) *Adapter {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	c := httpx.New(srv.URL, httpx.WithRate(1000), httpx.WithBackoffBase(time.Millisecond))
	return NewAdapter(c, initData, config.FXConfig{StarsToTon: 0.004}, nil)
}

func TestListingsPageByTotalAndConvertStars(t *testing.T) {
	f := &fakeMRKT{expiresIn: 3600, total: 5}
	a := newTestAdapter(t, f, "query_id=abc")

	it := a.IterateCollectionListings(context.Background(), "Plush Pepe", 2)
	var got []domain.NormalizedListing
	for {
		batch, err := it.Next(context.Background())
		if errors.Is(err, domain.ErrIteratorDone) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, batch...)
	}
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	if fmt.Sprint(f.offsets) != "[0 2 4]" {
		t.Errorf("offsets = %v, want [0 2 4]", f.offsets)
	}
	if got := f.authCalls.Load(); got != 1 {
		t.Errorf("auth calls = %d, want 1 (token cached)", got)
	}

	stars := got[2]
	if stars.Currency != domain.CurrencySTARS {
		t.Fatalf("Currency = %s, want STARS", stars.Currency)
	}
	if !stars.PriceRaw.Equal(decimal.NewFromInt(1000)) || !stars.PriceTon.Equal(decimal.NewFromInt(4)) {
		t.Errorf("stars price raw/ton = %s/%s, want 1000/4", stars.PriceRaw, stars.PriceTon)
	}
	first := got[0]
	if first.MarketListingID != "100" || first.ItemAddress != "EQ0" || first.SellerAddress != "W0" {
		t.Errorf("first = %+v", first)
	}
	if first.ListingURL != "https://tgmrkt.io/gift/100" {
		t.Errorf("ListingURL = %s", first.ListingURL)
	}
}

func TestReauthenticatesOnceOn401(t *testing.T) {
	f := &fakeMRKT{expiresIn: 3600, total: 1}
	a := newTestAdapter(t, f, "query_id=abc")

	if _, err := a.FetchCollectionListings(context.Background(), "", 10); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	// server revokes the cached token
	f.mu.Lock()
	f.validToken = "rotated"
	f.mu.Unlock()

	_, err := a.FetchCollectionListings(context.Background(), "", 10)
	// the forced re-auth issues tok-2, which the fake accepts
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if got := f.authCalls.Load(); got != 2 {
		t.Errorf("auth calls = %d, want 2", got)
	}
}

func TestBadInitDataIsUnauthorized(t *testing.T) {
	f := &fakeMRKT{expiresIn: 3600, total: 1}
	a := newTestAdapter(t, f, "query_id=wrong")

	_, err := a.FetchCollectionListings(context.Background(), "", 10)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}

	empty := newTestAdapter(t, f, "")
	_, err = empty.FetchCollectionListings(context.Background(), "", 10)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized without initData", err)
	}
}

func TestTokenRefreshesBeforeExpiry(t *testing.T) {
	f := &fakeMRKT{expiresIn: 600, total: 1}
	a := newTestAdapter(t, f, "query_id=abc")

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a.tokens.now = func() time.Time { return now }

	if _, err := a.tokens.Token(context.Background()); err != nil {
		t.Fatalf("Token: %v", err)
	}
	now = now.Add(200 * time.Second)
	if _, err := a.tokens.Token(context.Background()); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if got := f.authCalls.Load(); got != 1 {
		t.Fatalf("auth calls = %d, want 1 while outside refresh window", got)
	}

	// 600s lifetime, refreshed 300s early
	now = now.Add(101 * time.Second)
	if _, err := a.tokens.Token(context.Background()); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if got := f.authCalls.Load(); got != 2 {
		t.Errorf("auth calls = %d, want 2 inside refresh window", got)
	}
}

func TestConcurrentTokenCallsShareOneAuth(t *testing.T) {
	f := &fakeMRKT{expiresIn: 3600}
	a := newTestAdapter(t, f, "query_id=abc")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.tokens.Token(context.Background()); err != nil {
				t.Errorf("Token: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := f.authCalls.Load(); got != 1 {
		t.Errorf("auth calls = %d, want 1", got)
	}
}

func TestFetchItemListing(t *testing.T) {
	f := &fakeMRKT{expiresIn: 3600, total: 3}
	a := newTestAdapter(t, f, "query_id=abc")

	l, err := a.FetchItemListing(context.Background(), "EQ1")
	if err != nil || l == nil || l.MarketListingID != "101" {
		t.Fatalf("FetchItemListing(EQ1) = %+v, %v", l, err)
	}
	l, err = a.FetchItemListing(context.Background(), "EQ404")
	if l != nil || err != nil {
		t.Errorf("FetchItemListing(EQ404) = %+v, %v; want nil, nil", l, err)
	}
}

func TestMalformedGiftDoesNotAbortPage(t *testing.T) {
	f := &fakeMRKT{expiresIn: 3600, total: 4, malformed: map[int]bool{1: true}}
	a := newTestAdapter(t, f, "query_id=abc")

	got, err := a.FetchCollectionListings(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("FetchCollectionListings: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for _, l := range got {
		if l.MarketListingID == "101" {
			t.Errorf("malformed gift 101 was not skipped")
		}
	}
}
