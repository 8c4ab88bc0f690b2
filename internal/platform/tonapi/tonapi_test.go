package tonapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/giftagg/internal/domain"
	"github.com/alanyoungcy/giftagg/internal/httpx"
)

const historyJSON = `{"events":[
  {"event_id":"ev-sale","timestamp":1714557600,"lt":4242,"description":"sold on getgems","actions":[
    {"type":"TonTransfer","TonTransfer":{"sender":{"address":"BUYER"},"recipient":{"address":"SELLER"},"amount":7000000000}},
    {"type":"NftItemTransfer","NftItemTransfer":{"sender":{"address":"SELLER"},"recipient":{"address":"BUYER"},"nft":"EQA"}}
  ]},
  {"event_id":"ev-gift","timestamp":1714550000,"lt":4200,"actions":[
    {"type":"NftItemTransfer","NftItemTransfer":{"sender":{"address":"X"},"recipient":{"address":"Y"}}}
  ]},
  {"event_id":"ev-pay","timestamp":1714540000,"lt":4100,"actions":[
    {"type":"TonTransfer","TonTransfer":{"amount":"1000"}}
  ]}
]}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(httpx.New(srv.URL, httpx.WithRate(1000), httpx.WithBackoffBase(time.Millisecond)))
}

func TestSalesFromEvents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/nft/items/EQA/history" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "5" {
			t.Errorf("limit = %s, want 5", r.URL.Query().Get("limit"))
		}
		w.Write([]byte(historyJSON))
	})
	a := NewSalesAdapter(c, nil)

	sales, err := a.FetchSalesHistory(context.Background(), domain.SalesQuery{ItemAddress: "EQA", Limit: 5})
	if err != nil {
		t.Fatalf("FetchSalesHistory: %v", err)
	}
	if len(sales) != 1 {
		t.Fatalf("len = %d, want 1 (plain transfer and plain payment are not sales)", len(sales))
	}
	s := sales[0]
	if s.BuyerAddress != "BUYER" || s.SellerAddress != "SELLER" {
		t.Errorf("buyer/seller = %s/%s", s.BuyerAddress, s.SellerAddress)
	}
	if s.TxHash != "ev-sale" || s.TxLt != 4242 {
		t.Errorf("tx = %s/%d", s.TxHash, s.TxLt)
	}
	if !s.PriceTon.Equal(decimal.NewFromInt(7)) {
		t.Errorf("PriceTon = %s, want 7", s.PriceTon)
	}
	if s.SoldAt.Unix() != 1714557600 {
		t.Errorf("SoldAt = %v", s.SoldAt)
	}
	if s.MarketSlug != SalesSlug {
		t.Errorf("MarketSlug = %s", s.MarketSlug)
	}
}

func TestSalesAdapterHasNoListings(t *testing.T) {
	a := NewSalesAdapter(newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	}), nil)

	l, err := a.FetchItemListing(context.Background(), "EQA")
	if l != nil || err != nil {
		t.Errorf("FetchItemListing = %v, %v", l, err)
	}
	if _, err := a.IterateCollectionListings(context.Background(), "EQCOL", 10).Next(context.Background()); !errors.Is(err, domain.ErrIteratorDone) {
		t.Errorf("Next = %v, want ErrIteratorDone", err)
	}
}

func TestCollectionSalesSamplesItems(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/nft/collections/EQCOL/items":
			if r.URL.Query().Get("limit") != "50" {
				t.Errorf("sample limit = %s, want 50", r.URL.Query().Get("limit"))
			}
			w.Write([]byte(`{"nft_items":[{"address":"EQA","metadata":{"name":"Gift A"}},{"address":"EQBROKEN"}]}`))
		case "/v2/nft/items/EQA/history":
			w.Write([]byte(historyJSON))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	a := NewSalesAdapter(c, nil)

	sales, err := a.FetchSalesHistory(context.Background(), domain.SalesQuery{Collection: "EQCOL"})
	if err != nil {
		t.Fatalf("FetchSalesHistory: %v", err)
	}
	if len(sales) != 1 || sales[0].ItemName != "Gift A" {
		t.Errorf("sales = %+v", sales)
	}
}

func TestItemNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	item, err := c.Item(context.Background(), "EQMISSING")
	if item != nil || err != nil {
		t.Errorf("Item = %v, %v; want nil, nil", item, err)
	}
}

func TestMalformedEventIsSkipped(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"events":[
		  {"event_id":"ev-bad","timestamp":"yesterday","actions":[]},
		  {"event_id":"ev-sale","timestamp":1714557600,"lt":1,"actions":[
		    {"type":"TonTransfer","TonTransfer":{"amount":2000000000}},
		    {"type":"NftItemTransfer","NftItemTransfer":{"sender":{"address":"S"},"recipient":{"address":"B"}}}
		  ]}
		]}`))
	})
	a := NewSalesAdapter(c, nil)

	sales, err := a.FetchSalesHistory(context.Background(), domain.SalesQuery{ItemAddress: "EQA"})
	if err != nil {
		t.Fatalf("FetchSalesHistory: %v", err)
	}
	if len(sales) != 1 || sales[0].TxHash != "ev-sale" {
		t.Errorf("sales = %+v, want ev-sale only", sales)
	}
}
