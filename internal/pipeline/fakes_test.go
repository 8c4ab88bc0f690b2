package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/giftagg/internal/adapter"
	"github.com/alanyoungcy/giftagg/internal/domain"
)

// memDB is an in-memory stand-in for the postgres stores.
type memDB struct {
	mu          sync.Mutex
	now         time.Time
	markets     []domain.Market
	collections []domain.Collection
	items       map[int64]*domain.Item
	itemByAddr  map[string]int64
	listings    map[string]*domain.Listing
	sales       map[string]domain.Sale
	nextID      int64
	recomputes  int
}

func newMemDB(markets []domain.Market, cols []domain.Collection) *memDB {
	return &memDB{
		now:         time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
		markets:     markets,
		collections: cols,
		items:       map[int64]*domain.Item{},
		itemByAddr:  map[string]int64{},
		listings:    map[string]*domain.Listing{},
		sales:       map[string]domain.Sale{},
	}
}

func (db *memDB) stores() Stores {
	return Stores{
		Markets:     memMarkets{db},
		Collections: memCollections{db},
		Items:       memItems{db},
		Listings:    memListings{db},
		Sales:       memSales{db},
	}
}

func (db *memDB) id() int64 {
	db.nextID++
	return db.nextID
}

func (db *memDB) market(id int64) domain.Market {
	for _, m := range db.markets {
		if m.ID == id {
			return m
		}
	}
	return domain.Market{}
}

func (db *memDB) advance(d time.Duration) {
	db.mu.Lock()
	db.now = db.now.Add(d)
	db.mu.Unlock()
}

func (db *memDB) item(addr string) domain.Item {
	db.mu.Lock()
	defer db.mu.Unlock()
	id, ok := db.itemByAddr[addr]
	if !ok {
		return domain.Item{}
	}
	return *db.items[id]
}

func (db *memDB) listing(marketID int64, listingID string) (domain.Listing, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	l, ok := db.listings[listingKey(marketID, listingID)]
	if !ok {
		return domain.Listing{}, false
	}
	return *l, true
}

func (db *memDB) activeCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, l := range db.listings {
		if l.IsActive {
			n++
		}
	}
	return n
}

func listingKey(marketID int64, listingID string) string {
	return fmt.Sprintf("%d/%s", marketID, listingID)
}

type memMarkets struct{ db *memDB }

func (s memMarkets) Upsert(_ context.Context, m domain.Market) (domain.Market, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for i, e := range s.db.markets {
		if e.Slug == m.Slug {
			m.ID, m.IsActive = e.ID, e.IsActive
			s.db.markets[i] = m
			return m, nil
		}
	}
	m.ID = s.db.id()
	s.db.markets = append(s.db.markets, m)
	return m, nil
}

func (s memMarkets) GetBySlug(_ context.Context, slug string) (domain.Market, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, m := range s.db.markets {
		if m.Slug == slug {
			return m, nil
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func (s memMarkets) ListActive(context.Context) ([]domain.Market, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Market
	for _, m := range s.db.markets {
		if m.IsActive {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Slug < out[j].Slug
	})
	return out, nil
}

type memCollections struct{ db *memDB }

func (s memCollections) Upsert(_ context.Context, c domain.Collection) (domain.Collection, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for i, e := range s.db.collections {
		if e.Address == c.Address {
			if c.Name == "" {
				c.Name = e.Name
			}
			c.ID, c.IsActive = e.ID, e.IsActive
			s.db.collections[i] = c
			return c, nil
		}
	}
	c.ID = s.db.id()
	c.IsActive = true
	s.db.collections = append(s.db.collections, c)
	return c, nil
}

func (s memCollections) GetByAddress(_ context.Context, addr string) (domain.Collection, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, c := range s.db.collections {
		if c.Address == addr {
			return c, nil
		}
	}
	return domain.Collection{}, domain.ErrNotFound
}

func (s memCollections) ListActive(context.Context) ([]domain.Collection, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Collection
	for _, c := range s.db.collections {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

type memItems struct{ db *memDB }

func (s memItems) Resolve(_ context.Context, collectionID int64, seed domain.ItemSeed) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if id, ok := s.db.itemByAddr[seed.Address]; ok {
		return id, nil
	}
	id := s.db.id()
	s.db.items[id] = &domain.Item{ID: id, Address: seed.Address, CollectionID: collectionID, Name: seed.Name}
	s.db.itemByAddr[seed.Address] = id
	return id, nil
}

func (s memItems) GetByID(_ context.Context, id int64) (domain.Item, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	it, ok := s.db.items[id]
	if !ok {
		return domain.Item{}, domain.ErrNotFound
	}
	return *it, nil
}

func (s memItems) RecomputeSummary(_ context.Context, itemID int64) (domain.SummaryChange, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.recomputes++
	it, ok := s.db.items[itemID]
	if !ok {
		return domain.SummaryChange{}, domain.ErrNotFound
	}
	var quotes []domain.ActiveQuote
	for _, l := range s.db.listings {
		if l.ItemID == itemID && l.IsActive {
			m := s.db.market(l.MarketID)
			quotes = append(quotes, domain.ActiveQuote{PriceTon: l.PriceTon, MarketSlug: m.Slug, MarketPriority: m.Priority})
		}
	}
	change := domain.SummaryChange{ItemID: itemID, CollectionID: it.CollectionID, Before: it.Summary, After: domain.LowestQuote(quotes)}
	if change.Changed() {
		it.Summary = change.After
	}
	return change, nil
}

type memListings struct{ db *memDB }

func (s memListings) Upsert(_ context.Context, u domain.ListingUpsert) (domain.UpsertResult, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	key := listingKey(u.MarketID, u.Listing.MarketListingID)
	l := u.Listing
	row, ok := s.db.listings[key]
	if !ok {
		row = &domain.Listing{
			ID:              s.db.id(),
			MarketID:        u.MarketID,
			MarketSlug:      s.db.market(u.MarketID).Slug,
			MarketListingID: l.MarketListingID,
			FirstSeenAt:     s.db.now,
		}
		s.db.listings[key] = row
	}
	res := domain.UpsertResult{ListingID: row.ID, Inserted: !ok}
	if ok {
		prev := row.PriceTon
		res.PrevPriceTon = &prev
		res.WasActive = row.IsActive
	}
	row.ItemID, row.CollectionID = u.ItemID, u.CollectionID
	row.PriceRaw, row.Currency, row.PriceTon = l.PriceRaw, l.Currency, l.PriceTon
	row.SellerAddress, row.ListingURL = l.SellerAddress, l.ListingURL
	row.ListedAt, row.ExpiresAt = l.ListedAt, l.ExpiresAt
	row.IsActive = true
	row.LastSeenAt, row.UpdatedAt = s.db.now, s.db.now
	return res, nil
}

func (s memListings) DeactivateUnseen(_ context.Context, marketID, collectionID int64, seen []string) ([]domain.Listing, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	keep := make(map[string]bool, len(seen))
	for _, id := range seen {
		keep[id] = true
	}
	var out []domain.Listing
	for _, l := range s.db.listings {
		if l.IsActive && l.MarketID == marketID && l.CollectionID == collectionID && !keep[l.MarketListingID] {
			l.IsActive = false
			l.UpdatedAt = s.db.now
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s memListings) DeactivateStale(_ context.Context, cutoff time.Time) ([]domain.Listing, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Listing
	for _, l := range s.db.listings {
		if l.IsActive && l.LastSeenAt.Before(cutoff) {
			l.IsActive = false
			l.UpdatedAt = s.db.now
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s memListings) ListActiveByItem(_ context.Context, itemID int64) ([]domain.Listing, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Listing
	for _, l := range s.db.listings {
		if l.IsActive && l.ItemID == itemID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s memListings) ListInactiveBefore(_ context.Context, cutoff time.Time) ([]domain.Listing, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Listing
	for _, l := range s.db.listings {
		if !l.IsActive && l.UpdatedAt.Before(cutoff) {
			out = append(out, *l)
		}
	}
	return out, nil
}

type memSales struct{ db *memDB }

func (s memSales) InsertBatch(_ context.Context, sales []domain.Sale) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	n := 0
	for _, sale := range sales {
		key := sale.TxHash
		if key == "" {
			key = fmt.Sprintf("nohash-%d", s.db.id())
		}
		if _, dup := s.db.sales[key]; dup {
			continue
		}
		sale.ID = s.db.id()
		s.db.sales[key] = sale
		n++
	}
	return n, nil
}

func (s memSales) ListBefore(_ context.Context, cutoff time.Time) ([]domain.Sale, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Sale
	for _, sale := range s.db.sales {
		if sale.SoldAt.Before(cutoff) {
			out = append(out, sale)
		}
	}
	return out, nil
}

// fakeAdapter serves fixed listings per collection through offset paging.
type fakeAdapter struct {
	slug string

	mu       sync.Mutex
	listings map[string][]domain.NormalizedListing
	sales    map[string][]domain.NormalizedSale
	fail     map[string]error
	calls    int
}

func newFakeAdapter(slug string) *fakeAdapter {
	return &fakeAdapter{
		slug:     slug,
		listings: map[string][]domain.NormalizedListing{},
		sales:    map[string][]domain.NormalizedSale{},
		fail:     map[string]error{},
	}
}

func (f *fakeAdapter) set(collection string, ls ...domain.NormalizedListing) {
	f.mu.Lock()
	f.listings[collection] = ls
	f.mu.Unlock()
}

func (f *fakeAdapter) failWith(collection string, err error) {
	f.mu.Lock()
	f.fail[collection] = err
	f.mu.Unlock()
}

func (f *fakeAdapter) Slug() string { return f.slug }

func (f *fakeAdapter) FetchCollectionListings(ctx context.Context, collection string, limit int) ([]domain.NormalizedListing, error) {
	return adapter.FetchViaIterator(ctx, f.IterateCollectionListings(ctx, collection, limit), limit)
}

func (f *fakeAdapter) IterateCollectionListings(_ context.Context, collection string, batchSize int) domain.ListingIterator {
	return adapter.NewPageIterator(func(_ context.Context, pos string, size int) (adapter.Page, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls++
		if err := f.fail[collection]; err != nil {
			return adapter.Page{}, err
		}
		all := f.listings[collection]
		off := adapter.OffsetPosition(pos)
		end := off + size
		if end > len(all) {
			end = len(all)
		}
		var page []domain.NormalizedListing
		if off < len(all) {
			page = append(page, all[off:end]...)
		}
		return adapter.OffsetPage(page, off, len(page), size), nil
	}, "", batchSize)
}

func (f *fakeAdapter) FetchItemListing(context.Context, string) (*domain.NormalizedListing, error) {
	return nil, nil
}

func (f *fakeAdapter) FetchSalesHistory(_ context.Context, q domain.SalesQuery) ([]domain.NormalizedSale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sales[q.Collection], nil
}

func (f *fakeAdapter) Close() error { return nil }

// recorder captures published events.
type recorder struct {
	mu     sync.Mutex
	events []domain.PriceEvent
}

func (r *recorder) Publish(_ context.Context, e domain.PriceEvent) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) reset() []domain.PriceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func countType(events []domain.PriceEvent, t domain.EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func ton(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func listing(id, item, price string) domain.NormalizedListing {
	p := ton(price)
	return domain.NormalizedListing{
		MarketListingID: id,
		ItemAddress:     item,
		PriceRaw:        p,
		Currency:        domain.CurrencyTON,
		PriceTon:        p,
		Status:          domain.ListingActive,
	}
}

// fixture wires three markets (getgems priority 100, fragment 90, tonnel
// 80) and one collection.
type fixture struct {
	db       *memDB
	getgems  *fakeAdapter
	fragment *fakeAdapter
	tonnel   *fakeAdapter
	pub      *recorder
	orch     *Orchestrator
}

const testCollection = "EQcollection"

func newFixture(cfg OrchestratorConfig) *fixture {
	db := newMemDB(
		[]domain.Market{
			{ID: 1, Slug: "getgems", IsActive: true, Priority: 100},
			{ID: 2, Slug: "fragment", IsActive: true, Priority: 90},
			{ID: 3, Slug: "tonnel", IsActive: true, Priority: 80},
		},
		[]domain.Collection{{ID: 10, Address: testCollection, Name: "Plush Pepe", IsActive: true}},
	)
	db.nextID = 100
	f := &fixture{
		db:       db,
		getgems:  newFakeAdapter("getgems"),
		fragment: newFakeAdapter("fragment"),
		tonnel:   newFakeAdapter("tonnel"),
		pub:      &recorder{},
	}
	adapters := map[string]domain.MarketAdapter{"getgems": f.getgems, "fragment": f.fragment, "tonnel": f.tonnel}
	f.orch = NewOrchestrator(db.stores(), adapters, f.pub, cfg, nil)
	f.orch.now = func() time.Time { return db.now }
	return f
}
