package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Collection is a tracked NFT collection.
type Collection struct {
	ID        int64
	Address   string
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

// Item is one cross-market NFT gift. The summary fields are denormalized
// from the item's active listings.
type Item struct {
	ID           int64
	Address      string
	CollectionID int64
	Index        *int64
	Name         string
	ImageURL     string
	Attributes   map[string]any
	Summary      ItemSummary
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ItemSeed is the best-effort metadata used to create an item on first
// sighting.
type ItemSeed struct {
	Address  string
	Name     string
	Index    *int64
	ImageURL string
}

// SeedFromListing builds an ItemSeed from a listing's Extra bag.
func SeedFromListing(l NormalizedListing) ItemSeed {
	seed := ItemSeed{
		Address:  l.ItemAddress,
		Name:     l.ExtraString("name"),
		ImageURL: l.ExtraString("image_url"),
	}
	switch v := l.Extra["index"].(type) {
	case int64:
		seed.Index = &v
	case int:
		n := int64(v)
		seed.Index = &n
	case float64:
		n := int64(v)
		seed.Index = &n
	}
	return seed
}

// ItemSummary is the computed lowest-price view of an item.
// LowestPriceTon and LowestPriceMarket are nil iff IsOnSale is false.
type ItemSummary struct {
	IsOnSale          bool
	LowestPriceTon    *decimal.Decimal
	LowestPriceMarket *string
}

// Equal compares two summaries by value.
func (s ItemSummary) Equal(o ItemSummary) bool {
	if s.IsOnSale != o.IsOnSale {
		return false
	}
	if (s.LowestPriceTon == nil) != (o.LowestPriceTon == nil) {
		return false
	}
	if s.LowestPriceTon != nil && !s.LowestPriceTon.Equal(*o.LowestPriceTon) {
		return false
	}
	if (s.LowestPriceMarket == nil) != (o.LowestPriceMarket == nil) {
		return false
	}
	return s.LowestPriceMarket == nil || *s.LowestPriceMarket == *o.LowestPriceMarket
}

// SummaryChange is the before/after pair returned by a recompute.
type SummaryChange struct {
	ItemID       int64
	CollectionID int64
	Before       ItemSummary
	After        ItemSummary
}

// Changed reports whether the recompute altered the summary.
func (c SummaryChange) Changed() bool {
	return !c.Before.Equal(c.After)
}

// ActiveQuote is one active listing considered by a recompute, in the stable
// market order used for tie-breaking.
type ActiveQuote struct {
	PriceTon       decimal.Decimal
	MarketSlug     string
	MarketPriority int
}

// LowestQuote picks the minimum price. Ties go to the higher market priority,
// then to the lexically smaller slug, so the result does not depend on the
// order the quotes were read in.
func LowestQuote(quotes []ActiveQuote) ItemSummary {
	var best *ActiveQuote
	for i := range quotes {
		q := &quotes[i]
		if !q.PriceTon.IsPositive() {
			continue
		}
		if best == nil || quoteLess(q, best) {
			best = q
		}
	}
	if best == nil {
		return ItemSummary{}
	}
	price := best.PriceTon
	slug := best.MarketSlug
	return ItemSummary{IsOnSale: true, LowestPriceTon: &price, LowestPriceMarket: &slug}
}

func quoteLess(a, b *ActiveQuote) bool {
	if c := a.PriceTon.Cmp(b.PriceTon); c != 0 {
		return c < 0
	}
	if a.MarketPriority != b.MarketPriority {
		return a.MarketPriority > b.MarketPriority
	}
	return a.MarketSlug < b.MarketSlug
}
