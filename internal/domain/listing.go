package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currency is the settlement currency of an upstream price.
type Currency string

const (
	CurrencyTON   Currency = "TON"
	CurrencySTARS Currency = "STARS"
	CurrencyUSDT  Currency = "USDT"
)

// ParseCurrency normalizes an upstream currency code. Unknown codes are kept
// upper-cased rather than rejected.
func ParseCurrency(s string) Currency {
	c := strings.ToUpper(strings.TrimSpace(s))
	if c == "" {
		return CurrencyTON
	}
	return Currency(c)
}

// ListingStatus is the lifecycle state reported by an adapter.
type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingSold      ListingStatus = "sold"
	ListingCancelled ListingStatus = "cancelled"
	ListingExpired   ListingStatus = "expired"
)

// NanotonPerTon is the number of nanotons in one TON.
var NanotonPerTon = decimal.New(1, 9)

// NanotonToTon converts an integer nanoton amount to TON.
func NanotonToTon(nano decimal.Decimal) decimal.Decimal {
	return nano.Div(NanotonPerTon)
}

// NormalizedListing is the adapter output contract: one listing, already
// converted to TON and unified across upstream schemas.
type NormalizedListing struct {
	MarketSlug      string
	MarketListingID string
	ItemAddress     string
	PriceRaw        decimal.Decimal
	Currency        Currency
	PriceTon        decimal.Decimal
	SellerAddress   string
	ListingURL      string
	ListedAt        *time.Time
	ExpiresAt       *time.Time
	Status          ListingStatus
	// Extra carries market specific metadata (name, index, image_url,
	// collection ...). The orchestrator never interprets it beyond item
	// seeding.
	Extra map[string]any
}

// Validate reports whether the listing may reach the orchestrator.
func (l NormalizedListing) Validate() error {
	switch {
	case strings.TrimSpace(l.MarketListingID) == "":
		return fmt.Errorf("%w: missing market listing id", ErrInvalidListing)
	case strings.TrimSpace(l.ItemAddress) == "":
		return fmt.Errorf("%w: listing %s has no item address", ErrInvalidListing, l.MarketListingID)
	case !l.PriceTon.IsPositive():
		return fmt.Errorf("%w: listing %s has non-positive price %s", ErrInvalidListing, l.MarketListingID, l.PriceTon)
	case l.Status != ListingActive:
		return fmt.Errorf("%w: listing %s has status %q", ErrInvalidListing, l.MarketListingID, l.Status)
	}
	return nil
}

// ExtraString returns Extra[key] as a string, or "" when absent.
func (l NormalizedListing) ExtraString(key string) string {
	return extraString(l.Extra, key)
}

// NormalizedSale records one completed trade reported by an adapter.
type NormalizedSale struct {
	MarketSlug    string
	ItemAddress   string
	ItemName      string
	PriceRaw      decimal.Decimal
	Currency      Currency
	PriceTon      decimal.Decimal
	BuyerAddress  string
	SellerAddress string
	TxHash        string
	TxLt          int64
	SoldAt        time.Time
	Extra         map[string]any
}

// Listing is the persisted row for one (market, market listing id) pair.
type Listing struct {
	ID              int64
	ItemID          int64
	CollectionID    int64
	MarketID        int64
	MarketSlug      string
	MarketListingID string
	PriceRaw        decimal.Decimal
	Currency        Currency
	PriceTon        decimal.Decimal
	SellerAddress   string
	ListingURL      string
	IsActive        bool
	ListedAt        *time.Time
	ExpiresAt       *time.Time
	FirstSeenAt     time.Time
	LastSeenAt      time.Time
	UpdatedAt       time.Time
}

// Sale is a persisted NormalizedSale.
type Sale struct {
	ID            int64
	ItemID        *int64
	CollectionID  *int64
	MarketID      int64
	ItemAddress   string
	ItemName      string
	PriceRaw      decimal.Decimal
	Currency      Currency
	PriceTon      decimal.Decimal
	BuyerAddress  string
	SellerAddress string
	TxHash        string
	TxLt          int64
	SoldAt        time.Time
	CreatedAt     time.Time
}

func extraString(extra map[string]any, key string) string {
	if extra == nil {
		return ""
	}
	switch v := extra[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
