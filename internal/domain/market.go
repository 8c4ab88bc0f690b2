package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market is the registry row for one upstream source.
type Market struct {
	ID             int64
	Slug           string
	Name           string
	WebsiteURL     string
	APIBaseURL     string
	FeeBuyPercent  decimal.Decimal
	FeeSellPercent decimal.Decimal
	IsActive       bool
	Priority       int
	Config         map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DefaultMarkets is the seed set of known marketplaces.
func DefaultMarkets() []Market {
	pct := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }
	return []Market{
		{Slug: "getgems", Name: "GetGems", WebsiteURL: "https://getgems.io", APIBaseURL: "https://api.getgems.io/graphql",
			FeeBuyPercent: pct("5"), FeeSellPercent: pct("0"), IsActive: true, Priority: 100},
		{Slug: "fragment", Name: "Fragment", WebsiteURL: "https://fragment.com", APIBaseURL: "https://tonapi.io",
			FeeBuyPercent: pct("0"), FeeSellPercent: pct("5"), IsActive: true, Priority: 90},
		{Slug: "tonnel", Name: "Tonnel", WebsiteURL: "https://tonnel.network", APIBaseURL: "https://api.tonnel.network",
			FeeBuyPercent: pct("2.5"), FeeSellPercent: pct("2.5"), IsActive: false, Priority: 80},
		{Slug: "mrkt", Name: "MRKT", WebsiteURL: "https://tgmrkt.io", APIBaseURL: "https://api.tgmrkt.io/api/v1",
			FeeBuyPercent: pct("2"), FeeSellPercent: pct("2"), IsActive: false, Priority: 70},
		{Slug: "telegram", Name: "Telegram", WebsiteURL: "https://t.me/nft", APIBaseURL: "mtproto",
			FeeBuyPercent: pct("0"), FeeSellPercent: pct("0"), IsActive: false, Priority: 75},
		{Slug: "pawnstars", Name: "Pawn Stars", WebsiteURL: "https://t.me/pawnstars", IsActive: false, Priority: 60},
		{Slug: "tonapi-sales", Name: "TON Blockchain Sales", WebsiteURL: "https://tonapi.io", APIBaseURL: "https://tonapi.io",
			FeeBuyPercent: pct("0"), FeeSellPercent: pct("0"), IsActive: true, Priority: 50},
	}
}
