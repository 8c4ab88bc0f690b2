package telegram

import "context"

// ResaleGift is one unique gift on Telegram resale, flattened from
// starGiftUnique.
type ResaleGift struct {
	ID           int64
	GiftID       int64
	Title        string
	Slug         string
	Num          int
	OwnerAddress string
	GiftAddress  string
	// Exactly one of the prices is set when the gift is priced; TonNano is
	// used for TON-denominated resales.
	Stars   int64
	TonNano int64
}

// ResalePage is one payments.getResaleStarGifts response.
type ResalePage struct {
	Gifts      []ResaleGift
	Count      int
	NextOffset string
}

// CatalogGift is one gift type from payments.getStarGifts.
type CatalogGift struct {
	ID                 int64
	Title              string
	AvailabilityResale int64
}

// ResaleAPI is the MTProto surface the adapter needs.
type ResaleAPI interface {
	ResalePage(ctx context.Context, giftID int64, offset string, limit int) (ResalePage, error)
	Catalog(ctx context.Context) ([]CatalogGift, error)
	Close() error
}
