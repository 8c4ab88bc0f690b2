// Package tonapi is a REST client for tonapi.io and the blockchain sales
// adapter built on it.
package tonapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/giftagg/internal/adapter"
	"github.com/alanyoungcy/giftagg/internal/domain"
	"github.com/alanyoungcy/giftagg/internal/httpx"
)

const (
	// DefaultBaseURL is the public tonapi endpoint.
	DefaultBaseURL = "https://tonapi.io"

	// MaxItemsPage is the largest page tonapi serves for collection items.
	MaxItemsPage = 1000
)

// Client queries tonapi NFT endpoints.
type Client struct {
	http   *httpx.Client
	logger *slog.Logger
}

// NewClient wraps a paced HTTP client.
func NewClient(c *httpx.Client) *Client {
	return &Client{http: c, logger: slog.Default()}
}

// WithLogger sets the logger used to report skipped records.
func (c *Client) WithLogger(l *slog.Logger) *Client {
	if l != nil {
		c.logger = l
	}
	return c
}

// NewClientFromDeps builds a client for an adapter, sending the optional API
// key as a bearer token.
func NewClientFromDeps(deps adapter.Deps) *Client {
	var extra []httpx.Option
	if deps.Config.APIKey != "" {
		extra = append(extra, httpx.WithHeader("Authorization", "Bearer "+deps.Config.APIKey))
	}
	return NewClient(deps.HTTPClient(DefaultBaseURL, extra...)).WithLogger(deps.Logger)
}

// CollectionItems returns one offset page of a collection's items together
// with the number of records tonapi sent, which includes any that failed to
// decode and drives offset paging.
func (c *Client) CollectionItems(ctx context.Context, collection string, limit, offset int) ([]NftItem, int, error) {
	if limit <= 0 || limit > MaxItemsPage {
		limit = MaxItemsPage
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var resp nftItemsResponse
	path := "/v2/nft/collections/" + url.PathEscape(collection) + "/items"
	if err := c.http.GetJSON(ctx, path, q, &resp); err != nil {
		return nil, 0, fmt.Errorf("tonapi: collection items %s: %w", collection, err)
	}
	return adapter.DecodeRecords[NftItem](c.logger, "tonapi", resp.NftItems), len(resp.NftItems), nil
}

// Item returns one NFT item, or nil when tonapi does not know it.
func (c *Client) Item(ctx context.Context, address string) (*NftItem, error) {
	var item NftItem
	err := c.http.GetJSON(ctx, "/v2/nft/items/"+url.PathEscape(address), nil, &item)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tonapi: item %s: %w", address, err)
	}
	return &item, nil
}

// ItemHistory returns the item's most recent events.
func (c *Client) ItemHistory(ctx context.Context, address string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	var resp eventsResponse
	path := "/v2/nft/items/" + url.PathEscape(address) + "/history"
	if err := c.http.GetJSON(ctx, path, q, &resp); err != nil {
		return nil, fmt.Errorf("tonapi: item history %s: %w", address, err)
	}
	return adapter.DecodeRecords[Event](c.logger, "tonapi", resp.Events), nil
}

// SalesFromEvents extracts completed sales: events that carry both an NFT
// transfer and a TON payment. The recipient of the NFT is the buyer.
func SalesFromEvents(slug, itemAddress string, events []Event) []domain.NormalizedSale {
	var out []domain.NormalizedSale
	for _, ev := range events {
		var nftSender, nftRecipient string
		var found bool
		var payment *Action
		for i := range ev.Actions {
			act := &ev.Actions[i]
			switch act.Type {
			case "NftItemTransfer":
				if act.NftItemTransfer != nil && !found {
					found = true
					nftSender = addr(act.NftItemTransfer.Sender)
					nftRecipient = addr(act.NftItemTransfer.Recipient)
				}
			case "TonTransfer":
				if act.TonTransfer != nil && payment == nil {
					payment = act
				}
			}
		}
		if !found || payment == nil || !payment.TonTransfer.Amount.IsPositive() {
			continue
		}
		amount := payment.TonTransfer.Amount
		out = append(out, domain.NormalizedSale{
			MarketSlug:    slug,
			ItemAddress:   itemAddress,
			PriceRaw:      amount,
			Currency:      domain.CurrencyTON,
			PriceTon:      domain.NanotonToTon(amount),
			BuyerAddress:  nftRecipient,
			SellerAddress: nftSender,
			TxHash:        ev.EventID,
			TxLt:          ev.Lt,
			SoldAt:        time.Unix(ev.Timestamp, 0).UTC(),
			Extra:         map[string]any{"description": ev.Description},
		})
	}
	return out
}
