package tonapi

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// AccountRef is an address wrapper used throughout tonapi payloads.
type AccountRef struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// NftSale is the sale contract attached to an item that is on sale.
type NftSale struct {
	Address string     `json:"address"`
	Market  AccountRef `json:"market"`
	Owner   AccountRef `json:"owner"`
	Price   struct {
		Value     decimal.Decimal `json:"value"`
		TokenName string          `json:"token_name"`
	} `json:"price"`
}

// NftItem is one entry of /v2/nft/collections/{a}/items or /v2/nft/items/{a}.
type NftItem struct {
	Address    string      `json:"address"`
	Index      *int64      `json:"index"`
	Owner      *AccountRef `json:"owner"`
	Collection *AccountRef `json:"collection"`
	Metadata   struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Image       string `json:"image"`
		Attributes  []struct {
			TraitType string `json:"trait_type"`
			Value     any    `json:"value"`
		} `json:"attributes"`
	} `json:"metadata"`
	Previews []struct {
		Resolution string `json:"resolution"`
		URL        string `json:"url"`
	} `json:"previews"`
	Sale *NftSale `json:"sale"`
}

// ImageURL prefers the metadata image, then the largest preview.
func (n NftItem) ImageURL() string {
	if n.Metadata.Image != "" {
		return n.Metadata.Image
	}
	for _, p := range n.Previews {
		if p.Resolution == "500x500" {
			return p.URL
		}
	}
	if len(n.Previews) > 0 {
		return n.Previews[len(n.Previews)-1].URL
	}
	return ""
}

// Attributes flattens metadata attributes into a map.
func (n NftItem) Attributes() map[string]any {
	if len(n.Metadata.Attributes) == 0 {
		return nil
	}
	out := make(map[string]any, len(n.Metadata.Attributes))
	for _, a := range n.Metadata.Attributes {
		out[a.TraitType] = a.Value
	}
	return out
}

// nftItemsResponse keeps items raw so one bad item cannot fail the page.
type nftItemsResponse struct {
	NftItems []json.RawMessage `json:"nft_items"`
}

// Event is one entry of an account or item history.
type Event struct {
	EventID     string   `json:"event_id"`
	Timestamp   int64    `json:"timestamp"`
	Lt          int64    `json:"lt"`
	Description string   `json:"description,omitempty"`
	Actions     []Action `json:"actions"`
}

// Action is one action inside an Event. Only the fields needed for sale
// detection are decoded.
type Action struct {
	Type            string `json:"type"`
	NftItemTransfer *struct {
		Sender    *AccountRef `json:"sender"`
		Recipient *AccountRef `json:"recipient"`
		Nft       string      `json:"nft"`
	} `json:"NftItemTransfer"`
	TonTransfer *struct {
		Sender    *AccountRef     `json:"sender"`
		Recipient *AccountRef     `json:"recipient"`
		Amount    decimal.Decimal `json:"amount"`
	} `json:"TonTransfer"`
}

type eventsResponse struct {
	Events   []json.RawMessage `json:"events"`
	NextFrom int64             `json:"next_from"`
}

func addr(r *AccountRef) string {
	if r == nil {
		return ""
	}
	return r.Address
}
