package tonnel

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// flexAddress accepts either "EQ..." or {"address": "EQ..."}.
type flexAddress string

func (a *flexAddress) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = flexAddress(s)
		return nil
	}
	var obj struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*a = flexAddress(obj.Address)
	return nil
}

// APIListing is one on-sale record. Older responses use nft_address and
// sale_price.
type APIListing struct {
	Address    string           `json:"address"`
	NftAddress string           `json:"nft_address"`
	Name       string           `json:"name"`
	Price      *decimal.Decimal `json:"price"`
	SalePrice  *decimal.Decimal `json:"sale_price"`
	Owner      flexAddress      `json:"owner"`
	OnSale     *bool            `json:"on_sale"`
	ListedAt   any              `json:"listed_at"`
}

func (l APIListing) address() string {
	if l.Address != "" {
		return l.Address
	}
	return l.NftAddress
}

func (l APIListing) nanoton() *decimal.Decimal {
	if l.Price != nil {
		return l.Price
	}
	return l.SalePrice
}

// listingsResponse keeps records raw so each is decoded on its own.
type listingsResponse struct {
	Items []json.RawMessage `json:"items"`
	Nfts  []json.RawMessage `json:"nfts"`
}

func (r listingsResponse) records() []json.RawMessage {
	if len(r.Items) > 0 {
		return r.Items
	}
	return r.Nfts
}

// APISale is one history record.
type APISale struct {
	Price           *decimal.Decimal `json:"price"`
	Buyer           flexAddress      `json:"buyer"`
	Seller          flexAddress      `json:"seller"`
	SaleDate        any              `json:"sale_date"`
	Timestamp       any              `json:"timestamp"`
	TxHash          string           `json:"tx_hash"`
	TransactionHash string           `json:"transaction_hash"`
}

type historyResponse struct {
	Sales   []json.RawMessage `json:"sales"`
	History []json.RawMessage `json:"history"`
}

func (r historyResponse) records() []json.RawMessage {
	if len(r.Sales) > 0 {
		return r.Sales
	}
	return r.History
}
