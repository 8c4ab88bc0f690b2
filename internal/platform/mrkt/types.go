package mrkt

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// flexID accepts a JSON string or number.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	*f = flexID(strings.TrimSpace(string(data)))
	return nil
}

type authRequest struct {
	Data string `json:"data"`
}

type authResponse struct {
	AccessToken  string `json:"access_token"`
	Token        string `json:"token"`
	AccessTokenC string `json:"accessToken"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (r authResponse) token() string {
	switch {
	case r.AccessToken != "":
		return r.AccessToken
	case r.Token != "":
		return r.Token
	default:
		return r.AccessTokenC
	}
}

// APIGift is one resale listing from /gifts/saling.
type APIGift struct {
	ID          flexID           `json:"id"`
	Price       *decimal.Decimal `json:"price"`
	Currency    string           `json:"currency"`
	NftAddress  string           `json:"nft_address"`
	NftAddressC string           `json:"nftAddress"`
	Gift        struct {
		Name       string `json:"name"`
		Collection string `json:"collection"`
		Address    string `json:"address"`
		NftAddress string `json:"nft_address"`
	} `json:"gift"`
	Seller struct {
		ID      flexID `json:"id"`
		Address string `json:"address"`
		Wallet  string `json:"wallet"`
	} `json:"seller"`
	CreatedAt  any `json:"created_at"`
	CreatedAtC any `json:"createdAt"`
}

// itemAddress picks the first populated address field, falling back to the
// listing id.
func (g APIGift) itemAddress() string {
	for _, s := range []string{g.NftAddress, g.NftAddressC, g.Gift.Address, g.Gift.NftAddress} {
		if s != "" {
			return s
		}
	}
	return string(g.ID)
}

// salingResponse keeps gifts raw so each is decoded on its own.
type salingResponse struct {
	Gifts    []json.RawMessage `json:"gifts"`
	Data     []json.RawMessage `json:"data"`
	Items    []json.RawMessage `json:"items"`
	Listings []json.RawMessage `json:"listings"`
	Total    int               `json:"total"`
}

func (r salingResponse) records() []json.RawMessage {
	for _, s := range [][]json.RawMessage{r.Gifts, r.Data, r.Items, r.Listings} {
		if len(s) > 0 {
			return s
		}
	}
	return nil
}
