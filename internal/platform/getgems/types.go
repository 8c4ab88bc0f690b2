package getgems

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type pageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

type addressRef struct {
	Address string `json:"address"`
}

// apiSale is the NftSaleFixPrice fragment. Other sale kinds (auctions)
// decode as an empty object and are skipped.
type apiSale struct {
	FullPrice   *decimal.Decimal `json:"fullPrice"`
	Owner       addressRef       `json:"owner"`
	Marketplace struct {
		Name string `json:"name"`
	} `json:"marketplace"`
	CreatedAt any `json:"createdAt"`
}

// APIItem is an NFT item node.
type APIItem struct {
	Address    string `json:"address"`
	Index      *int64 `json:"index"`
	Name       string `json:"name"`
	Collection struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	} `json:"collection"`
	Content struct {
		Image struct {
			OriginalURL string `json:"originalUrl"`
		} `json:"image"`
	} `json:"content"`
	Sale *apiSale `json:"sale"`
}

// itemEdge is one nftItemsOnSale edge. Edges are decoded one at a time.
type itemEdge struct {
	Cursor string  `json:"cursor"`
	Node   APIItem `json:"node"`
}

type itemsOnSaleData struct {
	NftItemsOnSale struct {
		Edges    []json.RawMessage `json:"edges"`
		PageInfo pageInfo          `json:"pageInfo"`
	} `json:"nftItemsOnSale"`
}

type itemByAddressData struct {
	NftItemByAddress *APIItem `json:"nftItemByAddress"`
}

// APISaleEvent is a node of nftSaleEvents.
type APISaleEvent struct {
	NftItem struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	} `json:"nftItem"`
	EventType string           `json:"eventType"`
	Price     *decimal.Decimal `json:"price"`
	Buyer     addressRef       `json:"buyer"`
	Seller    addressRef       `json:"seller"`
	CreatedAt any              `json:"createdAt"`
	TxHash    string           `json:"txHash"`
}

type saleEdge struct {
	Node APISaleEvent `json:"node"`
}

type saleEventsData struct {
	NftSaleEvents struct {
		Edges    []json.RawMessage `json:"edges"`
		PageInfo pageInfo          `json:"pageInfo"`
	} `json:"nftSaleEvents"`
}

const collectionSalesQuery = `
query CollectionSales($collectionAddress: String!, $first: Int!, $after: String) {
  nftItemsOnSale(
    filter: { collectionAddress: $collectionAddress, saleType: fix_price }
    first: $first
    after: $after
    sort: PRICE_ASC
  ) {
    edges {
      cursor
      node {
        address
        index
        name
        collection { address name }
        content { image { originalUrl } }
        sale {
          ... on NftSaleFixPrice {
            fullPrice
            owner { address }
            marketplace { name }
            createdAt
          }
        }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const itemSaleQuery = `
query NftSale($address: String!) {
  nftItemByAddress(address: $address) {
    address
    index
    name
    collection { address name }
    content { image { originalUrl } }
    sale {
      ... on NftSaleFixPrice {
        fullPrice
        owner { address }
        marketplace { name }
        createdAt
      }
    }
  }
}`

const salesHistoryQuery = `
query SalesHistory($collectionAddress: String!, $first: Int!, $after: String) {
  nftSaleEvents(
    filter: { collectionAddress: $collectionAddress, eventTypes: [sold] }
    first: $first
    after: $after
    sort: DATE_DESC
  ) {
    edges {
      node {
        nftItem { address name }
        eventType
        price
        buyer { address }
        seller { address }
        createdAt
        txHash
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`
