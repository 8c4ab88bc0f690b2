package domain

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EventType is the message type delivered to subscribers.
type EventType string

const (
	EventPriceUpdate    EventType = "price_update"
	EventNewListing     EventType = "new_listing"
	EventListingRemoved EventType = "listing_removed"
	EventHeartbeat      EventType = "heartbeat"
	EventError          EventType = "error"
)

// PriceEvent is one price-affecting mutation produced by a sync cycle.
type PriceEvent struct {
	Type            EventType        `json:"type"`
	ItemID          int64            `json:"item_id"`
	CollectionID    int64            `json:"collection_id"`
	PriceTon        *decimal.Decimal `json:"price_ton"`
	PriceRaw        *decimal.Decimal `json:"price_raw,omitempty"`
	Currency        Currency         `json:"currency,omitempty"`
	MarketSlug      string           `json:"market_slug,omitempty"`
	MarketListingID string           `json:"market_listing_id,omitempty"`
	SellerAddress   string           `json:"seller_address,omitempty"`
	ListingURL      string           `json:"listing_url,omitempty"`
	ItemAddress     string           `json:"item_address,omitempty"`
	IsOnSale        *bool            `json:"is_on_sale,omitempty"`
	Timestamp       time.Time        `json:"-"`
}

// Envelope is the JSON body published on the fan-out channel:
// {"type": ..., "data": {...}, "timestamp": ...}.
type Envelope struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp string    `json:"timestamp"`
}

// NewEnvelope wraps data for delivery.
func NewEnvelope(t EventType, data any, ts time.Time) Envelope {
	return Envelope{Type: t, Data: data, Timestamp: ts.UTC().Format(time.RFC3339Nano)}
}

// ScopeKind is the fan-out granularity a subscriber registers against.
type ScopeKind string

const (
	ScopeAll        ScopeKind = "all"
	ScopeCollection ScopeKind = "collection"
	ScopeItem       ScopeKind = "item"
)

// Scope identifies one fan-out topic. ID is zero for ScopeAll.
type Scope struct {
	Kind ScopeKind
	ID   int64
}

// AllScope is the global scope.
var AllScope = Scope{Kind: ScopeAll}

// CollectionScope returns the scope for one collection.
func CollectionScope(id int64) Scope { return Scope{Kind: ScopeCollection, ID: id} }

// ItemScope returns the scope for one item.
func ItemScope(id int64) Scope { return Scope{Kind: ScopeItem, ID: id} }

// String renders the scope as "all", "collection:{id}" or "item:{id}".
func (s Scope) String() string {
	if s.Kind == ScopeAll {
		return string(ScopeAll)
	}
	return string(s.Kind) + ":" + strconv.FormatInt(s.ID, 10)
}

// ChannelPrefix namespaces price channels on the bus.
const ChannelPrefix = "prices:"

// Channel returns the bus channel for the scope.
func (s Scope) Channel() string {
	return ChannelPrefix + s.String()
}

// ParseScope parses the output of Scope.String.
func ParseScope(s string) (Scope, error) {
	if s == string(ScopeAll) {
		return AllScope, nil
	}
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return Scope{}, fmt.Errorf("invalid scope %q", s)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return Scope{}, fmt.Errorf("invalid scope id in %q", s)
	}
	switch ScopeKind(kind) {
	case ScopeCollection, ScopeItem:
		return Scope{Kind: ScopeKind(kind), ID: n}, nil
	default:
		return Scope{}, fmt.Errorf("invalid scope kind in %q", s)
	}
}

// ScopeFromChannel parses a bus channel name back into a scope.
func ScopeFromChannel(channel string) (Scope, error) {
	rest, ok := strings.CutPrefix(channel, ChannelPrefix)
	if !ok {
		return Scope{}, fmt.Errorf("channel %q is not a price channel", channel)
	}
	return ParseScope(rest)
}

// EventScopes lists the three scopes an event is published to.
func EventScopes(e PriceEvent) []Scope {
	return []Scope{AllScope, CollectionScope(e.CollectionID), ItemScope(e.ItemID)}
}

// Publisher is what the orchestrator calls on every price-affecting mutation.
type Publisher interface {
	Publish(ctx context.Context, event PriceEvent) error
}

// EventSink receives a durable copy of published events (e.g. a Kafka topic).
type EventSink interface {
	Write(ctx context.Context, key string, value []byte) error
	Close() error
}
