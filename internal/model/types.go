package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Feed event types, as carried in the event_type discriminator.
const (
	EventBook           = "book"
	EventPriceChange    = "price_change"
	EventTickSizeChange = "tick_size_change"
	EventLastTradePrice = "last_trade_price"
)

// EventTypes lists every event type the feed can deliver, in the order the
// sink iterates them during finalization.
var EventTypes = []string{
	EventBook,
	EventPriceChange,
	EventTickSizeChange,
	EventLastTradePrice,
}

// CloseTimeLayout is the canonical close-time format: UTC, second precision.
const CloseTimeLayout = "2006-01-02T15:04:05Z"

// MarketRule selects which markets a crawler instance tracks. Rules are
// loaded from config at startup and never mutated.
type MarketRule struct {
	Name          string   `yaml:"name"`
	Slug          string   `yaml:"slug"`
	Keywords      []string `yaml:"keywords"`
	Rule          string   `yaml:"rule"`
	WindowMinutes int      `yaml:"window_minutes"`
	Prefix        string   `yaml:"prefix"`
	Freq          string   `yaml:"freq"`
}

// FreqLabel returns the rule's frequency label, falling back to the slug.
func (r MarketRule) FreqLabel() string {
	if r.Freq != "" {
		return r.Freq
	}
	return r.Slug
}

// AssetMeta describes one tradeable outcome token. Instances are created by
// the discovery poller, owned by the subscription state, and read by the
// dispatcher and the sink.
type AssetMeta struct {
	AssetID      string // CLOB token id
	MarketID     string // parent market (condition) id
	Question     string
	CloseTimeStr string // CloseTimeLayout, UTC
	Outcome      string
	Freq         string
	Prefix       string
}

// CloseTime parses the normalized close-time string.
func (m AssetMeta) CloseTime() (time.Time, error) {
	return time.Parse(CloseTimeLayout, m.CloseTimeStr)
}

// SubscribeMessage is the full-replace subscription sent on every new
// connection generation. The feed has no incremental add/remove; each
// generation re-declares its entire watch set.
type SubscribeMessage struct {
	Type      string   `json:"type"`       // always "MARKET"
	AssetsIDs []string `json:"assets_ids"` // field name fixed by the venue
}

// NewSubscribeMessage builds the subscription for a watch set.
func NewSubscribeMessage(assetIDs []string) SubscribeMessage {
	return SubscribeMessage{Type: "MARKET", AssetsIDs: assetIDs}
}

// Envelope carries the fields shared by every feed event. Type-specific
// payloads are decoded separately from the same raw bytes.
type Envelope struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Timestamp string `json:"timestamp"` // epoch millis as a string
	Hash      string `json:"hash"`
}

// TimestampMillis parses the envelope timestamp, returning 0 when absent or
// malformed.
func (e Envelope) TimestampMillis() int64 {
	if e.Timestamp == "" {
		return 0
	}
	var ms int64
	for _, c := range e.Timestamp {
		if c < '0' || c > '9' {
			return 0
		}
		ms = ms*10 + int64(c-'0')
	}
	return ms
}

// PriceLevel is one side entry of a book snapshot.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookEvent is a full order book snapshot for one asset.
type BookEvent struct {
	Envelope
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
	// Legacy field names still emitted by some feed versions.
	Buys  []PriceLevel `json:"buys"`
	Sells []PriceLevel `json:"sells"`
}

// BidLevels returns bids, preferring the current field name.
func (e BookEvent) BidLevels() []PriceLevel {
	if e.Bids != nil {
		return e.Bids
	}
	return e.Buys
}

// AskLevels returns asks, preferring the current field name.
func (e BookEvent) AskLevels() []PriceLevel {
	if e.Asks != nil {
		return e.Asks
	}
	return e.Sells
}

// PriceChangeEvent batches per-asset deltas in a single frame.
type PriceChangeEvent struct {
	Envelope
	PriceChanges []PriceChange `json:"price_changes"`
}

// PriceChange is one delta within a PriceChangeEvent. Each delta carries its
// own asset id and hash; the batch may span multiple assets.
type PriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
	Hash    string `json:"hash"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// TickSizeChangeEvent announces a tick size transition for one asset.
type TickSizeChangeEvent struct {
	Envelope
	OldTickSize string `json:"old_tick_size"`
	NewTickSize string `json:"new_tick_size"`
}

// LastTradePriceEvent reports the most recent trade for one asset.
type LastTradePriceEvent struct {
	Envelope
	Price      string `json:"price"`
	Size       string `json:"size"`
	Side       string `json:"side"`
	FeeRateBps string `json:"fee_rate_bps"`
}

// ParseJSONListString decodes a JSON-encoded list of strings, the encoding
// Gamma uses for clobTokenIds and outcomes. A bare JSON string becomes a
// one-element list; anything else falls back to comma splitting.
func ParseJSONListString(value string) []string {
	var parsed []string
	if err := json.Unmarshal([]byte(value), &parsed); err == nil {
		return parsed
	}
	var single string
	if err := json.Unmarshal([]byte(value), &single); err == nil {
		return []string{single}
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
