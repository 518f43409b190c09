package dispatch

import (
	"encoding/json"

	"github.com/guzus/dr-manhattan-sub000/internal/model"
)

// Row field sets are fixed per event type; the sink infers each file's
// schema from the first row and every later row must carry the same fields.

func bookRow(ev model.BookEvent) map[string]any {
	bids, _ := json.Marshal(ev.BidLevels())
	asks, _ := json.Marshal(ev.AskLevels())
	return map[string]any{
		"asset_id":     ev.AssetID,
		"market":       ev.Market,
		"timestamp_ms": ev.TimestampMillis(),
		"hash":         ev.Hash,
		"bids":         string(bids),
		"asks":         string(asks),
	}
}

func priceChangeRow(market string, timestampMillis int64, pc model.PriceChange) map[string]any {
	return map[string]any{
		"asset_id":     pc.AssetID,
		"market":       market,
		"timestamp_ms": timestampMillis,
		"price":        pc.Price,
		"size":         pc.Size,
		"side":         pc.Side,
		"hash":         pc.Hash,
		"best_bid":     pc.BestBid,
		"best_ask":     pc.BestAsk,
	}
}

func tickSizeRow(ev model.TickSizeChangeEvent) map[string]any {
	return map[string]any{
		"asset_id":      ev.AssetID,
		"market":        ev.Market,
		"timestamp_ms":  ev.TimestampMillis(),
		"old_tick_size": ev.OldTickSize,
		"new_tick_size": ev.NewTickSize,
		"hash":          ev.Hash,
	}
}

func lastTradeRow(ev model.LastTradePriceEvent) map[string]any {
	return map[string]any{
		"asset_id":     ev.AssetID,
		"market":       ev.Market,
		"timestamp_ms": ev.TimestampMillis(),
		"price":        ev.Price,
		"size":         ev.Size,
		"side":         ev.Side,
		"fee_rate_bps": ev.FeeRateBps,
		"hash":         ev.Hash,
	}
}
