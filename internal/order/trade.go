package order

import "signal-trader/pkg/exchanges/common"

// PositionSide is the direction of a trade.
type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
)

// EntrySide is the order side that opens the position.
func (s PositionSide) EntrySide() common.Side {
	if s == Long {
		return common.SideBuy
	}
	return common.SideSell
}

// TradeStatus is open until the exit order is accepted.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

// Trade is a strategy's record of one position attempt. Time (ms) is unique
// per strategy. EntryPrice stays 0 until the entry fill is confirmed.
type Trade struct {
	Time       int64           `json:"time"`
	Contract   common.Contract `json:"contract"`
	Strategy   string          `json:"strategy"`
	Side       PositionSide    `json:"side"`
	EntryPrice float64         `json:"entry_price"`
	Status     TradeStatus     `json:"status"`
	PnL        float64         `json:"pnl"`
	Quantity   float64         `json:"quantity"`
	EntryID    string          `json:"entry_id"`
}

// Entered reports whether the entry price is known.
func (t *Trade) Entered() bool { return t.EntryPrice > 0 }

// IsOpen reports whether the trade still holds a position.
func (t *Trade) IsOpen() bool { return t.Status == TradeOpen }
