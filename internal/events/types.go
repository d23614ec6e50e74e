package events

import "time"

// Event enumerates the topics published by the trading core.
type Event string

const (
	// EventLog carries a LogEntry.
	EventLog Event = "log"
	// EventQuote carries a common.Quote after the price cache merged it.
	EventQuote Event = "quote"
	// EventTradeUpdate carries an order.Trade snapshot whenever a trade is
	// opened, filled, re-marked or closed.
	EventTradeUpdate Event = "trade.update"
	// EventStrategyState carries a StrategyState.
	EventStrategyState Event = "strategy.state"
)

// LogEntry is one line of the operator log.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
}

// StrategyState announces a strategy being started or stopped.
type StrategyState struct {
	ID      string `json:"id"`
	Running bool   `json:"running"`
}
