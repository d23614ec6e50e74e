// Package pnl computes unrealized profit and loss of open positions.
package pnl

import "signal-trader/pkg/exchanges/common"

// Unrealized returns the PnL of a position of qty entered at entry, marked at
// the bid for longs and the ask for shorts. Linear contracts use price
// differences, inverse contracts use reciprocal prices; the contract multiplier
// carries its own sign. ok is false when the mark price is not known yet.
func Unrealized(c common.Contract, long bool, entry, qty float64, q common.Quote) (value float64, ok bool) {
	price := q.Ask
	if long {
		price = q.Bid
	}
	if entry <= 0 || price <= 0 {
		return 0, false
	}

	mult := c.PnLMultiplier()
	if c.Inverse {
		if long {
			return (1/entry - 1/price) * mult * qty, true
		}
		return (1/price - 1/entry) * mult * qty, true
	}
	if long {
		return (price - entry) * mult * qty, true
	}
	return (entry - price) * mult * qty, true
}
