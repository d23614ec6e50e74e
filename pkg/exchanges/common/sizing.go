package common

import "math"

// LinearSize converts balancePct of balance into a quantity at price, rounded
// down to a lot multiple so the order never exceeds the allocated balance.
func LinearSize(balance, balancePct, price, lot float64) float64 {
	if price <= 0 {
		return 0
	}
	raw := (balance * balancePct / 100) / price
	return RoundDownToStep(raw, lot)
}

// ContractsSize converts balancePct of a margin balance into a whole number of
// contracts. Inverse contracts are valued at multiplier/price, the others at
// multiplier*price. The sign carried by inverse multipliers is ignored here.
func ContractsSize(balance, balancePct, price float64, c Contract) float64 {
	mult := math.Abs(c.Multiplier)
	if price <= 0 || mult == 0 {
		return 0
	}
	alloc := balance * balancePct / 100
	var n float64
	if c.Inverse {
		n = alloc / (mult / price)
	} else {
		n = alloc / (mult * price)
	}
	return math.Trunc(n)
}
