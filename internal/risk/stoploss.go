package risk

import "fmt"

// Exit names the level that closed a position.
type Exit string

const (
	ExitStopLoss   Exit = "stop_loss"
	ExitTakeProfit Exit = "take_profit"
)

// Levels are take-profit and stop-loss distances in percent of the entry
// price. A zero level is disabled.
type Levels struct {
	TakeProfitPct float64
	StopLossPct   float64
}

// StopLossDecision describes a triggered exit.
type StopLossDecision struct {
	Exit      Exit
	Price     float64
	Entry     float64
	Threshold float64
	Reason    string
}

// Check evaluates price against the levels of a position entered at entry.
// Long: SL at entry*(1-sl%), TP at entry*(1+tp%); short is mirrored. Stop loss
// wins when both trigger. It returns nil while the position should stay open.
func (l Levels) Check(long bool, entry, price float64) *StopLossDecision {
	if entry <= 0 || price <= 0 {
		return nil
	}

	if l.StopLossPct > 0 {
		if long {
			if th := entry * (1 - l.StopLossPct/100); price <= th {
				return decision(ExitStopLoss, price, entry, th)
			}
		} else if th := entry * (1 + l.StopLossPct/100); price >= th {
			return decision(ExitStopLoss, price, entry, th)
		}
	}

	if l.TakeProfitPct > 0 {
		if long {
			if th := entry * (1 + l.TakeProfitPct/100); price >= th {
				return decision(ExitTakeProfit, price, entry, th)
			}
		} else if th := entry * (1 - l.TakeProfitPct/100); price <= th {
			return decision(ExitTakeProfit, price, entry, th)
		}
	}
	return nil
}

func decision(exit Exit, price, entry, threshold float64) *StopLossDecision {
	name := "Take profit"
	if exit == ExitStopLoss {
		name = "Stop loss"
	}
	return &StopLossDecision{
		Exit:      exit,
		Price:     price,
		Entry:     entry,
		Threshold: threshold,
		Reason:    fmt.Sprintf("%s | Current Price = %v (Entry price was %v)", name, price, entry),
	}
}
