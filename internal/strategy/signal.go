package strategy

import (
	"signal-trader/internal/candles"
	"signal-trader/internal/indicators"
)

// Signal is the direction a variant asks for.
type Signal int

const (
	SignalNone  Signal = 0
	SignalLong  Signal = 1
	SignalShort Signal = -1
)

func (s Signal) String() string {
	switch s {
	case SignalLong:
		return "long"
	case SignalShort:
		return "short"
	}
	return "none"
}

// evaluator is one signal variant.
type evaluator interface {
	evaluate(s *candles.Series) Signal
	// everyTick reports whether the variant runs on every trade while flat
	// instead of only on a new candle.
	everyTick() bool
}

func newEvaluator(cfg Config) evaluator {
	if cfg.Kind == KindBreakout {
		return breakout{minVolume: cfg.Breakout.MinVolume}
	}
	return technical{p: *cfg.Technical}
}

// technical evaluates RSI and MACD on the second to last candle, the last one
// still forming.
type technical struct {
	p TechnicalParams
}

func (technical) everyTick() bool { return false }

func (t technical) evaluate(s *candles.Series) Signal {
	closes := s.Closes()
	if len(closes) < t.p.RSILength+2 {
		return SignalNone
	}
	rsi, err := indicators.RSI(closes, t.p.RSILength)
	if err != nil {
		return SignalNone
	}
	macd, sig, err := indicators.MACD(closes, t.p.EMAFast, t.p.EMASlow, t.p.EMASignal)
	if err != nil {
		return SignalNone
	}

	i := len(closes) - 2
	switch {
	case rsi[i] < 30 && macd[i] > sig[i]:
		return SignalLong
	case rsi[i] > 70 && macd[i] < sig[i]:
		return SignalShort
	}
	return SignalNone
}

// breakout compares the forming candle with the previous one.
type breakout struct {
	minVolume float64
}

func (breakout) everyTick() bool { return true }

func (b breakout) evaluate(s *candles.Series) Signal {
	if s.Len() < 2 {
		return SignalNone
	}
	cur, prev := s.At(-1), s.At(-2)
	if cur.Volume <= b.minVolume {
		return SignalNone
	}
	switch {
	case cur.Close > prev.High:
		return SignalLong
	case cur.Close < prev.Low:
		return SignalShort
	}
	return SignalNone
}
