package common

import "fmt"

// Timeframe is a candle bucket width label such as "1m" or "4h".
type Timeframe string

var timeframeSeconds = map[Timeframe]int64{
	"1m":  60,
	"5m":  300,
	"15m": 900,
	"30m": 1800,
	"1h":  3600,
	"4h":  14400,
}

// Timeframes lists the supported widths in ascending order.
var Timeframes = []Timeframe{"1m", "5m", "15m", "30m", "1h", "4h"}

// Millis returns the bucket width in milliseconds.
func (tf Timeframe) Millis() (int64, error) {
	s, ok := timeframeSeconds[tf]
	if !ok {
		return 0, fmt.Errorf("unsupported timeframe %q", string(tf))
	}
	return s * 1000, nil
}

// Valid reports whether tf is supported.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeSeconds[tf]
	return ok
}

// bitmex only buckets trades into 1m, 5m, 1h and 1d bins.
var exchangeTimeframes = map[Exchange][]Timeframe{
	ExchangeBitmex: {"1m", "5m", "1h"},
}

// TimeframesFor lists the widths ex serves candles for.
func TimeframesFor(ex Exchange) []Timeframe {
	if tfs, ok := exchangeTimeframes[ex]; ok {
		return tfs
	}
	return Timeframes
}

// SupportedOn reports whether tf is valid and ex serves candles for it.
func (tf Timeframe) SupportedOn(ex Exchange) bool {
	for _, t := range TimeframesFor(ex) {
		if t == tf {
			return true
		}
	}
	return false
}
