// Package candles aggregates trade ticks into fixed-width OHLCV candles.
package candles

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"signal-trader/pkg/exchanges/common"
)

// Result classifies a tick.
type Result int

const (
	SameCandle Result = iota
	NewCandle
)

func (r Result) String() string {
	if r == NewCandle {
		return "new_candle"
	}
	return "same_candle"
}

// StaleAfter is how old a tick may be before a warning is logged.
const StaleAfter = 2 * time.Second

// MaxCandles bounds the history kept per series.
const MaxCandles = 5000

// Series is one ordered candle history. It is not safe for concurrent use;
// the owning strategy serialises access.
type Series struct {
	candles []common.Candle
	width   int64
	label   string
	log     *zap.Logger
	now     func() time.Time
}

// NewSeries seeds a series with history, oldest first.
func NewSeries(tf common.Timeframe, history []common.Candle, label string, log *zap.Logger) (*Series, error) {
	width, err := tf.Millis()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	cs := make([]common.Candle, len(history))
	copy(cs, history)
	s := &Series{candles: cs, width: width, label: label, log: log, now: time.Now}
	s.trim()
	return s, nil
}

// ErrEmpty is returned by Last on a series with no candles.
var ErrEmpty = errors.New("empty candle series")

// Update folds one tick into the series. With the last bucket starting at T:
// ts < T+W updates in place, T+W <= ts < T+2W opens one candle at T+W, and
// later ticks first fill every skipped bucket with a flat zero-volume candle
// at the previous close. It returns the classification and the number of
// synthetic candles added. Below MaxCandles a gap of k buckets grows the series
// by k+1; at the cap the oldest candles make room.
func (s *Series) Update(price, size float64, ts int64) (Result, int) {
	if lag := s.now().UnixMilli() - ts; lag >= StaleAfter.Milliseconds() {
		s.log.Warn("stale trade", zap.String("series", s.label), zap.Int64("lag_ms", lag))
	}

	if len(s.candles) == 0 {
		start := ts - ts%s.width
		s.candles = append(s.candles, common.Candle{Timestamp: start, Open: price, High: price, Low: price, Close: price, Volume: size})
		return NewCandle, 0
	}

	last := &s.candles[len(s.candles)-1]

	if ts < last.Timestamp+s.width {
		last.Close = price
		last.Volume += size
		if price > last.High {
			last.High = price
		}
		if price < last.Low {
			last.Low = price
		}
		return SameCandle, 0
	}

	missing := 0
	if ts >= last.Timestamp+2*s.width {
		missing = int((ts-last.Timestamp)/s.width) - 1
		s.log.Info("missing candles", zap.String("series", s.label),
			zap.Int("count", missing), zap.Int64("tick_ts", ts), zap.Int64("last_ts", last.Timestamp))
		prev := *last
		for i := 0; i < missing; i++ {
			prev = common.Candle{
				Timestamp: prev.Timestamp + s.width,
				Open:      prev.Close,
				High:      prev.Close,
				Low:       prev.Close,
				Close:     prev.Close,
			}
			s.candles = append(s.candles, prev)
		}
	}

	start := s.candles[len(s.candles)-1].Timestamp + s.width
	s.candles = append(s.candles, common.Candle{Timestamp: start, Open: price, High: price, Low: price, Close: price, Volume: size})
	s.trim()
	if missing == 0 {
		s.log.Debug("new candle", zap.String("series", s.label), zap.Int64("ts", start))
	}
	return NewCandle, missing
}

// trim drops the oldest candles beyond MaxCandles.
func (s *Series) trim() {
	if len(s.candles) > MaxCandles {
		s.candles = append(s.candles[:0:0], s.candles[len(s.candles)-MaxCandles:]...)
	}
}

// Len returns the number of candles.
func (s *Series) Len() int { return len(s.candles) }

// Last returns the current (forming) candle.
func (s *Series) Last() (common.Candle, error) {
	if len(s.candles) == 0 {
		return common.Candle{}, ErrEmpty
	}
	return s.candles[len(s.candles)-1], nil
}

// At returns the candle at i; negative i counts from the end.
func (s *Series) At(i int) common.Candle {
	if i < 0 {
		i += len(s.candles)
	}
	return s.candles[i]
}

// Closes returns the close prices, oldest first.
func (s *Series) Closes() []float64 {
	out := make([]float64, len(s.candles))
	for i, c := range s.candles {
		out[i] = c.Close
	}
	return out
}

// Candles returns a copy of the history.
func (s *Series) Candles() []common.Candle {
	out := make([]common.Candle, len(s.candles))
	copy(out, s.candles)
	return out
}
