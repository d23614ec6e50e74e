// Package indicators wraps the TA-Lib functions the strategies use.
package indicators

import (
	"errors"

	"github.com/markcheno/go-talib"
)

// ErrShortSeries means there are not enough values for the requested lookback.
var ErrShortSeries = errors.New("not enough data")

// RSI returns Wilder's relative strength index; values before the lookback are 0.
func RSI(closes []float64, length int) ([]float64, error) {
	if length < 2 || len(closes) <= length {
		return nil, ErrShortSeries
	}
	return talib.Rsi(closes, length), nil
}

// MACD returns the fast-minus-slow EMA line and its signal EMA.
func MACD(closes []float64, fast, slow, signal int) (line, sig []float64, err error) {
	if fast < 1 || slow <= fast || signal < 1 || len(closes) < slow+signal {
		return nil, nil, ErrShortSeries
	}
	line, sig, _ = talib.Macd(closes, fast, slow, signal)
	return line, sig, nil
}
