package common

import (
	"math"
	"strconv"
	"strings"
)

// TickToDecimals counts the significant decimals of a tick or lot size,
// e.g. 0.01 → 2, 0.5 → 1, 1 → 0. Precision is capped at 8 decimals.
func TickToDecimals(tick float64) int {
	s := strings.TrimRight(strconv.FormatFloat(tick, 'f', 8, 64), "0")
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return 0
	}
	return len(s) - dot - 1
}

// RoundDownToStep floors v to a multiple of step and strips float noise.
func RoundDownToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	n := math.Floor(v/step + 1e-9)
	return roundDecimals(n*step, TickToDecimals(step))
}

// RoundToStep rounds v to the nearest multiple of step.
func RoundToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return roundDecimals(math.Round(v/step)*step, TickToDecimals(step))
}

// FormatDecimals renders v with exactly d decimals.
func FormatDecimals(v float64, d int) string {
	return strconv.FormatFloat(v, 'f', d, 64)
}

// FormatFloat renders v with the shortest exact representation.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func roundDecimals(v float64, d int) float64 {
	p := math.Pow(10, float64(d))
	return math.Round(v*p) / p
}
