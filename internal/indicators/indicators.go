// Package indicators wraps github.com/cinar/indicator for the strategies.
// All functions are pure and take candle closes oldest first.
package indicators

import (
	"binary-options-bot-go/internal/models"
	"math"

	"github.com/cinar/indicator"
)

// BollingerPeriod and BollingerMultiplier are fixed by the library.
const (
	BollingerPeriod     = 20
	BollingerMultiplier = 2.0
)

// Band is one Bollinger Band reading.
type Band struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Width returns upper minus lower. NaN propagates.
func (b Band) Width() float64 { return b.Upper - b.Lower }

// Closes extracts close prices.
func Closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// EMA returns the exponential moving average series.
func EMA(period int, closes []float64) []float64 {
	if period <= 0 || len(closes) == 0 {
		return nil
	}
	return indicator.Ema(period, closes)
}

// RSI returns the 14-period relative strength index series.
func RSI(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	_, rsi := indicator.Rsi(closes)
	return rsi
}

// MACD returns the 12/26 MACD line and its 9-period signal line.
func MACD(closes []float64) (macd, signal []float64) {
	if len(closes) == 0 {
		return nil, nil
	}
	return indicator.Macd(closes)
}

// Bollinger returns the 20-period, 2-sigma bands for every close.
// Readings before the 20th close are partial windows.
func Bollinger(closes []float64) []Band {
	if len(closes) == 0 {
		return nil
	}
	middle, upper, lower := indicator.BollingerBands(closes)
	bands := make([]Band, len(closes))
	for i := range closes {
		bands[i] = Band{Upper: upper[i], Middle: middle[i], Lower: lower[i]}
		// sqrt of a rounding-negative variance yields NaN on a flat series
		if math.IsNaN(bands[i].Upper) || math.IsNaN(bands[i].Lower) {
			bands[i].Upper = middle[i]
			bands[i].Lower = middle[i]
		}
	}
	return bands
}

// Last returns the final value of a series, or NaN when empty.
func Last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}
