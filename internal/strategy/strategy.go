// Package strategy holds the signal logic of the four strategy variants and
// the wall-clock helpers their schedulers use. Nothing here owns state; the
// bot engine feeds it candles and ladder counters and acts on the answer.
package strategy

import (
	"binary-options-bot-go/internal/indicators"
	"binary-options-bot-go/internal/models"
	"math"
	"time"
)

const (
	// MomentumFallbackAfter is how long Momentum waits for a two-candle
	// signal before trading the raw color of the latest candle.
	MomentumFallbackAfter = 5 * time.Minute

	// FlashTick is the Flash re-evaluation period.
	FlashTick = 5 * time.Second

	// flatBandEpsilon 布林带宽度低于它的 10% 视为退化
	flatBandEpsilon = 1e-5
)

// FlashReason names the pattern that produced a Flash signal.
type FlashReason string

const (
	FlashNone        FlashReason = ""
	FlashLowerBounce FlashReason = "lower_bounce"
	FlashUpperBounce FlashReason = "upper_bounce"
	FlashCrossDown   FlashReason = "middle_cross_down"
	FlashCrossUp     FlashReason = "middle_cross_up"
	FlashFlatColor   FlashReason = "flat_band_color"
)

// FastTrend derives the Fast trend from the latest candle body. A doji falls
// back to the previous candle, then to lastTrend.
func FastTrend(candles []models.Candle, lastTrend models.Trend) (models.Trend, bool) {
	for i := len(candles) - 1; i >= 0 && i >= len(candles)-2; i-- {
		if trend, ok := candles[i].Color(); ok {
			return trend, true
		}
	}
	if lastTrend != "" {
		return lastTrend, true
	}
	return "", false
}

// MomentumSignal looks at the last two candles. Two greens mean call, two reds
// mean put. Otherwise, once no signal fired for MomentumFallbackAfter, the
// latest candle color is used.
func MomentumSignal(candles []models.Candle, lastSignalAt, now time.Time) (models.Trend, bool) {
	if len(candles) < 2 {
		return "", false
	}
	prev, last := candles[len(candles)-2], candles[len(candles)-1]
	switch {
	case prev.IsGreen() && last.IsGreen():
		return models.Call, true
	case prev.IsRed() && last.IsRed():
		return models.Put, true
	}
	if lastSignalAt.IsZero() || now.Sub(lastSignalAt) >= MomentumFallbackAfter {
		return last.Color()
	}
	return "", false
}

// FlashSignal evaluates 20-period, 2-sigma Bollinger Bands over 1-second
// candles. A degenerate band falls back to the latest candle color.
func FlashSignal(candles []models.Candle) (models.Trend, FlashReason, bool) {
	if len(candles) < indicators.BollingerPeriod {
		return "", FlashNone, false
	}
	bands := indicators.Bollinger(indicators.Closes(candles))
	n := len(candles)
	prev, last := candles[n-2], candles[n-1]
	prevBand, lastBand := bands[n-2], bands[n-1]

	width := lastBand.Width()
	if math.IsNaN(width) || width <= flatBandEpsilon*0.1 {
		if trend, ok := last.Color(); ok {
			return trend, FlashFlatColor, true
		}
		return "", FlashNone, false
	}

	switch {
	case prev.Close <= prevBand.Lower && last.IsGreen() && last.Close > lastBand.Lower:
		return models.Call, FlashLowerBounce, true
	case prev.Close >= prevBand.Upper && last.IsRed() && last.Close < lastBand.Upper:
		return models.Put, FlashUpperBounce, true
	case prev.Close > prevBand.Middle && last.Close < lastBand.Middle:
		return models.Put, FlashCrossDown, true
	case prev.Close < prevBand.Middle && last.Close > lastBand.Middle:
		return models.Call, FlashCrossUp, true
	}
	return "", FlashNone, false
}

// SelectTrend applies the repeat overrides to a freshly computed trend.
//
// Fast: fastRepeat wins, then the fresh trend, then the last signal trend
// while repeat mode is on. Other strategies: repeat mode replays the last
// signal trend, otherwise the fresh trend is used.
// fromSignal reports whether the chosen trend is a fresh signal.
func SelectTrend(name models.StrategyName, fresh models.Trend, ladder models.LadderState, fastRepeat models.Trend) (trend models.Trend, fromSignal bool, ok bool) {
	repeating := !ladder.ShouldUseSignal && ladder.LastSignalTrend != ""

	if name == models.StrategyFast {
		switch {
		case fastRepeat != "":
			return fastRepeat, false, true
		case fresh != "":
			return fresh, true, true
		case repeating:
			return ladder.LastSignalTrend, false, true
		}
		return "", false, false
	}

	switch {
	case repeating:
		return ladder.LastSignalTrend, false, true
	case fresh != "":
		return fresh, true, true
	}
	return "", false, false
}

// BidWindow is how long a sent bid blocks the next one when no
// acknowledgement arrives.
func BidWindow(name models.StrategyName) time.Duration {
	switch name {
	case models.StrategyFast, models.StrategyFlash:
		return 5 * time.Second
	}
	return 10 * time.Second
}

// CooldownCycles is how many scheduler ticks are skipped after a
// settlement-driven cooldown starts. Zero disables cooldown.
func CooldownCycles(name models.StrategyName) int {
	switch name {
	case models.StrategyMomentum:
		return 1
	case models.StrategyFlash:
		return 6
	}
	return 0
}
