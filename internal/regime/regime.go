// Package regime classifies trend-timeframe candle structure into one of
// {RANGE, CHOP, TREND_BULL, TREND_BEAR}, replacing the teacher's HMM-based
// taxonomy with the structure-based higher-highs/higher-lows classifier
// the specification calls for, while keeping the teacher's
// confidence-scored, evidence-carrying result shape.
package regime

import (
	"github.com/marketscan/scanner/pkg/types"
)

// Result is a classification outcome with supporting numeric evidence.
type Result struct {
	Regime     types.Regime
	Confidence float64
	Evidence   map[string]any
}

// swingWindow is the number of recent candles examined for swing
// structure; small enough to stay cheap per (user, symbol) scan.
const swingWindow = 20

// Classify derives a regime from the structure of a trend-timeframe
// series: a run of rising swing highs and swing lows is TREND_BULL, a run
// of falling swing highs and lows is TREND_BEAR, a tight high/low range is
// RANGE, and anything else (mixed swings) is CHOP. A series with too few
// swing points is judged from its bars' own highs and lows when those all
// rise or all fall, and is CHOP otherwise.
func Classify(candles []types.Candle) Result {
	if len(candles) < 4 {
		return Result{Regime: types.RegimeChop, Confidence: 0, Evidence: map[string]any{"reason": "insufficient_bars"}}
	}

	window := candles
	if len(window) > swingWindow {
		window = window[len(window)-swingWindow:]
	}

	highs, lows := swingPoints(window)
	if len(highs) < 2 || len(lows) < 2 {
		// A series that never pulls back forms no swing points; when every
		// bar's high and low move the same way, the bars are the structure.
		barHighs, barLows := make([]float64, 0, len(window)), make([]float64, 0, len(window))
		for _, c := range window {
			h, _ := c.High.Float64()
			l, _ := c.Low.Float64()
			barHighs = append(barHighs, h)
			barLows = append(barLows, l)
		}
		rising := isMonotonic(barHighs, true) && isMonotonic(barLows, true)
		falling := isMonotonic(barHighs, false) && isMonotonic(barLows, false)
		if !rising && !falling {
			return Result{Regime: types.RegimeChop, Confidence: 0, Evidence: map[string]any{"reason": "insufficient_swings"}}
		}
		highs, lows = barHighs, barLows
	}

	risingHighs := isMonotonic(highs, true)
	risingLows := isMonotonic(lows, true)
	fallingHighs := isMonotonic(highs, false)
	fallingLows := isMonotonic(lows, false)

	rangeWidth, rangePct := rangeStats(window)

	evidence := map[string]any{
		"swing_highs":  len(highs),
		"swing_lows":   len(lows),
		"range_width":  rangeWidth,
		"range_pct":    rangePct,
	}

	switch {
	case risingHighs && risingLows:
		return Result{Regime: types.RegimeTrendBull, Confidence: 0.8, Evidence: evidence}
	case fallingHighs && fallingLows:
		return Result{Regime: types.RegimeTrendBear, Confidence: 0.8, Evidence: evidence}
	case rangePct < 0.02:
		return Result{Regime: types.RegimeRange, Confidence: 0.6, Evidence: evidence}
	default:
		return Result{Regime: types.RegimeChop, Confidence: 0.4, Evidence: evidence}
	}
}

// swingPoints extracts local highs and lows (a bar whose high/low is an
// extreme among its immediate neighbors) as a simple, deterministic swing
// detector.
func swingPoints(candles []types.Candle) (highs, lows []float64) {
	for i := 1; i < len(candles)-1; i++ {
		prev, cur, next := candles[i-1], candles[i], candles[i+1]
		if cur.High.GreaterThanOrEqual(prev.High) && cur.High.GreaterThanOrEqual(next.High) {
			h, _ := cur.High.Float64()
			highs = append(highs, h)
		}
		if cur.Low.LessThanOrEqual(prev.Low) && cur.Low.LessThanOrEqual(next.Low) {
			l, _ := cur.Low.Float64()
			lows = append(lows, l)
		}
	}
	return
}

func isMonotonic(vals []float64, increasing bool) bool {
	if len(vals) < 2 {
		return false
	}
	for i := 1; i < len(vals); i++ {
		if increasing && vals[i] < vals[i-1] {
			return false
		}
		if !increasing && vals[i] > vals[i-1] {
			return false
		}
	}
	return true
}

func rangeStats(candles []types.Candle) (width, pct float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	hi, _ := candles[0].High.Float64()
	lo, _ := candles[0].Low.Float64()
	for _, c := range candles {
		h, _ := c.High.Float64()
		l, _ := c.Low.Float64()
		if h > hi {
			hi = h
		}
		if l < lo {
			lo = l
		}
	}
	width = hi - lo
	if lo != 0 {
		pct = width / lo
	}
	return
}
