// Package types provides the domain types shared across the scanner:
// candles, timeframes, directions and regimes. These are intentionally
// free of any package-specific logic so every component can depend on them
// without import cycles.
package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe is a bucket duration code.
type Timeframe string

const (
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
)

// NormalizeTF upper-cases a timeframe code so callers may pass "m15" or "M15".
func NormalizeTF(tf string) string {
	return strings.ToUpper(strings.TrimSpace(tf))
}

// Minutes returns the bucket width of a timeframe, or 0 if unknown.
func (tf Timeframe) Minutes() int {
	switch Timeframe(NormalizeTF(string(tf))) {
	case M5:
		return 5
	case M15:
		return 15
	case M30:
		return 30
	case H1:
		return 60
	case H4:
		return 240
	case D1:
		return 1440
	default:
		return 0
	}
}

// Direction is a trade side.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
	NA   Direction = "NA"
)

// NormalizeDirection upper-cases and validates a direction string, falling
// back to NA for anything unrecognized.
func NormalizeDirection(d string) Direction {
	switch strings.ToUpper(strings.TrimSpace(d)) {
	case string(Buy):
		return Buy
	case string(Sell):
		return Sell
	default:
		return NA
	}
}

// Regime is a coarse market-structure classification.
type Regime string

const (
	RegimeRange     Regime = "RANGE"
	RegimeChop      Regime = "CHOP"
	RegimeTrendBull Regime = "TREND_BULL"
	RegimeTrendBear Regime = "TREND_BEAR"
)

// AllRegimes lists every valid regime, used for allow-list validation.
func AllRegimes() []Regime {
	return []Regime{RegimeRange, RegimeChop, RegimeTrendBull, RegimeTrendBear}
}

// Candle is an immutable OHLC bar, keyed by Time within a symbol.
// Invariant: Low <= min(Open, Close) <= max(Open, Close) <= High.
type Candle struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume,omitempty"`
}

// Valid reports whether the candle satisfies the OHLC ordering invariant.
func (c Candle) Valid() bool {
	hi := decimal.Max(c.Open, c.Close)
	lo := decimal.Min(c.Open, c.Close)
	return !c.Low.GreaterThan(lo) && !hi.GreaterThan(c.High)
}
