package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/marketscan/scanner/pkg/types"
)

// RegisterBuiltins registers the illustrative sample detectors into r. The
// core only requires the detector contract (given a window of candles and
// params, return a hit with side, strength, and evidence, or nothing);
// production detector algorithms are an external collaborator per the
// scanner's scope.
func RegisterBuiltins(r *Registry) {
	r.Register("d_trend", func() Detector { return &trendDetector{} })
	r.Register("d_bounce", func() Detector { return &bounceDetector{} })
}

// trendDetector fires when the entry-timeframe series closes higher than
// it opened over the lookback window, a minimal illustrative momentum
// check standing in for a real trend-following primitive.
type trendDetector struct{}

func (d *trendDetector) Name() string   { return "d_trend" }
func (d *trendDetector) Family() string { return "trend" }

func (d *trendDetector) Detect(ctx ScanContext) (*Hit, error) {
	candles := ctx.EntryTFCandles
	if len(candles) < 2 {
		return nil, nil
	}

	first := candles[0]
	last := candles[len(candles)-1]

	if last.Close.GreaterThan(first.Open) {
		strength := changeStrength(first.Open, last.Close)
		return &Hit{
			Name: d.Name(), Family: d.Family(), Side: types.Buy, Strength: strength,
			Evidence: map[string]any{"open": first.Open.String(), "close": last.Close.String()},
		}, nil
	}
	if last.Close.LessThan(first.Open) {
		strength := changeStrength(first.Open, last.Close)
		return &Hit{
			Name: d.Name(), Family: d.Family(), Side: types.Sell, Strength: strength,
			Evidence: map[string]any{"open": first.Open.String(), "close": last.Close.String()},
		}, nil
	}
	return nil, nil
}

// bounceDetector fires when the last candle closes off its own low/high by
// more than half its range, standing in for a real reversal/bounce
// primitive.
type bounceDetector struct{}

func (d *bounceDetector) Name() string   { return "d_bounce" }
func (d *bounceDetector) Family() string { return "reversal" }

func (d *bounceDetector) Detect(ctx ScanContext) (*Hit, error) {
	candles := ctx.EntryTFCandles
	if len(candles) == 0 {
		return nil, nil
	}
	last := candles[len(candles)-1]

	rng := last.High.Sub(last.Low)
	if rng.IsZero() {
		return nil, nil
	}

	upperWick := last.High.Sub(last.Close)
	lowerWick := last.Close.Sub(last.Low)

	if lowerWick.GreaterThan(upperWick) {
		strength, _ := lowerWick.Div(rng).Float64()
		return &Hit{Name: d.Name(), Family: d.Family(), Side: types.Buy, Strength: clamp01(strength), Evidence: map[string]any{"lower_wick": lowerWick.String()}}, nil
	}
	if upperWick.GreaterThan(lowerWick) {
		strength, _ := upperWick.Div(rng).Float64()
		return &Hit{Name: d.Name(), Family: d.Family(), Side: types.Sell, Strength: clamp01(strength), Evidence: map[string]any{"upper_wick": upperWick.String()}}, nil
	}
	return nil, nil
}

// changeStrength expresses the relative move from `from` to `to` as a
// strength in [0,1], scaled so a 1% move saturates the score.
func changeStrength(from, to decimal.Decimal) float64 {
	if from.IsZero() {
		return 0
	}
	delta := to.Sub(from).Div(from).Abs()
	f, _ := delta.Mul(decimal.NewFromInt(100)).Float64()
	return clamp01(f)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
