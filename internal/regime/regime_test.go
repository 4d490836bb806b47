package regime_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketscan/scanner/internal/regime"
	"github.com/marketscan/scanner/pkg/types"
)

func mkCandle(i int, hi, lo float64) types.Candle {
	return types.Candle{
		Time:  time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC),
		Open:  decimal.NewFromFloat((hi + lo) / 2),
		High:  decimal.NewFromFloat(hi),
		Low:   decimal.NewFromFloat(lo),
		Close: decimal.NewFromFloat((hi + lo) / 2),
	}
}

func TestClassifyInsufficientBarsIsChop(t *testing.T) {
	res := regime.Classify([]types.Candle{mkCandle(0, 1, 0.9)})
	if res.Regime != types.RegimeChop {
		t.Fatalf("expected CHOP for insufficient bars, got %s", res.Regime)
	}
}

func TestClassifyRisingStructureIsTrendBull(t *testing.T) {
	var candles []types.Candle
	base := 1.0
	for i := 0; i < 10; i++ {
		candles = append(candles, mkCandle(i, base+float64(i)*0.1+0.05, base+float64(i)*0.1))
	}
	res := regime.Classify(candles)
	if res.Regime != types.RegimeTrendBull {
		t.Fatalf("expected TREND_BULL, got %s (%v)", res.Regime, res.Evidence)
	}
}

func TestClassifyFallingStructureIsTrendBear(t *testing.T) {
	var candles []types.Candle
	base := 2.0
	for i := 0; i < 10; i++ {
		candles = append(candles, mkCandle(i, base-float64(i)*0.1+0.05, base-float64(i)*0.1))
	}
	res := regime.Classify(candles)
	if res.Regime != types.RegimeTrendBear {
		t.Fatalf("expected TREND_BEAR, got %s (%v)", res.Regime, res.Evidence)
	}
}
