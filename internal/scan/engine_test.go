package scan_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/marketscan/scanner/internal/marketcache"
	"github.com/marketscan/scanner/internal/scan"
	"github.com/marketscan/scanner/internal/strategy"
	"github.com/marketscan/scanner/pkg/types"
)

func risingM5Candles(n int, start time.Time, base float64) []types.Candle {
	var out []types.Candle
	for i := 0; i < n; i++ {
		price := base + float64(i)*0.0005
		out = append(out, types.Candle{
			Time:  start.Add(time.Duration(i) * 5 * time.Minute),
			Open:  decimal.NewFromFloat(price),
			High:  decimal.NewFromFloat(price + 0.0002),
			Low:   decimal.NewFromFloat(price - 0.0002),
			Close: decimal.NewFromFloat(price + 0.0001),
		})
	}
	return out
}

func newTestSpec() *strategy.StrategySpec {
	return &strategy.StrategySpec{
		StrategyID: "s1", Enabled: true, TrendTF: types.H1, EntryTF: types.M15,
		MinRR: 0.1, MinScore: 0.01, AllowedRegimes: []types.Regime{types.RegimeTrendBull, types.RegimeChop, types.RegimeRange, types.RegimeTrendBear},
		Detectors: []string{"d_trend"}, Epsilon: 0.05, FamilyBonus: 0.1,
	}
}

func TestRunStrategyDataGapWhenInsufficientBars(t *testing.T) {
	cache := marketcache.New(5000)
	cache.Upsert("EURUSD", risingM5Candles(5, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 1.1))

	registry := strategy.NewRegistry()
	strategy.RegisterBuiltins(registry)
	engine := scan.NewEngine(zap.NewNop(), cache, registry, scan.DefaultConfig())

	res := engine.RunStrategy("EURUSD", "scan-1", newTestSpec())
	if res.HasSetup {
		t.Fatalf("expected no setup with insufficient bars, got %+v", res)
	}
	if res.Explain.Reason != "DATA_GAP" {
		t.Fatalf("expected DATA_GAP, got %s", res.Explain.Reason)
	}
}

func TestRunStrategyProducesBuySetupOnRisingSeries(t *testing.T) {
	cache := marketcache.New(5000)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.Upsert("EURUSD", risingM5Candles(400, start, 1.1))

	registry := strategy.NewRegistry()
	strategy.RegisterBuiltins(registry)
	cfg := scan.DefaultConfig()
	cfg.MinTrendBars = 10
	cfg.MinEntryBars = 10
	engine := scan.NewEngine(zap.NewNop(), cache, registry, cfg)

	res := engine.RunStrategy("EURUSD", "scan-1", newTestSpec())
	if !res.HasSetup {
		t.Fatalf("expected a setup on a clearly rising series, got reason %s", res.Explain.Reason)
	}
	if res.Direction != "BUY" {
		t.Fatalf("expected BUY direction, got %s", res.Direction)
	}
	if res.RR <= 0 {
		t.Fatalf("expected positive rr, got %f", res.RR)
	}
}
