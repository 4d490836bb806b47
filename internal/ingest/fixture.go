package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketscan/scanner/pkg/types"
)

// FixtureProvider is an in-memory Provider seeded by tests and local
// development, standing in for a real market-data integration (which the
// specification explicitly leaves out of scope beyond the Provider
// contract itself).
type FixtureProvider struct {
	mu     sync.RWMutex
	series map[string][]types.Candle
}

// NewFixtureProvider constructs an empty fixture.
func NewFixtureProvider() *FixtureProvider {
	return &FixtureProvider{series: map[string][]types.Candle{}}
}

// Seed replaces the candle series for symbol.
func (f *FixtureProvider) Seed(symbol string, candles []types.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]types.Candle, len(candles))
	copy(cp, candles)
	f.series[symbol] = cp
}

// GetCandles returns up to limit of the most recent seeded candles for
// symbol at tf (only M5 is meaningfully seeded; other timeframes return
// whatever was seeded verbatim, matching a provider that also resamples
// server-side).
func (f *FixtureProvider) GetCandles(_ context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Candle, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	all, ok := f.series[symbol]
	if !ok {
		return nil, fmt.Errorf("fixture provider: unknown symbol %q", symbol)
	}
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]types.Candle, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}

// GenerateFlat builds n synthetic 5m candles starting at start, all equal
// to price, for use in tests and local smoke-runs.
func GenerateFlat(start time.Time, n int, price float64) []types.Candle {
	p := decimal.NewFromFloat(price)
	var out []types.Candle
	for i := 0; i < n; i++ {
		out = append(out, types.Candle{
			Time:   start.Add(time.Duration(i) * 5 * time.Minute),
			Open:   p,
			High:   p,
			Low:    p,
			Close:  p,
			Volume: decimal.Zero,
		})
	}
	return out
}
