// Package marketcache implements the thread-safe, process-local store of
// per-symbol 5m candles and their derived resamples, plus the pure
// Resample function used to compute them.
package marketcache

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/marketscan/scanner/pkg/atomicio"
	"github.com/marketscan/scanner/pkg/types"
)

const defaultMaxLen = 5000

type resampleEntry struct {
	lastSourceTime time.Time
	candles        []types.Candle
}

// Stats tracks cache hit/miss counters, supplementing the core contract
// with the observability the original Python cache exposed.
type Stats struct {
	MarketHit    int64
	MarketMiss   int64
	ResampleHit  int64
	ResampleMiss int64
}

// ResampleMeta carries per-call timing, useful for debug/explain payloads.
type ResampleMeta struct {
	MarketCacheHit   bool
	MarketCacheGetMS float64
	ResampleCacheHit bool
	ResampleMS       float64
	M5LastTS         int64
}

// Cache is the thread-safe market-data cache. A single mutex guards both
// the 5m series maps and the resample map so upsert and invalidation are
// always atomic together.
type Cache struct {
	mu      sync.RWMutex
	series  map[string][]types.Candle
	resamp  map[string]map[types.Timeframe]resampleEntry
	maxLen  int
	stats   Stats
}

// New returns an empty cache bounded to maxLen candles per symbol (0 uses
// the default of 5000).
func New(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &Cache{
		series: make(map[string][]types.Candle),
		resamp: make(map[string]map[types.Timeframe]resampleEntry),
		maxLen: maxLen,
	}
}

// Upsert merges candles into a symbol's series by time, keeps the series
// sorted and truncated to maxLen, and invalidates all (symbol, *) resample
// entries if the new last timestamp strictly exceeds the previous one.
// Malformed candles (failing the OHLC invariant) are silently skipped.
func (c *Cache) Upsert(symbol string, candles []types.Candle) {
	if len(candles) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing := c.series[symbol]
	var prevLast time.Time
	if len(existing) > 0 {
		prevLast = existing[len(existing)-1].Time
	}

	byTime := make(map[int64]types.Candle, len(existing)+len(candles))
	for _, cd := range existing {
		byTime[cd.Time.UnixNano()] = cd
	}
	for _, cd := range candles {
		if !cd.Valid() {
			continue
		}
		byTime[cd.Time.UnixNano()] = cd
	}

	merged := make([]types.Candle, 0, len(byTime))
	for _, cd := range byTime {
		merged = append(merged, cd)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Time.Before(merged[j].Time) })

	if len(merged) > c.maxLen {
		merged = merged[len(merged)-c.maxLen:]
	}

	c.series[symbol] = merged

	var newLast time.Time
	if len(merged) > 0 {
		newLast = merged[len(merged)-1].Time
	}

	if prevLast.IsZero() || newLast.After(prevLast) {
		delete(c.resamp, symbol)
	}
}

// GetCandles returns a copy of a symbol's 5m series.
func (c *Cache) GetCandles(symbol string) []types.Candle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneCandles(c.series[symbol])
}

// GetCandlesSince returns candles with Time >= ts.
func (c *Cache) GetCandlesSince(symbol string, ts time.Time) []types.Candle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src := c.series[symbol]
	out := make([]types.Candle, 0, len(src))
	for _, cd := range src {
		if !cd.Time.Before(ts) {
			out = append(out, cd)
		}
	}
	return out
}

// GetLastTimestamp returns the last candle's time for a symbol, or the zero
// time if the symbol is unknown.
func (c *Cache) GetLastTimestamp(symbol string) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.series[symbol]
	if len(s) == 0 {
		return time.Time{}
	}
	return s[len(s)-1].Time
}

// GetAllSymbols returns every symbol currently tracked.
func (c *Cache) GetAllSymbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.series))
	for s := range c.series {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// GetResampled returns the resampled series for (symbol, tf), serving from
// cache when the cached last-source-time still matches the current 5m
// series, and recomputing (then storing) otherwise.
func (c *Cache) GetResampled(symbol string, tf types.Timeframe) ([]types.Candle, error) {
	out, _, err := c.getResampled(symbol, tf, false)
	return out, err
}

// GetResampledWithMeta is GetResampled plus timing/cache-hit metadata for
// debug/explain payloads.
func (c *Cache) GetResampledWithMeta(symbol string, tf types.Timeframe) ([]types.Candle, ResampleMeta, error) {
	return c.getResampled(symbol, tf, true)
}

func (c *Cache) getResampled(symbol string, tf types.Timeframe, withMeta bool) ([]types.Candle, ResampleMeta, error) {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	series := c.series[symbol]
	var lastTS time.Time
	if len(series) > 0 {
		lastTS = series[len(series)-1].Time
	}

	var meta ResampleMeta
	meta.M5LastTS = lastTS.Unix()

	if tf == types.M5 {
		c.stats.MarketHit++
		meta.MarketCacheHit = true
		meta.MarketCacheGetMS = msSince(start)
		return cloneCandles(series), meta, nil
	}

	byTF, ok := c.resamp[symbol]
	if ok {
		if entry, ok := byTF[tf]; ok && entry.lastSourceTime.Equal(lastTS) {
			c.stats.ResampleHit++
			meta.ResampleCacheHit = true
			meta.MarketCacheGetMS = msSince(start)
			return cloneCandles(entry.candles), meta, nil
		}
	}

	c.stats.ResampleMiss++
	rStart := time.Now()
	resampled, err := Resample(series, tf)
	meta.ResampleMS = msSince(rStart)
	if err != nil {
		return nil, meta, err
	}

	if byTF == nil {
		byTF = make(map[types.Timeframe]resampleEntry)
		c.resamp[symbol] = byTF
	}
	byTF[tf] = resampleEntry{lastSourceTime: lastTS, candles: resampled}

	meta.MarketCacheGetMS = msSince(start)
	return cloneCandles(resampled), meta, nil
}

// Stats returns a copy of the current hit/miss counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// ResetStats zeroes the hit/miss counters.
func (c *Cache) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = Stats{}
}

// snapshot is the on-disk cache format: {version:1, symbols:{SYMBOL:[...]}}.
type snapshot struct {
	Version int                         `json:"version"`
	Symbols map[string][]candleSnapshot `json:"symbols"`
}

type candleSnapshot struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume,omitempty"`
}

// SaveSnapshot serializes the whole cache to path atomically, matching the
// storage format `{version:1, symbols:{SYMBOL:[{time,open,high,low,close,volume?}]}}`.
func (c *Cache) SaveSnapshot(path string) error {
	c.mu.RLock()
	snap := snapshot{Version: 1, Symbols: make(map[string][]candleSnapshot, len(c.series))}
	for sym, candles := range c.series {
		cs := make([]candleSnapshot, 0, len(candles))
		for _, cd := range candles {
			o, _ := cd.Open.Float64()
			h, _ := cd.High.Float64()
			l, _ := cd.Low.Float64()
			cl, _ := cd.Close.Float64()
			v, _ := cd.Volume.Float64()
			cs = append(cs, candleSnapshot{Time: cd.Time.UTC(), Open: o, High: h, Low: l, Close: cl, Volume: v})
		}
		snap.Symbols[sym] = cs
	}
	c.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return atomicio.WriteFile(path, data, 0o644)
}

// LoadSnapshot replaces the cache contents from a previously saved snapshot.
func (c *Cache) LoadSnapshot(path string) error {
	data, err := readFile(path)
	if err != nil {
		return err
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.series = make(map[string][]types.Candle, len(snap.Symbols))
	c.resamp = make(map[string]map[types.Timeframe]resampleEntry)

	for sym, cs := range snap.Symbols {
		candles := make([]types.Candle, 0, len(cs))
		for _, s := range cs {
			candles = append(candles, types.Candle{
				Time:   s.Time.UTC(),
				Open:   decFromFloat(s.Open),
				High:   decFromFloat(s.High),
				Low:    decFromFloat(s.Low),
				Close:  decFromFloat(s.Close),
				Volume: decFromFloat(s.Volume),
			})
		}
		sort.Slice(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
		c.series[sym] = candles
	}

	return nil
}

func cloneCandles(in []types.Candle) []types.Candle {
	if in == nil {
		return nil
	}
	out := make([]types.Candle, len(in))
	copy(out, in)
	return out
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
