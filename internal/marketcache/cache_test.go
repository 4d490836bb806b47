package marketcache_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/marketscan/scanner/internal/marketcache"
	"github.com/marketscan/scanner/pkg/types"
)

func TestUpsertSortedNoDuplicates(t *testing.T) {
	c := marketcache.New(0)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	c.Upsert("EURUSD", []types.Candle{
		mkCandle(base.Add(10*time.Minute), 1, 1, 1, 1),
		mkCandle(base, 1, 1, 1, 1),
	})
	c.Upsert("EURUSD", []types.Candle{
		mkCandle(base, 2, 2, 2, 2), // duplicate time, should replace not duplicate
		mkCandle(base.Add(5*time.Minute), 1, 1, 1, 1),
	})

	candles := c.GetCandles("EURUSD")
	if len(candles) != 3 {
		t.Fatalf("expected 3 distinct timestamps, got %d", len(candles))
	}
	for i := 1; i < len(candles); i++ {
		if !candles[i].Time.After(candles[i-1].Time) {
			t.Fatalf("candles not strictly ascending at index %d", i)
		}
	}
}

func TestUpsertEmptyIsNoop(t *testing.T) {
	c := marketcache.New(0)
	c.Upsert("EURUSD", nil)
	if len(c.GetCandles("EURUSD")) != 0 {
		t.Fatal("expected no-op on empty upsert")
	}
}

func TestResampleCacheInvalidationIsMonotonic(t *testing.T) {
	c := marketcache.New(0)
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	c.Upsert("XAUUSD", []types.Candle{
		mkCandle(base, 1, 1, 1, 1),
		mkCandle(base.Add(5*time.Minute), 1, 1, 1, 1),
	})

	l1, err := c.GetResampled("XAUUSD", types.H1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A second call with no upsert must be served from the resample cache,
	// not recomputed (we can only assert equality here; the cache-hit path
	// is exercised via the meta variant).
	l1b, meta, err := c.GetResampledWithMeta("XAUUSD", types.H1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !meta.ResampleCacheHit {
		t.Fatal("expected resample cache hit on unchanged series")
	}
	if len(l1b) != len(l1) {
		t.Fatalf("expected same-length result on cache hit")
	}

	// Upsert a newer candle -> invalidation -> recompute.
	c.Upsert("XAUUSD", []types.Candle{mkCandle(base.Add(10*time.Minute), 1, 1, 1, 1)})

	l2, meta2, err := c.GetResampledWithMeta("XAUUSD", types.H1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta2.ResampleCacheHit {
		t.Fatal("expected cache miss after upsert advanced last timestamp")
	}
	if len(l2) < len(l1) {
		t.Fatalf("expected resample length to grow or stay same, got %d < %d", len(l2), len(l1))
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := marketcache.New(0)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Upsert("EURUSD", []types.Candle{
		mkCandle(base, 1.1, 1.2, 1.0, 1.15),
		mkCandle(base.Add(5*time.Minute), 1.15, 1.25, 1.1, 1.2),
	})

	path := filepath.Join(t.TempDir(), "cache.json")
	if err := c.SaveSnapshot(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	c2 := marketcache.New(0)
	if err := c2.LoadSnapshot(path); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	before := c.GetCandles("EURUSD")
	after := c2.GetCandles("EURUSD")
	if len(before) != len(after) {
		t.Fatalf("expected %d candles after round trip, got %d", len(before), len(after))
	}
	if c2.GetLastTimestamp("EURUSD") != c.GetLastTimestamp("EURUSD") {
		t.Fatal("last timestamp invariant not preserved across round trip")
	}
}
