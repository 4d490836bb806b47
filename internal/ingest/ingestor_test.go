package ingest_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/marketscan/scanner/internal/ingest"
	"github.com/marketscan/scanner/internal/marketcache"
)

func TestDataIngestorMergesProviderCandlesIntoCache(t *testing.T) {
	provider := ingest.NewFixtureProvider()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	provider.Seed("EURUSD", ingest.GenerateFlat(start, 10, 1.1))

	cache := marketcache.New(5000)
	cfg := ingest.DefaultConfig()
	cfg.Symbols = []string{"EURUSD"}
	cfg.PollInterval = 50 * time.Millisecond
	cfg.SnapshotPath = filepath.Join(t.TempDir(), "snapshot.json")

	ingestor := ingest.NewDataIngestor(zap.NewNop(), provider, cache, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ingestor.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer ingestor.Stop()

	time.Sleep(20 * time.Millisecond)

	candles := cache.GetCandles("EURUSD")
	if len(candles) != 10 {
		t.Fatalf("expected 10 candles merged into cache, got %d", len(candles))
	}
}

func TestDataIngestorAddSymbolUnionsWatchlist(t *testing.T) {
	provider := ingest.NewFixtureProvider()
	cache := marketcache.New(5000)
	ingestor := ingest.NewDataIngestor(zap.NewNop(), provider, cache, ingest.DefaultConfig())

	ingestor.AddSymbol("GBPUSD")
	found := false
	for _, s := range ingestor.Symbols() {
		if s == "GBPUSD" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected GBPUSD to be tracked after AddSymbol")
	}
}
