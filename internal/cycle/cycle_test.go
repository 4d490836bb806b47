package cycle_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/marketscan/scanner/internal/config"
	"github.com/marketscan/scanner/internal/cycle"
	"github.com/marketscan/scanner/internal/governance"
	"github.com/marketscan/scanner/internal/marketcache"
	"github.com/marketscan/scanner/internal/queue"
	"github.com/marketscan/scanner/internal/scan"
	"github.com/marketscan/scanner/internal/signals"
	"github.com/marketscan/scanner/internal/strategy"
	"github.com/marketscan/scanner/pkg/types"
)

func risingCandles(n int, start time.Time, base float64) []types.Candle {
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

func writeUserStrategies(t *testing.T, dir, userID string, strategyIDs ...string) {
	t.Helper()
	type rawItem struct {
		StrategyID     string   `json:"strategy_id"`
		Enabled        bool     `json:"enabled"`
		TrendTF        string   `json:"trend_tf"`
		EntryTF        string   `json:"entry_tf"`
		MinRR          float64  `json:"min_rr"`
		MinScore       float64  `json:"min_score"`
		AllowedRegimes []string `json:"allowed_regimes"`
		Detectors      []string `json:"detectors"`
	}
	items := make([]rawItem, 0, len(strategyIDs))
	for _, id := range strategyIDs {
		items = append(items, rawItem{
			StrategyID: id, Enabled: true, TrendTF: "H1", EntryTF: "M15",
			MinRR: 0.1, MinScore: 0.01,
			AllowedRegimes: []string{"TREND_BULL", "TREND_BEAR", "CHOP", "RANGE"},
			Detectors:      []string{"d_trend"},
		})
	}
	doc := map[string]any{
		"schema_version": 1,
		"user_id":        userID,
		"updated_at":     time.Now().Unix(),
		"strategies":     items,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, userID+".json"), data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}

func newTestRunner(t *testing.T) (*cycle.Runner, *marketcache.Cache, *signals.Store, *queue.EventQueue) {
	t.Helper()
	dir := t.TempDir()

	cache := marketcache.New(5000)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.Upsert("EURUSD", risingCandles(400, start, 1.1))

	registry := strategy.NewRegistry()
	strategy.RegisterBuiltins(registry)
	loader := strategy.NewLoader(registry, filepath.Join(dir, "presets"), false)
	userStore := strategy.NewUserStrategiesStore(filepath.Join(dir, "users"), loader)
	writeUserStrategies(t, filepath.Join(dir, "users"), "alice", "s1")

	cfg := scan.DefaultConfig()
	cfg.MinTrendBars = 10
	cfg.MinEntryBars = 10
	engine := scan.NewEngine(zap.NewNop(), cache, registry, cfg)

	state := governance.NewSignalStateStore(filepath.Join(dir, "state.json"))
	selector := governance.NewSelector(state, 0, 0, false)

	sigStore := signals.NewStore(filepath.Join(dir, "legacy.jsonl"), filepath.Join(dir, "public.jsonl"))

	q, err := queue.Open(filepath.Join(dir, "queue.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	appCfg := &config.Config{StateDir: dir, NotifyMode: config.NotifyAll}

	runner := cycle.NewRunner(zap.NewNop(), cache, engine, userStore, state, selector, sigStore, q, appCfg)
	return runner, cache, sigStore, q
}

func TestRunnerPersistsSignalAndEnqueuesNotification(t *testing.T) {
	runner, _, sigStore, q := newTestRunner(t)

	runner.Run(context.Background())

	list := sigStore.ListPublicSignals(signals.ListOptions{UserID: "alice", Limit: 10})
	if len(list) != 1 {
		t.Fatalf("expected 1 persisted signal, got %d", len(list))
	}
	if sym, _ := list[0]["symbol"].(string); sym != "EURUSD" {
		t.Fatalf("expected EURUSD signal, got %v", list[0]["symbol"])
	}

	stats, err := q.Stats()
	if err != nil {
		t.Fatalf("queue stats: %v", err)
	}
	if stats["total"] != 1 {
		t.Fatalf("expected 1 enqueued event, got %d", stats["total"])
	}

	info := runner.LastScanInfo()
	if !info.HasScanned || info.LastScanID == "" {
		t.Fatalf("expected LastScanInfo to report a completed scan, got %+v", info)
	}
}

func TestRunnerSkipsNotifyWhenNotifyModeOff(t *testing.T) {
	runner, _, sigStore, q := newTestRunner(t)
	runner.Cfg.NotifyMode = config.NotifyOff

	runner.Run(context.Background())

	list := sigStore.ListPublicSignals(signals.ListOptions{UserID: "alice", Limit: 10})
	if len(list) != 1 {
		t.Fatalf("expected signal to still persist, got %d", len(list))
	}

	stats, err := q.Stats()
	if err != nil {
		t.Fatalf("queue stats: %v", err)
	}
	if stats["total"] != 0 {
		t.Fatalf("expected no enqueued events with notify off, got %d", stats["total"])
	}
}

func TestRunnerNoUsersIsNoop(t *testing.T) {
	dir := t.TempDir()
	cache := marketcache.New(5000)
	registry := strategy.NewRegistry()
	strategy.RegisterBuiltins(registry)
	loader := strategy.NewLoader(registry, filepath.Join(dir, "presets"), false)
	userStore := strategy.NewUserStrategiesStore(filepath.Join(dir, "users"), loader)
	if err := os.MkdirAll(filepath.Join(dir, "users"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	engine := scan.NewEngine(zap.NewNop(), cache, registry, scan.DefaultConfig())
	state := governance.NewSignalStateStore(filepath.Join(dir, "state.json"))
	selector := governance.NewSelector(state, 0, 0, false)
	sigStore := signals.NewStore(filepath.Join(dir, "legacy.jsonl"), filepath.Join(dir, "public.jsonl"))
	q, err := queue.Open(filepath.Join(dir, "queue.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	runner := cycle.NewRunner(zap.NewNop(), cache, engine, userStore, state, selector, sigStore, q,
		&config.Config{StateDir: dir, NotifyMode: config.NotifyAll})

	runner.Run(context.Background())

	info := runner.LastScanInfo()
	if !info.HasScanned {
		t.Fatalf("expected Run to still mark a completed (empty) scan")
	}
}
