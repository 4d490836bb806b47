package governance_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/marketscan/scanner/internal/governance"
)

func TestCanSendRespectsCooldown(t *testing.T) {
	store := governance.NewSignalStateStore(filepath.Join(t.TempDir(), "state.json"))
	store.Load()

	key := governance.MakeKey("EURUSD", "M15", "s1", "BUY")
	now := time.Now()
	if !store.CanSend(key, now, 30) {
		t.Fatalf("expected can-send true before any record")
	}
	store.RecordSent(key, now, "EURUSD", "BUY", "M15", "s1")
	if store.CanSend(key, now.Add(5*time.Minute), 30) {
		t.Fatalf("expected cooldown to still be active")
	}
	if !store.CanSend(key, now.Add(31*time.Minute), 30) {
		t.Fatalf("expected cooldown to have elapsed")
	}
}

func TestDailyLimitIncrementsPerStrategy(t *testing.T) {
	store := governance.NewSignalStateStore(filepath.Join(t.TempDir(), "state.json"))
	store.Load()

	date := "2026-07-30"
	store.IncrementDaily("EURUSD", "M15", "s1", date)
	store.IncrementDaily("EURUSD", "M15", "s1", date)
	if got := store.GetDailyCount("EURUSD", "M15", "s1", date); got != 2 {
		t.Fatalf("expected count 2, got %d", got)
	}
	if got := store.GetDailyCount("EURUSD", "M15", "s2", date); got != 0 {
		t.Fatalf("expected other strategy bucket untouched, got %d", got)
	}
}

func TestSaveAtomicRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := governance.NewSignalStateStore(path)
	store.Load()
	key := governance.MakeKey("EURUSD", "M15", "s1", "BUY")
	store.RecordSent(key, time.Now(), "EURUSD", "BUY", "M15", "s1")
	if err := store.SaveAtomic(); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	reloaded := governance.NewSignalStateStore(path)
	reloaded.Load()
	if reloaded.CanSend(key, time.Now(), 999999) {
		t.Fatalf("expected reloaded state to still show the record as recently sent")
	}
}

func TestPruneDropsOldEntries(t *testing.T) {
	store := governance.NewSignalStateStore(filepath.Join(t.TempDir(), "state.json"))
	store.Load()
	key := governance.MakeKey("EURUSD", "M15", "s1", "BUY")
	old := time.Now().Add(-30 * 24 * time.Hour)
	store.RecordSent(key, old, "EURUSD", "BUY", "M15", "s1")

	prunedSent, _ := store.Prune(14, time.Now())
	if prunedSent != 1 {
		t.Fatalf("expected 1 pruned sent record, got %d", prunedSent)
	}
}
