package governance_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/marketscan/scanner/internal/explain"
	"github.com/marketscan/scanner/internal/governance"
)

func newSelector(t *testing.T, failover bool) *governance.Selector {
	t.Helper()
	store := governance.NewSignalStateStore(filepath.Join(t.TempDir(), "state.json"))
	store.Load()
	return governance.NewSelector(store, 30, 3, failover)
}

func TestSelectFirstCandidateWinsWhenClear(t *testing.T) {
	sel := newSelector(t, false)
	cands := []governance.Candidate{{StrategyID: "s1", Direction: "BUY", Score: 2.0, RR: 2.0}}
	d := sel.Select("EURUSD", "M15", cands, time.Now(), "2026-07-30")
	if !d.Send || d.Winner == nil || d.Winner.StrategyID != "s1" {
		t.Fatalf("expected s1 to win, got %+v", d)
	}
}

func TestSelectFailsOverWhenTopBlockedByCooldown(t *testing.T) {
	sel := newSelector(t, true)
	sel.Commit("EURUSD", "M15", governance.Candidate{StrategyID: "s1", Direction: "BUY"}, time.Now(), "2026-07-30")

	cands := []governance.Candidate{
		{StrategyID: "s1", Direction: "BUY", Score: 2.0, RR: 2.0},
		{StrategyID: "s2", Direction: "BUY", Score: 1.5, RR: 1.8},
	}
	d := sel.Select("EURUSD", "M15", cands, time.Now(), "2026-07-30")
	if !d.Send || d.Winner.StrategyID != "s2" || !d.FailoverUsed {
		t.Fatalf("expected failover to s2, got %+v", d)
	}
	if d.BlockedWinnerID != "s1" || d.BlockedReason != explain.ReasonCooldownActive {
		t.Fatalf("expected blocked winner s1/cooldown, got %s/%s", d.BlockedWinnerID, d.BlockedReason)
	}
}

func TestSelectBlocksOutrightWithoutFailover(t *testing.T) {
	sel := newSelector(t, false)
	sel.Commit("EURUSD", "M15", governance.Candidate{StrategyID: "s1", Direction: "BUY"}, time.Now(), "2026-07-30")

	cands := []governance.Candidate{{StrategyID: "s1", Direction: "BUY", Score: 2.0, RR: 2.0}}
	d := sel.Select("EURUSD", "M15", cands, time.Now(), "2026-07-30")
	if d.Send {
		t.Fatalf("expected blocked send with failover disabled, got %+v", d)
	}
}

func TestSelectBlocksOppositeDirectionConflict(t *testing.T) {
	sel := newSelector(t, false)
	sel.Commit("EURUSD", "M15", governance.Candidate{StrategyID: "s1", Direction: "BUY"}, time.Now(), "2026-07-30")

	cands := []governance.Candidate{{StrategyID: "s2", Direction: "SELL", Score: 1.0, RR: 1.5}}
	d := sel.Select("EURUSD", "M15", cands, time.Now(), "2026-07-30")
	if d.Send {
		t.Fatalf("expected opposite-direction conflict to block, got %+v", d)
	}
	if d.BlockedReason != explain.ReasonConflictDirection {
		t.Fatalf("expected CONFLICT_DIRECTION, got %s", d.BlockedReason)
	}
}
