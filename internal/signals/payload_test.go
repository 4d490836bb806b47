package signals_test

import (
	"path/filepath"
	"testing"

	"github.com/marketscan/scanner/internal/signals"
)

func f(v float64) *float64 { return &v }

func TestBuildPayloadV1NormalizesAndDrawsSetup(t *testing.T) {
	p := signals.BuildPayloadV1(signals.BuildParams{
		UserID: "u1", Symbol: "eurusd", TF: "M15", Direction: "buy",
		Entry: f(1.1000), SL: f(1.0950), TP: f(1.1100), RR: f(2.0),
		StrategyID: "s1", ScanID: "scan-1",
	})
	if p.Symbol != "EURUSD" || p.Direction != "BUY" {
		t.Fatalf("expected normalized symbol/direction, got %s/%s", p.Symbol, p.Direction)
	}
	if len(p.Drawings) != 3 {
		t.Fatalf("expected 3 drawings (entry/sl/tp), got %d: %+v", len(p.Drawings), p.Drawings)
	}
}

func TestBuildPayloadV1SkipsMissingSetup(t *testing.T) {
	p := signals.BuildPayloadV1(signals.BuildParams{
		UserID: "u1", Symbol: "EURUSD", TF: "M15", Direction: "BUY",
		StrategyID: "s1", ScanID: "scan-1",
	})
	if len(p.Drawings) != 0 {
		t.Fatalf("expected no drawings when setup absent, got %d", len(p.Drawings))
	}
}

func TestToPublicV1HasStableEvidenceKeys(t *testing.T) {
	p := signals.BuildPayloadV1(signals.BuildParams{
		UserID: "u1", Symbol: "EURUSD", TF: "M15", Direction: "BUY",
		Entry: f(1.1), SL: f(1.09), TP: f(1.12), RR: f(2.0),
		StrategyID: "s1", ScanID: "scan-1",
	})
	pub := signals.ToPublicV1(p)
	for _, key := range []string{"entry", "sl", "tp", "rr", "entry_zone"} {
		if _, ok := pub.Evidence[key]; !ok {
			t.Fatalf("expected stable evidence key %q", key)
		}
	}
	if pub.Direction != "BUY" || pub.Status != "OK" {
		t.Fatalf("unexpected public payload: %+v", pub)
	}
	if len(pub.ChartDrawings) != 3 {
		t.Fatalf("expected 3 chart drawings, got %d", len(pub.ChartDrawings))
	}
}

func TestStoreAppendAndListRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := signals.NewStore(filepath.Join(dir, "signals_v1.jsonl"), filepath.Join(dir, "signals.jsonl"))

	p1 := signals.BuildPayloadV1(signals.BuildParams{UserID: "u1", Symbol: "EURUSD", TF: "M15", Direction: "BUY", StrategyID: "s1", ScanID: "scan-1"})
	p2 := signals.BuildPayloadV1(signals.BuildParams{UserID: "u2", Symbol: "GBPUSD", TF: "M15", Direction: "SELL", StrategyID: "s1", ScanID: "scan-2"})

	if err := store.AppendSignal(p1); err != nil {
		t.Fatalf("append p1: %v", err)
	}
	if err := store.AppendSignal(p2); err != nil {
		t.Fatalf("append p2: %v", err)
	}

	u1Signals := store.ListSignals(signals.ListOptions{UserID: "u1", Limit: 10})
	if len(u1Signals) != 1 {
		t.Fatalf("expected 1 signal for u1, got %d", len(u1Signals))
	}

	all := store.ListSignals(signals.ListOptions{IncludeAllUsers: true, Limit: 10})
	if len(all) != 2 {
		t.Fatalf("expected 2 signals for admin view, got %d", len(all))
	}
	// Reverse chronological: p2 appended last, should come first.
	if all[0]["signal_id"] != p2.SignalID {
		t.Fatalf("expected most recent signal first")
	}

	got := store.GetByID("u1", p1.SignalID, false)
	if got == nil {
		t.Fatalf("expected to find p1 by id for its owner")
	}
	if store.GetByID("u2", p1.SignalID, false) != nil {
		t.Fatalf("expected u2 to not see u1's signal")
	}
}
