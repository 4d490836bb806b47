package explain_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/marketscan/scanner/internal/explain"
)

func TestBuildOKHasClosedReasonAndSchema(t *testing.T) {
	p := explain.BuildOK(explain.OKParams{
		Symbol: "EURUSD", TF: "M15", ScanID: "scan-1", StrategyID: "s1",
		Score: 1.6, ScoreRaw: 1.6, RR: 2.0, Regime: "trend_bull",
		TopHits: []string{"d_trend", "d_bounce"},
	})
	if p.Reason != explain.ReasonOK || p.Status != explain.StatusOK {
		t.Fatalf("expected OK/OK, got %s/%s", p.Status, p.Reason)
	}
	if p.SchemaVersion != 1 {
		t.Fatalf("expected schema_version 1, got %d", p.SchemaVersion)
	}
	if p.Evidence["regime"] != "TREND_BULL" {
		t.Fatalf("expected normalized regime TREND_BULL, got %v", p.Evidence["regime"])
	}
}

func TestBuildNoneUsesDataGapNotDataInsufficient(t *testing.T) {
	p := explain.BuildNone(explain.NoneParams{
		Symbol: "EURUSD", TF: "M15", ScanID: "scan-2", StrategyID: "s1",
		Reason: explain.ReasonDataGap, Details: map[string]any{"have_m15": 30, "need_m15": 200},
	})
	if p.Reason != "DATA_GAP" {
		t.Fatalf("expected DATA_GAP, got %s", p.Reason)
	}
}

func TestReconcileContribsFlagsInconsistency(t *testing.T) {
	scoreRaw := 10.0
	p := explain.BuildNone(explain.NoneParams{
		Symbol: "X", TF: "M15", ScanID: "s", StrategyID: "s1",
		Reason: explain.ReasonScoreBelowMin,
		TopContribs: []explain.Contrib{{Detector: "d1", Weight: 0.1}},
		ScoreRaw: &scoreRaw,
	})
	bd, _ := p.Evidence["score_breakdown"].(map[string]any)
	if bd["top_contribs_inconsistent"] != true {
		t.Fatalf("expected inconsistency flagged, got %v", bd)
	}
}

func TestMetricsEmitAppendsJSONL(t *testing.T) {
	p := explain.BuildOK(explain.OKParams{Symbol: "EURUSD", TF: "M15", ScanID: "s1", StrategyID: "s1", Score: 1.0, ScoreRaw: 1.0, RR: 2.0, Regime: "RANGE"})
	ev := explain.BuildEventFromExplain(p, 3, boolPtr(false), time.Unix(1700000000, 0))

	path := filepath.Join(t.TempDir(), "metrics.jsonl")
	if err := explain.Emit(ev, path); err != nil {
		t.Fatalf("emit failed: %v", err)
	}
	if err := explain.Emit(ev, path); err != nil {
		t.Fatalf("second emit failed: %v", err)
	}
}

func boolPtr(b bool) *bool { return &b }
