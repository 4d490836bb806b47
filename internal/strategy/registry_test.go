package strategy_test

import (
	"testing"

	"github.com/marketscan/scanner/internal/strategy"
)

func TestRegistryResolveExactThenNormalized(t *testing.T) {
	r := strategy.NewRegistry()
	strategy.RegisterBuiltins(r)

	if name, ok := r.Resolve("d_trend", nil); !ok || name != "d_trend" {
		t.Fatalf("expected exact resolve, got %q ok=%v", name, ok)
	}
	if name, ok := r.Resolve("D_TREND", nil); !ok || name != "d_trend" {
		t.Fatalf("expected case-insensitive resolve, got %q ok=%v", name, ok)
	}
	if name, ok := r.Resolve("d-trend", nil); !ok || name != "d_trend" {
		t.Fatalf("expected normalized resolve, got %q ok=%v", name, ok)
	}
	if _, ok := r.Resolve("totally_unknown", nil); ok {
		t.Fatal("expected unresolved for unknown detector")
	}
}

func TestRegistryAliasResolve(t *testing.T) {
	r := strategy.NewRegistry()
	strategy.RegisterBuiltins(r)

	aliases := map[string]string{"old_trend_name": "d_trend"}
	if name, ok := r.Resolve("old_trend_name", aliases); !ok || name != "d_trend" {
		t.Fatalf("expected alias resolve, got %q ok=%v", name, ok)
	}
}

func TestDedupeDetectorsPreservesOrder(t *testing.T) {
	out := strategy.DedupeDetectors([]string{"b", "a", "b", "c", "a"})
	want := []string{"b", "a", "c"}
	if len(out) != len(want) {
		t.Fatalf("expected %d detectors, got %d", len(want), len(out))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, out)
		}
	}
}

func TestNormalizeAllowedRegimesDropsUnknown(t *testing.T) {
	out := strategy.NormalizeAllowedRegimes([]string{"trend_bull", "BOGUS", "chop", "trend_bull"})
	if len(out) != 2 {
		t.Fatalf("expected 2 valid regimes, got %d: %v", len(out), out)
	}
}
