// Package strategy implements StrategySpec/StrategyPack parsing and
// normalization, the detector name registry, and per-user strategy
// overrides.
package strategy

import (
	"sort"
	"strings"

	"github.com/marketscan/scanner/pkg/types"
)

// ConflictPolicy controls GovernanceSelector's same-day opposite-direction
// handling.
type ConflictPolicy string

const (
	ConflictSkip  ConflictPolicy = "skip"
	ConflictAllow ConflictPolicy = "allow"
)

// Weights holds the scoring knobs a strategy may override.
type Weights struct {
	DetectorWeightOverrides map[string]float64
	FamilyBonus             float64
	Epsilon                 float64
}

// DefaultWeights returns the scanner-wide scoring defaults (Open Question
// #3): detector weight 1.0 unless overridden, family confluence bonus 0.1
// per distinct family with a hit, and a 0.05 tie-break epsilon between
// buy/sell scores.
func DefaultWeights() Weights {
	return Weights{
		DetectorWeightOverrides: map[string]float64{},
		FamilyBonus:             0.1,
		Epsilon:                 0.05,
	}
}

// StrategySpec is the normalized, versioned strategy configuration.
type StrategySpec struct {
	StrategyID     string
	Enabled        bool
	EngineVersion  int
	TrendTF        types.Timeframe
	EntryTF        types.Timeframe
	MinRR          float64
	MinScore       float64
	AllowedRegimes []types.Regime
	Detectors      []string
	DetectorParams map[string]map[string]any
	FamilyParams   map[string]map[string]any
	Epsilon        float64
	FamilyBonus    float64
	Weights        map[string]float64
	DetectorWeightOverrides map[string]float64
	CooldownMinutes int
	DailyLimit      int
	ConflictPolicy  ConflictPolicy
}

// Validate checks the StrategySpec invariants named in the data model:
// min_rr >= 0, min_score >= 0, detectors is the allow-list (may be empty,
// which later yields NO_HITS), weights non-negative.
func (s *StrategySpec) Validate() (bool, []string) {
	var errs []string

	if strings.TrimSpace(s.StrategyID) == "" {
		errs = append(errs, "strategy_id is required")
	}
	if s.MinRR < 0 {
		errs = append(errs, "min_rr must be >= 0")
	}
	if s.MinScore < 0 {
		errs = append(errs, "min_score must be >= 0")
	}
	if s.TrendTF.Minutes() == 0 {
		errs = append(errs, "trend_tf is invalid")
	}
	if s.EntryTF.Minutes() == 0 {
		errs = append(errs, "entry_tf is invalid")
	}
	for name, w := range s.DetectorWeightOverrides {
		if w < 0 {
			errs = append(errs, "detector_weight_overrides["+name+"] must be >= 0")
		}
	}
	for name, w := range s.Weights {
		if w < 0 {
			errs = append(errs, "weights["+name+"] must be >= 0")
		}
	}
	if s.ConflictPolicy != ConflictSkip && s.ConflictPolicy != ConflictAllow {
		errs = append(errs, "conflict_policy must be skip or allow")
	}

	return len(errs) == 0, errs
}

// NormalizeAllowedRegimes upper-cases and dedupes the allow-list against
// the canonical {RANGE, CHOP, TREND_BULL, TREND_BEAR} set.
func NormalizeAllowedRegimes(raw []string) []types.Regime {
	seen := map[types.Regime]bool{}
	var out []types.Regime
	for _, r := range raw {
		reg := types.Regime(strings.ToUpper(strings.TrimSpace(r)))
		if !isKnownRegime(reg) || seen[reg] {
			continue
		}
		seen[reg] = true
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func isKnownRegime(r types.Regime) bool {
	for _, k := range types.AllRegimes() {
		if k == r {
			return true
		}
	}
	return false
}

// DedupeDetectors removes duplicate detector names, preserving first
// occurrence order (the order used for deterministic detector iteration).
func DedupeDetectors(raw []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range raw {
		name := strings.TrimSpace(d)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// DetectorWeight resolves the effective weight for a detector name: the
// strategy's override if present, else the scanner default of 1.0.
func (s *StrategySpec) DetectorWeight(name string) float64 {
	if w, ok := s.DetectorWeightOverrides[name]; ok {
		return w
	}
	if w, ok := s.Weights[name]; ok {
		return w
	}
	return 1.0
}

// AllowsRegime reports whether the strategy may fire in the given regime.
// An empty allow-list is treated as "no regimes allowed" (the strategy
// must opt in explicitly).
func (s *StrategySpec) AllowsRegime(r types.Regime) bool {
	for _, allowed := range s.AllowedRegimes {
		if allowed == r {
			return true
		}
	}
	return false
}

// MergedDetectorParams builds base ⊂ family ⊂ detector-specific override
// params for one detector, never allowing the reserved "enabled" key to be
// overridden.
func (s *StrategySpec) MergedDetectorParams(family, detector string) map[string]any {
	out := map[string]any{}
	if fp, ok := s.FamilyParams[family]; ok {
		for k, v := range fp {
			if k == "enabled" {
				continue
			}
			out[k] = v
		}
	}
	if dp, ok := s.DetectorParams[detector]; ok {
		for k, v := range dp {
			if k == "enabled" {
				continue
			}
			out[k] = v
		}
	}
	return out
}
