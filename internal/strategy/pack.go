package strategy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/multierr"

	"github.com/marketscan/scanner/pkg/types"
)

// Pack is the raw, on-disk strategy pack shape before normalization.
type Pack struct {
	SchemaVersion  int               `json:"schema_version"`
	IncludePresets []string          `json:"include_presets"`
	Strategies     []rawStrategy     `json:"strategies"`
}

type rawStrategy struct {
	StrategyID              string                       `json:"strategy_id"`
	Enabled                 *bool                        `json:"enabled"`
	EngineVersion           int                          `json:"engine_version"`
	TrendTF                 string                       `json:"trend_tf"`
	EntryTF                 string                       `json:"entry_tf"`
	MinRR                   float64                      `json:"min_rr"`
	MinScore                float64                      `json:"min_score"`
	AllowedRegimes          []string                     `json:"allowed_regimes"`
	Detectors               []string                     `json:"detectors"`
	DetectorParams          map[string]map[string]any    `json:"detector_params"`
	FamilyParams            map[string]map[string]any    `json:"family_params"`
	Epsilon                 *float64                     `json:"epsilon"`
	FamilyBonus             *float64                     `json:"family_bonus"`
	Weights                 map[string]float64           `json:"weights"`
	DetectorWeightOverrides map[string]float64           `json:"detector_weight_overrides"`
	CooldownMinutes         int                          `json:"cooldown_minutes"`
	DailyLimit              int                          `json:"daily_limit"`
	ConflictPolicy          string                       `json:"conflict_policy"`
}

// LoadResult is the outcome of loading + normalizing a pack: valid specs,
// plus the strategies reported invalid (enabled but failing validation) and
// any detector-resolution warnings.
type LoadResult struct {
	Strategies     []*StrategySpec
	InvalidEnabled []InvalidStrategy
	Warnings       []string
}

// InvalidStrategy records why an enabled strategy could not be loaded.
type InvalidStrategy struct {
	StrategyID string
	Errors     []string
}

// Loader parses, validates and normalizes strategy pack files, resolving
// detector names against a Registry.
type Loader struct {
	Registry    *Registry
	Aliases     map[string]string
	PresetsDir  string
	StrictDetectors bool
}

// NewLoader returns a Loader bound to a detector registry.
func NewLoader(reg *Registry, presetsDir string, strict bool) *Loader {
	return &Loader{Registry: reg, PresetsDir: presetsDir, StrictDetectors: strict}
}

// LoadFile reads a pack JSON file from path, resolves include_presets from
// PresetsDir, and normalizes every strategy.
func (l *Loader) LoadFile(path string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return l.LoadBytes(data)
}

// LoadBytes parses and normalizes a pack from raw JSON bytes.
func (l *Loader) LoadBytes(data []byte) (*LoadResult, error) {
	var pack Pack
	if err := json.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("PROFILE_INVALID: %w", err)
	}
	if pack.SchemaVersion == 0 {
		return nil, fmt.Errorf("SCHEMA_VERSION_MISSING")
	}
	if pack.SchemaVersion != 1 {
		return nil, fmt.Errorf("UNSUPPORTED_SCHEMA_VERSION: %d", pack.SchemaVersion)
	}

	byID := map[string]rawStrategy{}

	for _, preset := range pack.IncludePresets {
		presetPack, err := l.loadPreset(preset)
		if err != nil {
			continue
		}
		for _, s := range presetPack.Strategies {
			byID[s.StrategyID] = s
		}
	}

	// User-provided strategies take precedence over presets.
	for _, s := range pack.Strategies {
		byID[s.StrategyID] = s
	}

	return l.normalizeAll(byID), nil
}

func (l *Loader) loadPreset(name string) (*Pack, error) {
	if l.PresetsDir == "" {
		return nil, fmt.Errorf("UNKNOWN_PRESET: %s", name)
	}
	path := filepath.Join(l.PresetsDir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("UNKNOWN_PRESET: %s", name)
	}
	var p Pack
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (l *Loader) normalizeAll(byID map[string]rawStrategy) *LoadResult {
	result := &LoadResult{}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs error
	for _, id := range ids {
		spec, warnings, err := l.normalizeOne(byID[id])
		result.Warnings = append(result.Warnings, warnings...)
		if err != nil {
			errs = multierr.Append(errs, err)
			enabled := byID[id].Enabled == nil || *byID[id].Enabled
			if enabled {
				result.InvalidEnabled = append(result.InvalidEnabled, InvalidStrategy{StrategyID: id, Errors: []string{err.Error()}})
			}
			continue
		}
		if !spec.Enabled {
			continue
		}
		ok, valErrs := spec.Validate()
		if !ok {
			result.InvalidEnabled = append(result.InvalidEnabled, InvalidStrategy{StrategyID: id, Errors: valErrs})
			continue
		}
		result.Strategies = append(result.Strategies, spec)
	}

	return result
}

func (l *Loader) normalizeOne(raw rawStrategy) (*StrategySpec, []string, error) {
	var warnings []string

	enabled := true
	if raw.Enabled != nil {
		enabled = *raw.Enabled
	}

	epsilon := DefaultWeights().Epsilon
	if raw.Epsilon != nil {
		epsilon = *raw.Epsilon
	}
	familyBonus := DefaultWeights().FamilyBonus
	if raw.FamilyBonus != nil {
		familyBonus = *raw.FamilyBonus
	}

	conflict := ConflictPolicy(raw.ConflictPolicy)
	if conflict == "" {
		conflict = ConflictSkip
	}

	detectors := DedupeDetectors(raw.Detectors)
	resolved := make([]string, 0, len(detectors))
	for _, d := range detectors {
		canonical, ok := l.Registry.Resolve(d, l.Aliases)
		if !ok {
			if l.StrictDetectors {
				return nil, warnings, fmt.Errorf("UNKNOWN_DETECTORS: %s disables strategy %s", d, raw.StrategyID)
			}
			warnings = append(warnings, fmt.Sprintf("unknown detector %q dropped from %s", d, raw.StrategyID))
			continue
		}
		resolved = append(resolved, canonical)
	}

	spec := &StrategySpec{
		StrategyID:              raw.StrategyID,
		Enabled:                 enabled,
		EngineVersion:           raw.EngineVersion,
		TrendTF:                 types.Timeframe(types.NormalizeTF(raw.TrendTF)),
		EntryTF:                 types.Timeframe(types.NormalizeTF(raw.EntryTF)),
		MinRR:                   raw.MinRR,
		MinScore:                raw.MinScore,
		AllowedRegimes:          NormalizeAllowedRegimes(raw.AllowedRegimes),
		Detectors:               resolved,
		DetectorParams:          raw.DetectorParams,
		FamilyParams:            raw.FamilyParams,
		Epsilon:                 epsilon,
		FamilyBonus:             familyBonus,
		Weights:                 raw.Weights,
		DetectorWeightOverrides: raw.DetectorWeightOverrides,
		CooldownMinutes:         raw.CooldownMinutes,
		DailyLimit:              raw.DailyLimit,
		ConflictPolicy:          conflict,
	}

	return spec, warnings, nil
}
