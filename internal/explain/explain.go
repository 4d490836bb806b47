// Package explain builds the deterministic, versioned Explain payload for
// every scan outcome and derives the append-only MetricsEvent from it.
package explain

import (
	"fmt"
	"strings"
)

// Status is a scan outcome status.
type Status string

const (
	StatusOK   Status = "OK"
	StatusNone Status = "NONE"
)

// Reason codes form the closed, stable taxonomy named in the error
// handling design. DATA_GAP (not the original's DATA_INSUFFICIENT) is
// used throughout, per the Open Question decision recorded in DESIGN.md.
const (
	ReasonOK                   = "OK"
	ReasonDataGap              = "DATA_GAP"
	ReasonNoM5                 = "NO_M5"
	ReasonProfileInvalid       = "PROFILE_INVALID"
	ReasonNoStrategyConfigured = "NO_STRATEGY_CONFIGURED"
	ReasonUnknownPreset        = "UNKNOWN_PRESET"
	ReasonUnknownDetectors     = "UNKNOWN_DETECTORS"
	ReasonSchemaVersionMissing = "SCHEMA_VERSION_MISSING"
	ReasonUnsupportedSchema    = "UNSUPPORTED_SCHEMA_VERSION"
	ReasonScoreBelowMin        = "SCORE_BELOW_MIN"
	ReasonConflictScore        = "CONFLICT_SCORE"
	ReasonRRBelowMin           = "RR_BELOW_MIN"
	ReasonNoHits               = "NO_HITS"
	ReasonNoDetectorsForRegime = "NO_DETECTORS_FOR_REGIME"
	ReasonSetupBuildFailed     = "SETUP_BUILD_FAILED"
	ReasonPrimitiveError       = "PRIMITIVE_ERROR"
	ReasonRegimeBlocked        = "REGIME_BLOCKED"
	ReasonCooldownActive       = "COOLDOWN_ACTIVE"
	ReasonDailyLimitReached    = "DAILY_LIMIT_REACHED"
	ReasonConflictDirection    = "CONFLICT_DIRECTION"
)

// Payload is the versioned Explain record: {schema_version, symbol, tf,
// scan_id, strategy_id, status, reason, summary, details, evidence}.
type Payload struct {
	SchemaVersion int            `json:"schema_version"`
	Symbol        string         `json:"symbol"`
	TF            string         `json:"tf"`
	ScanID        string         `json:"scan_id"`
	StrategyID    string         `json:"strategy_id"`
	Status        Status         `json:"status"`
	Reason        string         `json:"reason"`
	Summary       string         `json:"summary"`
	Details       map[string]any `json:"details"`
	Evidence      map[string]any `json:"evidence"`
}

// Contrib is one detector's contribution to a score, used in the top-N
// breakdown.
type Contrib struct {
	Detector string
	Weight   float64
}

// OKParams carries everything build_pair_ok_explain needs.
type OKParams struct {
	Symbol       string
	TF           string
	ScanID       string
	StrategyID   string
	Score        float64
	ScoreRaw     float64
	Bonus        float64
	RR           float64
	Regime       string
	TopHits      []string
	TopContribs  []Contrib
	ParamsDigest string
	Entry, SL, TP *float64
	EntryZone     *EntryZone
}

// EntryZone is an optional price band evidenced by a detector.
type EntryZone struct {
	PriceFrom float64
	PriceTo   float64
}

// BuildOK constructs the Explain payload for an OK scan outcome.
func BuildOK(p OKParams) Payload {
	evidence := map[string]any{
		"score_breakdown": map[string]any{
			"score_buy_or_sell": p.Score,
			"score_raw":         p.ScoreRaw,
			"top_hit_contribs":  contribsToAny(p.TopContribs),
		},
		"regime": normalizeRegime(p.Regime),
	}
	if p.EntryZone != nil {
		evidence["entry_zone"] = map[string]any{"price_from": p.EntryZone.PriceFrom, "price_to": p.EntryZone.PriceTo}
	} else {
		evidence["entry_zone"] = nil
	}

	details := map[string]any{
		"score":         p.Score,
		"score_raw":     p.ScoreRaw,
		"bonus":         p.Bonus,
		"rr":            p.RR,
		"regime":        normalizeRegime(p.Regime),
		"params_digest": p.ParamsDigest,
		"top_hits":      p.TopHits,
		"entry":         p.Entry,
		"sl":            p.SL,
		"tp":            p.TP,
	}

	return Payload{
		SchemaVersion: 1,
		Symbol:        p.Symbol,
		TF:            p.TF,
		ScanID:        p.ScanID,
		StrategyID:    p.StrategyID,
		Status:        StatusOK,
		Reason:        ReasonOK,
		Summary:       summaryOK(p),
		Details:       details,
		Evidence:      evidence,
	}
}

// NoneParams carries everything build_pair_none_explain needs.
type NoneParams struct {
	Symbol       string
	TF           string
	ScanID       string
	StrategyID   string
	Reason       string
	Regime       string
	TopContribs  []Contrib
	ScoreRaw     *float64
	ParamsDigest string
	Details      map[string]any
}

// BuildNone constructs the Explain payload for a NONE scan outcome. The
// top-contributor list is reconciled against score_raw within a 0.02
// tolerance; on mismatch the contributor names are kept but scores are
// dropped and TopContribsInconsistent is flagged.
func BuildNone(p NoneParams) Payload {
	topNames, inconsistent := reconcileContribs(p.TopContribs, p.ScoreRaw)

	contribs := contribsToAny(p.TopContribs)
	if inconsistent {
		for _, c := range contribs {
			delete(c, "weight")
		}
	}

	evidence := map[string]any{
		"score_breakdown": map[string]any{
			"top_hit_contribs":         contribs,
			"top_contribs_inconsistent": inconsistent,
		},
		"regime": normalizeRegime(p.Regime),
	}

	details := map[string]any{
		"regime":        normalizeRegime(p.Regime),
		"params_digest": p.ParamsDigest,
		"top_hits":      topNames,
	}
	for k, v := range p.Details {
		details[k] = v
	}

	return Payload{
		SchemaVersion: 1,
		Symbol:        p.Symbol,
		TF:            p.TF,
		ScanID:        p.ScanID,
		StrategyID:    p.StrategyID,
		Status:        StatusNone,
		Reason:        p.Reason,
		Summary:       summaryNone(p),
		Details:       details,
		Evidence:      evidence,
	}
}

func contribsToAny(cs []Contrib) []map[string]any {
	out := make([]map[string]any, 0, len(cs))
	for _, c := range cs {
		out = append(out, map[string]any{"detector": c.Detector, "weight": c.Weight})
	}
	return out
}

// reconcileContribs checks whether the sum of the top contributors'
// weights is within 0.02 of scoreRaw; if not, only names are returned and
// inconsistent=true.
func reconcileContribs(cs []Contrib, scoreRaw *float64) ([]string, bool) {
	names := make([]string, 0, len(cs))
	sum := 0.0
	for _, c := range cs {
		names = append(names, c.Detector)
		sum += c.Weight
	}
	if scoreRaw == nil {
		return names, false
	}
	diff := sum - *scoreRaw
	if diff < 0 {
		diff = -diff
	}
	return names, diff > 0.02
}

var regimeAliases = map[string]string{
	"RANGE": "RANGE", "RNG": "RANGE", "RANGING": "RANGE", "SIDEWAYS": "RANGE",
	"CHOP": "CHOP", "CHOPPY": "CHOP", "NOISY": "CHOP",
	"BULL": "TREND_BULL", "UP": "TREND_BULL", "UPTREND": "TREND_BULL", "TREND_UP": "TREND_BULL", "TREND_BULL": "TREND_BULL",
	"BEAR": "TREND_BEAR", "DOWN": "TREND_BEAR", "DOWNTREND": "TREND_BEAR", "TREND_DOWN": "TREND_BEAR", "TREND_BEAR": "TREND_BEAR",
}

func normalizeRegime(r string) string {
	if canonical, ok := regimeAliases[strings.ToUpper(strings.TrimSpace(r))]; ok {
		return canonical
	}
	return r
}

func summaryOK(p OKParams) string {
	return fmt.Sprintf("%s/%s strategy %s: score %.2f (raw %.2f, bonus %.2f) in regime %s, rr %.2f",
		p.Symbol, p.TF, p.StrategyID, p.Score, p.ScoreRaw, p.Bonus, normalizeRegime(p.Regime), p.RR)
}

func summaryNone(p NoneParams) string {
	switch p.Reason {
	case ReasonDataGap:
		return fmt.Sprintf("%s/%s strategy %s: insufficient candle history", p.Symbol, p.TF, p.StrategyID)
	case ReasonScoreBelowMin:
		return fmt.Sprintf("%s/%s strategy %s: best score below minimum threshold", p.Symbol, p.TF, p.StrategyID)
	case ReasonConflictScore:
		return fmt.Sprintf("%s/%s strategy %s: buy/sell scores too close to resolve", p.Symbol, p.TF, p.StrategyID)
	case ReasonRRBelowMin:
		return fmt.Sprintf("%s/%s strategy %s: reward/risk below minimum", p.Symbol, p.TF, p.StrategyID)
	case ReasonNoHits:
		return fmt.Sprintf("%s/%s strategy %s: no detector produced a hit", p.Symbol, p.TF, p.StrategyID)
	case ReasonRegimeBlocked:
		return fmt.Sprintf("%s/%s strategy %s: current regime not in allow-list", p.Symbol, p.TF, p.StrategyID)
	case ReasonCooldownActive:
		return fmt.Sprintf("%s/%s strategy %s: blocked by cooldown", p.Symbol, p.TF, p.StrategyID)
	case ReasonDailyLimitReached:
		return fmt.Sprintf("%s/%s strategy %s: daily signal limit reached", p.Symbol, p.TF, p.StrategyID)
	case ReasonConflictDirection:
		return fmt.Sprintf("%s/%s strategy %s: opposite-direction signal already sent today", p.Symbol, p.TF, p.StrategyID)
	default:
		return fmt.Sprintf("%s/%s strategy %s: no signal (%s)", p.Symbol, p.TF, p.StrategyID, p.Reason)
	}
}
