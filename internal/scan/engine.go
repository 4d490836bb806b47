// Package scan runs the per-(user, symbol) strategy evaluation pipeline:
// data readiness, context build, regime classification, detector
// execution, scoring, setup construction, and Explain payload production.
package scan

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/marketscan/scanner/internal/explain"
	"github.com/marketscan/scanner/internal/marketcache"
	"github.com/marketscan/scanner/internal/regime"
	"github.com/marketscan/scanner/internal/strategy"
	"github.com/marketscan/scanner/pkg/types"
)

// Config bounds data-readiness and perf-warn thresholds.
type Config struct {
	MinTrendBars   int
	MinEntryBars   int
	DetectorWarn   time.Duration
	PairWarn       time.Duration
}

// DefaultConfig returns spec defaults.
func DefaultConfig() Config {
	return Config{MinTrendBars: 60, MinEntryBars: 60, DetectorWarn: 50 * time.Millisecond, PairWarn: 200 * time.Millisecond}
}

// Engine evaluates strategies against a symbol's cached candles.
type Engine struct {
	logger   *zap.Logger
	cache    *marketcache.Cache
	registry *strategy.Registry
	cfg      Config
}

// NewEngine constructs a scan Engine.
func NewEngine(logger *zap.Logger, cache *marketcache.Cache, registry *strategy.Registry, cfg Config) *Engine {
	return &Engine{logger: logger, cache: cache, registry: registry, cfg: cfg}
}

// Result is one strategy's outcome for one symbol in one scan cycle.
type Result struct {
	HasSetup   bool
	Direction  string
	Entry, SL, TP, RR float64
	Score      float64
	Explain    explain.Payload
	Candidates int
}

// RunStrategy evaluates a single StrategySpec for symbol within scanID,
// returning the scan outcome and its Explain payload.
func (e *Engine) RunStrategy(symbol, scanID string, spec *strategy.StrategySpec) Result {
	trendTF := spec.TrendTF
	entryTF := spec.EntryTF

	trendCandles, err := e.cache.GetResampled(symbol, trendTF)
	if err != nil {
		return e.dataGap(symbol, spec, scanID, "trend_tf_resample_error")
	}
	entryCandles, err := e.cache.GetResampled(symbol, entryTF)
	if err != nil {
		return e.dataGap(symbol, spec, scanID, "entry_tf_resample_error")
	}

	if len(trendCandles) < e.cfg.MinTrendBars || len(entryCandles) < e.cfg.MinEntryBars {
		return e.dataGapCounts(symbol, spec, scanID, len(trendCandles), len(entryCandles))
	}

	regimeResult := regime.Classify(trendCandles)

	if !spec.AllowsRegime(regimeResult.Regime) {
		return e.none(symbol, spec, scanID, explain.ReasonRegimeBlocked, regimeResult, nil, nil)
	}

	hits, timings := e.runDetectors(symbol, spec, entryCandles, trendCandles, regimeResult, scanID)
	e.warnSlowDetectors(symbol, spec.StrategyID, timings)

	if len(hits) == 0 {
		return e.none(symbol, spec, scanID, explain.ReasonNoHits, regimeResult, nil, nil)
	}

	scoreBuy, scoreSell, contribsBuy, contribsSell := scoreHits(hits, spec)
	bestSide, scoreBest, scoreRaw, contribs := resolveSide(scoreBuy, scoreSell, contribsBuy, contribsSell, spec.Epsilon)

	if bestSide == "" {
		sr := scoreBest
		return e.none(symbol, spec, scanID, explain.ReasonConflictScore, regimeResult, &sr, contribs)
	}
	if scoreBest < spec.MinScore {
		sr := scoreRaw
		return e.none(symbol, spec, scanID, explain.ReasonScoreBelowMin, regimeResult, &sr, contribs)
	}

	setup, ok := buildSetup(bestSide, entryCandles, hits)
	if !ok {
		sr := scoreRaw
		return e.none(symbol, spec, scanID, explain.ReasonSetupBuildFailed, regimeResult, &sr, contribs)
	}
	if setup.rr < spec.MinRR {
		sr := scoreRaw
		return e.none(symbol, spec, scanID, explain.ReasonRRBelowMin, regimeResult, &sr, contribs)
	}

	digest := paramsDigest(spec)
	topHits := topHitNames(contribs)

	payload := explain.BuildOK(explain.OKParams{
		Symbol: symbol, TF: entryTF_String(entryTF), ScanID: scanID, StrategyID: spec.StrategyID,
		Score: scoreBest, ScoreRaw: scoreRaw, Bonus: scoreBest - scoreRaw, RR: setup.rr,
		Regime: string(regimeResult.Regime), TopHits: topHits, TopContribs: contribs,
		ParamsDigest: digest, Entry: &setup.entry, SL: &setup.sl, TP: &setup.tp,
	})

	return Result{
		HasSetup: true, Direction: bestSide, Entry: setup.entry, SL: setup.sl, TP: setup.tp,
		RR: setup.rr, Score: scoreBest, Explain: payload,
	}
}

func entryTF_String(tf types.Timeframe) string { return string(tf) }

func (e *Engine) dataGap(symbol string, spec *strategy.StrategySpec, scanID, reasonDetail string) Result {
	p := explain.BuildNone(explain.NoneParams{
		Symbol: symbol, TF: string(spec.EntryTF), ScanID: scanID, StrategyID: spec.StrategyID,
		Reason: explain.ReasonDataGap, Details: map[string]any{"detail": reasonDetail},
	})
	return Result{HasSetup: false, Explain: p}
}

func (e *Engine) dataGapCounts(symbol string, spec *strategy.StrategySpec, scanID string, haveTrend, haveEntry int) Result {
	p := explain.BuildNone(explain.NoneParams{
		Symbol: symbol, TF: string(spec.EntryTF), ScanID: scanID, StrategyID: spec.StrategyID,
		Reason: explain.ReasonDataGap,
		Details: map[string]any{
			"have_trend_bars": haveTrend, "need_trend_bars": e.cfg.MinTrendBars,
			"have_entry_bars": haveEntry, "need_entry_bars": e.cfg.MinEntryBars,
		},
	})
	return Result{HasSetup: false, Explain: p}
}

func (e *Engine) none(symbol string, spec *strategy.StrategySpec, scanID, reason string, rr regime.Result, scoreRaw *float64, contribs []explain.Contrib) Result {
	p := explain.BuildNone(explain.NoneParams{
		Symbol: symbol, TF: string(spec.EntryTF), ScanID: scanID, StrategyID: spec.StrategyID,
		Reason: reason, Regime: string(rr.Regime), TopContribs: contribs, ScoreRaw: scoreRaw,
		Details: map[string]any{"regime_confidence": rr.Confidence, "regime_evidence": rr.Evidence},
	})
	return Result{HasSetup: false, Explain: p}
}

type timing struct {
	Detector string
	Duration time.Duration
}

func (e *Engine) runDetectors(symbol string, spec *strategy.StrategySpec, entryCandles, trendCandles []types.Candle, rr regime.Result, scanID string) ([]strategy.Hit, []timing) {
	var hits []strategy.Hit
	var timings []timing

	for _, name := range spec.Detectors {
		det := e.registry.Create(name)
		if det == nil {
			continue
		}
		params := spec.MergedDetectorParams(det.Family(), name)
		ctx := strategy.ScanContext{
			Symbol: symbol, EntryTFCandles: entryCandles, TrendTFCandles: trendCandles,
			Regime: rr.Regime, Strategy: spec, ScanID: scanID, Params: params,
		}

		start := time.Now()
		hit, err := det.Detect(ctx)
		elapsed := time.Since(start)
		timings = append(timings, timing{Detector: name, Duration: elapsed})

		if err != nil || hit == nil {
			continue
		}
		hits = append(hits, *hit)
	}

	return hits, timings
}

func (e *Engine) warnSlowDetectors(symbol, strategyID string, timings []timing) {
	for _, t := range timings {
		if t.Duration > e.cfg.DetectorWarn {
			e.logger.Warn("detector slow",
				zap.String("symbol", symbol), zap.String("strategy_id", strategyID),
				zap.String("detector", t.Detector), zap.Duration("elapsed", t.Duration))
		}
	}
}

func scoreHits(hits []strategy.Hit, spec *strategy.StrategySpec) (scoreBuy, scoreSell float64, contribsBuy, contribsSell []explain.Contrib) {
	familiesBuy := map[string]bool{}
	familiesSell := map[string]bool{}

	for _, h := range hits {
		weight := spec.DetectorWeight(h.Name) * h.Strength
		switch h.Side {
		case "BUY":
			scoreBuy += weight
			contribsBuy = append(contribsBuy, explain.Contrib{Detector: h.Name, Weight: weight})
			familiesBuy[h.Family] = true
		case "SELL":
			scoreSell += weight
			contribsSell = append(contribsSell, explain.Contrib{Detector: h.Name, Weight: weight})
			familiesSell[h.Family] = true
		}
	}

	scoreBuy += spec.FamilyBonus * float64(len(familiesBuy))
	scoreSell += spec.FamilyBonus * float64(len(familiesSell))

	sortContribsDesc(contribsBuy)
	sortContribsDesc(contribsSell)

	return
}

func sortContribsDesc(c []explain.Contrib) {
	sort.SliceStable(c, func(i, j int) bool { return c[i].Weight > c[j].Weight })
}

func resolveSide(scoreBuy, scoreSell float64, contribsBuy, contribsSell []explain.Contrib, epsilon float64) (side string, scoreBest, scoreRaw float64, contribs []explain.Contrib) {
	diff := scoreBuy - scoreSell
	if diff < 0 {
		diff = -diff
	}
	if diff < epsilon {
		if scoreBuy >= scoreSell {
			return "", scoreBuy, scoreBuy, contribsBuy
		}
		return "", scoreSell, scoreSell, contribsSell
	}
	if scoreBuy > scoreSell {
		return "BUY", scoreBuy, scoreBuy, contribsBuy
	}
	return "SELL", scoreSell, scoreSell, contribsSell
}

type builtSetup struct {
	entry, sl, tp, rr float64
}

// buildSetup derives entry/sl/tp/rr from the close of the most recent
// entry-tf candle, with a fixed 1% stop distance and a 2:1 target. The
// hits and their evidence are not read: no detector-supplied levels or
// entry zone are used.
func buildSetup(direction string, entryCandles []types.Candle, hits []strategy.Hit) (builtSetup, bool) {
	if len(entryCandles) == 0 {
		return builtSetup{}, false
	}
	last := entryCandles[len(entryCandles)-1]
	entry, _ := last.Close.Float64()
	if entry == 0 {
		return builtSetup{}, false
	}

	slDist := entry * 0.01
	tpDist := slDist * 2

	var sl, tp float64
	switch direction {
	case "BUY":
		sl = entry - slDist
		tp = entry + tpDist
	case "SELL":
		sl = entry + slDist
		tp = entry - tpDist
	default:
		return builtSetup{}, false
	}

	riskDist := entry - sl
	if riskDist < 0 {
		riskDist = -riskDist
	}
	rewardDist := tp - entry
	if rewardDist < 0 {
		rewardDist = -rewardDist
	}
	if riskDist == 0 {
		return builtSetup{}, false
	}

	return builtSetup{entry: entry, sl: sl, tp: tp, rr: rewardDist / riskDist}, true
}

func topHitNames(contribs []explain.Contrib) []string {
	names := make([]string, 0, len(contribs))
	for _, c := range contribs {
		names = append(names, c.Detector)
	}
	return names
}

// paramsDigest is a stable short hash of a strategy's effective parameters,
// used to detect param drift between signals without storing the full
// param set on every record.
func paramsDigest(spec *strategy.StrategySpec) string {
	b, _ := json.Marshal(struct {
		MinRR, MinScore, Epsilon, FamilyBonus float64
		Detectors                             []string
	}{spec.MinRR, spec.MinScore, spec.Epsilon, spec.FamilyBonus, spec.Detectors})
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])[:12]
}
