// Package cycle composes one scan cycle: for every registered user, for
// every cached symbol, run each of the user's enabled strategies through
// the scan engine, rank the OK candidates, hand them to the governance
// selector, and on acceptance persist the signal and enqueue its
// notification event. This is the run function the Scheduler drives.
package cycle

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marketscan/scanner/internal/config"
	"github.com/marketscan/scanner/internal/explain"
	"github.com/marketscan/scanner/internal/governance"
	"github.com/marketscan/scanner/internal/health"
	"github.com/marketscan/scanner/internal/marketcache"
	"github.com/marketscan/scanner/internal/queue"
	"github.com/marketscan/scanner/internal/scan"
	"github.com/marketscan/scanner/internal/signals"
	"github.com/marketscan/scanner/internal/strategy"
)

// Runner owns every per-cycle dependency and exposes Run as the
// Scheduler's run function.
type Runner struct {
	Logger    *zap.Logger
	Cache     *marketcache.Cache
	Engine    *scan.Engine
	UserStore *strategy.UserStrategiesStore
	State     *governance.SignalStateStore
	Selector  *governance.Selector
	Signals   *signals.Store
	Queue     *queue.EventQueue
	Cfg       *config.Config

	mu         sync.Mutex
	lastScanID string
	lastScanTS time.Time
}

// NewRunner constructs a Runner bound to every per-cycle dependency.
func NewRunner(logger *zap.Logger, cache *marketcache.Cache, engine *scan.Engine, userStore *strategy.UserStrategiesStore, state *governance.SignalStateStore, selector *governance.Selector, sigStore *signals.Store, q *queue.EventQueue, cfg *config.Config) *Runner {
	return &Runner{
		Logger:    logger,
		Cache:     cache,
		Engine:    engine,
		UserStore: userStore,
		State:     state,
		Selector:  selector,
		Signals:   sigStore,
		Queue:     q,
		Cfg:       cfg,
	}
}

// LastScanInfo implements health.ScanInfoProvider.
func (r *Runner) LastScanInfo() health.LastScanInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return health.LastScanInfo{
		LastScanTS: r.lastScanTS,
		LastScanID: r.lastScanID,
		HasScanned: !r.lastScanTS.IsZero(),
	}
}

// Run executes one full scan cycle across every registered user and
// symbol. It never returns an error: per-(user,symbol,strategy) failures
// are logged and skipped so one bad strategy never aborts the cycle.
func (r *Runner) Run(ctx context.Context) {
	scanID := strconv.FormatInt(time.Now().UnixNano(), 36)
	now := time.Now()
	date := now.Format("2006-01-02")

	symbols := r.Cache.GetAllSymbols()
	users := r.UserStore.ListUsers()

	for _, userID := range users {
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.runUser(userID, symbols, scanID, now, date)
	}

	r.mu.Lock()
	r.lastScanID = scanID
	r.lastScanTS = now
	r.mu.Unlock()
}

func (r *Runner) runUser(userID string, symbols []string, scanID string, now time.Time, date string) {
	result := r.UserStore.LoadSpecs(userID)
	if len(result.Strategies) == 0 {
		return
	}

	for _, symbol := range symbols {
		r.runSymbol(userID, symbol, result.Strategies, scanID, now, date)
	}
}

func (r *Runner) runSymbol(userID, symbol string, specs []*strategy.StrategySpec, scanID string, now time.Time, date string) {
	var candidates []governance.Candidate

	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		res := r.Engine.RunStrategy(symbol, scanID, spec)
		if !res.HasSetup {
			continue
		}
		candidates = append(candidates, governance.Candidate{
			StrategyID: spec.StrategyID,
			Direction:  res.Direction,
			Score:      res.Score,
			RR:         res.RR,
			Entry:      res.Entry,
			SL:         res.SL,
			TP:         res.TP,
			Payload:    res.Explain,
		})
	}
	if len(candidates) == 0 {
		return
	}

	rankCandidates(candidates)

	tf := "M15"
	if len(specs) > 0 {
		tf = string(specs[0].EntryTF)
	}

	decision := r.Selector.Select(symbol, tf, candidates, now, date)
	if !decision.Send || decision.Winner == nil {
		return
	}

	winner := *decision.Winner
	if r.persistAndNotify(userID, symbol, tf, scanID, winner, decision, len(candidates), now) {
		r.Selector.Commit(symbol, tf, winner, now, date)
	}
}

// rankCandidates sorts OK candidates best-first: score desc, rr desc,
// strategy_id asc, matching spec.md section 4.5's deterministic ranking
// contract.
func rankCandidates(candidates []governance.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.RR != b.RR {
			return a.RR > b.RR
		}
		return a.StrategyID < b.StrategyID
	})
}

func (r *Runner) persistAndNotify(userID, symbol, tf, scanID string, winner governance.Candidate, decision governance.Decision, candidateCount int, now time.Time) bool {
	entry, sl, tp, rr, score := winner.Entry, winner.SL, winner.TP, winner.RR, winner.Score

	payload := signals.BuildPayloadV1(signals.BuildParams{
		UserID:     userID,
		Symbol:     symbol,
		TF:         tf,
		Direction:  winner.Direction,
		Entry:      &entry,
		SL:         &sl,
		TP:         &tp,
		RR:         &rr,
		Score:      &score,
		StrategyID: winner.StrategyID,
		ScanID:     scanID,
		Explain:    explainToMap(winner.Payload),
	})

	if err := r.Signals.AppendSignal(payload); err != nil {
		r.Logger.Error("cycle: failed to persist signal", zap.Error(err), zap.String("symbol", symbol), zap.String("user_id", userID))
		return false
	}

	failoverUsed := decision.FailoverUsed
	r.emitMetrics(winner.Payload, candidateCount, &failoverUsed, now)

	if r.Cfg.NotifyMode == config.NotifyOff {
		return true
	}

	setupKey := governance.MakeKey(symbol, tf, winner.StrategyID, winner.Direction)
	if _, err := r.Queue.Enqueue(symbol, tf, "signal", setupKey, map[string]any{
		"user_id":     userID,
		"direction":   winner.Direction,
		"entry":       entry,
		"sl":          sl,
		"tp":          tp,
		"rr":          rr,
		"score":       score,
		"strategy_id": winner.StrategyID,
		"signal_id":   payload.SignalID,
	}); err != nil {
		r.Logger.Error("cycle: failed to enqueue notification", zap.Error(err), zap.String("symbol", symbol))
	}
	return true
}

func (r *Runner) emitMetrics(p explain.Payload, candidateCount int, failoverUsed *bool, now time.Time) {
	event := explain.BuildEventFromExplain(p, candidateCount, failoverUsed, now)
	metricsPath := r.Cfg.StateDir + "/metrics_events.jsonl"
	if err := explain.Emit(event, metricsPath); err != nil {
		r.Logger.Warn("cycle: failed to emit metrics event", zap.Error(err))
	}
}

func explainToMap(p explain.Payload) map[string]any {
	return map[string]any{
		"schema_version": p.SchemaVersion,
		"symbol":         p.Symbol,
		"tf":             p.TF,
		"scan_id":        p.ScanID,
		"strategy_id":    p.StrategyID,
		"status":         string(p.Status),
		"reason":         p.Reason,
		"summary":        p.Summary,
		"details":        p.Details,
		"evidence":       p.Evidence,
	}
}
