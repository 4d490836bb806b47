package governance

import (
	"strings"
	"time"

	"github.com/marketscan/scanner/internal/explain"
)

// Candidate is one strategy's OK-outcome result for a symbol, ranked and
// ready for governance review.
type Candidate struct {
	StrategyID string
	Direction  string // BUY or SELL
	Score      float64
	RR         float64
	Entry, SL, TP float64
	Payload    explain.Payload
}

// Decision is the governance outcome for a scan cycle on one symbol/tf.
type Decision struct {
	Send               bool
	Winner             *Candidate
	BlockedWinnerID    string
	BlockedReason      string
	FailoverUsed       bool
}

// Selector applies cooldown, daily-limit and same-symbol opposite-direction
// conflict rules against ranked candidates, optionally failing over to the
// next-best candidate when the top one is blocked.
type Selector struct {
	Store                   *SignalStateStore
	CooldownMinutes         int
	DailyLimitPerSymbol     int
	FailoverOnBlock         bool
}

// NewSelector constructs a Selector bound to store.
func NewSelector(store *SignalStateStore, cooldownMinutes, dailyLimit int, failoverOnBlock bool) *Selector {
	return &Selector{
		Store:               store,
		CooldownMinutes:     cooldownMinutes,
		DailyLimitPerSymbol: dailyLimit,
		FailoverOnBlock:     failoverOnBlock,
	}
}

// Select evaluates ranked candidates (already ordered best-first by the
// scan cycle's rankCandidates: score desc, rr desc, strategy_id asc) for symbol/tf and
// returns the governance decision. now is the evaluation time; date is its
// YYYY-MM-DD form used for the daily bucket.
func (s *Selector) Select(symbol, tf string, candidates []Candidate, now time.Time, date string) Decision {
	if len(candidates) == 0 {
		return Decision{Send: false}
	}

	var blockedFirstID, blockedFirstReason string

	for i, c := range candidates {
		key := MakeKey(symbol, tf, c.StrategyID, c.Direction)

		if !s.Store.CanSend(key, now, s.CooldownMinutes) {
			if i == 0 {
				blockedFirstID, blockedFirstReason = c.StrategyID, explain.ReasonCooldownActive
			}
			if !s.FailoverOnBlock {
				return Decision{Send: false, BlockedWinnerID: blockedFirstID, BlockedReason: blockedFirstReason}
			}
			continue
		}

		if s.DailyLimitPerSymbol > 0 {
			count := s.Store.GetDailyCount(symbol, tf, c.StrategyID, date)
			if count >= s.DailyLimitPerSymbol {
				if i == 0 {
					blockedFirstID, blockedFirstReason = c.StrategyID, explain.ReasonDailyLimitReached
				}
				if !s.FailoverOnBlock {
					return Decision{Send: false, BlockedWinnerID: blockedFirstID, BlockedReason: blockedFirstReason}
				}
				continue
			}
		}

		{
			if s.hasRecentOppositeForSymbol(symbol, tf, c.Direction, now) {
				if i == 0 {
					blockedFirstID, blockedFirstReason = c.StrategyID, explain.ReasonConflictDirection
				}
				if !s.FailoverOnBlock {
					return Decision{Send: false, BlockedWinnerID: blockedFirstID, BlockedReason: blockedFirstReason}
				}
				continue
			}
		}

		winner := c
		return Decision{
			Send:            true,
			Winner:          &winner,
			FailoverUsed:    i > 0,
			BlockedWinnerID: blockedFirstID,
			BlockedReason:   blockedFirstReason,
		}
	}

	return Decision{Send: false, BlockedWinnerID: blockedFirstID, BlockedReason: blockedFirstReason}
}

// Commit records a sent decision's bookkeeping: sent-key timestamp and
// incremented daily counter. The scan cycle calls this only after the
// winning signal has been persisted and its notification enqueue attempted.
func (s *Selector) Commit(symbol, tf string, c Candidate, now time.Time, date string) {
	key := MakeKey(symbol, tf, c.StrategyID, c.Direction)
	s.Store.RecordSent(key, now, symbol, c.Direction, tf, c.StrategyID)
	s.Store.IncrementDaily(symbol, tf, c.StrategyID, date)
}

// hasRecentOppositeForSymbol reports whether any strategy has already sent
// a signal in the opposite direction for this symbol/timeframe earlier
// today, regardless of which strategy produced it.
func (s *Selector) hasRecentOppositeForSymbol(symbol, tf, direction string, now time.Time) bool {
	opp := "SELL"
	if direction == "SELL" {
		opp = "BUY"
	}

	s.Store.mu.Lock()
	defer s.Store.mu.Unlock()
	for _, rec := range s.Store.sent {
		if rec.Symbol != strings.ToUpper(symbol) || rec.Timeframe != strings.ToUpper(tf) || rec.Direction != opp {
			continue
		}
		sentAt := time.Unix(int64(rec.TS), 0)
		if sentAt.Year() == now.Year() && sentAt.YearDay() == now.YearDay() {
			return true
		}
	}
	return false
}
