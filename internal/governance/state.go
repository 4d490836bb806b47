// Package governance decides, for every scan candidate that reached an OK
// explain outcome, whether a signal is actually allowed to go out: cooldown,
// daily limits, and same-symbol opposite-direction conflicts.
package governance

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/marketscan/scanner/pkg/atomicio"
)

// SentRecord is one previously-sent signal's bookkeeping entry.
type SentRecord struct {
	TS         float64 `json:"ts"`
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	Timeframe  string  `json:"timeframe"`
	StrategyID string  `json:"strategy_id"`
}

type stateDoc struct {
	Schema int                         `json:"schema"`
	Sent   map[string]SentRecord       `json:"sent"`
	Daily  map[string]map[string]int  `json:"daily"`
}

// SignalStateStore is the persistent cooldown and daily-limit ledger, keyed
// per (symbol, timeframe, strategy_id, direction). The on-disk key is a
// SHA1 hex digest per the data model (not the raw pipe-delimited string);
// see the key-format note in DESIGN.md.
type SignalStateStore struct {
	path string

	mu    sync.Mutex
	sent  map[string]SentRecord
	daily map[string]map[string]int
}

// NewSignalStateStore constructs a store bound to path. Callers must call
// Load before first use.
func NewSignalStateStore(path string) *SignalStateStore {
	return &SignalStateStore{
		path:  path,
		sent:  map[string]SentRecord{},
		daily: map[string]map[string]int{},
	}
}

// MakeKey builds the SHA1(symbol|tf|strategy_id|direction) key.
func MakeKey(symbol, timeframe, strategyID, direction string) string {
	sid := strings.TrimSpace(strategyID)
	if sid == "" {
		sid = "legacy"
	}
	raw := strings.Join([]string{
		strings.ToUpper(symbol),
		strings.ToUpper(timeframe),
		sid,
		strings.ToUpper(direction),
	}, "|")
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// MakeDailyBucket builds the "SYMBOL|TF|STRATEGY_ID" daily-counter bucket.
func MakeDailyBucket(symbol, timeframe, strategyID string) string {
	sid := strings.TrimSpace(strategyID)
	if sid == "" {
		sid = "legacy"
	}
	return strings.Join([]string{strings.ToUpper(symbol), strings.ToUpper(timeframe), sid}, "|")
}

// Load reads state from disk. A missing or corrupt file yields empty state,
// never an error, matching the teacher's tolerant startup posture.
func (s *SignalStateStore) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		s.sent = map[string]SentRecord{}
		s.daily = map[string]map[string]int{}
		return
	}

	var doc stateDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		s.sent = map[string]SentRecord{}
		s.daily = map[string]map[string]int{}
		return
	}

	if doc.Sent == nil {
		doc.Sent = map[string]SentRecord{}
	}
	if doc.Daily == nil {
		doc.Daily = map[string]map[string]int{}
	}
	s.sent = doc.Sent
	s.daily = doc.Daily
}

// RecordSent stamps signalKey as sent at ts.
func (s *SignalStateStore) RecordSent(signalKey string, ts time.Time, symbol, direction, timeframe, strategyID string) {
	sid := strings.TrimSpace(strategyID)
	if sid == "" {
		sid = "legacy"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[signalKey] = SentRecord{
		TS:         float64(ts.UnixNano()) / 1e9,
		Symbol:     strings.ToUpper(symbol),
		Direction:  strings.ToUpper(direction),
		Timeframe:  strings.ToUpper(timeframe),
		StrategyID: sid,
	}
}

// CanSend reports whether cooldownMinutes have elapsed since signalKey was
// last recorded sent (or true if it was never sent, or cooldown is <= 0).
func (s *SignalStateStore) CanSend(signalKey string, now time.Time, cooldownMinutes int) bool {
	if cooldownMinutes <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sent[signalKey]
	if !ok {
		return true
	}
	ageSec := float64(now.UnixNano())/1e9 - rec.TS
	return ageSec >= float64(cooldownMinutes)*60.0
}

// IncrementDaily bumps and returns the counter for (symbol, tf, strategy_id)
// on the given date (YYYY-MM-DD).
func (s *SignalStateStore) IncrementDaily(symbol, timeframe, strategyID, date string) int {
	bucket := MakeDailyBucket(symbol, timeframe, strategyID)
	s.mu.Lock()
	defer s.mu.Unlock()
	byDate := s.daily[bucket]
	if byDate == nil {
		byDate = map[string]int{}
		s.daily[bucket] = byDate
	}
	byDate[date]++
	return byDate[date]
}

// GetDailyCount reads without mutating the counter for (symbol, tf,
// strategy_id) on date.
func (s *SignalStateStore) GetDailyCount(symbol, timeframe, strategyID, date string) int {
	bucket := MakeDailyBucket(symbol, timeframe, strategyID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.daily[bucket][date]
}

// Prune drops sent records older than olderThanDays and daily buckets whose
// dates are entirely in the past relative to that cutoff.
func (s *SignalStateStore) Prune(olderThanDays int, now time.Time) (prunedSent, prunedDaily int) {
	if olderThanDays <= 0 {
		return 0, 0
	}
	cutoffTS := float64(now.UnixNano())/1e9 - float64(olderThanDays)*86400.0
	cutoffDate := now.AddDate(0, 0, -olderThanDays)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range s.sent {
		if v.TS < cutoffTS {
			delete(s.sent, k)
			prunedSent++
		}
	}

	for bucket, byDate := range s.daily {
		for dateKey := range byDate {
			d, err := time.Parse("2006-01-02", dateKey)
			if err != nil {
				continue
			}
			if d.Before(truncDate(cutoffDate)) {
				delete(byDate, dateKey)
				prunedDaily++
			}
		}
		if len(byDate) == 0 {
			delete(s.daily, bucket)
		}
	}
	return prunedSent, prunedDaily
}

func truncDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SnapshotCounts reports store size for health/debug reporting.
func (s *SignalStateStore) SnapshotCounts() (sentKeys, dailySymbols, dailyEntries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sentKeys = len(s.sent)
	dailySymbols = len(s.daily)
	for _, v := range s.daily {
		dailyEntries += len(v)
	}
	return
}

// SaveAtomic persists the store as indented, sorted-key JSON via a
// write-temp-then-rename.
func (s *SignalStateStore) SaveAtomic() error {
	s.mu.Lock()
	doc := stateDoc{Schema: 2, Sent: s.sent, Daily: s.daily}
	s.mu.Unlock()

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return atomicio.WriteFile(s.path, b, 0o644)
}
