package explain

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/marketscan/scanner/pkg/atomicio"
)

// MetricsEvent is the append-only record emitted for every scan outcome.
// It is always derived from an already-built Explain payload, never
// computed independently.
type MetricsEvent struct {
	TS            float64 `json:"ts"`
	ScanID        string  `json:"scan_id"`
	Symbol        string  `json:"symbol"`
	TF            string  `json:"tf"`
	StrategyID    string  `json:"strategy_id"`
	Status        string  `json:"status"`
	Reason        string  `json:"reason"`
	Score         *float64 `json:"score"`
	ScoreRaw      *float64 `json:"score_raw"`
	Bonus         *float64 `json:"bonus"`
	RR            *float64 `json:"rr"`
	Regime        string  `json:"regime"`
	Candidates    any     `json:"candidates,omitempty"`
	FailoverUsed  *bool   `json:"failover_used"`
	ParamsDigest  string  `json:"params_digest"`
	TopHits       []string `json:"top_hits,omitempty"`
	HitCount      *int     `json:"hit_count,omitempty"`
}

// BuildEventFromExplain derives a MetricsEvent from a just-built Explain
// payload, the way build_event_from_explain does: pulling score/rr/regime
// out of payload.Details and top_hits out of payload.Details or, for NONE
// outcomes, out of the score breakdown's contributor names.
func BuildEventFromExplain(p Payload, candidates any, failoverUsed *bool, now time.Time) MetricsEvent {
	topHits := topHitsFrom(p)
	hitCount := len(topHits)

	ev := MetricsEvent{
		TS:           float64(now.UnixNano()) / 1e9,
		ScanID:       p.ScanID,
		Symbol:       p.Symbol,
		TF:           p.TF,
		StrategyID:   p.StrategyID,
		Status:       string(p.Status),
		Reason:       p.Reason,
		Regime:       asString(p.Details["regime"]),
		Candidates:   candidates,
		FailoverUsed: failoverUsed,
		ParamsDigest: asString(p.Details["params_digest"]),
		TopHits:      topHits,
		HitCount:     &hitCount,
	}

	ev.Score = asFloatPtr(p.Details["score"])
	ev.ScoreRaw = asFloatPtr(p.Details["score_raw"])
	ev.Bonus = asFloatPtr(p.Details["bonus"])
	ev.RR = asFloatPtr(p.Details["rr"])

	return ev
}

func topHitsFrom(p Payload) []string {
	if v, ok := p.Details["top_hits"].([]string); ok && len(v) > 0 {
		return v
	}
	breakdown, _ := p.Evidence["score_breakdown"].(map[string]any)
	contribs, _ := breakdown["top_hit_contribs"].([]map[string]any)
	seen := map[string]bool{}
	var out []string
	for _, c := range contribs {
		name, _ := c["detector"].(string)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloatPtr(v any) *float64 {
	switch f := v.(type) {
	case float64:
		return &f
	case *float64:
		return f
	default:
		return nil
	}
}

var metricsMu sync.Mutex

// Emit appends one JSONL line to path. Non-fatal by design: a failure to
// write metrics must never fail the scan, so errors are swallowed after
// being handed to the caller's logger (callers should log err themselves
// if non-nil, but must never propagate it into scan control flow).
func Emit(event MetricsEvent, path string) error {
	metricsMu.Lock()
	defer metricsMu.Unlock()

	line, err := json.Marshal(SafeJSONable(event, 0))
	if err != nil {
		return err
	}
	return atomicio.AppendJSONLine(path, string(line))
}

// SafeJSONable recursively sanitizes a value for JSONL serialization:
// depth-limited to 4, lists truncated to 50 elements, unknown types
// stringified. This defends the metrics sink against unbounded or
// pathological structures reaching disk.
func SafeJSONable(v any, depth int) any {
	const maxDepth = 4
	const maxList = 50

	if depth > maxDepth {
		return "..."
	}

	switch val := v.(type) {
	case nil, bool, string, int, int32, int64, float32, float64:
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		i := 0
		for k, vv := range val {
			if i >= maxList {
				break
			}
			out[k] = SafeJSONable(vv, depth+1)
			i++
		}
		return out
	case []string:
		n := len(val)
		if n > maxList {
			n = maxList
		}
		out := make([]any, n)
		for i := 0; i < n; i++ {
			out[i] = val[i]
		}
		return out
	case []any:
		n := len(val)
		if n > maxList {
			n = maxList
		}
		out := make([]any, n)
		for i := 0; i < n; i++ {
			out[i] = SafeJSONable(val[i], depth+1)
		}
		return out
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "NA"
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return "NA"
		}
		if depth == maxDepth {
			return "..."
		}
		return SafeJSONable(generic, depth+1)
	}
}
