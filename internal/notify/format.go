package notify

import (
	"fmt"
)

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// FormatMessage renders a queued event's payload into the Telegram alert
// text, matching the teacher's own alert layout (pair/type/targets) while
// sourcing values from our signal payload fields instead of the
// teacher's whale-sentiment fields.
func FormatMessage(symbol, tf, setupType string, payload map[string]any) string {
	direction := asString(payload["direction"])
	if direction == "" {
		direction = setupType
	}

	entry, hasEntry := asFloat(payload["entry"])
	sl, hasSL := asFloat(payload["sl"])
	tp, hasTP := asFloat(payload["tp"])
	rr, hasRR := asFloat(payload["rr"])
	score, hasScore := asFloat(payload["score"])

	msg := fmt.Sprintf("🔔 *SIGNAL ALERT*\n\n*Pair:* %s | *TF:* %s\n*Direction:* %s", symbol, tf, direction)

	if hasEntry {
		msg += fmt.Sprintf("\n*Entry:* %.5f", entry)
	}
	if hasSL {
		msg += fmt.Sprintf(" | *SL:* %.5f", sl)
	}
	if hasTP {
		msg += fmt.Sprintf(" | *TP:* %.5f", tp)
	}
	if hasRR {
		msg += fmt.Sprintf("\n*RR:* %.2f", rr)
	}
	if hasScore {
		msg += fmt.Sprintf(" | *Score:* %.2f", score)
	}
	if strategyID := asString(payload["strategy_id"]); strategyID != "" {
		msg += fmt.Sprintf("\n*Strategy:* %s", strategyID)
	}

	return msg
}
