package signals

import (
	"sort"
	"strings"
)

// DrawingObjectPublic is the minimal chart primitive shape UI clients
// consume: level => line, zone => box.
type DrawingObjectPublic struct {
	ObjectID  string   `json:"object_id"`
	Kind      string   `json:"kind"` // "line" or "box"
	Type      string   `json:"type"` // compatibility alias, mirrors Kind
	Label     string   `json:"label,omitempty"`
	Price     *float64 `json:"price,omitempty"`
	PriceFrom *float64 `json:"price_from,omitempty"`
	PriceTo   *float64 `json:"price_to,omitempty"`
}

// PayloadPublicV1 is the derived, UI-facing signal record. It is always
// built from a PayloadV1 — never constructed independently — so legacy and
// public views can never drift.
type PayloadPublicV1 struct {
	SchemaName    string `json:"schema_name"`
	SchemaVersion int    `json:"schema_version"`

	SignalID  string `json:"signal_id"`
	CreatedAt int64  `json:"created_at"`
	TSUtc     int64  `json:"ts_utc"`

	UserID string `json:"user_id"`
	Symbol string `json:"symbol"`
	TF     string `json:"tf"`
	Timeframe string `json:"timeframe"`

	Status    string `json:"status"`
	Direction string `json:"direction"`

	Entry, SL, TP, RR *float64

	Explain map[string]any `json:"explain"`
	Evidence map[string]any `json:"evidence"`

	ChartDrawings []DrawingObjectPublic `json:"chart_drawings"`
}

func safeDirection(direction string) string {
	d := strings.ToUpper(strings.TrimSpace(direction))
	if d == "BUY" || d == "SELL" {
		return d
	}
	return "NA"
}

func stablePublicID(kind, name string) string {
	return strings.ToLower("pubv1:" + kind + ":" + name)
}

// ToPublicV1 derives the public payload from a full engine payload: the
// stable evidence keys (entry/sl/tp/rr/entry_zone) always exist, and chart
// drawings are built from the engine setup first, then merged with any
// legacy drawings by object_id (first occurrence wins, extras sorted for
// determinism).
func ToPublicV1(p PayloadV1) PayloadPublicV1 {
	var evidenceSrc map[string]any
	if ev, ok := p.Explain["evidence"].(map[string]any); ok {
		evidenceSrc = ev
	}

	evidence := map[string]any{
		"entry": p.Entry, "sl": p.SL, "tp": p.TP, "rr": p.RR, "entry_zone": nil,
	}
	if evidenceSrc != nil {
		keys := make([]string, 0, len(evidenceSrc))
		for k := range evidenceSrc {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, reserved := evidence[k]; reserved {
				continue
			}
			evidence[k] = evidenceSrc[k]
		}
		if ez, ok := evidenceSrc["entry_zone"]; ok && ez != nil {
			evidence["entry_zone"] = ez
		}
	}

	baseDrawings := publicDrawingsFromSetup(p.Entry, p.SL, p.TP, evidence["entry_zone"])
	legacyDrawings := publicDrawingsFromV1(p)
	drawings := mergeDrawingsDedup(baseDrawings, legacyDrawings)

	explain := p.Explain
	if explain == nil {
		explain = map[string]any{}
	}

	return PayloadPublicV1{
		SchemaName:    "SignalPayloadPublicV1",
		SchemaVersion: 1,
		SignalID:      p.SignalID,
		CreatedAt:     p.CreatedAt,
		TSUtc:         p.CreatedAt,
		UserID:        p.UserID,
		Symbol:        p.Symbol,
		TF:            p.TF,
		Timeframe:     p.TF,
		Status:        "OK",
		Direction:     safeDirection(p.Direction),
		Entry:         p.Entry,
		SL:            p.SL,
		TP:            p.TP,
		RR:            p.RR,
		Explain:       explain,
		Evidence:      evidence,
		ChartDrawings: drawings,
	}
}

func publicDrawingsFromSetup(entry, sl, tp *float64, entryZone any) []DrawingObjectPublic {
	var out []DrawingObjectPublic
	if entry != nil {
		out = append(out, lineDrawing("entry", "ENTRY", *entry))
	}
	if sl != nil {
		out = append(out, lineDrawing("sl", "SL", *sl))
	}
	if tp != nil {
		out = append(out, lineDrawing("tp", "TP", *tp))
	}
	if zone, ok := entryZone.(map[string]any); ok {
		from := floatFromAny(zone["price_from"])
		to := floatFromAny(zone["price_to"])
		if from != nil && to != nil {
			lo, hi := *from, *to
			if lo > hi {
				lo, hi = hi, lo
			}
			if lo != hi {
				out = append(out, boxDrawing("entry_zone", "Entry zone", lo, hi))
			}
		}
	}
	return out
}

func lineDrawing(name, label string, price float64) DrawingObjectPublic {
	return DrawingObjectPublic{ObjectID: stablePublicID("line", name), Kind: "line", Type: "line", Label: label, Price: &price}
}

func boxDrawing(name, label string, from, to float64) DrawingObjectPublic {
	return DrawingObjectPublic{ObjectID: stablePublicID("box", name), Kind: "box", Type: "box", Label: label, PriceFrom: &from, PriceTo: &to}
}

func publicDrawingsFromV1(p PayloadV1) []DrawingObjectPublic {
	// The v1 ENTRY/SL/TP lines and entry-zone box take the ids of the
	// matching setup drawings, so mergeDrawingsDedup keeps one of each.
	setupIDs := map[string]string{
		stableDrawingID("level", "entry"):     stablePublicID("line", "entry"),
		stableDrawingID("level", "sl"):        stablePublicID("line", "sl"),
		stableDrawingID("level", "tp"):        stablePublicID("line", "tp"),
		stableDrawingID("zone", "entry_zone"): stablePublicID("box", "entry_zone"),
	}
	var out []DrawingObjectPublic
	for _, d := range p.Drawings {
		if pid, ok := setupIDs[d.ObjectID]; ok {
			d.ObjectID = pid
		}
		switch d.Kind {
		case "level":
			if d.Price == nil {
				continue
			}
			id := d.ObjectID
			if id == "" {
				id = stablePublicID("line", trimFloat(*d.Price))
			}
			out = append(out, DrawingObjectPublic{ObjectID: id, Kind: "line", Type: "line", Label: d.Label, Price: d.Price})
		case "zone":
			if d.PriceFrom == nil || d.PriceTo == nil {
				continue
			}
			lo, hi := *d.PriceFrom, *d.PriceTo
			if lo > hi {
				lo, hi = hi, lo
			}
			if lo == hi {
				continue
			}
			id := d.ObjectID
			if id == "" {
				id = stablePublicID("box", trimFloat(lo)+"-"+trimFloat(hi))
			}
			out = append(out, DrawingObjectPublic{ObjectID: id, Kind: "box", Type: "box", Label: d.Label, PriceFrom: &lo, PriceTo: &hi})
		}
	}
	return out
}

func mergeDrawingsDedup(base, extra []DrawingObjectPublic) []DrawingObjectPublic {
	seen := map[string]bool{}
	out := make([]DrawingObjectPublic, 0, len(base)+len(extra))

	for _, d := range base {
		oid := strings.TrimSpace(d.ObjectID)
		if oid == "" || seen[oid] {
			continue
		}
		seen[oid] = true
		out = append(out, d)
	}

	sorted := make([]DrawingObjectPublic, len(extra))
	copy(sorted, extra)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ObjectID < sorted[j].ObjectID })

	for _, d := range sorted {
		oid := strings.TrimSpace(d.ObjectID)
		if oid == "" || seen[oid] {
			continue
		}
		seen[oid] = true
		out = append(out, d)
	}

	return out
}
