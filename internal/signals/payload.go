// Package signals builds the versioned signal payloads sent to users (the
// full "v1" engine payload and its derived public/UI form) and persists
// them to append-only JSONL stores.
package signals

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EngineLevel is a single annotated horizontal price level.
type EngineLevel struct {
	Price float64 `json:"price"`
	Label string  `json:"label,omitempty"`
}

// EngineZone is a single annotated price band.
type EngineZone struct {
	PriceFrom float64 `json:"priceFrom"`
	PriceTo   float64 `json:"priceTo"`
	Label     string  `json:"label,omitempty"`
}

// EngineAnnotations is the legacy chart-overlay bundle a detector may
// attach to a signal.
type EngineAnnotations struct {
	Levels    []EngineLevel `json:"levels"`
	Zones     []EngineZone  `json:"zones"`
	FiboZones []EngineZone  `json:"fiboZones"`
}

// DrawingObject is the stable v1 drawing primitive: level => line, zone =>
// box.
type DrawingObject struct {
	ObjectID  string   `json:"object_id"`
	Kind      string   `json:"kind"` // "level" or "zone"
	Label     string   `json:"label,omitempty"`
	Price     *float64 `json:"price,omitempty"`
	PriceFrom *float64 `json:"price_from,omitempty"`
	PriceTo   *float64 `json:"price_to,omitempty"`
}

// PayloadV1 is the full engine-internal signal record, schema_version 1.
type PayloadV1 struct {
	SchemaName string `json:"schema_name"`
	SchemaVersion int `json:"schema_version"`

	SignalID  string `json:"signal_id"`
	CreatedAt int64  `json:"created_at"`

	UserID string `json:"user_id"`
	Symbol string `json:"symbol"`
	TF     string `json:"tf"`

	Direction string   `json:"direction"`
	Entry     *float64 `json:"entry"`
	SL        *float64 `json:"sl"`
	TP        *float64 `json:"tp"`
	RR        *float64 `json:"rr"`

	Score      *float64 `json:"score"`
	StrategyID string   `json:"strategy_id"`
	ScanID     string   `json:"scan_id"`

	Reasons []string       `json:"reasons"`
	Explain map[string]any `json:"explain"`

	EngineAnnotations EngineAnnotations `json:"engine_annotations"`
	Drawings          []DrawingObject   `json:"drawings"`
}

// BuildParams carries everything build_payload_v1 needs.
type BuildParams struct {
	UserID     string
	Symbol     string
	TF         string
	Direction  string
	Entry, SL, TP, RR, Score *float64
	StrategyID string
	ScanID     string
	Reasons    []string
	Explain    map[string]any
	Annotations *EngineAnnotations
}

func safeFloat(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) {
		return nil
	}
	f := *v
	return &f
}

func stableDrawingID(kind, name string) string {
	return strings.ToLower("v1:" + kind + ":" + name)
}

// BuildDrawingsV1 derives ENTRY/SL/TP lines and an optional entry-zone box
// from setup values and evidence, skipping any primitive whose value is
// unavailable.
func BuildDrawingsV1(direction string, entry, sl, tp, rr *float64, evidence map[string]any) []DrawingObject {
	var out []DrawingObject

	if e := safeFloat(entry); e != nil {
		out = append(out, DrawingObject{
			ObjectID: stableDrawingID("level", "entry"),
			Kind:     "level",
			Label:    "ENTRY " + strings.ToUpper(strings.TrimSpace(direction)),
			Price:    e,
		})
	}
	if s := safeFloat(sl); s != nil {
		out = append(out, DrawingObject{ObjectID: stableDrawingID("level", "sl"), Kind: "level", Label: "SL", Price: s})
	}
	if t := safeFloat(tp); t != nil {
		label := "TP"
		if r := safeFloat(rr); r != nil {
			label = "TP (RR " + trimFloat(*r) + ")"
		}
		out = append(out, DrawingObject{ObjectID: stableDrawingID("level", "tp"), Kind: "level", Label: label, Price: t})
	}

	if evidence != nil {
		if zone, ok := evidence["entry_zone"].(map[string]any); ok {
			from := floatFromAny(zone["price_from"])
			to := floatFromAny(zone["price_to"])
			if from != nil && to != nil {
				lo, hi := *from, *to
				if lo > hi {
					lo, hi = hi, lo
				}
				if lo != hi {
					out = append(out, DrawingObject{
						ObjectID:  stableDrawingID("zone", "entry_zone"),
						Kind:      "zone",
						Label:     "Entry zone",
						PriceFrom: &lo,
						PriceTo:   &hi,
					})
				}
			}
		}
	}

	return out
}

func floatFromAny(v any) *float64 {
	switch f := v.(type) {
	case float64:
		return &f
	case *float64:
		return f
	default:
		return nil
	}
}

func trimFloat(f float64) string {
	return fmt.Sprintf("%.2f", f)
}

// BuildPayloadV1 constructs a full engine signal record: a fresh signal_id,
// deterministic drawings, and all setup fields normalized (symbol upper,
// direction upper, NaN dropped to nil).
func BuildPayloadV1(p BuildParams) PayloadV1 {
	annotations := EngineAnnotations{}
	if p.Annotations != nil {
		annotations = *p.Annotations
	}

	var evidence map[string]any
	if ev, ok := p.Explain["evidence"].(map[string]any); ok {
		evidence = ev
	}
	drawings := BuildDrawingsV1(p.Direction, p.Entry, p.SL, p.TP, p.RR, evidence)

	if len(drawings) == 0 && (len(annotations.Levels) > 0 || len(annotations.Zones) > 0 || len(annotations.FiboZones) > 0) {
		drawings = drawingsFromAnnotations(annotations)
	}

	reasons := p.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	explain := p.Explain
	if explain == nil {
		explain = map[string]any{}
	}

	return PayloadV1{
		SchemaName:    "SignalPayloadV1",
		SchemaVersion: 1,
		SignalID:      uuid.New().String(),
		CreatedAt:     time.Now().Unix(),
		UserID:        p.UserID,
		Symbol:        strings.ToUpper(p.Symbol),
		TF:            p.TF,
		Direction:     strings.ToUpper(p.Direction),
		Entry:         safeFloat(p.Entry),
		SL:            safeFloat(p.SL),
		TP:            safeFloat(p.TP),
		RR:            safeFloat(p.RR),
		Score:         safeFloat(p.Score),
		StrategyID:    p.StrategyID,
		ScanID:        p.ScanID,
		Reasons:       reasons,
		Explain:       explain,
		EngineAnnotations: annotations,
		Drawings:      drawings,
	}
}

func drawingsFromAnnotations(a EngineAnnotations) []DrawingObject {
	var out []DrawingObject
	for _, lvl := range a.Levels {
		label := lvl.Label
		if label == "" {
			label = "level"
		}
		price := lvl.Price
		out = append(out, DrawingObject{ObjectID: stableDrawingID("level", label), Kind: "level", Label: lvl.Label, Price: &price})
	}
	for _, z := range a.Zones {
		out = append(out, zoneDrawing(z, "zone"))
	}
	for _, z := range a.FiboZones {
		out = append(out, zoneDrawing(z, "fibo"))
	}
	return out
}

func zoneDrawing(z EngineZone, fallbackPrefix string) DrawingObject {
	label := z.Label
	name := label
	if name == "" {
		name = fallbackPrefix
	}
	from, to := z.PriceFrom, z.PriceTo
	return DrawingObject{ObjectID: stableDrawingID("zone", name), Kind: "zone", Label: label, PriceFrom: &from, PriceTo: &to}
}
