// Package patch implements the strategy-file patch/rollback workflow: a
// dry-run-by-default apply that backs up the target file, mutates one
// strategy's fields, validates the result, then atomically replaces the
// file and appends a JSONL audit record; and a rollback that restores a
// prior backup from that same audit trail.
package patch

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/marketscan/scanner/internal/strategy"
	"github.com/marketscan/scanner/pkg/atomicio"
)

// FieldChange describes one field mutation: "to" is the new value, the
// "before" value is captured from the live document at apply time.
type FieldChange struct {
	To any `json:"to"`
}

// Record is one apply_strategy_patch/rollback_strategy_patch result.
type Record struct {
	OK             bool           `json:"ok"`
	PatchID        string         `json:"patch_id"`
	BeforeSnapshot map[string]any `json:"before_snapshot,omitempty"`
	AfterSnapshot  map[string]any `json:"after_snapshot,omitempty"`
	BackupPath     string         `json:"backup_path,omitempty"`
	DryRun         bool           `json:"dry_run"`
}

// AuditEntry is one line of the patch audit JSONL file.
type AuditEntry struct {
	TS          int64          `json:"ts"`
	PatchID     string         `json:"patch_id"`
	PatchType   string         `json:"patch_type"`
	StrategyIDs []string       `json:"strategy_ids"`
	FilePath    string         `json:"file_path"`
	BackupPath  string         `json:"backup_path"`
	DryRun      bool           `json:"dry_run"`
	Before      map[string]any `json:"before"`
	After       map[string]any `json:"after"`
}

// stablePatchID hashes {strategy_id, changes} the same way as the
// original tool: sorted-key JSON through SHA-1, truncated to 12 hex chars,
// so the same patch proposed twice yields the same id.
func stablePatchID(strategyID string, changes map[string]FieldChange) string {
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make(map[string]FieldChange, len(changes))
	for _, k := range keys {
		ordered[k] = changes[k]
	}
	payload := struct {
		StrategyID string                 `json:"strategy_id"`
		Changes    map[string]FieldChange `json:"changes"`
	}{strategyID, ordered}

	raw, _ := json.Marshal(payload)
	sum := sha1.Sum(raw)
	return hex.EncodeToString(sum[:])[:12]
}

// Applier applies patches to a single on-disk strategies JSON document
// shaped like {"schema_version":N,"strategies":[{...}]}.
type Applier struct {
	StrategiesPath string
	AuditPath      string
	Loader         *strategy.Loader
}

// NewApplier returns an Applier bound to the strategies file, audit log,
// and the loader used to validate the post-patch document.
func NewApplier(strategiesPath, auditPath string, loader *strategy.Loader) *Applier {
	return &Applier{StrategiesPath: strategiesPath, AuditPath: auditPath, Loader: loader}
}

func findStrategyIndex(strategies []map[string]any, strategyID string) int {
	for i, s := range strategies {
		if id, _ := s["strategy_id"].(string); id == strategyID {
			return i
		}
	}
	return -1
}

func deepCopyDoc(doc map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Apply mutates strategyID's fields per changes, validates the result, and
// (unless dryRun) backs up the current file, writes the patched document,
// and appends an audit record. patchType is a free-form label carried into
// the audit entry ("manual", "autofix", etc).
func (a *Applier) Apply(strategyID string, changes map[string]FieldChange, patchType string, dryRun bool) (*Record, error) {
	raw, err := os.ReadFile(a.StrategiesPath)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid strategies file: %w", err)
	}

	strategiesRaw, _ := doc["strategies"].([]any)
	strategies := make([]map[string]any, 0, len(strategiesRaw))
	for _, s := range strategiesRaw {
		if m, ok := s.(map[string]any); ok {
			strategies = append(strategies, m)
		}
	}

	idx := findStrategyIndex(strategies, strategyID)
	if idx < 0 {
		return nil, fmt.Errorf("strategy_id_not_found: %s", strategyID)
	}

	newDoc, err := deepCopyDoc(doc)
	if err != nil {
		return nil, err
	}
	newStrategiesRaw, _ := newDoc["strategies"].([]any)
	strategyObj, ok := newStrategiesRaw[idx].(map[string]any)
	if !ok {
		return nil, errors.New("strategy_entry_not_a_dict")
	}

	before := map[string]any{}
	after := map[string]any{}
	for field, change := range changes {
		before[field] = strategyObj[field]
		strategyObj[field] = change.To
		after[field] = change.To
	}

	if err := a.validateStrategyObject(strategyObj); err != nil {
		return nil, fmt.Errorf("validation_failed: %w", err)
	}

	patchID := stablePatchID(strategyID, changes)

	if dryRun {
		return &Record{OK: true, PatchID: patchID, BeforeSnapshot: before, AfterSnapshot: after, DryRun: true}, nil
	}

	backupPath := fmt.Sprintf("%s.bak.%s", a.StrategiesPath, time.Now().UTC().Format("20060102_150405"))
	if err := os.WriteFile(backupPath, raw, 0o644); err != nil {
		return nil, fmt.Errorf("backup failed: %w", err)
	}

	patchedBytes, err := json.MarshalIndent(newDoc, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := atomicio.WriteFile(a.StrategiesPath, patchedBytes, 0o644); err != nil {
		return nil, err
	}

	a.appendAudit(AuditEntry{
		TS:          time.Now().Unix(),
		PatchID:     patchID,
		PatchType:   naIfEmpty(patchType),
		StrategyIDs: []string{strategyID},
		FilePath:    a.StrategiesPath,
		BackupPath:  backupPath,
		DryRun:      false,
		Before:      before,
		After:       after,
	})

	return &Record{OK: true, PatchID: patchID, BeforeSnapshot: before, AfterSnapshot: after, BackupPath: backupPath, DryRun: false}, nil
}

// validateStrategyObject round-trips a single raw strategy object through
// the Loader's normalize-and-validate path by wrapping it in a minimal
// pack document, matching the original tool's from_dict + validate pass.
func (a *Applier) validateStrategyObject(obj map[string]any) error {
	single := map[string]any{
		"schema_version": 1,
		"strategies":     []any{obj},
	}
	raw, err := json.Marshal(single)
	if err != nil {
		return err
	}
	result, err := a.Loader.LoadBytes(raw)
	if err != nil {
		return err
	}
	if len(result.InvalidEnabled) > 0 {
		return fmt.Errorf("%v", result.InvalidEnabled[0].Errors)
	}
	return nil
}

func naIfEmpty(s string) string {
	if s == "" {
		return "NA"
	}
	return s
}

// appendAudit appends one audit line, best-effort: a failure to write the
// audit trail never fails the patch apply itself, matching the original
// tool's non-fatal audit append.
func (a *Applier) appendAudit(entry AuditEntry) {
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_ = atomicio.AppendJSONLine(a.AuditPath, string(line))
}
