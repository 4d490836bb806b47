// Command apply_strategy_patch applies a recommended strategy patch to a
// single user's strategies file safely: backup, mutate, validate, atomic
// write, and an audit trail entry. Dry-run by default.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marketscan/scanner/internal/config"
	"github.com/marketscan/scanner/internal/patch"
	"github.com/marketscan/scanner/internal/strategy"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("apply_strategy_patch", flag.ContinueOnError)
	user := fs.String("user", "", "user_id owning the strategies file to patch")
	strategyID := fs.String("strategy", "", "strategy_id to patch")
	patchID := fs.String("patch_id", "", "patch_id from the suggestions registry")
	patchJSON := fs.String("patch_json", "", "inline patch JSON (object)")
	strategiesPath := fs.String("strategies_path", "", "path to the user's strategies file (default derived from --user)")
	suggestionsPath := fs.String("suggestions_path", "", "path to the patch suggestions registry")
	apply := fs.Bool("apply", false, "actually write the file (default is dry-run)")
	dryRun := fs.Bool("dry-run", false, "dry-run only")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *apply && *dryRun {
		fmt.Println("PATCH_APPLY_FAILED | patch_id=NA | strategy_id=NA | err=ValueError:apply and dry-run are mutually exclusive")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("PATCH_APPLY_FAILED | patch_id=NA | strategy_id=NA | err=ConfigError:%v\n", err)
		return 2
	}

	resolvedStrategiesPath := strings.TrimSpace(*strategiesPath)
	if resolvedStrategiesPath == "" {
		if strings.TrimSpace(*user) == "" {
			fmt.Println("PATCH_APPLY_FAILED | patch_id=NA | strategy_id=NA | err=ValueError:missing_user_or_strategies_path")
			return 2
		}
		resolvedStrategiesPath = filepath.Join(cfg.UserStrategiesDir, *user+".json")
	}

	resolvedSuggestionsPath := strings.TrimSpace(*suggestionsPath)
	if resolvedSuggestionsPath == "" {
		resolvedSuggestionsPath = cfg.PatchSuggestionsPath
	}

	dry := !*apply

	sid := strings.TrimSpace(*strategyID)
	pid := strings.TrimSpace(*patchID)
	pj := strings.TrimSpace(*patchJSON)

	fmt.Printf("PATCH_APPLY_START | patch_id=%s | strategy_id=%s | dry_run=%v\n", naIfEmpty(pid), naIfEmpty(sid), dry)

	changes, resolvedStrategyID, patchType, strategyIDs, err := resolveChanges(resolvedSuggestionsPath, pid, pj, sid)
	if err != nil {
		fmt.Printf("PATCH_APPLY_FAILED | patch_id=%s | strategy_id=%s | err=%v\n", naIfEmpty(pid), naIfEmpty(sid), err)
		return 2
	}
	sid = resolvedStrategyID
	if sid == "" {
		fmt.Printf("PATCH_APPLY_FAILED | patch_id=%s | strategy_id=NA | err=ValueError:missing_strategy_id\n", naIfEmpty(pid))
		return 2
	}

	registry := strategy.NewRegistry()
	strategy.RegisterBuiltins(registry)
	loader := strategy.NewLoader(registry, filepath.Join(cfg.StateDir, "presets"), cfg.StrictStrategyDetectors)

	applier := patch.NewApplier(resolvedStrategiesPath, filepath.Join(cfg.StateDir, "patch_audit.jsonl"), loader)
	_ = strategyIDs // Applier.Apply audits a single strategy_id; multi-id suggestions are not yet supported

	result, err := applier.Apply(sid, changes, patchType, dry)
	if err != nil {
		fmt.Printf("PATCH_APPLY_FAILED | patch_id=%s | strategy_id=%s | err=%v\n", naIfEmpty(pid), sid, err)
		return 2
	}

	fmt.Printf("PATCH_APPLY_OK | patch_id=%s | strategy_id=%s | dry_run=%v | backup=%s\n",
		result.PatchID, sid, dry, naIfEmpty(result.BackupPath))
	return 0
}

// resolveChanges resolves the field-change set from either --patch_id
// (looked up in the suggestions registry) or --patch_json (inline),
// matching the original tool's two input modes.
func resolveChanges(suggestionsPath, patchID, patchJSON, strategyID string) (map[string]patch.FieldChange, string, string, []string, error) {
	switch {
	case patchID != "":
		doc := patch.LoadSuggestions(suggestionsPath)
		sug := patch.FindSuggestionByID(doc, patchID, strategyID)
		if sug == nil {
			return nil, "", "", nil, errors.New("ValueError:patch_id_not_found")
		}
		sid := strategyID
		if sid == "" {
			sid = sug.StrategyID
		}
		ids := sug.StrategyIDs
		if len(ids) == 0 {
			ids = []string{sid}
		}
		return sug.Changes, sid, naOrValue(sug.PatchType), ids, nil

	case patchJSON != "":
		changes, sid, patchType, ids, err := parsePatchJSON(patchJSON, strategyID)
		if err != nil {
			return nil, "", "", nil, err
		}
		return changes, sid, patchType, ids, nil

	default:
		return nil, "", "", nil, errors.New("ValueError:missing_patch_id_or_patch_json")
	}
}

// parsePatchJSON accepts either {"changes": {...}, "strategy_id": "...",
// "patch_type": "...", "strategy_ids": [...]} or a bare {"field": {"to":
// ...}} changes map, stripping an accidental strategy_id key, matching the
// original tool's lenient inline-JSON parsing.
func parsePatchJSON(raw, strategyID string) (map[string]patch.FieldChange, string, string, []string, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, "", "", nil, fmt.Errorf("ValueError:patch_json_root_must_be_object")
	}

	sid := strategyID
	if sid == "" {
		if v, _ := obj["strategy_id"].(string); v != "" {
			sid = v
		}
	}

	patchType := "NA"
	if v, _ := obj["patch_type"].(string); v != "" {
		patchType = v
	} else if v, _ := obj["type"].(string); v != "" {
		patchType = v
	}

	var strategyIDs []string
	if raw, ok := obj["strategy_ids"].([]any); ok {
		for _, v := range raw {
			if s, _ := v.(string); strings.TrimSpace(s) != "" {
				strategyIDs = append(strategyIDs, s)
			}
		}
	}

	var changesRaw map[string]any
	if c, ok := obj["changes"].(map[string]any); ok {
		changesRaw = c
	} else {
		changesRaw = obj
	}
	delete(changesRaw, "strategy_id")

	if len(changesRaw) == 0 {
		return nil, "", "", nil, fmt.Errorf("ValueError:patch_json_changes_bad_shape")
	}

	changes := make(map[string]patch.FieldChange, len(changesRaw))
	for field, v := range changesRaw {
		if spec, ok := v.(map[string]any); ok {
			if to, has := spec["to"]; has {
				changes[field] = patch.FieldChange{To: to}
				continue
			}
		}
		changes[field] = patch.FieldChange{To: v}
	}

	return changes, sid, patchType, strategyIDs, nil
}

func naIfEmpty(s string) string {
	if s == "" {
		return "NA"
	}
	return s
}

func naOrValue(s string) string {
	if strings.TrimSpace(s) == "" {
		return "NA"
	}
	return s
}
