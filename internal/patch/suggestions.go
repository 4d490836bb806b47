package patch

import (
	"encoding/json"
	"os"
	"strings"
)

// Suggestion is one proposed patch entry in the patch_suggestions.json
// registry, produced out-of-band (e.g. by an autofix pass) and later
// applied by strategy_id or patch_id.
type Suggestion struct {
	PatchID     string                 `json:"patch_id"`
	StrategyID  string                 `json:"strategy_id"`
	PatchType   string                 `json:"patch_type"`
	StrategyIDs []string               `json:"strategy_ids"`
	Changes     map[string]FieldChange `json:"changes"`
}

// SuggestionsDoc is the on-disk shape of patch_suggestions.json.
type SuggestionsDoc struct {
	Schema int          `json:"schema"`
	Items  []Suggestion `json:"items"`
}

// LoadSuggestions reads the patch suggestions registry. A missing or
// malformed file yields an empty registry rather than an error, matching
// the original tool's tolerant load.
func LoadSuggestions(path string) SuggestionsDoc {
	data, err := os.ReadFile(path)
	if err != nil {
		return SuggestionsDoc{Schema: 1}
	}
	var doc SuggestionsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return SuggestionsDoc{Schema: 1}
	}
	if doc.Schema == 0 {
		doc.Schema = 1
	}
	return doc
}

// FindSuggestionByID looks up patchID in the registry, optionally
// constrained to strategyID when non-empty (a bare patch_id may appear
// against more than one strategy in principle, so the caller's explicit
// --strategy takes precedence when given).
func FindSuggestionByID(doc SuggestionsDoc, patchID, strategyID string) *Suggestion {
	patchID = strings.TrimSpace(patchID)
	if patchID == "" {
		return nil
	}
	for _, item := range doc.Items {
		if item.PatchID != patchID {
			continue
		}
		if strategyID != "" && item.StrategyID != strategyID {
			continue
		}
		it := item
		return &it
	}
	return nil
}
