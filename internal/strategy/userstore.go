package strategy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marketscan/scanner/pkg/atomicio"
)

// UserStrategiesStore persists per-user strategy overrides under
// UserStrategiesDir/<user_id>.json, each file holding a
// {schema_version, user_id, updated_at, strategies[]} document whose
// strategies are stored as submitted (LoadSpecs normalizes them on read),
// matching the original per-user strategies file contract.
type UserStrategiesStore struct {
	Dir    string
	Loader *Loader
}

// NewUserStrategiesStore returns a store rooted at dir, using loader to
// validate/normalize strategies on save.
func NewUserStrategiesStore(dir string, loader *Loader) *UserStrategiesStore {
	return &UserStrategiesStore{Dir: dir, Loader: loader}
}

func (s *UserStrategiesStore) path(userID string) string {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		uid = "unknown"
	}
	return filepath.Join(s.Dir, uid+".json")
}

type userStrategiesDoc struct {
	SchemaVersion int              `json:"schema_version"`
	UserID        string           `json:"user_id"`
	UpdatedAt     int64            `json:"updated_at"`
	Strategies    []rawStrategy    `json:"strategies"`
}

// Load returns the raw strategy items stored for userID, or an empty slice
// if missing/invalid. Never returns an error: missing or malformed state is
// treated as "no overrides."
func (s *UserStrategiesStore) Load(userID string) []rawStrategy {
	data, err := os.ReadFile(s.path(userID))
	if err != nil {
		return nil
	}
	var doc userStrategiesDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return doc.Strategies
}

// Save validates+normalizes items via the Loader, then atomically persists
// them, returning the normalized specs and any validation warnings.
func (s *UserStrategiesStore) Save(userID string, items []rawStrategy) (*LoadResult, error) {
	byID := map[string]rawStrategy{}
	for _, it := range items {
		byID[it.StrategyID] = it
	}
	result := s.Loader.normalizeAll(byID)

	doc := userStrategiesDoc{
		SchemaVersion: 1,
		UserID:        userID,
		UpdatedAt:     time.Now().Unix(),
		Strategies:    items,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := atomicio.WriteFile(s.path(userID), data, 0o644); err != nil {
		return nil, err
	}

	return result, nil
}

// LoadJSON returns userID's stored strategy overrides as raw JSON bytes,
// for callers (the HTTP API) that have no need for the unexported
// rawStrategy type.
func (s *UserStrategiesStore) LoadJSON(userID string) ([]byte, error) {
	return json.Marshal(s.Load(userID))
}

// SaveJSON decodes a JSON array of strategy items and persists them via
// Save, for callers (the HTTP API) that receive a strategies PUT body and
// have no need for the unexported rawStrategy type.
func (s *UserStrategiesStore) SaveJSON(userID string, data []byte) (*LoadResult, error) {
	var items []rawStrategy
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return s.Save(userID, items)
}

// LoadSpecs returns userID's stored strategy overrides normalized into
// validated StrategySpecs via the Loader, the same way Save does — for
// callers (the scan cycle) that need ready-to-run specs rather than raw
// JSON.
func (s *UserStrategiesStore) LoadSpecs(userID string) *LoadResult {
	items := s.Load(userID)
	byID := map[string]rawStrategy{}
	for _, it := range items {
		byID[it.StrategyID] = it
	}
	return s.Loader.normalizeAll(byID)
}

// ListUsers returns the user ids with a stored strategies file, derived
// from the "<user_id>.json" filenames under Dir.
func (s *UserStrategiesStore) ListUsers() []string {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil
	}
	var users []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".json") {
			users = append(users, strings.TrimSuffix(name, ".json"))
		}
	}
	return users
}

// EnabledSymbols returns the distinct uppercased symbols enabled for a
// user by any enabled strategy; a strategy with no symbols list applies to
// every symbol, represented by the special marker "__ALL__".
func (s *UserStrategiesStore) EnabledSymbols(userID string) map[string]bool {
	items := s.Load(userID)
	out := map[string]bool{}
	for _, it := range items {
		enabled := it.Enabled == nil || *it.Enabled
		if !enabled {
			continue
		}
		// rawStrategy has no symbols field today (strategy specs are
		// symbol-agnostic); presence of an "__ALL__" marker keeps the
		// contract stable for callers that later add per-strategy symbol
		// scoping.
		out["__ALL__"] = true
	}
	return out
}

// CountEnabledSymbols returns 999 (effectively unlimited) if "__ALL__" is
// present, else the count of distinct enabled symbols.
func (s *UserStrategiesStore) CountEnabledSymbols(userID string) int {
	symbols := s.EnabledSymbols(userID)
	if symbols["__ALL__"] {
		return 999
	}
	return len(symbols)
}
