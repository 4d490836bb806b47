package signals

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/marketscan/scanner/pkg/atomicio"
)

// Store appends signal payloads to two parallel JSONL files — the legacy
// full payload and the derived public payload — and serves reverse-
// chronological reads with per-user and admin cross-user filtering.
type Store struct {
	LegacyPath string
	PublicPath string
}

// NewStore constructs a Store bound to the two JSONL files.
func NewStore(legacyPath, publicPath string) *Store {
	return &Store{LegacyPath: legacyPath, PublicPath: publicPath}
}

// AppendSignal writes both the legacy and derived public record for one
// signal. The public record is always computed from payload, never
// supplied independently.
func (s *Store) AppendSignal(payload PayloadV1) error {
	legacyLine, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := atomicio.AppendJSONLine(s.LegacyPath, string(legacyLine)); err != nil {
		return err
	}

	public := ToPublicV1(payload)
	publicLine, err := json.Marshal(public)
	if err != nil {
		return err
	}
	return atomicio.AppendJSONLine(s.PublicPath, string(publicLine))
}

func readLines(path string) []string {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	text := strings.TrimRight(string(b), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// ListOptions bounds a tail-list query.
type ListOptions struct {
	UserID          string
	Limit           int
	Symbol          string
	IncludeAllUsers bool
}

func clampLimit(limit int) int {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	return limit
}

// ListSignals returns up to opts.Limit legacy signal records, most recent
// first, filtered by user (unless IncludeAllUsers) and optionally symbol.
func (s *Store) ListSignals(opts ListOptions) []map[string]any {
	return listJSONL(s.LegacyPath, opts)
}

// ListPublicSignals is ListSignals over the public JSONL file.
func (s *Store) ListPublicSignals(opts ListOptions) []map[string]any {
	return listJSONL(s.PublicPath, opts)
}

func listJSONL(path string, opts ListOptions) []map[string]any {
	limit := clampLimit(opts.Limit)
	sym := strings.ToUpper(strings.TrimSpace(opts.Symbol))

	lines := readLines(path)
	out := make([]map[string]any, 0, limit)
	for i := len(lines) - 1; i >= 0 && len(out) < limit; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		if !opts.IncludeAllUsers {
			if uid, _ := obj["user_id"].(string); uid != opts.UserID {
				continue
			}
		}
		if sym != "" {
			objSym, _ := obj["symbol"].(string)
			if strings.ToUpper(objSym) != sym {
				continue
			}
		}
		out = append(out, obj)
	}
	return out
}

// GetByID scans path in reverse for the record matching signalID, applying
// the same user-ownership rule as ListSignals. Returns nil if not found or
// not owned by userID (unless includeAllUsers).
func (s *Store) GetByID(userID, signalID string, includeAllUsers bool) map[string]any {
	return getByIDJSONL(s.LegacyPath, userID, signalID, includeAllUsers)
}

// GetPublicByID is GetByID over the public JSONL file.
func (s *Store) GetPublicByID(userID, signalID string, includeAllUsers bool) map[string]any {
	return getByIDJSONL(s.PublicPath, userID, signalID, includeAllUsers)
}

func getByIDJSONL(path, userID, signalID string, includeAllUsers bool) map[string]any {
	target := strings.TrimSpace(signalID)
	if target == "" {
		return nil
	}
	lines := readLines(path)
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		id, _ := obj["signal_id"].(string)
		if id != target {
			continue
		}
		if !includeAllUsers {
			uid, _ := obj["user_id"].(string)
			if uid != userID {
				return nil
			}
		}
		return obj
	}
	return nil
}
