package patch

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/marketscan/scanner/internal/strategy"
)

// Rollbacker restores a strategies file from the backup recorded against a
// patch_id in the audit trail.
type Rollbacker struct {
	StrategiesPath string
	AuditPath      string
	Loader         *strategy.Loader
}

// NewRollbacker returns a Rollbacker bound to the strategies file, audit
// log, and the loader used for post-restore validation.
func NewRollbacker(strategiesPath, auditPath string, loader *strategy.Loader) *Rollbacker {
	return &Rollbacker{StrategiesPath: strategiesPath, AuditPath: auditPath, Loader: loader}
}

// RollbackResult mirrors the apply-side Record shape for consistent CLI
// output.
type RollbackResult struct {
	OK         bool   `json:"ok"`
	PatchID    string `json:"patch_id"`
	BackupPath string `json:"backup_path"`
	DryRun     bool   `json:"dry_run"`
}

// latestAuditEntry scans the audit JSONL for the last (most recent) entry
// matching patchID, since a patch_id may be re-applied and re-audited more
// than once; "last wins" matches the original tool's full-file scan.
func latestAuditEntry(path, patchID string) (*AuditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var latest *AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry AuditEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry.PatchID != patchID {
			continue
		}
		e := entry
		latest = &e
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return latest, nil
}

// LatestAuditEntry exposes the most recent audit record for patchID, for
// callers that want to report the backup path before actually rolling back
// (e.g. a CLI's start-of-operation log line).
func (r *Rollbacker) LatestAuditEntry(patchID string) (*AuditEntry, error) {
	return latestAuditEntry(r.AuditPath, patchID)
}

// Rollback restores strategiesPath from the backup recorded for patchID.
// When dryRun is false and validate is true, the restored file is
// re-validated via Loader; a validation failure reverts to the
// pre-rollback content rather than leaving an invalid file in place.
func (r *Rollbacker) Rollback(patchID string, dryRun, validate bool) (*RollbackResult, error) {
	entry, err := latestAuditEntry(r.AuditPath, patchID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, errors.New("patch_id_not_found_in_audit")
	}
	if entry.BackupPath == "" {
		return nil, errors.New("audit_missing_backup_path")
	}
	if _, err := os.Stat(entry.BackupPath); err != nil {
		return nil, fmt.Errorf("backup file missing: %w", err)
	}

	if dryRun {
		return &RollbackResult{OK: true, PatchID: patchID, BackupPath: entry.BackupPath, DryRun: true}, nil
	}

	currentBytes, _ := os.ReadFile(r.StrategiesPath)

	backupBytes, err := os.ReadFile(entry.BackupPath)
	if err != nil {
		return nil, err
	}
	if err := atomicWriteBytes(r.StrategiesPath, backupBytes); err != nil {
		return nil, err
	}

	if validate && !r.restoredFileUsable() {
		if len(currentBytes) > 0 {
			_ = atomicWriteBytes(r.StrategiesPath, currentBytes)
		}
		return nil, errors.New("rollback_validation_failed")
	}

	return &RollbackResult{OK: true, PatchID: patchID, BackupPath: entry.BackupPath, DryRun: false}, nil
}

// restoredFileUsable re-loads the just-restored file and treats a hard
// parse error, or "enabled strategies exist but none are valid", as a
// failed rollback, matching the original tool's post-restore sanity check.
func (r *Rollbacker) restoredFileUsable() bool {
	result, err := r.Loader.LoadFile(r.StrategiesPath)
	if err != nil {
		return false
	}
	if len(result.Strategies) == 0 && len(result.InvalidEnabled) > 0 {
		return false
	}
	return true
}

func atomicWriteBytes(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
