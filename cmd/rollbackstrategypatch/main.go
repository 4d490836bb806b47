// Command rollback_strategy_patch restores a user's strategies file from
// the backup recorded against a patch_id in the audit trail.
package main

import (
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
	fs := flag.NewFlagSet("rollback_strategy_patch", flag.ContinueOnError)
	user := fs.String("user", "", "user_id owning the strategies file to roll back")
	patchID := fs.String("patch_id", "", "patch_id to roll back (required)")
	auditPath := fs.String("audit_path", "", "path to the patch audit JSONL file")
	strategiesPath := fs.String("strategies_path", "", "path to the user's strategies file (default derived from --user)")
	apply := fs.Bool("apply", false, "actually restore the file (default is dry-run)")
	dryRun := fs.Bool("dry-run", false, "dry-run only")
	noValidate := fs.Bool("no-validate", false, "skip loader validation after restore")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	pid := strings.TrimSpace(*patchID)
	if pid == "" {
		fmt.Println("PATCH_ROLLBACK_FAILED | patch_id=NA | err=ValueError:missing_patch_id")
		return 2
	}
	if *apply && *dryRun {
		fmt.Printf("PATCH_ROLLBACK_FAILED | patch_id=%s | err=ValueError:apply and dry-run are mutually exclusive\n", pid)
		return 2
	}
	dry := !*apply

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("PATCH_ROLLBACK_FAILED | patch_id=%s | err=ConfigError:%v\n", pid, err)
		return 2
	}

	resolvedAuditPath := strings.TrimSpace(*auditPath)
	if resolvedAuditPath == "" {
		resolvedAuditPath = filepath.Join(cfg.StateDir, "patch_audit.jsonl")
	}

	resolvedStrategiesPath := strings.TrimSpace(*strategiesPath)
	if resolvedStrategiesPath == "" {
		if strings.TrimSpace(*user) == "" {
			fmt.Printf("PATCH_ROLLBACK_FAILED | patch_id=%s | err=ValueError:missing_user_or_strategies_path\n", pid)
			return 2
		}
		resolvedStrategiesPath = filepath.Join(cfg.UserStrategiesDir, *user+".json")
	}

	registry := strategy.NewRegistry()
	strategy.RegisterBuiltins(registry)
	loader := strategy.NewLoader(registry, filepath.Join(cfg.StateDir, "presets"), cfg.StrictStrategyDetectors)

	rollbacker := patch.NewRollbacker(resolvedStrategiesPath, resolvedAuditPath, loader)

	backup := "NA"
	if entry, err := rollbacker.LatestAuditEntry(pid); err == nil && entry != nil && entry.BackupPath != "" {
		backup = entry.BackupPath
	}
	fmt.Printf("PATCH_ROLLBACK_START | patch_id=%s | backup=%s | dry_run=%v\n", pid, backup, dry)

	result, err := rollbacker.Rollback(pid, dry, !*noValidate)
	if err != nil {
		fmt.Printf("PATCH_ROLLBACK_FAILED | patch_id=%s | err=%v\n", pid, err)
		return 2
	}

	fmt.Printf("PATCH_ROLLBACK_OK | patch_id=%s | restored=%s | backup=%s | dry_run=%v\n",
		pid, resolvedStrategiesPath, naIfEmpty(result.BackupPath), dry)
	return 0
}

func naIfEmpty(s string) string {
	if s == "" {
		return "NA"
	}
	return s
}
