// Command health_report prints the ops health snapshot as JSON and exits 0
// iff status is "ok", matching the external interface contract's CLI
// health-check tool.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marketscan/scanner/internal/config"
	"github.com/marketscan/scanner/internal/health"
	"github.com/marketscan/scanner/internal/strategy"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf(`{"status":"degraded","error":%q}`+"\n", err.Error())
		return 1
	}

	registry := strategy.NewRegistry()
	strategy.RegisterBuiltins(registry)
	loader := strategy.NewLoader(registry, filepath.Join(cfg.StateDir, "presets"), cfg.StrictStrategyDetectors)
	userStore := strategy.NewUserStrategiesStore(cfg.UserStrategiesDir, loader)

	loadResult := &strategy.LoadResult{}
	for _, userID := range userStore.ListUsers() {
		r := userStore.LoadSpecs(userID)
		loadResult.Strategies = append(loadResult.Strategies, r.Strategies...)
		loadResult.InvalidEnabled = append(loadResult.InvalidEnabled, r.InvalidEnabled...)
		loadResult.Warnings = append(loadResult.Warnings, r.Warnings...)
	}

	// A standalone CLI invocation has no live scheduler to ask about the
	// last completed scan; the snapshot reports "NA" for those fields.
	snapshot := health.BuildSnapshot(health.SnapshotParams{
		AppVersion:        cfg.AppVersion,
		GitSHA:            cfg.GitSHA,
		StartedAt:         time.Now(),
		LoadResult:        loadResult,
		ScanInfo:          nil,
		MetricsEventsPath: filepath.Join(cfg.StateDir, "metrics_events.jsonl"),
		PatchAuditPath:    filepath.Join(cfg.StateDir, "patch_audit.jsonl"),
	})

	out, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		fmt.Printf(`{"status":"degraded","error":%q}`+"\n", err.Error())
		return 1
	}
	fmt.Println(string(out))

	if snapshot.Status != "ok" {
		return 1
	}
	return 0
}
