// Package health produces the process startup banner and the ops health
// snapshot consumed by the health_report CLI and the /health API route.
package health

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/marketscan/scanner/internal/strategy"
)

// Schema versions carried in the startup banner and health snapshot.
// These track the Explain/metrics payload versions directly.
const (
	StrategySchemaVersion = 1
	ExplainSchemaVersion  = 1
	MetricsSchemaVersion  = 1
)

func naStr(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "NA"
	}
	return s
}

// BannerParams configures the one-line startup banner.
type BannerParams struct {
	AppVersion string
	GitSHA     string
	Detectors  int
	PresetsDir string
	NotifyMode string
	Provider   string
}

// LogStartupBanner emits the STARTUP_BANNER contract line, matching the
// field order and naming of the source system's own banner.
func LogStartupBanner(logger *zap.Logger, p BannerParams) {
	logger.Info("STARTUP_BANNER",
		zap.String("app_version", naStr(p.AppVersion)),
		zap.String("git_sha", naStr(p.GitSHA)),
		zap.Int("strategy_schema", StrategySchemaVersion),
		zap.Int("explain_schema", ExplainSchemaVersion),
		zap.Int("metrics_schema", MetricsSchemaVersion),
		zap.Int("detectors", p.Detectors),
		zap.String("presets_dir", naStr(p.PresetsDir)),
		zap.String("notify_mode", naStr(p.NotifyMode)),
		zap.String("provider", naStr(p.Provider)),
	)
}

// LastScanInfo reports the most recent completed scan cycle, if any.
type LastScanInfo struct {
	LastScanTS time.Time
	LastScanID string
	HasScanned bool
}

// ScanInfoProvider is satisfied by the scheduler/engine composition that
// tracks the most recent cycle.
type ScanInfoProvider interface {
	LastScanInfo() LastScanInfo
}

// Snapshot is the deterministic, JSON-serializable ops health payload.
type Snapshot struct {
	Status                 string   `json:"status"`
	AppVersion             string   `json:"app_version"`
	GitSHA                 string   `json:"git_sha"`
	UptimeS                int64    `json:"uptime_s"`
	StrategiesLoadedCount  int      `json:"strategies_loaded_count"`
	InvalidStrategies      []string `json:"invalid_strategies"`
	UnknownDetectorsCount  int      `json:"unknown_detectors_count"`
	LastScanTS             any      `json:"last_scan_ts"`
	LastScanID             any      `json:"last_scan_id"`
	MetricsEventsFileSize  any      `json:"metrics_events_file_size"`
	PatchAuditFileSize     any      `json:"patch_audit_file_size"`
}

// SnapshotParams gathers everything needed to build a Snapshot.
type SnapshotParams struct {
	AppVersion        string
	GitSHA            string
	StartedAt         time.Time
	LoadResult        *strategy.LoadResult
	ScanInfo          ScanInfoProvider
	MetricsEventsPath string
	PatchAuditPath    string
}

func safeFileSize(path string) any {
	path = strings.TrimSpace(path)
	if path == "" {
		return "NA"
	}
	info, err := os.Stat(path)
	if err != nil {
		return "NA"
	}
	return info.Size()
}

// countUnknownDetectors extracts the distinct detector names named in
// loader warnings of the form `unknown detector "X" dropped from Y`.
func countUnknownDetectors(warnings []string) int {
	seen := map[string]bool{}
	for _, w := range warnings {
		if !strings.HasPrefix(w, "unknown detector ") {
			continue
		}
		start := strings.IndexByte(w, '"')
		if start < 0 {
			continue
		}
		end := strings.IndexByte(w[start+1:], '"')
		if end < 0 {
			continue
		}
		name := w[start+1 : start+1+end]
		if name != "" {
			seen[name] = true
		}
	}
	return len(seen)
}

// BuildSnapshot returns a deterministic ops health snapshot, marking the
// process degraded whenever any enabled strategy failed to load.
func BuildSnapshot(p SnapshotParams) Snapshot {
	out := Snapshot{
		Status:            "ok",
		AppVersion:        naStr(p.AppVersion),
		GitSHA:            naStr(p.GitSHA),
		UptimeS:           int64(time.Since(p.StartedAt).Seconds()),
		InvalidStrategies: []string{},
		LastScanTS:        "NA",
		LastScanID:        "NA",
	}

	if p.LoadResult != nil {
		out.StrategiesLoadedCount = len(p.LoadResult.Strategies)
		for _, inv := range p.LoadResult.InvalidEnabled {
			if inv.StrategyID != "" {
				out.InvalidStrategies = append(out.InvalidStrategies, inv.StrategyID)
			}
		}
		out.UnknownDetectorsCount = countUnknownDetectors(p.LoadResult.Warnings)
	}

	if p.ScanInfo != nil {
		info := p.ScanInfo.LastScanInfo()
		if info.HasScanned {
			out.LastScanTS = info.LastScanTS.Unix()
			out.LastScanID = naStr(info.LastScanID)
		}
	}

	out.MetricsEventsFileSize = safeFileSize(p.MetricsEventsPath)
	out.PatchAuditFileSize = safeFileSize(p.PatchAuditPath)

	if len(out.InvalidStrategies) > 0 {
		out.Status = "degraded"
	}
	return out
}
