// Package main provides the entry point for the market scanner server:
// data ingestion, the scheduled scan cycle, the async notification
// worker, and the REST/WebSocket API, wired from environment
// configuration per the external interface contract.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/marketscan/scanner/internal/api"
	"github.com/marketscan/scanner/internal/config"
	"github.com/marketscan/scanner/internal/cycle"
	"github.com/marketscan/scanner/internal/governance"
	"github.com/marketscan/scanner/internal/health"
	"github.com/marketscan/scanner/internal/ingest"
	"github.com/marketscan/scanner/internal/marketcache"
	"github.com/marketscan/scanner/internal/notify"
	"github.com/marketscan/scanner/internal/queue"
	"github.com/marketscan/scanner/internal/scan"
	"github.com/marketscan/scanner/internal/scheduler"
	"github.com/marketscan/scanner/internal/signals"
	"github.com/marketscan/scanner/internal/strategy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := setupLogger()
	defer logger.Sync()

	startedAt := time.Now()

	cache := marketcache.New(20000)
	if cfg.MarketCachePath != "" {
		if err := cache.LoadSnapshot(cfg.MarketCachePath); err != nil {
			logger.Warn("no existing market cache snapshot loaded", zap.Error(err))
		}
	}

	presetsDir := filepath.Join(cfg.StateDir, "presets")

	registry := strategy.NewRegistry()
	strategy.RegisterBuiltins(registry)

	loader := strategy.NewLoader(registry, presetsDir, cfg.StrictStrategyDetectors)
	loader.Aliases = loadDetectorAliases(logger, cfg.DetectorAliasesPath)
	userStore := strategy.NewUserStrategiesStore(cfg.UserStrategiesDir, loader)

	provider := ingest.NewFixtureProvider()
	ingestor := ingest.NewDataIngestor(logger, provider, cache, ingest.Config{
		PollInterval: time.Minute,
		SnapshotPath: cfg.MarketCachePath,
	})

	scanEngine := scan.NewEngine(logger, cache, registry, scan.Config{
		MinTrendBars: 60, MinEntryBars: 60,
		DetectorWarn: time.Duration(cfg.DetectorWarnMS) * time.Millisecond,
		PairWarn:     time.Duration(cfg.PairWarnMS) * time.Millisecond,
	})

	stateStore := governance.NewSignalStateStore(filepath.Join(cfg.StateDir, "governance_state.json"))
	stateStore.Load()
	selector := governance.NewSelector(stateStore, cfg.SignalCooldownMinutes, cfg.DailyLimitPerSymbol, cfg.StrategyFailoverOnBlock)

	sigStore := signals.NewStore(
		filepath.Join(cfg.StateDir, "signals_legacy.jsonl"),
		filepath.Join(cfg.StateDir, "signals_public.jsonl"),
	)

	eventQueue, err := queue.Open(cfg.EventQueuePath, logger)
	if err != nil {
		logger.Fatal("failed to open event queue", zap.Error(err))
	}
	defer eventQueue.Close()

	runner := cycle.NewRunner(logger, cache, scanEngine, userStore, stateStore, selector, sigStore, eventQueue, cfg)

	sched := scheduler.New(logger, cfg.ScanInterval(), cfg.MisfireGrace(), runner.Run)

	notifyWorker := buildNotifyWorker(logger, eventQueue, cfg)

	apiServer := api.NewServer(api.Deps{
		Logger:    logger,
		Cache:     cache,
		Registry:  registry,
		UserStore: userStore,
		Signals:   sigStore,
		Scheduler: sched,
		Host:      cfg.Host,
		Port:      cfg.Port,
		HealthFunc: func() health.Snapshot {
			return health.BuildSnapshot(health.SnapshotParams{
				AppVersion:        cfg.AppVersion,
				GitSHA:            cfg.GitSHA,
				StartedAt:         startedAt,
				LoadResult:        aggregateLoadResult(userStore),
				ScanInfo:          runner,
				MetricsEventsPath: filepath.Join(cfg.StateDir, "metrics_events.jsonl"),
				PatchAuditPath:    filepath.Join(cfg.StateDir, "patch_audit.jsonl"),
			})
		},
	})

	health.LogStartupBanner(logger, health.BannerParams{
		AppVersion: cfg.AppVersion,
		GitSHA:     cfg.GitSHA,
		Detectors:  len(registry.List()),
		PresetsDir: presetsDir,
		NotifyMode: string(cfg.NotifyMode),
		Provider:   cfg.MarketDataProvider,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ingestor.Start(ctx); err != nil {
		logger.Fatal("failed to start data ingestor", zap.Error(err))
	}
	if err := sched.Start(ctx); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}
	if notifyWorker != nil {
		if err := notifyWorker.Start(ctx); err != nil {
			logger.Fatal("failed to start notification worker", zap.Error(err))
		}
	}
	go func() {
		if err := apiServer.Start(ctx); err != nil {
			logger.Error("api server error", zap.Error(err))
		}
	}()

	logger.Info("market scanner started",
		zap.String("http", fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()

	if notifyWorker != nil {
		if err := notifyWorker.Stop(); err != nil {
			logger.Error("error stopping notification worker", zap.Error(err))
		}
	}
	if err := sched.Stop(); err != nil {
		logger.Error("error stopping scheduler", zap.Error(err))
	}
	if err := ingestor.Stop(); err != nil {
		logger.Error("error stopping data ingestor", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("error during api server shutdown", zap.Error(err))
	}

	if cfg.MarketCachePath != "" {
		if err := cache.SaveSnapshot(cfg.MarketCachePath); err != nil {
			logger.Error("error saving market cache snapshot", zap.Error(err))
		}
	}
	if err := stateStore.SaveAtomic(); err != nil {
		logger.Error("error saving governance state", zap.Error(err))
	}

	logger.Info("market scanner stopped")
}

// buildNotifyWorker returns nil when no Telegram bot token is configured,
// matching the spec's "notifications degrade to no-op without a token"
// contract rather than failing startup.
func buildNotifyWorker(logger *zap.Logger, q *queue.EventQueue, cfg *config.Config) *notify.Worker {
	if cfg.TelegramBotToken == "" {
		logger.Warn("TELEGRAM_BOT_TOKEN not set, notifications disabled")
		return nil
	}
	sender, err := notify.NewTelegramSender(cfg.TelegramBotToken)
	if err != nil {
		logger.Error("failed to initialize telegram sender, notifications disabled", zap.Error(err))
		return nil
	}
	resolver := notify.NewMapResolver()
	return notify.NewWorker(logger, q, sender, resolver, notify.DefaultConfig())
}

// loadDetectorAliases reads an optional {"alias": "canonical_name"} JSON
// map used to resolve renamed or shorthand detector names in strategy
// files. A missing or malformed path yields no aliases, never a startup
// failure.
func loadDetectorAliases(logger *zap.Logger, path string) map[string]string {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("no detector aliases file loaded", zap.String("path", path), zap.Error(err))
		return nil
	}
	var aliases map[string]string
	if err := json.Unmarshal(data, &aliases); err != nil {
		logger.Warn("failed to parse detector aliases file", zap.String("path", path), zap.Error(err))
		return nil
	}
	return aliases
}

// aggregateLoadResult merges the normalized strategy load result across
// every registered user, for the ops health snapshot's
// strategies_loaded_count / invalid_strategies / unknown_detectors_count
// fields.
func aggregateLoadResult(userStore *strategy.UserStrategiesStore) *strategy.LoadResult {
	out := &strategy.LoadResult{}
	for _, userID := range userStore.ListUsers() {
		result := userStore.LoadSpecs(userID)
		out.Strategies = append(out.Strategies, result.Strategies...)
		out.InvalidEnabled = append(out.InvalidEnabled, result.InvalidEnabled...)
		out.Warnings = append(out.Warnings, result.Warnings...)
	}
	return out
}

func setupLogger() *zap.Logger {
	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapcore.InfoLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
