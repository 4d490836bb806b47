// Package config loads the environment-variable surface named in the
// scanner's external interface contract, using viper the way other
// configuration-heavy Go services in this codebase's lineage do: bind env
// vars, set defaults, support an optional config file, and fail loudly only
// on truly fatal misconfiguration.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// NotifyMode controls which scan outcomes reach Telegram.
type NotifyMode string

const (
	NotifyOff       NotifyMode = "off"
	NotifyAll       NotifyMode = "all"
	NotifyAdminOnly NotifyMode = "admin_only"
)

// Config is the fully resolved process configuration.
type Config struct {
	AppVersion string
	GitSHA     string

	AutoScanIntervalMin     int
	SchedulerMisfireGraceS  int
	MarketDataProvider      string
	MarketCachePath         string
	StateDir                string
	UserStrategiesDir       string
	DetectorAliasesPath     string
	StrictStrategyDetectors bool
	StrategyFailoverOnBlock bool
	DailyLimitPerSymbol     int
	SignalCooldownMinutes   int
	NotifyMode              NotifyMode

	DetectorWarnMS int
	FeatureWarnMS  int
	PairWarnMS     int
	ScanCycleWarnMS int

	PatchSuggestionsPath           string
	UnknownDetectorAutofixThreshold float64
	ShadowAllDetectors              bool

	StrictStartup bool

	TelegramBotToken string
	TelegramChatID   int64

	EventQueuePath string

	Host string
	Port int
}

// Load reads environment variables (and an optional config file) into a
// Config, applying the defaults spelled out in the external interface
// contract.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("APP_VERSION", "dev")
	v.SetDefault("GIT_SHA", "unknown")
	v.SetDefault("AUTO_SCAN_INTERVAL_MIN", 5)
	v.SetDefault("SCHEDULER_MISFIRE_GRACE_SEC", 30)
	v.SetDefault("MARKET_DATA_PROVIDER", "fixture")
	v.SetDefault("MARKET_CACHE_PATH", "state/market_cache.json")
	v.SetDefault("STATE_DIR", "state")
	v.SetDefault("USER_STRATEGIES_DIR", "state/user_strategies")
	v.SetDefault("DETECTOR_ALIASES_PATH", "")
	v.SetDefault("STRICT_STRATEGY_DETECTORS", false)
	v.SetDefault("STRATEGY_FAILOVER_ON_BLOCK", true)
	v.SetDefault("DAILY_LIMIT_PER_SYMBOL", 0)
	v.SetDefault("SIGNAL_COOLDOWN_MINUTES", 60)
	v.SetDefault("NOTIFY_MODE", "all")
	v.SetDefault("DETECTOR_WARN_MS", 50)
	v.SetDefault("FEATURE_WARN_MS", 100)
	v.SetDefault("PAIR_WARN_MS", 500)
	v.SetDefault("SCAN_CYCLE_WARN_MS", 5000)
	v.SetDefault("PATCH_SUGGESTIONS_PATH", "state/patch_suggestions.json")
	v.SetDefault("UNKNOWN_DETECTOR_AUTOFIX_THRESHOLD", 0.85)
	v.SetDefault("SHADOW_ALL_DETECTORS", false)
	v.SetDefault("STRICT_STARTUP", false)
	v.SetDefault("TELEGRAM_BOT_TOKEN", "")
	v.SetDefault("TELEGRAM_CHAT_ID", 0)
	v.SetDefault("EVENT_QUEUE_PATH", "state/event_queue.db")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8080)

	cfg := &Config{
		AppVersion:                      v.GetString("APP_VERSION"),
		GitSHA:                          v.GetString("GIT_SHA"),
		AutoScanIntervalMin:             v.GetInt("AUTO_SCAN_INTERVAL_MIN"),
		SchedulerMisfireGraceS:          v.GetInt("SCHEDULER_MISFIRE_GRACE_SEC"),
		MarketDataProvider:              firstNonEmpty(v.GetString("MARKET_DATA_PROVIDER"), v.GetString("DATA_PROVIDER")),
		MarketCachePath:                 v.GetString("MARKET_CACHE_PATH"),
		StateDir:                        v.GetString("STATE_DIR"),
		UserStrategiesDir:               v.GetString("USER_STRATEGIES_DIR"),
		DetectorAliasesPath:             v.GetString("DETECTOR_ALIASES_PATH"),
		StrictStrategyDetectors:         v.GetBool("STRICT_STRATEGY_DETECTORS"),
		StrategyFailoverOnBlock:         v.GetBool("STRATEGY_FAILOVER_ON_BLOCK"),
		DailyLimitPerSymbol:             v.GetInt("DAILY_LIMIT_PER_SYMBOL"),
		SignalCooldownMinutes:           v.GetInt("SIGNAL_COOLDOWN_MINUTES"),
		NotifyMode:                      NotifyMode(v.GetString("NOTIFY_MODE")),
		DetectorWarnMS:                  v.GetInt("DETECTOR_WARN_MS"),
		FeatureWarnMS:                   v.GetInt("FEATURE_WARN_MS"),
		PairWarnMS:                      v.GetInt("PAIR_WARN_MS"),
		ScanCycleWarnMS:                 v.GetInt("SCAN_CYCLE_WARN_MS"),
		PatchSuggestionsPath:            v.GetString("PATCH_SUGGESTIONS_PATH"),
		UnknownDetectorAutofixThreshold: v.GetFloat64("UNKNOWN_DETECTOR_AUTOFIX_THRESHOLD"),
		ShadowAllDetectors:              v.GetBool("SHADOW_ALL_DETECTORS"),
		StrictStartup:                   v.GetBool("STRICT_STARTUP"),
		TelegramBotToken:                v.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:                  v.GetInt64("TELEGRAM_CHAT_ID"),
		EventQueuePath:                  v.GetString("EVENT_QUEUE_PATH"),
		Host:                            v.GetString("HOST"),
		Port:                            v.GetInt("PORT"),
	}

	return cfg, nil
}

// ScanInterval returns AutoScanIntervalMin as a time.Duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.AutoScanIntervalMin) * time.Minute
}

// MisfireGrace returns SchedulerMisfireGraceS as a time.Duration.
func (c *Config) MisfireGrace() time.Duration {
	return time.Duration(c.SchedulerMisfireGraceS) * time.Second
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
