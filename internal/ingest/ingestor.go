package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/marketscan/scanner/internal/marketcache"
	"github.com/marketscan/scanner/pkg/types"
)

// Config configures DataIngestor.
type Config struct {
	Symbols      []string
	PollInterval time.Duration
	FetchLimit   int
	SnapshotPath string
}

// DefaultConfig returns sane polling defaults.
func DefaultConfig() Config {
	return Config{PollInterval: time.Minute, FetchLimit: 500}
}

// DataIngestor periodically pulls candles from a Provider for each tracked
// symbol and merges them into a MarketDataCache, persisting a snapshot
// after every cycle.
type DataIngestor struct {
	logger   *zap.Logger
	provider Provider
	cache    *marketcache.Cache
	cfg      Config

	symMu   sync.RWMutex
	symbols map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDataIngestor constructs an ingestor over provider, writing into cache.
func NewDataIngestor(logger *zap.Logger, provider Provider, cache *marketcache.Cache, cfg Config) *DataIngestor {
	symbols := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols[s] = true
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = 500
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	return &DataIngestor{logger: logger, provider: provider, cache: cache, cfg: cfg, symbols: symbols}
}

// AddSymbol adds symbol to the tracked set (idempotent). Used to union in
// per-user watchlists discovered after boot.
func (d *DataIngestor) AddSymbol(symbol string) {
	d.symMu.Lock()
	defer d.symMu.Unlock()
	d.symbols[symbol] = true
}

// Symbols returns a snapshot of currently tracked symbols.
func (d *DataIngestor) Symbols() []string {
	d.symMu.RLock()
	defer d.symMu.RUnlock()
	out := make([]string, 0, len(d.symbols))
	for s := range d.symbols {
		out = append(out, s)
	}
	return out
}

// Start begins the polling loop. It never returns an error from startup
// failures of individual symbols — those are logged per cycle.
func (d *DataIngestor) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(1)
	go d.loop()

	d.logger.Info("data ingestor started",
		zap.Int("symbols", len(d.Symbols())),
		zap.Duration("poll_interval", d.cfg.PollInterval))
	return nil
}

// Stop cancels the polling loop and waits for it to exit.
func (d *DataIngestor) Stop() error {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.logger.Info("data ingestor stopped")
	return nil
}

func (d *DataIngestor) loop() {
	defer d.wg.Done()

	d.runCycle()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.runCycle()
		}
	}
}

// runCycle pulls fresh 5m candles for every tracked symbol and merges them
// into the cache. Per-symbol errors never abort the cycle; they are
// aggregated and logged once at the end.
func (d *DataIngestor) runCycle() {
	var errs error
	for _, symbol := range d.Symbols() {
		candles, err := d.provider.GetCandles(d.ctx, symbol, types.M5, d.cfg.FetchLimit)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		d.cache.Upsert(symbol, candles)
	}

	if errs != nil {
		d.logger.Warn("ingest cycle had provider errors", zap.Error(errs))
	}

	if d.cfg.SnapshotPath != "" {
		if err := d.cache.SaveSnapshot(d.cfg.SnapshotPath); err != nil {
			d.logger.Warn("failed to persist cache snapshot", zap.Error(err))
		}
	}
}
