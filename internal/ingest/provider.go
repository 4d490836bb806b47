// Package ingest pulls candles from a Provider on a fixed interval and
// merges them into the shared MarketDataCache.
package ingest

import (
	"context"

	"github.com/marketscan/scanner/pkg/types"
)

// Provider is the external market-data contract. GetCandles is idempotent
// and UTC-timestamped; it may return an error, which DataIngestor logs
// rather than propagating. The symbol is polled again on the next cycle;
// there is no immediate retry or backoff.
type Provider interface {
	GetCandles(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Candle, error)
}
