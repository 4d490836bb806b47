package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/marketscan/scanner/internal/api"
	"github.com/marketscan/scanner/internal/marketcache"
	"github.com/marketscan/scanner/internal/signals"
	"github.com/marketscan/scanner/internal/strategy"
	"github.com/marketscan/scanner/pkg/types"
)

func newTestServer(t *testing.T) (*api.Server, *marketcache.Cache) {
	t.Helper()
	dir := t.TempDir()

	cache := marketcache.New(5000)
	now := time.Now().Truncate(5 * time.Minute)
	candles := make([]types.Candle, 0, 10)
	for i := 0; i < 10; i++ {
		candles = append(candles, types.Candle{
			Time:  now.Add(time.Duration(i) * 5 * time.Minute),
			Open:  decimal.NewFromFloat(1.1000),
			High:  decimal.NewFromFloat(1.1010),
			Low:   decimal.NewFromFloat(1.0990),
			Close: decimal.NewFromFloat(1.1005),
		})
	}
	cache.Upsert("EURUSD", candles)

	reg := strategy.NewRegistry()
	loader := strategy.NewLoader(reg, filepath.Join(dir, "presets"), false)
	userStore := strategy.NewUserStrategiesStore(filepath.Join(dir, "users"), loader)
	sigStore := signals.NewStore(filepath.Join(dir, "legacy.jsonl"), filepath.Join(dir, "public.jsonl"))

	srv := api.NewServer(api.Deps{
		Logger:    zap.NewNop(),
		Cache:     cache,
		Registry:  reg,
		UserStore: userStore,
		Signals:   sigStore,
		Pairs:     []string{"EURUSD", "GBPUSD"},
		Host:      "127.0.0.1",
		Port:      0,
	})
	return srv, cache
}

func TestHandlePairs(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/pairs", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	pairs, ok := body["pairs"].([]any)
	if !ok || len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %v", body["pairs"])
	}
}

func TestHandleCandles(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/candles?symbol=eurusd&tf=M15&limit=2", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["symbol"] != "EURUSD" {
		t.Fatalf("expected symbol EURUSD, got %v", body["symbol"])
	}
}

func TestHandleCandlesMissingSymbol(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/candles", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandlePutAndGetStrategies(t *testing.T) {
	srv, _ := newTestServer(t)

	body := []byte(`[{"strategy_id":"s1","enabled":true,"trend_tf":"H1","entry_tf":"M15","min_rr":1.5,"min_score":0.5,"detectors":[]}]`)
	req := httptest.NewRequest(http.MethodPut, "/api/strategies", bytes.NewReader(body))
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/strategies", nil)
	req2.Header.Set("X-User-ID", "alice")
	rec2 := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec2.Code)
	}
	var items []map[string]any
	if err := json.Unmarshal(rec2.Body.Bytes(), &items); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(items) != 1 || items[0]["strategy_id"] != "s1" {
		t.Fatalf("expected stored strategy s1, got %v", items)
	}
}

func TestHandleListSignalsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/signals", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	sigs, ok := body["signals"].([]any)
	if !ok || len(sigs) != 0 {
		t.Fatalf("expected empty signals, got %v", body["signals"])
	}
}

func TestHandleDetectors(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/detectors", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
