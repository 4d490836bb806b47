package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/marketscan/scanner/internal/signals"
	"github.com/marketscan/scanner/pkg/types"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// userID resolves the caller's identity for per-user endpoints. Per the
// spec, the HTTP auth/session layer itself is out of scope: identity is
// carried by a simple external convention (header, falling back to a query
// parameter, falling back to a fixed default) rather than enforced.
func userID(r *http.Request) string {
	if v := r.Header.Get("X-User-ID"); v != "" {
		return v
	}
	if v := r.URL.Query().Get("user_id"); v != "" {
		return v
	}
	return "default"
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthFunc == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.HealthFunc())
}

func (s *Server) handlePairs(w http.ResponseWriter, r *http.Request) {
	pairs := s.deps.Pairs
	if len(pairs) == 0 {
		pairs = s.deps.Cache.GetAllSymbols()
	}
	writeJSON(w, http.StatusOK, map[string]any{"pairs": pairs})
}

func parseTF(raw string) types.Timeframe {
	if raw == "" {
		return types.M15
	}
	return types.Timeframe(types.NormalizeTF(raw))
}

func (s *Server) candlesResponse(w http.ResponseWriter, symbol, tfRaw string, limitRaw string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	tf := parseTF(tfRaw)

	candles, err := s.deps.Cache.GetResampled(symbol, tf)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if limitRaw != "" {
		if n, err := strconv.Atoi(limitRaw); err == nil && n > 0 && n < len(candles) {
			candles = candles[len(candles)-n:]
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":  symbol,
		"tf":      string(tf),
		"candles": candles,
	})
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.candlesResponse(w, q.Get("symbol"), q.Get("tf"), q.Get("limit"))
}

func (s *Server) handleMarketCandles(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	q := r.URL.Query()
	s.candlesResponse(w, symbol, q.Get("tf"), q.Get("limit"))
}

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	opts := signals.ListOptions{
		UserID: userID(r),
		Limit:  limit,
		Symbol: q.Get("symbol"),
	}
	list := s.deps.Signals.ListPublicSignals(opts)
	writeJSON(w, http.StatusOK, map[string]any{"signals": list})
}

func (s *Server) handleGetSignal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sig := s.deps.Signals.GetPublicByID(userID(r), id, false)
	if sig == nil {
		writeError(w, http.StatusNotFound, "signal not found")
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

func (s *Server) handleDetectors(w http.ResponseWriter, r *http.Request) {
	names := s.deps.Registry.List()
	includeDocs := r.URL.Query().Get("include_docs") == "true"

	out := make([]map[string]any, 0, len(names))
	for _, name := range names {
		entry := map[string]any{"name": name}
		if includeDocs {
			det := s.deps.Registry.Create(name)
			if det != nil {
				entry["family"] = det.Family()
			}
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"detectors": out})
}

func (s *Server) handleGetStrategies(w http.ResponseWriter, r *http.Request) {
	raw, err := s.deps.UserStore.LoadJSON(userID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) handlePutStrategies(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.deps.UserStore.SaveJSON(userID(r), body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"strategies_loaded":  len(result.Strategies),
		"invalid_strategies": result.InvalidEnabled,
		"warnings":           result.Warnings,
	})
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	if err := s.deps.Scheduler.Start(s.ctx); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleScanStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	if err := s.deps.Scheduler.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleScanManual(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	s.deps.Scheduler.TriggerManual()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	tf := parseTF(r.URL.Query().Get("tf"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	channel := symbol + ":" + string(tf)
	client := &wsClient{
		id:      symbol + "-" + strconv.FormatInt(time.Now().UnixNano(), 36),
		hub:     s.hub,
		conn:    conn,
		send:    make(chan []byte, 32),
		channel: channel,
	}
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}
