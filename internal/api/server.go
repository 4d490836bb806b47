package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/marketscan/scanner/internal/health"
	"github.com/marketscan/scanner/internal/marketcache"
	"github.com/marketscan/scanner/internal/scheduler"
	"github.com/marketscan/scanner/internal/signals"
	"github.com/marketscan/scanner/internal/strategy"
	"github.com/marketscan/scanner/pkg/types"
)

// Deps wires the components the API surfaces.
type Deps struct {
	Logger      *zap.Logger
	Cache       *marketcache.Cache
	Registry    *strategy.Registry
	UserStore   *strategy.UserStrategiesStore
	Signals     *signals.Store
	Scheduler   *scheduler.Scheduler
	Pairs       []string
	HealthFunc  func() health.Snapshot
	Host        string
	Port        int
}

// Server is the HTTP/WebSocket API server.
type Server struct {
	deps       Deps
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *hub

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer constructs the API server and registers all routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:   deps,
		logger: deps.Logger,
		router: mux.NewRouter(),
		hub:    newHub(deps.Logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

// Router exposes the underlying mux.Router, primarily for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/api/pairs", s.handlePairs).Methods(http.MethodGet)
	s.router.HandleFunc("/api/candles", s.handleCandles).Methods(http.MethodGet)
	s.router.HandleFunc("/api/markets/{symbol}/candles", s.handleMarketCandles).Methods(http.MethodGet)
	s.router.HandleFunc("/api/signals", s.handleListSignals).Methods(http.MethodGet)
	s.router.HandleFunc("/api/signals/{id}", s.handleGetSignal).Methods(http.MethodGet)
	s.router.HandleFunc("/api/detectors", s.handleDetectors).Methods(http.MethodGet)
	s.router.HandleFunc("/api/strategies", s.handleGetStrategies).Methods(http.MethodGet)
	s.router.HandleFunc("/api/strategies", s.handlePutStrategies).Methods(http.MethodPut)
	s.router.HandleFunc("/api/scan/start", s.handleScanStart).Methods(http.MethodPost)
	s.router.HandleFunc("/api/scan/stop", s.handleScanStop).Methods(http.MethodPost)
	s.router.HandleFunc("/api/scan/manual", s.handleScanManual).Methods(http.MethodPost)

	s.router.HandleFunc("/ws/markets/{symbol}", s.handleWebSocket)
}

// Start begins serving HTTP and the background candle-push loop.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	go s.hub.run()
	go s.pushCandlesLoop()

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	addr := fmt.Sprintf("%s:%d", s.deps.Host, s.deps.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: handler, ReadTimeout: 15 * time.Second, WriteTimeout: 15 * time.Second}

	s.logger.Info("api server starting", zap.String("addr", addr))
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server stopped unexpectedly", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// pushCandlesLoop pushes the latest candle for every actively-subscribed
// "symbol:tf" channel roughly once a second, matching the spec's ~1/s
// WebSocket push cadence.
func (s *Server) pushCandlesLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.hub.mu.RLock()
			channels := make([]string, 0, len(s.hub.channels))
			for ch := range s.hub.channels {
				channels = append(channels, ch)
			}
			s.hub.mu.RUnlock()

			for _, ch := range channels {
				symbol, tf, ok := splitChannel(ch)
				if !ok {
					continue
				}
				candles, err := s.deps.Cache.GetResampled(symbol, types.Timeframe(tf))
				if err != nil || len(candles) == 0 {
					continue
				}
				s.hub.publishCandle(ch, candles[len(candles)-1])
			}
		}
	}
}

func splitChannel(ch string) (symbol, tf string, ok bool) {
	parts := strings.SplitN(ch, ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
