package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vitos/paper_signal_engine/internal/usecase"
	"go.uber.org/zap"
)

type Server struct {
	router  *http.ServeMux
	server  *http.Server
	engine  *usecase.TradingEngine
	hub     *Hub
	metrics http.Handler
	symbols []string
	logger  *zap.Logger
}

// NewServer wires the JSON API around engine. symbols is the default
// watch list for /api/signals; metrics may be nil.
func NewServer(
	port int,
	engine *usecase.TradingEngine,
	symbols []string,
	metrics http.Handler,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:  http.NewServeMux(),
		engine:  engine,
		hub:     NewHub(logger),
		metrics: metrics,
		symbols: symbols,
		logger:  logger,
	}
	engine.Subscribe(s.hub.Publish)
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	// Signals
	s.router.HandleFunc("GET /api/signals", s.handleGenerateSignals)
	s.router.HandleFunc("GET /api/signals/recent", s.handleRecentSignals)

	// Orders
	s.router.HandleFunc("GET /api/orders", s.handleListOrders)
	s.router.HandleFunc("GET /api/orders/{id}", s.handleGetOrder)
	s.router.HandleFunc("POST /api/orders", s.handlePlaceOrder)
	s.router.HandleFunc("DELETE /api/orders/{id}", s.handleCancelOrder)

	s.router.HandleFunc("GET /api/trades", s.handleRecentTrades)
	s.router.HandleFunc("GET /api/portfolio", s.handlePortfolio)
	s.router.HandleFunc("GET /api/performance", s.handlePerformance)

	// Event stream
	s.router.HandleFunc("GET /ws", s.hub.ServeWS)

	s.router.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.server.Shutdown(ctx)
}
