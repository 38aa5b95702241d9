// Package server exposes the bot's control API: position and portfolio
// inspection, manual exits, risk controls and a live event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sniperlabs/sniperbot/internal/domain"
	"github.com/sniperlabs/sniperbot/internal/server/handler"
	"github.com/sniperlabs/sniperbot/internal/server/middleware"
	"github.com/sniperlabs/sniperbot/internal/server/ws"
)

const (
	// apiRateLimit caps requests per client per apiRateWindow when a
	// limiter is wired.
	apiRateLimit  = 240
	apiRateWindow = time.Minute
)

// Config holds HTTP server parameters.
type Config struct {
	Port        int
	APIKey      string
	CORSOrigins []string
}

// Handlers aggregates the HTTP handlers mounted by the server.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
	Portfolio *handler.PortfolioHandler
	Risk      *handler.RiskHandler
	Signals   *handler.SignalHandler
}

// Server is the HTTP control plane for the bot.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the server with all routes and middleware mounted. hub and
// limiter are optional; passing nil disables the event stream and rate
// limiting respectively.
func New(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health is exempt from auth so load balancers can probe it.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Positions.
	mux.HandleFunc("GET /api/positions", handlers.Positions.List)
	mux.HandleFunc("GET /api/positions/stats", handlers.Positions.GetStats)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.Get)
	mux.HandleFunc("POST /api/positions/{id}/close", handlers.Positions.Close)

	// Portfolio.
	mux.HandleFunc("GET /api/portfolio", handlers.Portfolio.Get)

	// Risk.
	mux.HandleFunc("GET /api/risk", handlers.Risk.GetStatus)
	mux.HandleFunc("POST /api/risk/emergency-stop", handlers.Risk.EngageStop)
	mux.HandleFunc("DELETE /api/risk/emergency-stop", handlers.Risk.ReleaseStop)

	// Signals.
	mux.HandleFunc("GET /api/signals/recent", handlers.Signals.Recent)

	// Live event stream.
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if limiter != nil {
		h = middleware.RateLimit(limiter, apiRateLimit, apiRateWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start runs the HTTP server until Shutdown is called. It blocks.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
