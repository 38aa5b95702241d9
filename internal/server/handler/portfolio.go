package handler

import (
	"log/slog"
	"net/http"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

// PortfolioService exposes the portfolio snapshot the HTTP layer serves.
type PortfolioService interface {
	Snapshot() domain.Portfolio
}

// PortfolioHandler handles portfolio HTTP requests.
type PortfolioHandler struct {
	service PortfolioService
	logger  *slog.Logger
}

// NewPortfolioHandler creates a new portfolio handler.
func NewPortfolioHandler(service PortfolioService, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{service: service, logger: logger}
}

// Get returns the current portfolio snapshot.
// GET /api/portfolio
func (h *PortfolioHandler) Get(w http.ResponseWriter, r *http.Request) {
	portfolio := h.service.Snapshot()
	if portfolio.Positions == nil {
		portfolio.Positions = []domain.PortfolioPosition{}
	}
	writeJSON(w, http.StatusOK, portfolio)
}
