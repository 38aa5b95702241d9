package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

// PositionService is the subset of the position manager the HTTP layer
// consumes.
type PositionService interface {
	ListOpenPositions() []domain.ActivePosition
	GetPosition(id string) (domain.ActivePosition, error)
	Stats() domain.PositionStats
	CloseManually(ctx context.Context, id string, reason domain.CloseReason) (domain.ClosedPositionRecord, error)
}

// PositionHandler handles position-related HTTP requests.
type PositionHandler struct {
	service PositionService
	logger  *slog.Logger
}

// NewPositionHandler creates a new position handler.
func NewPositionHandler(service PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{service: service, logger: logger}
}

// positionListResponse wraps a list of positions with a count.
type positionListResponse struct {
	Positions []domain.ActivePosition `json:"positions"`
	Count     int                     `json:"count"`
}

// List returns all currently open positions.
// GET /api/positions
func (h *PositionHandler) List(w http.ResponseWriter, r *http.Request) {
	positions := h.service.ListOpenPositions()
	if positions == nil {
		positions = []domain.ActivePosition{}
	}
	writeJSON(w, http.StatusOK, positionListResponse{
		Positions: positions,
		Count:     len(positions),
	})
}

// Get returns a single open position by ID.
// GET /api/positions/{id}
func (h *PositionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	pos, err := h.service.GetPosition(id)
	if err != nil {
		if errors.Is(err, domain.ErrPositionNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "failed to load position",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load position")
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

// GetStats returns aggregate statistics over open positions.
// GET /api/positions/stats
func (h *PositionHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := h.service.Stats()
	if stats.StrategyBreakdown == nil {
		stats.StrategyBreakdown = map[string]int{}
	}
	writeJSON(w, http.StatusOK, stats)
}

// closeRequest is the optional body of a manual close request.
type closeRequest struct {
	Reason string `json:"reason"`
}

// Close submits a market exit for an open position. The body may carry a
// close reason; an absent or empty body means a plain manual close.
// POST /api/positions/{id}/close
func (h *PositionHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req closeRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	record, err := h.service.CloseManually(r.Context(), id, domain.CloseReason(req.Reason))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPositionNotFound):
			writeError(w, http.StatusNotFound, "position not found")
		case errors.Is(err, domain.ErrAlreadyExists):
			writeError(w, http.StatusConflict, "exit already in flight")
		case errors.Is(err, domain.ErrExecutionFailed), errors.Is(err, domain.ErrExecutionTimeout):
			h.logger.ErrorContext(r.Context(), "manual close failed",
				slog.String("position_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusBadGateway, "exit order failed")
		default:
			h.logger.ErrorContext(r.Context(), "manual close failed",
				slog.String("position_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to close position")
		}
		return
	}

	writeJSON(w, http.StatusOK, record)
}
