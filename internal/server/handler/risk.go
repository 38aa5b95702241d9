package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sniperlabs/sniperbot/internal/service"
)

// RiskService is the subset of the risk manager the HTTP layer consumes.
type RiskService interface {
	Status() service.RiskStatus
	TriggerEmergencyStop(ctx context.Context, reason string)
	ResetEmergencyStop(ctx context.Context)
}

// RiskHandler handles risk-related HTTP requests.
type RiskHandler struct {
	service RiskService
	logger  *slog.Logger
}

// NewRiskHandler creates a new risk handler.
func NewRiskHandler(service RiskService, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{service: service, logger: logger}
}

// GetStatus returns the current risk limits and emergency stop state.
// GET /api/risk
func (h *RiskHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Status())
}

// stopRequest carries the operator-supplied reason for an emergency stop.
type stopRequest struct {
	Reason string `json:"reason"`
}

// EngageStop activates the emergency stop, blocking all new entries until
// the stop is released.
// POST /api/risk/emergency-stop
func (h *RiskHandler) EngageStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual stop via api"
	}

	h.service.TriggerEmergencyStop(r.Context(), reason)
	writeJSON(w, http.StatusOK, h.service.Status())
}

// ReleaseStop lifts an active emergency stop.
// DELETE /api/risk/emergency-stop
func (h *RiskHandler) ReleaseStop(w http.ResponseWriter, r *http.Request) {
	h.service.ResetEmergencyStop(r.Context())
	writeJSON(w, http.StatusOK, h.service.Status())
}
