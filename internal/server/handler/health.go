package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthProbeTimeout bounds the RPC health check so the endpoint stays
// responsive even when the node hangs.
const healthProbeTimeout = 3 * time.Second

// ChainChecker reports whether the upstream RPC node is reachable.
// *solana.Client satisfies it.
type ChainChecker interface {
	GetHealth(ctx context.Context) error
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	chain  ChainChecker
	logger *slog.Logger
}

// NewHealthHandler creates a health handler. chain may be nil, in which
// case only process liveness is reported.
func NewHealthHandler(chain ChainChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{chain: chain, logger: logger}
}

// HealthCheck reports process liveness and RPC node health.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if h.chain != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
		defer cancel()
		if err := h.chain.GetHealth(ctx); err != nil {
			h.logger.WarnContext(r.Context(), "rpc health probe failed", slog.String("error", err.Error()))
			resp["status"] = "degraded"
			resp["rpc_error"] = err.Error()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
