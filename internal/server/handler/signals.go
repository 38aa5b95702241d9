package handler

import (
	"log/slog"
	"net/http"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

// SignalSource exposes recently emitted trade signals. *strategy.Engine
// satisfies it.
type SignalSource interface {
	RecentSignals(limit int) []domain.TradeSignal
	EnabledNames() []string
}

// SignalHandler handles signal-related HTTP requests.
type SignalHandler struct {
	source SignalSource
	logger *slog.Logger
}

// NewSignalHandler creates a new signal handler.
func NewSignalHandler(source SignalSource, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{source: source, logger: logger}
}

// signalListResponse wraps recent signals with the strategies that
// produced them.
type signalListResponse struct {
	Signals    []domain.TradeSignal `json:"signals"`
	Count      int                  `json:"count"`
	Strategies []string             `json:"strategies"`
}

// Recent returns the most recently emitted signals, newest first.
// GET /api/signals/recent
func (h *SignalHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, 50, 500)

	signals := h.source.RecentSignals(limit)
	if signals == nil {
		signals = []domain.TradeSignal{}
	}
	strategies := h.source.EnabledNames()
	if strategies == nil {
		strategies = []string{}
	}

	writeJSON(w, http.StatusOK, signalListResponse{
		Signals:    signals,
		Count:      len(signals),
		Strategies: strategies,
	})
}
