package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sniperlabs/sniperbot/internal/domain"
	"github.com/sniperlabs/sniperbot/internal/server/handler"
	"github.com/sniperlabs/sniperbot/internal/service"
)

type stubPositions struct{}

func (stubPositions) ListOpenPositions() []domain.ActivePosition { return nil }

func (stubPositions) GetPosition(id string) (domain.ActivePosition, error) {
	return domain.ActivePosition{}, domain.ErrPositionNotFound
}

func (stubPositions) Stats() domain.PositionStats { return domain.PositionStats{} }

func (stubPositions) CloseManually(context.Context, string, domain.CloseReason) (domain.ClosedPositionRecord, error) {
	return domain.ClosedPositionRecord{}, domain.ErrPositionNotFound
}

type stubPortfolio struct{}

func (stubPortfolio) Snapshot() domain.Portfolio { return domain.Portfolio{TotalValue: 5} }

type stubRisk struct{}

func (stubRisk) Status() service.RiskStatus                   { return service.RiskStatus{} }
func (stubRisk) TriggerEmergencyStop(context.Context, string) {}
func (stubRisk) ResetEmergencyStop(context.Context)           {}

type stubSignals struct{}

func (stubSignals) RecentSignals(int) []domain.TradeSignal { return nil }
func (stubSignals) EnabledNames() []string                 { return nil }

func newTestServer(t *testing.T, apiKey string) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handlers := Handlers{
		Health:    handler.NewHealthHandler(nil, logger),
		Positions: handler.NewPositionHandler(stubPositions{}, logger),
		Portfolio: handler.NewPortfolioHandler(stubPortfolio{}, logger),
		Risk:      handler.NewRiskHandler(stubRisk{}, logger),
		Signals:   handler.NewSignalHandler(stubSignals{}, logger),
	}

	srv := New(Config{Port: 0, APIKey: apiKey}, handlers, nil, nil, logger)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, ts *httptest.Server, path, apiKey string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServerRoutes(t *testing.T) {
	const key = "test-key"
	ts := newTestServer(t, key)

	cases := []struct {
		path string
		want int
	}{
		{"/api/health", http.StatusOK},
		{"/api/positions", http.StatusOK},
		{"/api/positions/stats", http.StatusOK},
		{"/api/positions/unknown", http.StatusNotFound},
		{"/api/portfolio", http.StatusOK},
		{"/api/risk", http.StatusOK},
		{"/api/signals/recent", http.StatusOK},
		{"/api/nope", http.StatusNotFound},
	}
	for _, tc := range cases {
		resp := get(t, ts, tc.path, key)
		assert.Equal(t, tc.want, resp.StatusCode, "GET %s", tc.path)
	}
}

func TestServerAuthGate(t *testing.T) {
	ts := newTestServer(t, "test-key")

	// Health stays open for probes; everything else needs the key.
	resp := get(t, ts, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, ts, "/api/positions", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = get(t, ts, "/api/positions", "wrong-key")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServerEmergencyStopRoutes(t *testing.T) {
	const key = "test-key"
	ts := newTestServer(t, key)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/risk/emergency-stop", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+key)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/api/risk/emergency-stop", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", key)
	resp, err = ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerShutdown(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handlers := Handlers{
		Health:    handler.NewHealthHandler(nil, logger),
		Positions: handler.NewPositionHandler(stubPositions{}, logger),
		Portfolio: handler.NewPortfolioHandler(stubPortfolio{}, logger),
		Risk:      handler.NewRiskHandler(stubRisk{}, logger),
		Signals:   handler.NewSignalHandler(stubSignals{}, logger),
	}
	srv := New(Config{Port: 0}, handlers, nil, nil, logger)

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	require.NoError(t, srv.Shutdown(context.Background()))
	require.NoError(t, <-done)
}
