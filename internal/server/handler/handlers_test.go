package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sniperlabs/sniperbot/internal/domain"
	"github.com/sniperlabs/sniperbot/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// serve routes the request through a mux so path parameters resolve the
// same way they do in the real server.
func serve(pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

type fakePositionService struct {
	positions []domain.ActivePosition
	stats     domain.PositionStats
	record    domain.ClosedPositionRecord
	closeErr  error

	gotCloseID  string
	gotCloseRsn domain.CloseReason
}

func (f *fakePositionService) ListOpenPositions() []domain.ActivePosition { return f.positions }

func (f *fakePositionService) GetPosition(id string) (domain.ActivePosition, error) {
	for _, p := range f.positions {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.ActivePosition{}, fmt.Errorf("lookup %s: %w", id, domain.ErrPositionNotFound)
}

func (f *fakePositionService) Stats() domain.PositionStats { return f.stats }

func (f *fakePositionService) CloseManually(_ context.Context, id string, reason domain.CloseReason) (domain.ClosedPositionRecord, error) {
	f.gotCloseID = id
	f.gotCloseRsn = reason
	if f.closeErr != nil {
		return domain.ClosedPositionRecord{}, f.closeErr
	}
	return f.record, nil
}

func TestPositionHandlerList(t *testing.T) {
	svc := &fakePositionService{positions: []domain.ActivePosition{
		{ID: "pos-1", TokenMint: "MintA"},
		{ID: "pos-2", TokenMint: "MintB"},
	}}
	h := NewPositionHandler(svc, testLogger())

	rec := serve("GET /api/positions", h.List, httptest.NewRequest(http.MethodGet, "/api/positions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp positionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "pos-1", resp.Positions[0].ID)
}

func TestPositionHandlerListEmpty(t *testing.T) {
	h := NewPositionHandler(&fakePositionService{}, testLogger())

	rec := serve("GET /api/positions", h.List, httptest.NewRequest(http.MethodGet, "/api/positions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// An empty book must encode as [] rather than null.
	assert.Contains(t, rec.Body.String(), `"positions":[]`)
}

func TestPositionHandlerGet(t *testing.T) {
	svc := &fakePositionService{positions: []domain.ActivePosition{{ID: "pos-1", Symbol: "WIF"}}}
	h := NewPositionHandler(svc, testLogger())

	rec := serve("GET /api/positions/{id}", h.Get, httptest.NewRequest(http.MethodGet, "/api/positions/pos-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var pos domain.ActivePosition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pos))
	assert.Equal(t, "WIF", pos.Symbol)

	rec = serve("GET /api/positions/{id}", h.Get, httptest.NewRequest(http.MethodGet, "/api/positions/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "position not found")
}

func TestPositionHandlerGetStats(t *testing.T) {
	svc := &fakePositionService{stats: domain.PositionStats{TotalPositions: 3, TotalInvestedSOL: 1.5}}
	h := NewPositionHandler(svc, testLogger())

	rec := serve("GET /api/positions/stats", h.GetStats, httptest.NewRequest(http.MethodGet, "/api/positions/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats domain.PositionStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.TotalPositions)
	assert.InDelta(t, 1.5, stats.TotalInvestedSOL, 1e-9)
	assert.NotNil(t, stats.StrategyBreakdown)
}

func TestPositionHandlerClose(t *testing.T) {
	t.Run("passes reason through", func(t *testing.T) {
		svc := &fakePositionService{record: domain.ClosedPositionRecord{PositionID: "pos-1", RealizedPnL: 0.25}}
		h := NewPositionHandler(svc, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/positions/pos-1/close",
			strings.NewReader(`{"reason":"risk_limit"}`))
		rec := serve("POST /api/positions/{id}/close", h.Close, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "pos-1", svc.gotCloseID)
		assert.Equal(t, domain.CloseReason("risk_limit"), svc.gotCloseRsn)

		var record domain.ClosedPositionRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
		assert.InDelta(t, 0.25, record.RealizedPnL, 1e-9)
	})

	t.Run("empty body defaults downstream", func(t *testing.T) {
		svc := &fakePositionService{}
		h := NewPositionHandler(svc, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/positions/pos-1/close", nil)
		rec := serve("POST /api/positions/{id}/close", h.Close, req)

		require.Equal(t, http.StatusOK, rec.Code)
		// The manager maps an empty reason to manual.
		assert.Equal(t, domain.CloseReason(""), svc.gotCloseRsn)
	})

	t.Run("unknown position", func(t *testing.T) {
		svc := &fakePositionService{closeErr: fmt.Errorf("close: %w", domain.ErrPositionNotFound)}
		h := NewPositionHandler(svc, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/positions/nope/close", nil)
		rec := serve("POST /api/positions/{id}/close", h.Close, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("exit already in flight", func(t *testing.T) {
		svc := &fakePositionService{closeErr: fmt.Errorf("close: %w", domain.ErrAlreadyExists)}
		h := NewPositionHandler(svc, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/positions/pos-1/close", nil)
		rec := serve("POST /api/positions/{id}/close", h.Close, req)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("execution failure", func(t *testing.T) {
		svc := &fakePositionService{closeErr: fmt.Errorf("close: %w", domain.ErrExecutionFailed)}
		h := NewPositionHandler(svc, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/positions/pos-1/close", nil)
		rec := serve("POST /api/positions/{id}/close", h.Close, req)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, rec.Body.String(), "exit order failed")
	})
}

type fakePortfolioService struct {
	snapshot domain.Portfolio
}

func (f *fakePortfolioService) Snapshot() domain.Portfolio { return f.snapshot }

func TestPortfolioHandlerGet(t *testing.T) {
	svc := &fakePortfolioService{snapshot: domain.Portfolio{
		TotalValue:       12.5,
		AvailableBalance: 10,
		DailyPnL:         -0.4,
	}}
	h := NewPortfolioHandler(svc, testLogger())

	rec := serve("GET /api/portfolio", h.Get, httptest.NewRequest(http.MethodGet, "/api/portfolio", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var p domain.Portfolio
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.InDelta(t, 12.5, p.TotalValue, 1e-9)
	assert.InDelta(t, -0.4, p.DailyPnL, 1e-9)
	assert.Contains(t, rec.Body.String(), `"positions":[]`)
}

type fakeRiskService struct {
	status   service.RiskStatus
	stopRsn  string
	released bool
}

func (f *fakeRiskService) Status() service.RiskStatus { return f.status }

func (f *fakeRiskService) TriggerEmergencyStop(_ context.Context, reason string) {
	f.stopRsn = reason
	f.status.EmergencyStopActive = true
	f.status.EmergencyStopReason = reason
}

func (f *fakeRiskService) ResetEmergencyStop(context.Context) {
	f.released = true
	f.status.EmergencyStopActive = false
	f.status.EmergencyStopReason = ""
}

func TestRiskHandlerStatus(t *testing.T) {
	svc := &fakeRiskService{status: service.RiskStatus{DailyPnL: -1.2, MaxDrawdownReached: 0.08}}
	h := NewRiskHandler(svc, testLogger())

	rec := serve("GET /api/risk", h.GetStatus, httptest.NewRequest(http.MethodGet, "/api/risk", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status service.RiskStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.InDelta(t, -1.2, status.DailyPnL, 1e-9)
	assert.False(t, status.EmergencyStopActive)
}

func TestRiskHandlerEngageStop(t *testing.T) {
	svc := &fakeRiskService{}
	h := NewRiskHandler(svc, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/risk/emergency-stop",
		strings.NewReader(`{"reason":"rug wave on pump.fun"}`))
	rec := serve("POST /api/risk/emergency-stop", h.EngageStop, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rug wave on pump.fun", svc.stopRsn)

	var status service.RiskStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.EmergencyStopActive)
	assert.Equal(t, "rug wave on pump.fun", status.EmergencyStopReason)
}

func TestRiskHandlerEngageStopDefaultReason(t *testing.T) {
	svc := &fakeRiskService{}
	h := NewRiskHandler(svc, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/risk/emergency-stop", nil)
	rec := serve("POST /api/risk/emergency-stop", h.EngageStop, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "manual stop via api", svc.stopRsn)
}

func TestRiskHandlerReleaseStop(t *testing.T) {
	svc := &fakeRiskService{status: service.RiskStatus{EmergencyStopActive: true, EmergencyStopReason: "drawdown"}}
	h := NewRiskHandler(svc, testLogger())

	req := httptest.NewRequest(http.MethodDelete, "/api/risk/emergency-stop", nil)
	rec := serve("DELETE /api/risk/emergency-stop", h.ReleaseStop, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.released)
	assert.Contains(t, rec.Body.String(), `"emergency_stop_active":false`)
}

type fakeSignalSource struct {
	signals  []domain.TradeSignal
	enabled  []string
	gotLimit int
}

func (f *fakeSignalSource) RecentSignals(limit int) []domain.TradeSignal {
	f.gotLimit = limit
	return f.signals
}

func (f *fakeSignalSource) EnabledNames() []string { return f.enabled }

func TestSignalHandlerRecent(t *testing.T) {
	src := &fakeSignalSource{
		signals: []domain.TradeSignal{{ID: "sig-1", Strategy: "liquidity_snipe"}},
		enabled: []string{"liquidity_snipe", "volume_spike"},
	}
	h := NewSignalHandler(src, testLogger())

	rec := serve("GET /api/signals/recent", h.Recent,
		httptest.NewRequest(http.MethodGet, "/api/signals/recent?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, src.gotLimit)

	var resp signalListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "sig-1", resp.Signals[0].ID)
	assert.Equal(t, []string{"liquidity_snipe", "volume_spike"}, resp.Strategies)
}

func TestSignalHandlerRecentLimitBounds(t *testing.T) {
	src := &fakeSignalSource{}
	h := NewSignalHandler(src, testLogger())

	rec := serve("GET /api/signals/recent", h.Recent,
		httptest.NewRequest(http.MethodGet, "/api/signals/recent", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, src.gotLimit)
	assert.Contains(t, rec.Body.String(), `"signals":[]`)

	serve("GET /api/signals/recent", h.Recent,
		httptest.NewRequest(http.MethodGet, "/api/signals/recent?limit=99999", nil))
	assert.Equal(t, 500, src.gotLimit)

	serve("GET /api/signals/recent", h.Recent,
		httptest.NewRequest(http.MethodGet, "/api/signals/recent?limit=garbage", nil))
	assert.Equal(t, 50, src.gotLimit)
}

type fakeChain struct {
	err   error
	calls int
}

func (f *fakeChain) GetHealth(context.Context) error {
	f.calls++
	return f.err
}

func TestHealthHandler(t *testing.T) {
	t.Run("no chain wired", func(t *testing.T) {
		h := NewHealthHandler(nil, testLogger())
		rec := serve("GET /api/health", h.HealthCheck, httptest.NewRequest(http.MethodGet, "/api/health", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	})

	t.Run("healthy node", func(t *testing.T) {
		chain := &fakeChain{}
		h := NewHealthHandler(chain, testLogger())
		rec := serve("GET /api/health", h.HealthCheck, httptest.NewRequest(http.MethodGet, "/api/health", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"ok"`)
		assert.Equal(t, 1, chain.calls)
	})

	t.Run("degraded node", func(t *testing.T) {
		chain := &fakeChain{err: errors.New("node is behind by 412 slots")}
		h := NewHealthHandler(chain, testLogger())
		rec := serve("GET /api/health", h.HealthCheck, httptest.NewRequest(http.MethodGet, "/api/health", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "degraded", resp["status"])
		assert.Contains(t, resp["rpc_error"], "412 slots")

		ts, err := time.Parse(time.RFC3339, resp["timestamp"].(string))
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().UTC(), ts, time.Minute)
	})
}
