package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testOpenedAt = time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)

func newTestPosition(t *testing.T, family StrategyFamily, entry, amountTokens float64) *ActivePosition {
	t.Helper()
	pos, err := NewActivePosition("pos-1", family, string(family), "BONK/SOL", "So1aNaM1ntAddre55", entry, amountTokens, testOpenedAt)
	assert.NoError(t, err)
	return pos
}

func TestNewActivePosition_Thresholds(t *testing.T) {
	pos := newTestPosition(t, FamilyPureSniper, 0.001, 50.0)

	assert.Equal(t, 0.001, pos.EntryPrice)
	assert.Equal(t, 50.0, pos.AmountTokens)
	assert.InDelta(t, 0.05, pos.AmountSOLInvested, 1e-12)
	assert.Equal(t, PositionStatusOpen, pos.Status)
	assert.Equal(t, 0.001, pos.LastPrice)

	if assert.NotNil(t, pos.TakeProfitPrice) {
		assert.InDelta(t, 0.004, *pos.TakeProfitPrice, 1e-12)
	}
	if assert.NotNil(t, pos.StopLossPrice) {
		assert.InDelta(t, 0.0002, *pos.StopLossPrice, 1e-12)
	}
	if assert.NotNil(t, pos.TimeExitAt) {
		assert.Equal(t, testOpenedAt.Add(time.Hour), *pos.TimeExitAt)
	}
}

func TestNewActivePosition_DisabledThresholds(t *testing.T) {
	pos := newTestPosition(t, FamilyMomentumTrader, 0.001, 1000.0)

	assert.Nil(t, pos.TakeProfitPrice, "momentum preset has no take profit")
	if assert.NotNil(t, pos.StopLossPrice) {
		assert.InDelta(t, 0.0008, *pos.StopLossPrice, 1e-12)
	}
	if assert.NotNil(t, pos.TimeExitAt) {
		assert.Equal(t, testOpenedAt.Add(24*time.Hour), *pos.TimeExitAt)
	}
}

func TestNewActivePosition_StopLossExactness(t *testing.T) {
	// An -80% stop must land at exactly a fifth of the entry, whatever the
	// magnitude of the price.
	for _, entry := range []float64{0.000001234, 0.00042, 0.0314, 1.75, 123.456} {
		pos, err := NewActivePosition("pos-x", FamilyPureSniper, "pure_sniper", "X/SOL", "mint", entry, 10, testOpenedAt)
		assert.NoError(t, err)
		if assert.NotNil(t, pos.StopLossPrice) {
			assert.InDelta(t, entry*0.2, *pos.StopLossPrice, 1e-9)
		}
	}
}

func TestNewActivePosition_InvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		entry  float64
		amount float64
	}{
		{"zero entry", 0, 50},
		{"negative entry", -0.001, 50},
		{"zero amount", 0.001, 0},
		{"negative amount", 0.001, -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewActivePosition("bad", FamilyPureSniper, "pure_sniper", "X/SOL", "mint", tt.entry, tt.amount, testOpenedAt)
			assert.ErrorIs(t, err, ErrInvalidPositionParams)
		})
	}
}

func TestPositionFromFill(t *testing.T) {
	sig := TradeSignal{
		ID:        "sig-1",
		Strategy:  "pure_sniper",
		Symbol:    "WIF/SOL",
		TokenMint: "mintWIF",
		Side:      OrderSideBuy,
		Strength:  0.9,
		Price:     0.001,
		Size:      50.0,
		Metadata:  map[string]string{"pool": "raydium"},
	}
	fill := ExecutionResult{
		OrderID:     "ord-1",
		Success:     true,
		TxSignature: "5ig",
		FilledSize:  50.0,
		FilledPrice: 0.001,
		Timestamp:   testOpenedAt,
	}

	pos, err := PositionFromFill("pos-2", sig, fill)
	assert.NoError(t, err)
	assert.InDelta(t, 50000.0, pos.AmountTokens, 1e-9)
	assert.Equal(t, 50.0, pos.AmountSOLInvested)
	assert.Equal(t, "ord-1", pos.EntryOrderID)
	assert.Equal(t, "5ig", pos.EntryTxSignature)
	assert.Equal(t, "raydium", pos.Metadata["pool"])
	assert.Equal(t, testOpenedAt, pos.OpenedAt)

	t.Run("zero fill price rejected", func(t *testing.T) {
		_, err := PositionFromFill("pos-3", sig, ExecutionResult{FilledSize: 50})
		assert.ErrorIs(t, err, ErrInvalidPositionParams)
	})
}

func TestUnrealizedPnL(t *testing.T) {
	pos := newTestPosition(t, FamilyPureSniper, 0.001, 50.0)

	assert.InDelta(t, 0.05, pos.UnrealizedPnL(0.002), 1e-12)
	assert.InDelta(t, 100.0, pos.UnrealizedPnLPercent(0.002), 1e-9)
	assert.InDelta(t, 0.1, pos.CurrentValue(0.002), 1e-12)

	assert.InDelta(t, -0.025, pos.UnrealizedPnL(0.0005), 1e-12)
	assert.InDelta(t, -50.0, pos.UnrealizedPnLPercent(0.0005), 1e-9)

	assert.Zero(t, pos.UnrealizedPnL(0.001))
	assert.Zero(t, pos.UnrealizedPnLPercent(0.001))
}

func TestUpdateWithPrice_WaterMarks(t *testing.T) {
	pos := newTestPosition(t, FamilyMomentumTrader, 0.001, 1000.0)

	pos.UpdateWithPrice(0.0025)
	assert.InDelta(t, 150.0, pos.MaxProfitPercent, 1e-9)
	assert.InDelta(t, 1.5, pos.MaxProfit, 1e-9)

	// A pullback must not lower the profit high-water mark.
	pos.UpdateWithPrice(0.0019)
	assert.InDelta(t, 150.0, pos.MaxProfitPercent, 1e-9)
	assert.Equal(t, 0.0019, pos.LastPrice)

	pos.UpdateWithPrice(0.00085)
	assert.InDelta(t, -15.0, pos.MaxDrawdownPercent, 1e-9)
	assert.InDelta(t, -0.15, pos.MaxDrawdown, 1e-9)

	// A recovery must not raise the drawdown low-water mark.
	pos.UpdateWithPrice(0.0012)
	assert.InDelta(t, -15.0, pos.MaxDrawdownPercent, 1e-9)
	assert.InDelta(t, 150.0, pos.MaxProfitPercent, 1e-9)
}

func TestShouldClose_TakeProfit(t *testing.T) {
	pos := newTestPosition(t, FamilyPureSniper, 0.001, 50.0)
	now := testOpenedAt.Add(time.Minute)

	_, ok := pos.ShouldClose(0.0039, now)
	assert.False(t, ok)

	reason, ok := pos.ShouldClose(0.004, now)
	assert.True(t, ok)
	assert.Equal(t, CloseReasonTakeProfit, reason)

	reason, ok = pos.ShouldClose(0.01, now)
	assert.True(t, ok)
	assert.Equal(t, CloseReasonTakeProfit, reason)
}

func TestShouldClose_StopLoss(t *testing.T) {
	pos := newTestPosition(t, FamilyPureSniper, 0.001, 50.0)
	now := testOpenedAt.Add(time.Minute)

	_, ok := pos.ShouldClose(0.00021, now)
	assert.False(t, ok)

	reason, ok := pos.ShouldClose(0.0002, now)
	assert.True(t, ok)
	assert.Equal(t, CloseReasonStopLoss, reason)

	reason, ok = pos.ShouldClose(0.00019, now)
	assert.True(t, ok)
	assert.Equal(t, CloseReasonStopLoss, reason)
}

func TestShouldClose_TimeExit(t *testing.T) {
	pos := newTestPosition(t, FamilyPureSniper, 0.001, 50.0)

	_, ok := pos.ShouldClose(0.001, testOpenedAt.Add(59*time.Minute))
	assert.False(t, ok)

	reason, ok := pos.ShouldClose(0.001, testOpenedAt.Add(time.Hour))
	assert.True(t, ok)
	assert.Equal(t, CloseReasonTimeExit, reason)

	reason, ok = pos.ShouldClose(0.001, testOpenedAt.Add(2*time.Hour))
	assert.True(t, ok)
	assert.Equal(t, CloseReasonTimeExit, reason)
}

func TestShouldClose_TrailingStop(t *testing.T) {
	pos := newTestPosition(t, FamilyMomentumTrader, 0.001, 1000.0)
	now := testOpenedAt.Add(time.Hour)

	// Pump to +80% arms the trail (activation is +50%).
	pos.UpdateWithPrice(0.0018)

	// Giving back 15 points stays inside the 20-point trail.
	pos.UpdateWithPrice(0.00165)
	_, ok := pos.ShouldClose(0.00165, now)
	assert.False(t, ok)

	// Giving back 25 points breaches it.
	pos.UpdateWithPrice(0.00155)
	reason, ok := pos.ShouldClose(0.00155, now)
	assert.True(t, ok)
	assert.Equal(t, CloseReasonTrailingStop, reason)
}

func TestShouldClose_TrailingRequiresActivation(t *testing.T) {
	pos := newTestPosition(t, FamilyMomentumTrader, 0.001, 1000.0)
	now := testOpenedAt.Add(time.Hour)

	// Peak of +40% never reaches the +50% activation, so a 30-point giveback
	// does not fire the trail.
	pos.UpdateWithPrice(0.0014)
	pos.UpdateWithPrice(0.0011)
	_, ok := pos.ShouldClose(0.0011, now)
	assert.False(t, ok)
}

func TestShouldClose_PriorityOrder(t *testing.T) {
	now := testOpenedAt.Add(2 * time.Hour) // past the 1h time exit

	t.Run("take profit beats time exit", func(t *testing.T) {
		pos := newTestPosition(t, FamilyPureSniper, 0.001, 50.0)
		reason, ok := pos.ShouldClose(0.005, now)
		assert.True(t, ok)
		assert.Equal(t, CloseReasonTakeProfit, reason)
	})

	t.Run("stop loss beats time exit", func(t *testing.T) {
		pos := newTestPosition(t, FamilyPureSniper, 0.001, 50.0)
		reason, ok := pos.ShouldClose(0.0001, now)
		assert.True(t, ok)
		assert.Equal(t, CloseReasonStopLoss, reason)
	})

	t.Run("trailing beats time exit", func(t *testing.T) {
		pos := newTestPosition(t, FamilyMomentumTrader, 0.001, 1000.0)
		pos.UpdateWithPrice(0.0018)
		pos.UpdateWithPrice(0.00155)
		reason, ok := pos.ShouldClose(0.00155, testOpenedAt.Add(25*time.Hour))
		assert.True(t, ok)
		assert.Equal(t, CloseReasonTrailingStop, reason)
	})

	t.Run("stop loss beats trailing", func(t *testing.T) {
		pos := newTestPosition(t, FamilyMomentumTrader, 0.001, 1000.0)
		pos.UpdateWithPrice(0.0018)
		pos.UpdateWithPrice(0.0007) // below the -20% stop and 110 points off the peak
		reason, ok := pos.ShouldClose(0.0007, testOpenedAt.Add(time.Hour))
		assert.True(t, ok)
		assert.Equal(t, CloseReasonStopLoss, reason)
	})

	t.Run("time exit fires when nothing else does", func(t *testing.T) {
		pos := newTestPosition(t, FamilyPureSniper, 0.001, 50.0)
		reason, ok := pos.ShouldClose(0.0015, now)
		assert.True(t, ok)
		assert.Equal(t, CloseReasonTimeExit, reason)
	})
}

func TestPositionLifecycleTransitions(t *testing.T) {
	pos := newTestPosition(t, FamilyPureSniper, 0.001, 50.0)

	pos.MarkClosing("exit-ord-1")
	assert.Equal(t, PositionStatusClosing, pos.Status)
	assert.Equal(t, "exit-ord-1", pos.ExitOrderID)
	assert.False(t, pos.Status.Terminal())

	pos.RevertToOpen()
	assert.Equal(t, PositionStatusOpen, pos.Status)
	assert.Empty(t, pos.ExitOrderID)
	assert.Equal(t, 1, pos.CloseAttempts)

	pos.RevertToOpen()
	assert.Equal(t, 2, pos.CloseAttempts)
}

func TestCloseStatusFor(t *testing.T) {
	invested := 0.05

	assert.Equal(t, PositionStatusClosedProfit, CloseStatusFor(CloseReasonTakeProfit, 0.15, invested))
	assert.Equal(t, PositionStatusClosedLoss, CloseStatusFor(CloseReasonStopLoss, -0.04, invested))
	assert.Equal(t, PositionStatusClosedBreakeven, CloseStatusFor(CloseReasonManual, 0, invested))
	assert.Equal(t, PositionStatusClosedBreakeven, CloseStatusFor(CloseReasonManual, 1e-12, invested))
	assert.Equal(t, PositionStatusClosedBreakeven, CloseStatusFor(CloseReasonTimeExit, -1e-12, invested))

	// Risk-forced closes are liquidations whatever the realized sign.
	assert.Equal(t, PositionStatusLiquidated, CloseStatusFor(CloseReasonRiskLimit, 0.5, invested))
	assert.Equal(t, PositionStatusLiquidated, CloseStatusFor(CloseReasonRiskLimit, -0.5, invested))
}

func TestPositionStatusTerminal(t *testing.T) {
	assert.False(t, PositionStatusOpen.Terminal())
	assert.False(t, PositionStatusClosing.Terminal())
	assert.True(t, PositionStatusClosedProfit.Terminal())
	assert.True(t, PositionStatusClosedLoss.Terminal())
	assert.True(t, PositionStatusClosedBreakeven.Terminal())
	assert.True(t, PositionStatusLiquidated.Terminal())
}

func TestPositionStorageKey(t *testing.T) {
	pos := newTestPosition(t, FamilyPureSniper, 0.001, 50.0)
	pos.ID = "abc-123"
	assert.Equal(t, "active_position:abc-123", pos.StorageKey())
	assert.Equal(t, "active_position:abc-123", PositionStorageKey("abc-123"))
}

func TestPositionJSONRoundTrip(t *testing.T) {
	pos := newTestPosition(t, FamilyMomentumTrader, 0.001, 1000.0)
	pos.UpdateWithPrice(0.0018)
	pos.UpdateWithPrice(0.0009)
	pos.UpdatedAt = testOpenedAt.Add(10 * time.Minute)
	pos.EntryOrderID = "ord-9"
	pos.EntryTxSignature = "txsig"
	pos.CloseAttempts = 1
	pos.Metadata = map[string]string{"pool": "pumpfun"}

	raw, err := json.Marshal(pos)
	assert.NoError(t, err)

	var restored ActivePosition
	assert.NoError(t, json.Unmarshal(raw, &restored))
	assert.Equal(t, *pos, restored)
}

func TestSignalHelpers(t *testing.T) {
	sig := TradeSignal{
		Strategy:  "volume_spike",
		TokenMint: "mintX",
		Side:      OrderSideBuy,
		ExpiresAt: testOpenedAt.Add(time.Minute),
	}

	assert.False(t, sig.Expired(testOpenedAt))
	assert.True(t, sig.Expired(testOpenedAt.Add(2*time.Minute)))
	assert.Equal(t, "volume_spike|mintX|buy", sig.DedupKey())

	sig.ExpiresAt = time.Time{}
	assert.False(t, sig.Expired(testOpenedAt.Add(100*time.Hour)))
}

func TestPortfolioExposure(t *testing.T) {
	p := Portfolio{
		Positions: []PortfolioPosition{
			{PositionID: "a", Size: 50000, CurrentPrice: 0.002},
			{PositionID: "b", Size: 1000, CurrentPrice: 0.05},
		},
	}
	assert.InDelta(t, 150.0, p.Exposure(), 1e-9)
	assert.InDelta(t, 100.0, p.Positions[0].MarketValue(), 1e-9)

	assert.Zero(t, Portfolio{}.Exposure())
}
