package domain

import "time"

// RiskAssessment is the verdict on a trade signal. SuggestedSize is the
// risk-adjusted SOL notional; StopLoss and TakeProfit are advisory price
// bands for the eventual position.
type RiskAssessment struct {
	Approved      bool     `json:"approved"`
	RiskScore     float64  `json:"risk_score"`
	Warnings      []string `json:"warnings,omitempty"`
	SuggestedSize float64  `json:"suggested_size"`
	StopLoss      *float64 `json:"stop_loss,omitempty"`
	TakeProfit    *float64 `json:"take_profit,omitempty"`
}

// PositionLimits bounds individual positions and aggregate exposure.
// Fractions are of total portfolio value.
type PositionLimits struct {
	MaxPositionSize        float64 `json:"max_position_size"`
	MaxPortfolioExposure   float64 `json:"max_portfolio_exposure"`
	MaxCorrelationExposure float64 `json:"max_correlation_exposure"`
}

// DefaultPositionLimits returns the standing limits applied when the
// configuration does not override them.
func DefaultPositionLimits() PositionLimits {
	return PositionLimits{
		MaxPositionSize:        10_000.0,
		MaxPortfolioExposure:   0.8,
		MaxCorrelationExposure: 0.3,
	}
}

// RiskEvent is one append-only audit row recorded by the risk layer:
// rejections, emergency stops, circuit-breaker trips, forced closes.
type RiskEvent struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Risk event names.
const (
	RiskEventSignalRejected     = "signal_rejected"
	RiskEventOrderRejected      = "order_rejected"
	RiskEventEmergencyStop      = "emergency_stop"
	RiskEventEmergencyStopClear = "emergency_stop_cleared"
	RiskEventCircuitBreaker     = "circuit_breaker"
	RiskEventForcedClose        = "forced_close"
	RiskEventDailyReset         = "daily_reset"
)
