package domain

import "time"

// TradeSignal is a strategy's request to trade. Strength expresses conviction
// in [0,1] and feeds both position sizing and the risk score. Size is the
// requested SOL notional for buys and token amount for sells.
type TradeSignal struct {
	ID        string            `json:"id"`
	Strategy  string            `json:"strategy"`
	Symbol    string            `json:"symbol"`
	TokenMint string            `json:"token_mint"`
	Side      OrderSide         `json:"side"`
	Strength  float64           `json:"strength"`
	Price     float64           `json:"price"`
	Size      float64           `json:"size"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Expired reports whether the signal is past its validity window.
func (s TradeSignal) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// DedupKey identifies logically equivalent signals for double-fire
// suppression.
func (s TradeSignal) DedupKey() string {
	return s.Strategy + "|" + s.TokenMint + "|" + string(s.Side)
}

// AIRecommendation is an advisory verdict from an external analysis service.
// The risk layer blends it into its own assessment; a missing recommendation
// never blocks a trade.
type AIRecommendation struct {
	Action        string   `json:"action"`
	Confidence    float64  `json:"confidence"`
	RiskScore     float64  `json:"risk_score"`
	Rationale     string   `json:"rationale,omitempty"`
	TargetPrice   *float64 `json:"target_price,omitempty"`
	StopLossPrice *float64 `json:"stop_loss_price,omitempty"`
}

// AI recommendation actions.
const (
	AIActionBuy    = "BUY"
	AIActionSell   = "SELL"
	AIActionHold   = "HOLD"
	AIActionReject = "REJECT"
)
