package domain

import "time"

// PortfolioPosition is the portfolio's view of one holding, kept small so
// exposure math never needs the full ActivePosition.
type PortfolioPosition struct {
	PositionID   string  `json:"position_id"`
	Symbol       string  `json:"symbol"`
	TokenMint    string  `json:"token_mint"`
	Size         float64 `json:"size"`
	EntryPrice   float64 `json:"entry_price"`
	CurrentPrice float64 `json:"current_price"`
}

// MarketValue returns size * current price in SOL.
func (p PortfolioPosition) MarketValue() float64 {
	return p.Size * p.CurrentPrice
}

// Portfolio is the aggregate account state shared between risk checks and
// reporting. DailyPnL accumulates realized results since the last daily
// reset; MaxDrawdown is the worst peak-to-trough fraction reached.
type Portfolio struct {
	TotalValue       float64             `json:"total_value"`
	AvailableBalance float64             `json:"available_balance"`
	UnrealizedPnL    float64             `json:"unrealized_pnl"`
	RealizedPnL      float64             `json:"realized_pnl"`
	DailyPnL         float64             `json:"daily_pnl"`
	MaxDrawdown      float64             `json:"max_drawdown"`
	Positions        []PortfolioPosition `json:"positions"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// Exposure returns the summed market value of all holdings in SOL.
func (p Portfolio) Exposure() float64 {
	var total float64
	for _, pos := range p.Positions {
		total += pos.MarketValue()
	}
	return total
}
