package domain

import (
	"fmt"
	"time"
)

// PositionStatus tracks a position through its lifecycle. Open positions move
// to Closing while an exit order is in flight; a failed exit reverts them to
// Open. Terminal states record how the trade resolved.
type PositionStatus string

const (
	PositionStatusOpen            PositionStatus = "open"
	PositionStatusClosing         PositionStatus = "closing"
	PositionStatusClosedProfit    PositionStatus = "closed_profit"
	PositionStatusClosedLoss      PositionStatus = "closed_loss"
	PositionStatusClosedBreakeven PositionStatus = "closed_breakeven"
	PositionStatusLiquidated      PositionStatus = "liquidated"
)

// Terminal reports whether the status is one of the closed states.
func (s PositionStatus) Terminal() bool {
	switch s {
	case PositionStatusClosedProfit, PositionStatusClosedLoss,
		PositionStatusClosedBreakeven, PositionStatusLiquidated:
		return true
	}
	return false
}

// CloseReason identifies the single trigger that closed a position.
type CloseReason string

const (
	CloseReasonTakeProfit   CloseReason = "take_profit"
	CloseReasonStopLoss     CloseReason = "stop_loss"
	CloseReasonTrailingStop CloseReason = "trailing_stop"
	CloseReasonTimeExit     CloseReason = "time_exit"
	CloseReasonManual       CloseReason = "manual"
	CloseReasonRiskLimit    CloseReason = "risk_limit"
)

// breakevenTolerance is the realized-PnL band, relative to the invested
// amount, inside which a close counts as breakeven.
const breakevenTolerance = 1e-9

// ActivePosition is one open trade. It owns the entry economics, the derived
// exit thresholds, and the per-tick exit decision. All mutation goes through
// the position manager; the struct itself is not safe for concurrent use.
type ActivePosition struct {
	ID           string `json:"id"`
	StrategyName string `json:"strategy_name"`
	Symbol       string `json:"symbol"`
	TokenMint    string `json:"token_mint"`

	EntryPrice        float64 `json:"entry_price"`
	AmountTokens      float64 `json:"amount_tokens"`
	AmountSOLInvested float64 `json:"amount_sol_invested"`

	LastPrice          float64 `json:"last_price"`
	MaxProfit          float64 `json:"max_profit"`
	MaxProfitPercent   float64 `json:"max_profit_percent"`
	MaxDrawdown        float64 `json:"max_drawdown"`
	MaxDrawdownPercent float64 `json:"max_drawdown_percent"`

	// Derived once at creation from ExitStrategy and EntryPrice. Nil means
	// the trigger is disabled.
	TakeProfitPrice *float64   `json:"take_profit_price,omitempty"`
	StopLossPrice   *float64   `json:"stop_loss_price,omitempty"`
	TimeExitAt      *time.Time `json:"time_exit_at,omitempty"`

	ExitStrategy ExitStrategy `json:"exit_strategy"`

	Status        PositionStatus `json:"status"`
	CloseAttempts int            `json:"close_attempts"`

	EntryOrderID     string `json:"entry_order_id,omitempty"`
	EntryTxSignature string `json:"entry_tx_signature,omitempty"`
	ExitOrderID      string `json:"exit_order_id,omitempty"`
	ExitTxSignature  string `json:"exit_tx_signature,omitempty"`

	OpenedAt  time.Time `json:"opened_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewActivePosition builds a position from a filled entry and computes its
// exit thresholds from the family preset. It returns ErrInvalidPositionParams
// when entryPrice or amountTokens is non-positive.
func NewActivePosition(id string, family StrategyFamily, strategyName, symbol, tokenMint string, entryPrice, amountTokens float64, openedAt time.Time) (*ActivePosition, error) {
	if entryPrice <= 0 {
		return nil, fmt.Errorf("entry price %v: %w", entryPrice, ErrInvalidPositionParams)
	}
	if amountTokens <= 0 {
		return nil, fmt.Errorf("amount tokens %v: %w", amountTokens, ErrInvalidPositionParams)
	}

	strat := ExitStrategyFor(family)

	p := &ActivePosition{
		ID:                id,
		StrategyName:      strategyName,
		Symbol:            symbol,
		TokenMint:         tokenMint,
		EntryPrice:        entryPrice,
		AmountTokens:      amountTokens,
		AmountSOLInvested: entryPrice * amountTokens,
		LastPrice:         entryPrice,
		ExitStrategy:      strat,
		Status:            PositionStatusOpen,
		OpenedAt:          openedAt,
		UpdatedAt:         openedAt,
	}

	if strat.TakeProfitPercent > 0 {
		tp := entryPrice * (1.0 + strat.TakeProfitPercent/100.0)
		p.TakeProfitPrice = &tp
	}
	if strat.StopLossPercent != 0 {
		sl := entryPrice * (1.0 + strat.StopLossPercent/100.0)
		p.StopLossPrice = &sl
	}
	if strat.TimeExitHours > 0 {
		at := openedAt.Add(time.Duration(strat.TimeExitHours * float64(time.Hour)))
		p.TimeExitAt = &at
	}

	return p, nil
}

// PositionFromFill builds a position from an approved signal and the entry
// fill reported by the execution backend. FilledSize is the SOL spent, so
// the token amount is FilledSize / FilledPrice. The exit policy follows the
// signal's strategy family; unknown strategies get the PureSniper preset.
func PositionFromFill(id string, sig TradeSignal, fill ExecutionResult) (*ActivePosition, error) {
	if fill.FilledPrice <= 0 {
		return nil, fmt.Errorf("fill price %v: %w", fill.FilledPrice, ErrInvalidPositionParams)
	}
	family, _ := ParseStrategyFamily(sig.Strategy)
	amountTokens := fill.FilledSize / fill.FilledPrice

	p, err := NewActivePosition(id, family, sig.Strategy, sig.Symbol, sig.TokenMint, fill.FilledPrice, amountTokens, fill.Timestamp)
	if err != nil {
		return nil, err
	}
	p.AmountSOLInvested = fill.FilledSize
	p.EntryOrderID = fill.OrderID
	p.EntryTxSignature = fill.TxSignature
	if len(sig.Metadata) > 0 {
		p.Metadata = make(map[string]string, len(sig.Metadata))
		for k, v := range sig.Metadata {
			p.Metadata[k] = v
		}
	}
	return p, nil
}

// UnrealizedPnL returns (price - entry) * amount in SOL.
func (p *ActivePosition) UnrealizedPnL(currentPrice float64) float64 {
	return (currentPrice - p.EntryPrice) * p.AmountTokens
}

// UnrealizedPnLPercent returns the percentage gain or loss against the entry.
// It returns 0 for a zero entry price; creation guarantees entry is positive.
func (p *ActivePosition) UnrealizedPnLPercent(currentPrice float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return ((currentPrice - p.EntryPrice) / p.EntryPrice) * 100.0
}

// CurrentValue returns the position's market value at the given price.
func (p *ActivePosition) CurrentValue(currentPrice float64) float64 {
	return currentPrice * p.AmountTokens
}

// UpdateWithPrice records a new market price and advances the profit
// high-water mark and drawdown low-water mark. MaxProfitPercent only ever
// rises and MaxDrawdownPercent only ever falls; the trailing-stop check in
// ShouldClose depends on that.
func (p *ActivePosition) UpdateWithPrice(currentPrice float64) {
	p.LastPrice = currentPrice
	p.UpdatedAt = time.Now().UTC()

	pnlPercent := p.UnrealizedPnLPercent(currentPrice)
	if pnlPercent > p.MaxProfitPercent {
		p.MaxProfitPercent = pnlPercent
		p.MaxProfit = p.UnrealizedPnL(currentPrice)
	}
	if pnlPercent < p.MaxDrawdownPercent {
		p.MaxDrawdownPercent = pnlPercent
		p.MaxDrawdown = p.UnrealizedPnL(currentPrice)
	}
}

// ShouldClose evaluates the exit triggers in fixed priority order and returns
// the first that fires. Price-exact bounds outrank the trailing stop, and all
// three outrank the time exit, so a position is never held past a crossed
// risk bound just because its time horizon also elapsed.
//
// Call UpdateWithPrice first so the high-water mark is current for the
// trailing-stop check.
func (p *ActivePosition) ShouldClose(currentPrice float64, now time.Time) (CloseReason, bool) {
	if p.TakeProfitPrice != nil && currentPrice >= *p.TakeProfitPrice {
		return CloseReasonTakeProfit, true
	}

	if p.StopLossPrice != nil && currentPrice <= *p.StopLossPrice {
		return CloseReasonStopLoss, true
	}

	if ts := p.ExitStrategy.TrailingStop; ts != nil && p.MaxProfitPercent >= ts.ActivationPercent {
		drop := p.MaxProfitPercent - p.UnrealizedPnLPercent(currentPrice)
		if drop > ts.TrailPercent {
			return CloseReasonTrailingStop, true
		}
	}

	if p.TimeExitAt != nil && !now.Before(*p.TimeExitAt) {
		return CloseReasonTimeExit, true
	}

	return "", false
}

// MarkClosing transitions the position to Closing while the exit order is in
// flight.
func (p *ActivePosition) MarkClosing(exitOrderID string) {
	p.Status = PositionStatusClosing
	p.ExitOrderID = exitOrderID
	p.UpdatedAt = time.Now().UTC()
}

// RevertToOpen returns a Closing position to Open after a failed exit
// execution and counts the attempt.
func (p *ActivePosition) RevertToOpen() {
	p.Status = PositionStatusOpen
	p.ExitOrderID = ""
	p.CloseAttempts++
	p.UpdatedAt = time.Now().UTC()
}

// StorageKey returns the deterministic persistence key for this position.
func (p *ActivePosition) StorageKey() string {
	return PositionStorageKey(p.ID)
}

// PositionStorageKey builds the KV key for a position id.
func PositionStorageKey(id string) string {
	return "active_position:" + id
}

// CloseStatusFor maps a close reason and realized result onto the terminal
// status. Risk-forced closes are recorded as liquidations regardless of sign.
func CloseStatusFor(reason CloseReason, realizedPnL, investedSOL float64) PositionStatus {
	if reason == CloseReasonRiskLimit {
		return PositionStatusLiquidated
	}
	tol := breakevenTolerance * investedSOL
	if tol < breakevenTolerance {
		tol = breakevenTolerance
	}
	switch {
	case realizedPnL > tol:
		return PositionStatusClosedProfit
	case realizedPnL < -tol:
		return PositionStatusClosedLoss
	default:
		return PositionStatusClosedBreakeven
	}
}

// ClosedPositionRecord is the immutable log entry written when a position
// reaches a terminal state.
type ClosedPositionRecord struct {
	PositionID         string         `json:"position_id"`
	StrategyName       string         `json:"strategy_name"`
	Symbol             string         `json:"symbol"`
	TokenMint          string         `json:"token_mint"`
	EntryPrice         float64        `json:"entry_price"`
	ExitPrice          float64        `json:"exit_price"`
	AmountTokens       float64        `json:"amount_tokens"`
	AmountSOLInvested  float64        `json:"amount_sol_invested"`
	RealizedPnL        float64        `json:"realized_pnl"`
	RealizedPnLPercent float64        `json:"realized_pnl_percent"`
	Reason             CloseReason    `json:"reason"`
	Status             PositionStatus `json:"status"`
	MaxProfitPercent   float64        `json:"max_profit_percent"`
	MaxDrawdownPercent float64        `json:"max_drawdown_percent"`
	OpenedAt           time.Time      `json:"opened_at"`
	ClosedAt           time.Time      `json:"closed_at"`
	ExitTxSignature    string         `json:"exit_tx_signature,omitempty"`
}

// HoldDuration returns how long the position was open.
func (r ClosedPositionRecord) HoldDuration() time.Duration {
	return r.ClosedAt.Sub(r.OpenedAt)
}

// PositionStats summarizes the open set for status reporting.
type PositionStats struct {
	TotalPositions         int            `json:"total_positions"`
	TotalInvestedSOL       float64        `json:"total_invested_sol"`
	StrategyBreakdown      map[string]int `json:"strategy_breakdown"`
	OldestPositionAgeHours float64        `json:"oldest_position_age_hours"`
}
