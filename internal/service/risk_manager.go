// Package service contains the trading core: the risk gate every signal
// passes through, the position manager that owns the open set, and the
// portfolio tracker that keeps account state current.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

// Alerter delivers operator notifications. notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// RiskManagerConfig holds the portfolio-level limits the risk gate enforces.
type RiskManagerConfig struct {
	GlobalMaxExposure       float64
	MaxDailyLoss            float64
	MaxDrawdown             float64
	PositionSizing          string
	CircuitBreakerThreshold float64
	EmergencyStopEnabled    bool
	Limits                  domain.PositionLimits
}

// RiskManager is the stateful gatekeeper for every proposed trade. It holds
// the daily PnL counter, the worst observed drawdown, and the emergency-stop
// flag, all guarded by a single mutex so assessments never read half-updated
// counters.
type RiskManager struct {
	mu                  sync.Mutex
	cfg                 RiskManagerConfig
	dailyPnL            float64
	maxDrawdownReached  float64
	emergencyStop       bool
	emergencyStopReason string

	events  domain.RiskEventStore
	alerter Alerter
	logger  *slog.Logger
}

// RiskStatus is a point-in-time view of the risk state for reporting.
type RiskStatus struct {
	DailyPnL            float64               `json:"daily_pnl"`
	MaxDrawdownReached  float64               `json:"max_drawdown_reached"`
	EmergencyStopActive bool                  `json:"emergency_stop_active"`
	EmergencyStopReason string                `json:"emergency_stop_reason,omitempty"`
	Limits              domain.PositionLimits `json:"limits"`
}

// NewRiskManager creates a RiskManager. events and alerter may be nil; the
// manager then skips audit rows and operator notifications but still
// enforces every limit.
func NewRiskManager(cfg RiskManagerConfig, events domain.RiskEventStore, alerter Alerter, logger *slog.Logger) *RiskManager {
	if cfg.Limits == (domain.PositionLimits{}) {
		cfg.Limits = domain.DefaultPositionLimits()
	}
	if cfg.PositionSizing == "" {
		cfg.PositionSizing = "percentage"
	}
	return &RiskManager{
		cfg:     cfg,
		events:  events,
		alerter: alerter,
		logger:  logger.With(slog.String("component", "risk_manager")),
	}
}

// AssessSignal evaluates a trade signal against the portfolio and the risk
// counters. The veto chain is ordered; the first failing check rejects with
// its reason as the leading warning. Signals that pass get a suggested size,
// pre-trade stop/target bands around the signal price, and a composite risk
// score. The bands are a sanity envelope for order placement, not the exit
// policy the position will carry.
func (r *RiskManager) AssessSignal(ctx context.Context, sig domain.TradeSignal, portfolio domain.Portfolio) domain.RiskAssessment {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.emergencyStop {
		return r.reject(ctx, sig, "Emergency stop active")
	}
	if r.dailyPnL <= -r.cfg.MaxDailyLoss {
		return r.reject(ctx, sig,
			fmt.Sprintf("Daily loss limit exceeded: %v <= -%v", r.dailyPnL, r.cfg.MaxDailyLoss))
	}
	if r.maxDrawdownReached >= r.cfg.MaxDrawdown {
		return r.reject(ctx, sig,
			fmt.Sprintf("Max drawdown exceeded: %.4f >= %.4f", r.maxDrawdownReached, r.cfg.MaxDrawdown))
	}

	exposure := portfolio.Exposure()
	if exposure >= r.cfg.GlobalMaxExposure {
		return r.reject(ctx, sig,
			fmt.Sprintf("Portfolio exposure limit reached: %.4f >= %.4f", exposure, r.cfg.GlobalMaxExposure))
	}

	assessment := domain.RiskAssessment{
		Approved:      true,
		SuggestedSize: r.suggestedSize(sig, portfolio),
		RiskScore:     r.riskScore(sig, exposure, portfolio.TotalValue),
	}

	stopLoss, takeProfit := preTradeBands(sig)
	assessment.StopLoss = &stopLoss
	assessment.TakeProfit = &takeProfit

	switch {
	case assessment.RiskScore > 0.9:
		assessment.Approved = false
		assessment.Warnings = append(assessment.Warnings, "Risk score too high for execution")
	case assessment.RiskScore > 0.8:
		assessment.Warnings = append(assessment.Warnings,
			fmt.Sprintf("High risk score: %.2f", assessment.RiskScore))
	case assessment.RiskScore > 0.6:
		assessment.Warnings = append(assessment.Warnings,
			fmt.Sprintf("Medium risk score: %.2f", assessment.RiskScore))
	}

	if !assessment.Approved {
		r.logEvent(ctx, domain.RiskEventSignalRejected, map[string]any{
			"strategy":   sig.Strategy,
			"token_mint": sig.TokenMint,
			"reason":     assessment.Warnings[0],
			"risk_score": assessment.RiskScore,
		})
	}

	return assessment
}

// AssessSignalWithAI blends an external advisory recommendation into the base
// assessment. A nil recommendation degrades to the base assessment with a
// logged warning; the advisory layer must never block trading by being
// absent.
func (r *RiskManager) AssessSignalWithAI(ctx context.Context, sig domain.TradeSignal, portfolio domain.Portfolio, rec *domain.AIRecommendation) domain.RiskAssessment {
	base := r.AssessSignal(ctx, sig, portfolio)
	if rec == nil {
		r.logger.WarnContext(ctx, "no ai recommendation available, using base assessment",
			slog.String("strategy", sig.Strategy),
			slog.String("token_mint", sig.TokenMint),
		)
		return base
	}
	if !base.Approved {
		return base
	}

	assessment := base
	assessment.RiskScore = math.Min(1.0, 0.6*base.RiskScore+0.4*rec.RiskScore)

	if rec.Confidence < 0.5 {
		factor := math.Max(rec.Confidence, 0.2)
		assessment.SuggestedSize *= factor
		assessment.Warnings = append(assessment.Warnings,
			fmt.Sprintf("Low AI confidence %.2f: suggested size reduced", rec.Confidence))
	}

	switch rec.Action {
	case domain.AIActionReject:
		assessment.Approved = false
		assessment.Warnings = append(assessment.Warnings, "AI recommends against this trade")
	case domain.AIActionHold:
		if rec.Confidence > 0.8 {
			assessment.Approved = false
			assessment.Warnings = append(assessment.Warnings, "AI recommends holding with high confidence")
		}
	}

	if rec.StopLossPrice != nil {
		assessment.StopLoss = rec.StopLossPrice
	}
	if rec.TargetPrice != nil {
		assessment.TakeProfit = rec.TargetPrice
	}

	if assessment.RiskScore > 0.85 {
		assessment.Approved = false
		assessment.Warnings = append(assessment.Warnings, "Risk score too high after AI integration")
	} else if assessment.RiskScore > 0.7 {
		assessment.Warnings = append(assessment.Warnings,
			fmt.Sprintf("Elevated risk score after AI integration: %.2f", assessment.RiskScore))
	}

	if !assessment.Approved {
		r.logEvent(ctx, domain.RiskEventSignalRejected, map[string]any{
			"strategy":   sig.Strategy,
			"token_mint": sig.TokenMint,
			"reason":     assessment.Warnings[len(assessment.Warnings)-1],
			"risk_score": assessment.RiskScore,
			"ai":         true,
		})
	}

	return assessment
}

// ValidateOrder is the last check before submission, catching balance and
// limit drift between signal approval and execution. A tripped circuit
// breaker returns (false, nil): the order is declined without being an
// error.
func (r *RiskManager) ValidateOrder(ctx context.Context, order domain.Order, portfolio domain.Portfolio) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	required := order.Size * order.Price
	if required > portfolio.AvailableBalance {
		r.logEvent(ctx, domain.RiskEventOrderRejected, map[string]any{
			"order_id":  order.ID,
			"required":  required,
			"available": portfolio.AvailableBalance,
		})
		return false, fmt.Errorf("risk_manager: validate order %s: %w", order.ID,
			&domain.InsufficientBalanceError{Required: required, Available: portfolio.AvailableBalance})
	}

	if order.Size > r.cfg.Limits.MaxPositionSize {
		r.logEvent(ctx, domain.RiskEventOrderRejected, map[string]any{
			"order_id": order.ID,
			"size":     order.Size,
			"max_size": r.cfg.Limits.MaxPositionSize,
		})
		return false, fmt.Errorf("risk_manager: order size %.4f exceeds max position size %.4f: %w",
			order.Size, r.cfg.Limits.MaxPositionSize, domain.ErrRiskLimitExceeded)
	}

	if r.cfg.EmergencyStopEnabled && portfolio.TotalValue > 0 {
		lossPct := -r.dailyPnL / portfolio.TotalValue
		if lossPct >= r.cfg.CircuitBreakerThreshold {
			r.logger.WarnContext(ctx, "circuit breaker tripped",
				slog.Float64("daily_loss_pct", lossPct),
				slog.Float64("threshold", r.cfg.CircuitBreakerThreshold),
			)
			r.logEvent(ctx, domain.RiskEventCircuitBreaker, map[string]any{
				"order_id":       order.ID,
				"daily_loss_pct": lossPct,
				"threshold":      r.cfg.CircuitBreakerThreshold,
			})
			return false, nil
		}
	}

	return true, nil
}

// UpdateDailyPnL accumulates a realized result into the daily counter.
func (r *RiskManager) UpdateDailyPnL(delta float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dailyPnL += delta
	if r.dailyPnL <= -r.cfg.MaxDailyLoss {
		r.logger.Warn("daily loss limit reached",
			slog.Float64("daily_pnl", r.dailyPnL),
			slog.Float64("max_daily_loss", r.cfg.MaxDailyLoss),
		)
	}
}

// UpdateDrawdown records an observed portfolio drawdown fraction. The stored
// value only ever rises; recoveries do not reset it until the next daily
// reset.
func (r *RiskManager) UpdateDrawdown(drawdown float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if drawdown > r.maxDrawdownReached {
		r.maxDrawdownReached = drawdown
	}
	if r.maxDrawdownReached >= r.cfg.MaxDrawdown {
		r.logger.Error("max drawdown limit reached",
			slog.Float64("drawdown", r.maxDrawdownReached),
			slog.Float64("max_drawdown", r.cfg.MaxDrawdown),
		)
	}
}

// TriggerEmergencyStop halts all new trading until ResetEmergencyStop.
func (r *RiskManager) TriggerEmergencyStop(ctx context.Context, reason string) {
	r.mu.Lock()
	alreadyActive := r.emergencyStop
	r.emergencyStop = true
	r.emergencyStopReason = reason
	r.mu.Unlock()

	if alreadyActive {
		return
	}

	r.logger.ErrorContext(ctx, "emergency stop triggered", slog.String("reason", reason))
	r.logEvent(ctx, domain.RiskEventEmergencyStop, map[string]any{"reason": reason})
	if r.alerter != nil {
		if err := r.alerter.Notify(ctx, "emergency_stop", "Emergency Stop",
			fmt.Sprintf("Trading halted: %s", reason)); err != nil {
			r.logger.WarnContext(ctx, "emergency stop notification failed", slog.String("error", err.Error()))
		}
	}
}

// ResetEmergencyStop re-enables trading. This is an operator decision; there
// is no automatic reset timer.
func (r *RiskManager) ResetEmergencyStop(ctx context.Context) {
	r.mu.Lock()
	wasActive := r.emergencyStop
	r.emergencyStop = false
	r.emergencyStopReason = ""
	r.mu.Unlock()

	if !wasActive {
		return
	}
	r.logger.InfoContext(ctx, "emergency stop reset")
	r.logEvent(ctx, domain.RiskEventEmergencyStopClear, nil)
}

// IsEmergencyStopActive reports whether the stop flag is set.
func (r *RiskManager) IsEmergencyStopActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emergencyStop
}

// ResetDaily zeroes the daily PnL counter and the drawdown high-water mark.
// Invoked by an external scheduler at the day boundary, never by an internal
// timer.
func (r *RiskManager) ResetDaily(ctx context.Context) {
	r.mu.Lock()
	previous := r.dailyPnL
	r.dailyPnL = 0
	r.maxDrawdownReached = 0
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "daily risk counters reset", slog.Float64("previous_daily_pnl", previous))
	r.logEvent(ctx, domain.RiskEventDailyReset, map[string]any{"previous_daily_pnl": previous})
}

// Status returns a snapshot of the risk state.
func (r *RiskManager) Status() RiskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RiskStatus{
		DailyPnL:            r.dailyPnL,
		MaxDrawdownReached:  r.maxDrawdownReached,
		EmergencyStopActive: r.emergencyStop,
		EmergencyStopReason: r.emergencyStopReason,
		Limits:              r.cfg.Limits,
	}
}

// LogEvent appends a row to the risk audit trail on behalf of collaborators
// (e.g. the position manager recording a forced close).
func (r *RiskManager) LogEvent(ctx context.Context, event string, detail map[string]any) {
	r.logEvent(ctx, event, detail)
}

// reject builds a rejection assessment and records it. Caller holds r.mu.
func (r *RiskManager) reject(ctx context.Context, sig domain.TradeSignal, reason string) domain.RiskAssessment {
	r.logger.WarnContext(ctx, "signal rejected",
		slog.String("strategy", sig.Strategy),
		slog.String("token_mint", sig.TokenMint),
		slog.String("reason", reason),
	)
	r.logEvent(ctx, domain.RiskEventSignalRejected, map[string]any{
		"strategy":   sig.Strategy,
		"token_mint": sig.TokenMint,
		"reason":     reason,
	})
	return domain.RiskAssessment{
		Approved:  false,
		RiskScore: 1.0,
		Warnings:  []string{reason},
	}
}

// suggestedSize applies the configured sizing method. Caller holds r.mu.
func (r *RiskManager) suggestedSize(sig domain.TradeSignal, portfolio domain.Portfolio) float64 {
	switch r.cfg.PositionSizing {
	case "fixed":
		return sig.Size
	case "volatility_adjusted":
		base := percentageSize(sig, portfolio)
		if sig.Strength > 0 {
			return base * (1.0 / sig.Strength)
		}
		return base
	default: // percentage
		return percentageSize(sig, portfolio)
	}
}

// percentageSize allocates 2% of total portfolio value at the signal price.
func percentageSize(sig domain.TradeSignal, portfolio domain.Portfolio) float64 {
	if sig.Price <= 0 {
		return sig.Size
	}
	return 0.02 * portfolio.TotalValue / sig.Price
}

// preTradeBands returns the 2% stop / 4% target envelope around the signal
// price, mirrored for sells.
func preTradeBands(sig domain.TradeSignal) (stopLoss, takeProfit float64) {
	if sig.Side == domain.OrderSideSell {
		return sig.Price * 1.02, sig.Price * 0.96
	}
	return sig.Price * 0.98, sig.Price * 1.04
}

// riskScore combines signal conviction, portfolio concentration, drawdown
// proximity, and daily-loss proximity into a [0,1] composite. Caller holds
// r.mu.
func (r *RiskManager) riskScore(sig domain.TradeSignal, exposure, totalValue float64) float64 {
	var concentration float64
	if totalValue > 0 {
		concentration = exposure / totalValue
	}
	var drawdownTerm float64
	if r.cfg.MaxDrawdown > 0 {
		drawdownTerm = r.maxDrawdownReached / r.cfg.MaxDrawdown
	}
	var lossTerm float64
	if r.cfg.MaxDailyLoss > 0 {
		lossTerm = math.Max(0, -r.dailyPnL/r.cfg.MaxDailyLoss)
	}

	score := 0.3*(1.0-sig.Strength) + 0.3*concentration + 0.2*drawdownTerm + 0.2*lossTerm
	return math.Min(score, 1.0)
}

// logEvent appends to the audit trail. It reads no manager state, so it is
// safe with or without r.mu held.
func (r *RiskManager) logEvent(ctx context.Context, event string, detail map[string]any) {
	if r.events == nil {
		return
	}
	if err := r.events.Log(ctx, event, detail); err != nil {
		r.logger.WarnContext(ctx, "risk event log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
