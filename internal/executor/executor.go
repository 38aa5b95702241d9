package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

// RiskGate is the pre-trade risk surface the executor consults before
// committing capital. Implemented by service.RiskManager.
type RiskGate interface {
	AssessSignalWithAI(ctx context.Context, sig domain.TradeSignal, portfolio domain.Portfolio, rec *domain.AIRecommendation) domain.RiskAssessment
	ValidateOrder(ctx context.Context, order domain.Order, portfolio domain.Portfolio) (bool, error)
}

// PortfolioView supplies the point-in-time snapshot risk checks run against.
// Implemented by service.PortfolioTracker.
type PortfolioView interface {
	Snapshot() domain.Portfolio
}

// PositionOpener admits a filled entry into lifecycle management.
// Implemented by service.PositionManager.
type PositionOpener interface {
	OpenPosition(ctx context.Context, sig domain.TradeSignal, fill domain.ExecutionResult) (*domain.ActivePosition, error)
}

// Advisor is an optional second opinion consulted before sizing. A nil
// Advisor runs the pipeline purely rule-based; an Advisor error degrades to
// the same.
type Advisor interface {
	Analyze(ctx context.Context, sig domain.TradeSignal, portfolio domain.Portfolio) (*domain.AIRecommendation, error)
}

// Alerter delivers operator notifications for pipeline outcomes.
// notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Options carries the trade parameters stamped onto every order and the
// pipeline's timing knobs.
type Options struct {
	MaxSlippageBps      int
	PriorityFeeLamports uint64
	DedupTTL            time.Duration
	ExecutionTimeout    time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxSlippageBps <= 0 {
		o.MaxSlippageBps = 300
	}
	if o.DedupTTL <= 0 {
		o.DedupTTL = 2 * time.Minute
	}
	if o.ExecutionTimeout <= 0 {
		o.ExecutionTimeout = 10 * time.Second
	}
	return o
}

// Executor reads trade signals from a channel and runs each through the
// entry pipeline: dedup, expiry, risk assessment, sizing, order validation,
// submission to the execution backend, then handing the fill to the position
// manager. Exits never pass through here; the position manager sells
// directly against the backend.
type Executor struct {
	signalCh  <-chan domain.TradeSignal
	backend   domain.ExecutionBackend
	risk      RiskGate
	portfolio PortfolioView
	positions PositionOpener
	advisor   Advisor
	alerter   Alerter
	dedup     *Dedup
	opts      Options
	logger    *slog.Logger

	cleanupInterval time.Duration
}

// NewExecutor creates an Executor that reads signals from signalCh,
// validates them through risk against portfolio snapshots, and submits
// orders via backend. advisor may be nil.
func NewExecutor(
	signalCh <-chan domain.TradeSignal,
	backend domain.ExecutionBackend,
	risk RiskGate,
	portfolio PortfolioView,
	positions PositionOpener,
	advisor Advisor,
	opts Options,
	logger *slog.Logger,
) *Executor {
	opts = opts.withDefaults()
	return &Executor{
		signalCh:        signalCh,
		backend:         backend,
		risk:            risk,
		portfolio:       portfolio,
		positions:       positions,
		advisor:         advisor,
		dedup:           NewDedup(opts.DedupTTL),
		opts:            opts,
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: 30 * time.Second,
	}
}

// Run starts the executor's main loop. It processes signals until the
// context is cancelled, at which point it drains any remaining signals in
// the channel and returns.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started", slog.String("backend", e.backend.Name()))
	defer e.logger.Info("executor stopped")

	cleanupTicker := time.NewTicker(e.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()

		case sig, ok := <-e.signalCh:
			if !ok {
				// Channel closed; shut down.
				return nil
			}
			e.process(ctx, sig)

		case <-cleanupTicker.C:
			e.dedup.Cleanup()
		}
	}
}

// process runs a single trade signal through the full validation and
// execution pipeline.
func (e *Executor) process(ctx context.Context, sig domain.TradeSignal) {
	log := e.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("strategy", sig.Strategy),
		slog.String("mint", sig.TokenMint),
		slog.String("side", string(sig.Side)),
	)

	// 1. Deduplication on the logical key, not the signal ID: the same
	// strategy re-firing on the same mint within the TTL is one entry.
	if e.dedup.IsDuplicate(sig.DedupKey()) {
		log.Debug("signal deduplicated, skipping")
		return
	}

	// 2. Expiry check.
	if sig.Expired(time.Now().UTC()) {
		log.Warn("signal expired, skipping",
			slog.Time("expires_at", sig.ExpiresAt),
		)
		return
	}

	// 3. Only entries flow through the executor. Sell signals would bypass
	// position accounting, so they are refused here.
	if sig.Side != domain.OrderSideBuy {
		log.Warn("non-entry signal on executor channel, skipping")
		return
	}

	portfolio := e.portfolio.Snapshot()

	// 4. Optional advisor opinion, then the risk assessment. Advisor
	// failures degrade to rule-based assessment rather than blocking.
	var rec *domain.AIRecommendation
	if e.advisor != nil {
		r, err := e.advisor.Analyze(ctx, sig, portfolio)
		if err != nil {
			log.Warn("advisor unavailable, continuing rule-based",
				slog.String("error", err.Error()),
			)
		} else {
			rec = r
		}
	}

	assessment := e.risk.AssessSignalWithAI(ctx, sig, portfolio, rec)
	if !assessment.Approved {
		log.Warn("signal rejected by risk",
			slog.Float64("risk_score", assessment.RiskScore),
			slog.Any("warnings", assessment.Warnings),
		)
		e.alert(ctx, "risk_rejected", "Signal Rejected",
			fmt.Sprintf("%s %s: risk score %.2f", sig.Strategy, sig.Symbol, assessment.RiskScore))
		return
	}
	for _, w := range assessment.Warnings {
		log.Warn("risk warning", slog.String("warning", w))
	}

	// 5. Build the order at the risk-suggested size and validate it against
	// balance, per-order limits, and the circuit breaker.
	order := domain.Order{
		ID:                  uuid.New().String(),
		Symbol:              sig.Symbol,
		TokenMint:           sig.TokenMint,
		Side:                sig.Side,
		Type:                domain.OrderTypeMarket,
		Size:                assessment.SuggestedSize,
		Price:               sig.Price,
		MaxSlippageBps:      e.opts.MaxSlippageBps,
		PriorityFeeLamports: e.opts.PriorityFeeLamports,
		Strategy:            sig.Strategy,
		Status:              domain.OrderStatusPending,
		CreatedAt:           time.Now().UTC(),
	}

	ok, err := e.risk.ValidateOrder(ctx, order, portfolio)
	if err != nil {
		log.Warn("order validation failed, skipping",
			slog.String("error", err.Error()),
		)
		return
	}
	if !ok {
		log.Warn("order declined by circuit breaker")
		return
	}

	// 6. Submit. One retry after a short pause; entries are opportunistic,
	// so anything beyond that lets the signal go.
	result, err := e.submit(ctx, order)
	if err != nil {
		log.Error("order submission failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		result, err = e.retryOrder(ctx, sig, order, log)
		if err != nil {
			e.alert(ctx, "execution_failed", "Order Failed",
				fmt.Sprintf("%s %s: %v", sig.Strategy, sig.Symbol, err))
			return
		}
	}

	if !result.Success {
		log.Warn("order rejected by backend",
			slog.String("order_id", order.ID),
			slog.String("message", result.Err),
		)
		e.alert(ctx, "execution_failed", "Order Rejected",
			fmt.Sprintf("%s %s: %s", sig.Strategy, sig.Symbol, result.Err))
		return
	}

	// 7. Hand the fill to the position manager.
	pos, err := e.positions.OpenPosition(ctx, sig, result)
	if err != nil {
		if errors.Is(err, domain.ErrRiskLimitExceeded) {
			log.Warn("fill not admitted, position cap reached",
				slog.String("tx", result.TxSignature),
			)
			return
		}
		log.Error("fill could not be admitted",
			slog.String("tx", result.TxSignature),
			slog.String("error", err.Error()),
		)
		return
	}

	log.Info("position opened",
		slog.String("position_id", pos.ID),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("tokens", pos.AmountTokens),
		slog.Float64("invested_sol", pos.AmountSOLInvested),
	)
}

// submit runs one backend execution bounded by the configured timeout.
func (e *Executor) submit(ctx context.Context, order domain.Order) (domain.ExecutionResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.opts.ExecutionTimeout)
	defer cancel()
	return e.backend.ExecuteOrder(execCtx, order)
}

// retryOrder makes a single retry attempt for a failed submission after a
// short pause, re-checking expiry first.
func (e *Executor) retryOrder(ctx context.Context, sig domain.TradeSignal, order domain.Order, log *slog.Logger) (domain.ExecutionResult, error) {
	if sig.Expired(time.Now().UTC()) {
		log.Warn("signal expired during retry, giving up")
		return domain.ExecutionResult{}, fmt.Errorf("executor: signal %s expired before retry", sig.ID)
	}

	select {
	case <-ctx.Done():
		return domain.ExecutionResult{}, ctx.Err()
	case <-time.After(500 * time.Millisecond):
	}

	result, err := e.submit(ctx, order)
	if err != nil {
		log.Error("retry submission failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		return domain.ExecutionResult{}, err
	}

	log.Info("retry submission succeeded", slog.String("order_id", order.ID))
	return result, nil
}

// drain processes any signals already buffered in the channel after context
// cancellation so in-flight signals are not silently dropped.
func (e *Executor) drain() {
	for {
		select {
		case sig, ok := <-e.signalCh:
			if !ok {
				return
			}
			e.logger.Warn("draining signal after shutdown",
				slog.String("signal_id", sig.ID),
			)
			// Short-lived context so draining never hangs shutdown on
			// external calls.
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.process(drainCtx, sig)
			cancel()
		default:
			return
		}
	}
}

// alert delivers an operator notification when an alerter is configured.
func (e *Executor) alert(ctx context.Context, event, title, message string) {
	if e.alerter == nil {
		return
	}
	if err := e.alerter.Notify(ctx, event, title, message); err != nil {
		e.logger.Warn("notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// SetAlerter attaches an operator notification channel. Must be called
// before Run.
func (e *Executor) SetAlerter(a Alerter) {
	e.alerter = a
}

// SetDedupTTL replaces the dedup instance with a new one using the given
// TTL. Useful for testing or runtime reconfiguration.
func (e *Executor) SetDedupTTL(ttl time.Duration) {
	e.dedup = NewDedup(ttl)
}

// SetCleanupInterval changes how often the dedup map is garbage-collected.
// Must be called before Run.
func (e *Executor) SetCleanupInterval(d time.Duration) {
	e.cleanupInterval = d
}
