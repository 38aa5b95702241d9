package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

// PositionManagerConfig tunes the monitor loop and exit retry behavior.
type PositionManagerConfig struct {
	MonitorInterval   time.Duration
	ExecutionTimeout  time.Duration
	MaxCloseAttempts  int
	CloseRetryBackoff time.Duration
	MaxOpenPositions  int
}

func (c PositionManagerConfig) withDefaults() PositionManagerConfig {
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 2 * time.Second
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = 10 * time.Second
	}
	if c.MaxCloseAttempts <= 0 {
		c.MaxCloseAttempts = 3
	}
	if c.CloseRetryBackoff <= 0 {
		c.CloseRetryBackoff = 5 * time.Second
	}
	return c
}

// PositionManager is the sole writer of position state. The open set lives
// in memory and is write-through persisted to the KV store; every close is
// appended to the durable closed-position log.
//
// Locking: mu guards the open set and all position mutation. storeMu
// serializes KV writes against the close path so a watermark save can never
// land after the position's KV delete and resurrect it. storeMu is always
// taken before mu, never inside it.
type PositionManager struct {
	mu        sync.RWMutex
	positions map[string]*domain.ActivePosition
	retryAt   map[string]time.Time

	storeMu sync.Mutex

	store   domain.PositionStore
	closed  domain.ClosedPositionStore
	prices  domain.PriceCache
	backend domain.ExecutionBackend
	risk    *RiskManager
	tracker *PortfolioTracker
	bus     domain.SignalBus
	alerter Alerter
	cfg     PositionManagerConfig
	logger  *slog.Logger
}

// NewPositionManager creates a PositionManager. risk, tracker, bus and
// alerter may be nil; the manager then skips the corresponding side effects.
func NewPositionManager(
	store domain.PositionStore,
	closed domain.ClosedPositionStore,
	prices domain.PriceCache,
	backend domain.ExecutionBackend,
	risk *RiskManager,
	tracker *PortfolioTracker,
	bus domain.SignalBus,
	alerter Alerter,
	cfg PositionManagerConfig,
	logger *slog.Logger,
) *PositionManager {
	return &PositionManager{
		positions: make(map[string]*domain.ActivePosition),
		retryAt:   make(map[string]time.Time),
		store:     store,
		closed:    closed,
		prices:    prices,
		backend:   backend,
		risk:      risk,
		tracker:   tracker,
		bus:       bus,
		alerter:   alerter,
		cfg:       cfg.withDefaults(),
		logger:    logger.With(slog.String("component", "position_manager")),
	}
}

// OpenPosition builds a position from an approved signal and its entry fill,
// reserves the invested capital, and persists the position. Any failure
// after the reservation releases it; a failed persist also removes the
// position from the open set, so no partial open survives.
func (m *PositionManager) OpenPosition(ctx context.Context, sig domain.TradeSignal, fill domain.ExecutionResult) (*domain.ActivePosition, error) {
	pos, err := domain.PositionFromFill(uuid.NewString(), sig, fill)
	if err != nil {
		return nil, fmt.Errorf("position_manager: open: %w", err)
	}

	if m.tracker != nil {
		if err := m.tracker.Reserve(pos.AmountSOLInvested); err != nil {
			return nil, fmt.Errorf("position_manager: open %s: %w", pos.ID, err)
		}
	}

	m.mu.Lock()
	if m.cfg.MaxOpenPositions > 0 && len(m.positions) >= m.cfg.MaxOpenPositions {
		m.mu.Unlock()
		if m.tracker != nil {
			m.tracker.Release(pos.AmountSOLInvested)
		}
		return nil, fmt.Errorf("position_manager: open %s: open position limit %d reached: %w",
			pos.ID, m.cfg.MaxOpenPositions, domain.ErrRiskLimitExceeded)
	}
	m.positions[pos.ID] = pos
	m.mu.Unlock()

	if err := m.savePosition(ctx, pos); err != nil {
		m.mu.Lock()
		delete(m.positions, pos.ID)
		m.mu.Unlock()
		if m.tracker != nil {
			m.tracker.Release(pos.AmountSOLInvested)
		}
		m.logger.ErrorContext(ctx, "position persist failed, open rolled back",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("position_manager: open %s: %w", pos.ID, domain.ErrPersistenceFailure)
	}

	m.publish(ctx, map[string]any{
		"event":        "position_opened",
		"position_id":  pos.ID,
		"symbol":       pos.Symbol,
		"token_mint":   pos.TokenMint,
		"strategy":     pos.StrategyName,
		"entry_price":  pos.EntryPrice,
		"amount_sol":   pos.AmountSOLInvested,
		"amount_token": pos.AmountTokens,
	})
	m.alert(ctx, "position_opened", "Position Opened",
		fmt.Sprintf("%s (%s): %.6f SOL at %.9f", pos.Symbol, pos.StrategyName, pos.AmountSOLInvested, pos.EntryPrice))

	m.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("strategy", pos.StrategyName),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("amount_tokens", pos.AmountTokens),
		slog.Float64("amount_sol", pos.AmountSOLInvested),
	)

	opened := *pos
	return &opened, nil
}

// OnPriceTick applies a fresh price to every open position on the mint,
// advances water marks, and initiates closes for positions whose exit
// condition fired. Positions in exit-retry backoff or past the attempt
// limit are left alone.
func (m *PositionManager) OnPriceTick(ctx context.Context, tokenMint string, price float64) {
	if price <= 0 {
		return
	}
	now := time.Now().UTC()

	type pendingClose struct {
		id     string
		reason domain.CloseReason
	}
	var closes []pendingClose
	var dirty []domain.ActivePosition

	m.mu.Lock()
	for id, pos := range m.positions {
		if pos.TokenMint != tokenMint || pos.Status != domain.PositionStatusOpen {
			continue
		}
		prevHigh, prevLow := pos.MaxProfitPercent, pos.MaxDrawdownPercent
		pos.UpdateWithPrice(price)
		if pos.MaxProfitPercent != prevHigh || pos.MaxDrawdownPercent != prevLow {
			dirty = append(dirty, *pos)
		}
		if pos.CloseAttempts >= m.cfg.MaxCloseAttempts {
			continue
		}
		if at, ok := m.retryAt[id]; ok && now.Before(at) {
			continue
		}
		if reason, shouldClose := pos.ShouldClose(price, now); shouldClose {
			closes = append(closes, pendingClose{id: id, reason: reason})
		}
	}
	m.mu.Unlock()

	m.persistWatermarks(ctx, dirty)

	for _, c := range closes {
		if _, err := m.initiateClose(ctx, c.id, c.reason); err != nil {
			m.logger.ErrorContext(ctx, "exit attempt failed",
				slog.String("position_id", c.id),
				slog.String("reason", string(c.reason)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ClosePosition finalizes a close at the given exit price: removes the
// position from the open set and the KV store, appends the closed-position
// record, credits the exit proceeds, and feeds the realized result to the
// risk counters. A second close of the same id returns ErrPositionNotFound
// and changes nothing; a failed KV delete rolls the removal back and
// returns ErrPersistenceFailure.
func (m *PositionManager) ClosePosition(ctx context.Context, id string, exitPrice float64, reason domain.CloseReason) (domain.ClosedPositionRecord, error) {
	m.storeMu.Lock()
	m.mu.Lock()
	pos, ok := m.positions[id]
	if !ok {
		m.mu.Unlock()
		m.storeMu.Unlock()
		m.logger.WarnContext(ctx, "close requested for unknown position", slog.String("position_id", id))
		return domain.ClosedPositionRecord{}, fmt.Errorf("position_manager: close %s: %w", id, domain.ErrPositionNotFound)
	}
	delete(m.positions, id)
	delete(m.retryAt, id)
	m.mu.Unlock()

	if err := m.store.Delete(ctx, id); err != nil {
		m.mu.Lock()
		pos.Status = domain.PositionStatusOpen
		pos.ExitOrderID = ""
		m.positions[id] = pos
		m.mu.Unlock()
		m.storeMu.Unlock()
		m.logger.ErrorContext(ctx, "position removal not persisted, close rolled back",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		return domain.ClosedPositionRecord{}, fmt.Errorf("position_manager: close %s: %w", id, domain.ErrPersistenceFailure)
	}
	m.storeMu.Unlock()

	realized := pos.UnrealizedPnL(exitPrice)
	realizedPct := pos.UnrealizedPnLPercent(exitPrice)
	proceeds := pos.CurrentValue(exitPrice)
	status := domain.CloseStatusFor(reason, realized, pos.AmountSOLInvested)
	closedAt := time.Now().UTC()

	pos.Status = status
	pos.LastPrice = exitPrice
	pos.UpdatedAt = closedAt

	rec := domain.ClosedPositionRecord{
		PositionID:         pos.ID,
		StrategyName:       pos.StrategyName,
		Symbol:             pos.Symbol,
		TokenMint:          pos.TokenMint,
		EntryPrice:         pos.EntryPrice,
		ExitPrice:          exitPrice,
		AmountTokens:       pos.AmountTokens,
		AmountSOLInvested:  pos.AmountSOLInvested,
		RealizedPnL:        realized,
		RealizedPnLPercent: realizedPct,
		Reason:             reason,
		Status:             status,
		MaxProfitPercent:   pos.MaxProfitPercent,
		MaxDrawdownPercent: pos.MaxDrawdownPercent,
		OpenedAt:           pos.OpenedAt,
		ClosedAt:           closedAt,
		ExitTxSignature:    pos.ExitTxSignature,
	}

	if m.closed != nil {
		// The position is already out of the open set and the proceeds must
		// still be credited, so a history write failure is logged loudly
		// instead of failing the close.
		if err := m.closed.Append(ctx, rec); err != nil {
			m.logger.ErrorContext(ctx, "closed position log append failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if m.tracker != nil {
		m.tracker.ApplyClose(proceeds, realized)
	}
	if m.risk != nil {
		m.risk.UpdateDailyPnL(realized)
		if m.tracker != nil {
			m.risk.UpdateDrawdown(m.tracker.Drawdown())
		}
		if reason == domain.CloseReasonRiskLimit {
			m.risk.LogEvent(ctx, domain.RiskEventForcedClose, map[string]any{
				"position_id":  pos.ID,
				"symbol":       pos.Symbol,
				"realized_pnl": realized,
			})
		}
	}

	m.publish(ctx, map[string]any{
		"event":        "position_closed",
		"position_id":  pos.ID,
		"symbol":       pos.Symbol,
		"reason":       string(reason),
		"status":       string(status),
		"exit_price":   exitPrice,
		"realized_pnl": realized,
	})
	m.alert(ctx, "position_closed", "Position Closed",
		fmt.Sprintf("%s %s: %.6f SOL (%.2f%%) via %s", pos.Symbol, status, realized, realizedPct, reason))

	m.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("reason", string(reason)),
		slog.String("status", string(status)),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("realized_pnl", realized),
		slog.Float64("realized_pnl_percent", realizedPct),
		slog.Duration("held", rec.HoldDuration()),
	)

	return rec, nil
}

// CloseManually runs the full exit path for one position regardless of
// retry backoff or the attempt limit: operators can always force a close.
// An empty reason defaults to manual.
func (m *PositionManager) CloseManually(ctx context.Context, id string, reason domain.CloseReason) (domain.ClosedPositionRecord, error) {
	if reason == "" {
		reason = domain.CloseReasonManual
	}
	return m.initiateClose(ctx, id, reason)
}

// initiateClose drives the exit round-trip: mark Closing, persist, submit
// the sell with a bounded timeout, then finalize through ClosePosition. On
// execution failure the position reverts to Open with the attempt counted
// and a retry scheduled; once the attempt limit is reached the manager
// stops retrying and alerts the operator.
func (m *PositionManager) initiateClose(ctx context.Context, id string, reason domain.CloseReason) (domain.ClosedPositionRecord, error) {
	m.mu.Lock()
	pos, ok := m.positions[id]
	if !ok {
		m.mu.Unlock()
		return domain.ClosedPositionRecord{}, fmt.Errorf("position_manager: close %s: %w", id, domain.ErrPositionNotFound)
	}
	if pos.Status == domain.PositionStatusClosing {
		m.mu.Unlock()
		return domain.ClosedPositionRecord{}, fmt.Errorf("position_manager: close %s: exit already in flight: %w", id, domain.ErrAlreadyExists)
	}
	exitOrderID := uuid.NewString()
	pos.MarkClosing(exitOrderID)
	order := domain.Order{
		ID:         exitOrderID,
		Symbol:     pos.Symbol,
		TokenMint:  pos.TokenMint,
		Side:       domain.OrderSideSell,
		Type:       domain.OrderTypeMarket,
		Size:       pos.AmountTokens,
		Price:      pos.LastPrice,
		Strategy:   pos.StrategyName,
		PositionID: pos.ID,
		Status:     domain.OrderStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	m.mu.Unlock()

	if err := m.savePosition(ctx, pos); err != nil {
		m.mu.Lock()
		pos.Status = domain.PositionStatusOpen
		pos.ExitOrderID = ""
		m.mu.Unlock()
		return domain.ClosedPositionRecord{}, fmt.Errorf("position_manager: close %s: %w", id, domain.ErrPersistenceFailure)
	}

	m.logger.InfoContext(ctx, "submitting exit order",
		slog.String("position_id", pos.ID),
		slog.String("order_id", exitOrderID),
		slog.String("reason", string(reason)),
		slog.Float64("amount_tokens", order.Size),
	)

	execCtx, cancel := context.WithTimeout(ctx, m.cfg.ExecutionTimeout)
	res, execErr := m.backend.ExecuteOrder(execCtx, order)
	cancel()

	if execErr != nil || !res.Success {
		return domain.ClosedPositionRecord{}, m.handleExitFailure(ctx, pos, res, execErr)
	}

	m.mu.Lock()
	pos.ExitTxSignature = res.TxSignature
	m.mu.Unlock()

	return m.ClosePosition(ctx, id, res.FilledPrice, reason)
}

// handleExitFailure reverts a failed exit to Open, schedules the retry, and
// escalates when the attempt budget is spent.
func (m *PositionManager) handleExitFailure(ctx context.Context, pos *domain.ActivePosition, res domain.ExecutionResult, execErr error) error {
	sentinel := domain.ErrExecutionFailed
	if execErr != nil && (errors.Is(execErr, context.DeadlineExceeded) || errors.Is(execErr, domain.ErrExecutionTimeout)) {
		sentinel = domain.ErrExecutionTimeout
	}

	cause := res.Err
	if execErr != nil {
		cause = execErr.Error()
	}

	m.mu.Lock()
	pos.RevertToOpen()
	attempts := pos.CloseAttempts
	if attempts < m.cfg.MaxCloseAttempts {
		m.retryAt[pos.ID] = time.Now().UTC().Add(m.cfg.CloseRetryBackoff * time.Duration(attempts))
	} else {
		delete(m.retryAt, pos.ID)
	}
	m.mu.Unlock()

	if err := m.savePosition(ctx, pos); err != nil {
		m.logger.WarnContext(ctx, "revert persist failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}

	m.logger.ErrorContext(ctx, "exit execution failed, position reverted to open",
		slog.String("position_id", pos.ID),
		slog.Int("attempts", attempts),
		slog.Int("max_attempts", m.cfg.MaxCloseAttempts),
		slog.String("error", cause),
	)

	if attempts >= m.cfg.MaxCloseAttempts {
		m.alert(ctx, "error", "Position Close Failed",
			fmt.Sprintf("%s (%s): %d exit attempts failed, manual intervention required", pos.Symbol, pos.ID, attempts))
	}

	return fmt.Errorf("position_manager: close %s: attempt %d: %w", pos.ID, attempts, sentinel)
}

// ListOpenPositions returns value copies of the open set, newest first.
func (m *PositionManager) ListOpenPositions() []domain.ActivePosition {
	m.mu.RLock()
	list := make([]domain.ActivePosition, 0, len(m.positions))
	for _, pos := range m.positions {
		list = append(list, *pos)
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].OpenedAt.After(list[j].OpenedAt)
	})
	return list
}

// GetPosition returns a copy of one open position.
func (m *PositionManager) GetPosition(id string) (domain.ActivePosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[id]
	if !ok {
		return domain.ActivePosition{}, fmt.Errorf("position_manager: get %s: %w", id, domain.ErrPositionNotFound)
	}
	return *pos, nil
}

// Stats summarizes the open set.
func (m *PositionManager) Stats() domain.PositionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := domain.PositionStats{
		StrategyBreakdown: make(map[string]int),
	}
	var oldest time.Time
	for _, pos := range m.positions {
		stats.TotalPositions++
		stats.TotalInvestedSOL += pos.AmountSOLInvested
		stats.StrategyBreakdown[pos.StrategyName]++
		if oldest.IsZero() || pos.OpenedAt.Before(oldest) {
			oldest = pos.OpenedAt
		}
	}
	if !oldest.IsZero() {
		stats.OldestPositionAgeHours = time.Since(oldest).Hours()
	}
	return stats
}

// RestoreFromStore reloads the open set from the KV store after a restart.
// Positions caught mid-close by a shutdown come back as Open so the monitor
// re-evaluates them.
func (m *PositionManager) RestoreFromStore(ctx context.Context) (int, error) {
	list, err := m.store.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("position_manager: restore: %w", err)
	}

	m.mu.Lock()
	for _, pos := range list {
		if pos == nil {
			continue
		}
		if pos.Status == domain.PositionStatusClosing {
			pos.Status = domain.PositionStatusOpen
			pos.ExitOrderID = ""
		}
		m.positions[pos.ID] = pos
	}
	count := len(m.positions)
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "open positions restored", slog.Int("count", count))
	return count, nil
}

// Run evaluates exits for all open positions on the monitor interval until
// the context is cancelled. Call in a goroutine.
func (m *PositionManager) Run(ctx context.Context) error {
	m.logger.Info("position monitor started",
		slog.Duration("interval", m.cfg.MonitorInterval),
	)
	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.evaluatePositions(ctx)
		}
	}
}

// evaluatePositions batch-fetches the latest cached prices for all open
// mints and evaluates every open position. Positions without a fresh price
// are evaluated at their last known price so time exits still fire.
func (m *PositionManager) evaluatePositions(ctx context.Context) {
	m.mu.RLock()
	mints := make([]string, 0, len(m.positions))
	seen := make(map[string]bool, len(m.positions))
	for _, pos := range m.positions {
		if pos.Status != domain.PositionStatusOpen {
			continue
		}
		if !seen[pos.TokenMint] {
			seen[pos.TokenMint] = true
			mints = append(mints, pos.TokenMint)
		}
	}
	m.mu.RUnlock()

	if len(mints) == 0 {
		return
	}

	priceMap, err := m.prices.GetPrices(ctx, mints)
	if err != nil {
		m.logger.WarnContext(ctx, "price batch fetch failed, evaluating at last known prices",
			slog.String("error", err.Error()),
		)
		priceMap = nil
	}

	now := time.Now().UTC()

	type pendingClose struct {
		id     string
		reason domain.CloseReason
	}
	var closes []pendingClose
	var dirty []domain.ActivePosition

	m.mu.Lock()
	for id, pos := range m.positions {
		if pos.Status != domain.PositionStatusOpen {
			continue
		}
		price, ok := priceMap[pos.TokenMint]
		if ok && price > 0 {
			prevHigh, prevLow := pos.MaxProfitPercent, pos.MaxDrawdownPercent
			pos.UpdateWithPrice(price)
			if pos.MaxProfitPercent != prevHigh || pos.MaxDrawdownPercent != prevLow {
				dirty = append(dirty, *pos)
			}
		} else {
			price = pos.LastPrice
		}
		if pos.CloseAttempts >= m.cfg.MaxCloseAttempts {
			continue
		}
		if at, ok := m.retryAt[id]; ok && now.Before(at) {
			continue
		}
		if reason, shouldClose := pos.ShouldClose(price, now); shouldClose {
			closes = append(closes, pendingClose{id: id, reason: reason})
		}
	}
	m.mu.Unlock()

	m.persistWatermarks(ctx, dirty)

	for _, c := range closes {
		if _, err := m.initiateClose(ctx, c.id, c.reason); err != nil {
			m.logger.ErrorContext(ctx, "exit attempt failed",
				slog.String("position_id", c.id),
				slog.String("reason", string(c.reason)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// persistWatermarks writes advanced water marks through to the KV store.
// Each save re-checks that the position is still open under storeMu so it
// cannot race a concurrent close and resurrect a deleted key.
func (m *PositionManager) persistWatermarks(ctx context.Context, dirty []domain.ActivePosition) {
	for i := range dirty {
		pos := dirty[i]
		m.storeMu.Lock()
		m.mu.RLock()
		_, alive := m.positions[pos.ID]
		m.mu.RUnlock()
		if alive {
			if err := m.store.Save(ctx, &pos); err != nil {
				m.logger.WarnContext(ctx, "watermark persist failed",
					slog.String("position_id", pos.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		m.storeMu.Unlock()
	}
}

func (m *PositionManager) savePosition(ctx context.Context, pos *domain.ActivePosition) error {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	return m.store.Save(ctx, pos)
}

func (m *PositionManager) publish(ctx context.Context, payload map[string]any) {
	if m.bus == nil {
		return
	}
	evt, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, "positions", evt); err != nil {
		m.logger.WarnContext(ctx, "position event publish failed", slog.String("error", err.Error()))
	}
	// The journal feeds reconnecting dashboards; losing an entry is not
	// worth failing the close that produced it.
	if err := m.bus.StreamAppend(ctx, domain.PositionStream, evt); err != nil {
		m.logger.DebugContext(ctx, "position event journal failed", slog.String("error", err.Error()))
	}
}

func (m *PositionManager) alert(ctx context.Context, event, title, message string) {
	if m.alerter == nil {
		return
	}
	if err := m.alerter.Notify(ctx, event, title, message); err != nil {
		m.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
