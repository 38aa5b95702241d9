package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

// BalanceFetcher reads the wallet's on-chain SOL balance. The Solana RPC
// client satisfies it; paper trading runs without one and keeps the balance
// as a pure ledger.
type BalanceFetcher interface {
	GetBalance(ctx context.Context, pubkey string) (float64, error)
}

// OpenPositionSource lists the currently open positions. *PositionManager
// satisfies it.
type OpenPositionSource interface {
	ListOpenPositions() []domain.ActivePosition
}

// PortfolioTracker owns the account aggregate. Every balance mutation goes
// through its mutex: the position manager reserves capital on open and
// credits proceeds on close, and the refresh loop recomputes market-value
// fields from open positions and cached prices.
type PortfolioTracker struct {
	mu        sync.Mutex
	portfolio domain.Portfolio
	peakValue float64

	store    domain.PortfolioStore
	prices   domain.PriceCache
	risk     *RiskManager
	source   OpenPositionSource
	balances BalanceFetcher
	wallet   string
	interval time.Duration
	logger   *slog.Logger
}

// NewPortfolioTracker seeds the portfolio with the starting balance. store,
// prices and risk may be nil in tests; refreshInterval <= 0 falls back to
// 30s.
func NewPortfolioTracker(initialBalanceSOL float64, store domain.PortfolioStore, prices domain.PriceCache, risk *RiskManager, refreshInterval time.Duration, logger *slog.Logger) *PortfolioTracker {
	if refreshInterval <= 0 {
		refreshInterval = 30 * time.Second
	}
	now := time.Now().UTC()
	return &PortfolioTracker{
		portfolio: domain.Portfolio{
			TotalValue:       initialBalanceSOL,
			AvailableBalance: initialBalanceSOL,
			UpdatedAt:        now,
		},
		peakValue: initialBalanceSOL,
		store:     store,
		prices:    prices,
		risk:      risk,
		interval:  refreshInterval,
		logger:    logger.With(slog.String("component", "portfolio_tracker")),
	}
}

// SetPositionSource attaches the open-position lister. Set after the
// position manager is constructed; the two reference each other.
func (t *PortfolioTracker) SetPositionSource(source OpenPositionSource) {
	t.source = source
}

// SetBalanceFetcher attaches an on-chain balance reader for live trading.
func (t *PortfolioTracker) SetBalanceFetcher(balances BalanceFetcher, wallet string) {
	t.balances = balances
	t.wallet = wallet
}

// Snapshot returns a copy of the portfolio, including a copied positions
// slice.
func (t *PortfolioTracker) Snapshot() domain.Portfolio {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *PortfolioTracker) snapshotLocked() domain.Portfolio {
	p := t.portfolio
	p.Positions = make([]domain.PortfolioPosition, len(t.portfolio.Positions))
	copy(p.Positions, t.portfolio.Positions)
	return p
}

// Reserve atomically checks and debits available balance for a new
// position. An insufficient balance leaves the portfolio untouched.
func (t *PortfolioTracker) Reserve(amountSOL float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if amountSOL > t.portfolio.AvailableBalance {
		return &domain.InsufficientBalanceError{
			Required:  amountSOL,
			Available: t.portfolio.AvailableBalance,
		}
	}
	t.portfolio.AvailableBalance -= amountSOL
	t.portfolio.UpdatedAt = time.Now().UTC()
	return nil
}

// Release returns previously reserved capital after a failed open.
func (t *PortfolioTracker) Release(amountSOL float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.portfolio.AvailableBalance += amountSOL
	t.portfolio.UpdatedAt = time.Now().UTC()
}

// ApplyClose credits the exit proceeds and folds the realized result into
// the running PnL counters.
func (t *PortfolioTracker) ApplyClose(proceedsSOL, realizedPnL float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.portfolio.AvailableBalance += proceedsSOL
	t.portfolio.RealizedPnL += realizedPnL
	t.portfolio.DailyPnL += realizedPnL
	t.portfolio.UpdatedAt = time.Now().UTC()
}

// ResetDaily zeroes the portfolio's daily PnL at the day boundary.
func (t *PortfolioTracker) ResetDaily() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.portfolio.DailyPnL = 0
	t.portfolio.UpdatedAt = time.Now().UTC()
}

// Drawdown returns the current peak-to-trough decline as a fraction of the
// peak portfolio value.
func (t *PortfolioTracker) Drawdown() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peakValue <= 0 {
		return 0
	}
	return (t.peakValue - t.portfolio.TotalValue) / t.peakValue
}

// RestoreSnapshot adopts the persisted portfolio state on startup so a
// restart does not reset the ledger. A missing snapshot is not an error.
func (t *PortfolioTracker) RestoreSnapshot(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	saved, err := t.store.GetSnapshot(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("portfolio_tracker: restore snapshot: %w", err)
	}

	t.mu.Lock()
	t.portfolio.AvailableBalance = saved.AvailableBalance
	t.portfolio.RealizedPnL = saved.RealizedPnL
	t.portfolio.DailyPnL = saved.DailyPnL
	t.portfolio.MaxDrawdown = saved.MaxDrawdown
	if saved.TotalValue > t.peakValue {
		t.peakValue = saved.TotalValue
	}
	t.mu.Unlock()

	t.logger.InfoContext(ctx, "portfolio snapshot restored",
		slog.Float64("available_balance", saved.AvailableBalance),
		slog.Float64("realized_pnl", saved.RealizedPnL),
		slog.Float64("daily_pnl", saved.DailyPnL),
	)
	return nil
}

// Refresh recomputes market-value fields from the open set and cached
// prices, refreshes the on-chain balance when a fetcher is attached, feeds
// the observed drawdown to the risk manager, and persists the snapshot.
func (t *PortfolioTracker) Refresh(ctx context.Context) error {
	var chainBalance *float64
	if t.balances != nil && t.wallet != "" {
		bal, err := t.balances.GetBalance(ctx, t.wallet)
		if err != nil {
			t.logger.WarnContext(ctx, "balance fetch failed",
				slog.String("wallet", t.wallet),
				slog.String("error", err.Error()),
			)
		} else {
			chainBalance = &bal
		}
	}

	var open []domain.ActivePosition
	if t.source != nil {
		open = t.source.ListOpenPositions()
	}

	priceMap := make(map[string]float64)
	if t.prices != nil && len(open) > 0 {
		mints := make([]string, 0, len(open))
		seen := make(map[string]bool, len(open))
		for _, pos := range open {
			if !seen[pos.TokenMint] {
				seen[pos.TokenMint] = true
				mints = append(mints, pos.TokenMint)
			}
		}
		fetched, err := t.prices.GetPrices(ctx, mints)
		if err != nil {
			t.logger.WarnContext(ctx, "price fetch failed, using last known prices",
				slog.String("error", err.Error()),
			)
		} else {
			priceMap = fetched
		}
	}

	t.mu.Lock()
	if chainBalance != nil {
		t.portfolio.AvailableBalance = *chainBalance
	}

	positions := make([]domain.PortfolioPosition, 0, len(open))
	var unrealized, exposure float64
	for _, pos := range open {
		price, ok := priceMap[pos.TokenMint]
		if !ok || price <= 0 {
			price = pos.LastPrice
		}
		pp := domain.PortfolioPosition{
			PositionID:   pos.ID,
			Symbol:       pos.Symbol,
			TokenMint:    pos.TokenMint,
			Size:         pos.AmountTokens,
			EntryPrice:   pos.EntryPrice,
			CurrentPrice: price,
		}
		positions = append(positions, pp)
		unrealized += pos.UnrealizedPnL(price)
		exposure += pp.MarketValue()
	}

	t.portfolio.Positions = positions
	t.portfolio.UnrealizedPnL = unrealized
	t.portfolio.TotalValue = t.portfolio.AvailableBalance + exposure
	if t.portfolio.TotalValue > t.peakValue {
		t.peakValue = t.portfolio.TotalValue
	}
	var drawdown float64
	if t.peakValue > 0 {
		drawdown = (t.peakValue - t.portfolio.TotalValue) / t.peakValue
	}
	if drawdown > t.portfolio.MaxDrawdown {
		t.portfolio.MaxDrawdown = drawdown
	}
	t.portfolio.UpdatedAt = time.Now().UTC()
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	if t.risk != nil {
		t.risk.UpdateDrawdown(drawdown)
	}

	if t.store != nil {
		if err := t.store.SaveSnapshot(ctx, snapshot); err != nil {
			return fmt.Errorf("portfolio_tracker: save snapshot: %w", err)
		}
	}
	return nil
}

// Run refreshes the portfolio on the configured interval until the context
// is cancelled. Call in a goroutine.
func (t *PortfolioTracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := t.Refresh(ctx); err != nil {
				t.logger.ErrorContext(ctx, "portfolio refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}
