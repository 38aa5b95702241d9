package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

// LiquiditySnipeConfig tunes the new-pool sniper.
type LiquiditySnipeConfig struct {
	// MinLiquiditySOL is the floor below which a new pool is ignored.
	MinLiquiditySOL float64
	// MaxTokenAge rejects listings that surfaced too long ago; a stale
	// listing means the snipe window has passed.
	MaxTokenAge time.Duration
	// SizeSOL is the capital committed per snipe.
	SizeSOL float64
	// Cooldown throttles consecutive snipes across all mints.
	Cooldown time.Duration
}

func (c LiquiditySnipeConfig) withDefaults() LiquiditySnipeConfig {
	if c.MinLiquiditySOL <= 0 {
		c.MinLiquiditySOL = 5
	}
	if c.MaxTokenAge <= 0 {
		c.MaxTokenAge = 60 * time.Second
	}
	if c.SizeSOL <= 0 {
		c.SizeSOL = 0.05
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	return c
}

// LiquiditySnipe emits BUY signals for freshly listed pools that launch with
// enough liquidity to exit through. Entries follow the pure sniper exit
// preset, so winners are cut fast and losers faster.
type LiquiditySnipe struct {
	cfg    LiquiditySnipeConfig
	logger *slog.Logger

	mu        sync.Mutex
	lastFired time.Time
	seen      map[string]struct{}
}

// NewLiquiditySnipe creates the strategy with the supplied configuration.
func NewLiquiditySnipe(cfg LiquiditySnipeConfig, logger *slog.Logger) *LiquiditySnipe {
	return &LiquiditySnipe{
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("strategy", "liquidity_snipe")),
		seen:   make(map[string]struct{}),
	}
}

// Name returns the strategy identifier.
func (ls *LiquiditySnipe) Name() string { return "liquidity_snipe" }

// Init is a no-op.
func (ls *LiquiditySnipe) Init(_ context.Context) error { return nil }

// OnTokenListing evaluates a newly detected pool and emits a BUY signal when
// it clears the liquidity floor inside the snipe window.
func (ls *LiquiditySnipe) OnTokenListing(_ context.Context, listing domain.TokenListing) ([]domain.TradeSignal, error) {
	now := time.Now().UTC()
	log := ls.logger.With(slog.String("mint", listing.TokenMint))

	if listing.InitialPrice <= 0 {
		log.Debug("listing without a price, skipping")
		return nil, nil
	}
	if listing.InitialLiquidity < ls.cfg.MinLiquiditySOL {
		log.Debug("liquidity below floor, skipping",
			slog.Float64("liquidity_sol", listing.InitialLiquidity),
			slog.Float64("floor_sol", ls.cfg.MinLiquiditySOL),
		)
		return nil, nil
	}
	if !listing.Timestamp.IsZero() && now.Sub(listing.Timestamp) > ls.cfg.MaxTokenAge {
		log.Debug("listing too old, snipe window passed",
			slog.Duration("age", now.Sub(listing.Timestamp)),
		)
		return nil, nil
	}

	ls.mu.Lock()
	if _, dup := ls.seen[listing.TokenMint]; dup {
		ls.mu.Unlock()
		return nil, nil
	}
	if !ls.lastFired.IsZero() && now.Sub(ls.lastFired) < ls.cfg.Cooldown {
		ls.mu.Unlock()
		log.Debug("cooling down, skipping listing")
		return nil, nil
	}
	ls.seen[listing.TokenMint] = struct{}{}
	ls.lastFired = now
	ls.mu.Unlock()

	// Deeper launch liquidity earns more conviction.
	strength := math.Min(1.0, 0.7+0.3*listing.InitialLiquidity/(10*ls.cfg.MinLiquiditySOL))

	sig := domain.TradeSignal{
		ID:        fmt.Sprintf("ls-%s-%d", listing.TokenMint, now.UnixNano()),
		Strategy:  ls.Name(),
		Symbol:    listing.Symbol,
		TokenMint: listing.TokenMint,
		Side:      domain.OrderSideBuy,
		Strength:  strength,
		Price:     listing.InitialPrice,
		Size:      ls.cfg.SizeSOL / listing.InitialPrice,
		Reason: fmt.Sprintf("new pool with %.1f SOL liquidity (floor %.1f)",
			listing.InitialLiquidity, ls.cfg.MinLiquiditySOL),
		Metadata: map[string]string{
			"initial_liquidity_sol": fmt.Sprintf("%.4f", listing.InitialLiquidity),
			"listing_source":        listing.Source,
		},
		CreatedAt: now,
		ExpiresAt: now.Add(30 * time.Second),
	}

	log.Info("snipe signal emitted",
		slog.Float64("price", listing.InitialPrice),
		slog.Float64("liquidity_sol", listing.InitialLiquidity),
		slog.Float64("size_tokens", sig.Size),
	)

	return []domain.TradeSignal{sig}, nil
}

// OnPriceTick is a no-op; this strategy is listing-driven.
func (ls *LiquiditySnipe) OnPriceTick(_ context.Context, _ domain.PriceTick) ([]domain.TradeSignal, error) {
	return nil, nil
}

// Close is a no-op.
func (ls *LiquiditySnipe) Close() error { return nil }
