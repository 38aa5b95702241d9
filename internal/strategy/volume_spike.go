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

// VolumeSpikeConfig tunes the momentum entry.
type VolumeSpikeConfig struct {
	// VolumeMultiple is how many times the baseline window's volume the
	// current window must carry to count as a spike.
	VolumeMultiple float64
	// Window is the observation window; the preceding window of the same
	// length is the baseline.
	Window time.Duration
	// SizeSOL is the capital committed per entry.
	SizeSOL float64
	// Cooldown suppresses repeated entries on the same mint.
	Cooldown time.Duration
}

func (c VolumeSpikeConfig) withDefaults() VolumeSpikeConfig {
	if c.VolumeMultiple <= 1 {
		c.VolumeMultiple = 3
	}
	if c.Window <= 0 {
		c.Window = 60 * time.Second
	}
	if c.SizeSOL <= 0 {
		c.SizeSOL = 0.05
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * time.Minute
	}
	return c
}

// VolumeSpike emits BUY signals when a token's traded volume over the
// current window is a multiple of the preceding window while the price is
// rising. Entries ride the momentum preset: trailing stop armed, no fixed
// take profit.
type VolumeSpike struct {
	cfg     VolumeSpikeConfig
	tracker *PriceTracker
	logger  *slog.Logger

	mu        sync.Mutex
	lastFired map[string]time.Time
}

// NewVolumeSpike creates the strategy. The tracker must retain at least two
// windows of history; the engine's shared tracker does.
func NewVolumeSpike(cfg VolumeSpikeConfig, tracker *PriceTracker, logger *slog.Logger) *VolumeSpike {
	return &VolumeSpike{
		cfg:       cfg.withDefaults(),
		tracker:   tracker,
		logger:    logger.With(slog.String("strategy", "volume_spike")),
		lastFired: make(map[string]time.Time),
	}
}

// Name returns the strategy identifier.
func (vs *VolumeSpike) Name() string { return "volume_spike" }

// Init is a no-op.
func (vs *VolumeSpike) Init(_ context.Context) error { return nil }

// OnPriceTick records the observation and checks the two-window volume
// ratio. With no baseline volume there is no spike to measure.
func (vs *VolumeSpike) OnPriceTick(_ context.Context, tick domain.PriceTick) ([]domain.TradeSignal, error) {
	if tick.Price <= 0 {
		return nil, nil
	}

	ts := tick.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	vs.tracker.Track(tick.TokenMint, tick.Price, tick.AmountSOL, ts)

	windowStart := ts.Add(-vs.cfg.Window)
	baselineStart := ts.Add(-2 * vs.cfg.Window)

	current := vs.tracker.VolumeSince(tick.TokenMint, windowStart)
	baseline := vs.tracker.VolumeSince(tick.TokenMint, baselineStart) - current
	if baseline <= 0 {
		return nil, nil
	}

	ratio := current / baseline
	if ratio < vs.cfg.VolumeMultiple {
		return nil, nil
	}
	if !vs.priceRising(tick.TokenMint, windowStart) {
		return nil, nil
	}

	now := time.Now().UTC()
	vs.mu.Lock()
	if last, ok := vs.lastFired[tick.TokenMint]; ok && now.Sub(last) < vs.cfg.Cooldown {
		vs.mu.Unlock()
		return nil, nil
	}
	vs.lastFired[tick.TokenMint] = now
	vs.mu.Unlock()

	// Conviction grows with how far past the threshold the spike runs.
	strength := math.Min(1.0, 0.5+0.25*ratio/vs.cfg.VolumeMultiple)

	sig := domain.TradeSignal{
		ID:        fmt.Sprintf("vs-%s-%d", tick.TokenMint, now.UnixNano()),
		Strategy:  vs.Name(),
		Symbol:    tick.Symbol,
		TokenMint: tick.TokenMint,
		Side:      domain.OrderSideBuy,
		Strength:  strength,
		Price:     tick.Price,
		Size:      vs.cfg.SizeSOL / tick.Price,
		Reason: fmt.Sprintf("volume spike %.1fx baseline (%.2f SOL vs %.2f SOL)",
			ratio, current, baseline),
		Metadata: map[string]string{
			"window_volume_sol":   fmt.Sprintf("%.4f", current),
			"baseline_volume_sol": fmt.Sprintf("%.4f", baseline),
			"ratio":               fmt.Sprintf("%.2f", ratio),
		},
		CreatedAt: now,
		ExpiresAt: now.Add(30 * time.Second),
	}

	vs.logger.Info("volume spike signal emitted",
		slog.String("mint", tick.TokenMint),
		slog.Float64("ratio", ratio),
		slog.Float64("price", tick.Price),
	)

	return []domain.TradeSignal{sig}, nil
}

// priceRising reports whether the last price in the current window sits
// above the window's first price.
func (vs *VolumeSpike) priceRising(mint string, windowStart time.Time) bool {
	history := vs.tracker.History(mint)

	var first, last float64
	for _, p := range history {
		if p.Time.Before(windowStart) {
			continue
		}
		if first == 0 {
			first = p.Price
		}
		last = p.Price
	}
	return first > 0 && last > first
}

// OnTokenListing is a no-op; this strategy is tick-driven.
func (vs *VolumeSpike) OnTokenListing(_ context.Context, _ domain.TokenListing) ([]domain.TradeSignal, error) {
	return nil, nil
}

// Close is a no-op.
func (vs *VolumeSpike) Close() error { return nil }
