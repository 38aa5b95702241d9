package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

// TickHandler receives normalized market events. *strategy.Engine satisfies it.
type TickHandler interface {
	HandleTick(ctx context.Context, tick domain.PriceTick) error
	HandleListing(ctx context.Context, listing domain.TokenListing) error
}

// PositionTicker receives per-mint prices for exit evaluation.
// *service.PositionManager satisfies it.
type PositionTicker interface {
	OnPriceTick(ctx context.Context, tokenMint string, price float64)
}

// BusFeeder subscribes to the "prices" and "listings" bus channels and feeds
// the decoded events into the strategy engine and the position manager.
type BusFeeder struct {
	bus       domain.SignalBus
	engine    TickHandler
	positions PositionTicker
	logger    *slog.Logger
}

// NewBusFeeder creates a BusFeeder. engine and positions may be nil when the
// process runs without that consumer.
func NewBusFeeder(bus domain.SignalBus, engine TickHandler, positions PositionTicker, logger *slog.Logger) *BusFeeder {
	return &BusFeeder{
		bus:       bus,
		engine:    engine,
		positions: positions,
		logger:    logger.With(slog.String("component", "bus_feeder")),
	}
}

// Run subscribes and dispatches until ctx is cancelled or the bus closes the
// subscription channels.
func (f *BusFeeder) Run(ctx context.Context) error {
	priceCh, err := f.bus.Subscribe(ctx, busChannelPrices)
	if err != nil {
		return fmt.Errorf("feed: subscribe %s: %w", busChannelPrices, err)
	}
	listingCh, err := f.bus.Subscribe(ctx, busChannelListings)
	if err != nil {
		return fmt.Errorf("feed: subscribe %s: %w", busChannelListings, err)
	}

	f.logger.Info("bus feeder started")
	defer f.logger.Info("bus feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-priceCh:
			if !ok {
				return nil
			}
			if err := f.handlePrice(ctx, data); err != nil {
				f.logger.Debug("price event dropped",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
			}
		case data, ok := <-listingCh:
			if !ok {
				return nil
			}
			if err := f.handleListing(ctx, data); err != nil {
				f.logger.Debug("listing event dropped",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
			}
		}
	}
}

func (f *BusFeeder) handlePrice(ctx context.Context, data []byte) error {
	var ev priceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	mint := strings.TrimSpace(ev.TokenMint)
	if mint == "" {
		return nil
	}

	tick := domain.PriceTick{
		TokenMint: mint,
		Price:     ev.Price,
		AmountSOL: ev.AmountSOL,
		Source:    ev.Source,
		Timestamp: parseEventTime(ev.Timestamp),
	}

	// Exit checks run before new-entry detection.
	if f.positions != nil && tick.Price > 0 {
		f.positions.OnPriceTick(ctx, mint, tick.Price)
	}
	if f.engine != nil {
		if err := f.engine.HandleTick(ctx, tick); err != nil {
			return err
		}
	}
	return nil
}

func (f *BusFeeder) handleListing(ctx context.Context, data []byte) error {
	var ev listingEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	mint := strings.TrimSpace(ev.TokenMint)
	if mint == "" {
		return nil
	}

	listing := domain.TokenListing{
		TokenMint:        mint,
		Symbol:           ev.Symbol,
		Name:             ev.Name,
		InitialPrice:     ev.InitialPrice,
		InitialLiquidity: ev.InitialLiquidity,
		Creator:          ev.Creator,
		Source:           ev.Source,
		Timestamp:        parseEventTime(ev.Timestamp),
	}
	if f.engine != nil {
		return f.engine.HandleListing(ctx, listing)
	}
	return nil
}

func parseEventTime(raw string) time.Time {
	if raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}
