package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

// Engine orchestrates the enabled strategies. It receives normalized market
// events, fans them out to per-strategy channels, and forwards any resulting
// trade signals to the channel consumed by the executor.
type Engine struct {
	registry *Registry
	signalCh chan<- domain.TradeSignal
	logger   *slog.Logger

	mu         sync.Mutex
	enabled    []string
	tickChs    map[string]chan domain.PriceTick
	listingChs map[string]chan domain.TokenListing

	recentSignals []domain.TradeSignal
	recentLimit   int
}

// NewEngine creates an Engine. signalCh is where emitted TradeSignals are
// sent for execution.
func NewEngine(registry *Registry, signalCh chan<- domain.TradeSignal, logger *slog.Logger) *Engine {
	return &Engine{
		registry:    registry,
		signalCh:    signalCh,
		logger:      logger.With(slog.String("component", "strategy_engine")),
		recentLimit: 500,
	}
}

// SetEnabled selects which registered strategies receive events. Must be
// called before Run. Every name must be registered.
func (e *Engine) SetEnabled(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("strategy: no strategies enabled")
	}
	for _, name := range names {
		if _, err := e.registry.Get(name); err != nil {
			return err
		}
	}

	const buf = 64
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = append([]string(nil), names...)
	e.tickChs = make(map[string]chan domain.PriceTick, len(names))
	e.listingChs = make(map[string]chan domain.TokenListing, len(names))
	for _, name := range names {
		e.tickChs[name] = make(chan domain.PriceTick, buf)
		e.listingChs[name] = make(chan domain.TokenListing, buf)
	}

	e.logger.Info("strategies enabled", slog.Any("strategies", names))
	return nil
}

// EnabledNames returns the enabled strategy names.
func (e *Engine) EnabledNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.enabled...)
}

// ListNames returns all registered strategy names in sorted order.
func (e *Engine) ListNames() []string {
	return e.registry.List()
}

// HandleTick fans a price tick out to every enabled strategy. A strategy
// whose buffer is full misses the tick rather than stalling the feed.
func (e *Engine) HandleTick(ctx context.Context, tick domain.PriceTick) error {
	e.mu.Lock()
	names := e.enabled
	tickChs := e.tickChs
	e.mu.Unlock()

	if tickChs == nil {
		return fmt.Errorf("strategy: engine has no enabled strategies")
	}
	for _, name := range names {
		ch, ok := tickChs[name]
		if !ok {
			continue
		}
		select {
		case ch <- tick:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Buffer full, drop this tick for this strategy.
		}
	}
	return nil
}

// HandleListing fans a token listing out to every enabled strategy.
func (e *Engine) HandleListing(ctx context.Context, listing domain.TokenListing) error {
	e.mu.Lock()
	names := e.enabled
	listingChs := e.listingChs
	e.mu.Unlock()

	if listingChs == nil {
		return fmt.Errorf("strategy: engine has no enabled strategies")
	}
	for _, name := range names {
		ch, ok := listingChs[name]
		if !ok {
			continue
		}
		select {
		case ch <- listing:
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// RecentSignals returns up to limit most recently emitted signals, newest
// first. Metadata maps are copied so callers cannot mutate engine state.
func (e *Engine) RecentSignals(limit int) []domain.TradeSignal {
	if limit <= 0 {
		limit = 20
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.recentSignals)
	if n == 0 {
		return []domain.TradeSignal{}
	}
	if limit > n {
		limit = n
	}
	out := make([]domain.TradeSignal, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		sig := e.recentSignals[i]
		if sig.Metadata != nil {
			meta := make(map[string]string, len(sig.Metadata))
			for k, v := range sig.Metadata {
				meta[k] = v
			}
			sig.Metadata = meta
		}
		out = append(out, sig)
	}
	return out
}

// Run starts one goroutine per enabled strategy and blocks until the context
// is cancelled or a strategy fails fatally.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	names := append([]string(nil), e.enabled...)
	e.mu.Unlock()

	if len(names) == 0 {
		e.logger.Info("no strategies enabled, engine idling")
		<-ctx.Done()
		return ctx.Err()
	}

	e.logger.Info("strategy engine started", slog.Any("strategies", names))
	defer func() {
		e.mu.Lock()
		e.closeChannelsLocked()
		e.mu.Unlock()
		e.logger.Info("strategy engine stopped")
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			return e.runStrategy(gctx, name)
		})
	}
	return g.Wait()
}

// runStrategy drives a single strategy from its channels until cancellation.
func (e *Engine) runStrategy(ctx context.Context, name string) error {
	strat, err := e.registry.Get(name)
	if err != nil {
		return err
	}
	if err := strat.Init(ctx); err != nil {
		e.logger.Error("strategy init failed",
			slog.String("strategy", name),
			slog.String("error", err.Error()),
		)
		return err
	}
	defer func() { _ = strat.Close() }()

	e.mu.Lock()
	tickCh := e.tickChs[name]
	listingCh := e.listingChs[name]
	e.mu.Unlock()
	if tickCh == nil || listingCh == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case tick, ok := <-tickCh:
			if !ok {
				return nil
			}
			signals, err := strat.OnPriceTick(ctx, tick)
			if err != nil {
				e.logger.Warn("strategy tick handler error",
					slog.String("strategy", name),
					slog.String("error", err.Error()),
				)
				continue
			}
			e.emit(ctx, signals)

		case listing, ok := <-listingCh:
			if !ok {
				return nil
			}
			signals, err := strat.OnTokenListing(ctx, listing)
			if err != nil {
				e.logger.Warn("strategy listing handler error",
					slog.String("strategy", name),
					slog.String("error", err.Error()),
				)
				continue
			}
			e.emit(ctx, signals)
		}
	}
}

// emit sends each signal to the signal channel, respecting cancellation.
func (e *Engine) emit(ctx context.Context, signals []domain.TradeSignal) {
	for i := range signals {
		select {
		case <-ctx.Done():
			e.logger.Warn("context cancelled while emitting signals",
				slog.Int("remaining", len(signals)-i),
			)
			return
		case e.signalCh <- signals[i]:
			e.rememberSignal(signals[i])
			e.logger.Debug("signal emitted",
				slog.String("signal_id", signals[i].ID),
				slog.String("strategy", signals[i].Strategy),
				slog.String("mint", signals[i].TokenMint),
			)
		}
	}
}

func (e *Engine) rememberSignal(sig domain.TradeSignal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recentSignals = append(e.recentSignals, sig)
	if overflow := len(e.recentSignals) - e.recentLimit; overflow > 0 {
		e.recentSignals = append([]domain.TradeSignal(nil), e.recentSignals[overflow:]...)
	}
}

// closeChannelsLocked closes all fan-out channels. Caller holds e.mu.
func (e *Engine) closeChannelsLocked() {
	for _, ch := range e.tickChs {
		close(ch)
	}
	for _, ch := range e.listingChs {
		close(ch)
	}
	e.tickChs = nil
	e.listingChs = nil
}
