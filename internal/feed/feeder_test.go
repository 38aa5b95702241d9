package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

type fakeTickHandler struct {
	mu       sync.Mutex
	ticks    []domain.PriceTick
	listings []domain.TokenListing
}

func (h *fakeTickHandler) HandleTick(_ context.Context, tick domain.PriceTick) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ticks = append(h.ticks, tick)
	return nil
}

func (h *fakeTickHandler) HandleListing(_ context.Context, listing domain.TokenListing) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listings = append(h.listings, listing)
	return nil
}

func (h *fakeTickHandler) tickCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ticks)
}

func (h *fakeTickHandler) listingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listings)
}

func (h *fakeTickHandler) tick(i int) domain.PriceTick {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ticks[i]
}

func (h *fakeTickHandler) listing(i int) domain.TokenListing {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listings[i]
}

type fakePositionTicker struct {
	mu    sync.Mutex
	price map[string]float64
}

func newFakePositionTicker() *fakePositionTicker {
	return &fakePositionTicker{price: make(map[string]float64)}
}

func (p *fakePositionTicker) OnPriceTick(_ context.Context, mint string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.price[mint] = price
}

func (p *fakePositionTicker) seen(mint string) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.price[mint]
	return v, ok
}

type feederFixture struct {
	bus       *fakeBus
	engine    *fakeTickHandler
	positions *fakePositionTicker
	done      chan error
}

func startFeeder(t *testing.T, ctx context.Context) *feederFixture {
	f := &feederFixture{
		bus:       newFakeBus(),
		engine:    &fakeTickHandler{},
		positions: newFakePositionTicker(),
		done:      make(chan error, 1),
	}
	// Pre-create the subscription channels so publishes made right after
	// startup are never lost to a racing Subscribe.
	_, err := f.bus.Subscribe(ctx, busChannelPrices)
	require.NoError(t, err)
	_, err = f.bus.Subscribe(ctx, busChannelListings)
	require.NoError(t, err)

	feeder := NewBusFeeder(f.bus, f.engine, f.positions, testLogger())
	go func() { f.done <- feeder.Run(ctx) }()
	return f
}

func (f *feederFixture) waitStopped(t *testing.T) error {
	select {
	case err := <-f.done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("feeder did not stop")
		return nil
	}
}

func TestBusFeederDispatchesPrices(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := startFeeder(t, ctx)

	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	payload := `{
		"event": "trade",
		"token_mint": "MintA",
		"price": 0.002,
		"amount_sol": 1.2,
		"side": "buy",
		"source": "pump",
		"timestamp": "` + ts.Format(time.RFC3339Nano) + `"
	}`
	require.NoError(t, f.bus.Publish(ctx, busChannelPrices, []byte(payload)))

	require.Eventually(t, func() bool {
		return f.engine.tickCount() == 1
	}, 3*time.Second, 10*time.Millisecond, "tick not dispatched")

	tick := f.engine.tick(0)
	assert.Equal(t, "MintA", tick.TokenMint)
	assert.InDelta(t, 0.002, tick.Price, 1e-12)
	assert.InDelta(t, 1.2, tick.AmountSOL, 1e-12)
	assert.Equal(t, "pump", tick.Source)
	assert.True(t, tick.Timestamp.Equal(ts), "timestamp parsed from the event")

	price, ok := f.positions.seen("MintA")
	require.True(t, ok, "position manager receives the tick")
	assert.InDelta(t, 0.002, price, 1e-12)

	cancel()
	assert.ErrorIs(t, f.waitStopped(t), context.Canceled)
}

func TestBusFeederDispatchesListings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := startFeeder(t, ctx)

	payload := `{
		"event": "new_token",
		"token_mint": "MintB",
		"symbol": "NEW",
		"name": "New Token",
		"initial_price": 0.00000003,
		"initial_liquidity": 31.5,
		"creator": "CreatorPK",
		"source": "pump"
	}`
	require.NoError(t, f.bus.Publish(ctx, busChannelListings, []byte(payload)))

	require.Eventually(t, func() bool {
		return f.engine.listingCount() == 1
	}, 3*time.Second, 10*time.Millisecond, "listing not dispatched")

	listing := f.engine.listing(0)
	assert.Equal(t, "MintB", listing.TokenMint)
	assert.Equal(t, "NEW", listing.Symbol)
	assert.InDelta(t, 0.00000003, listing.InitialPrice, 1e-15)
	assert.InDelta(t, 31.5, listing.InitialLiquidity, 1e-9)
	assert.False(t, listing.Timestamp.IsZero(), "missing timestamp defaults to now")
}

func TestBusFeederSkipsMalformed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := startFeeder(t, ctx)

	require.NoError(t, f.bus.Publish(ctx, busChannelPrices, []byte("not json")))
	require.NoError(t, f.bus.Publish(ctx, busChannelPrices, []byte(`{"event":"trade","price":1}`)))
	require.NoError(t, f.bus.Publish(ctx, busChannelPrices,
		[]byte(`{"event":"trade","token_mint":"MintC","price":0.5}`)))

	require.Eventually(t, func() bool {
		return f.engine.tickCount() == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "MintC", f.engine.tick(0).TokenMint,
		"only the well-formed event with a mint survives")
}

func TestBusFeederZeroPriceSkipsPositions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := startFeeder(t, ctx)

	require.NoError(t, f.bus.Publish(ctx, busChannelPrices,
		[]byte(`{"event":"trade","token_mint":"MintD","price":0,"amount_sol":2}`)))

	require.Eventually(t, func() bool {
		return f.engine.tickCount() == 1
	}, 3*time.Second, 10*time.Millisecond, "zero-price tick still reaches strategies")

	_, ok := f.positions.seen("MintD")
	assert.False(t, ok, "exit evaluation never runs on a zero price")
}
