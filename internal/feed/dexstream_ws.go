package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	// maxTradeSubs bounds the auto-subscribed launch mints. The oldest
	// subscription is dropped when a new launch pushes past the cap.
	maxTradeSubs = 256
)

// Bus channels the feed publishes to and the BusFeeder consumes from.
const (
	busChannelPrices   = "prices"
	busChannelListings = "listings"
)

// StreamConfig holds the DEX stream connection parameters.
type StreamConfig struct {
	// WSURL is the stream endpoint, e.g. "wss://pumpportal.fun/api/data".
	WSURL string
	// ReconnectDelay is the base backoff after a disconnect.
	ReconnectDelay time.Duration
	// SubscribeNewPools enables the new-token creation stream.
	SubscribeNewPools bool
	// Tokens are mints whose trades are always subscribed.
	Tokens []string
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	return c
}

// wsCommand is the subscription envelope the stream endpoint accepts.
type wsCommand struct {
	Method string   `json:"method"`
	Keys   []string `json:"keys,omitempty"`
}

// streamEvent is the superset of fields the stream sends for token creation
// and trade events. Prices are derived from the bonding curve reserves.
type streamEvent struct {
	Signature             string  `json:"signature"`
	Mint                  string  `json:"mint"`
	TxType                string  `json:"txType"`
	TraderPublicKey       string  `json:"traderPublicKey"`
	Name                  string  `json:"name"`
	Symbol                string  `json:"symbol"`
	Pool                  string  `json:"pool"`
	SolAmount             float64 `json:"solAmount"`
	TokenAmount           float64 `json:"tokenAmount"`
	InitialBuy            float64 `json:"initialBuy"`
	MarketCapSol          float64 `json:"marketCapSol"`
	VTokensInBondingCurve float64 `json:"vTokensInBondingCurve"`
	VSolInBondingCurve    float64 `json:"vSolInBondingCurve"`

	// Message is set on subscription acknowledgements.
	Message string `json:"message"`
}

// priceEvent is the JSON shape published to the "prices" bus channel.
type priceEvent struct {
	Event     string  `json:"event"`
	TokenMint string  `json:"token_mint"`
	Price     float64 `json:"price"`
	AmountSOL float64 `json:"amount_sol"`
	Side      string  `json:"side"`
	Source    string  `json:"source"`
	Timestamp string  `json:"timestamp"`
}

// listingEvent is the JSON shape published to the "listings" bus channel.
type listingEvent struct {
	Event            string  `json:"event"`
	TokenMint        string  `json:"token_mint"`
	Symbol           string  `json:"symbol"`
	Name             string  `json:"name"`
	InitialPrice     float64 `json:"initial_price"`
	InitialLiquidity float64 `json:"initial_liquidity"`
	Creator          string  `json:"creator"`
	Source           string  `json:"source"`
	Timestamp        string  `json:"timestamp"`
}

// DexStreamFeed connects to a DEX trade stream, subscribes to new-token and
// token-trade events, and publishes normalized listings and price ticks to
// the signal bus and the price cache. It reconnects with capped exponential
// backoff and restores its subscriptions after every reconnect.
type DexStreamFeed struct {
	cfg    StreamConfig
	bus    domain.SignalBus
	prices domain.PriceCache
	tokens domain.TokenCache
	logger *slog.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	staticKeys  []string
	dynamicKeys []string
	dynamicSet  map[string]struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// NewDexStreamFeed creates a feed for the given stream endpoint.
func NewDexStreamFeed(cfg StreamConfig, bus domain.SignalBus, prices domain.PriceCache, logger *slog.Logger) *DexStreamFeed {
	cfg = cfg.withDefaults()
	return &DexStreamFeed{
		cfg:        cfg,
		bus:        bus,
		prices:     prices,
		logger:     logger.With(slog.String("component", "dexstream_feed")),
		staticKeys: append([]string(nil), cfg.Tokens...),
		dynamicSet: make(map[string]struct{}),
		done:       make(chan struct{}),
	}
}

// SetTokenCache enables token metadata caching for new listings, so symbol
// lookups do not depend on the listing event still being in flight.
func (f *DexStreamFeed) SetTokenCache(tokens domain.TokenCache) {
	f.tokens = tokens
}

// Run connects and processes stream events until ctx is cancelled or Close
// is called. Disconnects trigger reconnection with backoff; a connection
// that was established resets the backoff to its base delay.
func (f *DexStreamFeed) Run(ctx context.Context) error {
	if f.cfg.WSURL == "" {
		return fmt.Errorf("feed: stream URL not configured")
	}

	delay := f.cfg.ReconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		connected, err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = f.cfg.ReconnectDelay
		}

		f.logger.Warn("stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// SubscribeTrades adds mints to the always-subscribed trade set and, when
// connected, subscribes them immediately. Used at startup to resume the
// price stream for restored open positions.
func (f *DexStreamFeed) SubscribeTrades(mints ...string) error {
	if len(mints) == 0 {
		return nil
	}
	f.mu.Lock()
	known := make(map[string]struct{}, len(f.staticKeys))
	for _, k := range f.staticKeys {
		known[k] = struct{}{}
	}
	fresh := make([]string, 0, len(mints))
	for _, m := range mints {
		if _, ok := known[m]; ok {
			continue
		}
		known[m] = struct{}{}
		f.staticKeys = append(f.staticKeys, m)
		fresh = append(fresh, m)
	}
	connected := f.conn != nil
	f.mu.Unlock()

	if len(fresh) == 0 || !connected {
		return nil
	}
	return f.writeCommand(wsCommand{Method: "subscribeTokenTrade", Keys: fresh})
}

// UnsubscribeTrades removes mints from the trade set and, when connected,
// unsubscribes them on the live stream.
func (f *DexStreamFeed) UnsubscribeTrades(mints ...string) error {
	if len(mints) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(mints))
	for _, m := range mints {
		drop[m] = struct{}{}
	}

	f.mu.Lock()
	kept := f.staticKeys[:0]
	for _, k := range f.staticKeys {
		if _, ok := drop[k]; !ok {
			kept = append(kept, k)
		}
	}
	f.staticKeys = kept

	keptDyn := f.dynamicKeys[:0]
	for _, k := range f.dynamicKeys {
		if _, ok := drop[k]; ok {
			delete(f.dynamicSet, k)
			continue
		}
		keptDyn = append(keptDyn, k)
	}
	f.dynamicKeys = keptDyn
	connected := f.conn != nil
	f.mu.Unlock()

	if !connected {
		return nil
	}
	return f.writeCommand(wsCommand{Method: "unsubscribeTokenTrade", Keys: mints})
}

// Close stops the feed. Run returns nil after Close.
func (f *DexStreamFeed) Close() {
	f.closeOnce.Do(func() {
		close(f.done)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.conn != nil {
			_ = f.conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			_ = f.conn.Close()
		}
	})
}

// runConnection dials, subscribes, and reads until the connection drops.
// The returned bool reports whether the connection was established.
func (f *DexStreamFeed) runConnection(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.cfg.WSURL, nil)
	if err != nil {
		return false, fmt.Errorf("feed: connect: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Unblock ReadMessage when the context is cancelled or the feed closes.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		case <-stop:
			return
		}
		_ = conn.Close()
	}()
	go f.pingLoop(stop)

	if err := f.subscribe(); err != nil {
		return true, err
	}
	f.logger.Info("stream connected",
		slog.String("url", f.cfg.WSURL),
		slog.Bool("new_pools", f.cfg.SubscribeNewPools),
		slog.Int("trade_keys", len(f.tradeKeys())),
	)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
				return true, nil
			default:
			}
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return true, fmt.Errorf("feed: read: %w: %w", domain.ErrWSDisconnect, err)
		}
		f.handleMessage(ctx, raw)
	}
}

// subscribe sends the new-token and trade subscriptions for the current key set.
func (f *DexStreamFeed) subscribe() error {
	if f.cfg.SubscribeNewPools {
		if err := f.writeCommand(wsCommand{Method: "subscribeNewToken"}); err != nil {
			return err
		}
	}
	if keys := f.tradeKeys(); len(keys) > 0 {
		if err := f.writeCommand(wsCommand{Method: "subscribeTokenTrade", Keys: keys}); err != nil {
			return err
		}
	}
	return nil
}

func (f *DexStreamFeed) tradeKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.staticKeys)+len(f.dynamicKeys))
	keys = append(keys, f.staticKeys...)
	keys = append(keys, f.dynamicKeys...)
	return keys
}

// writeCommand serializes writes to the connection.
func (f *DexStreamFeed) writeCommand(cmd wsCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("feed: %w", domain.ErrWSDisconnect)
	}
	_ = f.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := f.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("feed: send %s: %w", cmd.Method, err)
	}
	return nil
}

// pingLoop keeps the connection alive until the connection or feed stops.
func (f *DexStreamFeed) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-f.done:
			return
		case <-ticker.C:
			f.mu.Lock()
			conn := f.conn
			if conn != nil {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				f.mu.Unlock()
				if err != nil {
					return
				}
				continue
			}
			f.mu.Unlock()
			return
		}
	}
}

// handleMessage normalizes one stream event and publishes it.
func (f *DexStreamFeed) handleMessage(ctx context.Context, raw []byte) {
	var ev streamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	if ev.Message != "" {
		f.logger.Debug("stream ack", slog.String("message", ev.Message))
		return
	}
	if ev.Mint == "" {
		return
	}

	var price float64
	if ev.VTokensInBondingCurve > 0 {
		price = ev.VSolInBondingCurve / ev.VTokensInBondingCurve
	}
	source := ev.Pool
	if source == "" {
		source = "dexstream"
	}
	now := time.Now().UTC()

	switch ev.TxType {
	case "create":
		f.publishListing(ctx, listingEvent{
			Event:            "new_token",
			TokenMint:        ev.Mint,
			Symbol:           ev.Symbol,
			Name:             ev.Name,
			InitialPrice:     price,
			InitialLiquidity: ev.VSolInBondingCurve,
			Creator:          ev.TraderPublicKey,
			Source:           source,
			Timestamp:        now.Format(time.RFC3339Nano),
		})
		f.cachePrice(ctx, ev.Mint, price, now)
		f.cacheToken(ctx, ev, now)
		f.trackLaunch(ev.Mint)

	case "buy", "sell":
		f.publishTick(ctx, priceEvent{
			Event:     "trade",
			TokenMint: ev.Mint,
			Price:     price,
			AmountSOL: ev.SolAmount,
			Side:      ev.TxType,
			Source:    source,
			Timestamp: now.Format(time.RFC3339Nano),
		})
		f.cachePrice(ctx, ev.Mint, price, now)

	default:
		f.logger.Debug("unhandled stream event", slog.String("tx_type", ev.TxType))
	}
}

func (f *DexStreamFeed) publishListing(ctx context.Context, ev listingEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := f.bus.Publish(ctx, busChannelListings, payload); err != nil {
		f.logger.Warn("publish listing failed",
			slog.String("mint", ev.TokenMint),
			slog.String("error", err.Error()),
		)
		return
	}
	f.logger.Info("new token listed",
		slog.String("mint", ev.TokenMint),
		slog.String("symbol", ev.Symbol),
		slog.Float64("initial_liquidity_sol", ev.InitialLiquidity),
	)
}

func (f *DexStreamFeed) publishTick(ctx context.Context, ev priceEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := f.bus.Publish(ctx, busChannelPrices, payload); err != nil {
		f.logger.Warn("publish tick failed",
			slog.String("mint", ev.TokenMint),
			slog.String("error", err.Error()),
		)
	}
}

func (f *DexStreamFeed) cachePrice(ctx context.Context, mint string, price float64, ts time.Time) {
	if f.prices == nil || price <= 0 {
		return
	}
	if err := f.prices.SetPrice(ctx, mint, price, ts); err != nil {
		f.logger.Debug("price cache update failed",
			slog.String("mint", mint),
			slog.String("error", err.Error()),
		)
	}
}

func (f *DexStreamFeed) cacheToken(ctx context.Context, ev streamEvent, now time.Time) {
	if f.tokens == nil {
		return
	}
	source := ev.Pool
	if source == "" {
		source = "dexstream"
	}
	err := f.tokens.Set(ctx, domain.Token{
		Mint:         ev.Mint,
		Symbol:       ev.Symbol,
		Name:         ev.Name,
		Source:       source,
		DiscoveredAt: now,
	})
	if err != nil {
		f.logger.Debug("token cache update failed",
			slog.String("mint", ev.Mint),
			slog.String("error", err.Error()),
		)
	}
}

// trackLaunch auto-subscribes trades for a newly created token so the
// momentum detectors and open-position exits see its price stream.
func (f *DexStreamFeed) trackLaunch(mint string) {
	f.mu.Lock()
	if _, ok := f.dynamicSet[mint]; ok {
		f.mu.Unlock()
		return
	}
	f.dynamicSet[mint] = struct{}{}
	f.dynamicKeys = append(f.dynamicKeys, mint)
	var evicted string
	if len(f.dynamicKeys) > maxTradeSubs {
		evicted = f.dynamicKeys[0]
		f.dynamicKeys = append([]string(nil), f.dynamicKeys[1:]...)
		delete(f.dynamicSet, evicted)
	}
	f.mu.Unlock()

	if err := f.writeCommand(wsCommand{Method: "subscribeTokenTrade", Keys: []string{mint}}); err != nil {
		f.logger.Debug("trade subscribe failed",
			slog.String("mint", mint),
			slog.String("error", err.Error()),
		)
	}
	if evicted != "" {
		_ = f.writeCommand(wsCommand{Method: "unsubscribeTokenTrade", Keys: []string{evicted}})
	}
}
