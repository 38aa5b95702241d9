package domain

import (
	"context"
	"time"
)

// PriceCache holds the latest observed price per token mint.
type PriceCache interface {
	SetPrice(ctx context.Context, tokenMint string, price float64, ts time.Time) error
	// GetPrice returns ErrNotFound when the token has no recorded price.
	GetPrice(ctx context.Context, tokenMint string) (float64, time.Time, error)
	// GetPrices batch-fetches prices; unknown mints are omitted.
	GetPrices(ctx context.Context, tokenMints []string) (map[string]float64, error)
}

// TokenCache holds discovered token metadata.
type TokenCache interface {
	Set(ctx context.Context, t Token) error
	// Get returns ErrNotFound for unknown mints.
	Get(ctx context.Context, mint string) (Token, error)
	// GetBySymbol resolves a token by its ticker symbol.
	GetBySymbol(ctx context.Context, symbol string) (Token, error)
	Invalidate(ctx context.Context, mint string) error
}

// PositionStream is the durable journal of position lifecycle events. The
// position manager appends to it alongside the live "positions" channel so
// a dashboard reconnecting mid-session can replay what it missed.
const PositionStream = "stream:positions"

// StreamMessage is a single entry read from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus decouples event producers from their consumers. Pub/Sub carries
// ephemeral fan-out; streams keep a bounded journal of past events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	// StreamRecent returns up to count of the newest entries in
	// chronological order, or an empty slice when the stream is empty.
	StreamRecent(ctx context.Context, stream string, count int) ([]StreamMessage, error)
}

// LockManager provides coarse distributed mutual exclusion so two bot
// instances never trade the same token at once.
type LockManager interface {
	// Acquire returns an unlock function on success, or ErrLockHeld when
	// another holder owns the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter enforces per-key request budgets over a rolling window.
type RateLimiter interface {
	// Allow reports whether the key has budget left in the window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
