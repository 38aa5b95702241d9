package strategy

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testListing(mint string, liquidity float64) domain.TokenListing {
	return domain.TokenListing{
		TokenMint:        mint,
		Symbol:           "PUMP",
		InitialPrice:     0.001,
		InitialLiquidity: liquidity,
		Source:           "pumpportal",
		Timestamp:        time.Now().UTC(),
	}
}

func snipeConfig() LiquiditySnipeConfig {
	return LiquiditySnipeConfig{
		MinLiquiditySOL: 5,
		MaxTokenAge:     60 * time.Second,
		SizeSOL:         0.05,
		Cooldown:        time.Millisecond,
	}
}

func TestLiquiditySnipeFires(t *testing.T) {
	ls := NewLiquiditySnipe(snipeConfig(), testLogger())

	signals, err := ls.OnTokenListing(context.Background(), testListing("MintA", 10))
	require.NoError(t, err)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, "liquidity_snipe", sig.Strategy)
	assert.Equal(t, domain.OrderSideBuy, sig.Side)
	assert.Equal(t, "MintA", sig.TokenMint)
	assert.Equal(t, 0.001, sig.Price)
	assert.InDelta(t, 50.0, sig.Size, 1e-9, "0.05 SOL at 0.001 SOL/token buys 50 tokens")
	assert.Greater(t, sig.Strength, 0.0)
	assert.LessOrEqual(t, sig.Strength, 1.0)
	assert.WithinDuration(t, time.Now().UTC().Add(30*time.Second), sig.ExpiresAt, 2*time.Second)

	family, known := domain.ParseStrategyFamily(sig.Strategy)
	assert.True(t, known)
	assert.Equal(t, domain.FamilyPureSniper, family, "snipes exit on the pure sniper preset")
}

func TestLiquiditySnipeFilters(t *testing.T) {
	t.Run("below liquidity floor", func(t *testing.T) {
		ls := NewLiquiditySnipe(snipeConfig(), testLogger())
		signals, err := ls.OnTokenListing(context.Background(), testListing("MintA", 4.9))
		require.NoError(t, err)
		assert.Empty(t, signals)
	})

	t.Run("stale listing", func(t *testing.T) {
		ls := NewLiquiditySnipe(snipeConfig(), testLogger())
		listing := testListing("MintA", 10)
		listing.Timestamp = time.Now().UTC().Add(-2 * time.Minute)
		signals, err := ls.OnTokenListing(context.Background(), listing)
		require.NoError(t, err)
		assert.Empty(t, signals)
	})

	t.Run("no price", func(t *testing.T) {
		ls := NewLiquiditySnipe(snipeConfig(), testLogger())
		listing := testListing("MintA", 10)
		listing.InitialPrice = 0
		signals, err := ls.OnTokenListing(context.Background(), listing)
		require.NoError(t, err)
		assert.Empty(t, signals)
	})

	t.Run("same mint fires once", func(t *testing.T) {
		ls := NewLiquiditySnipe(snipeConfig(), testLogger())
		signals, err := ls.OnTokenListing(context.Background(), testListing("MintA", 10))
		require.NoError(t, err)
		require.Len(t, signals, 1)

		time.Sleep(2 * time.Millisecond)
		signals, err = ls.OnTokenListing(context.Background(), testListing("MintA", 10))
		require.NoError(t, err)
		assert.Empty(t, signals)
	})
}

func TestLiquiditySnipeCooldown(t *testing.T) {
	cfg := snipeConfig()
	cfg.Cooldown = time.Hour
	ls := NewLiquiditySnipe(cfg, testLogger())

	signals, err := ls.OnTokenListing(context.Background(), testListing("MintA", 10))
	require.NoError(t, err)
	require.Len(t, signals, 1)

	// A different mint inside the cooldown window is still throttled.
	signals, err = ls.OnTokenListing(context.Background(), testListing("MintB", 10))
	require.NoError(t, err)
	assert.Empty(t, signals)
}
