package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

func spikeConfig() VolumeSpikeConfig {
	return VolumeSpikeConfig{
		VolumeMultiple: 3,
		Window:         60 * time.Second,
		SizeSOL:        0.05,
		Cooldown:       5 * time.Minute,
	}
}

func tick(mint string, price, amountSOL float64, ts time.Time) domain.PriceTick {
	return domain.PriceTick{
		Symbol:    "PUMP",
		TokenMint: mint,
		Price:     price,
		AmountSOL: amountSOL,
		Source:    "pumpportal",
		Timestamp: ts,
	}
}

func TestVolumeSpikeFires(t *testing.T) {
	tracker := NewPriceTracker(10 * time.Minute)
	vs := NewVolumeSpike(spikeConfig(), tracker, testLogger())
	ctx := context.Background()
	t0 := time.Now().UTC()

	// Baseline ticks: modest volume in the preceding window.
	signals, err := vs.OnPriceTick(ctx, tick("MintA", 0.001, 3.0, t0.Add(-90*time.Second)))
	require.NoError(t, err)
	assert.Empty(t, signals, "no baseline yet")

	signals, err = vs.OnPriceTick(ctx, tick("MintA", 0.00098, 1.0, t0.Add(-50*time.Second)))
	require.NoError(t, err)
	assert.Empty(t, signals)

	// The spike: current window carries 9 SOL against a 3 SOL baseline.
	signals, err = vs.OnPriceTick(ctx, tick("MintA", 0.00105, 8.0, t0.Add(-10*time.Second)))
	require.NoError(t, err)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, "volume_spike", sig.Strategy)
	assert.Equal(t, domain.OrderSideBuy, sig.Side)
	assert.Equal(t, 0.00105, sig.Price)
	assert.InDelta(t, 0.05/0.00105, sig.Size, 1e-9)
	assert.Equal(t, "3.00", sig.Metadata["ratio"])

	family, known := domain.ParseStrategyFamily(sig.Strategy)
	assert.True(t, known)
	assert.Equal(t, domain.FamilyMomentumTrader, family, "spikes ride the momentum preset")

	// Cooldown suppresses an immediate re-entry on the same mint.
	signals, err = vs.OnPriceTick(ctx, tick("MintA", 0.0011, 20.0, t0))
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestVolumeSpikeNeedsBaseline(t *testing.T) {
	tracker := NewPriceTracker(10 * time.Minute)
	vs := NewVolumeSpike(spikeConfig(), tracker, testLogger())
	ctx := context.Background()
	t0 := time.Now().UTC()

	// All volume lands inside the current window; there is nothing to
	// compare against, so no signal regardless of size.
	signals, err := vs.OnPriceTick(ctx, tick("MintA", 0.001, 50, t0.Add(-20*time.Second)))
	require.NoError(t, err)
	assert.Empty(t, signals)

	signals, err = vs.OnPriceTick(ctx, tick("MintA", 0.002, 50, t0))
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestVolumeSpikeNeedsRisingPrice(t *testing.T) {
	tracker := NewPriceTracker(10 * time.Minute)
	vs := NewVolumeSpike(spikeConfig(), tracker, testLogger())
	ctx := context.Background()
	t0 := time.Now().UTC()

	_, err := vs.OnPriceTick(ctx, tick("MintA", 0.001, 3.0, t0.Add(-90*time.Second)))
	require.NoError(t, err)
	_, err = vs.OnPriceTick(ctx, tick("MintA", 0.00105, 1.0, t0.Add(-50*time.Second)))
	require.NoError(t, err)

	// Heavy volume but the price is bleeding: distribution, not momentum.
	signals, err := vs.OnPriceTick(ctx, tick("MintA", 0.00095, 8.0, t0.Add(-10*time.Second)))
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestVolumeSpikeIgnoresZeroPrice(t *testing.T) {
	tracker := NewPriceTracker(10 * time.Minute)
	vs := NewVolumeSpike(spikeConfig(), tracker, testLogger())

	signals, err := vs.OnPriceTick(context.Background(), tick("MintA", 0, 5, time.Now().UTC()))
	require.NoError(t, err)
	assert.Empty(t, signals)
	assert.Empty(t, tracker.History("MintA"), "unpriced ticks are not recorded")
}
