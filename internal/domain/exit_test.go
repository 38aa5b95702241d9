package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitStrategyPresets(t *testing.T) {
	tests := []struct {
		name       string
		family     StrategyFamily
		takeProfit float64
		stopLoss   float64
		hours      float64
		trailing   bool
		partials   int
	}{
		{"pure sniper", FamilyPureSniper, 300.0, -80.0, 1.0, false, 0},
		{"cautious sniper", FamilyCautiousSniper, 200.0, -60.0, 2.0, false, 0},
		{"momentum trader", FamilyMomentumTrader, 0.0, -20.0, 24.0, true, 2},
		{"dlmm fee harvester", FamilyDLMMFeeHarvester, 0.0, -30.0, 168.0, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strat := ExitStrategyFor(tt.family)
			assert.Equal(t, tt.takeProfit, strat.TakeProfitPercent)
			assert.Equal(t, tt.stopLoss, strat.StopLossPercent)
			assert.Equal(t, tt.hours, strat.TimeExitHours)
			assert.Equal(t, tt.trailing, strat.TrailingStop != nil)
			assert.Len(t, strat.PartialExits, tt.partials)
		})
	}

	t.Run("momentum trailing parameters", func(t *testing.T) {
		strat := ExitStrategyFor(FamilyMomentumTrader)
		if assert.NotNil(t, strat.TrailingStop) {
			assert.Equal(t, 50.0, strat.TrailingStop.ActivationPercent)
			assert.Equal(t, 20.0, strat.TrailingStop.TrailPercent)
		}
		if assert.Len(t, strat.PartialExits, 2) {
			assert.Equal(t, 50.0, strat.PartialExits[0].ProfitPercent)
			assert.Equal(t, 0.25, strat.PartialExits[0].ExitFraction)
			assert.Equal(t, 100.0, strat.PartialExits[1].ProfitPercent)
			assert.Equal(t, 0.25, strat.PartialExits[1].ExitFraction)
		}
	})

	t.Run("unknown family falls back to pure sniper", func(t *testing.T) {
		assert.Equal(t, ExitStrategyFor(FamilyPureSniper), ExitStrategyFor(StrategyFamily("nonsense")))
	})
}

func TestParseStrategyFamily(t *testing.T) {
	tests := []struct {
		in     string
		family StrategyFamily
		known  bool
	}{
		{"pure_sniper", FamilyPureSniper, true},
		{"pumpfun_sniping", FamilyPureSniper, true},
		{"liquidity_snipe", FamilyPureSniper, true},
		{"cautious_sniper", FamilyCautiousSniper, true},
		{"token_sniping", FamilyCautiousSniper, true},
		{"momentum_trader", FamilyMomentumTrader, true},
		{"momentum", FamilyMomentumTrader, true},
		{"volume_spike", FamilyMomentumTrader, true},
		{"dlmm_fee_harvester", FamilyDLMMFeeHarvester, true},
		{"meteora_dlmm", FamilyDLMMFeeHarvester, true},
		{"", FamilyPureSniper, false},
		{"made_up_strategy", FamilyPureSniper, false},
	}

	for _, tt := range tests {
		family, known := ParseStrategyFamily(tt.in)
		assert.Equal(t, tt.family, family, "input %q", tt.in)
		assert.Equal(t, tt.known, known, "input %q", tt.in)
	}
}
