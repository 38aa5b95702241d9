package domain

// StrategyFamily selects one of the built-in exit policy presets. The set is
// closed: every tradable strategy maps onto exactly one family.
type StrategyFamily string

const (
	FamilyPureSniper       StrategyFamily = "pure_sniper"
	FamilyCautiousSniper   StrategyFamily = "cautious_sniper"
	FamilyMomentumTrader   StrategyFamily = "momentum_trader"
	FamilyDLMMFeeHarvester StrategyFamily = "dlmm_fee_harvester"
)

// TrailingStopConfig arms once unrealized profit reaches ActivationPercent and
// fires when profit retraces more than TrailPercent points below the
// high-water mark.
type TrailingStopConfig struct {
	ActivationPercent float64 `json:"activation_percent"`
	TrailPercent      float64 `json:"trail_percent"`
}

// PartialExitLevel describes one scale-out step: sell ExitFraction of the
// remaining position once profit reaches ProfitPercent.
type PartialExitLevel struct {
	ProfitPercent float64 `json:"profit_percent"`
	ExitFraction  float64 `json:"exit_fraction"`
}

// ExitStrategy is the immutable exit policy attached to a position at entry.
// A zero TakeProfitPercent, StopLossPercent, or TimeExitHours disables that
// trigger; StopLossPercent is negative when set.
type ExitStrategy struct {
	TakeProfitPercent float64             `json:"take_profit_percent"`
	StopLossPercent   float64             `json:"stop_loss_percent"`
	TimeExitHours     float64             `json:"time_exit_hours"`
	TrailingStop      *TrailingStopConfig `json:"trailing_stop,omitempty"`
	PartialExits      []PartialExitLevel  `json:"partial_exits,omitempty"`
}

// ExitStrategyFor returns the preset exit policy for a strategy family.
func ExitStrategyFor(family StrategyFamily) ExitStrategy {
	switch family {
	case FamilyCautiousSniper:
		return ExitStrategy{
			TakeProfitPercent: 200.0,
			StopLossPercent:   -60.0,
			TimeExitHours:     2.0,
		}
	case FamilyMomentumTrader:
		return ExitStrategy{
			StopLossPercent: -20.0,
			TimeExitHours:   24.0,
			TrailingStop: &TrailingStopConfig{
				ActivationPercent: 50.0,
				TrailPercent:      20.0,
			},
			PartialExits: []PartialExitLevel{
				{ProfitPercent: 50.0, ExitFraction: 0.25},
				{ProfitPercent: 100.0, ExitFraction: 0.25},
			},
		}
	case FamilyDLMMFeeHarvester:
		return ExitStrategy{
			StopLossPercent: -30.0,
			TimeExitHours:   168.0,
		}
	default:
		return ExitStrategy{
			TakeProfitPercent: 300.0,
			StopLossPercent:   -80.0,
			TimeExitHours:     1.0,
		}
	}
}

// ParseStrategyFamily maps a strategy name to its family. Aliases cover the
// signal sources that predate the family split. Unknown names report ok=false
// and fall back to PureSniper; callers decide whether to warn.
func ParseStrategyFamily(name string) (StrategyFamily, bool) {
	switch name {
	case "pure_sniper", "pumpfun_sniping", "liquidity_snipe", "liquidity_sniping":
		return FamilyPureSniper, true
	case "cautious_sniper", "token_sniping":
		return FamilyCautiousSniper, true
	case "momentum_trader", "momentum", "volume_spike":
		return FamilyMomentumTrader, true
	case "dlmm_fee_harvester", "meteora_dlmm":
		return FamilyDLMMFeeHarvester, true
	default:
		return FamilyPureSniper, false
	}
}
