package strategy

import (
	"context"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

// Strategy is the contract for signal generators. The engine feeds each
// enabled strategy the normalized market stream; strategies return zero or
// more trade signals per event.
type Strategy interface {
	Name() string
	Init(ctx context.Context) error
	OnPriceTick(ctx context.Context, tick domain.PriceTick) ([]domain.TradeSignal, error)
	OnTokenListing(ctx context.Context, listing domain.TokenListing) ([]domain.TradeSignal, error)
	Close() error
}
