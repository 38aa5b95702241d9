package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

// PaperBackend simulates fills without touching the chain. Fills land at the
// order's reference price with a fixed slippage haircut applied against the
// trader, so paper results stay conservative relative to live execution.
type PaperBackend struct {
	slippageBps int
	feeSOL      float64
	logger      *slog.Logger
}

// NewPaperBackend creates a simulated execution backend. slippageBps is the
// haircut applied to every fill, feeSOL the flat network fee charged per
// trade.
func NewPaperBackend(slippageBps int, feeSOL float64, logger *slog.Logger) *PaperBackend {
	if slippageBps < 0 {
		slippageBps = 0
	}
	return &PaperBackend{
		slippageBps: slippageBps,
		feeSOL:      feeSOL,
		logger:      logger.With(slog.String("component", "paper_backend")),
	}
}

// Name implements domain.ExecutionBackend.
func (b *PaperBackend) Name() string { return "paper" }

// ExecuteOrder simulates one fill. Buys fill above the reference price,
// sells below it. FilledSize follows the execution result convention: SOL
// spent for buys, tokens sold for sells.
func (b *PaperBackend) ExecuteOrder(ctx context.Context, order domain.Order) (domain.ExecutionResult, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return domain.ExecutionResult{}, err
	}

	if order.Price <= 0 {
		return domain.ExecutionResult{
			OrderID:       order.ID,
			Success:       false,
			Err:           "no reference price for simulated fill",
			ExecutionTime: time.Since(start),
			Timestamp:     time.Now().UTC(),
		}, nil
	}

	slip := float64(b.slippageBps) / 10_000
	filledPrice := order.Price * (1 + slip)
	filledSize := order.Size * filledPrice
	if order.Side == domain.OrderSideSell {
		filledPrice = order.Price * (1 - slip)
		filledSize = order.Size
	}

	result := domain.ExecutionResult{
		OrderID:       order.ID,
		Success:       true,
		TxSignature:   "paper-" + uuid.New().String(),
		FilledSize:    filledSize,
		FilledPrice:   filledPrice,
		FeesSOL:       b.feeSOL,
		SlippageBps:   float64(b.slippageBps),
		ExecutionTime: time.Since(start),
		Timestamp:     time.Now().UTC(),
	}

	b.logger.Debug("simulated fill",
		slog.String("order_id", order.ID),
		slog.String("mint", order.TokenMint),
		slog.String("side", string(order.Side)),
		slog.Float64("filled_price", filledPrice),
		slog.Float64("filled_size", filledSize),
	)

	return result, nil
}
