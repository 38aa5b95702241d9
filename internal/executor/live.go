package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/sniperlabs/sniperbot/internal/crypto"
	"github.com/sniperlabs/sniperbot/internal/domain"
	"github.com/sniperlabs/sniperbot/internal/platform/jupiter"
	"github.com/sniperlabs/sniperbot/internal/platform/solana"
)

// baseFeeSOL is the flat signature fee every Solana transaction pays on top
// of any priority fee.
const baseFeeSOL = 0.000005

// LiveBackend executes orders on-chain through the Jupiter aggregator:
// quote the route, have Jupiter build the swap transaction, sign it with the
// wallet, submit over RPC, and wait for confirmation. Token decimal
// precision is fetched once per mint and cached.
type LiveBackend struct {
	jup    *jupiter.Client
	rpc    *solana.Client
	signer *crypto.Signer
	logger *slog.Logger

	decimalsMu sync.Mutex
	decimals   map[string]uint8
}

// NewLiveBackend creates an on-chain execution backend.
func NewLiveBackend(jup *jupiter.Client, rpc *solana.Client, signer *crypto.Signer, logger *slog.Logger) *LiveBackend {
	return &LiveBackend{
		jup:      jup,
		rpc:      rpc,
		signer:   signer,
		logger:   logger.With(slog.String("component", "live_backend")),
		decimals: make(map[string]uint8),
	}
}

// Name implements domain.ExecutionBackend.
func (b *LiveBackend) Name() string { return "live" }

// ExecuteOrder swaps SOL into the token for buys and the token back into
// SOL for sells. The returned fill is derived from the quoted route: SOL
// spent for buys, tokens sold for sells, per the execution result
// convention.
func (b *LiveBackend) ExecuteOrder(ctx context.Context, order domain.Order) (domain.ExecutionResult, error) {
	start := time.Now()

	decimals, err := b.tokenDecimals(ctx, order.TokenMint)
	if err != nil {
		return b.failure(order, start, "token decimals", err)
	}

	req, err := quoteRequestFor(order, decimals)
	if err != nil {
		return b.failure(order, start, "build quote request", err)
	}

	quote, err := b.jup.Quote(ctx, req)
	if err != nil {
		return b.failure(order, start, "quote", err)
	}

	txBase64, err := b.jup.SwapTx(ctx, quote, b.signer.PublicKey(), order.PriorityFeeLamports)
	if err != nil {
		return b.failure(order, start, "build swap", err)
	}

	signed, err := solana.SignTransactionBase64(txBase64, b.signer)
	if err != nil {
		return b.failure(order, start, "sign", fmt.Errorf("%w: %w", domain.ErrSigningFailed, err))
	}

	txSig, err := b.rpc.SendTransaction(ctx, signed)
	if err != nil {
		return b.failure(order, start, "send", err)
	}

	if err := b.rpc.WaitForConfirmation(ctx, txSig, 0); err != nil {
		return b.failure(order, start, "confirm "+txSig, err)
	}

	result := fillFromQuote(order, quote, decimals)
	result.TxSignature = txSig
	result.ExecutionTime = time.Since(start)
	result.Timestamp = time.Now().UTC()

	b.logger.Info("swap confirmed",
		slog.String("order_id", order.ID),
		slog.String("mint", order.TokenMint),
		slog.String("side", string(order.Side)),
		slog.String("tx", txSig),
		slog.Float64("filled_price", result.FilledPrice),
		slog.Float64("filled_size", result.FilledSize),
	)

	return result, nil
}

// quoteRequestFor converts an order into the raw-unit swap Jupiter expects.
// Buys spend Size*Price SOL to acquire the token; sells spend Size tokens to
// recover SOL.
func quoteRequestFor(order domain.Order, decimals uint8) (jupiter.QuoteRequest, error) {
	req := jupiter.QuoteRequest{SlippageBps: order.MaxSlippageBps}

	switch order.Side {
	case domain.OrderSideBuy:
		req.InputMint = jupiter.WSOLMint
		req.OutputMint = order.TokenMint
		req.AmountRaw = uint64(math.Round(order.Size * order.Price * solana.LamportsPerSOL))
	case domain.OrderSideSell:
		req.InputMint = order.TokenMint
		req.OutputMint = jupiter.WSOLMint
		req.AmountRaw = uint64(math.Round(order.Size * math.Pow(10, float64(decimals))))
	default:
		return jupiter.QuoteRequest{}, fmt.Errorf("unsupported order side %q", order.Side)
	}

	if req.AmountRaw == 0 {
		return jupiter.QuoteRequest{}, fmt.Errorf("order size %v rounds to zero input units", order.Size)
	}

	return req, nil
}

// fillFromQuote derives the execution result from the quoted route amounts.
func fillFromQuote(order domain.Order, quote jupiter.Quote, decimals uint8) domain.ExecutionResult {
	tokenUnit := math.Pow(10, float64(decimals))

	result := domain.ExecutionResult{
		OrderID: order.ID,
		Success: true,
		FeesSOL: baseFeeSOL + float64(order.PriorityFeeLamports)/solana.LamportsPerSOL,
	}

	if order.Side == domain.OrderSideBuy {
		solSpent := float64(quote.InAmount) / solana.LamportsPerSOL
		tokensOut := float64(quote.OutAmount) / tokenUnit
		result.FilledSize = solSpent
		if tokensOut > 0 {
			result.FilledPrice = solSpent / tokensOut
		}
	} else {
		tokensSold := float64(quote.InAmount) / tokenUnit
		solOut := float64(quote.OutAmount) / solana.LamportsPerSOL
		result.FilledSize = tokensSold
		if tokensSold > 0 {
			result.FilledPrice = solOut / tokensSold
		}
	}

	if order.Price > 0 && result.FilledPrice > 0 {
		result.SlippageBps = math.Abs(result.FilledPrice-order.Price) / order.Price * 10_000
	}

	return result
}

func (b *LiveBackend) tokenDecimals(ctx context.Context, mint string) (uint8, error) {
	b.decimalsMu.Lock()
	if d, ok := b.decimals[mint]; ok {
		b.decimalsMu.Unlock()
		return d, nil
	}
	b.decimalsMu.Unlock()

	d, err := b.rpc.GetTokenDecimals(ctx, mint)
	if err != nil {
		return 0, err
	}

	b.decimalsMu.Lock()
	b.decimals[mint] = d
	b.decimalsMu.Unlock()
	return d, nil
}

func (b *LiveBackend) failure(order domain.Order, start time.Time, stage string, err error) (domain.ExecutionResult, error) {
	wrapped := fmt.Errorf("executor/live: %s: %w", stage, coerceExecError(err))
	return domain.ExecutionResult{
		OrderID:       order.ID,
		Success:       false,
		Err:           wrapped.Error(),
		ExecutionTime: time.Since(start),
		Timestamp:     time.Now().UTC(),
	}, wrapped
}

// coerceExecError folds backend failures into the two sentinels callers
// branch on: timeouts keep their identity, everything else is an execution
// failure.
func coerceExecError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", domain.ErrExecutionTimeout, err)
	case errors.Is(err, domain.ErrExecutionTimeout),
		errors.Is(err, domain.ErrExecutionFailed),
		errors.Is(err, domain.ErrSigningFailed):
		return err
	default:
		return fmt.Errorf("%w: %w", domain.ErrExecutionFailed, err)
	}
}
