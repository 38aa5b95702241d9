package domain

import (
	"context"
	"time"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a request to trade a token. Size is denominated in SOL for buys
// and in tokens for sells; Price is the reference price used for slippage
// bounds, not a resting limit.
type Order struct {
	ID                  string      `json:"id"`
	Symbol              string      `json:"symbol"`
	TokenMint           string      `json:"token_mint"`
	Side                OrderSide   `json:"side"`
	Type                OrderType   `json:"type"`
	Size                float64     `json:"size"`
	Price               float64     `json:"price"`
	MaxSlippageBps      int         `json:"max_slippage_bps"`
	PriorityFeeLamports uint64      `json:"priority_fee_lamports,omitempty"`
	Strategy            string      `json:"strategy,omitempty"`
	PositionID          string      `json:"position_id,omitempty"`
	Status              OrderStatus `json:"status"`
	CreatedAt           time.Time   `json:"created_at"`
}

// ExecutionResult reports the outcome of one order submission. FilledSize is
// the SOL actually spent on buys and the tokens actually sold on sells.
type ExecutionResult struct {
	OrderID       string        `json:"order_id"`
	Success       bool          `json:"success"`
	TxSignature   string        `json:"tx_signature,omitempty"`
	FilledSize    float64       `json:"filled_size"`
	FilledPrice   float64       `json:"filled_price"`
	FeesSOL       float64       `json:"fees_sol"`
	SlippageBps   float64       `json:"slippage_bps"`
	ExecutionTime time.Duration `json:"execution_time"`
	Err           string        `json:"error,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// ExecutionParams bounds retry behavior for a single order.
type ExecutionParams struct {
	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`
	Timeout    time.Duration `json:"timeout"`
}

// DefaultExecutionParams returns the standard retry envelope.
func DefaultExecutionParams() ExecutionParams {
	return ExecutionParams{
		MaxRetries: 3,
		RetryDelay: time.Second,
		Timeout:    30 * time.Second,
	}
}

// ExecutionBackend submits orders to a venue and reports fills.
// Implementations must honor the context deadline and return a failed
// ExecutionResult (Success=false, Err set) for venue-side rejections, keeping
// error returns for transport and programming faults.
type ExecutionBackend interface {
	ExecuteOrder(ctx context.Context, order Order) (ExecutionResult, error)
	Name() string
}
