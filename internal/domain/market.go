package domain

import "time"

// PriceTick is one normalized market-data update for a tracked token. Prices
// are quoted in SOL per token. AmountSOL carries the size of the trade that
// produced the tick, when the source reports one.
type PriceTick struct {
	Symbol    string    `json:"symbol"`
	TokenMint string    `json:"token_mint"`
	Price     float64   `json:"price"`
	AmountSOL float64   `json:"amount_sol,omitempty"`
	Volume24h float64   `json:"volume_24h,omitempty"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// TokenListing announces a newly detected token or pool.
type TokenListing struct {
	TokenMint        string    `json:"token_mint"`
	Symbol           string    `json:"symbol"`
	Name             string    `json:"name,omitempty"`
	InitialPrice     float64   `json:"initial_price"`
	InitialLiquidity float64   `json:"initial_liquidity"`
	Creator          string    `json:"creator,omitempty"`
	Source           string    `json:"source"`
	Timestamp        time.Time `json:"timestamp"`
}

// Token is cached metadata for a tradable token.
type Token struct {
	Mint         string    `json:"mint"`
	Symbol       string    `json:"symbol"`
	Name         string    `json:"name,omitempty"`
	Decimals     int       `json:"decimals"`
	LiquidityUSD float64   `json:"liquidity_usd,omitempty"`
	Source       string    `json:"source,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
}
