package jupiter

import (
	"fmt"
	"strconv"
)

// QuoteRequest describes one swap to quote. AmountRaw is in the input
// mint's base units (lamports for SOL, raw token units otherwise).
type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	AmountRaw   uint64
	SlippageBps int
}

// Quote is one executable route returned by the aggregator. Raw holds the
// untouched response body for the follow-up /swap call.
type Quote struct {
	InputMint      string
	OutputMint     string
	InAmount       uint64
	OutAmount      uint64
	MinOutAmount   uint64
	PriceImpactPct float64
	Raw            []byte
}

// apiQuote mirrors the /quote response fields the bot reads. Jupiter encodes
// amounts as decimal strings.
type apiQuote struct {
	InputMint            string `json:"inputMint"`
	InAmount             string `json:"inAmount"`
	OutputMint           string `json:"outputMint"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	PriceImpactPct       string `json:"priceImpactPct"`
}

func (a apiQuote) toQuote(raw []byte) (Quote, error) {
	inAmount, err := strconv.ParseUint(a.InAmount, 10, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("parse inAmount %q: %w", a.InAmount, err)
	}
	outAmount, err := strconv.ParseUint(a.OutAmount, 10, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("parse outAmount %q: %w", a.OutAmount, err)
	}

	quote := Quote{
		InputMint:  a.InputMint,
		OutputMint: a.OutputMint,
		InAmount:   inAmount,
		OutAmount:  outAmount,
		Raw:        append([]byte(nil), raw...),
	}

	if a.OtherAmountThreshold != "" {
		if minOut, err := strconv.ParseUint(a.OtherAmountThreshold, 10, 64); err == nil {
			quote.MinOutAmount = minOut
		}
	}
	if a.PriceImpactPct != "" {
		if impact, err := strconv.ParseFloat(a.PriceImpactPct, 64); err == nil {
			quote.PriceImpactPct = impact
		}
	}

	return quote, nil
}

type apiPriceEntry struct {
	ID    string  `json:"id"`
	Price float64 `json:"price"`
}

type apiPriceResponse struct {
	Data map[string]apiPriceEntry `json:"data"`
}
