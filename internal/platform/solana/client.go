package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

// LamportsPerSOL converts between lamports and whole SOL.
const LamportsPerSOL = 1_000_000_000

// Client is a minimal JSON-RPC client for the Solana HTTP API. It covers
// the calls the bot needs: balance reads, transaction submission and
// confirmation, mint metadata, and node health.
type Client struct {
	rpcURL     string
	commitment string
	httpClient *http.Client
}

// NewClient creates a Solana RPC client.
//
// rpcURL is the HTTP endpoint, e.g. "https://api.mainnet-beta.solana.com".
// commitment defaults to "confirmed" when empty.
func NewClient(rpcURL, commitment string) *Client {
	if commitment == "" {
		commitment = "confirmed"
	}
	return &Client{
		rpcURL:     rpcURL,
		commitment: commitment,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetBalance returns the SOL balance of an account.
func (c *Client) GetBalance(ctx context.Context, pubkey string) (float64, error) {
	var result struct {
		Value uint64 `json:"value"`
	}
	params := []any{pubkey, map[string]any{"commitment": c.commitment}}
	if err := c.call(ctx, "getBalance", params, &result); err != nil {
		return 0, err
	}
	return float64(result.Value) / LamportsPerSOL, nil
}

// GetTokenDecimals returns the decimal precision of an SPL token mint.
func (c *Client) GetTokenDecimals(ctx context.Context, mint string) (uint8, error) {
	var result struct {
		Value struct {
			Decimals uint8 `json:"decimals"`
		} `json:"value"`
	}
	params := []any{mint, map[string]any{"commitment": c.commitment}}
	if err := c.call(ctx, "getTokenSupply", params, &result); err != nil {
		return 0, err
	}
	return result.Value.Decimals, nil
}

// GetLatestBlockhash returns the most recent blockhash at the client's
// commitment level.
func (c *Client) GetLatestBlockhash(ctx context.Context) (string, error) {
	var result struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	params := []any{map[string]any{"commitment": c.commitment}}
	if err := c.call(ctx, "getLatestBlockhash", params, &result); err != nil {
		return "", err
	}
	return result.Value.Blockhash, nil
}

// SendTransaction submits a signed, base64-encoded transaction and returns
// its signature.
func (c *Client) SendTransaction(ctx context.Context, txBase64 string) (string, error) {
	var signature string
	params := []any{txBase64, map[string]any{
		"encoding":            "base64",
		"skipPreflight":       false,
		"preflightCommitment": c.commitment,
		"maxRetries":          3,
	}}
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

// TxStatus is the confirmation state of a submitted transaction.
type TxStatus struct {
	Confirmed bool
	Err       string
}

// GetSignatureStatus looks up the confirmation state of one signature.
// A zero TxStatus means the cluster has not seen the transaction yet.
func (c *Client) GetSignatureStatus(ctx context.Context, signature string) (TxStatus, error) {
	var result struct {
		Value []*struct {
			ConfirmationStatus string          `json:"confirmationStatus"`
			Err                json.RawMessage `json:"err"`
		} `json:"value"`
	}
	params := []any{[]string{signature}, map[string]any{"searchTransactionHistory": false}}
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return TxStatus{}, err
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return TxStatus{}, nil
	}

	entry := result.Value[0]
	status := TxStatus{
		Confirmed: entry.ConfirmationStatus == "confirmed" || entry.ConfirmationStatus == "finalized",
	}
	if len(entry.Err) > 0 && string(entry.Err) != "null" {
		status.Err = string(entry.Err)
	}
	return status, nil
}

// WaitForConfirmation polls the signature status until the transaction
// confirms, fails on chain, or ctx expires. Transient RPC errors are
// tolerated between polls.
func (c *Client) WaitForConfirmation(ctx context.Context, signature string, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.GetSignatureStatus(ctx, signature)
		if err == nil {
			if status.Err != "" {
				return fmt.Errorf("solana: transaction %s failed on chain: %s", signature, status.Err)
			}
			if status.Confirmed {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("solana: confirm %s: %w", signature, ctx.Err())
		case <-ticker.C:
		}
	}
}

// GetHealth reports whether the RPC node considers itself healthy.
func (c *Client) GetHealth(ctx context.Context) error {
	var status string
	if err := c.call(ctx, "getHealth", nil, &status); err != nil {
		return err
	}
	if status != "ok" {
		return fmt.Errorf("solana: node unhealthy: %s", status)
	}
	return nil
}

// --------------------------------------------------------------------------
// JSON-RPC plumbing
// --------------------------------------------------------------------------

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// call sends one JSON-RPC request and decodes the result field into result
// when it is non-nil.
func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("solana: %s: marshal request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("solana: %s: create request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("solana: %s: http request: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("solana: %s: read response: %w", method, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("solana: %s: %w: %s", method, domain.ErrRateLimited, string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("solana: %s: HTTP %d: %s", method, resp.StatusCode, string(respBody))
	}

	var envelope rpcResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("solana: %s: decode response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("solana: %s: %w", method, envelope.Error)
	}

	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("solana: %s: decode result: %w", method, err)
		}
	}

	return nil
}
