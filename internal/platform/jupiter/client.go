package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

// WSOLMint is the wrapped-SOL mint. Every buy routes SOL into a token
// through it and every sell routes back out.
const WSOLMint = "So11111111111111111111111111111111111111112"

// Client is the REST client for the Jupiter swap aggregator. It covers the
// three calls the bot needs: quoting a route, building the serialized swap
// transaction for a quote, and spot price lookups.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Jupiter API client.
//
// baseURL is the API root, e.g. "https://quote-api.jup.ag/v6". apiKey may be
// empty; the public endpoints accept unauthenticated requests at lower rate
// limits.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Quote asks Jupiter for the best route swapping req.AmountRaw of the input
// mint into the output mint. The returned Quote retains the raw response
// body because SwapTx must send it back unmodified.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	params := url.Values{}
	params.Set("inputMint", req.InputMint)
	params.Set("outputMint", req.OutputMint)
	params.Set("amount", strconv.FormatUint(req.AmountRaw, 10))
	params.Set("slippageBps", strconv.Itoa(req.SlippageBps))

	body, err := c.doGet(ctx, "/quote?"+params.Encode())
	if err != nil {
		return Quote{}, fmt.Errorf("jupiter: quote %s -> %s: %w", req.InputMint, req.OutputMint, err)
	}

	var api apiQuote
	if err := json.Unmarshal(body, &api); err != nil {
		return Quote{}, fmt.Errorf("jupiter: decode quote: %w", err)
	}

	quote, err := api.toQuote(body)
	if err != nil {
		return Quote{}, fmt.Errorf("jupiter: quote %s -> %s: %w", req.InputMint, req.OutputMint, err)
	}

	return quote, nil
}

// SwapTx builds the serialized transaction executing a quote and returns it
// base64 encoded, unsigned. The wallet must sign it before submission.
func (c *Client) SwapTx(ctx context.Context, quote Quote, userPublicKey string, priorityFeeLamports uint64) (string, error) {
	payload := map[string]any{
		"quoteResponse":    json.RawMessage(quote.Raw),
		"userPublicKey":    userPublicKey,
		"wrapAndUnwrapSol": true,
	}
	if priorityFeeLamports > 0 {
		payload["prioritizationFeeLamports"] = priorityFeeLamports
	}

	body, err := c.doPost(ctx, "/swap", payload)
	if err != nil {
		return "", fmt.Errorf("jupiter: build swap: %w", err)
	}

	var resp struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("jupiter: decode swap response: %w", err)
	}
	if resp.SwapTransaction == "" {
		return "", fmt.Errorf("jupiter: swap response carries no transaction")
	}

	return resp.SwapTransaction, nil
}

// Price returns the spot price in SOL for each requested mint. Mints the
// aggregator does not know are absent from the result map.
func (c *Client) Price(ctx context.Context, mints ...string) (map[string]float64, error) {
	if len(mints) == 0 {
		return map[string]float64{}, nil
	}

	params := url.Values{}
	params.Set("ids", strings.Join(mints, ","))
	params.Set("vsToken", WSOLMint)

	body, err := c.doGet(ctx, "/price?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("jupiter: price lookup: %w", err)
	}

	var resp apiPriceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("jupiter: decode price response: %w", err)
	}

	prices := make(map[string]float64, len(resp.Data))
	for id, entry := range resp.Data {
		prices[id] = entry.Price
	}

	return prices, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) doPost(ctx context.Context, path string, payload any) ([]byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
