// Package ai calls an external chat-completion service for an advisory
// second opinion on trade signals. The executor treats it as optional: any
// failure here degrades the pipeline to rule-based risk checks.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sniperlabs/sniperbot/internal/domain"
)

const defaultModel = "mistral-large-latest"

// Client talks to a Mistral-compatible chat completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client for the given endpoint, e.g. "https://api.mistral.ai".
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "ai_advisor")),
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *chatRespFmt  `json:"response_format,omitempty"`
	Messages       []chatMessage `json:"messages"`
}

type chatRespFmt struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// recommendationPayload is the JSON the model is instructed to return.
type recommendationPayload struct {
	Action        string   `json:"action"`
	Confidence    float64  `json:"confidence"`
	RiskScore     float64  `json:"risk_score"`
	Rationale     string   `json:"rationale"`
	TargetPrice   *float64 `json:"target_price"`
	StopLossPrice *float64 `json:"stop_loss_price"`
}

// Analyze asks the model for a verdict on the signal given the current
// portfolio. The caller decides what to do when an error is returned; the
// executor logs it and proceeds rule-based.
func (c *Client) Analyze(ctx context.Context, sig domain.TradeSignal, portfolio domain.Portfolio) (*domain.AIRecommendation, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("ai: base URL not configured")
	}

	reqBody := chatRequest{
		Model:          c.model,
		Temperature:    0.3,
		ResponseFormat: &chatRespFmt{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "user", Content: buildPrompt(sig, portfolio)},
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("ai: marshal request: %w", err)
	}

	url := c.baseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ai: completion request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkHTTPStatus(resp); err != nil {
		return nil, fmt.Errorf("ai: completion request: %w", err)
	}

	var completion chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("ai: decode response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("ai: response carries no choices")
	}

	rec, err := parseRecommendation(completion.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("advisory verdict",
		slog.String("signal_id", sig.ID),
		slog.String("action", rec.Action),
		slog.Float64("confidence", rec.Confidence),
		slog.Float64("risk_score", rec.RiskScore),
	)
	return rec, nil
}

// buildPrompt renders the signal and portfolio into the analysis request.
// The model is instructed to answer with a single JSON object.
func buildPrompt(sig domain.TradeSignal, portfolio domain.Portfolio) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert crypto trading AI. Analyze the provided data and give a JSON recommendation.\n\n")
	fmt.Fprintf(&b, "Signal: %s %s %s\n", sig.Strategy, sig.Side, sig.Symbol)
	fmt.Fprintf(&b, "Token mint: %s\n", sig.TokenMint)
	fmt.Fprintf(&b, "Price: %.9f SOL\n", sig.Price)
	fmt.Fprintf(&b, "Size: %.4f\n", sig.Size)
	fmt.Fprintf(&b, "Signal strength: %.2f\n", sig.Strength)
	if sig.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", sig.Reason)
	}
	for k, v := range sig.Metadata {
		fmt.Fprintf(&b, "%s: %s\n", k, v)
	}
	fmt.Fprintf(&b, "\nPortfolio:\n")
	fmt.Fprintf(&b, "- Total Value: %.4f SOL\n", portfolio.TotalValue)
	fmt.Fprintf(&b, "- Available: %.4f SOL\n", portfolio.AvailableBalance)
	fmt.Fprintf(&b, "- Open Positions: %d\n", len(portfolio.Positions))
	fmt.Fprintf(&b, "- Daily PnL: %.4f SOL\n", portfolio.DailyPnL)
	fmt.Fprintf(&b, "- Max Drawdown: %.2f%%\n", portfolio.MaxDrawdown*100)
	fmt.Fprintf(&b, "\nRespond with JSON only:\n")
	fmt.Fprintf(&b, `{"action": "BUY|SELL|HOLD|REJECT", "confidence": 0.85, "risk_score": 0.4, "rationale": "Clear explanation", "target_price": 0.001234, "stop_loss_price": 0.001000}`)
	return b.String()
}

// parseRecommendation extracts and validates the model's JSON verdict.
// Models occasionally wrap the object in prose, so the parse starts at the
// first brace and ends at the last.
func parseRecommendation(content string) (*domain.AIRecommendation, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("ai: response carries no JSON object")
	}

	var p recommendationPayload
	if err := json.Unmarshal([]byte(content[start:end+1]), &p); err != nil {
		return nil, fmt.Errorf("ai: parse recommendation: %w", err)
	}

	action := strings.ToUpper(strings.TrimSpace(p.Action))
	if action == "NO_ACTION" {
		action = domain.AIActionReject
	}
	switch action {
	case domain.AIActionBuy, domain.AIActionSell, domain.AIActionHold, domain.AIActionReject:
	default:
		return nil, fmt.Errorf("ai: unknown action %q", p.Action)
	}

	return &domain.AIRecommendation{
		Action:        action,
		Confidence:    p.Confidence,
		RiskScore:     p.RiskScore,
		Rationale:     p.Rationale,
		TargetPrice:   p.TargetPrice,
		StopLossPrice: p.StopLossPrice,
	}, nil
}

// checkHTTPStatus maps HTTP errors to domain errors.
func checkHTTPStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrUnauthorized
	case http.StatusTooManyRequests:
		return domain.ErrRateLimited
	default:
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
}
