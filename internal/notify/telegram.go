package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// eventEmoji prefixes each Telegram message so alerts are scannable on a phone.
var eventEmoji = map[string]string{
	EventPositionOpened:  "\U0001F3AF", // direct hit
	EventPositionClosed:  "\U0001F4B0", // money bag
	EventEmergencyStop:   "\U0001F6D1", // stop sign
	EventExecutionFailed: "❌",     // cross mark
	EventRiskRejected:    "⚠️",
	EventError:           "❗",
}

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat
// ID. It uses a default HTTP client with a 10-second timeout.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:   token,
		chatID:  chatID,
		baseURL: "https://api.telegram.org",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts a message to the configured Telegram chat using the sendMessage
// API. Messages go out as plain text: token mints and signal reasons routinely
// contain Markdown control characters that would otherwise fail the parse and
// swallow the alert.
func (t *TelegramSender) Send(ctx context.Context, event, title, message string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)

	text := fmt.Sprintf("%s %s\n%s", emojiFor(event), title, message)

	payload := map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}

func emojiFor(event string) string {
	if e, ok := eventEmoji[event]; ok {
		return e
	}
	return "\U0001F514" // bell
}
