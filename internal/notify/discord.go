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

// Discord embed colors per event severity.
var eventColor = map[string]int{
	EventPositionOpened:  0x2ECC71, // green
	EventPositionClosed:  0x3498DB, // blue
	EventEmergencyStop:   0xE74C3C, // red
	EventExecutionFailed: 0xE74C3C,
	EventRiskRejected:    0xE67E22, // orange
	EventError:           0xE74C3C,
}

// DiscordSender delivers notifications via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL. It uses a
// default HTTP client with a 10-second timeout.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

// Send posts the notification to the Discord webhook as a single embed,
// color-coded by event severity.
func (d *DiscordSender) Send(ctx context.Context, event, title, message string) error {
	payload := map[string]any{
		"embeds": []discordEmbed{{
			Title:       title,
			Description: message,
			Color:       colorFor(event),
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// Discord returns 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}

func colorFor(event string) int {
	if c, ok := eventColor[event]; ok {
		return c
	}
	return 0x95A5A6 // gray
}
