package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentMsg struct {
	event   string
	title   string
	message string
}

type fakeSender struct {
	name string
	err  error

	mu   sync.Mutex
	sent []sentMsg
}

func (f *fakeSender) Send(_ context.Context, event, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMsg{event: event, title: title, message: message})
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestNotifierFiltersEvents(t *testing.T) {
	sender := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{sender}, []string{EventPositionOpened, EventEmergencyStop}, testLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, EventPositionOpened, "Position Opened", "PUMP/SOL"))
	require.NoError(t, n.Notify(ctx, EventExecutionFailed, "Execution Failed", "swap timeout"))
	require.NoError(t, n.Notify(ctx, EventEmergencyStop, "Emergency Stop", "daily loss limit"))

	assert.Equal(t, 2, sender.count(), "unlisted events are filtered out")
	assert.Equal(t, EventPositionOpened, sender.sent[0].event)
	assert.Equal(t, EventEmergencyStop, sender.sent[1].event)

	require.NoError(t, n.NotifyAll(ctx, "Operator Ping", "bypasses the filter"))
	assert.Equal(t, 3, sender.count())
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	sender := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventRiskRejected, "Risk Rejected", "score 0.9"))
	assert.Equal(t, 1, sender.count())
}

func TestNotifierAggregatesSenderErrors(t *testing.T) {
	bad := &fakeSender{name: "telegram", err: errors.New("api down")}
	good := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), EventError, "Close Failed", "sell order rejected")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	assert.Equal(t, 1, good.count(), "one failing sender does not block the rest")
}

func TestTelegramSenderPlainText(t *testing.T) {
	var (
		mu      sync.Mutex
		gotPath string
		gotBody map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewTelegramSender("123:abc", "-1000")
	sender.baseURL = srv.URL

	err := sender.Send(context.Background(), EventPositionOpened,
		"Position Opened", "PUMP/SOL entry at 0.000000032 (mint TokenM1nt_With_Underscores)")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/bot123:abc/sendMessage", gotPath)
	assert.Equal(t, "-1000", gotBody["chat_id"])
	assert.True(t, strings.HasSuffix(gotBody["text"],
		"Position Opened\nPUMP/SOL entry at 0.000000032 (mint TokenM1nt_With_Underscores)"))
	_, hasParseMode := gotBody["parse_mode"]
	assert.False(t, hasParseMode, "plain text keeps mint addresses from breaking the parse")
}

func TestTelegramSenderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	sender := NewTelegramSender("123:abc", "-1000")
	sender.baseURL = srv.URL

	err := sender.Send(context.Background(), EventError, "Oops", "details")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
}

func TestDiscordSenderEmbed(t *testing.T) {
	var (
		mu      sync.Mutex
		gotBody struct {
			Embeds []discordEmbed `json:"embeds"`
		}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewDiscordSender(srv.URL)
	err := sender.Send(context.Background(), EventEmergencyStop,
		"Emergency Stop", "daily loss limit breached")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, gotBody.Embeds, 1)
	assert.Equal(t, "Emergency Stop", gotBody.Embeds[0].Title)
	assert.Equal(t, "daily loss limit breached", gotBody.Embeds[0].Description)
	assert.Equal(t, 0xE74C3C, gotBody.Embeds[0].Color, "stop alerts render red")
}
