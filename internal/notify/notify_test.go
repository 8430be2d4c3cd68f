package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ensemble-trader/internal/config"
	"ensemble-trader/internal/models"
	"ensemble-trader/internal/store"
)

type fakeHistory struct {
	trades []models.TradeRecord
	err    error
	limit  int
}

func (f *fakeHistory) RecentTrades(_ context.Context, filter store.TradeFilter) ([]models.TradeRecord, error) {
	f.limit = filter.Limit
	return f.trades, f.err
}

type captured struct {
	mu     sync.Mutex
	bodies []map[string]interface{}
	paths  []string
}

func (c *captured) server(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.paths = append(c.paths, r.URL.Path)
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

var alertSnap = models.MarketSnapshot{Symbol: "RELIANCE", CurrentPrice: 2456.5}

func alertDecision() models.Decision {
	return models.Decision{
		Final:       models.VoteBuy,
		Confidence:  0.7345,
		TargetPrice: models.Float(2700),
	}
}

func TestSendTradeAlert_Discord(t *testing.T) {
	var c captured
	srv := c.server(t, http.StatusNoContent)

	history := &fakeHistory{trades: []models.TradeRecord{
		{PnL: models.Float(150)},
		{PnL: models.Float(-50)},
		{},
	}}
	mn := NewMultiNotifier(config.NotificationConfig{
		Level:   "trades_only",
		Discord: config.DiscordConfig{Enabled: true, WebhookURL: srv.URL},
	}, history, zerolog.Nop())

	err := mn.SendTradeAlert(context.Background(), "RELIANCE", alertSnap, alertDecision(), "virtual-RELIANCE-1", models.ModeVirtual)
	require.NoError(t, err)
	require.Len(t, c.bodies, 1)

	content, ok := c.bodies[0]["content"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(content, "**AI trade executed (virtual)**\n"), content)
	for _, want := range []string{
		"Symbol: RELIANCE",
		"Side: BUY",
		"Price: ₹2,456.50",
		"Target: ₹2,700.00",
		"Stop loss: n/a",
		"Confidence: 0.73",
		"Order ID: virtual-RELIANCE-1",
		"Total trades: 3",
		"Realized P&L: 100.00",
		"Win rate: 50.0%",
	} {
		assert.Contains(t, content, want)
	}
	assert.Equal(t, SummaryWindow, history.limit)
}

func TestSendTradeAlert_HistoryUnavailable(t *testing.T) {
	var c captured
	srv := c.server(t, http.StatusOK)

	mn := NewMultiNotifier(config.NotificationConfig{
		Discord: config.DiscordConfig{Enabled: true, WebhookURL: srv.URL},
	}, &fakeHistory{err: errors.New("db locked")}, zerolog.Nop())

	require.NoError(t, mn.SendTradeAlert(context.Background(), "RELIANCE", alertSnap, alertDecision(), "X", models.ModeLive))
	require.Len(t, c.bodies, 1)
	assert.Contains(t, c.bodies[0]["content"], "Performance data unavailable.")

	mn = NewMultiNotifier(config.NotificationConfig{
		Discord: config.DiscordConfig{Enabled: true, WebhookURL: srv.URL},
	}, &fakeHistory{}, zerolog.Nop())
	require.NoError(t, mn.SendTradeAlert(context.Background(), "RELIANCE", alertSnap, alertDecision(), "X", models.ModeLive))
	assert.Contains(t, c.bodies[1]["content"], "No trades yet.")
}

func TestSendTradeAlert_ChannelFailureReported(t *testing.T) {
	var ok, bad captured
	okSrv := ok.server(t, http.StatusOK)
	badSrv := bad.server(t, http.StatusInternalServerError)

	mn := NewMultiNotifier(config.NotificationConfig{
		Discord: config.DiscordConfig{Enabled: true, WebhookURL: badSrv.URL},
		Webhook: config.WebhookConfig{Enabled: true, URL: okSrv.URL},
	}, nil, zerolog.Nop())
	assert.Equal(t, []string{"discord", "webhook"}, mn.Channels())

	err := mn.SendTradeAlert(context.Background(), "INFY", alertSnap, alertDecision(), "1", models.ModePaper)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord returned status 500")

	require.Len(t, ok.bodies, 1)
	assert.Equal(t, "trade", ok.bodies[0]["type"])
	data := ok.bodies[0]["data"].(map[string]interface{})
	assert.Equal(t, "paper", data["mode"])
	assert.Equal(t, "1", data["order_id"])
}

func TestTelegramNotifier(t *testing.T) {
	var c captured
	srv := c.server(t, http.StatusOK)

	tg := NewTelegramNotifier(config.TelegramConfig{Enabled: true, BotToken: "T0K", ChatID: "42"})
	tg.apiBase = srv.URL
	require.True(t, tg.IsEnabled())

	err := tg.Send(context.Background(), Notification{Title: "a<b", Message: "x & y"})
	require.NoError(t, err)
	assert.Equal(t, "/botT0K/sendMessage", c.paths[0])
	assert.Equal(t, "42", c.bodies[0]["chat_id"])
	assert.Equal(t, "<b>a&lt;b</b>\n\nx &amp; y", c.bodies[0]["text"])

	assert.False(t, NewTelegramNotifier(config.TelegramConfig{Enabled: true, BotToken: "T0K"}).IsEnabled())
}

func TestTelegramNotifier_ErrorHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	token := "123456:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw"
	tg := NewTelegramNotifier(config.TelegramConfig{Enabled: true, BotToken: token, ChatID: "42"})
	tg.apiBase = srv.URL

	err := tg.Send(context.Background(), Notification{Title: "t", Message: "m"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), token)
	assert.Contains(t, err.Error(), "sending telegram")
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	mn := NewMultiNotifier(config.NotificationConfig{Level: "trades_only"}, nil, zerolog.Nop())
	mn.AddChannel(NewTerminalNotifier(&buf, false))

	require.NoError(t, mn.SendError(context.Background(), errors.New("boom"), "watch"))
	assert.Empty(t, buf.String())

	mn = NewMultiNotifier(config.NotificationConfig{Level: "errors_only"}, nil, zerolog.Nop())
	mn.AddChannel(NewTerminalNotifier(&buf, false))
	require.NoError(t, mn.SendError(context.Background(), errors.New("boom"), "watch"))
	assert.Contains(t, buf.String(), "ERROR | Error: watch\n    boom")
}

func TestDiscordNotifier_Truncates(t *testing.T) {
	var c captured
	srv := c.server(t, http.StatusOK)
	d := NewDiscordNotifier(config.DiscordConfig{Enabled: true, WebhookURL: srv.URL})

	require.NoError(t, d.Send(context.Background(), Notification{Title: "t", Message: strings.Repeat("x", 3000)}))
	content := c.bodies[0]["content"].(string)
	assert.Equal(t, discordContentLimit, len([]rune(content)))

	assert.False(t, NewDiscordNotifier(config.DiscordConfig{Enabled: true}).IsEnabled())
}

func TestFormatNotification(t *testing.T) {
	n := Notification{
		Type:      NotificationTrade,
		Title:     "AI trade executed (virtual)",
		Message:   "Symbol: INFY\n\nSide: BUY",
		Timestamp: time.Date(2024, 1, 1, 9, 30, 5, 0, time.UTC),
	}
	assert.Equal(t, "[09:30:05] 💹 TRADE | AI trade executed (virtual)\n    Symbol: INFY\n    Side: BUY", FormatNotification(n, false))
}
