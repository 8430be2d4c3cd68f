// Package notify provides notification functionality for the trading application.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ensemble-trader/internal/config"
	"ensemble-trader/internal/logging"
	"ensemble-trader/internal/models"
	"ensemble-trader/internal/performance"
	"ensemble-trader/internal/security"
	"ensemble-trader/internal/store"
	"ensemble-trader/pkg/utils"
)

// SummaryWindow is the number of recent trades the performance summary covers.
const SummaryWindow = 100

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// TradeHistory provides recent trades for the performance summary.
type TradeHistory interface {
	RecentTrades(ctx context.Context, filter store.TradeFilter) ([]models.TradeRecord, error)
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationTrade NotificationType = "trade"
	NotificationError NotificationType = "error"
	NotificationInfo  NotificationType = "info"
)

// NotificationLevel represents the notification level filter.
type NotificationLevel string

const (
	LevelAll        NotificationLevel = "all"
	LevelTradesOnly NotificationLevel = "trades_only"
	LevelErrorsOnly NotificationLevel = "errors_only"
)

// MultiNotifier sends notifications to multiple channels.
type MultiNotifier struct {
	channels []NotificationChannel
	level    NotificationLevel
	history  TradeHistory
	limiter  *performance.RateLimiter
	logger   zerolog.Logger
	mu       sync.RWMutex
}

func formatOptional(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return utils.FormatIndianCurrency(*v)
}

// NewMultiNotifier creates a new MultiNotifier with the given configuration.
// history may be nil, in which case alerts carry no performance summary.
func NewMultiNotifier(cfg config.NotificationConfig, history TradeHistory, logger zerolog.Logger) *MultiNotifier {
	mn := &MultiNotifier{
		channels: make([]NotificationChannel, 0),
		level:    NotificationLevel(cfg.Level),
		history:  history,
		// Discord allows roughly 5 webhook calls per 2 seconds.
		limiter: performance.NewRateLimiter(2, 5),
		logger:  logging.WithComponent(logger, "notify"),
	}

	if mn.level == "" {
		mn.level = LevelAll
	}

	if cfg.Discord.Enabled {
		mn.channels = append(mn.channels, NewDiscordNotifier(cfg.Discord))
	}
	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		mn.channels = append(mn.channels, NewTelegramNotifier(cfg.Telegram))
	}

	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Channels returns the names of enabled channels.
func (mn *MultiNotifier) Channels() []string {
	mn.mu.RLock()
	defer mn.mu.RUnlock()
	names := make([]string, 0, len(mn.channels))
	for _, ch := range mn.channels {
		if ch.IsEnabled() {
			names = append(names, ch.Name())
		}
	}
	return names
}

// shouldSend checks if a notification should be sent based on the level filter.
func (mn *MultiNotifier) shouldSend(notifType NotificationType) bool {
	switch mn.level {
	case LevelTradesOnly:
		return notifType == NotificationTrade
	case LevelErrorsOnly:
		return notifType == NotificationError
	default:
		return true
	}
}

// Send sends a notification to all enabled channels.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !mn.shouldSend(n.Type) {
		return nil
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if !ch.IsEnabled() {
			continue
		}
		if err := mn.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("notification throttled: %w", err)
		}
		if err := ch.Send(ctx, n); err != nil {
			mn.logger.Debug().Err(err).Str("channel", ch.Name()).Msg("Notification failed")
			errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SendTradeAlert announces an executed decision with a summary of recent
// performance.
func (mn *MultiNotifier) SendTradeAlert(ctx context.Context, symbol string, snap models.MarketSnapshot, decision models.Decision, orderID string, mode models.ExecutionMode) error {
	title := fmt.Sprintf("AI trade executed (%s)", mode)
	message := strings.Join([]string{
		"Symbol: " + symbol,
		"Side: " + string(decision.Final),
		"Price: " + utils.FormatIndianCurrency(snap.CurrentPrice),
		"Target: " + formatOptional(decision.TargetPrice),
		"Stop loss: " + formatOptional(decision.StopLoss),
		fmt.Sprintf("Confidence: %.2f", decision.Confidence),
		"Order ID: " + orderID,
		"",
		"--- Performance (recent) ---",
		mn.performanceSummary(ctx),
	}, "\n")

	return mn.Send(ctx, Notification{
		Type:    NotificationTrade,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"side":       decision.Final,
			"price":      snap.CurrentPrice,
			"target":     decision.TargetPrice,
			"stop_loss":  decision.StopLoss,
			"confidence": decision.Confidence,
			"order_id":   orderID,
			"mode":       mode,
		},
	})
}

func (mn *MultiNotifier) performanceSummary(ctx context.Context) string {
	if mn.history == nil {
		return "Performance data unavailable."
	}
	trades, err := mn.history.RecentTrades(ctx, store.TradeFilter{Limit: SummaryWindow})
	if err != nil {
		mn.logger.Debug().Err(err).Msg("Loading trade history failed")
		return "Performance data unavailable."
	}
	return performance.Summarize(trades).String()
}

// SendError sends an error notification.
func (mn *MultiNotifier) SendError(ctx context.Context, err error, errContext string) error {
	return mn.Send(ctx, Notification{
		Type:    NotificationError,
		Title:   "Error: " + errContext,
		Message: err.Error(),
		Data:    map[string]interface{}{"context": errContext},
	})
}

// DiscordNotifier posts notifications to a Discord webhook.
type DiscordNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// discordContentLimit is Discord's maximum message length.
const discordContentLimit = 2000

// NewDiscordNotifier creates a new DiscordNotifier.
func NewDiscordNotifier(cfg config.DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		url:     cfg.WebhookURL,
		enabled: cfg.Enabled && cfg.WebhookURL != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (d *DiscordNotifier) Name() string {
	return "discord"
}

// IsEnabled returns whether the notifier is enabled.
func (d *DiscordNotifier) IsEnabled() bool {
	return d.enabled
}

// Send posts the notification as a plain message.
func (d *DiscordNotifier) Send(ctx context.Context, n Notification) error {
	if !d.enabled {
		return nil
	}

	content := fmt.Sprintf("**%s**\n%s", n.Title, n.Message)
	if r := []rune(content); len(r) > discordContentLimit {
		content = string(r[:discordContentLimit-1]) + "…"
	}

	return postJSON(ctx, d.client, d.url, map[string]interface{}{"content": content}, "discord")
}

// WebhookNotifier sends notifications via HTTP webhook.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// IsEnabled returns whether the notifier is enabled.
func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

// Send sends a notification via webhook.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"type":      n.Type,
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}
	return postJSON(ctx, w.client, w.url, payload, "webhook")
}

// TelegramNotifier sends notifications via Telegram bot.
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	apiBase  string
	client   *http.Client
}

// NewTelegramNotifier creates a new TelegramNotifier.
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		apiBase:  "https://api.telegram.org",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (t *TelegramNotifier) Name() string {
	return "telegram"
}

// IsEnabled returns whether the notifier is enabled.
func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

// Send sends a notification via Telegram.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	if !t.enabled {
		return nil
	}

	// HTML parse mode
	text := fmt.Sprintf("<b>%s</b>\n\n%s", escapeHTML(n.Title), escapeHTML(n.Message))
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	return postJSON(ctx, t.client, url, payload, "telegram")
}

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}, name string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "EnsembleTrader/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return security.RedactError(fmt.Errorf("sending %s: %w", name, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", name, resp.StatusCode)
	}
	return nil
}
