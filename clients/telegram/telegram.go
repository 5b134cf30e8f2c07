package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"polyhawk/clients/notifier"
	"polyhawk/config"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultAPIBaseURL = "https://api.telegram.org"

// TelegramClient sends whale alerts to Telegram chats.
// Implements notifier.Sender interface.
type TelegramClient struct {
	logger        *zap.Logger
	botToken      string
	defaultChatID string
	apiBaseURL    string
	client        *http.Client
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	token := cfg.Telegram.BotToken
	if token == "" {
		logger.Warn("TELEGRAM_BOT_TOKEN not set, Telegram alerts disabled")
		return &TelegramClient{
			logger:        logger,
			defaultChatID: cfg.Telegram.DefaultChatID,
			apiBaseURL:    defaultAPIBaseURL,
		}
	}

	logger.Info("telegram bot initialized",
		zap.String("defaultChatID", cfg.Telegram.DefaultChatID),
	)

	return &TelegramClient{
		logger:        logger,
		botToken:      token,
		defaultChatID: cfg.Telegram.DefaultChatID,
		apiBaseURL:    defaultAPIBaseURL,
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

// IsEnabled returns whether a bot token is configured.
func (tc *TelegramClient) IsEnabled() bool {
	return tc.botToken != ""
}

// Channel implements notifier.Sender.
func (tc *TelegramClient) Channel() string {
	return notifier.ChannelTelegram
}

// Send delivers a whale alert to a chat. destination is a chat ID; empty
// falls back to the configured default chat.
// Implements notifier.Sender interface.
func (tc *TelegramClient) Send(ctx context.Context, destination string, alert notifier.WhaleAlert, test bool) error {
	if tc.botToken == "" {
		return fmt.Errorf("telegram not configured")
	}

	chatID := strings.TrimSpace(destination)
	if chatID == "" {
		chatID = tc.defaultChatID
	}
	if chatID == "" {
		return fmt.Errorf("no telegram chat ID")
	}

	message := buildAlertMessage(alert, test)

	if err := tc.sendMessage(ctx, chatID, message, alert.MarketURL); err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}

	tc.logger.Info("sent telegram whale alert",
		zap.String("chatID", chatID),
		zap.String("market", alert.MarketTitle),
		zap.Float64("amount", alert.Amount),
	)
	return nil
}

func buildAlertMessage(alert notifier.WhaleAlert, test bool) string {
	var sb strings.Builder

	title := "🐋 Whale Alert"
	if test {
		title = "🐋 Whale Alert (test)"
	}
	sb.WriteString(fmt.Sprintf("*%s*\n\n", escapeMarkdown(title)))

	if alert.MarketURL != "" {
		sb.WriteString(fmt.Sprintf("*Market:* [%s](%s)\n", escapeMarkdown(alert.MarketTitle), alert.MarketURL))
	} else {
		sb.WriteString(fmt.Sprintf("*Market:* %s\n", escapeMarkdown(alert.MarketTitle)))
	}
	if alert.Category != "" {
		sb.WriteString(fmt.Sprintf("*Category:* %s\n", escapeMarkdown(alert.Category)))
	}

	sideEmoji := "🟢"
	if strings.ToUpper(alert.Side) == "NO" {
		sideEmoji = "🔴"
	}
	sb.WriteString(fmt.Sprintf("*Side:* %s %s\n", sideEmoji, alert.Side))
	sb.WriteString(fmt.Sprintf("*Amount:* %s @ $%.3f\n", notifier.FormatUSD(alert.Amount), alert.Price))
	sb.WriteString(fmt.Sprintf("*Trader:* %s\n", escapeMarkdown(shortAddress(alert.WalletAddress))))
	sb.WriteString(fmt.Sprintf("*When:* %s\n", alert.TimeAgo(time.Now())))

	sb.WriteString("\n_polyhawk_")

	return sb.String()
}

func (tc *TelegramClient) sendMessage(ctx context.Context, chatID, text, marketURL string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", tc.apiBaseURL, tc.botToken)

	payload := map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	if marketURL != "" {
		payload["reply_markup"] = map[string]interface{}{
			"inline_keyboard": [][]map[string]string{
				{{"text": "View Market", "url": marketURL}},
			},
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// Close cleans up resources. Implements notifier.Sender interface.
func (tc *TelegramClient) Close() error {
	return nil
}

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}

// escapeMarkdown escapes special characters for Telegram Markdown.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
