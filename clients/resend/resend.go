package resend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"polyhawk/clients/notifier"
	"polyhawk/config"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultAPIBaseURL = "https://api.resend.com"

// ResendClient sends whale alert emails through the Resend API.
// Implements notifier.Sender interface.
type ResendClient struct {
	logger     *zap.Logger
	apiKey     string
	from       string
	apiBaseURL string
	client     *http.Client
}

func NewResendClient(logger *zap.Logger, cfg *config.Config) *ResendClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	key := cfg.Email.APIKey
	if key == "" {
		logger.Warn("RESEND_API_KEY not set, email alerts disabled")
		return &ResendClient{
			logger:     logger,
			from:       cfg.Email.FromAddress,
			apiBaseURL: defaultAPIBaseURL,
		}
	}

	logger.Info("resend email client initialized",
		zap.String("from", cfg.Email.FromAddress),
	)

	return &ResendClient{
		logger:     logger,
		apiKey:     key,
		from:       cfg.Email.FromAddress,
		apiBaseURL: defaultAPIBaseURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// IsEnabled returns whether an API key is configured.
func (rc *ResendClient) IsEnabled() bool {
	return rc.apiKey != ""
}

// Channel implements notifier.Sender.
func (rc *ResendClient) Channel() string {
	return notifier.ChannelEmail
}

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Send delivers a whale alert email. destination is the recipient address.
// Implements notifier.Sender interface.
func (rc *ResendClient) Send(ctx context.Context, destination string, alert notifier.WhaleAlert, test bool) error {
	if rc.apiKey == "" {
		return fmt.Errorf("resend not configured")
	}

	to := strings.TrimSpace(destination)
	if to == "" {
		return fmt.Errorf("no recipient address")
	}

	subject := fmt.Sprintf("🐋 Whale Alert: %s on %s", notifier.FormatUSD(alert.Amount), alert.MarketTitle)
	if test {
		subject = "🐋 Whale Alert test: your subscription works"
	}

	payload := emailRequest{
		From:    rc.from,
		To:      []string{to},
		Subject: subject,
		HTML:    buildAlertHTML(alert, test),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rc.apiBaseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+rc.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := rc.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("resend status=%d body=%s", resp.StatusCode, string(respBody))
	}

	rc.logger.Info("sent whale alert email",
		zap.String("to", to),
		zap.String("market", alert.MarketTitle),
		zap.Float64("amount", alert.Amount),
	)
	return nil
}

func buildAlertHTML(alert notifier.WhaleAlert, test bool) string {
	var sb strings.Builder

	sideColor := "#2ECC71"
	if strings.ToUpper(alert.Side) == "NO" {
		sideColor = "#E74C3C"
	}

	sb.WriteString(`<div style="font-family:sans-serif;max-width:520px">`)
	if test {
		sb.WriteString(`<p>This is a test notification. Your whale alert subscription is active.</p>`)
	}
	sb.WriteString(fmt.Sprintf(`<h2>🐋 %s whale trade</h2>`, notifier.FormatUSD(alert.Amount)))
	sb.WriteString(fmt.Sprintf(`<p><strong>%s</strong></p>`, html.EscapeString(alert.MarketTitle)))
	sb.WriteString(`<ul>`)
	sb.WriteString(fmt.Sprintf(`<li>Side: <span style="color:%s;font-weight:bold">%s</span> @ $%.3f</li>`, sideColor, html.EscapeString(alert.Side), alert.Price))
	sb.WriteString(fmt.Sprintf(`<li>Trader: %s</li>`, html.EscapeString(alert.WalletAddress)))
	sb.WriteString(fmt.Sprintf(`<li>When: %s</li>`, alert.TimeAgo(time.Now())))
	if alert.Category != "" {
		sb.WriteString(fmt.Sprintf(`<li>Category: %s</li>`, html.EscapeString(alert.Category)))
	}
	sb.WriteString(`</ul>`)
	if alert.MarketURL != "" {
		sb.WriteString(fmt.Sprintf(`<p><a href="%s">View market on Polymarket</a></p>`, alert.MarketURL))
	}
	sb.WriteString(`</div>`)

	return sb.String()
}

// Close cleans up resources. Implements notifier.Sender interface.
func (rc *ResendClient) Close() error {
	return nil
}
