package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	// Clear any env vars that might affect the test
	envVars := []string{
		"STAGE", "GAMMA_API_URL", "DATA_API_URL",
		"POLL_INTERVAL", "MIN_TRADE_VALUE", "TRADE_BATCH_COUNT", "TRADE_PAGE_SIZE",
		"MAX_ALERTS_PER_CYCLE", "ALERT_HISTORY_LIMIT", "EVENT_FETCH_LIMIT",
		"EVENT_CACHE_TTL", "LOOKUP_TIMEOUT", "LOOKUP_WORKERS", "NOTIFY_CONCURRENCY",
		"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "RESEND_API_KEY", "EMAIL_FROM",
		"DISCORD_BOT_TOKEN", "DISCORD_CHANNEL_ID", "DATABASE_URL",
		"SERVER_ENABLED", "PORT", "CRON_SECRET",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}

	cfg := Load()

	if cfg.IsProd {
		t.Error("expected IsProd to be false by default")
	}

	if cfg.Polymarket.GammaAPIURL != "https://gamma-api.polymarket.com" {
		t.Errorf("unexpected gamma API URL: %s", cfg.Polymarket.GammaAPIURL)
	}
	if cfg.Polymarket.DataAPIURL != "https://data-api.polymarket.com" {
		t.Errorf("unexpected data API URL: %s", cfg.Polymarket.DataAPIURL)
	}

	if cfg.Whale.PollInterval != 15*time.Second {
		t.Errorf("unexpected poll interval: %v", cfg.Whale.PollInterval)
	}
	if cfg.Whale.MinTradeValue != 5000.0 {
		t.Errorf("unexpected min trade value: %f", cfg.Whale.MinTradeValue)
	}
	if cfg.Whale.BatchCount != 5 {
		t.Errorf("unexpected batch count: %d", cfg.Whale.BatchCount)
	}
	if cfg.Whale.PageSize != 1000 {
		t.Errorf("unexpected page size: %d", cfg.Whale.PageSize)
	}
	if cfg.Whale.MaxAlertsPerCycle != 100 {
		t.Errorf("unexpected max alerts per cycle: %d", cfg.Whale.MaxAlertsPerCycle)
	}
	if cfg.Whale.HistoryLimit != 1000 {
		t.Errorf("unexpected history limit: %d", cfg.Whale.HistoryLimit)
	}
	if cfg.Whale.EventCacheTTL != 1*time.Minute {
		t.Errorf("unexpected event cache TTL: %v", cfg.Whale.EventCacheTTL)
	}

	if cfg.Notify.MaxConcurrent != 4 {
		t.Errorf("unexpected notify concurrency: %d", cfg.Notify.MaxConcurrent)
	}

	if cfg.Telegram.BotToken != "" {
		t.Error("expected empty telegram bot token by default")
	}
	if cfg.Email.APIKey != "" {
		t.Error("expected empty resend API key by default")
	}
	if cfg.Database.URL != "" {
		t.Error("expected empty database URL by default")
	}

	if !cfg.Server.Enabled {
		t.Error("expected server enabled by default")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("unexpected server port: %d", cfg.Server.Port)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	os.Setenv("STAGE", "PROD")
	os.Setenv("MIN_TRADE_VALUE", "2500.5")
	os.Setenv("POLL_INTERVAL", "30s")
	os.Setenv("TRADE_BATCH_COUNT", "3")
	os.Setenv("TELEGRAM_BOT_TOKEN", "tg-token")
	os.Setenv("CRON_SECRET", "hush")
	defer func() {
		for _, v := range []string{"STAGE", "MIN_TRADE_VALUE", "POLL_INTERVAL", "TRADE_BATCH_COUNT", "TELEGRAM_BOT_TOKEN", "CRON_SECRET"} {
			os.Unsetenv(v)
		}
	}()

	cfg := Load()

	if !cfg.IsProd {
		t.Error("expected IsProd true when STAGE=PROD")
	}
	if cfg.Whale.MinTradeValue != 2500.5 {
		t.Errorf("unexpected min trade value: %f", cfg.Whale.MinTradeValue)
	}
	if cfg.Whale.PollInterval != 30*time.Second {
		t.Errorf("unexpected poll interval: %v", cfg.Whale.PollInterval)
	}
	if cfg.Whale.BatchCount != 3 {
		t.Errorf("unexpected batch count: %d", cfg.Whale.BatchCount)
	}
	if cfg.Telegram.BotToken != "tg-token" {
		t.Errorf("unexpected telegram token: %s", cfg.Telegram.BotToken)
	}
	if cfg.Server.CronSecret != "hush" {
		t.Errorf("unexpected cron secret: %s", cfg.Server.CronSecret)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	os.Setenv("MIN_TRADE_VALUE", "not-a-number")
	os.Setenv("POLL_INTERVAL", "soon")
	defer func() {
		os.Unsetenv("MIN_TRADE_VALUE")
		os.Unsetenv("POLL_INTERVAL")
	}()

	cfg := Load()

	if cfg.Whale.MinTradeValue != 5000.0 {
		t.Errorf("expected default min trade value, got: %f", cfg.Whale.MinTradeValue)
	}
	if cfg.Whale.PollInterval != 15*time.Second {
		t.Errorf("expected default poll interval, got: %v", cfg.Whale.PollInterval)
	}
}

func TestClone(t *testing.T) {
	cfg := Defaults()
	cfg.Whale.MinTradeValue = 9999

	clone := cfg.Clone()
	if clone.Whale.MinTradeValue != 9999 {
		t.Errorf("clone lost field value: %f", clone.Whale.MinTradeValue)
	}

	clone.Whale.MinTradeValue = 1
	if cfg.Whale.MinTradeValue != 9999 {
		t.Error("mutating clone affected original")
	}

	var nilCfg *Config
	if nilCfg.Clone() != nil {
		t.Error("expected nil clone of nil config")
	}
}
