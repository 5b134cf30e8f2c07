package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd bool `json:"is_prod"`

	// Polymarket API
	Polymarket PolymarketConfig `json:"polymarket"`

	// Whale alert pipeline
	Whale WhaleConfig `json:"whale"`

	// Notification fan-out
	Notify NotifyConfig `json:"notify"`

	// Telegram
	Telegram TelegramConfig `json:"telegram"`

	// Email (Resend)
	Email EmailConfig `json:"email"`

	// Discord
	Discord DiscordConfig `json:"discord"`

	// Persistence
	Database DatabaseConfig `json:"-"`

	// HTTP API server
	Server ServerConfig `json:"server"`
}

// PolymarketConfig holds Polymarket API configuration.
type PolymarketConfig struct {
	GammaAPIURL string `json:"gamma_api_url"`
	DataAPIURL  string `json:"data_api_url"`
}

// WhaleConfig holds whale alert pipeline configuration.
type WhaleConfig struct {
	PollInterval      time.Duration `json:"poll_interval"`
	MinTradeValue     float64       `json:"min_trade_value"` // Minimum USD notional to qualify as a whale trade
	BatchCount        int           `json:"batch_count"`     // Max trade pages fetched per cycle
	PageSize          int           `json:"page_size"`       // Rows per trade page
	MaxAlertsPerCycle int           `json:"max_alerts_per_cycle"`
	HistoryLimit      int           `json:"history_limit"` // Alert history capacity
	EventFetchLimit   int           `json:"event_fetch_limit"`
	EventCacheTTL     time.Duration `json:"event_cache_ttl"`
	LookupTimeout     time.Duration `json:"lookup_timeout"` // Per fallback market lookup
	LookupWorkers     int           `json:"lookup_workers"`
	PositionCacheTTL  time.Duration `json:"position_cache_ttl"`
}

// NotifyConfig holds notification dispatch configuration.
type NotifyConfig struct {
	MaxConcurrent int `json:"max_concurrent"`
}

// TelegramConfig holds Telegram-related configuration.
type TelegramConfig struct {
	BotToken      string `json:"-"` // Excluded - env var only
	DefaultChatID string `json:"default_chat_id"`
}

// EmailConfig holds Resend email configuration.
type EmailConfig struct {
	APIKey      string `json:"-"` // Excluded - env var only
	FromAddress string `json:"from_address"`
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken  string `json:"-"` // Excluded - env var only
	ChannelID string `json:"channel_id"`
}

// DatabaseConfig holds Postgres configuration. Empty URL disables persistence.
type DatabaseConfig struct {
	URL string `json:"-"`
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	Enabled    bool   `json:"enabled"`
	Port       int    `json:"port"`
	CronSecret string `json:"-"` // Excluded - env var only
}

// Clone creates a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// ToJSON serializes the config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		IsProd: false,
		Polymarket: PolymarketConfig{
			GammaAPIURL: "https://gamma-api.polymarket.com",
			DataAPIURL:  "https://data-api.polymarket.com",
		},
		Whale: WhaleConfig{
			PollInterval:      15 * time.Second,
			MinTradeValue:     5000.0,
			BatchCount:        5,
			PageSize:          1000,
			MaxAlertsPerCycle: 100,
			HistoryLimit:      1000,
			EventFetchLimit:   300,
			EventCacheTTL:     1 * time.Minute,
			LookupTimeout:     5 * time.Second,
			LookupWorkers:     4,
			PositionCacheTTL:  5 * time.Minute,
		},
		Notify: NotifyConfig{
			MaxConcurrent: 4,
		},
		Telegram: TelegramConfig{},
		Email:    EmailConfig{},
		Discord:  DiscordConfig{},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		IsProd: envBool("STAGE", "PROD"),

		Polymarket: PolymarketConfig{
			GammaAPIURL: envString("GAMMA_API_URL", "https://gamma-api.polymarket.com"),
			DataAPIURL:  envString("DATA_API_URL", "https://data-api.polymarket.com"),
		},

		Whale: WhaleConfig{
			PollInterval:      envDuration("POLL_INTERVAL", 15*time.Second),
			MinTradeValue:     envFloat("MIN_TRADE_VALUE", 5000.0),
			BatchCount:        envInt("TRADE_BATCH_COUNT", 5),
			PageSize:          envInt("TRADE_PAGE_SIZE", 1000),
			MaxAlertsPerCycle: envInt("MAX_ALERTS_PER_CYCLE", 100),
			HistoryLimit:      envInt("ALERT_HISTORY_LIMIT", 1000),
			EventFetchLimit:   envInt("EVENT_FETCH_LIMIT", 300),
			EventCacheTTL:     envDuration("EVENT_CACHE_TTL", 1*time.Minute),
			LookupTimeout:     envDuration("LOOKUP_TIMEOUT", 5*time.Second),
			LookupWorkers:     envInt("LOOKUP_WORKERS", 4),
			PositionCacheTTL:  envDuration("POSITION_CACHE_TTL", 5*time.Minute),
		},

		Notify: NotifyConfig{
			MaxConcurrent: envInt("NOTIFY_CONCURRENCY", 4),
		},

		Telegram: TelegramConfig{
			BotToken:      envString("TELEGRAM_BOT_TOKEN", ""),
			DefaultChatID: envString("TELEGRAM_CHAT_ID", ""),
		},

		Email: EmailConfig{
			APIKey:      envString("RESEND_API_KEY", ""),
			FromAddress: envString("EMAIL_FROM", "PolyHawk Alerts <alerts@polyhawk.app>"),
		},

		Discord: DiscordConfig{
			BotToken:  envString("DISCORD_BOT_TOKEN", ""),
			ChannelID: envString("DISCORD_CHANNEL_ID", ""),
		},

		Database: DatabaseConfig{
			URL: envString("DATABASE_URL", ""),
		},

		Server: ServerConfig{
			Enabled:    envBoolDefault("SERVER_ENABLED", true),
			Port:       envInt("PORT", 8080),
			CronSecret: envString("CRON_SECRET", ""),
		},
	}
}

// Helper functions for parsing environment variables

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}
