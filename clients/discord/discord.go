package discord

import (
	"context"
	"fmt"
	"polyhawk/clients/notifier"
	"polyhawk/config"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordClient posts whale alerts to a Discord channel.
// Implements notifier.Sender interface.
type DiscordClient struct {
	logger    *zap.Logger
	session   *discordgo.Session
	channelID string
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, Discord alerts disabled")
		return &DiscordClient{
			logger:    logger,
			channelID: cfg.Discord.ChannelID,
		}
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return &DiscordClient{
			logger:    logger,
			channelID: cfg.Discord.ChannelID,
		}
	}

	logger.Info("discord bot initialized",
		zap.String("channelID", cfg.Discord.ChannelID),
	)

	return &DiscordClient{
		logger:    logger,
		session:   session,
		channelID: cfg.Discord.ChannelID,
	}
}

// IsEnabled returns whether a bot session was created.
func (dc *DiscordClient) IsEnabled() bool {
	return dc.session != nil
}

// Channel implements notifier.Sender.
func (dc *DiscordClient) Channel() string {
	return notifier.ChannelDiscord
}

// Send posts a whale alert embed. destination optionally overrides the
// configured channel ID.
// Implements notifier.Sender interface.
func (dc *DiscordClient) Send(ctx context.Context, destination string, alert notifier.WhaleAlert, test bool) error {
	if dc.session == nil {
		return fmt.Errorf("discord not configured")
	}

	channelID := strings.TrimSpace(destination)
	if channelID == "" {
		channelID = dc.channelID
	}
	if channelID == "" {
		return fmt.Errorf("no discord channel ID")
	}

	embed := buildWhaleEmbed(alert, test)

	_, err := dc.session.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send discord embed: %w", err)
	}

	dc.logger.Info("sent discord whale alert",
		zap.String("market", alert.MarketTitle),
		zap.Float64("amount", alert.Amount),
	)
	return nil
}

func buildWhaleEmbed(alert notifier.WhaleAlert, test bool) *discordgo.MessageEmbed {
	color := 0x2ECC71 // Green for YES
	sideEmoji := "🟢"
	if strings.ToUpper(alert.Side) == "NO" {
		color = 0xE74C3C // Red for NO
		sideEmoji = "🔴"
	}

	title := fmt.Sprintf("🐋 %s Whale Trade", notifier.FormatUSD(alert.Amount))
	if test {
		title += " (test)"
	}

	fields := []*discordgo.MessageEmbedField{
		{
			Name:   "Side",
			Value:  fmt.Sprintf("%s %s @ $%.3f", sideEmoji, alert.Side, alert.Price),
			Inline: true,
		},
		{
			Name:   "Trader",
			Value:  shortAddress(alert.WalletAddress),
			Inline: true,
		},
		{
			Name:   "When",
			Value:  alert.TimeAgo(time.Now()),
			Inline: true,
		},
	}
	if alert.Category != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Category",
			Value:  alert.Category,
			Inline: true,
		})
	}

	description := fmt.Sprintf("**%s**", alert.MarketTitle)
	if alert.MarketURL != "" {
		description = fmt.Sprintf("**[%s](%s)**", alert.MarketTitle, alert.MarketURL)
	}

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Fields:      fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: "polyhawk",
		},
		Timestamp: time.Unix(alert.Timestamp, 0).Format(time.RFC3339),
	}
	if alert.Icon != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: alert.Icon}
	}

	return embed
}

// Close cleans up resources. Implements notifier.Sender interface.
func (dc *DiscordClient) Close() error {
	if dc.session == nil {
		return nil
	}
	return dc.session.Close()
}

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}
