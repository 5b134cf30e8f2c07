package clients

import (
	"polyhawk/clients/discord"
	"polyhawk/clients/notifier"
	"polyhawk/clients/polymarketapi"
	"polyhawk/clients/resend"
	"polyhawk/clients/telegram"
	"polyhawk/config"

	"go.uber.org/zap"
)

type Clients struct {
	Logger *zap.Logger

	Polymarket *polymarketapi.PolymarketApiClient
	Telegram   *telegram.TelegramClient
	Email      *resend.ResendClient
	Discord    *discord.DiscordClient
	Notifiers  *notifier.Registry
}

func NewClients(logger *zap.Logger, cfg *config.Config) *Clients {
	telegramClient := telegram.NewTelegramClient(logger, cfg)
	emailClient := resend.NewResendClient(logger, cfg)
	discordClient := discord.NewDiscordClient(logger, cfg)

	// Only configured channels join the registry
	var senders []notifier.Sender
	if telegramClient.IsEnabled() {
		senders = append(senders, telegramClient)
	}
	if emailClient.IsEnabled() {
		senders = append(senders, emailClient)
	}
	if discordClient.IsEnabled() {
		senders = append(senders, discordClient)
	}

	registry := notifier.NewRegistry(senders...)
	logger.Info("notification channels ready", zap.Strings("channels", registry.Channels()))

	return &Clients{
		Logger:     logger,
		Polymarket: polymarketapi.NewPolymarketApiClient(logger, cfg),
		Telegram:   telegramClient,
		Email:      emailClient,
		Discord:    discordClient,
		Notifiers:  registry,
	}
}

// Close shuts down all channel clients.
func (c *Clients) Close() error {
	return c.Notifiers.Close()
}
