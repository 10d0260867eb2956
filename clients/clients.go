package clients

import (
	"polyburg/clients/discord"
	"polyburg/clients/notifier"
	"polyburg/clients/polymarketapi"
	"polyburg/clients/telegram"
	"polyburg/config"

	"go.uber.org/zap"
)

type Clients struct {
	Logger *zap.Logger

	Discord    *discord.DiscordClient
	Telegram   *telegram.TelegramClient
	Notifier   notifier.Notifier // Combined notifier for all channels
	Polymarket *polymarketapi.PolymarketApiClient
}

func NewClients(logger *zap.Logger, cfg *config.Config) *Clients {
	if logger == nil {
		logger = zap.NewNop()
	}

	discordClient := discord.NewDiscordClient(logger, cfg)
	telegramClient := telegram.NewTelegramClient(logger, cfg)

	return &Clients{
		Logger:     logger,
		Discord:    discordClient,
		Telegram:   telegramClient,
		Notifier:   notifier.NewMultiNotifier(discordClient, telegramClient),
		Polymarket: polymarketapi.NewPolymarketApiClient(logger, cfg),
	}
}

// Close releases the alert channels.
func (c *Clients) Close() error {
	return c.Notifier.Close()
}
