package discord

import (
	"context"
	"fmt"
	"time"

	"polyburg/clients/notifier"
	"polyburg/config"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	colorBuy  = 0x2ECC71
	colorSell = 0xE74C3C
)

// DiscordClient sends alerts to a Discord channel.
// Implements notifier.Notifier interface.
type DiscordClient struct {
	logger    *zap.Logger
	session   *discordgo.Session
	channelID string
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	dc := &DiscordClient{
		logger:    logger,
		channelID: cfg.Discord.ChannelID,
	}

	token := cfg.Discord.BotToken
	if token == "" || dc.channelID == "" {
		logger.Info("DISCORD_BOT_TOKEN or DISCORD_ALERT_CHANNEL_ID not set, Discord alerts disabled")
		return dc
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return dc
	}
	dc.session = session

	logger.Info("discord alerts enabled", zap.String("channelID", dc.channelID))
	return dc
}

// Enabled reports whether a session was created from the configured token.
func (dc *DiscordClient) Enabled() bool {
	return dc.session != nil
}

// SendTradeAlert posts the alert as an embed.
// Implements notifier.Notifier interface.
func (dc *DiscordClient) SendTradeAlert(ctx context.Context, alert notifier.TradeAlert) error {
	if dc.session == nil {
		return nil
	}

	embed := buildTradeEmbed(alert)
	if _, err := dc.session.ChannelMessageSendEmbed(dc.channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}

	dc.logger.Debug("sent discord trade alert",
		zap.String("wallet", alert.Wallet),
		zap.String("trade", alert.TradeID),
	)
	return nil
}

func buildTradeEmbed(alert notifier.TradeAlert) *discordgo.MessageEmbed {
	color := colorBuy
	if alert.Side == "sell" {
		color = colorSell
	}

	market := alert.MarketTitle
	if market == "" {
		market = "Market " + alert.MarketID
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Wallet", Value: shortAddress(alert.Wallet), Inline: true},
		{Name: "Side", Value: alert.Side, Inline: true},
		{Name: "Outcome", Value: orNA(alert.Outcome), Inline: true},
		{Name: "Size", Value: decimal.NewFromFloat(alert.Size).StringFixed(2), Inline: true},
		{Name: "Price", Value: decimal.NewFromFloat(alert.Price).StringFixed(3), Inline: true},
		{Name: "Notional", Value: "$" + decimal.NewFromFloat(alert.Notional).StringFixed(2), Inline: true},
	}

	return &discordgo.MessageEmbed{
		Title:       "Large trade",
		Description: fmt.Sprintf("**%s**\n%s %s", market, alert.Wallet, alert.Summary()),
		Color:       color,
		Fields:      fields,
		Footer:      &discordgo.MessageEmbedFooter{Text: "polyburg"},
		Timestamp:   ts.UTC().Format(time.RFC3339),
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}

// Close closes the Discord session.
func (dc *DiscordClient) Close() error {
	if dc.session != nil {
		return dc.session.Close()
	}
	return nil
}
