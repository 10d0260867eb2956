package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"polyburg/clients/notifier"
	"polyburg/config"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramClient sends alerts to a Telegram chat.
// Implements notifier.Notifier interface.
type TelegramClient struct {
	logger     *zap.Logger
	botToken   string
	chatID     string
	endpoint   string
	httpClient *http.Client

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	tc := &TelegramClient{
		logger:     logger,
		botToken:   cfg.Telegram.BotToken,
		chatID:     cfg.Telegram.ChatID,
		endpoint:   tgbotapi.APIEndpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}

	if !tc.Enabled() {
		logger.Warn("TELEGRAM_BOT_TOKEN or TELEGRAM_ALERT_CHAT_ID not set, Telegram alerts disabled")
		return tc
	}

	logger.Info("telegram alerts enabled", zap.String("chatID", tc.chatID))
	return tc
}

// Enabled reports whether both credentials are present.
func (tc *TelegramClient) Enabled() bool {
	return tc.botToken != "" && tc.chatID != ""
}

// SendTradeAlert sends a large trade alert.
// Implements notifier.Notifier interface.
func (tc *TelegramClient) SendTradeAlert(ctx context.Context, alert notifier.TradeAlert) error {
	if !tc.Enabled() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	bot, err := tc.botAPI()
	if err != nil {
		return err
	}

	msg := tc.newMessage(buildAlertMessage(alert))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}

	tc.logger.Debug("sent telegram trade alert",
		zap.String("wallet", alert.Wallet),
		zap.String("trade", alert.TradeID),
	)
	return nil
}

// botAPI connects lazily so that a Telegram outage at startup does not
// disable alerts for the whole process. A failed connect is retried on the
// next alert.
func (tc *TelegramClient) botAPI() (*tgbotapi.BotAPI, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.bot != nil {
		return tc.bot, nil
	}

	bot, err := tgbotapi.NewBotAPIWithClient(tc.botToken, tc.endpoint, tc.httpClient)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	tc.bot = bot
	return bot, nil
}

// newMessage addresses numeric chat ids directly and anything else as a
// channel username.
func (tc *TelegramClient) newMessage(text string) tgbotapi.MessageConfig {
	if id, err := strconv.ParseInt(tc.chatID, 10, 64); err == nil {
		return tgbotapi.NewMessage(id, text)
	}
	return tgbotapi.NewMessageToChannel(tc.chatID, text)
}

func buildAlertMessage(alert notifier.TradeAlert) string {
	return "*" + escapeMarkdown(alert.Wallet) + "* " + escapeMarkdown(alert.Summary())
}

func escapeMarkdown(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, s)
}

// Close releases nothing; the bot API holds no persistent connection.
func (tc *TelegramClient) Close() error {
	return nil
}
