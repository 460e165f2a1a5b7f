// Package notify delivers operator alerts.
package notify

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Notifier sends a short text alert
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// LogNotifier writes alerts to the log only
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a notifier that logs at warn level
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: log.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, message string) error {
	n.logger.Warn().Str("alert", message).Msg("Operator alert")
	return nil
}

// TelegramNotifier broadcasts alerts to a fixed list of chats
type TelegramNotifier struct {
	bot     *tgbotapi.BotAPI
	chatIDs []int64
	logger  zerolog.Logger
}

// NewTelegramNotifier authenticates the bot token against the Telegram API
func NewTelegramNotifier(token string, chatIDs []int64) (*TelegramNotifier, error) {
	return NewTelegramNotifierWithEndpoint(token, tgbotapi.APIEndpoint, chatIDs)
}

// NewTelegramNotifierWithEndpoint is NewTelegramNotifier against a custom API endpoint
func NewTelegramNotifierWithEndpoint(token, endpoint string, chatIDs []int64) (*TelegramNotifier, error) {
	if token == "" {
		return nil, errors.New("telegram bot token is empty")
	}
	if len(chatIDs) == 0 {
		return nil, errors.New("no telegram chat ids configured")
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	return &TelegramNotifier{
		bot:     bot,
		chatIDs: chatIDs,
		logger:  log.With().Str("component", "notify").Str("bot", bot.Self.UserName).Logger(),
	}, nil
}

// Notify sends the message to every chat and reports the chats that failed
func (n *TelegramNotifier) Notify(ctx context.Context, message string) error {
	var errs []error
	for _, chatID := range n.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := n.bot.Send(tgbotapi.NewMessage(chatID, message)); err != nil {
			n.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to send alert")
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}
