package telegram

import (
	"context"
	"fmt"

	"futuresDesk/internal/domain"
	"futuresDesk/internal/ports"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// sender is the part of tgbotapi.BotAPI the notifier needs.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier implements ports.Notifier with a Telegram bot. Accounts without a chat id,
// and every account when no bot is configured, only get a log line.
type Notifier struct {
	bot    sender
	logger ports.Logger
}

// NewNotifier authorizes the bot for token. An empty token yields a log-only notifier.
func NewNotifier(token string, logger ports.Logger) (*Notifier, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for telegram notifier")
	}
	if token == "" {
		logger.Warn(context.Background(), "TELEGRAM_BOT_TOKEN not set, owner notifications are logged only")
		return &Notifier{logger: logger}, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("%w: telegram bot: %w", ports.ErrConfiguration, err)
	}
	logger.Info(context.Background(), "Telegram bot authorized", map[string]interface{}{"bot": bot.Self.UserName})
	return &Notifier{bot: bot, logger: logger}, nil
}

func newWithSender(bot sender, logger ports.Logger) *Notifier {
	return &Notifier{bot: bot, logger: logger}
}

// Notify sends message to the account owner's chat.
func (n *Notifier) Notify(ctx context.Context, account domain.Account, message string) error {
	fields := map[string]interface{}{"accountID": account.ID}
	if n.bot == nil || account.ChatID == 0 {
		n.logger.Info(ctx, "Notify: "+message, fields)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(account.ChatID, message)
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error(ctx, err, "Notify: Telegram send failed", fields)
		return fmt.Errorf("telegram notify %s: %w", account.ID, err)
	}
	return nil
}
