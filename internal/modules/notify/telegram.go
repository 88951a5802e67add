// README: Telegram notifier posting kitchen alerts to a staff chat.
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	kinds  map[Kind]bool
}

// NewTelegram only forwards new_order and urgent by default; updates are too chatty for a chat.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &Telegram{
		bot:    bot,
		chatID: chatID,
		kinds:  map[Kind]bool{KindNewOrder: true, KindUrgent: true},
	}, nil
}

func (t *Telegram) Notify(ctx context.Context, n Notification) error {
	if !t.kinds[n.Kind] {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, n.Title())
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
