// Package notify sends due-review reminders over Telegram.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Telegram sends reminders to a single configured chat.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
	log    *zap.Logger
}

// NewTelegram creates a notifier for the given bot token and chat.
func NewTelegram(token string, chatID int64, log *zap.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %v", err)
	}
	return &Telegram{api: api, chatID: chatID, log: log}, nil
}

// SendDueReminder tells the user how many points are waiting for review.
func (t *Telegram) SendDueReminder(count int) error {
	text := fmt.Sprintf("You have %d knowledge point(s) due for review.", count)
	if count == 1 {
		text = "You have 1 knowledge point due for review."
	}

	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send reminder: %v", err)
	}

	if t.log != nil {
		t.log.Debug("sent due reminder", zap.Int("count", count))
	}
	return nil
}
