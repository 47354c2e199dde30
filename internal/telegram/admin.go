package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// AdminSink delivers notifications to one administrator chat through
// its own bot account. Each sink authenticates independently, so a
// revoked admin bot token disables only that sink.
type AdminSink struct {
	api    *tgbotapi.BotAPI
	chatID int64
	name   string
}

// NewAdminSink authenticates the admin bot token and binds it to the
// destination chat.
func NewAdminSink(name, token string, chatID int64) (*AdminSink, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("admin sink %s: %w", name, err)
	}
	return &AdminSink{api: api, chatID: chatID, name: name}, nil
}

// Name identifies the sink in delivery-failure logs.
func (s *AdminSink) Name() string { return s.name }

// Send posts the text to the administrator chat.
func (s *AdminSink) Send(ctx context.Context, text string) error {
	_, err := s.api.Send(tgbotapi.NewMessage(s.chatID, truncate(text)))
	return err
}
