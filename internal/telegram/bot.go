// Package telegram adapts the Telegram Bot API to the dispatcher's
// abstract event and responder types. Everything transport-specific
// (long polling, inline keyboards, message length limits) stays here.
package telegram

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/darkistan/routerbot/internal/dispatch"
)

// maxMessageLen is Telegram's hard cap on message text length.
const maxMessageLen = 4096

// Bot is the user-facing Telegram surface. It implements
// dispatch.Responder.
type Bot struct {
	api    *tgbotapi.BotAPI
	logger *slog.Logger
}

// New authenticates against the Bot API with the given token.
func New(token string, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{api: api, logger: logger}, nil
}

// Username returns the bot account's username.
func (b *Bot) Username() string { return b.api.Self.UserName }

// Run long-polls for updates and feeds them to the dispatcher until
// ctx is cancelled. Each update is handled in its own goroutine so a
// slow SSH run for one user never blocks other users' events;
// per-identity consistency is the session store's job.
func (b *Bot) Run(ctx context.Context, d *dispatch.Dispatcher, pollTimeout time.Duration) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = int(pollTimeout.Seconds())
	updates := b.api.GetUpdatesChan(cfg)

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		ev, ok := translate(update)
		if !ok {
			continue
		}
		// Callback queries are answered by the dispatcher, once per
		// query: Ack on success, Alert on the denial paths. Answering
		// here as well would consume the query's single allowed answer.
		go d.Handle(ctx, ev)
	}
}

// translate maps a Telegram update to a dispatcher event.
func translate(update tgbotapi.Update) (dispatch.Event, bool) {
	switch {
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		if cq.Message == nil {
			return nil, false
		}
		return dispatch.Selection{
			Token:      cq.Data,
			CallbackID: cq.ID,
			From:       userFrom(cq.From),
			ChatID:     cq.Message.Chat.ID,
			MessageID:  cq.Message.MessageID,
		}, true
	case update.Message != nil:
		m := update.Message
		if m.IsCommand() {
			return dispatch.Command{
				Name:   m.Command(),
				From:   userFrom(m.From),
				ChatID: m.Chat.ID,
			}, true
		}
		return dispatch.Text{
			Body:      m.Text,
			From:      userFrom(m.From),
			ChatID:    m.Chat.ID,
			MessageID: m.MessageID,
		}, true
	default:
		return nil, false
	}
}

func userFrom(u *tgbotapi.User) dispatch.User {
	if u == nil {
		return dispatch.User{}
	}
	name := u.UserName
	if name == "" {
		name = strings.TrimSpace(u.FirstName + " " + u.LastName)
	}
	return dispatch.User{
		ID:   strconv.FormatInt(u.ID, 10),
		Name: name,
	}
}

// truncate keeps text within Telegram's message length cap.
func truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= maxMessageLen {
		return text
	}
	return string(runes[:maxMessageLen-3]) + "..."
}

func keyboard(buttons []dispatch.Button) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, btn := range buttons {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btn.Label, btn.Token),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// --- dispatch.Responder ---

func (b *Bot) Reply(ctx context.Context, chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, truncate(text))
	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (b *Bot) ReplyKeyboard(ctx context.Context, chatID int64, text string, buttons []dispatch.Button) (int, error) {
	msg := tgbotapi.NewMessage(chatID, truncate(text))
	msg.ReplyMarkup = keyboard(buttons)
	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (b *Bot) Edit(ctx context.Context, chatID int64, messageID int, text string) error {
	_, err := b.api.Send(tgbotapi.NewEditMessageText(chatID, messageID, truncate(text)))
	return err
}

func (b *Bot) EditKeyboard(ctx context.Context, chatID int64, messageID int, text string, buttons []dispatch.Button) error {
	_, err := b.api.Send(tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, truncate(text), keyboard(buttons)))
	return err
}

func (b *Bot) Delete(ctx context.Context, chatID int64, messageID int) error {
	_, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return err
}

func (b *Bot) Ack(ctx context.Context, callbackID string) error {
	_, err := b.api.Request(tgbotapi.NewCallback(callbackID, ""))
	return err
}

func (b *Bot) Alert(ctx context.Context, callbackID, text string) error {
	_, err := b.api.Request(tgbotapi.NewCallbackWithAlert(callbackID, text))
	return err
}
