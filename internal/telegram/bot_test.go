package telegram

import (
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkistan/routerbot/internal/dispatch"
)

func TestTranslate_Command(t *testing.T) {
	update := tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: 5,
			Text:      "/run_script@routerbot",
			Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 21}},
			From:      &tgbotapi.User{ID: 1001, UserName: "alice"},
			Chat:      &tgbotapi.Chat{ID: 42},
		},
	}

	ev, ok := translate(update)
	require.True(t, ok)
	cmd, isCmd := ev.(dispatch.Command)
	require.True(t, isCmd)
	assert.Equal(t, "run_script", cmd.Name, "bot mention suffix stripped")
	assert.Equal(t, "1001", cmd.From.ID)
	assert.Equal(t, "alice", cmd.From.Name)
	assert.Equal(t, int64(42), cmd.ChatID)
}

func TestTranslate_Text(t *testing.T) {
	update := tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: 6,
			Text:      "secret-password",
			From:      &tgbotapi.User{ID: 1001, FirstName: "Олег", LastName: "К."},
			Chat:      &tgbotapi.Chat{ID: 42},
		},
	}

	ev, ok := translate(update)
	require.True(t, ok)
	txt, isText := ev.(dispatch.Text)
	require.True(t, isText)
	assert.Equal(t, "secret-password", txt.Body)
	assert.Equal(t, 6, txt.MessageID)
	assert.Equal(t, "Олег К.", txt.From.Name, "falls back to first/last name")
}

func TestTranslate_CallbackQuery(t *testing.T) {
	update := tgbotapi.Update{
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:   "cb-7",
			Data: dispatch.DeviceToken("office-gw"),
			From: &tgbotapi.User{ID: 1001, UserName: "alice"},
			Message: &tgbotapi.Message{
				MessageID: 3,
				Chat:      &tgbotapi.Chat{ID: 42},
			},
		},
	}

	ev, ok := translate(update)
	require.True(t, ok)
	sel, isSel := ev.(dispatch.Selection)
	require.True(t, isSel)
	assert.Equal(t, "cb-7", sel.CallbackID)
	assert.Equal(t, 3, sel.MessageID)

	device, err := dispatch.DecodeDeviceToken(sel.Token)
	require.NoError(t, err)
	assert.Equal(t, "office-gw", device)
}

func TestTranslate_EmptyUpdateIgnored(t *testing.T) {
	_, ok := translate(tgbotapi.Update{})
	assert.False(t, ok)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short"))

	exact := strings.Repeat("a", maxMessageLen)
	assert.Equal(t, exact, truncate(exact))

	long := strings.Repeat("б", maxMessageLen+1)
	got := truncate(long)
	assert.Len(t, []rune(got), maxMessageLen)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestKeyboard(t *testing.T) {
	kb := keyboard([]dispatch.Button{
		{Label: "office-gw", Token: "d:abc"},
		{Label: "branch-gw", Token: "d:def"},
	})

	require.Len(t, kb.InlineKeyboard, 2, "one row per button")
	assert.Equal(t, "office-gw", kb.InlineKeyboard[0][0].Text)
	require.NotNil(t, kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "d:abc", *kb.InlineKeyboard[0][0].CallbackData)
}
