// Package dispatch routes inbound chat events through the per-user
// session state machine and into the execution client. It knows
// nothing about the transport: events arrive as the types below and
// replies go out through Responder.
package dispatch

import "context"

// User identifies the actor behind an event. ID is the opaque chat
// identity used for access control and session keying; Name is
// display-only.
type User struct {
	ID   string
	Name string
}

// Event is one inbound chat event.
type Event interface {
	event()
}

// Command is a slash command, name without the leading slash.
type Command struct {
	Name   string
	From   User
	ChatID int64
}

// Selection is a button press carrying a selection token.
type Selection struct {
	Token      string
	CallbackID string
	From       User
	ChatID     int64
	MessageID  int
}

// Text is a free-form message. It only drives the state machine while
// the sender is awaiting the confirmation password.
type Text struct {
	Body      string
	From      User
	ChatID    int64
	MessageID int
}

func (Command) event()   {}
func (Selection) event() {}
func (Text) event()      {}

// Button is one selectable item offered to the user.
type Button struct {
	Label string
	Token string
}

// Responder renders replies back to the chat surface. Message
// identifiers returned by the Reply methods are opaque handles for
// later edits.
type Responder interface {
	Reply(ctx context.Context, chatID int64, text string) (messageID int, err error)
	ReplyKeyboard(ctx context.Context, chatID int64, text string, buttons []Button) (messageID int, err error)
	Edit(ctx context.Context, chatID int64, messageID int, text string) error
	EditKeyboard(ctx context.Context, chatID int64, messageID int, text string, buttons []Button) error
	Delete(ctx context.Context, chatID int64, messageID int) error

	// Ack answers a callback (button press) silently; Alert answers it
	// with a popup instead of posting into the chat. The chat surface
	// accepts exactly one answer per callback, so each selection must
	// end in exactly one Ack or Alert.
	Ack(ctx context.Context, callbackID string) error
	Alert(ctx context.Context, callbackID, text string) error
}
