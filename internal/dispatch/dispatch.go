package dispatch

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/darkistan/routerbot/internal/notify"
	"github.com/darkistan/routerbot/internal/registry"
	"github.com/darkistan/routerbot/internal/session"
	"github.com/darkistan/routerbot/internal/sshexec"
)

// RegistryLoader re-reads the device registry. Every load is fresh so
// out-of-band edits by an administrator take effect mid-flow.
type RegistryLoader func() (registry.Registry, error)

// Dispatcher advances per-user sessions in response to chat events and
// triggers remote execution at the end of the flow.
type Dispatcher struct {
	LoadRegistry RegistryLoader
	Sessions     *session.Store
	Exec         sshexec.Runner
	Notifier     *notify.Notifier
	Out          Responder
	Logger       *slog.Logger
}

const (
	welcomeText = "I manage scripts on your network devices.\n\n" +
		"Commands:\n" +
		"/run_script - run a script on a device\n" +
		"/id - request access\n" +
		"/help - help"

	helpText = "How it works:\n\n" +
		"1. Send /run_script\n" +
		"2. Pick a device from the list\n" +
		"3. Pick a script\n" +
		"4. Enter the confirmation password\n\n" +
		"No access yet? Send /id to request it."

	accessDeniedText  = "You do not have access to any device. Send /id to request access."
	sessionLostText   = "Your session has expired. Start again with /run_script."
	unknownCmdText    = "Unknown command. Send /help for the list of commands."
	wrongPasswordText = "Wrong confirmation password. Start again with /run_script."
)

// Handle processes one inbound event. It never returns an error: every
// failure becomes a user-visible reply and a log entry, and must not
// take down the event loop for other users.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case Command:
		d.handleCommand(ctx, e)
	case Selection:
		d.handleSelection(ctx, e)
	case Text:
		d.handleText(ctx, e)
	}
}

func (d *Dispatcher) handleCommand(ctx context.Context, e Command) {
	switch e.Name {
	case "start":
		d.reply(ctx, e.ChatID, welcomeText)
		d.Logger.Info("user started interaction", "actor", e.From.ID, "name", e.From.Name)
	case "help":
		d.reply(ctx, e.ChatID, helpText)
	case "id":
		d.handleAccessRequest(ctx, e)
	case "run_script":
		d.handleRunScript(ctx, e)
	default:
		d.reply(ctx, e.ChatID, unknownCmdText)
	}
}

// handleAccessRequest forwards the requester's identity to the admin
// sinks so an administrator can add them to the registry.
func (d *Dispatcher) handleAccessRequest(ctx context.Context, e Command) {
	d.Notifier.Announce(ctx, fmt.Sprintf(
		"Access request\nUser: %s\nID: %s\n\nEdit the device registry to grant access.",
		e.From.Name, e.From.ID,
	))
	d.reply(ctx, e.ChatID, "Your access request was sent to the administrators.")
	d.Logger.Info("access requested", "actor", e.From.ID, "name", e.From.Name)
}

// handleRunScript opens the flow: list accessible devices and move the
// session to AwaitingDevice. An empty list changes nothing.
func (d *Dispatcher) handleRunScript(ctx context.Context, e Command) {
	reg, err := d.LoadRegistry()
	if err != nil {
		d.Logger.Error("registry load failed", "actor", e.From.ID, "error", err)
		d.reply(ctx, e.ChatID, "Device registry is unavailable: "+err.Error())
		return
	}

	devs := reg.Accessible(e.From.ID)
	if len(devs) == 0 {
		d.reply(ctx, e.ChatID, accessDeniedText)
		d.Logger.Info("no accessible devices", "actor", e.From.ID)
		return
	}

	buttons := make([]Button, 0, len(devs))
	for _, dev := range devs {
		buttons = append(buttons, Button{Label: dev.Name, Token: DeviceToken(dev.Name)})
	}

	d.Sessions.Begin(e.From.ID, e.ChatID)
	if _, err := d.Out.ReplyKeyboard(ctx, e.ChatID, "Select a device:", buttons); err != nil {
		d.Logger.Error("device list send failed", "actor", e.From.ID, "error", err)
		d.Sessions.Clear(e.From.ID)
	}
}

func (d *Dispatcher) handleSelection(ctx context.Context, e Selection) {
	switch {
	case IsDeviceToken(e.Token):
		d.handleDeviceSelected(ctx, e)
	case IsScriptToken(e.Token):
		d.handleScriptSelected(ctx, e)
	default:
		d.alert(ctx, e.CallbackID, "Malformed selection.")
	}
}

// handleDeviceSelected re-decodes and re-checks the selection instead
// of trusting the rendered list: the token may be stale or forged.
func (d *Dispatcher) handleDeviceSelected(ctx context.Context, e Selection) {
	name, err := DecodeDeviceToken(e.Token)
	if err != nil {
		d.alert(ctx, e.CallbackID, "Malformed selection.")
		return
	}

	reg, err := d.LoadRegistry()
	if err != nil {
		d.Logger.Error("registry load failed", "actor", e.From.ID, "error", err)
		d.alert(ctx, e.CallbackID, "Device registry is unavailable.")
		return
	}
	if !reg.CanAccess(e.From.ID, name) {
		// Generic denial: do not reveal whether the device exists.
		d.alert(ctx, e.CallbackID, "Access denied.")
		d.Logger.Warn("device selection denied", "actor", e.From.ID, "device", name)
		return
	}

	dev := reg[name]
	if !dev.Actionable() {
		d.alert(ctx, e.CallbackID, "This device has no scripts to run.")
		d.Sessions.Clear(e.From.ID)
		return
	}

	err = d.Sessions.Advance(e.From.ID, session.AwaitingDevice, session.AwaitingScript, func(st *session.State) {
		st.Device = name
	})
	if err != nil {
		d.alertSessionError(ctx, e.CallbackID, err)
		return
	}
	d.ack(ctx, e.CallbackID)

	buttons := make([]Button, 0, len(dev.Scripts))
	for _, script := range dev.Scripts {
		buttons = append(buttons, Button{Label: script, Token: ScriptToken(name, script)})
	}
	if err := d.Out.EditKeyboard(ctx, e.ChatID, e.MessageID, "Select a script for "+name+":", buttons); err != nil {
		d.Logger.Error("script list send failed", "actor", e.From.ID, "error", err)
	}
	d.Logger.Info("device selected", "actor", e.From.ID, "device", name)
}

func (d *Dispatcher) handleScriptSelected(ctx context.Context, e Selection) {
	device, script, err := DecodeScriptToken(e.Token)
	if err != nil {
		d.alert(ctx, e.CallbackID, "Malformed selection.")
		return
	}

	err = d.Sessions.Advance(e.From.ID, session.AwaitingScript, session.AwaitingPassword, func(st *session.State) {
		// A token from an older message could name a different device
		// than the one this session selected; the fresher session wins.
		st.Device = device
		st.Script = script
		st.MessageID = e.MessageID
	})
	if err != nil {
		d.alertSessionError(ctx, e.CallbackID, err)
		return
	}
	d.ack(ctx, e.CallbackID)

	prompt := fmt.Sprintf("Enter the password to run %q on %s:", script, device)
	if err := d.Out.Edit(ctx, e.ChatID, e.MessageID, prompt); err != nil {
		d.Logger.Error("password prompt failed", "actor", e.From.ID, "error", err)
	}
	d.Logger.Info("script selected", "actor", e.From.ID, "device", device, "script", script)
}

// handleText intercepts free text as the password attempt when the
// sender is awaiting the confirmation password; anything else gets a
// terminal hint and no state change.
func (d *Dispatcher) handleText(ctx context.Context, e Text) {
	// Taking the session removes it, so a duplicate of the password
	// message racing this one finds nothing and cannot trigger a
	// second run.
	st, ok := d.Sessions.Take(e.From.ID, session.AwaitingPassword)
	if ok {
		d.handlePassword(ctx, e, st)
		return
	}
	if cur, live := d.Sessions.Get(e.From.ID); live && cur.Phase != session.AwaitingPassword {
		d.reply(ctx, e.ChatID, "Use the buttons above to continue, or restart with /run_script.")
		return
	}
	d.reply(ctx, e.ChatID, sessionLostText)
}

// handlePassword owns the claimed session: the store entry is already
// gone, so every exit path below is terminal for the flow.
func (d *Dispatcher) handlePassword(ctx context.Context, e Text, st session.State) {
	// The message carries a secret; take it out of the chat regardless
	// of whether it matches.
	if err := d.Out.Delete(ctx, e.ChatID, e.MessageID); err != nil {
		d.Logger.Warn("password message delete failed", "actor", e.From.ID, "error", err)
	}

	// Re-fetch the device so a registry edit mid-flow takes effect.
	reg, err := d.LoadRegistry()
	if err != nil {
		d.Logger.Error("registry load failed", "actor", e.From.ID, "error", err)
		d.reply(ctx, e.ChatID, "Device registry is unavailable: "+err.Error())
		return
	}
	dev, ok := reg[st.Device]
	if !ok {
		d.reply(ctx, e.ChatID, "Device is no longer registered.")
		return
	}
	// Access is gated again right before execution: a forged script
	// token, or an access revocation mid-flow, must not reach the
	// device.
	if !reg.CanAccess(e.From.ID, st.Device) {
		d.reply(ctx, e.ChatID, "Access denied.")
		d.Logger.Warn("execution denied", "actor", e.From.ID, "device", st.Device)
		return
	}

	if subtle.ConstantTimeCompare([]byte(e.Body), []byte(dev.ScriptPassword)) != 1 {
		d.reply(ctx, e.ChatID, wrongPasswordText)
		d.Logger.Warn("wrong confirmation password",
			"actor", e.From.ID, "device", st.Device, "script", st.Script)
		return
	}

	statusID, err := d.Out.Reply(ctx, e.ChatID,
		fmt.Sprintf("Running %q on %s...", st.Script, st.Device))
	if err != nil {
		d.Logger.Error("status message failed", "actor", e.From.ID, "error", err)
	}

	res := d.Exec.Run(ctx, dev, st.Script)

	preview := res.Output
	if preview == "" {
		preview = res.Message
	}
	d.Notifier.Execution(ctx, notify.Attempt{
		Time:      time.Now(),
		Actor:     e.From.ID,
		ActorName: e.From.Name,
		Device:    st.Device,
		Script:    st.Script,
		Outcome:   res.Outcome.String(),
		Preview:   notify.Preview(preview),
	})
	d.Logger.Info("script executed",
		"actor", e.From.ID,
		"device", st.Device,
		"script", st.Script,
		"outcome", res.Outcome.String(),
		"attempts", res.Attempts,
	)

	text := resultText(st.Device, st.Script, res)
	if statusID != 0 {
		if err := d.Out.Edit(ctx, e.ChatID, statusID, text); err != nil {
			d.Logger.Error("result edit failed", "actor", e.From.ID, "error", err)
		}
	} else {
		d.reply(ctx, e.ChatID, text)
	}
}

func resultText(device, script string, res sshexec.Result) string {
	if !res.Success() {
		return fmt.Sprintf("Running %q on %s failed.\n%s", script, device, res.Message)
	}
	body := res.Output
	if body == "" {
		body = res.Message
	}
	return fmt.Sprintf("Result of %q on %s:\n\n%s", script, device, body)
}

func (d *Dispatcher) alertSessionError(ctx context.Context, callbackID string, err error) {
	switch {
	case errors.Is(err, session.ErrNoSession):
		d.alert(ctx, callbackID, sessionLostText)
	case errors.Is(err, session.ErrWrongPhase):
		d.alert(ctx, callbackID, "That selection is out of date. Start again with /run_script.")
	default:
		d.alert(ctx, callbackID, "Could not process the selection.")
	}
}

func (d *Dispatcher) reply(ctx context.Context, chatID int64, text string) {
	if _, err := d.Out.Reply(ctx, chatID, text); err != nil {
		d.Logger.Error("reply failed", "chat", chatID, "error", err)
	}
}

func (d *Dispatcher) ack(ctx context.Context, callbackID string) {
	if err := d.Out.Ack(ctx, callbackID); err != nil {
		d.Logger.Error("callback ack failed", "error", err)
	}
}

func (d *Dispatcher) alert(ctx context.Context, callbackID, text string) {
	if err := d.Out.Alert(ctx, callbackID, text); err != nil {
		d.Logger.Error("callback alert failed", "error", err)
	}
}
