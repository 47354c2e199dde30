// Package notify fans execution audit records out to the configured
// administrator sinks. Delivery is best-effort: one failing sink is
// logged and never blocks the others, or the reply to the user who
// triggered the run.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Attempt is the audit record emitted for every execution attempt,
// success or failure. It is ephemeral from the notifier's point of
// view; sinks that want durability record it themselves.
type Attempt struct {
	ID        string
	Time      time.Time
	Actor     string // chat identity used for access control
	ActorName string // display name, informational only
	Device    string
	Script    string
	Outcome   string
	Preview   string // first part of the output or error message
}

// PreviewLimit bounds how much of the execution output is carried in
// the audit record.
const PreviewLimit = 100

// Preview truncates s for inclusion in an Attempt.
func Preview(s string) string {
	runes := []rune(s)
	if len(runes) <= PreviewLimit {
		return s
	}
	return string(runes[:PreviewLimit]) + "..."
}

// Text renders the attempt as a plain-text admin message.
func (a Attempt) Text() string {
	msg := fmt.Sprintf(
		"Script execution report\nTime: %s\nUser: %s (%s)\nDevice: %s\nScript: %s\nOutcome: %s",
		a.Time.Format("2006-01-02 15:04:05"), a.ActorName, a.Actor, a.Device, a.Script, a.Outcome,
	)
	if a.Preview != "" {
		msg += "\nResult: " + a.Preview
	}
	return msg
}

// Sink is one administrator-facing destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// AuditSink is a sink that also records the structured attempt, not
// just its rendered text.
type AuditSink interface {
	Sink
	Record(ctx context.Context, a Attempt) error
}

// Notifier delivers to every sink independently.
type Notifier struct {
	sinks  []Sink
	logger *slog.Logger
}

// New creates a Notifier over the given sinks.
func New(logger *slog.Logger, sinks ...Sink) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{sinks: sinks, logger: logger}
}

// Sinks reports how many sinks are configured.
func (n *Notifier) Sinks() int { return len(n.sinks) }

// Announce sends a free-form text to all sinks (access requests,
// operational notices).
func (n *Notifier) Announce(ctx context.Context, text string) {
	for _, s := range n.sinks {
		if err := s.Send(ctx, text); err != nil {
			n.logger.Error("notification delivery failed", "sink", s.Name(), "error", err)
		}
	}
}

// Execution delivers one audit record to all sinks. Structured sinks
// get the record itself; plain sinks get the rendered text.
func (n *Notifier) Execution(ctx context.Context, a Attempt) {
	for _, s := range n.sinks {
		var err error
		if as, ok := s.(AuditSink); ok {
			err = as.Record(ctx, a)
		} else {
			err = s.Send(ctx, a.Text())
		}
		if err != nil {
			n.logger.Error("audit delivery failed",
				"sink", s.Name(),
				"device", a.Device,
				"script", a.Script,
				"error", err,
			)
		}
	}
}

// LogSink writes audit records to the process log. It is always
// configured so every execution leaves at least one trace.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) Name() string { return "log" }

func (l LogSink) Send(ctx context.Context, text string) error {
	l.logger().Info("admin notification", "text", text)
	return nil
}

// Record logs the structured attempt fields.
func (l LogSink) Record(ctx context.Context, a Attempt) error {
	l.logger().Info("script execution",
		"actor", a.Actor,
		"actor_name", a.ActorName,
		"device", a.Device,
		"script", a.Script,
		"outcome", a.Outcome,
	)
	return nil
}

func (l LogSink) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}
